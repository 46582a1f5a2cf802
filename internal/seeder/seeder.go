// Package seeder populates a local deployment with demo people and
// credentials so the verification endpoints have something to answer.
package seeder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"blockcreds/internal/credential/models"
	id "blockcreds/pkg/domain"
)

// Directory registers demo people.
type Directory interface {
	Register(ctx context.Context, ref id.UserID, email, displayName string) error
	Resolve(ctx context.Context, email string) (id.UserID, error)
}

// Issuer issues and annotates demo credentials.
type Issuer interface {
	Issue(ctx context.Context, req models.IssueRequest) (*models.IssueResult, error)
	Annotate(ctx context.Context, caller id.UserID, credID models.CredentialID, a models.Annotation) (*models.Credential, error)
}

// Seeded reports what SeedAll created.
type Seeded struct {
	Issuer id.UserID
	Codes  map[string]models.VerificationCode // demo label to code
}

// Seeder populates stores with demo data
type Seeder struct {
	directory Directory
	issuer    Issuer
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a new seeder
func New(directory Directory, issuer Issuer, logger *slog.Logger) *Seeder {
	return &Seeder{
		directory: directory,
		issuer:    issuer,
		logger:    logger,
		now:       time.Now,
	}
}

// SeedAll registers a demo registrar and issues one credential in each
// interesting state: valid, expired, revoked and suspended.
func (s *Seeder) SeedAll(ctx context.Context) (*Seeded, error) {
	s.logger.Info("seeding demo data...")

	registrar := id.NewUserID()
	if err := s.directory.Register(ctx, registrar, "registrar@demo.university.edu", "Demo University Registrar"); err != nil {
		return nil, fmt.Errorf("failed to seed issuer: %w", err)
	}

	now := s.now().UTC().Truncate(24 * time.Hour)
	expired := now.AddDate(0, -1, 0)

	demo := []struct {
		label      string
		title      string
		email      string
		issueDate  time.Time
		expiryDate *time.Time
		annotate   models.Status
	}{
		{"valid", "BSc Computer Science", "alice@example.com", now.AddDate(-1, 0, 0), nil, ""},
		{"expired", "First Aid Certificate", "bob@example.com", now.AddDate(-3, 0, 0), &expired, ""},
		{"revoked", "MSc Data Engineering", "charlie@example.com", now.AddDate(-2, 0, 0), nil, models.StatusRevoked},
		{"suspended", "Professional Licence", "diana@example.com", now.AddDate(0, -6, 0), nil, models.StatusSuspended},
	}

	seeded := &Seeded{Issuer: registrar, Codes: make(map[string]models.VerificationCode, len(demo))}
	for _, d := range demo {
		recipient, err := s.directory.Resolve(ctx, d.email)
		if err != nil {
			return nil, fmt.Errorf("failed to seed recipient %s: %w", d.email, err)
		}

		res, err := s.issuer.Issue(ctx, models.IssueRequest{
			Content: models.Content{
				Title:        d.title,
				IssuerRef:    registrar,
				RecipientRef: recipient,
				IssueDate:    d.issueDate,
				ExpiryDate:   d.expiryDate,
				Fields:       map[string]any{"demo": true},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to seed %s credential: %w", d.label, err)
		}

		if d.annotate != "" {
			if _, err := s.issuer.Annotate(ctx, registrar, res.ID, models.Annotation{Status: d.annotate}); err != nil {
				return nil, fmt.Errorf("failed to annotate %s credential: %w", d.label, err)
			}
		}
		seeded.Codes[d.label] = res.VerificationCode

		s.logger.Info("seeded demo credential",
			"label", d.label,
			"verification_code", res.VerificationCode.String(),
		)
	}

	s.logger.Info("demo data seeded successfully",
		"issuer_ref", registrar.String(),
		"credentials", len(seeded.Codes),
	)
	return seeded, nil
}
