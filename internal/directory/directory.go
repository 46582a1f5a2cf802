// Package directory resolves issuer and recipient references. Unknown
// recipient emails get a placeholder entry so credentials can be issued to
// people who have not signed up yet.
package directory

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	id "blockcreds/pkg/domain"
	dErrors "blockcreds/pkg/domain-errors"
	"blockcreds/pkg/platform/sentinel"
	"blockcreds/pkg/validation"
)

// Person is a directory entry.
type Person struct {
	Ref         id.UserID
	Email       string
	DisplayName string
	Placeholder bool
	CreatedAt   time.Time
}

// Store persists directory entries. FindOrCreateByEmail returns the
// existing entry for email or stores candidate, atomically.
type Store interface {
	FindOrCreateByEmail(ctx context.Context, email string, candidate *Person) (*Person, error)
	FindByRef(ctx context.Context, ref id.UserID) (*Person, error)
	Save(ctx context.Context, p *Person) error
}

// Directory implements the identity resolver consumed by the HTTP layer.
type Directory struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func New(store Store, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Directory{store: store, logger: logger, now: time.Now}
}

// Resolve maps an email to a user reference, creating a placeholder for
// addresses the directory has never seen.
func (d *Directory) Resolve(ctx context.Context, email string) (id.UserID, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return id.UserID{}, err
	}

	candidate := &Person{
		Ref:         id.NewUserID(),
		Email:       normalized,
		DisplayName: localPart(normalized),
		Placeholder: true,
		CreatedAt:   d.now().UTC(),
	}
	p, err := d.store.FindOrCreateByEmail(ctx, normalized, candidate)
	if err != nil {
		return id.UserID{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve recipient")
	}
	if p.Ref == candidate.Ref {
		d.logger.InfoContext(ctx, "placeholder recipient created", "user_ref", p.Ref)
	}
	return p.Ref, nil
}

// Register adds a named entry, used for issuers and by the seeder.
func (d *Directory) Register(ctx context.Context, ref id.UserID, email, displayName string) error {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	if strings.TrimSpace(displayName) == "" {
		displayName = localPart(normalized)
	}
	err = d.store.Save(ctx, &Person{
		Ref:         ref,
		Email:       normalized,
		DisplayName: strings.TrimSpace(displayName),
		CreatedAt:   d.now().UTC(),
	})
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.New(dErrors.CodeConflict, "email is already registered")
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to register person")
	}
	return nil
}

// DisplayName returns a name safe to show verifiers, or "" when the
// reference is unknown or the lookup fails.
func (d *Directory) DisplayName(ctx context.Context, ref id.UserID) string {
	if ref.IsNil() {
		return ""
	}
	p, err := d.store.FindByRef(ctx, ref)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			d.logger.WarnContext(ctx, "display name lookup failed", "user_ref", ref, "error", err)
		}
		return ""
	}
	return p.DisplayName
}

type emailInput struct {
	Email string `json:"email" validate:"required,max=254,email"`
}

// NormalizeEmail lowercases and validates a bare address.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validation.Validate(emailInput{Email: email}); err != nil {
		return "", err
	}
	return email, nil
}

func localPart(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}
