package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	id "blockcreds/pkg/domain"
	"blockcreds/pkg/platform/sentinel"
)

// PostgresStore persists directory entries in the people table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// FindOrCreateByEmail inserts the candidate unless the email exists and
// reads back whichever row won, inside one transaction.
func (s *PostgresStore) FindOrCreateByEmail(ctx context.Context, email string, candidate *Person) (*Person, error) {
	if candidate == nil {
		return nil, fmt.Errorf("candidate is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin person upsert tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // rollback after commit is a no-op
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO people (ref, email, display_name, placeholder, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email) DO NOTHING`,
		uuid.UUID(candidate.Ref), email, candidate.DisplayName, candidate.Placeholder, candidate.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert person: %w", err)
	}

	p, err := scanPerson(tx.QueryRowContext(ctx, `
		SELECT ref, email, display_name, placeholder, created_at
		FROM people WHERE email = $1`, email))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit person upsert: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) FindByRef(ctx context.Context, ref id.UserID) (*Person, error) {
	return scanPerson(s.db.QueryRowContext(ctx, `
		SELECT ref, email, display_name, placeholder, created_at
		FROM people WHERE ref = $1`, uuid.UUID(ref)))
}

func (s *PostgresStore) Save(ctx context.Context, p *Person) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO people (ref, email, display_name, placeholder, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (ref) DO UPDATE SET
			email = EXCLUDED.email,
			display_name = EXCLUDED.display_name,
			placeholder = EXCLUDED.placeholder`,
		uuid.UUID(p.Ref), p.Email, p.DisplayName, p.Placeholder, p.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("email already registered: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("save person: %w", err)
	}
	return nil
}

func scanPerson(row *sql.Row) (*Person, error) {
	var (
		ref uuid.UUID
		p   Person
	)
	if err := row.Scan(&ref, &p.Email, &p.DisplayName, &p.Placeholder, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("person not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("scan person: %w", err)
	}
	p.Ref = id.UserID(ref)
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

var _ Store = (*PostgresStore)(nil)
