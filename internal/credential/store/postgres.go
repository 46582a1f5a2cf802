package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"blockcreds/internal/credential/models"
	id "blockcreds/pkg/domain"
	"blockcreds/pkg/platform/sentinel"
)

// PostgresStore persists credentials in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const credentialColumns = `
	id, verification_code, content_hash, transaction_ref, issuer_ref, recipient_ref,
	title, description, issue_date, expiry_date, fields, reference_image,
	status, on_chain_state, on_chain_checked_at, created_at, updated_at`

func (s *PostgresStore) Insert(ctx context.Context, c *models.Credential) error {
	fields, err := json.Marshal(fieldsOrEmpty(c.Fields))
	if err != nil {
		return fmt.Errorf("marshal credential fields: %w", err)
	}
	query := `INSERT INTO credentials (` + credentialColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`
	_, err = s.db.ExecContext(ctx, query,
		c.ID.String(),
		c.VerificationCode.String(),
		c.ContentHash.String(),
		nullString(c.TransactionRef.String()),
		uuid.UUID(c.IssuerRef),
		uuid.UUID(c.RecipientRef),
		c.Title,
		c.Description,
		c.IssueDate,
		c.ExpiryDate,
		fields,
		c.ReferenceImage,
		string(c.Status),
		string(c.OnChainState),
		c.OnChainCheckedAt,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByCode(ctx context.Context, code models.VerificationCode) (*models.Credential, error) {
	query := `SELECT ` + credentialColumns + `
		FROM credentials
		WHERE verification_code = ANY($1)
		ORDER BY (verification_code = $2) DESC
		LIMIT 1`
	c, err := scanCredential(s.db.QueryRowContext(ctx, query, code.LookupForms(), code.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find credential by code: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, credentialID models.CredentialID) (*models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE id = $1`
	c, err := scanCredential(s.db.QueryRowContext(ctx, query, credentialID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find credential by id: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) Exists(ctx context.Context, code models.VerificationCode) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM credentials WHERE verification_code = ANY($1))`,
		code.LookupForms(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check verification code: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, credentialID models.CredentialID, status models.Status, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET status = $2, updated_at = $3 WHERE id = $1`,
		credentialID.String(), string(status), at,
	)
	if err != nil {
		return fmt.Errorf("update credential status: %w", err)
	}
	return requireOneRow(res)
}

func (s *PostgresStore) UpdateOnChainState(ctx context.Context, credentialID models.CredentialID, state models.OnChainState, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET on_chain_state = $2, on_chain_checked_at = $3 WHERE id = $1`,
		credentialID.String(), string(state), at,
	)
	if err != nil {
		return fmt.Errorf("update on-chain state: %w", err)
	}
	return requireOneRow(res)
}

type credentialRow interface {
	Scan(dest ...any) error
}

func scanCredential(row credentialRow) (*models.Credential, error) {
	var (
		c            models.Credential
		credID, code string
		contentHash  string
		txRef        sql.NullString
		issuerRef    uuid.UUID
		recipientRef uuid.UUID
		description  sql.NullString
		expiry       sql.NullTime
		fields       []byte
		status       string
		chainState   string
		checkedAt    sql.NullTime
	)
	err := row.Scan(&credID, &code, &contentHash, &txRef, &issuerRef, &recipientRef,
		&c.Title, &description, &c.IssueDate, &expiry, &fields, &c.ReferenceImage,
		&status, &chainState, &checkedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	c.ID = models.CredentialID(credID)
	c.VerificationCode = models.VerificationCode(code)
	c.ContentHash = models.ContentHash(contentHash)
	c.TransactionRef = models.TxRef(txRef.String)
	c.IssuerRef = id.UserID(issuerRef)
	c.RecipientRef = id.UserID(recipientRef)
	c.Status = models.Status(status)
	c.OnChainState = models.OnChainState(chainState)
	if description.Valid {
		c.Description = &description.String
	}
	if expiry.Valid {
		c.ExpiryDate = &expiry.Time
	}
	if checkedAt.Valid {
		c.OnChainCheckedAt = &checkedAt.Time
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &c.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal credential fields: %w", err)
		}
	}
	return &c, nil
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func fieldsOrEmpty(fields map[string]any) map[string]any {
	if fields == nil {
		return map[string]any{}
	}
	return fields
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
