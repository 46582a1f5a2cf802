package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	id "blockcreds/pkg/domain"
	audit "blockcreds/pkg/platform/audit"

	"github.com/google/uuid"
)

// Store implements audit.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ audit.Store = (*Store)(nil)

// New creates a new PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const eventColumns = `category, timestamp, action, actor_id, subject, code,
	decision, reason, request_id, client_ip, agent, details`

// Append inserts an audit event into the audit_events table.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	details, err := json.Marshal(detailsOrEmpty(event.Details))
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}

	var actorID *uuid.UUID
	if !event.ActorID.IsNil() {
		uid := uuid.UUID(event.ActorID)
		actorID = &uid
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, `+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		uuid.New(),
		string(event.Action.Category()),
		event.Timestamp,
		string(event.Action),
		actorID,
		event.Subject,
		event.Code,
		event.Decision,
		event.Reason,
		event.RequestID,
		event.ClientIP,
		event.Agent,
		details,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByCode returns the trail for one verification code, newest first.
func (s *Store) ListByCode(ctx context.Context, code string) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM audit_events
		WHERE code = $1
		ORDER BY timestamp DESC`, code)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			event    audit.Event
			category string
			action   string
			actorID  *uuid.UUID
			details  []byte
		)
		if err := rows.Scan(&category, &event.Timestamp, &action, &actorID, &event.Subject, &event.Code,
			&event.Decision, &event.Reason, &event.RequestID, &event.ClientIP, &event.Agent, &details); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Action = audit.Action(action)
		if actorID != nil {
			event.ActorID = id.UserID(*actorID)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &event.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

func detailsOrEmpty(d map[string]string) map[string]string {
	if d == nil {
		return map[string]string{}
	}
	return d
}
