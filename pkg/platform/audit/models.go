// Package audit defines the append-only trail of issuance and verification
// decisions. Stores and sinks live in subpackages so callers depend only on
// the Emitter interface.
package audit

import (
	"context"
	"time"

	id "blockcreds/pkg/domain"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time
	Action    Action
	ActorID   id.UserID // nil for public verification
	Subject   string    // credential ID when known
	Code      string    // verification code as presented or assigned
	Decision  string
	Reason    string
	RequestID string
	ClientIP  string // anonymized
	Agent     string
	Details   map[string]string
}

// Action names what happened.
type Action string

const (
	ActionCredentialIssued      Action = "credential_issued"
	ActionCredentialIssueFailed Action = "credential_issue_failed"
	ActionCredentialVerified    Action = "credential_verified"
	ActionBatchVerified         Action = "credential_batch_verified"
	ActionCredentialAnnotated   Action = "credential_annotated"
)

// Category groups actions by retention class.
type Category string

const (
	CategoryIssuance     Category = "issuance"
	CategoryVerification Category = "verification"
)

// Category maps an action to its retention class. Unknown actions are kept
// with issuance records, the longer-lived class.
func (a Action) Category() Category {
	switch a {
	case ActionCredentialVerified, ActionBatchVerified:
		return CategoryVerification
	default:
		return CategoryIssuance
	}
}

// Emitter is satisfied by publisher.Publisher.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// Store persists events. Implementations must be safe for concurrent use.
type Store interface {
	Append(ctx context.Context, event Event) error
}
