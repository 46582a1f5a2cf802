//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	id "blockcreds/pkg/domain"
	audit "blockcreds/pkg/platform/audit"
	"blockcreds/pkg/platform/audit/store/postgres"
	"blockcreds/pkg/testutil/containers"

	"github.com/stretchr/testify/suite"
)

type AuditStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *postgres.Store
}

func TestAuditStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(AuditStoreSuite))
}

func (s *AuditStoreSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.store = postgres.New(s.pg.DB)
}

func (s *AuditStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(context.Background(), "audit_events"))
}

func (s *AuditStoreSuite) TestAppendAndListByCode() {
	ctx := context.Background()
	actor := id.NewUserID()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	s.Require().NoError(s.store.Append(ctx, audit.Event{
		Timestamp: base,
		Action:    audit.ActionCredentialIssued,
		ActorID:   actor,
		Code:      "BC-0000000A-0000000B",
		Decision:  "issued",
		Details:   map[string]string{"mode": "engine"},
	}))
	s.Require().NoError(s.store.Append(ctx, audit.Event{
		Timestamp: base.Add(time.Minute),
		Action:    audit.ActionCredentialVerified,
		Code:      "BC-0000000A-0000000B",
		Decision:  "invalid",
		Reason:    "chain_unavailable",
		ClientIP:  "203.0.113.0",
	}))
	s.Require().NoError(s.store.Append(ctx, audit.Event{
		Timestamp: base,
		Action:    audit.ActionCredentialVerified,
		Code:      "BC-FFFFFFFF-FFFFFFFF",
	}))

	events, err := s.store.ListByCode(ctx, "BC-0000000A-0000000B")
	s.Require().NoError(err)
	s.Require().Len(events, 2)

	s.Equal(audit.ActionCredentialVerified, events[0].Action)
	s.True(events[0].ActorID.IsNil())
	s.Equal("chain_unavailable", events[0].Reason)
	s.Equal("203.0.113.0", events[0].ClientIP)

	s.Equal(audit.ActionCredentialIssued, events[1].Action)
	s.Equal(actor, events[1].ActorID)
	s.Equal("engine", events[1].Details["mode"])
	s.True(base.Equal(events[1].Timestamp))
}
