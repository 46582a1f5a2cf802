//go:build integration

package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"blockcreds/internal/credential/store"
	"blockcreds/pkg/testutil/containers"
)

func TestPostgresStoreContract(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pg := containers.GetManager().GetPostgres(t)
	suite.Run(t, &StoreContractSuite{
		newStore: func() credentialStore {
			if err := pg.TruncateAll(context.Background()); err != nil {
				t.Fatalf("truncate: %v", err)
			}
			return store.NewPostgres(pg.DB)
		},
	})
}
