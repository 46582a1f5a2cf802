package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"blockcreds/internal/credential/store"
	"blockcreds/pkg/testutil"
)

func TestInMemoryStoreContract(t *testing.T) {
	suite.Run(t, &StoreContractSuite{
		newStore: func() credentialStore { return store.NewInMemoryStore() },
	})
}

func TestInMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryStore()
	c := testutil.NewCredentialBuilder().Build()
	require.NoError(t, s.Insert(ctx, c))

	got, err := s.FindByID(ctx, c.ID)
	require.NoError(t, err)
	got.Title = "tampered"
	got.Fields["course"] = "tampered"

	again, err := s.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Title, again.Title)
	assert.Equal(t, "Distributed Systems", again.Fields["course"])
}
