package store_test

import (
	"context"
	"fmt"
	"time"

	"github.com/stretchr/testify/suite"

	"blockcreds/internal/credential/identity"
	"blockcreds/internal/credential/models"
	"blockcreds/pkg/platform/sentinel"
	"blockcreds/pkg/testutil"
)

type credentialStore interface {
	Insert(ctx context.Context, c *models.Credential) error
	FindByCode(ctx context.Context, code models.VerificationCode) (*models.Credential, error)
	FindByID(ctx context.Context, id models.CredentialID) (*models.Credential, error)
	Exists(ctx context.Context, code models.VerificationCode) (bool, error)
	UpdateStatus(ctx context.Context, id models.CredentialID, status models.Status, at time.Time) error
	UpdateOnChainState(ctx context.Context, id models.CredentialID, state models.OnChainState, at time.Time) error
}

// StoreContractSuite exercises behaviour every store implementation shares.
type StoreContractSuite struct {
	suite.Suite
	newStore func() credentialStore
	store    credentialStore
}

func (s *StoreContractSuite) SetupTest() {
	s.store = s.newStore()
}

func (s *StoreContractSuite) TestRoundTrip() {
	ctx := context.Background()
	expiry := time.Now().UTC().Add(365 * 24 * time.Hour).Truncate(time.Second)
	c := testutil.NewCredentialBuilder().
		WithDescription("").
		WithExpiry(expiry).
		WithFields(map[string]any{
			"grade":   "A",
			"hours":   float64(40),
			"modules": []any{"consensus", "replication"},
			"meta":    map[string]any{"campus": "north"},
		}).
		WithReferenceImage([]byte{0x89, 0x50, 0x4e, 0x47}).
		Build()
	s.Require().NoError(s.store.Insert(ctx, c))

	got, err := s.store.FindByCode(ctx, c.VerificationCode)
	s.Require().NoError(err)
	s.Equal(c.ID, got.ID)
	s.Equal(c.VerificationCode, got.VerificationCode)
	s.Equal(c.ContentHash, got.ContentHash)
	s.Equal(c.TransactionRef, got.TransactionRef)
	s.Equal(c.IssuerRef, got.IssuerRef)
	s.Equal(c.RecipientRef, got.RecipientRef)
	s.Require().NotNil(got.Description)
	s.Equal("", *got.Description)
	s.Require().NotNil(got.ExpiryDate)
	s.True(expiry.Equal(*got.ExpiryDate))
	s.Equal(c.ReferenceImage, got.ReferenceImage)
	s.Equal(models.StatusActive, got.Status)

	intact, err := identity.VerifyContentHash(got.ContentHash, got.Content)
	s.Require().NoError(err)
	s.True(intact, "stored content must hash to the recorded value")

	byID, err := s.store.FindByID(ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(c.VerificationCode, byID.VerificationCode)
}

func (s *StoreContractSuite) TestAbsentOptionalsStayAbsent() {
	ctx := context.Background()
	c := testutil.NewCredentialBuilder().Build()
	s.Require().NoError(s.store.Insert(ctx, c))

	got, err := s.store.FindByID(ctx, c.ID)
	s.Require().NoError(err)
	s.Nil(got.Description)
	s.Nil(got.ExpiryDate)
	s.Empty(got.ReferenceImage)
}

func (s *StoreContractSuite) TestLegacyPrefixedCodeIsFoundByNormalizedCode() {
	ctx := context.Background()
	legacy := testutil.NewCredentialBuilder().WithCode("0xLEGACY42").Build()
	s.Require().NoError(s.store.Insert(ctx, legacy))

	got, err := s.store.FindByCode(ctx, "LEGACY42")
	s.Require().NoError(err)
	s.Equal(legacy.ID, got.ID)

	exists, err := s.store.Exists(ctx, "LEGACY42")
	s.Require().NoError(err)
	s.True(exists)
}

func (s *StoreContractSuite) TestLookupMatchesOnlyLookupForms() {
	ctx := context.Background()
	plain := testutil.NewCredentialBuilder().WithCode("AB12").Build()
	upper := testutil.NewCredentialBuilder().WithCode("0XCD34").Build()
	s.Require().NoError(s.store.Insert(ctx, plain))
	s.Require().NoError(s.store.Insert(ctx, upper))

	got, err := s.store.FindByCode(ctx, "CD34")
	s.Require().NoError(err)
	s.Equal(upper.ID, got.ID, "upper-case legacy prefix is a lookup form")

	for _, query := range []models.VerificationCode{"0x0xAB12", "0xAB12", "0XAB12"} {
		s.Run(string(query), func() {
			_, err := s.store.FindByCode(ctx, query)
			s.ErrorIs(err, sentinel.ErrNotFound, "queries are not normalized by the store")

			exists, err := s.store.Exists(ctx, query)
			s.Require().NoError(err)
			s.False(exists)
		})
	}
}

func (s *StoreContractSuite) TestDuplicateCodeConflicts() {
	ctx := context.Background()
	first := testutil.NewCredentialBuilder().WithCode("AB12").Build()
	s.Require().NoError(s.store.Insert(ctx, first))

	s.Run("same form", func() {
		dup := testutil.NewCredentialBuilder().WithCode("AB12").Build()
		s.ErrorIs(s.store.Insert(ctx, dup), sentinel.ErrConflict)
	})

	s.Run("legacy form of a taken code", func() {
		dup := testutil.NewCredentialBuilder().WithCode("0xAB12").Build()
		s.ErrorIs(s.store.Insert(ctx, dup), sentinel.ErrConflict)
	})

	s.Run("upper-case legacy form of a taken code", func() {
		dup := testutil.NewCredentialBuilder().WithCode("0XAB12").Build()
		s.ErrorIs(s.store.Insert(ctx, dup), sentinel.ErrConflict)
	})
}

func (s *StoreContractSuite) TestConcurrentInsertsOfSameCode() {
	ctx := context.Background()
	const workers = 10

	result := testutil.RunConcurrent(workers, func(int) error {
		return s.store.Insert(ctx, testutil.NewCredentialBuilder().WithCode("RACE-1").Build())
	})

	s.Equal(int32(1), result.Successes)
	s.Equal(int32(workers-1), result.Conflicts)
	s.Zero(result.Errors)
}

func (s *StoreContractSuite) TestNotFound() {
	ctx := context.Background()

	_, err := s.store.FindByCode(ctx, "MISSING")
	s.ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.FindByID(ctx, models.NewCredentialID())
	s.ErrorIs(err, sentinel.ErrNotFound)

	exists, err := s.store.Exists(ctx, "MISSING")
	s.Require().NoError(err)
	s.False(exists)

	s.ErrorIs(s.store.UpdateStatus(ctx, models.NewCredentialID(), models.StatusRevoked, time.Now()), sentinel.ErrNotFound)
	s.ErrorIs(s.store.UpdateOnChainState(ctx, models.NewCredentialID(), models.OnChainValid, time.Now()), sentinel.ErrNotFound)
}

func (s *StoreContractSuite) TestUpdates() {
	ctx := context.Background()
	c := testutil.NewCredentialBuilder().Build()
	s.Require().NoError(s.store.Insert(ctx, c))

	at := time.Now().UTC().Truncate(time.Second)
	s.Require().NoError(s.store.UpdateStatus(ctx, c.ID, models.StatusRevoked, at))
	s.Require().NoError(s.store.UpdateOnChainState(ctx, c.ID, models.OnChainValid, at))

	got, err := s.store.FindByID(ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusRevoked, got.Status)
	s.Equal(models.OnChainValid, got.OnChainState)
	s.Require().NotNil(got.OnChainCheckedAt)
	s.True(at.Equal(*got.OnChainCheckedAt))
	s.True(at.Equal(got.UpdatedAt))
	s.Equal(c.ContentHash, got.ContentHash, "annotations never touch trust-bearing fields")
}

func (s *StoreContractSuite) TestManyCredentials() {
	ctx := context.Background()
	for i := range 5 {
		c := testutil.NewCredentialBuilder().WithCode(models.VerificationCode(fmt.Sprintf("MANY-%d", i))).Build()
		s.Require().NoError(s.store.Insert(ctx, c))
	}
	got, err := s.store.FindByCode(ctx, "MANY-3")
	s.Require().NoError(err)
	s.Equal(models.VerificationCode("MANY-3"), got.VerificationCode)
}
