package jwttoken

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "blockcreds/pkg/domain"
	dErrors "blockcreds/pkg/domain-errors"
	"blockcreds/pkg/requestcontext"
)

func newTestService() *JWTService {
	return NewJWTService("test-key", "http://localhost:8080", "blockcreds", 15*time.Minute)
}

func TestGenerateAndValidate(t *testing.T) {
	svc := newTestService()
	userID := id.NewUserID()

	token, err := svc.GenerateAccessToken(context.Background(), userID, []string{ScopeIssue})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.UserID)
	assert.Equal(t, []string{ScopeIssue}, claims.Scopes)
	assert.NotEmpty(t, claims.JTI)
}

func TestGenerateRejectsBadInput(t *testing.T) {
	svc := newTestService()

	_, err := svc.GenerateAccessToken(context.Background(), id.UserID{}, []string{ScopeIssue})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = svc.GenerateAccessToken(context.Background(), id.NewUserID(), nil)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestValidateRejections(t *testing.T) {
	svc := newTestService()

	t.Run("expired token", func(t *testing.T) {
		ctx := requestcontext.WithTime(context.Background(), time.Now().Add(-time.Hour))
		token, err := svc.GenerateAccessToken(ctx, id.NewUserID(), []string{ScopeVerify})
		require.NoError(t, err)

		_, err = svc.ValidateToken(token)
		require.Error(t, err)
		assert.Equal(t, "token expired", err.Error())
	})

	t.Run("wrong signing key", func(t *testing.T) {
		other := NewJWTService("other-key", "http://localhost:8080", "blockcreds", time.Minute)
		token, err := other.GenerateAccessToken(context.Background(), id.NewUserID(), []string{ScopeVerify})
		require.NoError(t, err)

		_, err = svc.ValidateToken(token)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("wrong audience", func(t *testing.T) {
		other := NewJWTService("test-key", "http://localhost:8080", "someone-else", time.Minute)
		token, err := other.GenerateAccessToken(context.Background(), id.NewUserID(), []string{ScopeVerify})
		require.NoError(t, err)

		_, err = svc.ValidateToken(token)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("unsigned token", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, AccessTokenClaims{})
		raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = svc.ValidateToken(raw)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}
