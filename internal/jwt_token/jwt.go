package jwttoken

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	id "blockcreds/pkg/domain"
	dErrors "blockcreds/pkg/domain-errors"
	"blockcreds/pkg/platform/middleware/auth"
	"blockcreds/pkg/requestcontext"
)

// Scopes understood by the credential routes.
const (
	ScopeIssue  = "credentials:issue"
	ScopeVerify = "credentials:verify"
)

// AccessTokenClaims are the claims carried by bearer tokens. The subject is
// the caller's directory reference.
type AccessTokenClaims struct {
	Scope []string `json:"scope"`
	jwt.RegisteredClaims
}

// JWTService mints and validates HS256 bearer tokens.
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
	tokenTTL   time.Duration
}

func NewJWTService(signingKey, issuer, audience string, tokenTTL time.Duration) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		tokenTTL:   tokenTTL,
	}
}

// GenerateAccessToken signs a token for userID carrying the given scopes.
func (s *JWTService) GenerateAccessToken(ctx context.Context, userID id.UserID, scopes []string) (string, error) {
	if userID.IsNil() {
		return "", dErrors.New(dErrors.CodeValidation, "user ID required")
	}
	if len(scopes) == 0 {
		return "", dErrors.New(dErrors.CodeValidation, "scopes cannot be empty")
	}

	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	now := requestcontext.Now(ctx)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessTokenClaims{
		Scope: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        hex.EncodeToString(b),
		},
	})
	return token.SignedString(s.signingKey)
}

// ValidateToken verifies signature, algorithm, expiry, issuer and audience.
func (s *JWTService) ValidateToken(tokenString string) (*auth.JWTClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &AccessTokenClaims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*AccessTokenClaims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}

	return &auth.JWTClaims{
		UserID: claims.Subject,
		Scopes: slices.Clone(claims.Scope),
		JTI:    claims.ID,
	}, nil
}

var _ auth.JWTValidator = (*JWTService)(nil)
