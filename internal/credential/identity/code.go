package identity

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"blockcreds/internal/credential/models"
	dErrors "blockcreds/pkg/domain-errors"
)

const (
	// MaxCodeLength bounds accepted codes, including legacy ones.
	MaxCodeLength = 64

	codePrefix = "BC"
)

// GenerateCode draws 64 bits from r and formats them as BC-XXXXXXXX-XXXXXXXX.
// A nil reader uses crypto/rand.
func GenerateCode(r io.Reader) (models.VerificationCode, error) {
	if r == nil {
		r = rand.Reader
	}
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return "", fmt.Errorf("read code entropy: %w", err)
	}
	hi := binary.BigEndian.Uint32(buf[:4])
	lo := binary.BigEndian.Uint32(buf[4:])
	return models.VerificationCode(fmt.Sprintf("%s-%08X-%08X", codePrefix, hi, lo)), nil
}

// NormalizeCode is the single normalization point for codes arriving from
// users, links or the chain. It trims whitespace, strips one leading 0x/0X
// and validates the remaining characters. Engine-issued codes are hex and
// are upper-cased; legacy codes keep their case.
func NormalizeCode(raw string) (models.VerificationCode, error) {
	code := strings.TrimSpace(raw)
	if len(code) >= 2 && code[0] == '0' && (code[1] == 'x' || code[1] == 'X') {
		code = code[2:]
	}
	if code == "" {
		return "", dErrors.New(dErrors.CodeValidation, "verification code is required")
	}
	if len(code) > MaxCodeLength {
		return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("verification code must be at most %d characters", MaxCodeLength))
	}
	for _, c := range code {
		if !isCodeChar(c) {
			return "", dErrors.New(dErrors.CodeValidation, "verification code contains invalid characters")
		}
	}
	if isGeneratedShape(code) {
		code = strings.ToUpper(code)
	}
	return models.VerificationCode(code), nil
}

// isGeneratedShape reports whether code reads as BC-XXXXXXXX-XXXXXXXX in
// any letter case.
func isGeneratedShape(code string) bool {
	const groupLen = 8
	if len(code) != len(codePrefix)+2*(groupLen+1) || !strings.EqualFold(code[:len(codePrefix)], codePrefix) {
		return false
	}
	rest := code[len(codePrefix):]
	for i, c := range rest {
		if i%(groupLen+1) == 0 {
			if c != '-' {
				return false
			}
			continue
		}
		if !isHexChar(c) {
			return false
		}
	}
	return true
}

func isHexChar(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isCodeChar(c rune) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '_'
}

// ExistsFunc reports whether a code is already taken.
type ExistsFunc func(ctx context.Context, code models.VerificationCode) (bool, error)

// CodeGenerator produces codes that are not yet known to the store. The
// store's unique constraint remains the final arbiter; this only keeps
// obvious collisions away from the chain.
type CodeGenerator struct {
	rand        io.Reader
	exists      ExistsFunc
	maxAttempts int
}

// NewCodeGenerator builds a generator. A nil exists func skips the
// pre-check.
func NewCodeGenerator(r io.Reader, exists ExistsFunc, maxAttempts int) *CodeGenerator {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &CodeGenerator{rand: r, exists: exists, maxAttempts: maxAttempts}
}

// Next returns a fresh code or CodeCodeGenerationExhausted once every
// attempt collided.
func (g *CodeGenerator) Next(ctx context.Context) (models.VerificationCode, error) {
	for range g.maxAttempts {
		code, err := GenerateCode(g.rand)
		if err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate verification code")
		}
		if g.exists == nil {
			return code, nil
		}
		taken, err := g.exists(ctx, code)
		if err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to check verification code")
		}
		if !taken {
			return code, nil
		}
	}
	return "", dErrors.New(dErrors.CodeCodeGenerationExhausted, "could not generate a unique verification code")
}
