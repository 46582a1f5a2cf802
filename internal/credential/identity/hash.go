package identity

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
	"golang.org/x/text/unicode/norm"

	"blockcreds/internal/credential/models"
	dErrors "blockcreds/pkg/domain-errors"
)

// Algorithm names a content hash digest.
type Algorithm string

const (
	SHA256     Algorithm = "sha256"
	SHA3_256   Algorithm = "sha3-256"
	BLAKE2b256 Algorithm = "blake2b-256"

	DefaultAlgorithm = SHA256
)

// canonicalVersion is bumped whenever the canonical form changes.
const canonicalVersion = 1

func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case SHA256:
		return SHA256, nil
	case SHA3_256:
		return SHA3_256, nil
	case BLAKE2b256:
		return BLAKE2b256, nil
	}
	return "", fmt.Errorf("unsupported content hash algorithm %q", s)
}

func (a Algorithm) newHash() (hash.Hash, error) {
	switch a {
	case SHA256:
		return sha256.New(), nil
	case SHA3_256:
		return sha3.New256(), nil
	case BLAKE2b256:
		return blake2b.New256(nil)
	}
	return nil, fmt.Errorf("unsupported content hash algorithm %q", a)
}

// Canonicalize renders content as deterministic JSON. Object keys are
// sorted, strings are NFC-normalized, timestamps are RFC 3339 in UTC and
// absent optionals become explicit nulls.
func Canonicalize(c models.Content) ([]byte, error) {
	fields, err := canonicalValue(c.Fields)
	if err != nil {
		return nil, err
	}
	doc := map[string]any{
		"v":           canonicalVersion,
		"title":       nfc(c.Title),
		"description": optionalString(c.Description),
		"issuer":      c.IssuerRef.String(),
		"recipient":   c.RecipientRef.String(),
		"issue_date":  canonicalTime(c.IssueDate),
		"expiry_date": optionalTime(c.ExpiryDate),
		"fields":      fields,
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode canonical content: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// ComputeContentHash digests the canonical form of c.
func ComputeContentHash(c models.Content, alg Algorithm) (models.ContentHash, error) {
	if alg == "" {
		alg = DefaultAlgorithm
	}
	h, err := alg.newHash()
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeValidation, "unsupported content hash algorithm")
	}
	data, err := Canonicalize(c)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeValidation, "credential content cannot be canonicalized")
	}
	h.Write(data)
	return models.ContentHash(string(alg) + ":" + hex.EncodeToString(h.Sum(nil))), nil
}

// VerifyContentHash recomputes the hash of c with the algorithm recorded in
// stored and reports whether they match.
func VerifyContentHash(stored models.ContentHash, c models.Content) (bool, error) {
	alg, err := ParseAlgorithm(stored.Algorithm())
	if err != nil {
		return false, err
	}
	got, err := ComputeContentHash(c, alg)
	if err != nil {
		return false, err
	}
	return got == stored, nil
}

func nfc(s string) string {
	return norm.NFC.String(s)
}

func optionalString(s *string) any {
	if s == nil {
		return nil
	}
	return nfc(*s)
}

func canonicalTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func optionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return canonicalTime(*t)
}

// canonicalValue rebuilds custom field values so that map keys and strings
// are normalized before encoding. Keys that collide after NFC are rejected.
func canonicalValue(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return nfc(val), nil
	case bool, float64, float32, int, int32, int64, uint, uint32, uint64, json.Number:
		return val, nil
	case time.Time:
		return canonicalTime(val), nil
	case map[string]any:
		out := make(map[string]any, len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			nk := nfc(k)
			if _, dup := out[nk]; dup {
				return nil, fmt.Errorf("field %q collides after normalization", k)
			}
			cv, err := canonicalValue(val[k])
			if err != nil {
				return nil, err
			}
			out[nk] = cv
		}
		return out, nil
	case map[string]string:
		m := make(map[string]any, len(val))
		for k, s := range val {
			m[k] = s
		}
		return canonicalValue(m)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			cv, err := canonicalValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = nfc(s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported field value type %T", v)
}
