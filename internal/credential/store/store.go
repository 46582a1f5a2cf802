// Package store persists credential records.
//
// All implementations share the same contract:
//   - Insert returns sentinel.ErrConflict when the verification code (in any
//     of its lookup forms) is already taken.
//   - FindByCode and Exists match the stored value against
//     VerificationCode.LookupForms and nothing else.
//   - Uniqueness is enforced on VerificationCode.Key.
//   - Lookups return sentinel.ErrNotFound for missing records.
package store
