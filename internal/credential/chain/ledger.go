package chain

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sync"

	"blockcreds/internal/credential/models"
)

type ledgerEntry struct {
	reg     models.Registration
	txRef   models.TxRef
	revoked bool
}

// Ledger is an in-memory registry with the same duplicate-code rule as the
// deployed contract. Transactions are confirmed as soon as they are
// submitted.
type Ledger struct {
	mu      sync.RWMutex
	entries map[models.VerificationCode]*ledgerEntry
	txs     map[models.TxRef]models.TxStatus
	seq     uint64
}

func NewLedger() *Ledger {
	return &Ledger{
		entries: make(map[models.VerificationCode]*ledgerEntry),
		txs:     make(map[models.TxRef]models.TxStatus),
	}
}

func (l *Ledger) Submit(ctx context.Context, reg models.Registration) (models.TxRef, error) {
	if err := ctx.Err(); err != nil {
		return "", NewError(ErrorTimeout, "submit", "context done", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[reg.Code]; ok {
		return "", NewError(ErrorRejected, "submit", "duplicate verification code", ErrDuplicateCode)
	}
	l.seq++
	ref := l.txRef(reg, l.seq)
	l.entries[reg.Code] = &ledgerEntry{reg: reg, txRef: ref}
	l.txs[ref] = models.TxSuccess
	return ref, nil
}

func (l *Ledger) TransactionStatus(ctx context.Context, ref models.TxRef) (models.TxStatus, error) {
	if err := ctx.Err(); err != nil {
		return models.TxUnknown, NewError(ErrorTimeout, "tx_status", "context done", err)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	status, ok := l.txs[ref]
	if !ok {
		return models.TxUnknown, nil
	}
	return status, nil
}

func (l *Ledger) Verify(ctx context.Context, code models.VerificationCode) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, NewError(ErrorTimeout, "verify", "context done", err)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	entry, ok := l.entries[code]
	return ok && !entry.revoked, nil
}

// Revoke marks a registered code invalid on the ledger.
func (l *Ledger) Revoke(code models.VerificationCode) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[code]
	if !ok {
		return false
	}
	entry.revoked = true
	return true
}

// RecordTransaction registers an externally signed transaction, as a wallet
// would when the issuer anchors the credential itself.
func (l *Ledger) RecordTransaction(ref models.TxRef, reg models.Registration, status models.TxStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.txs[ref] = status
	if status == models.TxSuccess {
		l.entries[reg.Code] = &ledgerEntry{reg: reg, txRef: ref}
	}
}

func (l *Ledger) txRef(reg models.Registration, seq uint64) models.TxRef {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], seq)
	h := sha256.New()
	h.Write(n[:])
	h.Write([]byte(reg.Code))
	h.Write([]byte(reg.MetadataHash))
	return models.TxRef("0x" + hex.EncodeToString(h.Sum(nil)))
}

var _ Client = (*Ledger)(nil)
