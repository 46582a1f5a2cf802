// Package chain talks to the on-chain credential registry.
//
// Three implementations share the Client shape: an Ethereum JSON-RPC client
// for the deployed registry contract, an in-memory ledger for local runs and
// tests, and a Resilient wrapper adding timeouts, read retries and a circuit
// breaker around either of them.
package chain

import (
	"context"

	"blockcreds/internal/credential/models"
)

// Client is the ledger capability the engine consumes.
type Client interface {
	// Submit anchors a registration and returns the transaction reference.
	Submit(ctx context.Context, reg models.Registration) (models.TxRef, error)

	// TransactionStatus reports the outcome of a transaction.
	TransactionStatus(ctx context.Context, ref models.TxRef) (models.TxStatus, error)

	// Verify asks the registry whether the code is registered and valid.
	Verify(ctx context.Context, code models.VerificationCode) (bool, error)
}
