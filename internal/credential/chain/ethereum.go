package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"blockcreds/internal/credential/models"
)

// registryABI covers the two registry methods the engine calls.
const registryABI = `[
  {"type":"function","name":"registerCredential","stateMutability":"nonpayable",
   "inputs":[{"name":"issuer","type":"string"},{"name":"recipient","type":"string"},
             {"name":"verificationCode","type":"string"},{"name":"metadataHash","type":"bytes32"}],
   "outputs":[]},
  {"type":"function","name":"isCredentialValid","stateMutability":"view",
   "inputs":[{"name":"verificationCode","type":"string"}],
   "outputs":[{"name":"","type":"bool"}]}
]`

const (
	methodRegister = "registerCredential"
	methodIsValid  = "isCredentialValid"
)

// Backend is the subset of ethclient.Client used by EthereumClient.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// EthereumConfig configures the registry client.
type EthereumConfig struct {
	RPCURL          string
	ContractAddress string
	// PrivateKey is the hex-encoded signing key. Without it the client is
	// read-only and Submit is rejected.
	PrivateKey string
	ChainID    int64
	// CodePrefix is prepended to normalized codes on chain. Registries
	// populated by the legacy issuer store codes with a 0x prefix.
	CodePrefix string
	GasLimit   uint64
	// ConfirmSubmissions makes Submit wait for a successful receipt.
	ConfirmSubmissions  bool
	ReceiptPollInterval time.Duration
}

// EthereumClient calls the credential registry contract over JSON-RPC.
type EthereumClient struct {
	backend    Backend
	abi        abi.ABI
	contract   common.Address
	key        *ecdsa.PrivateKey
	from       common.Address
	chainID    *big.Int
	codePrefix string
	gasLimit   uint64
	confirm    bool
	pollEvery  time.Duration

	mu sync.Mutex
}

// DialEthereum connects to the node at cfg.RPCURL.
func DialEthereum(ctx context.Context, cfg EthereumConfig) (*EthereumClient, error) {
	backend, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial ethereum node: %w", err)
	}
	return NewEthereumClient(backend, cfg)
}

func NewEthereumClient(backend Backend, cfg EthereumConfig) (*EthereumClient, error) {
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid registry contract address %q", cfg.ContractAddress)
	}
	c := &EthereumClient{
		backend:    backend,
		abi:        parsed,
		contract:   common.HexToAddress(cfg.ContractAddress),
		codePrefix: cfg.CodePrefix,
		gasLimit:   cfg.GasLimit,
		confirm:    cfg.ConfirmSubmissions,
		pollEvery:  cfg.ReceiptPollInterval,
	}
	if c.pollEvery <= 0 {
		c.pollEvery = 2 * time.Second
	}
	if cfg.ChainID > 0 {
		c.chainID = big.NewInt(cfg.ChainID)
	}
	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse signing key: %w", err)
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	return c, nil
}

func (c *EthereumClient) chainCode(code models.VerificationCode) string {
	return c.codePrefix + string(code)
}

func (c *EthereumClient) Verify(ctx context.Context, code models.VerificationCode) (bool, error) {
	data, err := c.abi.Pack(methodIsValid, c.chainCode(code))
	if err != nil {
		return false, NewError(ErrorInternal, "verify", "failed to encode call", err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return false, classify(ctx, "verify", err)
	}
	values, err := c.abi.Unpack(methodIsValid, out)
	if err != nil || len(values) != 1 {
		return false, NewError(ErrorBadData, "verify", "failed to decode result", err)
	}
	valid, ok := values[0].(bool)
	if !ok {
		return false, NewError(ErrorBadData, "verify", fmt.Sprintf("unexpected result type %T", values[0]), nil)
	}
	return valid, nil
}

func (c *EthereumClient) Submit(ctx context.Context, reg models.Registration) (models.TxRef, error) {
	if c.key == nil {
		return "", NewError(ErrorRejected, "submit", "no signing key configured", nil)
	}
	digest, err := reg.MetadataHash.Digest()
	if err != nil || len(digest) != 32 {
		return "", NewError(ErrorInternal, "submit", "metadata hash must be a 32-byte digest", err)
	}
	var metadata [32]byte
	copy(metadata[:], digest)

	data, err := c.abi.Pack(methodRegister, reg.IssuerRef.String(), reg.RecipientRef.String(), c.chainCode(reg.Code), metadata)
	if err != nil {
		return "", NewError(ErrorInternal, "submit", "failed to encode call", err)
	}

	// Simulate the call first so a duplicate code is refused before a
	// transaction is signed and paid for.
	if _, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: c.from, To: &c.contract, Data: data}, nil); err != nil {
		return "", classify(ctx, "submit", err)
	}

	chainID, err := c.resolveChainID(ctx)
	if err != nil {
		return "", classify(ctx, "submit", err)
	}
	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return "", classify(ctx, "submit", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", classify(ctx, "submit", err)
	}
	gas := c.gasLimit
	if gas == 0 {
		gas, err = c.backend.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &c.contract, Data: data})
		if err != nil {
			return "", classify(ctx, "submit", err)
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Value:    big.NewInt(0),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), c.key)
	if err != nil {
		return "", NewError(ErrorInternal, "submit", "failed to sign transaction", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return "", classify(ctx, "submit", err)
	}

	ref := models.TxRef(signed.Hash().Hex())
	if c.confirm {
		if err := c.awaitSuccess(ctx, ref); err != nil {
			return "", err
		}
	}
	return ref, nil
}

func (c *EthereumClient) TransactionStatus(ctx context.Context, ref models.TxRef) (models.TxStatus, error) {
	hash := common.HexToHash(string(ref))
	receipt, err := c.backend.TransactionReceipt(ctx, hash)
	if err == nil {
		if receipt.Status == types.ReceiptStatusSuccessful {
			return models.TxSuccess, nil
		}
		return models.TxFailed, nil
	}
	if !errors.Is(err, ethereum.NotFound) {
		return models.TxUnknown, classify(ctx, "tx_status", err)
	}

	_, pending, err := c.backend.TransactionByHash(ctx, hash)
	switch {
	case err == nil && pending:
		return models.TxPending, nil
	case err == nil:
		// Mined but receipt not yet indexed.
		return models.TxPending, nil
	case errors.Is(err, ethereum.NotFound):
		return models.TxUnknown, nil
	}
	return models.TxUnknown, classify(ctx, "tx_status", err)
}

// awaitSuccess polls for the receipt until it is final or ctx is done.
func (c *EthereumClient) awaitSuccess(ctx context.Context, ref models.TxRef) error {
	var status models.TxStatus
	poll := func() error {
		var err error
		status, err = c.TransactionStatus(ctx, ref)
		if err != nil {
			if IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if status == models.TxPending || status == models.TxUnknown {
			return fmt.Errorf("transaction %s not final", ref)
		}
		return nil
	}
	if err := backoff.Retry(poll, backoff.WithContext(backoff.NewConstantBackOff(c.pollEvery), ctx)); err != nil {
		return classify(ctx, "submit", err)
	}
	if status != models.TxSuccess {
		return NewError(ErrorRejected, "submit", "transaction reverted", nil)
	}
	return nil
}

func (c *EthereumClient) resolveChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chainID != nil {
		return c.chainID, nil
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	c.chainID = id
	return id, nil
}

// classify maps transport and node errors into the chain taxonomy.
func classify(ctx context.Context, op string, err error) error {
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewError(ErrorTimeout, op, "request timeout", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewError(ErrorUnavailable, op, "request canceled", err)
	}
	if errors.Is(err, ethereum.NotFound) {
		return NewError(ErrorNotFound, op, "not found", err)
	}
	if isDuplicateRevert(err) {
		return NewError(ErrorRejected, op, "duplicate verification code", fmt.Errorf("%w: %w", ErrDuplicateCode, err))
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return NewError(ErrorRejected, op, fmt.Sprintf("node rejected call (code %d)", rpcErr.ErrorCode()), err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewError(ErrorTimeout, op, "network timeout", err)
		}
		return NewError(ErrorUnavailable, op, "node unreachable", err)
	}
	return NewError(ErrorUnavailable, op, "node call failed", err)
}

// duplicateRevertReason is the registry's revert reason for a code that is
// already anchored.
const duplicateRevertReason = "verification code already used"

// isDuplicateRevert reads the revert reason from the node error, decoding
// Error(string) revert data when the node returns it.
func isDuplicateRevert(err error) bool {
	reason := err.Error()
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if raw, ok := dataErr.ErrorData().(string); ok {
			if unpacked, uerr := abi.UnpackRevert(common.FromHex(raw)); uerr == nil {
				reason = unpacked
			}
		}
	}
	return strings.Contains(strings.ToLower(reason), duplicateRevertReason)
}

var _ Client = (*EthereumClient)(nil)
