package tx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/olehkaliuzhnyi/wave-portal/internal/storage"
	"github.com/olehkaliuzhnyi/wave-portal/internal/wallet"
)

// Backend is the subset of ethclient.Client the builder needs.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// BuilderConfig holds configurable parameters for the transaction builder.
type BuilderConfig struct {
	// DefaultGasPrice is used when the node cannot suggest one.
	DefaultGasPrice *big.Int
	// GasMarginPercent is added on top of the node's gas estimate.
	GasMarginPercent uint64
}

// Builder constructs, signs and broadcasts transactions for a locally held key.
// A broadcast is attempted exactly once: a write that may have reached the
// network is never resent. A nonce is handed back only when the node answered
// and refused the transaction.
type Builder struct {
	backend    Backend
	signer     wallet.Signer
	nonceStore storage.NonceStore
	logger     *slog.Logger
	cfg        BuilderConfig
}

// NewBuilder creates a new transaction builder.
func NewBuilder(cfg BuilderConfig, backend Backend, signer wallet.Signer, nonces storage.NonceStore) *Builder {
	if cfg.DefaultGasPrice == nil {
		cfg.DefaultGasPrice = big.NewInt(20_000_000_000)
	}
	if cfg.GasMarginPercent == 0 {
		cfg.GasMarginPercent = 20
	}
	return &Builder{
		backend:    backend,
		signer:     signer,
		nonceStore: nonces,
		logger:     slog.Default().With("component", "tx_builder"),
		cfg:        cfg,
	}
}

// SendRequest represents a request to send a contract call.
type SendRequest struct {
	From  common.Address
	To    common.Address
	Value *big.Int
	Data  []byte
	// Gas overrides estimation when non-zero.
	Gas        uint64
	PrivateKey []byte
}

// Send builds, signs, and broadcasts a transaction.
func (b *Builder) Send(ctx context.Context, req SendRequest) (*types.Transaction, error) {
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	pending, err := b.backend.PendingNonceAt(ctx, req.From)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	nonce, err := b.nonceStore.Reserve(req.From.Hex(), pending)
	if err != nil {
		return nil, fmt.Errorf("nonce store: %w", err)
	}

	gasPrice := b.estimateGasPrice(ctx)
	gas := req.Gas
	if gas == 0 {
		to := req.To
		estimate, err := b.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:  req.From,
			To:    &to,
			Value: value,
			Data:  req.Data,
		})
		if err != nil {
			b.release(req.From, nonce)
			return nil, fmt.Errorf("estimate gas: %w", err)
		}
		gas = estimate + estimate*b.cfg.GasMarginPercent/100
	}

	to := req.To
	unsigned := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    value,
		Data:     req.Data,
	})

	b.logger.Info("building transaction",
		"from", req.From.Hex(),
		"to", req.To.Hex(),
		"nonce", nonce,
		"gas", gas,
		"gas_price", gasPrice,
	)

	signed, err := b.signer.Sign(ctx, unsigned, req.PrivateKey)
	if err != nil {
		b.release(req.From, nonce)
		return nil, fmt.Errorf("sign: %w", err)
	}

	if err := b.backend.SendTransaction(ctx, signed); err != nil {
		var rejected rpc.Error
		refused := errors.As(err, &rejected)
		b.logger.Warn("broadcast failed",
			"tx_hash", signed.Hash().Hex(),
			"nonce", nonce,
			"refused", refused,
			"error", err,
		)
		if refused {
			b.release(req.From, nonce)
		}
		// Otherwise the node may still have accepted it; the nonce stays reserved.
		return nil, fmt.Errorf("broadcast: %w", err)
	}

	b.logger.Info("transaction broadcast", "tx_hash", signed.Hash().Hex(), "nonce", nonce)
	return signed, nil
}

func (b *Builder) estimateGasPrice(ctx context.Context) *big.Int {
	price, err := b.backend.SuggestGasPrice(ctx)
	if err != nil || price == nil || price.Sign() <= 0 {
		if err != nil {
			b.logger.Warn("gas price suggestion failed, using default", "error", err)
		}
		return new(big.Int).Set(b.cfg.DefaultGasPrice)
	}
	return price
}

func (b *Builder) release(from common.Address, nonce uint64) {
	if err := b.nonceStore.Release(from.Hex(), nonce); err != nil {
		b.logger.Warn("nonce release failed", "from", from.Hex(), "nonce", nonce, "error", err)
	}
}
