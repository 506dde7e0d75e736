package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ReceiptFetcher abstracts the chain RPC calls needed to follow a transaction.
// *ethclient.Client satisfies it.
type ReceiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// FinalityConfig holds configuration for the finality watcher.
type FinalityConfig struct {
	PollInterval time.Duration
	// ConfirmationDepth is the number of blocks, including the one that
	// mined the transaction, required before it counts as final.
	ConfirmationDepth uint64
}

// FinalityWatcher polls for a transaction receipt until it is buried under
// ConfirmationDepth blocks.
type FinalityWatcher struct {
	fetcher ReceiptFetcher
	cfg     FinalityConfig
	logger  *slog.Logger
}

func NewFinalityWatcher(fetcher ReceiptFetcher, cfg FinalityConfig) *FinalityWatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ConfirmationDepth == 0 {
		cfg.ConfirmationDepth = 1
	}
	return &FinalityWatcher{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  slog.Default().With("component", "finality_watcher"),
	}
}

// Await blocks until hash is final or ctx ends. Transient RPC failures are
// logged and polled through; ctx bounds the whole wait.
func (w *FinalityWatcher) Await(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := w.check(ctx, hash)
		if err != nil {
			w.logger.Warn("finality check failed", "tx_hash", hash.Hex(), "error", err)
		} else if receipt != nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// check returns the receipt once deep enough, nil while still pending.
func (w *FinalityWatcher) check(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, err := w.fetcher.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("receipt: %w", err)
	}
	if receipt.BlockNumber == nil {
		return nil, nil
	}

	mined := receipt.BlockNumber.Uint64()
	if w.cfg.ConfirmationDepth <= 1 {
		w.logMined(receipt, 1)
		return receipt, nil
	}

	head, err := w.fetcher.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest block: %w", err)
	}
	if head < mined {
		return nil, nil
	}
	depth := head - mined + 1
	if depth < w.cfg.ConfirmationDepth {
		w.logger.Debug("waiting for confirmations",
			"tx_hash", hash.Hex(),
			"depth", depth,
			"required", w.cfg.ConfirmationDepth,
		)
		return nil, nil
	}
	w.logMined(receipt, depth)
	return receipt, nil
}

func (w *FinalityWatcher) logMined(receipt *types.Receipt, depth uint64) {
	w.logger.Info("transaction final",
		"tx_hash", receipt.TxHash.Hex(),
		"block", receipt.BlockNumber,
		"status", receipt.Status,
		"depth", depth,
	)
}
