package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/olehkaliuzhnyi/wave-portal/pkg/models"
)

var errFinalityWindow = errors.New("finality window elapsed")

// Awaiter waits for a transaction to become final. *listener.FinalityWatcher implements it.
type Awaiter interface {
	Await(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// TxHandle tracks one broadcast write. Abandoning the wait does not cancel
// the transaction itself.
type TxHandle struct {
	id      string
	hash    common.Hash
	from    models.Account
	awaiter Awaiter
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	status  models.TxStatus
	receipt *types.Receipt
	err     error
}

// NewTxHandle returns a pending handle. timeout bounds AwaitFinality; 0 means
// only the caller's context bounds it.
func NewTxHandle(hash common.Hash, from models.Account, awaiter Awaiter, timeout time.Duration) *TxHandle {
	id := uuid.NewString()
	return &TxHandle{
		id:      id,
		hash:    hash,
		from:    from,
		awaiter: awaiter,
		timeout: timeout,
		status:  models.TxPending,
		logger:  slog.Default().With("component", "tx_handle", "submission_id", id),
	}
}

func (h *TxHandle) ID() string           { return h.id }
func (h *TxHandle) Hash() common.Hash    { return h.hash }
func (h *TxHandle) From() models.Account { return h.from }

func (h *TxHandle) Status() models.TxStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Receipt returns the mined receipt, nil until the handle resolved.
func (h *TxHandle) Receipt() *types.Receipt {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.receipt
}

// AwaitFinality suspends until the transaction is final, reverted, or the wait
// runs out. A resolved handle returns its outcome again without polling.
func (h *TxHandle) AwaitFinality(ctx context.Context) (models.TxStatus, error) {
	const op = "ledger.await_finality"

	h.mu.Lock()
	if h.status != models.TxPending {
		status, err := h.status, h.err
		h.mu.Unlock()
		return status, err
	}
	h.mu.Unlock()

	waitCtx := ctx
	if h.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeoutCause(ctx, h.timeout, errFinalityWindow)
		defer cancel()
	}

	h.logger.Info("mining", "tx_hash", h.hash.Hex())
	receipt, err := h.awaiter.Await(waitCtx, h.hash)

	var result error
	status := models.TxConfirmed
	switch {
	case errors.Is(err, context.DeadlineExceeded) && errors.Is(context.Cause(waitCtx), errFinalityWindow):
		status = models.TxFailed
		result = models.Errorf(models.KindTimeout, op, "no finality for %s within %s", h.hash.Hex(), h.timeout)
	case errors.Is(err, context.DeadlineExceeded):
		status = models.TxFailed
		result = models.NewError(models.KindTimeout, op, fmt.Errorf("no finality for %s before the caller's deadline: %w", h.hash.Hex(), err))
	case errors.Is(err, context.Canceled):
		status = models.TxFailed
		result = models.NewError(models.KindTimeout, op, fmt.Errorf("wait for %s abandoned: %w", h.hash.Hex(), err))
	case err != nil:
		status = models.TxFailed
		result = models.NewError(models.KindNetwork, op, err)
	case receipt.Status != types.ReceiptStatusSuccessful:
		status = models.TxFailed
		result = models.Errorf(models.KindLedgerRevert, op, "transaction %s reverted in block %s", h.hash.Hex(), receipt.BlockNumber)
	}

	h.mu.Lock()
	h.status = status
	h.receipt = receipt
	h.err = result
	h.mu.Unlock()

	if result != nil {
		h.logger.Warn("transaction not confirmed", "tx_hash", h.hash.Hex(), "error", result)
	} else {
		h.logger.Info("mined", "tx_hash", h.hash.Hex(), "block", receipt.BlockNumber)
	}
	return status, result
}
