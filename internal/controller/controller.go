// Package controller drives the wave client: it connects the wallet session,
// keeps the wave store in sync with the ledger, and runs the
// submit → await finality → resync sequence for new waves.
//
// The controller acts as a single logical actor. Every transition ends in a
// stable phase (disconnected or connected_idle) with any failure recorded in
// ViewState.LastError; the error is cleared by the next user action.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/olehkaliuzhnyi/wave-portal/internal/ledger"
	"github.com/olehkaliuzhnyi/wave-portal/internal/listener"
	"github.com/olehkaliuzhnyi/wave-portal/internal/metrics"
	"github.com/olehkaliuzhnyi/wave-portal/internal/storage"
	"github.com/olehkaliuzhnyi/wave-portal/pkg/models"
)

// Session is the wallet session. *session.Session implements it.
type Session interface {
	Restore(ctx context.Context) (models.Account, bool, error)
	RequestConnection(ctx context.Context) (models.Account, error)
	Account() (models.Account, bool)
	Observe(account models.Account, ok bool)
}

// Ledger is the ledger client. *ledger.Client implements it.
type Ledger interface {
	AllWaves(ctx context.Context) ([]models.WaveRecord, error)
	Submit(ctx context.Context, method string, args ...any) (*ledger.TxHandle, error)
}

// Config holds controller parameters.
type Config struct {
	// ReadRetries is how many times a failed sync read is retried.
	ReadRetries int
	// RetryBackoff is the base delay between read retries (attempt² × base).
	RetryBackoff time.Duration
	// MaxMessageLength in runes; 0 means unlimited.
	MaxMessageLength int
}

var allPhases = []string{
	string(models.PhaseDisconnected),
	string(models.PhaseConnecting),
	string(models.PhaseIdle),
	string(models.PhaseSubmitting),
}

// Controller is the WaveController.
type Controller struct {
	session Session
	ledger  Ledger
	store   storage.WaveStore
	metrics *metrics.Metrics
	cfg     Config
	logger  *slog.Logger

	mu      sync.Mutex
	phase   models.Phase
	lastErr *models.Error
	lastTx  string
	view    models.ViewState
	subs    map[int]chan models.ViewState
	nextSub int
}

// New returns a disconnected controller. m may be nil.
func New(cfg Config, s Session, l Ledger, store storage.WaveStore, m *metrics.Metrics) *Controller {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	c := &Controller{
		session: s,
		ledger:  l,
		store:   store,
		metrics: m,
		cfg:     cfg,
		phase:   models.PhaseDisconnected,
		subs:    make(map[int]chan models.ViewState),
		logger:  slog.Default().With("component", "controller"),
	}
	c.mu.Lock()
	c.publishLocked()
	c.mu.Unlock()
	return c
}

// Start restores an already-authorized account, if any, and syncs the wave log.
func (c *Controller) Start(ctx context.Context) error {
	if !c.begin(models.PhaseConnecting, models.PhaseDisconnected) {
		return nil
	}

	account, ok, err := c.session.Restore(ctx)
	if err != nil {
		c.logger.Warn("restore failed", "error", err)
		c.finish(err)
		return err
	}
	if !ok {
		c.finish(nil)
		return nil
	}

	c.logger.Info("restored authorized account", "account", account)
	err = c.sync(ctx)
	c.finish(err)
	return err
}

// Connect prompts the user for an account. It is only meaningful while
// disconnected; when already connected it does nothing.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.phase {
	case models.PhaseConnecting:
		c.mu.Unlock()
		return models.Errorf(models.KindAlreadyInProgress, "controller.connect", "a connection request is already pending")
	case models.PhaseIdle, models.PhaseSubmitting:
		c.mu.Unlock()
		return nil
	}
	c.lastErr = nil
	c.phase = models.PhaseConnecting
	c.publishLocked()
	c.mu.Unlock()

	account, err := c.session.RequestConnection(ctx)
	if err != nil {
		c.logger.Warn("connection request failed", "error", err)
		c.finish(err)
		return err
	}

	c.logger.Info("connected", "account", account)
	err = c.sync(ctx)
	c.finish(err)
	return err
}

// SubmitWave sends message to the contract, waits for finality and resyncs.
// Only one submission may be in flight; a second one is rejected at once.
func (c *Controller) SubmitWave(ctx context.Context, message string) error {
	const op = "controller.submit_wave"

	c.mu.Lock()
	if c.phase == models.PhaseSubmitting {
		c.mu.Unlock()
		return models.Errorf(models.KindAlreadyInProgress, op, "a wave is already being submitted")
	}
	if _, ok := c.session.Account(); !ok || c.phase != models.PhaseIdle {
		err := models.Errorf(models.KindNoSigner, op, "connect a wallet before waving")
		c.lastErr = err
		c.publishLocked()
		c.mu.Unlock()
		return err
	}
	if err := c.validate(op, message); err != nil {
		c.lastErr = err
		c.publishLocked()
		c.mu.Unlock()
		return err
	}
	c.lastErr = nil
	c.phase = models.PhaseSubmitting
	c.publishLocked()
	c.mu.Unlock()

	handle, err := c.ledger.Submit(ctx, ledger.MethodWave, message)
	if err != nil {
		c.metrics.ObserveSubmission("rejected")
		c.logger.Warn("wave not submitted", "error", err)
		c.finish(err)
		return err
	}

	c.mu.Lock()
	c.lastTx = handle.Hash().Hex()
	c.publishLocked()
	c.mu.Unlock()

	started := time.Now()
	status, err := handle.AwaitFinality(ctx)
	c.metrics.ObserveFinality(time.Since(started))
	if status != models.TxConfirmed {
		if err == nil {
			err = models.Errorf(models.KindLedgerRevert, op, "transaction %s not confirmed", handle.Hash().Hex())
		}
		c.metrics.ObserveSubmission("failed")
		c.finish(err)
		return err
	}

	c.metrics.ObserveSubmission("confirmed")
	c.logger.Info("wave mined", "tx_hash", handle.Hash().Hex(), "submission_id", handle.ID())
	err = c.sync(ctx)
	c.finish(err)
	return err
}

// Refresh resyncs the wave log on demand, e.g. after a finality timeout.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	c.lastErr = nil
	c.publishLocked()
	c.mu.Unlock()

	err := c.sync(ctx)

	c.mu.Lock()
	if err != nil {
		c.lastErr = models.AsError(err, models.KindNetwork, "controller.refresh")
	}
	c.publishLocked()
	c.mu.Unlock()
	return err
}

// AcknowledgeError clears the last error without taking another action.
func (c *Controller) AcknowledgeError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = nil
	c.publishLocked()
}

// HandleAccountChange applies an account change reported by the signing agent.
// A change that arrives mid-transition is picked up when that transition settles.
func (c *Controller) HandleAccountChange(ctx context.Context, ev listener.AccountEvent) error {
	c.session.Observe(ev.Account, ev.Connected)

	c.mu.Lock()
	if c.phase == models.PhaseConnecting || c.phase == models.PhaseSubmitting {
		c.publishLocked()
		c.mu.Unlock()
		return nil
	}
	if !ev.Connected {
		c.phase = models.PhaseDisconnected
		c.publishLocked()
		c.mu.Unlock()
		c.logger.Info("signing agent disconnected")
		return nil
	}
	c.phase = models.PhaseIdle
	c.publishLocked()
	c.mu.Unlock()

	c.logger.Info("active account changed", "account", ev.Account)
	err := c.sync(ctx)
	if err != nil {
		c.mu.Lock()
		c.lastErr = models.AsError(err, models.KindNetwork, "controller.account_change")
		c.publishLocked()
		c.mu.Unlock()
	}
	return err
}

// Watch consumes account events until events closes or ctx ends.
func (c *Controller) Watch(ctx context.Context, events <-chan listener.AccountEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := c.HandleAccountChange(ctx, ev); err != nil {
				c.logger.Warn("account change sync failed", "error", err)
			}
		}
	}
}

// View returns the current view state.
func (c *Controller) View() models.ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// Subscribe returns a channel that always holds the most recent view state.
// Slow readers skip intermediate states. cancel stops delivery and closes it.
func (c *Controller) Subscribe() (<-chan models.ViewState, func()) {
	ch := make(chan models.ViewState, 1)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.view
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs, id)
			close(ch)
		})
	}
}

// begin moves from one of the allowed phases into next.
func (c *Controller) begin(next models.Phase, from ...models.Phase) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range from {
		if c.phase == p {
			c.lastErr = nil
			c.phase = next
			c.publishLocked()
			return true
		}
	}
	return false
}

// finish settles into the stable phase implied by the session and records err.
func (c *Controller) finish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = models.PhaseDisconnected
	if _, ok := c.session.Account(); ok {
		c.phase = models.PhaseIdle
	}
	if err != nil {
		c.lastErr = models.AsError(err, models.KindProvider, "controller")
	}
	c.publishLocked()
}

// sync replaces the wave store with a full ledger read. Network failures are
// retried; the store is untouched unless a read completes.
func (c *Controller) sync(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.ReadRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt*attempt) * c.cfg.RetryBackoff):
			case <-ctx.Done():
				lastErr = models.NewError(models.KindNetwork, "controller.sync", ctx.Err())
				c.metrics.ObserveSync(lastErr, 0)
				return lastErr
			}
		}

		records, err := c.ledger.AllWaves(ctx)
		if err == nil {
			c.store.ReplaceAll(records)
			c.metrics.ObserveSync(nil, len(records))
			c.logger.Info("wave log synced", "count", len(records))
			return nil
		}

		lastErr = err
		c.logger.Warn("sync attempt failed",
			"attempt", attempt+1,
			"max_retries", c.cfg.ReadRetries,
			"error", err,
		)
		if !retryable(err) {
			break
		}
	}
	c.metrics.ObserveSync(lastErr, 0)
	return lastErr
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return models.KindOf(err) == models.KindNetwork
}

func (c *Controller) validate(op, message string) *models.Error {
	if strings.TrimSpace(message) == "" {
		return models.Errorf(models.KindValidation, op, "message must not be empty")
	}
	if !utf8.ValidString(message) {
		return models.Errorf(models.KindValidation, op, "message is not valid UTF-8")
	}
	if limit := c.cfg.MaxMessageLength; limit > 0 {
		if n := utf8.RuneCountInString(message); n > limit {
			return models.NewError(models.KindValidation, op, fmt.Errorf("message is %d characters, limit is %d", n, limit))
		}
	}
	return nil
}

// publishLocked rebuilds the view as a whole and fans it out. c.mu must be held.
func (c *Controller) publishLocked() {
	account, _ := c.session.Account()
	waves := c.store.Snapshot()
	c.view = models.ViewState{
		Phase:             c.phase,
		Account:           account,
		Waves:             waves,
		TotalWaves:        len(waves),
		PendingSubmission: c.phase == models.PhaseSubmitting,
		LastTxHash:        c.lastTx,
		LastError:         c.lastErr,
	}
	c.metrics.SetPhase(string(c.phase), allPhases)

	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- c.view
	}
}
