package listener

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/olehkaliuzhnyi/wave-portal/pkg/models"
)

// AccountChecker queries the signing agent for authorized accounts without prompting.
type AccountChecker interface {
	CheckExistingAuthorization(ctx context.Context) (models.Account, bool, error)
}

// AccountEvent reports a change of the agent's authorized account.
// Connected=false means the agent no longer exposes any account.
type AccountEvent struct {
	Account   models.Account
	Connected bool
}

// AccountListener polls the signing agent and emits an event whenever the
// first authorized account changes.
type AccountListener struct {
	checker      AccountChecker
	pollInterval time.Duration
	events       chan AccountEvent
	logger       *slog.Logger

	mu      sync.Mutex
	last    models.Account
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	stopOnce sync.Once
}

// NewAccountListener creates a listener. initial is the account the caller
// already knows about, so no event is emitted for it.
func NewAccountListener(checker AccountChecker, pollInterval time.Duration, initial models.Account) *AccountListener {
	return &AccountListener{
		checker:      checker,
		pollInterval: pollInterval,
		events:       make(chan AccountEvent, 16),
		last:         initial,
		done:         make(chan struct{}),
		logger:       slog.Default().With("component", "account_listener"),
	}
}

func (l *AccountListener) Start(ctx context.Context) error {
	l.mu.Lock()
	ctx, l.cancel = context.WithCancel(ctx)
	l.started = true
	l.mu.Unlock()

	l.logger.Info("starting account listener", "poll_interval", l.pollInterval)
	go l.pollLoop(ctx)
	return nil
}

// Stop gracefully shuts down the listener and closes Events. Later calls are no-ops.
func (l *AccountListener) Stop() error {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		cancel, started := l.cancel, l.started
		l.mu.Unlock()
		if started {
			cancel()
			<-l.done // wait for pollLoop to exit
		}
		close(l.events)
		l.logger.Info("account listener stopped")
	})
	return nil
}

func (l *AccountListener) Events() <-chan AccountEvent {
	return l.events
}

func (l *AccountListener) pollLoop(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.poll(ctx); err != nil {
				l.logger.Error("poll failed", "error", err)
			}
		}
	}
}

func (l *AccountListener) poll(ctx context.Context) error {
	account, ok, err := l.checker.CheckExistingAuthorization(ctx)
	if err != nil {
		return err
	}
	if !ok {
		account = models.NoAccount
	}

	l.mu.Lock()
	changed := !account.Equal(l.last)
	l.last = account
	l.mu.Unlock()
	if !changed {
		return nil
	}

	event := AccountEvent{Account: account, Connected: ok}
	l.logger.Info("account change detected", "account", account, "connected", ok)
	select {
	case l.events <- event:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
