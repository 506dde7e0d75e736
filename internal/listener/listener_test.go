package listener

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/olehkaliuzhnyi/wave-portal/pkg/models"
)

// mockChecker returns whatever account is currently set.
type mockChecker struct {
	mu      sync.Mutex
	account models.Account
	err     error
}

func (c *mockChecker) set(a models.Account) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.account = a
}

func (c *mockChecker) CheckExistingAuthorization(ctx context.Context) (models.Account, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return models.NoAccount, false, c.err
	}
	return c.account, c.account != models.NoAccount, nil
}

func nextEvent(t *testing.T, l *AccountListener) AccountEvent {
	t.Helper()
	select {
	case ev := <-l.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for account event")
	}
	return AccountEvent{}
}

func TestAccountListener_EmitsChanges(t *testing.T) {
	checker := &mockChecker{account: "0xAAA"}
	l := NewAccountListener(checker, 10*time.Millisecond, "0xAAA")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := l.Start(ctx); err != nil {
		t.Fatal(err)
	}

	checker.set("0xBBB")
	ev := nextEvent(t, l)
	if !ev.Connected || ev.Account != "0xBBB" {
		t.Errorf("event = %+v, want connected 0xBBB", ev)
	}

	checker.set(models.NoAccount)
	ev = nextEvent(t, l)
	if ev.Connected {
		t.Errorf("event = %+v, want disconnect", ev)
	}

	if err := l.Stop(); err != nil {
		t.Fatal(err)
	}
}

func TestAccountListener_NoEventWithoutChange(t *testing.T) {
	checker := &mockChecker{account: "0xabc"}
	l := NewAccountListener(checker, time.Hour, "0xABC")

	// Case differences alone are not a change.
	if err := l.poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-l.Events():
		t.Errorf("unexpected event %+v", ev)
	default:
	}
}

func TestAccountListener_PollError(t *testing.T) {
	checker := &mockChecker{err: errors.New("agent unreachable")}
	l := NewAccountListener(checker, time.Hour, models.NoAccount)
	if err := l.poll(context.Background()); err == nil {
		t.Error("expected poll error")
	}
}

func TestAccountListener_Stop(t *testing.T) {
	l := NewAccountListener(&mockChecker{}, 10*time.Millisecond, models.NoAccount)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := l.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := l.Stop(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-l.Events(); ok {
		t.Error("events channel should be closed after Stop")
	}
}

func TestAccountListener_StopTwice(t *testing.T) {
	l := NewAccountListener(&mockChecker{}, 10*time.Millisecond, models.NoAccount)
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := l.Stop(); err != nil {
			t.Fatalf("Stop #%d: %v", i+1, err)
		}
	}

	unstarted := NewAccountListener(&mockChecker{}, time.Hour, models.NoAccount)
	if err := unstarted.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := unstarted.Stop(); err != nil {
		t.Fatal(err)
	}
}

// mockFetcher simulates a chain that mines a transaction at a given block.
type mockFetcher struct {
	mu         sync.Mutex
	head       uint64
	minedAt    uint64 // 0 = not mined yet
	status     uint64
	receiptErr error
	calls      int
}

func (f *mockFetcher) setHead(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head = n
}

func (f *mockFetcher) mine(block, status uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.minedAt = block
	f.status = status
	if block > f.head {
		f.head = block
	}
}

func (f *mockFetcher) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	if f.minedAt == 0 {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{
		TxHash:      txHash,
		Status:      f.status,
		BlockNumber: new(big.Int).SetUint64(f.minedAt),
	}, nil
}

func (f *mockFetcher) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

var testHash = common.HexToHash("0x01")

func TestFinalityWatcher_Mined(t *testing.T) {
	f := &mockFetcher{}
	w := NewFinalityWatcher(f, FinalityConfig{PollInterval: 10 * time.Millisecond})

	go func() {
		time.Sleep(30 * time.Millisecond)
		f.mine(5, types.ReceiptStatusSuccessful)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	receipt, err := w.Await(ctx, testHash)
	if err != nil {
		t.Fatal(err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful || receipt.BlockNumber.Uint64() != 5 {
		t.Errorf("unexpected receipt %+v", receipt)
	}
}

func TestFinalityWatcher_ConfirmationDepth(t *testing.T) {
	f := &mockFetcher{}
	f.mine(10, types.ReceiptStatusSuccessful)
	w := NewFinalityWatcher(f, FinalityConfig{PollInterval: time.Hour, ConfirmationDepth: 3})
	ctx := context.Background()

	for head, wantFinal := range map[uint64]bool{10: false, 11: false, 12: true, 13: true} {
		f.setHead(head)
		receipt, err := w.check(ctx, testHash)
		if err != nil {
			t.Fatal(err)
		}
		if (receipt != nil) != wantFinal {
			t.Errorf("head %d: final = %v, want %v", head, receipt != nil, wantFinal)
		}
	}
}

func TestFinalityWatcher_RevertedReceiptIsReturned(t *testing.T) {
	f := &mockFetcher{}
	f.mine(2, types.ReceiptStatusFailed)
	w := NewFinalityWatcher(f, FinalityConfig{PollInterval: 10 * time.Millisecond})

	receipt, err := w.Await(context.Background(), testHash)
	if err != nil {
		t.Fatal(err)
	}
	if receipt.Status != types.ReceiptStatusFailed {
		t.Errorf("status = %d, want failed", receipt.Status)
	}
}

func TestFinalityWatcher_Timeout(t *testing.T) {
	f := &mockFetcher{receiptErr: errors.New("connection refused")}
	w := NewFinalityWatcher(f, FinalityConfig{PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := w.Await(ctx, testHash)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	f.mu.Lock()
	calls := f.calls
	f.mu.Unlock()
	if calls < 2 {
		t.Errorf("transient errors should be polled through, got %d calls", calls)
	}
}
