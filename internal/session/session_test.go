package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/olehkaliuzhnyi/wave-portal/internal/agent"
	"github.com/olehkaliuzhnyi/wave-portal/pkg/models"
)

// fakeAgent answers eth_accounts and eth_requestAccounts from fixed lists.
type fakeAgent struct {
	authorized []string
	granted    []string
	requestErr error
	calls      map[string]int
}

func (f *fakeAgent) Request(ctx context.Context, req agent.Request) (json.RawMessage, error) {
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[req.Method]++
	switch req.Method {
	case agent.MethodAccounts:
		return json.Marshal(f.authorized)
	case agent.MethodRequestAccounts:
		if f.requestErr != nil {
			return nil, f.requestErr
		}
		return json.Marshal(f.granted)
	}
	return nil, &agent.ProviderError{Code: agent.CodeUnsupportedMethod}
}

func TestSession_NoProvider(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	if _, _, err := s.CheckExistingAuthorization(ctx); !errors.Is(err, models.ErrNoProvider) {
		t.Errorf("CheckExistingAuthorization err = %v, want no provider", err)
	}
	if _, err := s.RequestConnection(ctx); !errors.Is(err, models.ErrNoProvider) {
		t.Errorf("RequestConnection err = %v, want no provider", err)
	}
	if _, ok := s.Account(); ok {
		t.Error("session should stay disconnected")
	}
	if s.HasProvider() {
		t.Error("HasProvider() = true for nil agent")
	}
}

func TestSession_CheckExistingAuthorization(t *testing.T) {
	f := &fakeAgent{authorized: []string{"0xABC", "0xDEF"}}
	s := New(f)

	account, ok, err := s.CheckExistingAuthorization(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !ok || account != "0xABC" {
		t.Errorf("got (%q, %v), want first authorized account 0xABC", account, ok)
	}
	if _, active := s.Account(); active {
		t.Error("check must not activate the account")
	}
	if f.calls[agent.MethodRequestAccounts] != 0 {
		t.Error("check must not prompt the user")
	}
}

func TestSession_CheckNoneAuthorized(t *testing.T) {
	s := New(&fakeAgent{})
	_, ok, err := s.CheckExistingAuthorization(context.Background())
	if err != nil || ok {
		t.Errorf("got ok=%v err=%v, want none", ok, err)
	}
}

func TestSession_Restore(t *testing.T) {
	s := New(&fakeAgent{authorized: []string{"0xABC"}})
	account, ok, err := s.Restore(context.Background())
	if err != nil || !ok || account != "0xABC" {
		t.Fatalf("Restore = (%q, %v, %v)", account, ok, err)
	}
	if active, _ := s.Account(); active != "0xABC" {
		t.Errorf("active account = %q", active)
	}
}

func TestSession_RequestConnection(t *testing.T) {
	s := New(&fakeAgent{granted: []string{" 0xABC "}})
	account, err := s.RequestConnection(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if account != "0xABC" {
		t.Errorf("account = %q, want trimmed 0xABC", account)
	}
	if active, ok := s.Account(); !ok || active != "0xABC" {
		t.Errorf("active = (%q, %v)", active, ok)
	}
}

func TestSession_RequestConnectionRejected(t *testing.T) {
	tests := []struct {
		name  string
		agent *fakeAgent
	}{
		{"provider code", &fakeAgent{requestErr: &agent.ProviderError{Code: agent.CodeUserRejected}}},
		{"empty grant", &fakeAgent{granted: []string{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.agent)
			_, err := s.RequestConnection(context.Background())
			if !errors.Is(err, models.ErrUserRejected) {
				t.Errorf("err = %v, want user rejected", err)
			}
			if _, ok := s.Account(); ok {
				t.Error("rejected request must not activate an account")
			}
		})
	}
}

func TestSession_ObserveAndClear(t *testing.T) {
	s := New(&fakeAgent{})
	s.Observe("0x1", true)
	if a, ok := s.Account(); !ok || a != "0x1" {
		t.Errorf("after Observe = (%q, %v)", a, ok)
	}
	s.Observe(models.NoAccount, false)
	if _, ok := s.Account(); ok {
		t.Error("Observe(false) should disconnect")
	}
}
