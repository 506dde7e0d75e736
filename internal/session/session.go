// Package session tracks the connection to the user's signing agent and the
// single active account.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/olehkaliuzhnyi/wave-portal/internal/agent"
	"github.com/olehkaliuzhnyi/wave-portal/pkg/models"
)

// Session owns the active account. The zero account means disconnected.
type Session struct {
	agent  agent.Agent
	logger *slog.Logger

	mu      sync.RWMutex
	account models.Account
}

// New returns a disconnected session. a may be nil when no signing agent is
// present in the environment.
func New(a agent.Agent) *Session {
	return &Session{
		agent:  a,
		logger: slog.Default().With("component", "session"),
	}
}

// HasProvider reports whether a signing agent was supplied.
func (s *Session) HasProvider() bool {
	return s.agent != nil
}

// CheckExistingAuthorization asks the agent for already-authorized accounts
// without prompting. It returns the first one, if any. Session state is not
// touched.
func (s *Session) CheckExistingAuthorization(ctx context.Context) (models.Account, bool, error) {
	const op = "session.check_existing_authorization"
	if s.agent == nil {
		return models.NoAccount, false, models.Errorf(models.KindNoProvider, op, "no signing agent available")
	}
	raw, err := s.agent.Request(ctx, agent.Request{Method: agent.MethodAccounts})
	if err != nil {
		return models.NoAccount, false, agent.Classify(op, err)
	}
	accounts, err := agent.DecodeAccounts(raw)
	if err != nil {
		return models.NoAccount, false, models.NewError(models.KindProvider, op, err)
	}
	if len(accounts) == 0 {
		s.logger.Info("no authorized account found")
		return models.NoAccount, false, nil
	}
	s.logger.Info("found an authorized account", "account", accounts[0])
	return accounts[0], true, nil
}

// RequestConnection prompts the user through the agent and activates the
// granted account.
func (s *Session) RequestConnection(ctx context.Context) (models.Account, error) {
	const op = "session.request_connection"
	if s.agent == nil {
		return models.NoAccount, models.Errorf(models.KindNoProvider, op, "no signing agent available")
	}
	raw, err := s.agent.Request(ctx, agent.Request{Method: agent.MethodRequestAccounts})
	if err != nil {
		return models.NoAccount, agent.Classify(op, err)
	}
	accounts, err := agent.DecodeAccounts(raw)
	if err != nil {
		return models.NoAccount, models.NewError(models.KindProvider, op, err)
	}
	if len(accounts) == 0 {
		return models.NoAccount, models.Errorf(models.KindUserRejected, op, "agent granted no account")
	}

	s.set(accounts[0])
	s.logger.Info("connected", "account", accounts[0])
	return accounts[0], nil
}

// Restore activates an account the agent already authorized, e.g. at startup.
func (s *Session) Restore(ctx context.Context) (models.Account, bool, error) {
	account, ok, err := s.CheckExistingAuthorization(ctx)
	if err != nil || !ok {
		return models.NoAccount, false, err
	}
	s.set(account)
	return account, true, nil
}

// Observe applies an account change reported by the agent. ok=false is a disconnect.
func (s *Session) Observe(account models.Account, ok bool) {
	if !ok {
		s.Clear()
		return
	}
	s.set(account)
	s.logger.Info("account changed", "account", account)
}

// Clear drops the active account.
func (s *Session) Clear() {
	s.mu.Lock()
	prev := s.account
	s.account = models.NoAccount
	s.mu.Unlock()
	if prev != models.NoAccount {
		s.logger.Info("disconnected", "account", prev)
	}
}

// Account returns the active account.
func (s *Session) Account() (models.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account, s.account != models.NoAccount
}

func (s *Session) set(account models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = account
}
