package models

import "strings"

// Account is an address handed out by the signing agent. It is kept opaque:
// the agent decides its textual form.
type Account string

// NoAccount is the zero Account and means "disconnected".
const NoAccount Account = ""

// ParseAccount trims an address returned by the signing agent.
func ParseAccount(s string) (Account, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return NoAccount, false
	}
	return Account(s), true
}

// Equal compares two accounts ignoring hex case (checksummed vs lowercase).
func (a Account) Equal(b Account) bool {
	return strings.EqualFold(string(a), string(b))
}

func (a Account) String() string { return string(a) }

// WaveRecord is one entry of the ledger's wave history. Records are built only
// from a full ledger read and never mutated afterwards.
type WaveRecord struct {
	Sender  Account `json:"sender" yaml:"sender"`
	SentAt  int64   `json:"sent_at" yaml:"sent_at"` // unix seconds, as stored on chain
	Message string  `json:"message" yaml:"message"`
}

// TxStatus is the lifecycle of one submitted write.
type TxStatus string

// Transaction states.
const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// Phase is the stable position of the wave controller's state machine.
type Phase string

// Controller phases. The error substate is represented by ViewState.LastError.
const (
	PhaseDisconnected Phase = "disconnected"
	PhaseConnecting   Phase = "connecting"
	PhaseIdle         Phase = "connected_idle"
	PhaseSubmitting   Phase = "connected_submitting"
)

// ViewState is the read-only snapshot handed to the presentation layer.
// It is always rebuilt as a whole.
type ViewState struct {
	Phase             Phase        `json:"phase" yaml:"phase"`
	Account           Account      `json:"account,omitempty" yaml:"account,omitempty"`
	Waves             []WaveRecord `json:"waves" yaml:"waves"`
	TotalWaves        int          `json:"total_waves" yaml:"total_waves"`
	PendingSubmission bool         `json:"pending_submission" yaml:"pending_submission"`
	LastTxHash        string       `json:"last_tx_hash,omitempty" yaml:"last_tx_hash,omitempty"`
	LastError         *Error       `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// Connected reports whether the view has an active account.
func (v ViewState) Connected() bool {
	return v.Account != NoAccount
}
