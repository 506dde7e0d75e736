package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/olehkaliuzhnyi/wave-portal/internal/tx"
	"github.com/olehkaliuzhnyi/wave-portal/internal/wallet"
	"github.com/olehkaliuzhnyi/wave-portal/pkg/models"
)

// Prompter asks the user whether an account may be exposed to the client.
type Prompter interface {
	Confirm(ctx context.Context, account models.Account) (bool, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, account models.Account) (bool, error)

func (f PrompterFunc) Confirm(ctx context.Context, account models.Account) (bool, error) {
	return f(ctx, account)
}

// Sender broadcasts a locally signed transaction. *tx.Builder implements it.
type Sender interface {
	Send(ctx context.Context, req tx.SendRequest) (*types.Transaction, error)
}

// KeyAgentConfig configures the local key agent.
type KeyAgentConfig struct {
	Index   uint32
	ChainID *big.Int
	// PreAuthorized exposes the account through eth_accounts without a prompt.
	PreAuthorized bool
}

// KeyAgent is an in-process signing agent backed by one HD-derived key.
// It behaves like a browser wallet: the account stays hidden until the
// user approves an eth_requestAccounts prompt.
type KeyAgent struct {
	account  models.Account
	address  common.Address
	key      []byte
	chainID  *big.Int
	sender   Sender
	prompter Prompter
	logger   *slog.Logger

	mu         sync.Mutex
	authorized bool
}

// NewKeyAgent derives the agent's account from mnemonic at cfg.Index.
func NewKeyAgent(mnemonic string, cfg KeyAgentConfig, sender Sender, prompter Prompter) (*KeyAgent, error) {
	seed, err := wallet.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		return nil, err
	}
	gen := wallet.NewETHGenerator()
	derived, err := gen.GenerateFromSeed(seed, cfg.Index)
	if err != nil {
		return nil, err
	}
	key, err := gen.DeriveKey(seed, cfg.Index)
	if err != nil {
		return nil, err
	}
	chainID := cfg.ChainID
	if chainID == nil {
		chainID = big.NewInt(1)
	}

	a := &KeyAgent{
		account:    derived.Account,
		address:    common.HexToAddress(string(derived.Account)),
		key:        key,
		chainID:    chainID,
		sender:     sender,
		prompter:   prompter,
		authorized: cfg.PreAuthorized,
		logger:     slog.Default().With("component", "key_agent"),
	}
	a.logger.Info("key agent ready", "account", a.account, "path", derived.DerivationPath)
	return a, nil
}

// Account returns the agent's account whether or not it is authorized yet.
func (a *KeyAgent) Account() models.Account {
	return a.account
}

// Revoke withdraws a previous authorization, like disconnecting a site in a wallet.
func (a *KeyAgent) Revoke() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.authorized = false
}

func (a *KeyAgent) isAuthorized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.authorized
}

func (a *KeyAgent) Request(ctx context.Context, req Request) (json.RawMessage, error) {
	op := "agent." + req.Method
	switch req.Method {
	case MethodAccounts:
		if !a.isAuthorized() {
			return json.Marshal([]string{})
		}
		return json.Marshal([]string{string(a.account)})

	case MethodRequestAccounts:
		if err := a.authorize(ctx); err != nil {
			return nil, Classify(op, err)
		}
		return json.Marshal([]string{string(a.account)})

	case MethodSendTransaction:
		hash, err := a.sendTransaction(ctx, req.Params)
		if err != nil {
			return nil, Classify(op, err)
		}
		return json.Marshal(hash)

	case MethodChainID:
		return json.Marshal((*hexutil.Big)(a.chainID))

	default:
		return nil, Classify(op, &ProviderError{Code: CodeUnsupportedMethod, Message: "unsupported method " + req.Method})
	}
}

func (a *KeyAgent) authorize(ctx context.Context) error {
	if a.isAuthorized() {
		return nil
	}
	if a.prompter == nil {
		return &ProviderError{Code: CodeUnauthorized, Message: "no prompt available to authorize account"}
	}
	ok, err := a.prompter.Confirm(ctx, a.account)
	if err != nil {
		return fmt.Errorf("prompt: %w", err)
	}
	if !ok {
		a.logger.Info("user rejected account request", "account", a.account)
		return &ProviderError{Code: CodeUserRejected, Message: "user rejected the request"}
	}

	a.mu.Lock()
	a.authorized = true
	a.mu.Unlock()
	a.logger.Info("account authorized", "account", a.account)
	return nil
}

func (a *KeyAgent) sendTransaction(ctx context.Context, params []any) (common.Hash, error) {
	if !a.isAuthorized() {
		return common.Hash{}, &ProviderError{Code: CodeUnauthorized, Message: "account not authorized"}
	}
	req, err := decodeTxRequest(params)
	if err != nil {
		return common.Hash{}, err
	}
	if req.From != a.address {
		return common.Hash{}, &ProviderError{Code: CodeUnauthorized, Message: "unknown sender " + req.From.Hex()}
	}
	if req.To == nil {
		return common.Hash{}, fmt.Errorf("contract creation is not supported")
	}

	send := tx.SendRequest{
		From:       a.address,
		To:         *req.To,
		Data:       req.Data,
		PrivateKey: a.key,
	}
	if req.Gas != nil {
		send.Gas = uint64(*req.Gas)
	}
	if req.Value != nil {
		send.Value = req.Value.ToInt()
	}

	signed, err := a.sender.Send(ctx, send)
	if err != nil {
		return common.Hash{}, err
	}
	return signed.Hash(), nil
}

func decodeTxRequest(params []any) (TxRequest, error) {
	var req TxRequest
	if len(params) != 1 {
		return req, fmt.Errorf("eth_sendTransaction takes 1 param, got %d", len(params))
	}
	buf, err := json.Marshal(params[0])
	if err != nil {
		return req, fmt.Errorf("encode tx params: %w", err)
	}
	if err := json.Unmarshal(buf, &req); err != nil {
		return req, fmt.Errorf("decode tx params: %w", err)
	}
	return req, nil
}
