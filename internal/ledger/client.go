// Package ledger turns read and write requests against the WavePortal
// contract into provider calls. Reads go straight to the node and are safe to
// retry; writes go through the signing agent and are never retried here.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/olehkaliuzhnyi/wave-portal/internal/agent"
	"github.com/olehkaliuzhnyi/wave-portal/internal/listener"
	"github.com/olehkaliuzhnyi/wave-portal/pkg/models"
	"golang.org/x/time/rate"
)

// Backend is the node connection. *ethclient.Client satisfies it.
type Backend interface {
	ethereum.ContractCaller
	listener.ReceiptFetcher
}

// AccountSource exposes the active account. *session.Session satisfies it.
type AccountSource interface {
	Account() (models.Account, bool)
}

// Config holds the ledger client parameters.
type Config struct {
	Contract        common.Address
	FinalityTimeout time.Duration
	Finality        listener.FinalityConfig
	// ReadRPS caps eth_call rate; 0 disables pacing.
	ReadRPS float64
}

// Client is the LedgerClient for one contract.
type Client struct {
	backend  Backend
	agent    agent.Agent
	accounts AccountSource
	contract common.Address
	abi      abi.ABI
	awaiter  Awaiter
	timeout  time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewClient builds a ledger client. a may be nil, in which case Submit
// fails with a no-provider error.
func NewClient(cfg Config, backend Backend, a agent.Agent, accounts AccountSource) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(WavePortalABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}
	c := &Client{
		backend:  backend,
		agent:    a,
		accounts: accounts,
		contract: cfg.Contract,
		abi:      parsed,
		awaiter:  listener.NewFinalityWatcher(backend, cfg.Finality),
		timeout:  cfg.FinalityTimeout,
		logger:   slog.Default().With("component", "ledger", "contract", cfg.Contract.Hex()),
	}
	if cfg.ReadRPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.ReadRPS), 1)
	}
	return c, nil
}

// Contract returns the contract address.
func (c *Client) Contract() common.Address {
	return c.contract
}

// Call runs a read-only contract method and returns its decoded outputs.
func (c *Client) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	op := "ledger.call." + method
	m, ok := c.abi.Methods[method]
	if !ok || !m.IsConstant() {
		return nil, models.Errorf(models.KindValidation, op, "%q is not a read-only contract method", method)
	}
	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, models.NewError(models.KindValidation, op, err)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, models.NewError(models.KindNetwork, op, err)
		}
	}

	to := c.contract
	msg := ethereum.CallMsg{To: &to, Data: input}
	if from, ok := c.accounts.Account(); ok {
		msg.From = common.HexToAddress(string(from))
	}
	out, err := c.backend.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, classifyRead(op, err)
	}
	if len(out) == 0 && len(m.Outputs) > 0 {
		return nil, models.Errorf(models.KindProvider, op, "empty result, is the contract deployed at %s?", c.contract.Hex())
	}

	values, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, models.NewError(models.KindProvider, op, fmt.Errorf("decode: %w", err))
	}
	return values, nil
}

// TotalWaves reads getTotalWaves.
func (c *Client) TotalWaves(ctx context.Context) (uint64, error) {
	out, err := c.Call(ctx, MethodGetTotalWaves)
	if err != nil {
		return 0, err
	}
	total, ok := out[0].(*big.Int)
	if !ok || !total.IsUint64() {
		return 0, models.Errorf(models.KindProvider, "ledger.call."+MethodGetTotalWaves, "unexpected result %v", out[0])
	}
	return total.Uint64(), nil
}

// AllWaves reads the full wave history in ledger append order.
func (c *Client) AllWaves(ctx context.Context) ([]models.WaveRecord, error) {
	out, err := c.Call(ctx, MethodGetAllWaves)
	if err != nil {
		return nil, err
	}
	tuples, err := convertWaves(out[0])
	if err != nil {
		return nil, models.NewError(models.KindProvider, "ledger.call."+MethodGetAllWaves, err)
	}
	records := make([]models.WaveRecord, len(tuples))
	for i, w := range tuples {
		if records[i], err = w.record(); err != nil {
			return nil, models.NewError(models.KindProvider, "ledger.call."+MethodGetAllWaves, fmt.Errorf("decode: %w", err))
		}
	}
	c.logger.Debug("read wave history", "count", len(records))
	return records, nil
}

// Submit asks the signing agent to sign and broadcast a state-changing call
// from the active account.
func (c *Client) Submit(ctx context.Context, method string, args ...any) (*TxHandle, error) {
	op := "ledger.submit." + method
	from, ok := c.accounts.Account()
	if !ok {
		return nil, models.Errorf(models.KindNoSigner, op, "no active account")
	}
	if c.agent == nil {
		return nil, models.Errorf(models.KindNoProvider, op, "no signing agent available")
	}
	m, ok := c.abi.Methods[method]
	if !ok || m.IsConstant() {
		return nil, models.Errorf(models.KindValidation, op, "%q is not a state-changing contract method", method)
	}
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, models.NewError(models.KindValidation, op, err)
	}

	to := c.contract
	req := agent.TxRequest{
		From: common.HexToAddress(string(from)),
		To:   &to,
		Data: data,
	}
	raw, err := c.agent.Request(ctx, agent.Request{
		Method: agent.MethodSendTransaction,
		Params: []any{req},
	})
	if err != nil {
		kind := models.KindProvider
		if models.KindOf(err) == models.KindNetwork {
			kind = models.KindNetwork
		}
		return nil, models.NewError(kind, op, err)
	}

	var hash common.Hash
	if err := json.Unmarshal(raw, &hash); err != nil {
		return nil, models.NewError(models.KindProvider, op, fmt.Errorf("decode tx hash: %w", err))
	}

	h := NewTxHandle(hash, from, c.awaiter, c.timeout)
	c.logger.Info("transaction submitted",
		"method", method,
		"from", from,
		"tx_hash", hash.Hex(),
		"submission_id", h.ID(),
	)
	return h, nil
}

func classifyRead(op string, err error) error {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		return models.NewError(models.KindLedgerRevert, op, fmt.Errorf("%w (data: %v)", err, dataErr.ErrorData()))
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return models.NewError(models.KindProvider, op, err)
	}
	return models.NewError(models.KindNetwork, op, err)
}
