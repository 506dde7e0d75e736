// Package agent models the signing agent: the wallet that holds keys and
// authorizes accounts and transactions. It is an injected capability; a nil
// Agent means no signing agent is present.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/olehkaliuzhnyi/wave-portal/pkg/models"
)

// Methods of the EIP-1193 subset used by the wave client.
const (
	MethodAccounts        = "eth_accounts"
	MethodRequestAccounts = "eth_requestAccounts"
	MethodSendTransaction = "eth_sendTransaction"
	MethodChainID         = "eth_chainId"
)

// EIP-1193 provider error codes.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeDisconnected      = 4900
)

// Request is one EIP-1193 request.
type Request struct {
	Method string
	Params []any
}

// Agent is the signing agent capability.
type Agent interface {
	Request(ctx context.Context, req Request) (json.RawMessage, error)
}

// TxRequest is the eth_sendTransaction parameter object.
type TxRequest struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to,omitempty"`
	Gas   *hexutil.Uint64 `json:"gas,omitempty"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Data  hexutil.Bytes   `json:"data,omitempty"`
}

// ProviderError is an EIP-1193 error. It satisfies rpc.Error so an agent
// served over JSON-RPC reports the code to its client.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// ErrorCode implements rpc.Error.
func (e *ProviderError) ErrorCode() int { return e.Code }

// DecodeAccounts parses an eth_accounts / eth_requestAccounts result.
func DecodeAccounts(raw json.RawMessage) ([]models.Account, error) {
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	accounts := make([]models.Account, 0, len(list))
	for _, s := range list {
		if a, ok := models.ParseAccount(s); ok {
			accounts = append(accounts, a)
		}
	}
	return accounts, nil
}

// Classify maps an agent transport or provider failure onto the typed taxonomy.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *models.Error
	if errors.As(err, &typed) {
		return err
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case CodeUserRejected, CodeUnauthorized:
			return models.NewError(models.KindUserRejected, op, err)
		case CodeDisconnected:
			return models.NewError(models.KindNetwork, op, err)
		default:
			return models.NewError(models.KindProvider, op, err)
		}
	}

	var httpErr rpc.HTTPError
	var netErr net.Error
	switch {
	case errors.As(err, &httpErr), errors.As(err, &netErr),
		errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return models.NewError(models.KindNetwork, op, err)
	}
	return models.NewError(models.KindProvider, op, err)
}
