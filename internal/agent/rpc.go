package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/rpc"
)

// RPCAgent forwards EIP-1193 requests to a wallet reachable over JSON-RPC
// (an HTTP, WebSocket or IPC endpoint exposing eth_requestAccounts).
type RPCAgent struct {
	client *rpc.Client
	logger *slog.Logger
}

// DialRPCAgent connects to the signing agent at url.
func DialRPCAgent(ctx context.Context, url string) (*RPCAgent, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial agent %s: %w", url, err)
	}
	return NewRPCAgent(client), nil
}

// NewRPCAgent wraps an existing RPC client.
func NewRPCAgent(client *rpc.Client) *RPCAgent {
	return &RPCAgent{
		client: client,
		logger: slog.Default().With("component", "rpc_agent"),
	}
}

func (a *RPCAgent) Request(ctx context.Context, req Request) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := a.client.CallContext(ctx, &raw, req.Method, req.Params...); err != nil {
		a.logger.Warn("agent request failed", "method", req.Method, "error", err)
		return nil, Classify("agent."+req.Method, err)
	}
	return raw, nil
}

// Close releases the underlying connection.
func (a *RPCAgent) Close() {
	a.client.Close()
}
