package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/olehkaliuzhnyi/wave-portal/internal/agent"
	"github.com/olehkaliuzhnyi/wave-portal/internal/config"
	"github.com/olehkaliuzhnyi/wave-portal/internal/controller"
	"github.com/olehkaliuzhnyi/wave-portal/internal/ledger"
	"github.com/olehkaliuzhnyi/wave-portal/internal/listener"
	"github.com/olehkaliuzhnyi/wave-portal/internal/metrics"
	"github.com/olehkaliuzhnyi/wave-portal/internal/session"
	"github.com/olehkaliuzhnyi/wave-portal/internal/storage"
	"github.com/olehkaliuzhnyi/wave-portal/internal/tx"
	"github.com/olehkaliuzhnyi/wave-portal/internal/wallet"
	"github.com/olehkaliuzhnyi/wave-portal/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

type app struct {
	cfg        config.Config
	eth        *ethclient.Client
	session    *session.Session
	ledger     *ledger.Client
	store      *storage.MemoryWaveStore
	registry   *prometheus.Registry
	controller *controller.Controller
	closers    []func()
}

func wireApp(ctx context.Context, opts *rootOptions, in io.Reader, prompt io.Writer) (*app, error) {
	cfg, err := config.Load(opts.v)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	rc, err := opts.dial(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger node %s: %w", cfg.RPCURL, err)
	}
	a := &app{cfg: cfg, eth: ethclient.NewClient(rc)}
	a.closers = append(a.closers, a.eth.Close)

	signer, err := a.wireAgent(ctx, newPrompter(in, prompt, opts.yes))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.session = session.New(signer)

	a.ledger, err = ledger.NewClient(ledger.Config{
		Contract:        cfg.ContractAddress,
		FinalityTimeout: cfg.FinalityTimeout,
		Finality: listener.FinalityConfig{
			PollInterval:      cfg.ReceiptPollInterval,
			ConfirmationDepth: cfg.ConfirmationDepth,
		},
		ReadRPS: cfg.ReadRPS,
	}, a.eth, signer, a.session)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("wire ledger client: %w", err)
	}

	a.store = storage.NewMemoryWaveStore(orderPolicy(cfg.Order))
	a.registry = prometheus.NewRegistry()
	a.controller = controller.New(controller.Config{
		ReadRetries:      cfg.ReadRetries,
		MaxMessageLength: cfg.MaxMessageLength,
	}, a.session, a.ledger, a.store, metrics.New(a.registry))

	return a, nil
}

// wireAgent picks the signing agent: a remote wallet when agent_url is set,
// else a local key agent when a mnemonic is set, else none.
func (a *app) wireAgent(ctx context.Context, prompter agent.Prompter) (agent.Agent, error) {
	cfg := a.cfg
	switch {
	case cfg.AgentURL != "":
		remote, err := agent.DialRPCAgent(ctx, cfg.AgentURL)
		if err != nil {
			return nil, fmt.Errorf("dial signing agent: %w", err)
		}
		a.closers = append(a.closers, remote.Close)
		return remote, nil

	case cfg.Mnemonic != "":
		chainID := big.NewInt(cfg.ChainID)
		if cfg.ChainID == 0 {
			id, err := a.eth.ChainID(ctx)
			if err != nil {
				return nil, fmt.Errorf("query chain id: %w", err)
			}
			chainID = id
		}
		builder := tx.NewBuilder(
			tx.BuilderConfig{DefaultGasPrice: cfg.DefaultGasPrice},
			a.eth,
			wallet.NewETHSigner(chainID),
			storage.NewMemoryNonceStore(),
		)
		local, err := agent.NewKeyAgent(cfg.Mnemonic, agent.KeyAgentConfig{
			Index:         cfg.AccountIndex,
			ChainID:       chainID,
			PreAuthorized: cfg.PreAuthorized,
		}, builder, prompter)
		if err != nil {
			return nil, fmt.Errorf("local key agent: %w", err)
		}
		return local, nil
	}

	slog.Info("no signing agent configured, set agent_url or WAVE_MNEMONIC to wave")
	return nil, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// withApp wires the app for one command run. Read-only commands get the
// configured timeout.
func withApp(cmd *cobra.Command, opts *rootOptions, readOnly bool, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := wireApp(ctx, opts, cmd.InOrStdin(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	if readOnly && a.cfg.ContextTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.ContextTimeout)
		defer cancel()
	}
	return fn(ctx, a)
}

func orderPolicy(order string) storage.OrderPolicy {
	if order == config.OrderLedger {
		return storage.OrderLedger
	}
	return storage.OrderNewestFirst
}

// newPrompter asks on the terminal before the local key agent exposes its account.
func newPrompter(in io.Reader, out io.Writer, yes bool) agent.Prompter {
	return agent.PrompterFunc(func(ctx context.Context, account models.Account) (bool, error) {
		if yes {
			return true, nil
		}
		if _, err := fmt.Fprintf(out, "Connect account %s to waveportal? [y/N] ", account); err != nil {
			return false, err
		}
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	})
}
