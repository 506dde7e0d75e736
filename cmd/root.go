package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/olehkaliuzhnyi/wave-portal/internal/config"
	"github.com/olehkaliuzhnyi/wave-portal/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type dialFunc func(ctx context.Context, url string) (*rpc.Client, error)

type rootOptions struct {
	v         *viper.Viper
	dial      dialFunc
	output    string
	logLevel  string
	logFormat string
	yes       bool
}

func Execute(ctx context.Context) error {
	return newRootCmd(rpc.DialContext).ExecuteContext(ctx)
}

func newRootCmd(dial dialFunc) *cobra.Command {
	opts := &rootOptions{v: config.NewViper(), dial: dial}

	rootCmd := &cobra.Command{
		Use:   "waveportal",
		Short: "Wave at the WavePortal contract from the terminal",
		Long: "waveportal connects a signing agent (a JSON-RPC wallet or a local HD key), " +
			"reads the public wave log of the WavePortal contract and sends new waves.\n\n" +
			"Every flag can also be set through a WAVE_ environment variable, e.g. WAVE_RPC_URL. " +
			"The local key agent's mnemonic is read from WAVE_MNEMONIC only.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFormat(opts.output); err != nil {
				return err
			}
			logger, err := logging.New(cmd.ErrOrStderr(), opts.logLevel, opts.logFormat)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.output, "output", "o", formatText, "output format: text, json or yaml")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	flags.StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")
	flags.BoolVarP(&opts.yes, "yes", "y", false, "approve the local key agent's account prompt")

	if err := bindConfigFlags(flags, opts.v); err != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return err
		}
		return rootCmd
	}

	rootCmd.AddCommand(
		newStatusCmd(opts),
		newConnectCmd(opts),
		newWaveCmd(opts),
		newWavesCmd(opts),
		newCountCmd(opts),
		newWatchCmd(opts),
	)

	return rootCmd
}

// bindConfigFlags declares one flag per config key and binds it to v, so a
// set flag beats WAVE_* env which beats the defaults.
func bindConfigFlags(flags *pflag.FlagSet, v *viper.Viper) error {
	d := config.Default()

	flags.String("rpc-url", d.RPCURL, "ledger node JSON-RPC endpoint")
	flags.String("agent-url", "", "signing agent JSON-RPC endpoint (EIP-1193 methods)")
	flags.Uint32("account-index", d.AccountIndex, "HD account index of the local key agent")
	flags.Bool("pre-authorized", d.PreAuthorized, "treat the local key agent's account as already authorized")
	flags.String("contract", d.ContractAddress.Hex(), "WavePortal contract address")
	flags.Int64("chain-id", d.ChainID, "chain id for local signing, 0 asks the node")
	flags.String("gas-price", d.DefaultGasPrice.String(), "fallback gas price in wei")
	flags.Duration("receipt-poll-interval", d.ReceiptPollInterval, "how often to poll for a receipt")
	flags.Uint64("confirmations", d.ConfirmationDepth, "blocks required for finality")
	flags.Duration("finality-timeout", d.FinalityTimeout, "give up waiting for finality after this long")
	flags.Duration("account-poll-interval", d.AccountPollInterval, "poll the agent for account changes, 0 disables")
	flags.Int("read-retries", d.ReadRetries, "retries for a failed wave log read")
	flags.Float64("read-rps", d.ReadRPS, "contract reads per second, 0 disables pacing")
	flags.Duration("timeout", d.ContextTimeout, "timeout for read-only commands")
	flags.String("order", d.Order, "wave order: newest_first or ledger")
	flags.Int("max-message-length", d.MaxMessageLength, "longest accepted wave message in characters")

	for key, name := range map[string]string{
		"rpc_url":               "rpc-url",
		"agent_url":             "agent-url",
		"account_index":         "account-index",
		"pre_authorized":        "pre-authorized",
		"contract_address":      "contract",
		"chain_id":              "chain-id",
		"default_gas_price":     "gas-price",
		"receipt_poll_interval": "receipt-poll-interval",
		"confirmation_depth":    "confirmations",
		"finality_timeout":      "finality-timeout",
		"account_poll_interval": "account-poll-interval",
		"read_retries":          "read-retries",
		"read_rps":              "read-rps",
		"context_timeout":       "timeout",
		"order":                 "order",
		"max_message_length":    "max-message-length",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return nil
}
