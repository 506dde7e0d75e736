package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the wallet connection and the wave log",
		Long:  "status restores an account the signing agent already authorized, without prompting. A missing or locked wallet is reported in the output, not as a failure.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, true, func(ctx context.Context, a *app) error {
				if err := a.controller.Start(ctx); err != nil {
					slog.Debug("startup", "error", err)
				}
				return renderView(cmd.OutOrStdout(), opts.output, newViewOutput(a.controller.View(), limit))
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "waves to show, 0 shows all")
	return cmd
}

func newConnectCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Ask the signing agent for an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, false, func(ctx context.Context, a *app) error {
				err := connect(ctx, a)
				if renderErr := renderView(cmd.OutOrStdout(), opts.output, newViewOutput(a.controller.View(), 0)); renderErr != nil {
					return renderErr
				}
				return err
			})
		},
	}
}

func newWaveCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "wave <message...>",
		Short: "Send a wave and wait until it is mined",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.Join(args, " ")
			return withApp(cmd, opts, false, func(ctx context.Context, a *app) error {
				if err := connect(ctx, a); err != nil {
					return err
				}
				err := a.controller.SubmitWave(ctx, message)
				if renderErr := renderView(cmd.OutOrStdout(), opts.output, newViewOutput(a.controller.View(), limit)); renderErr != nil {
					return renderErr
				}
				return err
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "waves to show, 0 shows all")
	return cmd
}

func newWavesCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "waves",
		Short: "List the wave log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, true, func(ctx context.Context, a *app) error {
				if err := a.controller.Refresh(ctx); err != nil {
					return err
				}
				return renderWaves(cmd.OutOrStdout(), opts.output, newWaveOutputs(a.controller.View().Waves, limit))
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "waves to show, 0 shows all")
	return cmd
}

func newCountCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the contract's wave counter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, true, func(ctx context.Context, a *app) error {
				total, err := a.ledger.TotalWaves(ctx)
				if err != nil {
					return err
				}
				return encode(cmd.OutOrStdout(), opts.output, countOutput{TotalWaves: total}, func(w io.Writer) error {
					_, err := fmt.Fprintln(w, total)
					return err
				})
			})
		},
	}
}

// connect restores an authorized account and falls back to prompting.
func connect(ctx context.Context, a *app) error {
	if err := a.controller.Start(ctx); err != nil {
		slog.Debug("no authorized account restored", "error", err)
	}
	if a.controller.View().Connected() {
		return nil
	}
	return a.controller.Connect(ctx)
}
