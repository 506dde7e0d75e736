package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/olehkaliuzhnyi/wave-portal/internal/listener"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var (
		metricsAddr string
		refresh     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the connection state and the wave log until interrupted",
		Long: "watch prints a line for every state change. With --account-poll-interval it follows " +
			"account switches in the signing agent; with --refresh it re-reads the wave log periodically. " +
			"--metrics-addr serves Prometheus metrics on /metrics.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, false, func(ctx context.Context, a *app) error {
				return watch(ctx, cmd, opts, a, metricsAddr, refresh)
			})
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "listen address for /metrics, empty disables")
	cmd.Flags().DurationVar(&refresh, "refresh", 0, "re-read the wave log this often, 0 disables")
	return cmd
}

func watch(ctx context.Context, cmd *cobra.Command, opts *rootOptions, a *app, metricsAddr string, refresh time.Duration) error {
	views, cancel := a.controller.Subscribe()
	defer cancel()

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server", "addr", metricsAddr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := a.controller.Start(ctx); err != nil {
		slog.Warn("startup", "error", err)
	}

	if interval := a.cfg.AccountPollInterval; interval > 0 {
		account, _ := a.session.Account()
		l := listener.NewAccountListener(a.session, interval, account)
		if err := l.Start(ctx); err != nil {
			return err
		}
		defer l.Stop()
		go a.controller.Watch(ctx, l.Events())
	}

	var tick <-chan time.Time
	if refresh > 0 {
		t := time.NewTicker(refresh)
		defer t.Stop()
		tick = t.C
	}

	out := cmd.OutOrStdout()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			if err := a.controller.Refresh(ctx); err != nil {
				slog.Warn("refresh failed", "error", err)
			}
		case v, ok := <-views:
			if !ok {
				return nil
			}
			if err := renderUpdate(out, opts.output, newViewOutput(v, 0)); err != nil {
				return err
			}
		}
	}
}
