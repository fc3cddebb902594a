package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"poe-bridge/internal/bridge"
	"poe-bridge/internal/config"
	"poe-bridge/internal/exchange"
	"poe-bridge/internal/render"
	"poe-bridge/internal/server"
	"poe-bridge/internal/tokens"
	"poe-bridge/internal/upstream"
	"poe-bridge/internal/version"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const mockEnv = "POE_BRIDGE_MOCK_UPSTREAM"

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "poe-bridge",
		Short:         "poe-bridge - OpenAI-compatible chat completions backed by Poe bots",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd)
			if err != nil {
				return err
			}

			logger := buildLogger(cfg.Verbose)
			defer func() { _ = logger.Sync() }()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return run(ctx, cfg, logger, os.Getenv(mockEnv) == "1", nil)
		},
	}
	config.AddFlags(cmd)
	return cmd
}

func buildLogger(verbose bool) *zap.Logger {
	if verbose {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	logger, _ := zap.NewProduction()
	return logger
}

func newClient(cfg config.Config, logger *zap.Logger, mock bool) upstream.Client {
	userAgent := "poe-bridge/" + version.Version
	switch {
	case mock:
		return upstream.NewMockClient()
	case cfg.Upstream == config.UpstreamOpenAI:
		return upstream.NewOpenAIClient(cfg.PoeAPIKey, cfg.OpenAIBaseURL, userAgent)
	default:
		return upstream.NewPoeClient(cfg.PoeAPIKey, cfg.PoeBaseURL, userAgent, logger.Named("poe"))
	}
}

// run serves until ctx is cancelled. ready, when set, receives the bound address.
func run(ctx context.Context, cfg config.Config, logger *zap.Logger, mock bool, ready func(addr string)) error {
	if mock {
		logger.Warn("mock upstream enabled; Poe is never contacted")
		if cfg.PoeAPIKey == "" {
			cfg.PoeAPIKey = "mock"
		}
	}
	if !cfg.Configured() {
		logger.Warn("poe api key or auth token missing; completions will be refused until configured")
	}

	store := exchange.NewStore(cfg.ExchangeLogLimit)
	client := upstream.NewRecordingClient(newClient(cfg, logger, mock), store)

	var counter *tokens.Counter
	if cfg.UsageEnabled {
		c, err := tokens.New(tokens.DefaultEncoding)
		if err != nil {
			logger.Warn("token counter unavailable; usage disabled", zap.Error(err))
		} else {
			counter = c
		}
	}

	renderer := render.NewLogRenderer(logger, cfg.Verbose)
	defer func() { _ = renderer.Close() }()

	b := bridge.NewBridge(client, renderer, logger, cfg, counter)
	handler := server.AccessLog(server.NewServer(cfg, b, store, renderer, logger), logger.Named("http"))

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}
	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("poe-bridge listening",
			zap.String("addr", listener.Addr().String()),
			zap.String("upstream", cfg.Upstream),
			zap.String("default_model", cfg.DefaultModel),
			zap.String("version", version.Version))
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	if ready != nil {
		ready(listener.Addr().String())
	}

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
