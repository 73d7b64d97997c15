// handlers.go implements the command logic behind the cobra commands in
// commands.go.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tribes-protocol/ayaos/internal/observability"
	"github.com/tribes-protocol/ayaos/internal/ratelimit"
	"github.com/tribes-protocol/ayaos/internal/registry"
)

type upOptions struct {
	dataDir      string
	apiURL       string
	eventsURL    string
	rateTokens   int
	rateInterval string
	logLevel     string
	logFormat    string
}

// runUp sets up one agent through the lifecycle registry, waits for an
// interrupt, and destroys it.
func runUp(ctx context.Context, opts upOptions) error {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  opts.logLevel,
		Format: opts.logFormat,
	})

	var limiter *ratelimit.UserLimiter
	if opts.rateTokens > 0 {
		var err error
		limiter, err = ratelimit.NewUserLimiter(ratelimit.Config{
			Tokens:   opts.rateTokens,
			Interval: opts.rateInterval,
		})
		if err != nil {
			return err
		}
	}

	reg := registry.New(logger)

	agent, err := reg.Setup(ctx, registry.Options{
		DataDir:    opts.dataDir,
		APIBaseURL: opts.apiURL,
		EventsURL:  opts.eventsURL,
		Limiter:    limiter,
	})
	if err != nil {
		return err
	}

	logger.Info("agent running",
		"data_dir", agent.DataDir,
		"agent_id", agent.Auth.AgentID,
		"rate_limited", limiter != nil,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("shutting down", "reason", ctx.Err())
	}

	if err := reg.DestroyAll(context.Background()); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
