// Package main is the entry point for the unattended portfolio rebalancer.
//
// The process connects to the broker gateway, keeps a margin-aware
// portfolio close to its target composition, and exits non-zero on every
// shutdown path: there is no clean exit for a long-running trading agent.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/autorebalance/internal/config"
	"github.com/aristath/autorebalance/internal/di"
	"github.com/aristath/autorebalance/internal/modules/risk"
	"github.com/aristath/autorebalance/internal/scheduler"
	"github.com/aristath/autorebalance/internal/session"
	"github.com/aristath/autorebalance/pkg/logger"
)

// restartPause separates a failed session from the next one in loop mode.
const restartPause = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Error().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting autorebalance")

	// Confirm-tier risk prompts are answered on the terminal.
	confirm := risk.ConsoleConfirmer(os.Stdin, os.Stderr)
	foundation, err := di.InitializeFoundation(cfg, confirm, logger.NewSecurity(log))
	if err != nil {
		log.Error().Err(err).Msg("Refusing to start")
		os.Exit(1)
	}
	for _, line := range strings.Split(foundation.Strategy.Dump(), "\n") {
		log.Info().Msg(line)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !cfg.SessionLoop {
		err = session.Run(ctx, foundation, time.Time{}, log)
		exit(log, err)
	}

	window, err := scheduler.DefaultWindow()
	if err != nil {
		exit(log, err)
	}
	for {
		if err := window.WaitOpen(ctx, log); err != nil {
			exit(log, err)
		}

		err := session.Run(ctx, foundation, window.CloseAt(time.Now()), log)
		if ctx.Err() != nil {
			exit(log, err)
		}
		if !errors.Is(err, session.ErrSessionClosed) {
			log.Warn().Err(err).Dur("pause", restartPause).Msg("Session failed, restarting")
			select {
			case <-ctx.Done():
				exit(log, ctx.Err())
			case <-time.After(restartPause):
			}
		}
	}
}

func exit(log zerolog.Logger, err error) {
	log.Error().Err(err).Msg("Shutting down")
	os.Exit(1)
}
