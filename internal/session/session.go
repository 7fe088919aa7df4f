// Package session runs one trading session: connect, start the workers,
// wait for the first failure, retract what was never sent, disconnect.
// A session never ends without an error.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/autorebalance/internal/di"
	"github.com/aristath/autorebalance/internal/domain"
	"github.com/aristath/autorebalance/internal/scheduler"
)

// Account refresh cadence. The summary arrives asynchronously; a completed
// request is the heartbeat.
const (
	AccountPeriod    = 60 * time.Second
	AccountHeartbeat = 120 * time.Second
)

// shutdownGrace bounds how long shutdown waits for workers to return
// before retracting orders anyway.
const shutdownGrace = 5 * time.Second

// ErrSessionClosed ends a session at the close of the trading window.
var ErrSessionClosed = errors.New("trading session closed")

// Engine is the rebalancer as the session drives it.
type Engine interface {
	RefreshAccount() error
	RequestPositions() error
	Iterate(ctx context.Context) (bool, error)
	RetractAll()
}

// Connection is the broker link.
type Connection interface {
	Connect() error
	Disconnect() error
}

// StatusServer is the optional status surface.
type StatusServer interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// Settings are the worker periods of a session.
type Settings struct {
	RebalancePeriod  time.Duration
	LivenessTimeout  time.Duration
	AccountPeriod    time.Duration
	AccountHeartbeat time.Duration
	Armed            bool
}

// Session is one connect-to-disconnect run.
type Session struct {
	engine   Engine
	conn     Connection
	server   StatusServer
	trip     *Tripwire
	settings Settings
	log      zerolog.Logger
}

// New creates a session. trip must be the tripwire the connection reports
// broker-side failures to.
func New(engine Engine, conn Connection, server StatusServer, trip *Tripwire, settings Settings, log zerolog.Logger) *Session {
	return &Session{
		engine:   engine,
		conn:     conn,
		server:   server,
		trip:     trip,
		settings: settings,
		log:      log.With().Str("component", "session").Logger(),
	}
}

// Run wires a fresh container from f and runs one session on it until the
// first failure, ctx cancellation, or until (when non-zero).
func Run(ctx context.Context, f *di.Foundation, until time.Time, log zerolog.Logger) error {
	trip := NewTripwire()
	c, err := di.Wire(f, trip.Trip, log)
	if err != nil {
		return fmt.Errorf("failed to wire session: %w", err)
	}
	defer c.Close()

	var srv StatusServer
	if c.Server != nil {
		srv = c.Server
	}

	s := New(c.Engine, c.Gateway, srv, trip, Settings{
		RebalancePeriod:  f.Strategy.RebalanceFreq,
		LivenessTimeout:  f.Strategy.LivenessTimeout,
		AccountPeriod:    AccountPeriod,
		AccountHeartbeat: AccountHeartbeat,
		Armed:            f.Strategy.Armed,
	}, log.With().Str("session_id", c.SessionID).Logger())
	return s.Run(ctx, until)
}

// Run executes the session. It always returns the error that ended it.
func (s *Session) Run(ctx context.Context, until time.Time) error {
	s.log.Info().Msg("Session starting")
	if s.settings.Armed {
		s.log.Warn().Msg("Armed: orders will be transmitted")
	}

	if s.server != nil {
		go func() {
			if err := s.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.trip.Trip(fmt.Errorf("status server failed: %w", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.server.Shutdown(shutdownCtx); err != nil {
				s.log.Warn().Err(err).Msg("Status server shutdown failed")
			}
		}()
	}

	if err := s.conn.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	var wg sync.WaitGroup
	start := func(w *scheduler.Worker) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(workerCtx); err != nil && workerCtx.Err() == nil {
				s.trip.Trip(err)
			}
		}()
	}

	err := s.startWorkers(start)
	if err == nil {
		err = s.wait(ctx, until)
	}

	cancelWorkers()
	s.awaitWorkers(&wg)
	s.shutdown(err)
	return err
}

func (s *Session) startWorkers(start func(*scheduler.Worker)) error {
	account, err := scheduler.NewWorker(scheduler.WorkerConfig{
		Name:      "account",
		Period:    s.settings.AccountPeriod,
		Heartbeat: s.settings.AccountHeartbeat,
	}, func(context.Context) (bool, error) {
		if err := s.engine.RefreshAccount(); err != nil {
			return false, err
		}
		return true, nil
	}, s.log)
	if err != nil {
		return err
	}

	rebalance, err := scheduler.NewWorker(scheduler.WorkerConfig{
		Name:      "rebalance",
		Period:    s.settings.RebalancePeriod,
		Heartbeat: s.settings.LivenessTimeout,
		Suppress:  []error{domain.ErrAllocationInfeasible},
	}, s.engine.Iterate, s.log)
	if err != nil {
		return err
	}

	start(account)
	if err := s.engine.RequestPositions(); err != nil {
		return fmt.Errorf("failed to request positions: %w", err)
	}
	start(rebalance)
	return nil
}

func (s *Session) wait(ctx context.Context, until time.Time) error {
	var deadline <-chan time.Time
	if !until.IsZero() {
		timer := time.NewTimer(time.Until(until))
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case err := <-s.trip.C():
		return err
	case <-deadline:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) awaitWorkers(wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		s.log.Warn().Dur("grace", shutdownGrace).Msg("Workers still busy, shutting down anyway")
	}
}

// shutdown retracts untransmitted orders and disconnects.
func (s *Session) shutdown(cause error) {
	if errors.Is(cause, ErrSessionClosed) {
		s.log.Info().Msg("Trading window closed")
	} else {
		s.log.Error().Err(cause).Msg("Killed")
	}

	s.engine.RetractAll()

	s.log.Info().Msg("Disconnecting")
	if err := s.conn.Disconnect(); err != nil {
		s.log.Warn().Err(err).Msg("Disconnect failed")
	}
}
