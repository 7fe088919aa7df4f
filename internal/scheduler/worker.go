// Package scheduler runs the periodic workers of a session and decides when
// sessions may run at all.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/autorebalance/internal/metrics"
	"github.com/rs/zerolog"
)

// ErrHeartbeatMissed is returned when a worker fails to complete an
// iteration within its heartbeat window.
var ErrHeartbeatMissed = errors.New("heartbeat missed")

// Task is one worker iteration. It reports whether the iteration completed;
// only completed iterations count as heartbeats.
type Task func(ctx context.Context) (bool, error)

// WorkerConfig describes a periodic worker.
type WorkerConfig struct {
	Name      string
	Period    time.Duration
	Heartbeat time.Duration
	// Suppress lists errors that are logged and swallowed at the worker
	// boundary (matched with errors.Is). Anything else stops the worker.
	Suppress []error
}

// Worker runs a Task every Period under a heartbeat monitor.
type Worker struct {
	cfg  WorkerConfig
	task Task
	log  zerolog.Logger
	now  func() time.Time

	mu       sync.Mutex
	lastBeat time.Time
}

// NewWorker creates a worker. It does not start it.
func NewWorker(cfg WorkerConfig, task Task, log zerolog.Logger) (*Worker, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("worker name is required")
	}
	if cfg.Period <= 0 || cfg.Heartbeat <= 0 {
		return nil, fmt.Errorf("worker %s: period and heartbeat must be positive", cfg.Name)
	}
	return &Worker{
		cfg:  cfg,
		task: task,
		log:  log.With().Str("component", "worker").Str("worker", cfg.Name).Logger(),
		now:  time.Now,
	}, nil
}

// Name returns the worker name.
func (w *Worker) Name() string {
	return w.cfg.Name
}

// LastBeat returns the time of the last completed iteration, or the start time.
func (w *Worker) LastBeat() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastBeat
}

func (w *Worker) beat() {
	w.mu.Lock()
	w.lastBeat = w.now()
	w.mu.Unlock()
}

// Run executes the task immediately and then every Period until ctx is
// cancelled, the task fails with an unsuppressed error, or the heartbeat
// window elapses without a completed iteration. It returns only after the
// running iteration has returned, and always returns non-nil.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.beat()
	w.log.Info().
		Dur("period", w.cfg.Period).
		Dur("heartbeat", w.cfg.Heartbeat).
		Msg("Worker started")

	errc := make(chan error, 2)
	go func() { errc <- w.loop(ctx) }()
	go func() { errc <- w.monitor(ctx) }()

	err := <-errc
	cancel()
	<-errc
	if !errors.Is(err, context.Canceled) {
		w.log.Error().Err(err).Msg("Worker stopped")
	}
	return err
}

func (w *Worker) loop(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Period)
	defer ticker.Stop()

	for {
		if err := w.runOnce(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Worker) runOnce(ctx context.Context) error {
	completed, err := w.task(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if w.suppressed(err) {
			w.log.Warn().Err(err).Msg("Iteration aborted")
			return nil
		}
		return fmt.Errorf("worker %s: %w", w.cfg.Name, err)
	}
	if completed {
		w.beat()
		metrics.WorkerHeartbeats.WithLabelValues(w.cfg.Name).Inc()
	}
	return nil
}

func (w *Worker) suppressed(err error) bool {
	for _, target := range w.cfg.Suppress {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (w *Worker) monitor(ctx context.Context) error {
	interval := w.cfg.Heartbeat / 4
	if interval <= 0 {
		interval = w.cfg.Heartbeat
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if silence := w.now().Sub(w.LastBeat()); silence > w.cfg.Heartbeat {
				return fmt.Errorf("%w: worker %s silent for %s (window %s)",
					ErrHeartbeatMissed, w.cfg.Name, silence.Round(time.Millisecond), w.cfg.Heartbeat)
			}
		}
	}
}
