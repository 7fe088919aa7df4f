package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/autorebalance/internal/domain"
)

type fakeEngine struct {
	mu         sync.Mutex
	calls      []string
	iterations atomic.Int32
	iterate    func(ctx context.Context) (bool, error)
}

func (e *fakeEngine) note(call string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call)
}

func (e *fakeEngine) has(call string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (e *fakeEngine) RefreshAccount() error {
	e.note("refresh")
	return nil
}

func (e *fakeEngine) RequestPositions() error {
	e.note("positions")
	return nil
}

func (e *fakeEngine) Iterate(ctx context.Context) (bool, error) {
	e.iterations.Add(1)
	if e.iterate != nil {
		return e.iterate(ctx)
	}
	return true, nil
}

func (e *fakeEngine) RetractAll() {
	e.note("retract")
}

type fakeConn struct {
	connectErr   error
	connected    atomic.Bool
	disconnected atomic.Bool
}

func (c *fakeConn) Connect() error {
	if c.connectErr != nil {
		return c.connectErr
	}
	c.connected.Store(true)
	return nil
}

func (c *fakeConn) Disconnect() error {
	c.disconnected.Store(true)
	return nil
}

type fakeServer struct {
	stopped chan struct{}
	once    sync.Once
}

func (s *fakeServer) Start() error {
	<-s.stopped
	return http.ErrServerClosed
}

func (s *fakeServer) Shutdown(context.Context) error {
	s.once.Do(func() { close(s.stopped) })
	return nil
}

func testSettings() Settings {
	return Settings{
		RebalancePeriod:  5 * time.Millisecond,
		LivenessTimeout:  time.Minute,
		AccountPeriod:    5 * time.Millisecond,
		AccountHeartbeat: time.Minute,
		Armed:            true,
	}
}

func runSession(t *testing.T, s *Session, ctx context.Context, until time.Time) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, until) }()
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("session did not end")
		return nil
	}
}

func TestSessionBrokerFailureShutsDown(t *testing.T) {
	engine := &fakeEngine{}
	conn := &fakeConn{}
	trip := NewTripwire()
	s := New(engine, conn, nil, trip, testSettings(), zerolog.Nop())

	go func() {
		for engine.iterations.Load() < 2 {
			time.Sleep(time.Millisecond)
		}
		trip.Trip(domain.Anomalyf("error 420 pacing violation"))
	}()

	err := runSession(t, s, context.Background(), time.Time{})
	assert.ErrorIs(t, err, domain.ErrProtocolAnomaly)
	assert.True(t, conn.connected.Load())
	assert.True(t, conn.disconnected.Load())
	assert.True(t, engine.has("refresh"))
	assert.True(t, engine.has("positions"))
	assert.True(t, engine.has("retract"))
}

func TestSessionWorkerErrorShutsDown(t *testing.T) {
	engine := &fakeEngine{iterate: func(context.Context) (bool, error) {
		return false, domain.ErrUnaudited
	}}
	conn := &fakeConn{}
	s := New(engine, conn, nil, NewTripwire(), testSettings(), zerolog.Nop())

	err := runSession(t, s, context.Background(), time.Time{})
	assert.ErrorIs(t, err, domain.ErrUnaudited)
	assert.True(t, engine.has("retract"))
	assert.True(t, conn.disconnected.Load())
}

func TestSessionSurvivesInfeasibleAllocations(t *testing.T) {
	engine := &fakeEngine{iterate: func(context.Context) (bool, error) {
		return false, domain.ErrAllocationInfeasible
	}}
	conn := &fakeConn{}
	s := New(engine, conn, nil, NewTripwire(), testSettings(), zerolog.Nop())

	err := runSession(t, s, context.Background(), time.Now().Add(100*time.Millisecond))
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Greater(t, engine.iterations.Load(), int32(2))
	assert.True(t, engine.has("retract"))
}

func TestSessionMissedHeartbeatShutsDown(t *testing.T) {
	engine := &fakeEngine{iterate: func(context.Context) (bool, error) {
		return false, nil
	}}
	settings := testSettings()
	settings.LivenessTimeout = 40 * time.Millisecond
	s := New(engine, &fakeConn{}, nil, NewTripwire(), settings, zerolog.Nop())

	err := runSession(t, s, context.Background(), time.Time{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rebalance")
	assert.True(t, engine.has("retract"))
}

func TestSessionCancelled(t *testing.T) {
	engine := &fakeEngine{}
	conn := &fakeConn{}
	srv := &fakeServer{stopped: make(chan struct{})}
	s := New(engine, conn, srv, NewTripwire(), testSettings(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := runSession(t, s, ctx, time.Time{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, engine.has("retract"))
	assert.True(t, conn.disconnected.Load())

	select {
	case <-srv.stopped:
	default:
		t.Fatal("status server was not shut down")
	}
}

func TestSessionRetractsAfterIterationReturns(t *testing.T) {
	var iterating atomic.Bool
	engine := &fakeEngine{}
	engine.iterate = func(ctx context.Context) (bool, error) {
		iterating.Store(true)
		defer iterating.Store(false)
		<-ctx.Done()
		time.Sleep(300 * time.Millisecond)
		return false, ctx.Err()
	}
	var retractedMidIteration atomic.Bool
	s := New(&retractWatch{fakeEngine: engine, during: &iterating, hit: &retractedMidIteration},
		&fakeConn{}, nil, NewTripwire(), testSettings(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	err := runSession(t, s, ctx, time.Time{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, engine.has("retract"))
	assert.False(t, retractedMidIteration.Load(), "orders retracted while an iteration was still running")
}

// retractWatch records whether RetractAll ran during an iteration.
type retractWatch struct {
	*fakeEngine
	during *atomic.Bool
	hit    *atomic.Bool
}

func (r *retractWatch) RetractAll() {
	if r.during.Load() {
		r.hit.Store(true)
	}
	r.fakeEngine.RetractAll()
}

func TestSessionConnectFailure(t *testing.T) {
	engine := &fakeEngine{}
	conn := &fakeConn{connectErr: errors.New("connection refused")}
	s := New(engine, conn, nil, NewTripwire(), testSettings(), zerolog.Nop())

	err := runSession(t, s, context.Background(), time.Time{})
	assert.ErrorContains(t, err, "connection refused")
	assert.False(t, engine.has("refresh"))
	assert.False(t, conn.disconnected.Load())
}

func TestTripwireKeepsFirstError(t *testing.T) {
	trip := NewTripwire()
	first := errors.New("first")

	trip.Trip(nil)
	trip.Trip(first)
	trip.Trip(errors.New("second"))

	assert.Equal(t, first, <-trip.C())
	select {
	case err := <-trip.C():
		t.Fatalf("unexpected second error %v", err)
	default:
	}
}
