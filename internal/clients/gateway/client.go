// Package gateway implements the brokerage collaborator over a websocket
// bridge to the broker's API gateway.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/aristath/autorebalance/internal/domain"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	// Dial retry. Only the initial connection is retried: once a session
	// is established a dropped connection is fatal.
	baseDialDelay   = 2 * time.Second
	maxDialDelay    = 30 * time.Second
	maxDialAttempts = 5
)

// Config holds the gateway endpoint settings.
type Config struct {
	URL      string
	ClientID int
}

// Client is a domain.Broker backed by a websocket connection.
//
// Inbound frames are decoded and dispatched to the attached handler from a
// single read goroutine, one frame at a time.
type Client struct {
	cfg     Config
	handler domain.EventHandler
	onFatal func(error)
	log     zerolog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	cancelFunc context.CancelFunc
	stopping   bool
	readDone   chan struct{}
	fatalOnce  sync.Once

	// replaced in tests
	sleep func(time.Duration)
}

// New creates a gateway client. onFatal receives the first error that ends
// the connection: a handler error, an undecodable frame or a lost socket.
func New(cfg Config, onFatal func(error), log zerolog.Logger) *Client {
	return &Client{
		cfg:     cfg,
		onFatal: onFatal,
		log:     log.With().Str("component", "gateway").Logger(),
		sleep:   time.Sleep,
	}
}

// Attach sets the event handler. It must be called before Connect.
func (c *Client) Attach(h domain.EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Connect dials the gateway, announces the client id and starts the read loop.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handler == nil {
		return fmt.Errorf("gateway: no event handler attached")
	}
	if c.conn != nil {
		return fmt.Errorf("gateway: already connected")
	}

	var (
		conn *websocket.Conn
		err  error
	)
	for attempt := 1; attempt <= maxDialAttempts; attempt++ {
		conn, err = c.dial()
		if err == nil {
			break
		}
		if attempt == maxDialAttempts {
			return fmt.Errorf("failed to connect to gateway after %d attempts: %w", attempt, err)
		}
		delay := dialBackoff(attempt)
		c.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("Gateway dial failed")
		c.sleep(delay)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c.conn = conn
	c.cancelFunc = cancel
	c.stopping = false
	c.readDone = make(chan struct{})

	if err := c.writeLocked(connCtx, frame{Type: typeHello, ClientID: c.cfg.ClientID}); err != nil {
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "hello failed")
		c.conn = nil
		c.cancelFunc = nil
		return fmt.Errorf("failed to announce client id: %w", err)
	}

	go c.readLoop(connCtx, conn, c.handler, c.readDone)

	c.log.Info().Str("url", c.cfg.URL).Int("client_id", c.cfg.ClientID).Msg("Connected to gateway")
	return nil
}

func (c *Client) dial() (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial gateway: %w", err)
	}
	// Account summaries for large books can exceed the default read limit.
	conn.SetReadLimit(1 << 20)
	return conn, nil
}

// dialBackoff is baseDialDelay * 2^(attempt-1), capped at maxDialDelay.
func dialBackoff(attempt int) time.Duration {
	delay := float64(baseDialDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxDialDelay) {
		return maxDialDelay
	}
	return time.Duration(delay)
}

// Disconnect closes the connection and waits for the read loop to exit.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return nil
	}
	c.stopping = true
	conn, cancel, done := c.conn, c.cancelFunc, c.readDone
	c.conn = nil
	c.cancelFunc = nil
	c.mu.Unlock()

	c.log.Info().Msg("Disconnecting from gateway")

	err := conn.Close(websocket.StatusNormalClosure, "")
	cancel()
	<-done

	if err != nil {
		c.log.Debug().Err(err).Msg("Gateway close handshake incomplete")
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, h domain.EventHandler, done chan struct{}) {
	defer close(done)
	defer c.log.Debug().Msg("Gateway read loop stopped")

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if c.isStopping() || ctx.Err() != nil {
				return
			}
			c.fail(domain.Anomalyf("gateway connection lost: %v", err))
			return
		}

		f, err := decodeFrame(typ, data)
		if err != nil {
			c.fail(domain.Anomalyf("%v", err))
			return
		}

		if err := dispatch(h, f); err != nil {
			c.log.Error().Err(err).Str("type", f.Type).Msg("Gateway event handler failed")
			c.fail(err)
			return
		}
	}
}

func (c *Client) isStopping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopping
}

func (c *Client) fail(err error) {
	c.fatalOnce.Do(func() {
		if c.onFatal != nil {
			c.onFatal(err)
		}
	})
}

func (c *Client) send(f frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("gateway: not connected")
	}
	return c.writeLocked(context.Background(), f)
}

func (c *Client) writeLocked(ctx context.Context, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal %s frame: %w", f.Type, err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()

	if err := c.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send %s frame: %w", f.Type, err)
	}
	return nil
}

// RequestAccountSummary subscribes to the account summary tags.
func (c *Client) RequestAccountSummary(reqID int, tags []string) error {
	return c.send(frame{Type: typeReqAccountSummary, ReqID: reqID, Tags: tags})
}

// RequestPositions requests the position stream.
func (c *Client) RequestPositions() error {
	return c.send(frame{Type: typeReqPositions})
}

// RequestRealTimeBars subscribes to periodic price bars for one contract.
func (c *Client) RequestRealTimeBars(reqID int, contract domain.ContractPayload, barSize int, what string, rthOnly bool) error {
	return c.send(frame{
		Type:     typeReqRealtimeBars,
		ReqID:    reqID,
		Contract: &contract,
		BarSize:  barSize,
		What:     what,
		RTHOnly:  rthOnly,
	})
}

// RequestIDs asks for the next valid order id; the reply is one next_valid_id event.
func (c *Client) RequestIDs() error {
	return c.send(frame{Type: typeReqIDs})
}

// PlaceOrder submits an order under the given id.
func (c *Client) PlaceOrder(id domain.OrderID, contract domain.ContractPayload, order domain.Order) error {
	return c.send(frame{Type: typePlaceOrder, OrderID: id, Contract: &contract, Order: &order})
}

// CancelOrder cancels an order by id.
func (c *Client) CancelOrder(id domain.OrderID) error {
	return c.send(frame{Type: typeCancelOrder, OrderID: id})
}

var _ domain.Broker = (*Client)(nil)
