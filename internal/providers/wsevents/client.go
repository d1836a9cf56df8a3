package wsevents

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"cosmosai/internal/domain"
	"cosmosai/internal/ports"
)

const (
	eventBuffer  = 64
	closeTimeout = time.Second
)

// Protocol translates one vendor's realtime event socket.
type Protocol interface {
	Name() string
	DialURL(base string, req domain.StartRequest) (string, http.Header, error)
	// Decode turns one frame into zero or more normalized events.
	Decode(payload []byte) ([]domain.VendorEvent, error)
}

// Config controls the event socket transport.
type Config struct {
	EventsURL        string
	HandshakeTimeout time.Duration
}

// Provider implements ports.VendorProvider over a websocket event stream.
type Provider struct {
	protocol Protocol
	cfg      Config
	log      zerolog.Logger
}

func NewProvider(protocol Protocol, cfg Config, logger zerolog.Logger) *Provider {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &Provider{protocol: protocol, cfg: cfg, log: logger}
}

func (p *Provider) NewClient(_ context.Context) (ports.VendorClient, error) {
	if p.protocol == nil {
		return nil, errors.New("vendor protocol is not configured")
	}
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = p.cfg.HandshakeTimeout
	client := &Client{
		protocol:  p.protocol,
		baseURL:   strings.TrimSpace(p.cfg.EventsURL),
		dialer:    &dialer,
		log:       p.log.With().Str("vendor", p.protocol.Name()).Logger(),
		queue:     make(chan queuedEvent, eventBuffer),
		events:    make(chan domain.VendorEvent),
		done:      make(chan struct{}),
		forwarded: make(chan struct{}),
	}
	go client.forward()
	return client, nil
}

// Client holds at most one vendor connection at a time. Events is shared by
// every connection the client opens and is closed by Close. Read loops queue
// events and a single forwarder delivers them, dropping whatever a stopped
// connection left in the queue.
type Client struct {
	protocol Protocol
	baseURL  string
	dialer   *websocket.Dialer
	log      zerolog.Logger

	queue     chan queuedEvent
	events    chan domain.VendorEvent
	done      chan struct{}
	forwarded chan struct{}

	mu     sync.Mutex
	conn   *connection
	closed bool

	wg        sync.WaitGroup
	closeOnce sync.Once
}

type queuedEvent struct {
	conn  *connection
	event domain.VendorEvent
}

type connection struct {
	ws      *websocket.Conn
	attempt uint64
	ended   atomic.Bool

	stopped  atomic.Bool
	halt     chan struct{}
	haltOnce sync.Once

	closeOnce sync.Once
	closeErr  error
}

func newConnection(ws *websocket.Conn, attempt uint64) *connection {
	return &connection{ws: ws, attempt: attempt, halt: make(chan struct{})}
}

func (c *connection) stop() {
	c.haltOnce.Do(func() {
		c.stopped.Store(true)
		close(c.halt)
	})
}

func (c *connection) close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func (c *Client) Start(ctx context.Context, req domain.StartRequest) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("voice client is closed")
	}
	if c.conn != nil {
		c.mu.Unlock()
		return errors.New("a voice session is already running")
	}
	c.mu.Unlock()

	wsURL, header, err := c.protocol.DialURL(c.baseURL, req)
	if err != nil {
		return err
	}

	ws, resp, err := c.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect to %s: status %d: %w", c.protocol.Name(), resp.StatusCode, err)
		}
		return fmt.Errorf("failed to connect to %s: %w", c.protocol.Name(), err)
	}

	conn := newConnection(ws, req.Attempt)
	c.mu.Lock()
	if c.closed || c.conn != nil {
		c.mu.Unlock()
		_ = conn.close()
		return errors.New("voice client changed while connecting")
	}
	c.conn = conn
	c.wg.Add(1)
	c.mu.Unlock()

	c.log.Debug().Str("url", redactQuery(wsURL)).Msg("event socket connected")
	go c.readLoop(conn)
	return nil
}

// Stop closes the current connection. Events it has not yet delivered,
// queued ones included, are dropped. Stop does not wait for the read loop.
func (c *Client) Stop() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.shutdown(conn)
}

func (c *Client) Events() <-chan domain.VendorEvent {
	return c.events
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()

		close(c.done)
		if conn != nil {
			err = c.shutdown(conn)
		}
		c.wg.Wait()
		<-c.forwarded
		close(c.events)
	})
	return err
}

func (c *Client) shutdown(conn *connection) error {
	conn.stop()

	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.ws.WriteControl(websocket.CloseMessage, message, time.Now().Add(closeTimeout)); err != nil {
		c.log.Debug().Err(err).Msg("close frame not delivered")
	}
	if err := conn.close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("failed to close %s socket: %w", c.protocol.Name(), err)
	}
	return nil
}

func (c *Client) release(conn *connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
	}
}

func (c *Client) readLoop(conn *connection) {
	defer c.wg.Done()
	defer func() { _ = conn.close() }()
	defer c.release(conn)

	for {
		_, payload, err := conn.ws.ReadMessage()
		if err != nil {
			if conn.stopped.Load() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				if !conn.ended.Load() {
					c.emit(conn, domain.VendorEvent{Kind: domain.VendorEventSessionEnded})
				}
				return
			}
			c.log.Warn().Err(err).Msg("event socket failed")
			c.emit(conn, domain.VendorEvent{Kind: domain.VendorEventError, Detail: socketFailureDetail(err)})
			return
		}

		events, err := c.protocol.Decode(payload)
		if err != nil {
			c.log.Debug().Err(err).Msg("ignoring undecodable vendor frame")
			continue
		}
		for _, event := range events {
			if !c.emit(conn, event) {
				return
			}
			if event.Kind == domain.VendorEventSessionEnded {
				conn.ended.Store(true)
			}
		}
	}
}

// emit queues event, tagged with the connection's attempt, unless conn was
// stopped locally or the client closed.
func (c *Client) emit(conn *connection, event domain.VendorEvent) bool {
	if conn.stopped.Load() {
		return false
	}
	event.Attempt = conn.attempt
	select {
	case c.queue <- queuedEvent{conn: conn, event: event}:
		return true
	case <-conn.halt:
		return false
	case <-c.done:
		return false
	}
}

func (c *Client) forward() {
	defer close(c.forwarded)

	for {
		select {
		case item := <-c.queue:
			if item.conn.stopped.Load() {
				continue
			}
			select {
			case c.events <- item.event:
			case <-item.conn.halt:
			case <-c.done:
				return
			}
		case <-c.done:
			return
		}
	}
}

func socketFailureDetail(err error) string {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && strings.TrimSpace(closeErr.Text) != "" {
		return closeErr.Text
	}
	return "connection lost"
}

func redactQuery(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}
