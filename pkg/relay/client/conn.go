package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"github.com/go-logr/logr"

	errors "github.com/yago-123/wormhole/pkg/error"
	"github.com/yago-123/wormhole/pkg/relay/types"
)

type EventType int

const (
	EventOpen EventType = iota
	EventMessage
	EventError
	EventClose
)

func (t EventType) String() string {
	switch t {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event is something that happened on the relay connection. Data is set for messages, Err for
// errors, Code and Reason for the final close
type Event struct {
	Type   EventType
	Data   string
	Err    error
	Code   int
	Reason string
}

// Conn is a persistent connection to one relay slot
type Conn struct {
	ws       *websocket.Conn
	endpoint string
	events   chan Event
	cancel   context.CancelFunc
	logger   logr.Logger

	mu          sync.Mutex
	closed      bool
	closeCode   int
	closeReason string
}

// Dial opens a connection to the relay at base. If slot is empty the relay allocates a new one
func Dial(ctx context.Context, base, slot string, opts ...Option) (*Conn, error) {
	cfg := newDefaultConfig()

	for _, opt := range opts {
		opt(cfg)
	}

	endpoint, err := Endpoint(base, slot)
	if err != nil {
		return nil, err
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, cfg.dialTimeout)
	defer cancelDial()

	ws, _, err := websocket.Dial(dialCtx, endpoint, &websocket.DialOptions{
		HTTPClient:   cfg.httpClient,
		Subprotocols: []string{types.Protocol},
	})
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", endpoint, err)
	}
	ws.SetReadLimit(cfg.readLimit)

	// Reads live as long as the connection, not as long as the dial context
	readCtx, cancel := context.WithCancel(context.Background())

	c := &Conn{
		ws:       ws,
		endpoint: endpoint,
		events:   make(chan Event, eventBuffer),
		cancel:   cancel,
		logger:   cfg.logger,
	}

	go c.readLoop(readCtx)

	return c, nil
}

// Events delivers connection events in arrival order. The channel is closed after EventClose
func (c *Conn) Events() <-chan Event {
	return c.events
}

// Endpoint returns the websocket address this connection was dialed on
func (c *Conn) Endpoint() string {
	return c.endpoint
}

// Send writes a text message to the relay. It is safe for concurrent use
func (c *Conn) Send(ctx context.Context, msg string) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return errors.ErrTransportClosed
	}

	if err := c.ws.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
		return fmt.Errorf("write relay message: %w", err)
	}

	return nil
}

// Close closes the connection with the given websocket close code. Calls after the first one do nothing
func (c *Conn) Close(code int, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	c.mu.Unlock()

	defer c.cancel()

	if err := c.ws.Close(websocket.StatusCode(code), reason); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.V(1).Info("Relay close handshake did not complete", "endpoint", c.endpoint, "error", err.Error())
	}

	return nil
}

func (c *Conn) readLoop(ctx context.Context) {
	defer close(c.events)

	c.events <- Event{Type: EventOpen}

	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			c.finish(err)
			return
		}

		// The relay protocol is text framed
		if typ != websocket.MessageText {
			c.logger.V(1).Info("Dropping non-text relay message", "endpoint", c.endpoint, "size", len(data))
			continue
		}

		c.events <- Event{Type: EventMessage, Data: string(data)}
	}
}

func (c *Conn) finish(err error) {
	c.mu.Lock()
	localClose := c.closed
	code, reason := c.closeCode, c.closeReason
	c.closed = true
	c.mu.Unlock()

	defer c.cancel()

	var closeErr websocket.CloseError
	if errors.As(err, &closeErr) {
		c.events <- Event{Type: EventClose, Code: int(closeErr.Code), Reason: closeErr.Reason}
		return
	}

	if localClose {
		c.events <- Event{Type: EventClose, Code: code, Reason: reason}
		return
	}

	c.events <- Event{Type: EventError, Err: err}
	c.events <- Event{Type: EventClose, Code: int(websocket.StatusAbnormalClosure), Reason: err.Error()}
}
