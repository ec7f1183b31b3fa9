package live

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/echolab/live-gateway/internal/config"
	"github.com/echolab/live-gateway/internal/observability"
	"github.com/echolab/live-gateway/internal/resilience"
	"github.com/echolab/live-gateway/internal/session"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Client is the websocket transport to the upstream streaming inference
// endpoint. It implements session.Transport: Dial opens the connection and a
// read pump converts frames into session events.
type Client struct {
	url     string
	apiKey  string
	dialCfg *resilience.DialConfig
	logger  zerolog.Logger

	events chan session.Event

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewClient creates an undialed upstream client.
func NewClient(cfg *config.Config, logger zerolog.Logger) *Client {
	return &Client{
		url:    cfg.UpstreamURL,
		apiKey: cfg.UpstreamAPIKey,
		dialCfg: &resilience.DialConfig{
			MaxAttempts: cfg.DialMaxAttempts,
			Backoff:     time.Duration(cfg.DialBackoffMs) * time.Millisecond,
			Multiplier:  2.0,
			MaxBackoff:  10 * time.Second,
		},
		logger: logger,
		events: make(chan session.Event, 64),
	}
}

// Dial establishes the upstream connection with bounded backoff. Retry here
// covers the initial connect only; once a session is open, transport errors
// are terminal.
func (c *Client) Dial(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	err := resilience.DialWithBackoff(ctx, func() error {
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
		if err != nil {
			if resp != nil {
				return fmt.Errorf("upstream dial failed (status %d): %w", resp.StatusCode, err)
			}
			return fmt.Errorf("upstream dial failed: %w", err)
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		return nil
	}, c.dialCfg)
	if err != nil {
		return err
	}
	observability.RecordDialLatency(time.Since(start))

	c.logger.Info().Str("url", c.url).Msg("Upstream stream connected")
	c.events <- session.Event{Type: session.EventOpen}
	go c.readPump()
	return nil
}

// readPump forwards inbound frames as message events until the connection
// drops. A normal close becomes EventClosed; anything else EventError.
func (c *Client) readPump() {
	defer close(c.events)

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()

			if closed || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.events <- session.Event{Type: session.EventClosed}
			} else {
				c.events <- session.Event{Type: session.EventError, Err: err}
			}
			return
		}
		c.events <- session.Event{Type: session.EventMessage, Payload: payload}
	}
}

// Send transmits one outbound packet. gorilla allows a single concurrent
// writer, so sends serialize on the client mutex.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.conn == nil {
		return fmt.Errorf("upstream connection is not open")
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("upstream send failed: %w", err)
	}
	return nil
}

// Close closes the upstream connection. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.conn == nil {
		close(c.events)
		return nil
	}

	// Best effort close handshake; the read pump sees the close and emits
	// EventClosed.
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.conn.Close()
}

// Events returns the transport callback stream.
func (c *Client) Events() <-chan session.Event {
	return c.events
}

var _ session.Transport = (*Client)(nil)
