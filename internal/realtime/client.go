// Package realtime consumes the chat application's realtime channel.
// Binary frames carry synthesized-speech chunks and are enqueued for
// playback immediately; text frames carry JSON control events.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

const (
	// pingInterval is how often the client pings the server.
	pingInterval = 30 * time.Second
	// pongWait is how long to wait for a pong before dropping the connection.
	pongWait = 60 * time.Second
	// writeTimeout bounds control-frame writes.
	writeTimeout = 10 * time.Second

	// reconnectBase is the initial reconnect delay; it doubles per
	// attempt up to reconnectMax.
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// EventStreamFinished is sent by the server when a speech stream ends.
// It is informational only and does not alter playback state.
const EventStreamFinished = "response_audio_finished"

// ChunkConsumer receives audio chunks in arrival order.
type ChunkConsumer interface {
	Enqueue(chunk []byte)
}

// Event is a JSON control event on the channel.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Client maintains a websocket connection to the realtime channel and
// feeds audio chunks to the consumer. It reconnects with capped
// exponential backoff; a dropped connection simply stops producing new
// chunks, and anything already queued still drains.
type Client struct {
	url      string
	header   http.Header
	consumer ChunkConsumer
	dialer   *websocket.Dialer
	logger   *log.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewClient creates a client for the given websocket URL.
func NewClient(url string, header http.Header, consumer ChunkConsumer, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		url:      url,
		header:   header,
		consumer: consumer,
		dialer:   websocket.DefaultDialer,
		logger:   logger,
	}
}

// Run connects and consumes the channel until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	delay := reconnectBase
	for {
		conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("realtime dial failed", "url", c.url, "err", err, "retry_in", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay = min(delay*2, reconnectMax)
			continue
		}

		delay = reconnectBase
		c.logger.Info("realtime channel connected", "url", c.url)
		err = c.consume(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("realtime channel dropped", "err", err)
	}
}

// consume reads frames from one connection until it fails or ctx is
// cancelled.
func (c *Client) consume(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close() //nolint:errcheck

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go c.pingLoop(conn, stopPing)

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stopPing:
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		switch msgType {
		case websocket.BinaryMessage:
			// Chunk delivery: enqueue immediately, ordering is defined
			// solely by arrival order.
			c.consumer.Enqueue(data)

		case websocket.TextMessage:
			c.handleEvent(data)
		}
	}
}

// handleEvent dispatches a JSON control event.
func (c *Client) handleEvent(data []byte) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		c.logger.Debug("unparseable realtime event", "err", err)
		return
	}

	switch ev.Type {
	case EventStreamFinished:
		c.logger.Debug("speech stream finished")
	default:
		c.logger.Debug("ignoring realtime event", "type", ev.Type)
	}
}

// pingLoop keeps the connection alive until stop is closed.
func (c *Client) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					c.logger.Debug("ping failed", "err", err)
				}
				return
			}
		case <-stop:
			return
		}
	}
}
