package networking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Runs work on the caller's single execution context.
type Poster interface {
	// Returns false if the work was not accepted because the context has stopped.
	Post(work func()) bool
}

// Subscribes to the teacher socket and keeps the latest Ranking.
//
// Messages are read on their own goroutine and handed to the Poster, so the
// ranking is only touched, and Render only called, on the poster's context.
type RankingClient struct {
	logger *slog.Logger

	serverURL string
	poster    Poster
	render    func(Ranking)

	state atomic.Int32

	// Written on the poster's context only; the mutex serves Latest from other goroutines.
	latestMutex sync.RWMutex
	latest      Ranking
}

// render is called with each successfully parsed ranking. It may be nil.
func NewRankingClient(serverURL string, poster Poster, render func(Ranking)) *RankingClient {
	uuid := uuid.New()
	return &RankingClient{
		logger:    slog.Default().With("ranking client uuid", uuid),
		serverURL: serverURL,
		poster:    poster,
		render:    render,
	}
}

func (c *RankingClient) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

func (c *RankingClient) Latest() Ranking {
	c.latestMutex.RLock()
	defer c.latestMutex.RUnlock()
	return c.latest
}

// Apply one teacher socket payload. Malformed payloads are logged and dropped,
// leaving the previous ranking in place.
//
// Must run on the poster's context.
func (c *RankingClient) HandleMessage(payload []byte) {
	msg, err := ParseMessage(payload)
	if err != nil {
		c.logger.Warn("ignoring teacher message", "err", err)
		return
	}

	switch m := msg.(type) {
	case RankingMessage:
		c.latestMutex.Lock()
		c.latest = m.Ranking
		c.latestMutex.Unlock()
		if c.render != nil {
			c.render(m.Ranking)
		}
	case UnknownMessage:
		c.logger.Debug("ignoring message of unknown type", "type", m.Type)
	}
}

// Connect and read until the context ends or the socket closes.
//
// Returns nil when the context ends or the server closes the socket normally.
// There is no reconnection.
func (c *RankingClient) Run(ctx context.Context) error {
	u, err := websocketURL(c.serverURL, teacherPath)
	if err != nil {
		c.state.Store(int32(ConnectionError))
		return fmt.Errorf("failed to build websocket URL: %w", err)
	}

	c.state.Store(int32(ConnectionConnecting))
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		c.state.Store(int32(ConnectionError))
		return fmt.Errorf("failed to connect: %w", err)
	}
	c.state.Store(int32(ConnectionConnected))
	c.logger.Info("connected", "url", u.String())

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			conn.Close()
		case <-stopped:
			conn.Close()
		}
	}()

	conn.SetReadLimit(maxMessageSize)
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.state.Store(int32(ConnectionClosed))
				c.logger.Info("connection closed")
				return nil
			}
			c.state.Store(int32(ConnectionError))
			return fmt.Errorf("read: %w", err)
		}

		if !c.poster.Post(func() { c.HandleMessage(payload) }) {
			c.state.Store(int32(ConnectionClosed))
			return errors.New("event loop stopped")
		}
	}
}
