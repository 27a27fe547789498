package networking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 512 * 1024
	handshakeTimeout  = 10 * time.Second
	DefaultSendBuffer = 32
)

// Dials WebSocketLinks to the student endpoint of a ranking server.
type WebSocketLinkDialer struct {
	// Base URL of the server, e.g. http://localhost:8000
	ServerURL string

	// Frames buffered between Send and the socket before frames are dropped.
	SendBuffer int
}

func (d WebSocketLinkDialer) Dial(ctx context.Context, name string) (Link, error) {
	u, err := websocketURL(d.ServerURL, studentPath)
	if err != nil {
		return nil, fmt.Errorf("failed to build websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("name", studentName(name))
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	sendBuffer := d.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	return newWebSocketLink(conn, sendBuffer), nil
}

// A Link over a single websocket connection. Frames go out as binary messages.
//
// There is no reconnection: once the socket closes or fails the link is done,
// and a new one must be dialed.
type WebSocketLink struct {
	*linkLifecycle
	logger *slog.Logger

	conn      *websocket.Conn
	sendChan  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWebSocketLink(conn *websocket.Conn, sendBuffer int) *WebSocketLink {
	uuid := uuid.New()
	l := &WebSocketLink{
		linkLifecycle: newLinkLifecycle(),
		logger: slog.Default().With(
			"websocket link uuid", uuid,
			"remote", conn.RemoteAddr().String(),
		),
		conn:     conn,
		sendChan: make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
	l.markOpened()
	l.logger.Info("link connected")

	go l.writePump()
	go l.readPump()
	return l
}

func (l *WebSocketLink) Send(payload []byte) bool {
	if l.State() != ConnectionConnected {
		return false
	}
	select {
	case l.sendChan <- payload:
		return true
	default:
		l.dropped.Add(1)
		l.logger.Debug("send buffer full, dropping frame", "bytes", len(payload), "dropped", l.Dropped())
		return false
	}
}

func (l *WebSocketLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.markTerminal(nil)
		close(l.done)

		l.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		err = l.conn.Close()
		l.logger.Info("link closed", "dropped", l.Dropped())
	})
	return err
}

// Fail the link from one of the pumps.
func (l *WebSocketLink) fail(err error) {
	if l.markTerminal(err) {
		if err != nil {
			l.logger.Warn("link failed", "err", err)
		} else {
			l.logger.Info("link closed by server")
		}
	}
	l.Close()
}

// Inbound messages are not part of the student protocol and are discarded;
// reading keeps pong and close handling alive.
func (l *WebSocketLink) readPump() {
	l.conn.SetReadLimit(maxMessageSize)
	l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		l.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := l.conn.ReadMessage(); err != nil {
			select {
			case <-l.done:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.fail(nil)
			} else {
				l.fail(err)
			}
			return
		}
	}
}

func (l *WebSocketLink) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return

		case payload := <-l.sendChan:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				select {
				case <-l.done:
				default:
					l.fail(fmt.Errorf("write: %w", err))
				}
				return
			}

		case <-ticker.C:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				select {
				case <-l.done:
				default:
					l.fail(errors.Join(errors.New("ping failed"), err))
				}
				return
			}
		}
	}
}
