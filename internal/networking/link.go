package networking

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	DefaultStudentName = "Student"
	studentPath        = "/ws/student"
	teacherPath        = "/ws/teacher"
)

var (
	errLinkNotOpened = errors.New("link closed before it opened")
)

// A lifecycle notification from a Link.
//
// State is ConnectionConnected once the link opens, then exactly one of
// ConnectionClosed or ConnectionError. Err is only set with ConnectionError.
type LinkEvent struct {
	State ConnectionState
	Err   error
}

// A duplex message channel to the ranking server carrying one binary
// message per audio frame.
type Link interface {
	// Enqueue a binary message without blocking.
	// Returns false, sending nothing, unless the link is connected and has buffer space.
	Send(payload []byte) bool

	State() ConnectionState

	// Lifecycle events, each delivered at most once. The channel is closed
	// after the terminal (closed or error) event.
	Events() <-chan LinkEvent

	// Close the link. Safe to call more than once and from any state.
	Close() error
}

// Opens Links on behalf of a named student.
type LinkDialer interface {
	Dial(ctx context.Context, name string) (Link, error)
}

// State and event bookkeeping shared by Link implementations.
type linkLifecycle struct {
	state        atomic.Int32
	events       chan LinkEvent
	openOnce     sync.Once
	terminalOnce sync.Once
	dropped      atomic.Uint64

	// Closed alongside the matching event, for waiters that must not consume events.
	opened     chan struct{}
	terminated chan struct{}
	err        error
}

func newLinkLifecycle() *linkLifecycle {
	l := &linkLifecycle{
		// Room for the open and terminal events, so emitting never blocks
		events:     make(chan LinkEvent, 2),
		opened:     make(chan struct{}),
		terminated: make(chan struct{}),
	}
	l.state.Store(int32(ConnectionConnecting))
	return l
}

func (l *linkLifecycle) State() ConnectionState {
	return ConnectionState(l.state.Load())
}

func (l *linkLifecycle) Events() <-chan LinkEvent {
	return l.events
}

func (l *linkLifecycle) Dropped() uint64 {
	return l.dropped.Load()
}

func (l *linkLifecycle) markOpened() {
	l.openOnce.Do(func() {
		if !l.state.CompareAndSwap(int32(ConnectionConnecting), int32(ConnectionConnected)) {
			return
		}
		l.events <- LinkEvent{State: ConnectionConnected}
		close(l.opened)
	})
}

// Returns true if this call moved the link into its terminal state.
func (l *linkLifecycle) markTerminal(err error) bool {
	moved := false
	l.terminalOnce.Do(func() {
		moved = true
		event := LinkEvent{State: ConnectionClosed}
		if err != nil {
			event = LinkEvent{State: ConnectionError, Err: err}
		}
		l.err = err
		l.state.Store(int32(event.State))
		l.events <- event
		close(l.events)
		close(l.terminated)
	})
	return moved
}

// Resolve the URL of a path on the server, switching to a websocket scheme
// that follows the server's scheme (https gives wss).
func websocketURL(serverURL string, path string) (*url.URL, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u, nil
}

func studentName(name string) string {
	if strings.TrimSpace(name) == "" {
		return DefaultStudentName
	}
	return name
}
