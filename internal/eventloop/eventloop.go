package eventloop

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const DefaultQueueSize = 64

// Runs posted work one item at a time, in posting order, on the goroutine that calls Run.
//
// State touched only from posted work needs no further locking.
type Loop struct {
	logger *slog.Logger

	work     chan func()
	done     chan struct{}
	stopOnce sync.Once
}

// queueSize is the number of items that may wait before Post blocks.
func New(queueSize int) *Loop {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	uuid := uuid.New()
	return &Loop{
		logger: slog.Default().With("event loop uuid", uuid),
		work:   make(chan func(), queueSize),
		done:   make(chan struct{}),
	}
}

// Queue work to run on the loop. Blocks while the queue is full.
// Returns false once the loop has stopped; the work is then never run.
func (l *Loop) Post(work func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.work <- work:
		return true
	case <-l.done:
		return false
	}
}

// Run posted work until the context ends. Work still queued at that point is dropped.
//
// A panic in one item is logged and does not stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	defer l.stopOnce.Do(func() { close(l.done) })
	l.logger.Debug("event loop started")

	for {
		select {
		case <-ctx.Done():
			l.logger.Debug("event loop stopped", "dropped", len(l.work))
			return nil
		case work := <-l.work:
			l.run(work)
		}
	}
}

func (l *Loop) run(work func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("posted work panicked", "panic", r)
		}
	}()
	work()
}
