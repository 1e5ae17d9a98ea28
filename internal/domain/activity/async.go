package activity

import (
	"context"
	"errors"
	"sync"

	"gymcoach/internal/pkg/logger"
)

var ErrSinkFull = errors.New("activity queue is full")

// AsyncSink queues entries for a slower sink and delivers them from a single
// worker goroutine. Publish never waits on the wrapped sink.
type AsyncSink struct {
	next  Sink
	queue chan Entry
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewAsyncSink(next Sink, buffer int) *AsyncSink {
	if buffer <= 0 {
		buffer = 256
	}
	s := &AsyncSink{
		next:  next,
		queue: make(chan Entry, buffer),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

// Publish enqueues e. A full queue drops the entry with ErrSinkFull.
func (s *AsyncSink) Publish(_ context.Context, e Entry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkFull
	}
	select {
	case s.queue <- e:
		return nil
	default:
		return ErrSinkFull
	}
}

// Close stops accepting entries and waits until the queue is drained.
func (s *AsyncSink) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for e := range s.queue {
		if err := s.next.Publish(context.Background(), e); err != nil {
			logger.Logger.WithError(err).WithField("action", e.Action).Warn("failed to deliver activity")
		}
	}
}
