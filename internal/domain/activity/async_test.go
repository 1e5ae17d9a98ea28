package activity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// gatedSink blocks every delivery until release is closed.
type gatedSink struct {
	started chan struct{}
	release chan struct{}

	mu        sync.Mutex
	delivered []string
}

func newGatedSink() *gatedSink {
	return &gatedSink{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (g *gatedSink) Publish(_ context.Context, e Entry) error {
	g.started <- struct{}{}
	<-g.release
	g.mu.Lock()
	defer g.mu.Unlock()
	g.delivered = append(g.delivered, e.Action)
	return nil
}

func (g *gatedSink) actions() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.delivered...)
}

func TestAsyncSinkDoesNotWaitOnSlowSink(t *testing.T) {
	slow := newGatedSink()
	sink := NewAsyncSink(slow, 1)
	ctx := context.Background()

	require.NoError(t, sink.Publish(ctx, Entry{Action: ActionSessionUsed}))
	select {
	case <-slow.started:
	case <-time.After(time.Second):
		t.Fatal("worker never picked up the entry")
	}

	require.NoError(t, sink.Publish(ctx, Entry{Action: ActionSessionUndone}))
	assert.ErrorIs(t, sink.Publish(ctx, Entry{Action: ActionSessionAdded}), ErrSinkFull)

	close(slow.release)
	sink.Close()
	assert.Equal(t, []string{ActionSessionUsed, ActionSessionUndone}, slow.actions())

	assert.ErrorIs(t, sink.Publish(ctx, Entry{Action: ActionSessionUsed}), ErrSinkFull)
}

func TestRecordReturnsWhileBrokerBlocks(t *testing.T) {
	release := make(chan time.Time)
	pub := new(mockPublisher)
	pub.On("Publish", "coach.events", "activity.session_used", mock.AnythingOfType("[]uint8")).
		WaitUntil(release).Return(nil).Once()

	async := NewAsyncSink(NewPublisherSink(pub, "coach.events"), 8)
	svc := setupService(t, async)

	done := make(chan struct{})
	go func() {
		svc.Record(context.Background(), Entry{Action: ActionSessionUsed, MemberID: ptr(3)})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on the broker")
	}

	close(release)
	async.Close()
	pub.AssertExpectations(t)
}
