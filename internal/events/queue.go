package events

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/EchoPBX/devtools-bridge/pkg/sdk"
	"go.uber.org/zap"
)

// Dispatcher receives events from the queue, one at a time, in sequence order.
type Dispatcher interface {
	Dispatch(ev sdk.Event)
}

// Queue serialises events coming from any goroutine. Sequence numbers are
// assigned and the event appended inside the same critical section, so the
// pending slice is always sorted by Seq. At most one drain goroutine runs at
// a time and it owns the delivery context while it runs. Only the drain
// reports queue depth, so depth reports never arrive out of order.
type Queue struct {
	dispatcher Dispatcher
	log        *zap.Logger
	obs        Observer
	now        func() time.Time

	mu       sync.Mutex
	seq      uint64
	pending  []sdk.Event
	draining bool
	closed   bool
	idle     chan struct{}
}

type QueueOption func(*Queue)

func WithQueueLogger(l *zap.Logger) QueueOption {
	return func(q *Queue) {
		if l != nil {
			q.log = l
		}
	}
}

func WithQueueObserver(o Observer) QueueOption {
	return func(q *Queue) {
		if o != nil {
			q.obs = o
		}
	}
}

func WithQueueClock(now func() time.Time) QueueOption {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

func NewQueue(d Dispatcher, opts ...QueueOption) *Queue {
	idle := make(chan struct{})
	close(idle)
	q := &Queue{
		dispatcher: d,
		log:        zap.NewNop(),
		obs:        nopObserver{},
		now:        time.Now,
		idle:       idle,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue stamps the event with the next sequence number and hands it to the
// drain loop, starting one if none is running. It never waits for dispatch.
// The only failure is ErrQueueClosed after Close.
func (q *Queue) Enqueue(name string, payload any, origin sdk.Origin) (sdk.Event, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return sdk.Event{}, ErrQueueClosed
	}
	q.seq++
	ev := sdk.Event{
		Name:    name,
		Payload: payload,
		Seq:     q.seq,
		Origin:  origin,
		Time:    q.now(),
	}
	q.pending = append(q.pending, ev)
	start := !q.draining
	if start {
		q.draining = true
		q.idle = make(chan struct{})
	}
	q.mu.Unlock()

	q.obs.EventEnqueued(name)
	if start {
		go q.drain()
	}
	return ev, nil
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			// draining is only cleared here, with the lock held and nothing
			// pending, so a concurrent Enqueue either lands before this check
			// or starts a fresh drain. The final depth goes out before that,
			// so the next drain's reports always come after it.
			q.obs.QueueDepth(0)
			q.draining = false
			q.pending = nil
			close(q.idle)
			q.mu.Unlock()
			return
		}
		ev := q.pending[0]
		q.pending[0] = sdk.Event{}
		q.pending = q.pending[1:]
		depth := len(q.pending)
		q.mu.Unlock()

		q.obs.QueueDepth(depth)
		q.dispatch(ev)
	}
}

func (q *Queue) dispatch(ev sdk.Event) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("dispatcher panicked",
				zap.String("event", ev.Name),
				zap.Uint64("seq", ev.Seq),
				zap.String("panic", fmt.Sprint(r)),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	q.dispatcher.Dispatch(ev)
}

// Flush blocks until every event enqueued before the call has been dispatched.
func (q *Queue) Flush(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close refuses further events. Already queued events are still dispatched.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) Draining() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.draining
}
