package explain

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/moverun/internal/stream"
)

// Worker subscribes to movement events and publishes explanations back
// onto the bus. Movements are handled one at a time in arrival order.
type Worker struct {
	explainer Explainer
	bus       *stream.Bus
	timeout   time.Duration
	sub       *stream.Subscription
}

// NewWorker subscribes immediately; timeout bounds one explanation
// including retries
func NewWorker(e Explainer, bus *stream.Bus, timeout time.Duration) *Worker {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Worker{explainer: e, bus: bus, timeout: timeout, sub: bus.Subscribe(64)}
}

// Run consumes until ctx is done or the bus closes. The subscription is
// drained by a separate goroutine so a slow explainer never backs up the
// bus; only movements are queued.
func (w *Worker) Run(ctx context.Context) error {
	sub := w.sub
	defer func() {
		if n := sub.Dropped(); n > 0 {
			log.Warn().Uint64("dropped", n).Msg("Explanation worker fell behind")
		}
		sub.Cancel()
	}()

	q := newMovementQueue()
	go func() {
		defer q.close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				if ev.Kind == stream.KindMovement && ev.Movement != nil {
					q.push(ev)
				}
			}
		}
	}()

	for {
		ev, ok := q.pop(ctx)
		if !ok {
			return ctx.Err()
		}
		w.handle(ctx, ev)
	}
}

func (w *Worker) handle(ctx context.Context, ev stream.Event) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	rec := *ev.Movement
	exp, err := w.explainer.Explain(ctx, rec)
	if err != nil {
		log.Warn().Err(err).Str("symbol", string(rec.Movement.Symbol)).
			Str("movement_id", rec.Movement.ID).Msg("Explanation failed")
		return
	}
	if _, err := w.bus.Publish(stream.ExplanationEvent(rec.Movement.Symbol, exp)); err != nil {
		log.Debug().Err(err).Msg("Explanation not published")
		return
	}
	log.Info().Str("symbol", string(rec.Movement.Symbol)).Str("movement_id", rec.Movement.ID).
		Float64("confidence", exp.Confidence).Msg("Explanation received")
}

// movementQueue is an unbounded FIFO between the subscription reader and
// the explainer loop
type movementQueue struct {
	mu     sync.Mutex
	items  []stream.Event
	closed bool
	ready  chan struct{}
}

func newMovementQueue() *movementQueue {
	return &movementQueue{ready: make(chan struct{}, 1)}
}

func (q *movementQueue) push(ev stream.Event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
	q.signal()
}

func (q *movementQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *movementQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// pop blocks for the next movement. It reports false once the queue is
// closed and drained, or when ctx is done.
func (q *movementQueue) pop(ctx context.Context) (stream.Event, bool) {
	for {
		if ctx.Err() != nil {
			return stream.Event{}, false
		}
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = stream.Event{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return stream.Event{}, false
		}
		select {
		case <-ctx.Done():
			return stream.Event{}, false
		case <-q.ready:
		}
	}
}
