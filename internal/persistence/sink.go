package persistence

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/moverun/internal/stream"
)

// Sink writes bus events to the store in publish order. Write failures are
// logged and skipped; the pipeline never waits on storage.
type Sink struct {
	store   *Store
	bus     *stream.Bus
	samples bool
	sub     *stream.Subscription
}

// NewSink subscribes immediately, so events published before Run starts
// are still written. When samples is false only movements and
// explanations are stored.
func NewSink(store *Store, bus *stream.Bus, samples bool) *Sink {
	return &Sink{store: store, bus: bus, samples: samples, sub: bus.Subscribe(1024)}
}

// Run consumes until ctx is done or the bus closes
func (s *Sink) Run(ctx context.Context) error {
	sub := s.sub
	defer func() {
		if n := sub.Dropped(); n > 0 {
			log.Warn().Uint64("dropped", n).Msg("Persistence sink fell behind")
		}
		sub.Cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			s.write(ctx, ev)
		}
	}
}

func (s *Sink) write(ctx context.Context, ev stream.Event) {
	var err error
	start := time.Now()
	switch {
	case ev.Kind == stream.KindPrice && ev.Price != nil && s.samples:
		err = s.store.SaveSample(ctx, *ev.Price)
	case ev.Kind == stream.KindMovement && ev.Movement != nil:
		err = s.store.SaveMovement(ctx, *ev.Movement)
	case ev.Kind == stream.KindExplanation && ev.Explanation != nil:
		err = s.store.SaveExplanation(ctx, *ev.Explanation)
	default:
		return
	}
	if err != nil {
		log.Error().Err(err).Str("kind", string(ev.Kind)).Uint64("seq", ev.Seq).Msg("Persist failed")
		return
	}
	log.Debug().Str("kind", string(ev.Kind)).Uint64("seq", ev.Seq).
		Dur("took", time.Since(start)).Msg("Persisted")
}
