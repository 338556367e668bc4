package split

import (
	"context"

	"github.com/rs/zerolog/log"
)

// step is one write of a multi-record change together with the write that undoes it.
type step struct {
	name string
	// created is the record ID a successful do leaves behind, reported if undo fails.
	created string
	do      func(ctx context.Context) error
	undo    func(ctx context.Context) error
}

// txLog runs steps in order and remembers the ones that took effect.
type txLog struct {
	done []step
}

func (l *txLog) run(ctx context.Context, s step) error {
	if err := s.do(ctx); err != nil {
		return err
	}
	l.done = append(l.done, s)
	return nil
}

// rollback undoes completed steps in reverse order. It runs on a context that ignores the
// caller's cancellation and returns the IDs left behind by steps whose undo failed.
func (l *txLog) rollback(ctx context.Context) (orphaned []string, firstErr error) {
	ctx = context.WithoutCancel(ctx)
	for i := len(l.done) - 1; i >= 0; i-- {
		s := l.done[i]
		if s.undo == nil {
			continue
		}
		if err := s.undo(ctx); err != nil {
			log.Error().Err(err).Str("step", s.name).Str("record_id", s.created).Msg("compensation failed")
			if s.created != "" {
				orphaned = append(orphaned, s.created)
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		log.Info().Str("step", s.name).Str("record_id", s.created).Msg("compensated")
	}
	l.done = nil
	return orphaned, firstErr
}
