package syncer

import "github.com/rs/zerolog"

// Bus lets writers ask for a query to be refetched without knowing how it is
// scheduled. Invalidate never blocks on the fetch it requests.
type Bus struct {
	scheduler *Scheduler
	logger    zerolog.Logger
}

func NewBus(scheduler *Scheduler, logger zerolog.Logger) *Bus {
	return &Bus{
		scheduler: scheduler,
		logger:    logger.With().Str("component", "bus").Logger(),
	}
}

// Invalidate marks key stale and requests an immediate refetch. Unknown keys
// are ignored: nothing is displaying them.
func (b *Bus) Invalidate(key string) {
	if !b.scheduler.cache.markStale(key) {
		b.logger.Debug().Str("key", key).Msg("invalidate for unscheduled key ignored")
		return
	}
	b.scheduler.RefetchNow(key)
}
