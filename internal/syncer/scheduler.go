package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FetchFunc loads a query's value. It should honour ctx cancellation.
type FetchFunc func(ctx context.Context) (any, error)

// Config controls one query's polling cadence.
type Config struct {
	BaseInterval time.Duration
	MaxInterval  time.Duration
	// ActiveWindow is how long after Schedule or MarkActive a successful
	// fetch snaps the interval back to BaseInterval. Outside the window each
	// success stretches the interval by half toward MaxInterval. Zero or
	// negative keeps the base interval forever.
	ActiveWindow time.Duration
	// FetchTimeout bounds each fetch. Zero leaves it to the transport.
	FetchTimeout time.Duration
}

func (c Config) validate() error {
	if c.BaseInterval <= 0 {
		return errors.New("base interval must be positive")
	}
	if c.MaxInterval < c.BaseInterval {
		return errors.New("max interval must be >= base interval")
	}
	if c.FetchTimeout < 0 {
		return errors.New("fetch timeout must not be negative")
	}
	return nil
}

const idleGrowth = 1.5

// ErrSchedulerClosed is returned by Schedule after Close.
var ErrSchedulerClosed = errors.New("scheduler closed")

type query struct {
	key   string
	fetch FetchFunc
	cfg   Config

	interval    time.Duration
	activeUntil time.Time
	failures    int

	timer *time.Timer
	gen   uint64
	armed bool

	inFlight bool
	pending  bool
	paused   bool
	removed  bool
}

// Scheduler polls each scheduled key on its own timer and writes results to
// a Cache. A key never has more than one fetch in flight.
//
// Lock order is Scheduler.mu then Cache.mu.
type Scheduler struct {
	cache  *Cache
	logger zerolog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	queries map[string]*query
	closed  bool
}

func NewScheduler(cache *Cache, logger zerolog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cache:   cache,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		queries: make(map[string]*query),
	}
}

// Cache returns the cache this scheduler writes to.
func (s *Scheduler) Cache() *Cache {
	return s.cache
}

// Schedule starts polling key with fetch. It fetches once immediately and
// opens the active window. Scheduling an existing key replaces it; a fetch
// still running for the old registration is discarded when it lands.
func (s *Scheduler) Schedule(key string, fetch FetchFunc, cfg Config) error {
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("schedule %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSchedulerClosed
	}
	if old, ok := s.queries[key]; ok {
		s.dropLocked(old)
	}

	q := &query{
		key:         key,
		fetch:       fetch,
		cfg:         cfg,
		interval:    cfg.BaseInterval,
		activeUntil: s.now().Add(cfg.ActiveWindow),
	}
	s.queries[key] = q
	s.cache.update(key, func(snap *Snapshot) {
		*snap = Snapshot{Key: key, Interval: q.interval}
	})
	s.logger.Debug().Str("key", key).Dur("interval", q.interval).Msg("query scheduled")
	s.startFetchLocked(q)
	return nil
}

// Unschedule stops polling key and removes its cache entry.
func (s *Scheduler) Unschedule(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queries[key]
	if !ok {
		return
	}
	s.dropLocked(q)
	s.cache.remove(key)
	s.logger.Debug().Str("key", key).Msg("query unscheduled")
}

// Pause stops future ticks for key. A fetch already in flight still lands
// and its result is applied.
func (s *Scheduler) Pause(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queries[key]
	if !ok || q.paused {
		return
	}
	q.paused = true
	q.pending = false
	s.disarmLocked(q)
	s.cache.update(key, func(snap *Snapshot) { snap.Paused = true })
}

// Resume re-arms a paused key and fetches immediately.
func (s *Scheduler) Resume(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queries[key]
	if !ok || !q.paused {
		return
	}
	q.paused = false
	s.cache.update(key, func(snap *Snapshot) { snap.Paused = false })
	if q.inFlight {
		q.pending = true
		return
	}
	s.startFetchLocked(q)
}

// MarkActive resets key's interval to base, restarts the active window and
// re-arms the timer at the base interval.
func (s *Scheduler) MarkActive(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queries[key]
	if !ok {
		return
	}
	q.interval = q.cfg.BaseInterval
	q.activeUntil = s.now().Add(q.cfg.ActiveWindow)
	s.cache.update(key, func(snap *Snapshot) { snap.Interval = q.interval })
	if q.paused {
		return
	}
	s.disarmLocked(q)
	s.armLocked(q)
}

// RefetchNow fetches key out of band without touching its timer. If a fetch
// is in flight, exactly one follow-up fetch runs after it lands, however many
// times RefetchNow was called meanwhile. Paused keys are left alone; Resume
// fetches anyway.
func (s *Scheduler) RefetchNow(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queries[key]
	if !ok || q.paused {
		return
	}
	if q.inFlight {
		q.pending = true
		return
	}
	s.startFetchLocked(q)
}

// Snapshot returns the cached state for key.
func (s *Scheduler) Snapshot(key string) (Snapshot, bool) {
	return s.cache.Get(key)
}

// Close stops every timer, cancels in-flight fetches and waits for them.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, q := range s.queries {
		s.dropLocked(q)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) dropLocked(q *query) {
	q.removed = true
	s.disarmLocked(q)
	delete(s.queries, q.key)
}

func (s *Scheduler) armLocked(q *query) {
	q.gen++
	gen := q.gen
	q.armed = true
	q.timer = time.AfterFunc(q.interval, func() { s.tick(q, gen) })
}

func (s *Scheduler) disarmLocked(q *query) {
	q.gen++
	q.armed = false
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

func (s *Scheduler) tick(q *query, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.removed || q.paused || gen != q.gen {
		return
	}
	q.armed = false
	if q.inFlight {
		s.logger.Debug().Str("key", q.key).Msg("tick skipped, fetch in flight")
		s.armLocked(q)
		return
	}
	s.startFetchLocked(q)
}

func (s *Scheduler) startFetchLocked(q *query) {
	q.inFlight = true
	s.cache.update(q.key, func(snap *Snapshot) { snap.InFlight = true })
	s.wg.Add(1)
	go s.run(q)
}

func (s *Scheduler) run(q *query) {
	defer s.wg.Done()

	ctx := s.ctx
	if q.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.cfg.FetchTimeout)
		defer cancel()
	}
	value, err := safeFetch(ctx, q.key, q.fetch)
	s.complete(q, value, err)
}

func safeFetch(ctx context.Context, key string, fetch FetchFunc) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetch %s panicked: %v", key, r)
		}
	}()
	return fetch(ctx)
}

func (s *Scheduler) complete(q *query, value any, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q.inFlight = false
	if q.removed {
		return
	}

	now := s.now()
	if err != nil {
		q.failures++
		q.interval = minDuration(q.interval*2, q.cfg.MaxInterval)
		s.logger.Warn().
			Err(err).
			Str("key", q.key).
			Int("failures", q.failures).
			Dur("next_interval", q.interval).
			Msg("fetch failed")
	} else {
		q.failures = 0
		switch {
		case q.cfg.ActiveWindow <= 0 || now.Before(q.activeUntil):
			q.interval = q.cfg.BaseInterval
		default:
			q.interval = minDuration(time.Duration(float64(q.interval)*idleGrowth), q.cfg.MaxInterval)
		}
	}

	s.cache.update(q.key, func(snap *Snapshot) {
		snap.InFlight = false
		snap.Interval = q.interval
		snap.ConsecutiveFailures = q.failures
		if err != nil {
			snap.Err = err
			return
		}
		snap.Err = nil
		snap.Value = value
		snap.HasValue = true
		snap.LastFetch = now
		snap.Stale = false
	})

	if q.paused {
		return
	}
	if q.pending {
		q.pending = false
		s.startFetchLocked(q)
		return
	}
	if !q.armed {
		s.armLocked(q)
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
