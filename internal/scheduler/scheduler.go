package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lumik/renloc/internal/backend"
	"github.com/lumik/renloc/internal/cache"
	"github.com/lumik/renloc/internal/extract"
	"github.com/lumik/renloc/internal/glossary"
	"github.com/lumik/renloc/pkg/log"
)

// Scheduler drives units from Pending to a terminal state against one
// backend adapter, under that backend's concurrency and rate limits.
type Scheduler struct {
	adapter backend.Adapter
	filter  *glossary.Filter
	store   *cache.Store
	cfg     Config
	limits  backend.Limits

	limiter *Limiter
	events  chan Event

	mu        sync.Mutex
	inflight  map[string]struct{}
	paused    bool
	resumeCh  chan struct{}
	processed int
	total     int
}

func New(adapter backend.Adapter, filter *glossary.Filter, store *cache.Store, cfg Config) *Scheduler {
	cfg = cfg.withDefaults()

	limits := adapter.Defaults()
	if cfg.Concurrency > 0 {
		limits.Concurrency = cfg.Concurrency
	}
	if cfg.RequestsPerSecond > 0 {
		limits.RequestsPerSecond = cfg.RequestsPerSecond
	}
	if cfg.RequestsPerMinute > 0 {
		limits.RequestsPerMinute = cfg.RequestsPerMinute
	}
	if cfg.BatchSize > 0 {
		limits.BatchSize = cfg.BatchSize
	}
	if limits.Concurrency <= 0 {
		limits.Concurrency = 1
	}
	if limits.BatchSize <= 0 {
		limits.BatchSize = 1
	}

	return &Scheduler{
		adapter:  adapter,
		filter:   filter,
		store:    store,
		cfg:      cfg,
		limits:   limits,
		limiter:  NewLimiter(limits.RequestsPerSecond, limits.RequestsPerMinute),
		events:   make(chan Event, 256),
		inflight: make(map[string]struct{}),
	}
}

// Events exposes the progress stream. The channel is buffered and sends
// are dropped when full, so slow consumers never stall dispatch.
func (s *Scheduler) Events() <-chan Event {
	return s.events
}

// Pause suspends new dispatches. Work already in flight drains normally
// and queued state is preserved.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		s.paused = true
		s.resumeCh = make(chan struct{})
	}
}

// Resume re-enables dispatch from the same queue.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		s.paused = false
		close(s.resumeCh)
	}
}

// Run processes units in order and returns them with terminal states set.
// Units whose ID already has a terminal cache record are resolved without
// any backend call. The returned error is run-fatal only (auth failure,
// cache unavailable, cancellation); unit-level failures are carried on the
// units themselves. Run closes the event stream on return and must be
// called at most once per Scheduler.
func (s *Scheduler) Run(ctx context.Context, units []extract.Unit) ([]extract.Unit, error) {
	defer close(s.events)

	s.mu.Lock()
	s.total = len(units)
	s.processed = 0
	s.mu.Unlock()

	pending, dupes, err := s.resolveCached(ctx, units)
	if err != nil {
		return units, err
	}

	batches := s.buildBatches(pending)
	log.Info("Scheduling %d unit(s) in %d batch(es) on backend %s (cache resolved %d)",
		len(pending), len(batches), s.adapter.Name(), len(units)-len(pending))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limits.Concurrency)
	for _, batch := range batches {
		batch := batch
		g.Go(func() error {
			return s.processBatch(gctx, batch)
		})
	}
	err = g.Wait()
	s.settleDuplicates(pending, dupes)
	return units, err
}

// settleDuplicates copies the dispatched unit's outcome onto units that
// shared its ID, so equal text in equal context converges within one run.
func (s *Scheduler) settleDuplicates(pending []*extract.Unit, dupes map[string][]*extract.Unit) {
	if len(dupes) == 0 {
		return
	}
	for _, p := range pending {
		for _, twin := range dupes[p.ID] {
			twin.Status = p.Status
			twin.Result = p.Result
			twin.LastError = p.LastError
			if twin.Status != extract.StatusPending {
				s.emit(twin)
			}
		}
	}
}

// resolveCached short-circuits units with a terminal cache record and
// returns pointers to the ones still pending. When several units carry the
// same ID, only the first is dispatched; the rest are held aside and adopt
// its outcome via settleDuplicates.
func (s *Scheduler) resolveCached(ctx context.Context, units []extract.Unit) ([]*extract.Unit, map[string][]*extract.Unit, error) {
	ids := make([]string, len(units))
	for i := range units {
		ids[i] = units[i].ID
	}

	records, err := s.store.LookupMany(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("cache lookup: %w", err)
	}

	pending := make([]*extract.Unit, 0, len(units))
	seen := make(map[string]struct{}, len(units))
	dupes := make(map[string][]*extract.Unit)
	for i := range units {
		u := &units[i]
		if rec, ok := records[u.ID]; ok {
			u.Status = rec.Status
			u.Result = rec.Result
			u.LastError = rec.Error
			s.emit(u)
			continue
		}
		if _, ok := seen[u.ID]; ok {
			dupes[u.ID] = append(dupes[u.ID], u)
			continue
		}
		seen[u.ID] = struct{}{}
		pending = append(pending, u)
	}
	return pending, dupes, nil
}

// buildBatches groups consecutive pending units from the same file into
// dispatch batches, preserving extraction order.
func (s *Scheduler) buildBatches(pending []*extract.Unit) [][]*extract.Unit {
	var batches [][]*extract.Unit
	var current []*extract.Unit

	for _, u := range pending {
		if len(current) > 0 &&
			(len(current) >= s.limits.BatchSize || current[len(current)-1].Context.File != u.Context.File) {
			batches = append(batches, current)
			current = nil
		}
		current = append(current, u)
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

func (s *Scheduler) processBatch(ctx context.Context, units []*extract.Unit) error {
	units = s.acquireInflight(units)
	if len(units) == 0 {
		return nil
	}
	defer s.releaseInflight(units)

	return s.dispatch(ctx, units)
}

// dispatch runs the Pending→InFlight→terminal state machine for one batch,
// retrying retryable failures with capped exponential backoff and splitting
// the batch when the provider mangles the line count.
func (s *Scheduler) dispatch(ctx context.Context, units []*extract.Unit) error {
	for {
		if err := s.awaitDispatch(ctx); err != nil {
			s.markAborted(units)
			return err
		}
		if err := s.limiter.Wait(ctx); err != nil {
			s.markAborted(units)
			return err
		}

		texts := make([]string, len(units))
		protected := make([]glossary.ProtectedText, len(units))
		for i, u := range units {
			u.Status = extract.StatusInFlight
			u.Attempts++
			protected[i] = s.filter.Forward(u.SourceText)
			texts[i] = protected[i].Text
		}

		out, err := s.adapter.Translate(ctx, texts, s.cfg.TargetLang, backend.Options{SourceLang: s.cfg.SourceLang})
		if err == nil {
			return s.complete(ctx, units, protected, out)
		}
		if ctx.Err() != nil {
			s.markAborted(units)
			return ctx.Err()
		}

		kind := backend.Classify(err)
		switch kind {
		case backend.KindAuth:
			// Fatal for the whole backend; abort the run and leave the
			// units pending so a fixed credential picks them up again.
			s.markAborted(units)
			return err

		case backend.KindContentRejected:
			if len(units) > 1 {
				return s.splitDispatch(ctx, units)
			}
			return s.fail(ctx, units[0], err)

		default: // RateLimited, Transient, Unknown
			if errors.Is(err, backend.ErrCountMismatch) && len(units) > 1 {
				log.Warn("Backend %s returned a mismatched batch, splitting %d units", s.adapter.Name(), len(units))
				return s.splitDispatch(ctx, units)
			}
			if units[0].Attempts >= s.cfg.MaxAttempts {
				var failErr error
				for _, u := range units {
					if e := s.fail(ctx, u, err); e != nil {
						failErr = e
					}
				}
				return failErr
			}

			delay := s.backoff(units[0].Attempts)
			log.Warn("Backend %s: %s error on attempt %d, retrying in %s: %v",
				s.adapter.Name(), kind, units[0].Attempts, delay.Round(time.Millisecond), err)
			for _, u := range units {
				u.Status = extract.StatusPending
				u.LastError = err.Error()
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}

func (s *Scheduler) splitDispatch(ctx context.Context, units []*extract.Unit) error {
	mid := len(units) / 2
	if err := s.dispatch(ctx, units[:mid]); err != nil {
		return err
	}
	return s.dispatch(ctx, units[mid:])
}

// complete reverses the protection filter and commits each unit. A commit
// must be durable before the unit counts as Done, so commit errors are
// run-fatal.
func (s *Scheduler) complete(ctx context.Context, units []*extract.Unit, protected []glossary.ProtectedText, out []string) error {
	for i, u := range units {
		restored, err := s.filter.Reverse(protected[i], out[i])
		if err != nil {
			var integrity *glossary.IntegrityError
			if errors.As(err, &integrity) {
				if e := s.fail(ctx, u, fmt.Errorf("content integrity: %w", err)); e != nil {
					return e
				}
				continue
			}
			return err
		}

		u.Status = extract.StatusDone
		u.Result = restored
		u.LastError = ""
		if err := s.store.Commit(ctx, cache.Record{
			ID:         u.ID,
			Status:     extract.StatusDone,
			SourceText: u.SourceText,
			Result:     restored,
			Backend:    s.adapter.Name(),
		}); err != nil {
			return fmt.Errorf("cache commit for %s: %w", u.ID, err)
		}
		s.emit(u)
	}
	return nil
}

func (s *Scheduler) fail(ctx context.Context, u *extract.Unit, cause error) error {
	u.Status = extract.StatusFailed
	u.LastError = cause.Error()
	if err := s.store.Commit(ctx, cache.Record{
		ID:         u.ID,
		Status:     extract.StatusFailed,
		SourceText: u.SourceText,
		Backend:    s.adapter.Name(),
		Error:      u.LastError,
	}); err != nil {
		return fmt.Errorf("cache commit for %s: %w", u.ID, err)
	}
	s.emit(u)
	return nil
}

// markAborted marks in-flight units Skipped without committing, so an
// interrupted run re-attempts them. Units still pending stay pending.
func (s *Scheduler) markAborted(units []*extract.Unit) {
	for _, u := range units {
		if u.Status == extract.StatusInFlight {
			u.Status = extract.StatusSkipped
			u.LastError = "cancelled"
		}
	}
}

// awaitDispatch is the pause gate: it blocks while the scheduler is paused
// and observes cancellation at this suspension point.
func (s *Scheduler) awaitDispatch(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.mu.Lock()
		if !s.paused {
			s.mu.Unlock()
			return nil
		}
		ch := s.resumeCh
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (s *Scheduler) backoff(attempt int) time.Duration {
	delay := s.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.cfg.MaxBackoff {
			delay = s.cfg.MaxBackoff
			break
		}
	}
	// Jitter between 50% and 100% of the computed delay.
	return time.Duration(float64(delay) * (0.5 + rand.Float64()/2))
}

func (s *Scheduler) emit(u *extract.Unit) {
	s.mu.Lock()
	s.processed++
	ev := Event{
		Processed: s.processed,
		Total:     s.total,
		Backend:   s.adapter.Name(),
		UnitID:    u.ID,
		Status:    u.Status,
		LastError: u.LastError,
	}
	s.mu.Unlock()

	select {
	case s.events <- ev:
	default:
	}
}

func (s *Scheduler) acquireInflight(units []*extract.Unit) []*extract.Unit {
	s.mu.Lock()
	defer s.mu.Unlock()

	acquired := make([]*extract.Unit, 0, len(units))
	for _, u := range units {
		if _, busy := s.inflight[u.ID]; busy {
			// Distinct units never share an ID, so a busy entry means a
			// duplicate extraction; drop it rather than double-dispatch.
			log.Warn("Unit %s already in flight, skipping duplicate", u.ID)
			continue
		}
		s.inflight[u.ID] = struct{}{}
		acquired = append(acquired, u)
	}
	return acquired
}

func (s *Scheduler) releaseInflight(units []*extract.Unit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range units {
		delete(s.inflight, u.ID)
	}
}
