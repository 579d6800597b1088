package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumik/renloc/internal/backend"
	"github.com/lumik/renloc/internal/cache"
	"github.com/lumik/renloc/internal/extract"
	"github.com/lumik/renloc/internal/glossary"
)

// fakeAdapter records every batch it receives. When respond is set it
// drives the outcome per call; otherwise it echoes each line with a
// "fr:" prefix.
type fakeAdapter struct {
	mu      sync.Mutex
	calls   [][]string
	times   []time.Time
	limits  backend.Limits
	respond func(call int, batch []string) ([]string, error)
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Defaults() backend.Limits { return f.limits }

func (f *fakeAdapter) Translate(ctx context.Context, batch []string, targetLang string, opts backend.Options) ([]string, error) {
	f.mu.Lock()
	call := len(f.calls)
	f.calls = append(f.calls, append([]string(nil), batch...))
	f.times = append(f.times, time.Now())
	f.mu.Unlock()

	if f.respond != nil {
		return f.respond(call, batch)
	}
	out := make([]string, len(batch))
	for i, s := range batch {
		out[i] = "fr:" + s
	}
	return out, nil
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newSchedTestStore(t *testing.T) *cache.Store {
	t.Helper()
	store, err := cache.NewStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func makeUnit(text, file, label string) extract.Unit {
	ctx := extract.Context{File: file, Label: label, Tag: "e"}
	return extract.Unit{
		ID:         extract.UnitID(text, ctx),
		SourceText: text,
		Context:    ctx,
		Status:     extract.StatusPending,
	}
}

func noGlossary() *glossary.Filter {
	return glossary.NewFilter(glossary.Glossary{})
}

func TestRunSameTextDistinctContexts(t *testing.T) {
	adapter := &fakeAdapter{limits: backend.Limits{Concurrency: 2, BatchSize: 10}}
	store := newSchedTestStore(t)
	sched := New(adapter, noGlossary(), store, Config{TargetLang: "fr"})

	units := []extract.Unit{
		makeUnit("Hello", "game/tl/fr/ch1.rpy", "ch1_greet"),
		makeUnit("Hello", "game/tl/fr/ch2.rpy", "ch2_greet"),
	}
	require.NotEqual(t, units[0].ID, units[1].ID)

	out, err := sched.Run(context.Background(), units)
	require.NoError(t, err)

	for _, u := range out {
		require.Equal(t, extract.StatusDone, u.Status)
		require.Equal(t, "fr:Hello", u.Result)
	}

	rec0, ok, err := store.Lookup(context.Background(), units[0].ID)
	require.NoError(t, err)
	require.True(t, ok)
	rec1, ok, err := store.Lookup(context.Background(), units[1].ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, rec0.ID, rec1.ID)
	require.Equal(t, extract.StatusDone, rec0.Status)
	require.Equal(t, extract.StatusDone, rec1.Status)
}

func TestRunDuplicateIDConvergesInOneRun(t *testing.T) {
	adapter := &fakeAdapter{limits: backend.Limits{Concurrency: 2, BatchSize: 10}}
	store := newSchedTestStore(t)
	sched := New(adapter, noGlossary(), store, Config{TargetLang: "fr"})

	// Identical text in identical context yields identical IDs.
	units := []extract.Unit{
		makeUnit("Hello", "game/tl/fr/ch1.rpy", "ch1_greet"),
		makeUnit("Hello", "game/tl/fr/ch1.rpy", "ch1_greet"),
	}
	require.Equal(t, units[0].ID, units[1].ID)

	out, err := sched.Run(context.Background(), units)
	require.NoError(t, err)

	require.Equal(t, 1, adapter.callCount())
	for _, u := range out {
		require.Equal(t, extract.StatusDone, u.Status)
		require.Equal(t, "fr:Hello", u.Result)
	}
}

func TestRunDuplicateIDAdoptsFailure(t *testing.T) {
	adapter := &fakeAdapter{
		limits: backend.Limits{Concurrency: 1, BatchSize: 10},
		respond: func(call int, batch []string) ([]string, error) {
			return nil, &backend.Error{Kind: backend.KindContentRejected, Backend: "fake", Cause: errors.New("refused")}
		},
	}
	store := newSchedTestStore(t)
	sched := New(adapter, noGlossary(), store, Config{TargetLang: "fr", MaxAttempts: 1})

	units := []extract.Unit{
		makeUnit("Hello", "a.rpy", "l1"),
		makeUnit("Hello", "a.rpy", "l1"),
	}

	out, err := sched.Run(context.Background(), units)
	require.NoError(t, err)
	for _, u := range out {
		require.Equal(t, extract.StatusFailed, u.Status)
		require.NotEmpty(t, u.LastError)
	}
}

func TestRunCacheShortCircuit(t *testing.T) {
	adapter := &fakeAdapter{limits: backend.Limits{Concurrency: 1, BatchSize: 10}}
	store := newSchedTestStore(t)
	ctx := context.Background()

	units := []extract.Unit{
		makeUnit("Hello", "a.rpy", "l1"),
		makeUnit("Goodbye", "a.rpy", "l2"),
	}
	for _, u := range units {
		require.NoError(t, store.Commit(ctx, cache.Record{
			ID: u.ID, Status: extract.StatusDone, SourceText: u.SourceText, Result: "cached:" + u.SourceText,
		}))
	}

	sched := New(adapter, noGlossary(), store, Config{TargetLang: "fr"})
	out, err := sched.Run(ctx, units)
	require.NoError(t, err)

	require.Zero(t, adapter.callCount())
	for _, u := range out {
		require.Equal(t, extract.StatusDone, u.Status)
		require.Equal(t, "cached:"+u.SourceText, u.Result)
	}
}

func TestRunRetriesRateLimitThenSucceeds(t *testing.T) {
	adapter := &fakeAdapter{limits: backend.Limits{Concurrency: 1, BatchSize: 10}}
	adapter.respond = func(call int, batch []string) ([]string, error) {
		if call == 0 {
			return nil, &backend.Error{Kind: backend.KindRateLimited, Backend: "fake", Cause: errors.New("429")}
		}
		out := make([]string, len(batch))
		for i, s := range batch {
			out[i] = "fr:" + s
		}
		return out, nil
	}
	store := newSchedTestStore(t)
	sched := New(adapter, noGlossary(), store, Config{TargetLang: "fr", BaseBackoff: time.Millisecond})

	out, err := sched.Run(context.Background(), []extract.Unit{makeUnit("Hello", "a.rpy", "l1")})
	require.NoError(t, err)
	require.Equal(t, 2, adapter.callCount())
	require.Equal(t, extract.StatusDone, out[0].Status)
	require.Equal(t, 2, out[0].Attempts)
}

func TestRunFailsAfterMaxAttempts(t *testing.T) {
	adapter := &fakeAdapter{limits: backend.Limits{Concurrency: 1, BatchSize: 10}}
	adapter.respond = func(call int, batch []string) ([]string, error) {
		return nil, &backend.Error{Kind: backend.KindTransient, Backend: "fake", Cause: errors.New("connection reset")}
	}
	store := newSchedTestStore(t)
	sched := New(adapter, noGlossary(), store, Config{
		TargetLang: "fr", MaxAttempts: 2, BaseBackoff: time.Millisecond,
	})

	unit := makeUnit("Hello", "a.rpy", "l1")
	out, err := sched.Run(context.Background(), []extract.Unit{unit})
	require.NoError(t, err)
	require.Equal(t, 2, adapter.callCount())
	require.Equal(t, extract.StatusFailed, out[0].Status)
	require.Contains(t, out[0].LastError, "connection reset")

	rec, ok, err := store.Lookup(context.Background(), unit.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, extract.StatusFailed, rec.Status)
}

func TestRunAuthErrorAbortsRun(t *testing.T) {
	adapter := &fakeAdapter{limits: backend.Limits{Concurrency: 1, BatchSize: 10}}
	adapter.respond = func(call int, batch []string) ([]string, error) {
		return nil, &backend.Error{Kind: backend.KindAuth, Backend: "fake", Cause: errors.New("invalid key")}
	}
	store := newSchedTestStore(t)
	sched := New(adapter, noGlossary(), store, Config{TargetLang: "fr"})

	unit := makeUnit("Hello", "a.rpy", "l1")
	_, err := sched.Run(context.Background(), []extract.Unit{unit})
	require.Error(t, err)
	require.Equal(t, backend.KindAuth, backend.Classify(err))
	require.Equal(t, 1, adapter.callCount())

	// Nothing terminal was committed, so a fixed credential retries it.
	_, ok, err := store.Lookup(context.Background(), unit.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRunContentRejectedFailsSingleUnit(t *testing.T) {
	adapter := &fakeAdapter{limits: backend.Limits{Concurrency: 1, BatchSize: 10}}
	adapter.respond = func(call int, batch []string) ([]string, error) {
		out := make([]string, len(batch))
		for i, s := range batch {
			if s == "Bad line" {
				return nil, &backend.Error{Kind: backend.KindContentRejected, Backend: "fake", Cause: errors.New("refused")}
			}
			out[i] = "fr:" + s
		}
		return out, nil
	}
	store := newSchedTestStore(t)
	sched := New(adapter, noGlossary(), store, Config{TargetLang: "fr"})

	units := []extract.Unit{
		makeUnit("Hello", "a.rpy", "l1"),
		makeUnit("Bad line", "a.rpy", "l2"),
	}
	out, err := sched.Run(context.Background(), units)
	require.NoError(t, err)

	byText := map[string]extract.Unit{}
	for _, u := range out {
		byText[u.SourceText] = u
	}
	require.Equal(t, extract.StatusDone, byText["Hello"].Status)
	require.Equal(t, extract.StatusFailed, byText["Bad line"].Status)
}

func TestRunSplitsBatchOnCountMismatch(t *testing.T) {
	adapter := &fakeAdapter{limits: backend.Limits{Concurrency: 1, BatchSize: 10}}
	adapter.respond = func(call int, batch []string) ([]string, error) {
		if len(batch) > 1 {
			return nil, &backend.Error{Kind: backend.KindUnknown, Backend: "fake", Cause: backend.ErrCountMismatch}
		}
		return []string{"fr:" + batch[0]}, nil
	}
	store := newSchedTestStore(t)
	sched := New(adapter, noGlossary(), store, Config{TargetLang: "fr"})

	units := []extract.Unit{
		makeUnit("Hello", "a.rpy", "l1"),
		makeUnit("Goodbye", "a.rpy", "l2"),
	}
	out, err := sched.Run(context.Background(), units)
	require.NoError(t, err)

	// One mismatched batch of two, then two single-line retries.
	require.Equal(t, 3, adapter.callCount())
	for _, u := range out {
		require.Equal(t, extract.StatusDone, u.Status)
		require.Equal(t, "fr:"+u.SourceText, u.Result)
	}
}

func TestRunBatchesConsecutiveUnitsPerFile(t *testing.T) {
	adapter := &fakeAdapter{limits: backend.Limits{Concurrency: 1, BatchSize: 10}}
	store := newSchedTestStore(t)
	sched := New(adapter, noGlossary(), store, Config{TargetLang: "fr", Concurrency: 1, BatchSize: 2})

	units := []extract.Unit{
		makeUnit("One", "a.rpy", "l1"),
		makeUnit("Two", "a.rpy", "l2"),
		makeUnit("Three", "a.rpy", "l3"),
		makeUnit("Four", "b.rpy", "l1"),
	}
	_, err := sched.Run(context.Background(), units)
	require.NoError(t, err)

	require.Equal(t, [][]string{
		{"One", "Two"},
		{"Three"},
		{"Four"},
	}, adapter.calls)
}

func TestRunProtectsMarkupThroughBackend(t *testing.T) {
	adapter := &fakeAdapter{limits: backend.Limits{Concurrency: 1, BatchSize: 10}}
	adapter.respond = func(call int, batch []string) ([]string, error) {
		out := make([]string, len(batch))
		for i, s := range batch {
			// A faithful provider keeps markers byte-identical.
			out[i] = "traduit " + s
		}
		return out, nil
	}
	store := newSchedTestStore(t)
	sched := New(adapter, noGlossary(), store, Config{TargetLang: "fr"})

	out, err := sched.Run(context.Background(), []extract.Unit{makeUnit("Hi {i}[player]{/i}", "a.rpy", "l1")})
	require.NoError(t, err)
	require.Equal(t, extract.StatusDone, out[0].Status)
	require.Equal(t, "traduit Hi {i}[player]{/i}", out[0].Result)

	// The provider never saw the raw markup.
	require.NotContains(t, adapter.calls[0][0], "[player]")
}

func TestRunFailsUnitOnDroppedMarker(t *testing.T) {
	adapter := &fakeAdapter{limits: backend.Limits{Concurrency: 1, BatchSize: 10}}
	adapter.respond = func(call int, batch []string) ([]string, error) {
		out := make([]string, len(batch))
		for i := range batch {
			out[i] = "a translation that lost every marker"
		}
		return out, nil
	}
	store := newSchedTestStore(t)
	sched := New(adapter, noGlossary(), store, Config{TargetLang: "fr"})

	unit := makeUnit("Hi {i}[player]{/i}", "a.rpy", "l1")
	out, err := sched.Run(context.Background(), []extract.Unit{unit})
	require.NoError(t, err)
	require.Equal(t, extract.StatusFailed, out[0].Status)
	require.Contains(t, out[0].LastError, "integrity")

	rec, ok, err := store.Lookup(context.Background(), unit.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, extract.StatusFailed, rec.Status)
}

func TestPauseHoldsDispatchUntilResume(t *testing.T) {
	adapter := &fakeAdapter{limits: backend.Limits{Concurrency: 1, BatchSize: 10}}
	store := newSchedTestStore(t)
	sched := New(adapter, noGlossary(), store, Config{TargetLang: "fr"})
	sched.Pause()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := sched.Run(context.Background(), []extract.Unit{makeUnit("Hello", "a.rpy", "l1")})
		require.NoError(t, err)
	}()

	time.Sleep(100 * time.Millisecond)
	require.Zero(t, adapter.callCount(), "paused scheduler must not dispatch")

	sched.Resume()
	require.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, adapter.callCount())
}

func TestRateLimitSpacesDispatches(t *testing.T) {
	adapter := &fakeAdapter{limits: backend.Limits{Concurrency: 4, BatchSize: 1}}
	store := newSchedTestStore(t)
	sched := New(adapter, noGlossary(), store, Config{
		TargetLang: "fr", RequestsPerSecond: 2, BatchSize: 1,
	})

	units := []extract.Unit{
		makeUnit("One", "a.rpy", "l1"),
		makeUnit("Two", "b.rpy", "l1"),
		makeUnit("Three", "c.rpy", "l1"),
		makeUnit("Four", "d.rpy", "l1"),
	}
	start := time.Now()
	_, err := sched.Run(context.Background(), units)
	require.NoError(t, err)

	// Two tokens up front, then one every 500ms.
	require.Equal(t, 4, adapter.callCount())
	require.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestCancelMarksInFlightSkippedWithoutCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	adapter := &fakeAdapter{limits: backend.Limits{Concurrency: 1, BatchSize: 10}}
	adapter.respond = func(call int, batch []string) ([]string, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	store := newSchedTestStore(t)
	sched := New(adapter, noGlossary(), store, Config{TargetLang: "fr"})

	unit := makeUnit("Hello", "a.rpy", "l1")
	out, err := sched.Run(ctx, []extract.Unit{unit})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, extract.StatusSkipped, out[0].Status)

	// Interrupted work is never persisted, so the next run re-attempts it.
	_, ok, err := store.Lookup(context.Background(), unit.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRunEmitsProgressEvents(t *testing.T) {
	adapter := &fakeAdapter{limits: backend.Limits{Concurrency: 1, BatchSize: 10}}
	store := newSchedTestStore(t)
	sched := New(adapter, noGlossary(), store, Config{TargetLang: "fr", Concurrency: 1})

	units := []extract.Unit{
		makeUnit("One", "a.rpy", "l1"),
		makeUnit("Two", "a.rpy", "l2"),
	}
	_, err := sched.Run(context.Background(), units)
	require.NoError(t, err)

	var events []Event
	for len(sched.Events()) > 0 {
		events = append(events, <-sched.Events())
	}
	require.Len(t, events, 2)
	for i, ev := range events {
		require.Equal(t, i+1, ev.Processed)
		require.Equal(t, 2, ev.Total)
		require.Equal(t, "fake", ev.Backend)
		require.Equal(t, extract.StatusDone, ev.Status)
	}
}

func TestRerunIsIdempotent(t *testing.T) {
	adapter := &fakeAdapter{limits: backend.Limits{Concurrency: 2, BatchSize: 10}}
	store := newSchedTestStore(t)

	units := []extract.Unit{
		makeUnit("One", "a.rpy", "l1"),
		makeUnit("Two", "a.rpy", "l2"),
	}

	first := New(adapter, noGlossary(), store, Config{TargetLang: "fr"})
	_, err := first.Run(context.Background(), units)
	require.NoError(t, err)
	callsAfterFirst := adapter.callCount()
	require.Positive(t, callsAfterFirst)

	fresh := make([]extract.Unit, len(units))
	copy(fresh, units)
	for i := range fresh {
		fresh[i].Status = extract.StatusPending
		fresh[i].Result = ""
		fresh[i].Attempts = 0
	}

	second := New(adapter, noGlossary(), store, Config{TargetLang: "fr"})
	out, err := second.Run(context.Background(), fresh)
	require.NoError(t, err)
	require.Equal(t, callsAfterFirst, adapter.callCount(), "re-run must resolve everything from cache")
	for _, u := range out {
		require.Equal(t, extract.StatusDone, u.Status)
		require.Equal(t, "fr:"+u.SourceText, u.Result)
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	sched := New(&fakeAdapter{limits: backend.Limits{Concurrency: 1, BatchSize: 1}}, noGlossary(), nil, Config{
		BaseBackoff: 100 * time.Millisecond,
		MaxBackoff:  400 * time.Millisecond,
	})

	for attempt, max := range map[int]time.Duration{
		1: 100 * time.Millisecond,
		2: 200 * time.Millisecond,
		3: 400 * time.Millisecond,
		9: 400 * time.Millisecond,
	} {
		d := sched.backoff(attempt)
		require.LessOrEqual(t, d, max, "attempt %d", attempt)
		require.GreaterOrEqual(t, d, max/2, "attempt %d", attempt)
	}
}

func TestLimiterUnlimitedNeverBlocks(t *testing.T) {
	l := NewLimiter(0, 0)
	start := time.Now()
	for i := 0; i < 1000; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiterStricterOfTwoWins(t *testing.T) {
	// 10 rps but only 60 rpm: the per-minute ceiling is stricter.
	l := NewLimiter(10, 60)
	require.InDelta(t, 1.0, l.rate, 1e-9)

	// 1 rps and 600 rpm: the per-second ceiling is stricter.
	l = NewLimiter(1, 600)
	require.InDelta(t, 1.0, l.rate, 1e-9)
}

func TestLimiterEnforcesRate(t *testing.T) {
	l := NewLimiter(10, 0)
	ctx := context.Background()

	start := time.Now()
	// Burst capacity is the per-second rate, so 20 waits need at least
	// one extra second of refill.
	for i := 0; i < 20; i++ {
		require.NoError(t, l.Wait(ctx))
	}
	require.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestLimiterWaitHonorsCancellation(t *testing.T) {
	l := NewLimiter(1, 0)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

var _ backend.Adapter = (*fakeAdapter)(nil)
