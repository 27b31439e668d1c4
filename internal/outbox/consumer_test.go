package outbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/connectq/internal/company"
	"github.com/54b3r/connectq/internal/embedder"
	"github.com/54b3r/connectq/internal/rag"
	"github.com/54b3r/connectq/internal/search"
	"github.com/54b3r/connectq/internal/store"
)

// fakeSource is an in-memory EventSource.
type fakeSource struct {
	mu        sync.Mutex
	events    []store.Event
	processed []int64
	failed    map[int64]int
	dead      map[int64]bool
}

func newFakeSource(events ...store.Event) *fakeSource {
	return &fakeSource{events: events, failed: map[int64]int{}, dead: map[int64]bool{}}
}

func (f *fakeSource) PendingEvents(_ context.Context, limit int) ([]store.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Event
	for _, ev := range f.events {
		if f.isDone(ev.ID) {
			continue
		}
		ev.Attempts = f.failed[ev.ID]
		out = append(out, ev)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSource) isDone(id int64) bool {
	if f.dead[id] {
		return true
	}
	for _, p := range f.processed {
		if p == id {
			return true
		}
	}
	return false
}

func (f *fakeSource) MarkEventsProcessed(_ context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, ids...)
	return nil
}

func (f *fakeSource) MarkEventsFailed(_ context.Context, ids []int64, _ error, maxAttempts int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.failed[id]++
		if f.failed[id] >= maxAttempts {
			f.dead[id] = true
		}
	}
	return nil
}

// fakeIndexer records calls and fails the first failN calls per company.
type fakeIndexer struct {
	mu       sync.Mutex
	failN    map[string]int
	notFound map[string]bool
	calls    []string
}

func (f *fakeIndexer) record(call, id string) (fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call+":"+id)
	if f.failN[id] > 0 {
		f.failN[id]--
		return true
	}
	return false
}

func (f *fakeIndexer) EmbedSingle(_ context.Context, id string) search.Result {
	if f.record("embed", id) {
		return search.Result{Success: false, Message: "embedding unavailable", Err: rag.ErrEmbedding}
	}
	if f.notFound[id] {
		return search.Result{Success: false, Message: "not found", Err: store.ErrNotFound}
	}
	return search.Result{Success: true, Count: 1}
}

func (f *fakeIndexer) RemoveEmbedding(_ context.Context, id string) search.Result {
	if f.record("remove", id) {
		return search.Result{Success: false, Message: "index unavailable", Err: rag.ErrIndex}
	}
	return search.Result{Success: true, Count: 1}
}

func (f *fakeIndexer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestConsumer(t *testing.T, src EventSource, idx Indexer, cfg Config) *Consumer {
	t.Helper()
	runner, err := search.NewRunner(2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = runner.Close(context.Background()) })

	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = time.Millisecond
	}
	c, err := NewConsumer(src, idx, runner, cfg)
	require.NoError(t, err)
	return c
}

func TestCoalesce_LatestKindWins(t *testing.T) {
	t.Parallel()

	changes := coalesce([]store.Event{
		{ID: 1, CompanyID: "a", Kind: store.EventUpserted},
		{ID: 2, CompanyID: "b", Kind: store.EventUpserted},
		{ID: 3, CompanyID: "a", Kind: store.EventDeleted},
		{ID: 4, CompanyID: "b", Kind: store.EventUpserted, Attempts: 2},
	})

	require.Len(t, changes, 2)
	assert.Equal(t, "a", changes[0].companyID)
	assert.Equal(t, store.EventDeleted, changes[0].kind)
	assert.Equal(t, []int64{1, 3}, changes[0].eventIDs)
	assert.Equal(t, "b", changes[1].companyID)
	assert.Equal(t, store.EventUpserted, changes[1].kind)
	assert.Equal(t, 2, changes[1].attempts)
}

func TestDrain_DispatchesByKind(t *testing.T) {
	t.Parallel()

	src := newFakeSource(
		store.Event{ID: 1, CompanyID: "a", Kind: store.EventUpserted},
		store.Event{ID: 2, CompanyID: "b", Kind: store.EventDeleted},
		store.Event{ID: 3, CompanyID: "a", Kind: store.EventUpserted},
	)
	idx := &fakeIndexer{}
	c := newTestConsumer(t, src, idx, Config{})

	n, err := c.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.ElementsMatch(t, []string{"embed:a", "remove:b"}, idx.Calls(), "events for a are coalesced into one embed")
	assert.ElementsMatch(t, []int64{1, 2, 3}, src.processed)
}

func TestDrain_UpsertOfDeletedCompanyRemovesVector(t *testing.T) {
	t.Parallel()

	src := newFakeSource(store.Event{ID: 1, CompanyID: "gone", Kind: store.EventUpserted})
	idx := &fakeIndexer{notFound: map[string]bool{"gone": true}}
	c := newTestConsumer(t, src, idx, Config{})

	n, err := c.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"embed:gone", "remove:gone"}, idx.Calls())
}

func TestDrain_RetriesWithBackoff(t *testing.T) {
	t.Parallel()

	src := newFakeSource(store.Event{ID: 1, CompanyID: "a", Kind: store.EventUpserted})
	idx := &fakeIndexer{failN: map[string]int{"a": 2}}
	reg := prometheus.NewRegistry()
	c := newTestConsumer(t, src, idx, Config{MaxRetries: 3, Registerer: reg})

	n, err := c.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, idx.Calls(), 3, "two transient failures then success")
	assert.InDelta(t, 1, testutil.ToFloat64(c.eventsTotal.WithLabelValues("upserted", outcomeProcessed)), 0)
}

func TestDrain_FailureMarksEventAndEventuallyDies(t *testing.T) {
	t.Parallel()

	src := newFakeSource(store.Event{ID: 1, CompanyID: "a", Kind: store.EventDeleted})
	idx := &fakeIndexer{failN: map[string]int{"a": 1000}}
	reg := prometheus.NewRegistry()
	c := newTestConsumer(t, src, idx, Config{MaxRetries: 1, MaxAttempts: 2, Registerer: reg})

	ctx := context.Background()
	n, err := c.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, src.failed[1])
	assert.False(t, src.dead[1])

	_, err = c.Drain(ctx)
	require.NoError(t, err)
	assert.True(t, src.dead[1], "event is dead after MaxAttempts polls")

	pending, err := src.PendingEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.InDelta(t, 1, testutil.ToFloat64(c.eventsTotal.WithLabelValues("deleted", outcomeRetry)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.eventsTotal.WithLabelValues("deleted", outcomeDead)), 0)
}

func TestRun_WakeTriggersPoll(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	idx := &fakeIndexer{}
	c := newTestConsumer(t, src, idx, Config{PollInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	src.mu.Lock()
	src.events = append(src.events, store.Event{ID: 1, CompanyID: "a", Kind: store.EventUpserted})
	src.mu.Unlock()
	c.Wake()

	require.Eventually(t, func() bool { return len(idx.Calls()) == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestConsumer_EndToEndWithStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	idx, err := rag.NewMemoryIndex("companies", 128)
	require.NoError(t, err)
	svc, err := search.NewService(embedder.NewHashEmbedder(128), idx, st, nil)
	require.NoError(t, err)

	c := newTestConsumer(t, st, svc, Config{})

	acme, err := st.CreateCompany(ctx, company.Company{UserID: "u1", Name: "Acme Robotics", Services: []string{"automation"}})
	require.NoError(t, err)
	_, err = c.Drain(ctx)
	require.NoError(t, err)

	res := svc.Search(ctx, "automation", 5)
	require.True(t, res.Success)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, acme.ID, res.Matches[0].ID)

	require.NoError(t, st.DeleteCompany(ctx, acme.ID))
	_, err = c.Drain(ctx)
	require.NoError(t, err)

	res = svc.Search(ctx, "automation", 5)
	require.True(t, res.Success)
	assert.Empty(t, res.Matches, "deleted company must not surface after the outbox drains")

	pending, err := st.PendingEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestNewConsumer_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewConsumer(nil, &fakeIndexer{}, nil, Config{})
	assert.Error(t, err)
}
