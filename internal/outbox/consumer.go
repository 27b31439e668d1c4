// Package outbox drains the company_events table into the vector index.
// Company writes record an event in the same transaction as the row change;
// the Consumer picks those events up on a poll interval (or immediately after
// Wake), coalesces them per company, and re-embeds or removes the company's
// vector with bounded exponential backoff.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/54b3r/connectq/internal/logging"
	"github.com/54b3r/connectq/internal/search"
	"github.com/54b3r/connectq/internal/store"
)

// EventSource is the outbox side of the relational store.
// *store.SQLiteStore satisfies it.
type EventSource interface {
	// PendingEvents returns up to limit undelivered events, oldest first.
	PendingEvents(ctx context.Context, limit int) ([]store.Event, error)
	// MarkEventsProcessed acknowledges delivered events.
	MarkEventsProcessed(ctx context.Context, ids []int64) error
	// MarkEventsFailed records a failed delivery attempt.
	MarkEventsFailed(ctx context.Context, ids []int64, cause error, maxAttempts int) error
}

// Indexer applies a company change to the vector index.
// *search.Service satisfies it.
type Indexer interface {
	EmbedSingle(ctx context.Context, id string) search.Result
	RemoveEmbedding(ctx context.Context, id string) search.Result
}

// Config holds the Consumer settings. Zero values select the defaults.
type Config struct {
	// PollInterval is the delay between polls when no Wake arrives (default 2s).
	PollInterval time.Duration
	// BatchSize is the number of events read per poll (default 100).
	BatchSize int
	// MaxAttempts is the number of failed polls after which an event is
	// marked dead (default 5).
	MaxAttempts int
	// MaxRetries bounds the in-poll retries of one dispatch (default 3).
	MaxRetries uint64
	// RetryInterval is the initial backoff interval (default 200ms).
	RetryInterval time.Duration
	// Registerer receives the consumer metrics. Nil disables them.
	Registerer prometheus.Registerer
}

// Event outcome label values.
const (
	outcomeProcessed = "processed"
	outcomeRetry     = "retry"
	outcomeDead      = "dead"
)

// Consumer delivers outbox events to an Indexer.
type Consumer struct {
	// source supplies pending outbox events and records their outcome.
	source EventSource
	// indexer re-embeds or removes the company behind each change.
	indexer Indexer
	// runner is the worker pool dispatches are submitted to.
	runner *search.Runner
	// cfg holds the batch size, poll interval and retry limit.
	cfg Config
	// wake is a one-slot signal that triggers a poll before the next tick.
	wake chan struct{}

	// eventsTotal counts delivered events by kind and outcome.
	eventsTotal *prometheus.CounterVec
}

// NewConsumer constructs a Consumer. Dispatches run on runner so they share
// the orchestrator's worker pool.
func NewConsumer(source EventSource, indexer Indexer, runner *search.Runner, cfg Config) (*Consumer, error) {
	if source == nil || indexer == nil || runner == nil {
		return nil, fmt.Errorf("outbox: source, indexer and runner are required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 200 * time.Millisecond
	}

	c := &Consumer{
		source:  source,
		indexer: indexer,
		runner:  runner,
		cfg:     cfg,
		wake:    make(chan struct{}, 1),
	}
	if cfg.Registerer != nil {
		c.eventsTotal = promauto.With(cfg.Registerer).NewCounterVec(prometheus.CounterOpts{
			Namespace: "connectq",
			Subsystem: "outbox",
			Name:      "events_total",
			Help:      "Total number of outbox events handled, partitioned by kind and outcome.",
		}, []string{"kind", "outcome"})
	}
	return c, nil
}

// Wake triggers a poll without waiting for the interval. It never blocks.
func (c *Consumer) Wake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled. It returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	log := logging.FromContext(ctx)
	log.Info("outbox: consumer started",
		slog.Duration("poll_interval", c.cfg.PollInterval),
		slog.Int("max_attempts", c.cfg.MaxAttempts),
	)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := c.Drain(ctx); err != nil && ctx.Err() == nil {
			log.Error("outbox: drain failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			log.Info("outbox: consumer stopped")
			return nil
		case <-ticker.C:
		case <-c.wake:
		}
	}
}

// Drain processes pending events until none are left, a batch comes back
// short, or a batch has failures (those wait for the next poll). It returns
// the number of events acknowledged.
func (c *Consumer) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		events, err := c.source.PendingEvents(ctx, c.cfg.BatchSize)
		if err != nil {
			return total, fmt.Errorf("outbox: load pending events: %w", err)
		}
		if len(events) == 0 {
			return total, nil
		}

		n, err := c.processBatch(ctx, events)
		total += n
		if err != nil {
			return total, err
		}
		if len(events) < c.cfg.BatchSize || n < len(events) {
			return total, nil
		}
	}
}

// change is the coalesced set of events for one company.
type change struct {
	// companyID is the company every coalesced event refers to.
	companyID string
	// kind is the kind of the latest event and decides embed or remove.
	kind store.EventKind
	// eventIDs lists every event folded into this change.
	eventIDs []int64
	// attempts is the highest prior attempt count among the events.
	attempts int
	// lastID is the id of the latest event.
	lastID int64
}

// coalesce groups events by company; the latest event decides the kind.
// Changes are returned in order of their latest event id.
func coalesce(events []store.Event) []*change {
	byCompany := make(map[string]*change)
	for _, ev := range events {
		ch, ok := byCompany[ev.CompanyID]
		if !ok {
			ch = &change{companyID: ev.CompanyID}
			byCompany[ev.CompanyID] = ch
		}
		ch.eventIDs = append(ch.eventIDs, ev.ID)
		ch.attempts = max(ch.attempts, ev.Attempts)
		if ev.ID > ch.lastID {
			ch.lastID = ev.ID
			ch.kind = ev.Kind
		}
	}

	out := make([]*change, 0, len(byCompany))
	for _, ch := range byCompany {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].lastID < out[j].lastID })
	return out
}

// processBatch dispatches every change on the runner, waits for all of them,
// and records the outcome of each.
func (c *Consumer) processBatch(ctx context.Context, events []store.Event) (int, error) {
	log := logging.FromContext(ctx)
	changes := coalesce(events)

	jobs := make([]*search.Job, len(changes))
	for i, ch := range changes {
		job, err := c.runner.Submit(ctx, fmt.Sprintf("outbox:%s:%s", ch.kind, ch.companyID), func(jobCtx context.Context) search.Result {
			if err := c.deliver(jobCtx, ch); err != nil {
				return search.Result{Success: false, Message: err.Error(), Err: err}
			}
			return search.Result{Success: true, Count: len(ch.eventIDs)}
		})
		if err != nil {
			return 0, fmt.Errorf("outbox: submit: %w", err)
		}
		jobs[i] = job
	}

	acked := 0
	var processed []int64
	for i, job := range jobs {
		ch := changes[i]
		res, err := job.Wait(ctx)
		if err != nil {
			return acked, err
		}
		if res.Success {
			processed = append(processed, ch.eventIDs...)
			c.observe(ch.kind, outcomeProcessed, len(ch.eventIDs))
			continue
		}

		outcome := outcomeRetry
		if ch.attempts+1 >= c.cfg.MaxAttempts {
			outcome = outcomeDead
		}
		log.Warn("outbox: delivery failed",
			slog.String("company_id", ch.companyID),
			slog.String("kind", string(ch.kind)),
			slog.Int("attempt", ch.attempts+1),
			slog.String("outcome", outcome),
			slog.String("error", res.Message),
		)
		if err := c.source.MarkEventsFailed(ctx, ch.eventIDs, res.Err, c.cfg.MaxAttempts); err != nil {
			return acked, fmt.Errorf("outbox: mark failed: %w", err)
		}
		c.observe(ch.kind, outcome, len(ch.eventIDs))
	}

	if len(processed) > 0 {
		if err := c.source.MarkEventsProcessed(ctx, processed); err != nil {
			return acked, fmt.Errorf("outbox: mark processed: %w", err)
		}
		acked = len(processed)
	}
	return acked, nil
}

// deliver applies one change, retrying transient failures with exponential
// backoff. A missing company on upsert means it was deleted after the event
// was written, so its vector is removed instead.
func (c *Consumer) deliver(ctx context.Context, ch *change) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.RetryInterval
	b := backoff.WithContext(backoff.WithMaxRetries(eb, c.cfg.MaxRetries), ctx)

	return backoff.Retry(func() error {
		var res search.Result
		switch ch.kind {
		case store.EventUpserted:
			res = c.indexer.EmbedSingle(ctx, ch.companyID)
			if !res.Success && errors.Is(res.Err, store.ErrNotFound) {
				res = c.indexer.RemoveEmbedding(ctx, ch.companyID)
			}
		case store.EventDeleted:
			res = c.indexer.RemoveEmbedding(ctx, ch.companyID)
		default:
			return backoff.Permanent(fmt.Errorf("outbox: unknown event kind %q", ch.kind))
		}
		if res.Success {
			return nil
		}
		if res.Err != nil {
			return res.Err
		}
		return errors.New(res.Message)
	}, b)
}

func (c *Consumer) observe(kind store.EventKind, outcome string, n int) {
	if c.eventsTotal == nil {
		return
	}
	c.eventsTotal.WithLabelValues(string(kind), outcome).Add(float64(n))
}
