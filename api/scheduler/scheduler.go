// Package scheduler runs the periodic due-item scan that fires alarms and reminders and
// hands their trigger events to the push hub.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/linesmerrill/alarm-trigger-api/api"
	"github.com/linesmerrill/alarm-trigger-api/api/recurrence"
	"github.com/linesmerrill/alarm-trigger-api/databases"
	"github.com/linesmerrill/alarm-trigger-api/models"
)

// Defaults used when the matching option is not given
const (
	DefaultInterval    = 30 * time.Second
	DefaultBatchSize   = 500
	DefaultConcurrency = 8

	scanTimeout = 5 * time.Minute
)

// Deliverer pushes a trigger event to the user's live channels and returns how many
// received it
type Deliverer interface {
	Deliver(event models.TriggerEvent) int
}

// StatsRecorder receives the outcome of every scan
type StatsRecorder interface {
	RecordScan(stats api.ScanStats)
}

// Scheduler fires due items. One scan runs at a time per process; concurrent processes
// are kept from firing the same occurrence twice by the store's compare-and-swap.
type Scheduler struct {
	cron        *cron.Cron
	stores      []databases.ScheduleDatabase
	hub         Deliverer
	calc        recurrence.Calculator
	interval    time.Duration
	batchSize   int
	concurrency int
	metrics     StatsRecorder
	log         *zap.SugaredLogger
	now         func() time.Time

	mu      sync.Mutex
	entry   cron.EntryID
	running bool
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithInterval sets the polling interval
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithBatchSize caps how many due items are read per store per scan
func WithBatchSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithConcurrency caps how many items are fired in parallel
func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithLocation sets the canonical zone for wall-clock math
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		s.calc = recurrence.New(loc)
	}
}

// WithMetrics records scan outcomes
func WithMetrics(m StatsRecorder) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithLogger sets the scheduler logger
func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Scheduler) {
		s.log = log
	}
}

// WithClock overrides the time source of cron-driven scans
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New creates a scheduler over the given trigger stores
func New(stores []databases.ScheduleDatabase, hub Deliverer, opts ...Option) *Scheduler {
	s := &Scheduler{
		stores:      stores,
		hub:         hub,
		calc:        recurrence.New(time.UTC),
		interval:    DefaultInterval,
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		log:         zap.S(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	logger := cronLogger{log: s.log}
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	return s
}

// Calculator returns the recurrence calculator the scheduler uses
func (s *Scheduler) Calculator() recurrence.Calculator {
	return s.calc
}

// Start registers the scan job once and starts the cron loop. Calling it while the
// scheduler is running is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if s.entry == 0 {
		id, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), s.run)
		if err != nil {
			return fmt.Errorf("register scan job: %w", err)
		}
		s.entry = id
	}
	s.cron.Start()
	s.running = true
	s.log.Infow("trigger scheduler started", "interval", s.interval.String(), "stores", len(s.stores))
	return nil
}

// Stop stops the cron loop and waits for a running scan to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("trigger scheduler stopped")
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
	defer cancel()
	s.Scan(ctx, s.now())
}

// Scan runs one poll over every store at the given instant
func (s *Scheduler) Scan(ctx context.Context, now time.Time) api.ScanStats {
	start := time.Now()
	var stats api.ScanStats

	for _, store := range s.stores {
		qctx, cancel := api.WithQueryTimeout(ctx)
		items, err := store.FindDue(qctx, now, s.batchSize)
		cancel()
		if err != nil {
			stats.Errors++
			s.log.Errorw("failed to find due items", "itemType", store.ItemType(), "error", err)
			continue
		}
		stats.Due += len(items)
		s.fireAll(ctx, store, items, now, &stats)
	}

	stats.Duration = time.Since(start)
	if stats.Due > 0 || stats.Errors > 0 {
		s.log.Infow("scan finished",
			"due", stats.Due,
			"fired", stats.Fired,
			"conflicts", stats.Conflicts,
			"errors", stats.Errors,
			"delivered", stats.Delivered,
			"duration", stats.Duration,
		)
	}
	if s.metrics != nil {
		s.metrics.RecordScan(stats)
	}
	return stats
}

type outcome int

const (
	outcomeFired outcome = iota
	outcomeConflict
	outcomeError
)

func (s *Scheduler) fireAll(ctx context.Context, store databases.ScheduleDatabase, items []models.ScheduleItem, now time.Time, stats *api.ScanStats) {
	if len(items) == 0 {
		return
	}
	workers := s.concurrency
	if workers > len(items) {
		workers = len(items)
	}

	jobs := make(chan models.ScheduleItem)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				result, delivered := s.fire(ctx, store, item, now)
				mu.Lock()
				switch result {
				case outcomeFired:
					stats.Fired++
					stats.Delivered += delivered
				case outcomeConflict:
					stats.Conflicts++
				case outcomeError:
					stats.Errors++
				}
				mu.Unlock()
			}
		}()
	}
	for _, item := range items {
		jobs <- item
	}
	close(jobs)
	wg.Wait()
}

// fire records one occurrence of item and delivers its event. The store write is
// conditioned on the nextTriggerAt read by this scan, so of several concurrent scans only
// one records the occurrence.
func (s *Scheduler) fire(ctx context.Context, store databases.ScheduleDatabase, item models.ScheduleItem, now time.Time) (outcome, int) {
	if item.NextTriggerAt == nil {
		return outcomeConflict, 0
	}
	occurrence := *item.NextTriggerAt
	next := s.following(item, occurrence, now)

	qctx, cancel := api.WithQueryTimeout(ctx)
	err := store.CompareAndSwapTrigger(qctx, item.ID, occurrence, occurrence, next)
	cancel()
	switch {
	case errors.Is(err, databases.ErrTriggerConflict):
		s.log.Debugw("trigger already recorded elsewhere", "itemType", store.ItemType(), "itemId", item.ID)
		return outcomeConflict, 0
	case err != nil:
		s.log.Errorw("failed to record trigger", "itemType", store.ItemType(), "itemId", item.ID, "error", err)
		return outcomeError, 0
	}

	item.ItemType = store.ItemType()
	delivered := s.hub.Deliver(models.NewTriggerEvent(item, occurrence))
	s.log.Debugw("item fired",
		"itemType", item.ItemType,
		"itemId", item.ID,
		"userId", item.UserID,
		"occurrence", occurrence,
		"next", next,
		"delivered", delivered,
	)
	return outcomeFired, delivered
}

// following returns the occurrence after the one being fired. An item that was down for
// several slots is moved past now so one scan fires it once.
func (s *Scheduler) following(item models.ScheduleItem, occurrence, now time.Time) *time.Time {
	item.LastTriggeredAt = &occurrence
	next := s.calc.Next(item, now)
	if next != nil && item.IsRepeat() && !next.After(now) {
		ref := now
		item.LastTriggeredAt = &ref
		next = s.calc.Next(item, now)
	}
	return utc(next)
}

// utc keeps stored instants zone-free; the calculator answers in its own zone
func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// Rearm recomputes nextTriggerAt after the schedule fields of item were edited and
// persists it. Inactive items are disarmed.
func (s *Scheduler) Rearm(ctx context.Context, store databases.ScheduleDatabase, item models.ScheduleItem, now time.Time) (models.ScheduleItem, error) {
	var next *time.Time
	if item.IsActive {
		next = s.calc.Next(item, now)
		if next != nil && item.IsRepeat() && next.Before(now) {
			// rearm from the edit, which may land exactly on a slot
			ref := item
			ref.CreatedAt, ref.LastTriggeredAt = now, nil
			next = s.calc.Next(ref, now)
			if next != nil && item.LastTriggeredAt != nil && !next.After(*item.LastTriggeredAt) {
				ref.LastTriggeredAt = item.LastTriggeredAt
				next = s.calc.Next(ref, now)
			}
		}
	}
	item.NextTriggerAt = utc(next)
	item.ItemType = store.ItemType()

	qctx, cancel := api.WithQueryTimeout(ctx)
	defer cancel()
	if err := store.UpdateSchedule(qctx, item); err != nil {
		return item, fmt.Errorf("rearm %s %s: %w", item.ItemType, item.ID, err)
	}
	return item, nil
}

// cronLogger routes cron's own logging to zap
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
