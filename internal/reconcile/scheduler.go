package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"creativehub/internal/realtime"
)

const (
	// DefaultInterval is the sweep schedule.
	DefaultInterval = "@every 5m"
	// DefaultEventDelay is how long after a creative change its request is checked.
	DefaultEventDelay = 3 * time.Second

	sweepTimeout = 5 * time.Minute
	fixTimeout   = 30 * time.Second
)

// Notifier is told about passes that corrected something.
type Notifier interface {
	Corrected(report Report)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Report)

func (f NotifierFunc) Corrected(report Report) { f(report) }

// SchedulerOptions configure a Scheduler.
type SchedulerOptions struct {
	Interval   string
	EventDelay time.Duration
	Notifier   Notifier
	Logger     zerolog.Logger
}

// Scheduler drives a Reconciler from a cron interval and from change events.
type Scheduler struct {
	rec        *Reconciler
	cron       *cron.Cron
	debounce   *realtime.Debouncer
	interval   string
	eventDelay time.Duration
	notifier   Notifier
	logger     zerolog.Logger

	mu      sync.Mutex
	started bool
}

// NewScheduler wires rec to a cron and a debouncer.
func NewScheduler(rec *Reconciler, opts SchedulerOptions) *Scheduler {
	if opts.Interval == "" {
		opts.Interval = DefaultInterval
	}
	if opts.EventDelay <= 0 {
		opts.EventDelay = DefaultEventDelay
	}
	clog := cronLogger{logger: opts.Logger}
	return &Scheduler{
		rec: rec,
		cron: cron.New(
			cron.WithLogger(clog),
			cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
		),
		debounce:   realtime.NewDebouncer(),
		interval:   opts.Interval,
		eventDelay: opts.EventDelay,
		notifier:   opts.Notifier,
		logger:     opts.Logger,
	}
}

// Start registers the sweep and starts the cron.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if _, err := s.cron.AddFunc(s.interval, func() { s.Sweep("interval") }); err != nil {
		return err
	}
	s.cron.Start()
	s.started = true
	s.logger.Info().Str("schedule", s.interval).Dur("event_delay", s.eventDelay).Msg("reconcile: scheduler started")
	return nil
}

// Stop drops pending event passes and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	s.debounce.Stop()
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("reconcile: scheduler stopped")
}

// Sweep runs one full pass synchronously.
func (s *Scheduler) Sweep(trigger string) Report {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	report := s.rec.Reconcile(ctx)
	report.Trigger = trigger
	s.notify(report)
	return report
}

// OnChange schedules a check of the request a creative change belongs to.
// Bursts for the same request collapse into one pass.
func (s *Scheduler) OnChange(c realtime.Change) {
	creative, ok := c.(realtime.CreativeChange)
	if !ok {
		return
	}
	requestID, ok := realtime.RequestIDOf(creative)
	if !ok {
		return
	}
	s.debounce.Schedule(requestID, s.eventDelay, func() { s.fixRequest(requestID) })
}

func (s *Scheduler) fixRequest(requestID string) {
	ctx, cancel := context.WithTimeout(context.Background(), fixTimeout)
	defer cancel()

	corrected, err := s.rec.ReconcileRequest(ctx, requestID)
	report := Report{Trigger: "event", Scanned: 1, Err: err}
	if corrected {
		report.CorrectedCount = 1
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("request_id", requestID).Msg("reconcile: event pass failed")
	}
	s.notify(report)
}

func (s *Scheduler) notify(report Report) {
	if report.CorrectedCount == 0 || s.notifier == nil {
		return
	}
	s.notifier.Corrected(report)
}

// cronLogger routes cron's own logging into zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
