// Package scheduler watches ACTIVE signals until price enters the entry band.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dex-copy-engine/internal/domain"
	"dex-copy-engine/internal/idhash"
	"dex-copy-engine/internal/observability"
	"dex-copy-engine/internal/storage"
)

// DefaultPollInterval is used when Options.PollInterval is zero.
const DefaultPollInterval = 10 * time.Second

var (
	ErrSignalExpired = errors.New("scheduler: signal expired")
	ErrInvalidSignal = errors.New("scheduler: invalid signal")
	ErrShutdown      = errors.New("scheduler: shut down")
)

// Monitor outcomes recorded in metrics and the decision log.
const (
	OutcomeTriggered = "triggered"
	OutcomeExpired   = "expired"
	OutcomeSkipped   = "skipped"
	OutcomeCancelled = "cancelled"
)

// PriceFeed returns the current price of a signal's token.
// ok is false when no price is known yet.
type PriceFeed interface {
	Price(ctx context.Context, sig *domain.Signal) (price float64, ok bool, err error)
}

// TriggerFunc receives a signal whose price entered the entry band.
// It runs on the scheduler's own context, not the caller of StartMonitoring.
type TriggerFunc func(ctx context.Context, sig *domain.Signal, accounts []domain.Allocation, triggerPrice float64)

// Options configures a Scheduler.
type Options struct {
	Signals   storage.SignalStore
	Feed      PriceFeed
	OnTrigger TriggerFunc

	// Optional
	Decisions    storage.DecisionLogStore
	Registry     *Registry
	PollInterval time.Duration
	Deviation    DeviationPolicy
	Now          func() time.Time
	Logger       *logrus.Entry
}

// Scheduler runs one monitor goroutine per signal.
type Scheduler struct {
	signals   storage.SignalStore
	feed      PriceFeed
	onTrigger TriggerFunc
	decisions storage.DecisionLogStore
	registry  *Registry
	interval  time.Duration
	deviation DeviationPolicy
	now       func() time.Time
	log       *logrus.Entry

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates a Scheduler.
func New(opts Options) (*Scheduler, error) {
	if opts.Signals == nil {
		return nil, fmt.Errorf("signal store is required")
	}
	if opts.Feed == nil {
		return nil, fmt.Errorf("price feed is required")
	}
	if opts.OnTrigger == nil {
		return nil, fmt.Errorf("trigger handler is required")
	}

	base, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		signals:   opts.Signals,
		feed:      opts.Feed,
		onTrigger: opts.OnTrigger,
		decisions: opts.Decisions,
		registry:  opts.Registry,
		interval:  opts.PollInterval,
		deviation: opts.Deviation,
		now:       opts.Now,
		log:       opts.Logger,
		base:      base,
		cancel:    cancel,
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	if s.interval <= 0 {
		s.interval = DefaultPollInterval
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = logrus.WithField("component", "scheduler")
	}
	return s, nil
}

// Registry returns the monitor registry.
func (s *Scheduler) Registry() *Registry {
	return s.registry
}

// StartMonitoring registers a monitor for sig and starts polling.
// The first poll happens one interval after the call.
func (s *Scheduler) StartMonitoring(ctx context.Context, sig *domain.Signal, accounts []domain.Allocation) error {
	if sig == nil || sig.ID == "" {
		return ErrInvalidSignal
	}
	if sig.EntryMin <= 0 || sig.EntryMax < sig.EntryMin {
		return fmt.Errorf("%w: entry band [%g, %g]", ErrInvalidSignal, sig.EntryMin, sig.EntryMax)
	}

	now := s.now()
	if sig.Expired(now) {
		if err := s.signals.UpdateStatus(ctx, sig.ID, domain.SignalStatusExpired, "expired before monitoring"); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("mark expired: %w", err)
		}
		return ErrSignalExpired
	}

	var expiry time.Duration
	if !sig.ExpiresAt.IsZero() {
		expiry = sig.ExpiresAt.Sub(now)
	}
	sigCopy := *sig
	acc := append([]domain.Allocation(nil), accounts...)

	// Held through wg.Add so Shutdown either sees the monitor or rejects it.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrShutdown
	}
	mctx, cancel := context.WithCancel(s.base)
	key := domain.TokenKey(sig.Token, sig.Chain)
	if err := s.registry.Register(sig.ID, key, cancel); err != nil {
		s.mu.Unlock()
		cancel()
		return err
	}
	s.wg.Add(1)
	s.mu.Unlock()
	observability.SetActiveMonitors(s.registry.Len())

	go func() {
		defer s.wg.Done()
		s.run(mctx, &sigCopy, acc, expiry)
	}()

	s.log.WithFields(logrus.Fields{
		"signal_id": sig.ID,
		"token":     sig.Token,
		"chain":     sig.Chain,
		"band":      fmt.Sprintf("[%g, %g]", sig.EntryMin, sig.EntryMax),
		"accounts":  len(acc),
	}).Info("monitor started")
	return nil
}

func (s *Scheduler) run(ctx context.Context, sig *domain.Signal, accounts []domain.Allocation, expiry time.Duration) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var expired <-chan time.Time
	if expiry > 0 {
		timer := time.NewTimer(expiry)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-expired:
			s.finish(sig, domain.SignalStatusExpired, OutcomeExpired, "entry window expired")
			return
		case <-ticker.C:
			if s.poll(ctx, sig, accounts) {
				return
			}
		}
	}
}

// poll runs one tick and reports whether the monitor is done.
func (s *Scheduler) poll(ctx context.Context, sig *domain.Signal, accounts []domain.Allocation) bool {
	log := s.log.WithField("signal_id", sig.ID)

	price, ok, err := s.feed.Price(ctx, sig)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		log.WithError(err).Warn("price poll failed")
		return false
	}
	if !ok || price <= 0 {
		log.Debug("no price yet")
		return false
	}

	// The signal table is an upstream price source; writing back would pin it.
	sig.LastPrice = price

	if sig.InBand(price) {
		if !s.finish(sig, domain.SignalStatusTriggered, OutcomeTriggered, fmt.Sprintf("price %g entered [%g, %g]", price, sig.EntryMin, sig.EntryMax)) {
			return true
		}
		sig.Status = domain.SignalStatusTriggered
		s.onTrigger(s.base, sig, accounts, price)
		return true
	}

	if abort, dev := s.deviation.ShouldAbort(sig, price); abort {
		s.finish(sig, domain.SignalStatusSkipped, OutcomeSkipped,
			fmt.Sprintf("price %g deviated %.1f%% past entry band (max %.1f%%)", price, dev, s.deviation.MaxPct))
		return true
	}

	log.WithFields(logrus.Fields{
		"price":        price,
		"distance_pct": Deviation(sig, price),
	}).Debug("price outside entry band")
	return false
}

// finish deregisters the monitor and records its terminal status.
// It returns false when another path already finished the monitor.
func (s *Scheduler) finish(sig *domain.Signal, status domain.SignalStatus, outcome, reason string) bool {
	if !s.registry.Deregister(sig.ID) {
		return false
	}
	observability.SetActiveMonitors(s.registry.Len())
	observability.RecordMonitorOutcome(outcome)

	ctx := s.base
	if ctx.Err() != nil {
		ctx = context.Background()
	}

	storeReason := reason
	if status == domain.SignalStatusTriggered {
		storeReason = ""
	}
	if err := s.signals.UpdateStatus(ctx, sig.ID, status, storeReason); err != nil {
		s.log.WithError(err).WithField("signal_id", sig.ID).Warn("update signal status failed")
	}
	s.recordDecision(ctx, sig, status == domain.SignalStatusTriggered, outcome, reason)

	s.log.WithFields(logrus.Fields{
		"signal_id": sig.ID,
		"outcome":   outcome,
	}).Info("monitor finished: " + reason)
	return true
}

func (s *Scheduler) recordDecision(ctx context.Context, sig *domain.Signal, passed bool, code, reason string) {
	if s.decisions == nil {
		return
	}
	now := s.now().UTC()
	d := &domain.Decision{
		DecisionID: idhash.ComputeDecisionID(sig.ID, "", domain.StageScheduler, now.UnixNano()),
		SignalID:   sig.ID,
		Stage:      domain.StageScheduler,
		Passed:     passed,
		Code:       code,
		Reason:     reason,
		CreatedAt:  now,
	}
	if err := s.decisions.Append(ctx, []*domain.Decision{d}); err != nil {
		s.log.WithError(err).WithField("signal_id", sig.ID).Warn("decision log append failed")
	}
}

// Stop cancels the monitor of signalID without changing the signal status.
// It reports whether a monitor was running.
func (s *Scheduler) Stop(signalID string) bool {
	if !s.registry.Deregister(signalID) {
		return false
	}
	observability.SetActiveMonitors(s.registry.Len())
	observability.RecordMonitorOutcome(OutcomeCancelled)
	s.log.WithField("signal_id", signalID).Info("monitor stopped")
	return true
}

// Active returns the ids of monitored signals.
func (s *Scheduler) Active() []string {
	return s.registry.Active()
}

// Shutdown cancels every monitor and waits for them to exit or ctx to end.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	n := s.registry.CancelAll()
	s.cancel()
	observability.SetActiveMonitors(0)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.WithField("cancelled", n).Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
