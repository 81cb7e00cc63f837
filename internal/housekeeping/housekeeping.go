// Package housekeeping runs periodic maintenance: it lifts expired circuit
// breaker pauses and expires ACTIVE signals past their deadline.
package housekeeping

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"dex-copy-engine/internal/domain"
	"dex-copy-engine/internal/storage"
)

// DefaultSchedule is used when Options.Schedule is empty.
const DefaultSchedule = "@every 1m"

const sweepTimeout = 30 * time.Second

// MonitorStopper stops an entry monitor. scheduler.Scheduler implements it.
type MonitorStopper interface {
	Stop(signalID string) bool
}

// Options for creating a Service.
type Options struct {
	// Required
	Signals    storage.SignalStore
	Strategies storage.StrategyStore

	// Optional
	Monitors MonitorStopper
	Schedule string // cron spec or descriptor, e.g. "@every 1m"
	Now      func() time.Time
	Logger   *logrus.Entry
}

// Service schedules the maintenance sweep.
type Service struct {
	signals    storage.SignalStore
	strategies storage.StrategyStore
	monitors   MonitorStopper
	schedule   string
	now        func() time.Time
	log        *logrus.Entry

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// New creates a Service. The schedule is validated here.
func New(opts Options) (*Service, error) {
	if opts.Signals == nil || opts.Strategies == nil {
		return nil, fmt.Errorf("housekeeping: stores are required")
	}
	s := &Service{
		signals:    opts.Signals,
		strategies: opts.Strategies,
		monitors:   opts.Monitors,
		schedule:   opts.Schedule,
		now:        opts.Now,
		log:        opts.Logger,
	}
	if s.schedule == "" {
		s.schedule = DefaultSchedule
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = logrus.WithField("component", "housekeeping")
	}

	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := s.cron.AddFunc(s.schedule, s.tick); err != nil {
		return nil, fmt.Errorf("housekeeping: invalid schedule %q: %w", s.schedule, err)
	}
	return s, nil
}

// SweepResult summarises one maintenance run.
type SweepResult struct {
	PausesCleared  int
	SignalsExpired int
}

// Start begins running the sweep on schedule.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.log.WithField("schedule", s.schedule).Info("housekeeping started")
}

// Stop halts the schedule and waits for a running sweep or ctx, whichever comes first.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil {
		s.log.WithError(err).Error("housekeeping sweep failed")
	}
}

// RunOnce performs a single sweep.
func (s *Service) RunOnce(ctx context.Context) (*SweepResult, error) {
	now := s.now()
	res := &SweepResult{}

	cleared, err := s.strategies.ClearExpiredPauses(ctx, now)
	if err != nil {
		return res, fmt.Errorf("clear expired pauses: %w", err)
	}
	res.PausesCleared = cleared

	expired, err := s.signals.GetExpired(ctx, now)
	if err != nil {
		return res, fmt.Errorf("load expired signals: %w", err)
	}
	for _, sig := range expired {
		if s.monitors != nil {
			s.monitors.Stop(sig.ID)
		}
		if err := s.signals.UpdateStatus(ctx, sig.ID, domain.SignalStatusExpired, "expired"); err != nil {
			return res, fmt.Errorf("expire signal %s: %w", sig.ID, err)
		}
		res.SignalsExpired++
	}

	if res.PausesCleared > 0 || res.SignalsExpired > 0 {
		s.log.WithFields(logrus.Fields{
			"pauses_cleared":  res.PausesCleared,
			"signals_expired": res.SignalsExpired,
		}).Info("housekeeping sweep completed")
	}
	return res, nil
}
