// Package engine drives signal intake: it screens ACTIVE signals against
// every enabled strategy and hands approved accounts to the entry scheduler.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"dex-copy-engine/internal/domain"
	"dex-copy-engine/internal/execution"
	"dex-copy-engine/internal/observability"
	"dex-copy-engine/internal/risk"
	"dex-copy-engine/internal/scheduler"
	"dex-copy-engine/internal/storage"
)

// DefaultPollInterval is used when Options.PollInterval is zero.
const DefaultPollInterval = 10 * time.Second

// maxReasonLen bounds the stored rejection reason of a skipped signal.
const maxReasonLen = 1000

// RiskChecker runs the coarse risk pass. risk.Gate implements it.
type RiskChecker interface {
	CheckTradeRisk(ctx context.Context, s *domain.StrategyConfig, sig *domain.Signal, amount float64) (*risk.Result, error)
}

// Monitor starts entry monitors. scheduler.Scheduler implements it.
type Monitor interface {
	StartMonitoring(ctx context.Context, sig *domain.Signal, accounts []domain.Allocation) error
	Registry() *scheduler.Registry
}

// BatchExecutor executes triggered signals. execution.Pipeline implements it.
type BatchExecutor interface {
	ExecuteBatchTrades(ctx context.Context, sig *domain.Signal, accounts []domain.Allocation, triggerPrice float64) (*execution.BatchResult, error)
}

// Options for creating an Engine.
type Options struct {
	// Required
	Signals    storage.SignalStore
	Strategies storage.StrategyStore
	Risk       RiskChecker
	Monitor    Monitor

	// Optional
	PollInterval time.Duration
	Now          func() time.Time
	Logger       *logrus.Entry
}

// Engine polls ACTIVE signals and starts monitors for approved ones.
type Engine struct {
	signals    storage.SignalStore
	strategies storage.StrategyStore
	risk       RiskChecker
	monitor    Monitor
	interval   time.Duration
	now        func() time.Time
	log        *logrus.Entry
}

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	switch {
	case opts.Signals == nil, opts.Strategies == nil:
		return nil, fmt.Errorf("engine: stores are required")
	case opts.Risk == nil:
		return nil, fmt.Errorf("engine: risk checker is required")
	case opts.Monitor == nil:
		return nil, fmt.Errorf("engine: monitor is required")
	}
	e := &Engine{
		signals:    opts.Signals,
		strategies: opts.Strategies,
		risk:       opts.Risk,
		monitor:    opts.Monitor,
		interval:   opts.PollInterval,
		now:        opts.Now,
		log:        opts.Logger,
	}
	if e.interval <= 0 {
		e.interval = DefaultPollInterval
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.log == nil {
		e.log = logrus.WithField("component", "engine")
	}
	return e, nil
}

// RunResult summarises one intake pass.
type RunResult struct {
	SignalsProcessed int
	MonitorsStarted  int
	Skipped          int
	Expired          int
	Errors           []string
}

// Run polls until ctx is cancelled. The first pass runs immediately.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		if _, err := e.RunOnce(ctx); err != nil && ctx.Err() == nil {
			e.log.WithError(err).Error("intake pass failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce screens every ACTIVE signal that is not already monitored.
// Per-signal failures are collected in RunResult.Errors.
func (e *Engine) RunOnce(ctx context.Context) (*RunResult, error) {
	now := e.now()
	observability.RecordSignalPoll(now.Unix())

	signals, err := e.signals.GetActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active signals: %w", err)
	}

	result := &RunResult{}
	var (
		strategies []*domain.StrategyConfig
		loaded     bool
	)
	for _, sig := range signals {
		if e.monitor.Registry().IsMonitoring(sig.ID) {
			continue
		}
		result.SignalsProcessed++

		if !loaded {
			strategies, err = e.strategies.GetEnabled(ctx)
			if err != nil {
				return result, fmt.Errorf("load strategies: %w", err)
			}
			loaded = true
		}

		outcome, err := e.process(ctx, sig, strategies, now)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", sig.ID, err))
			continue
		}
		switch outcome {
		case outcomeMonitored:
			result.MonitorsStarted++
		case outcomeSkipped:
			result.Skipped++
		case outcomeExpired:
			result.Expired++
		}
	}

	if result.SignalsProcessed > 0 {
		e.log.WithFields(logrus.Fields{
			"signals":  result.SignalsProcessed,
			"monitors": result.MonitorsStarted,
			"skipped":  result.Skipped,
			"expired":  result.Expired,
			"errors":   len(result.Errors),
		}).Info("intake pass completed")
	}
	return result, nil
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeMonitored
	outcomeSkipped
	outcomeExpired
)

func (e *Engine) process(ctx context.Context, sig *domain.Signal, strategies []*domain.StrategyConfig, now time.Time) (outcome, error) {
	log := e.log.WithFields(logrus.Fields{
		"signal_id": sig.ID,
		"token":     sig.Token,
		"chain":     sig.Chain,
	})

	if sig.Expired(now) {
		if err := e.signals.UpdateStatus(ctx, sig.ID, domain.SignalStatusExpired, "expired before entry"); err != nil {
			return outcomeNone, fmt.Errorf("mark expired: %w", err)
		}
		observability.RecordSignal("expired")
		return outcomeExpired, nil
	}

	var (
		approved []domain.Allocation
		reasons  []string
	)
	for _, s := range strategies {
		amount := s.AmountPerTrade()
		res, err := e.risk.CheckTradeRisk(ctx, s, sig, amount)
		if err != nil {
			return outcomeNone, fmt.Errorf("risk check %s: %w", s.ID, err)
		}
		if !res.Passed {
			reasons = append(reasons, fmt.Sprintf("%s: %s", s.ID, res.Reason()))
			continue
		}
		approved = append(approved, domain.Allocation{Strategy: *s, AmountUSD: amount})
	}

	if len(approved) == 0 {
		reason := "no enabled strategies"
		if len(reasons) > 0 {
			reason = strings.Join(reasons, "; ")
		}
		return e.skip(ctx, sig, reason, log)
	}

	err := e.monitor.StartMonitoring(ctx, sig, approved)
	switch {
	case err == nil:
		observability.RecordSignal("monitored")
		log.WithField("accounts", len(approved)).Info("signal approved, monitoring entry")
		return outcomeMonitored, nil
	case errors.Is(err, scheduler.ErrTokenLocked):
		return e.skip(ctx, sig, "token already monitored by another signal", log)
	case errors.Is(err, scheduler.ErrSignalExpired):
		observability.RecordSignal("expired")
		return outcomeExpired, nil
	case errors.Is(err, scheduler.ErrAlreadyMonitoring):
		return outcomeNone, nil
	}
	return outcomeNone, fmt.Errorf("start monitoring: %w", err)
}

func (e *Engine) skip(ctx context.Context, sig *domain.Signal, reason string, log *logrus.Entry) (outcome, error) {
	reason = truncate(reason, maxReasonLen)
	if err := e.signals.UpdateStatus(ctx, sig.ID, domain.SignalStatusSkipped, reason); err != nil {
		return outcomeNone, fmt.Errorf("mark skipped: %w", err)
	}
	observability.RecordSignal("skipped")
	log.Info("signal skipped: " + reason)
	return outcomeSkipped, nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// ExecuteOnTrigger adapts a BatchExecutor into the scheduler's trigger handler.
func ExecuteOnTrigger(exec BatchExecutor, log *logrus.Entry) scheduler.TriggerFunc {
	if log == nil {
		log = logrus.WithField("component", "engine")
	}
	return func(ctx context.Context, sig *domain.Signal, accounts []domain.Allocation, price float64) {
		res, err := exec.ExecuteBatchTrades(ctx, sig, accounts, price)
		fields := logrus.Fields{"signal_id": sig.ID, "trigger_price": price}
		if err != nil {
			log.WithFields(fields).WithError(err).Warn("batch execution aborted")
			return
		}
		log.WithFields(fields).WithFields(logrus.Fields{
			"batch_id":  res.BatchID,
			"submitted": res.Submitted,
			"skipped":   res.Skipped,
			"failed":    res.Failed,
		}).Info("batch execution finished")
	}
}
