package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"avgx-index/internal/alerting"
	"avgx-index/internal/config"
	"avgx-index/internal/index"
	"avgx-index/internal/scheduler"
	"avgx-index/internal/store"
)

// Service drives the calculation pipeline on a schedule and evaluates the
// index guards.
type Service struct {
	scheduler *scheduler.Scheduler
	calc      *index.Calculator
	notifier  alerting.Notifier
	logger    zerolog.Logger

	locker   store.AdvisoryLocker
	lockKey  int64
	alertsOn bool
	channels []string
	cooldown time.Duration
	clampPct decimal.Decimal

	lastAlert time.Time
}

// New constructs the index service.
func New(cfg *config.Config, sched *scheduler.Scheduler, calc *index.Calculator, locker store.AdvisoryLocker, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	return &Service{
		scheduler: sched,
		calc:      calc,
		notifier:  notifier,
		logger:    logger.With().Str("component", "service").Logger(),
		locker:    locker,
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
		alertsOn:  cfg.Alerting.Enabled,
		channels:  cfg.Alerting.Channels,
		cooldown:  cfg.Alerting.Cooldown,
		clampPct:  decimal.NewFromFloat(cfg.Stability.ClampPct),
	}
}

// Run begins the aligned calculation loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessCycle)
}

// ProcessCycle 执行单个计算周期。
func (s *Service) ProcessCycle(ctx context.Context, cycle time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("cycle", cycle).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	result, err := s.calc.RunCycle(ctx)
	if err != nil {
		return fmt.Errorf("run cycle: %w", err)
	}

	s.evaluateGuards(ctx, result)
	return nil
}

// evaluateGuards dispatches a notification when the clamp engaged or the
// volatility index saturated, subject to the cooldown.
func (s *Service) evaluateGuards(ctx context.Context, result index.CycleResult) {
	if !s.alertsOn || s.notifier == nil {
		return
	}

	reasons := make([]string, 0, 2)
	if result.Clamped {
		reasons = append(reasons, alerting.ReasonClampEngaged)
	}
	if result.VolatilityIndex >= 1 {
		reasons = append(reasons, alerting.ReasonVolatilitySaturated)
	}
	if len(reasons) == 0 {
		return
	}

	if !s.lastAlert.IsZero() && result.Timestamp.Sub(s.lastAlert) < s.cooldown {
		s.logger.Debug().Strs("reasons", reasons).Msg("guard alert suppressed by cooldown")
		return
	}

	note := alerting.Notification{
		Timestamp:  result.Timestamp,
		AvgxUSD:    decimal.NewFromFloat(result.AvgxUSD),
		AvgxRaw:    decimal.NewFromFloat(result.AvgxRaw),
		Volatility: decimal.NewFromFloat(result.VolatilityIndex),
		ClampPct:   s.clampPct,
		Reason:     strings.Join(reasons, ","),
		Channels:   s.channels,
	}

	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Time("cycle", result.Timestamp).Msg("failed to dispatch guard alert")
		return
	}
	s.lastAlert = result.Timestamp
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
