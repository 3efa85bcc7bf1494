package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"avgx-index/internal/alerting"
	"avgx-index/internal/basket"
	"avgx-index/internal/config"
	"avgx-index/internal/index"
	"avgx-index/internal/store"
)

type staticBasket struct {
	value decimal.Decimal
}

func (b *staticBasket) Ensure(ctx context.Context) error          { return nil }
func (b *staticBasket) WeightedAverage() (decimal.Decimal, error) { return b.value, nil }
func (b *staticBasket) Assets() []basket.PricedAsset              { return nil }
func (b *staticBasket) MissingAssets() []string                   { return nil }

type recordingNotifier struct {
	notes []alerting.Notification
	err   error
}

func (r *recordingNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	if r.err != nil {
		return r.err
	}
	r.notes = append(r.notes, note)
	return nil
}

type denyingLocker struct {
	calls int
}

func (l *denyingLocker) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	l.calls++
	return nil, false, nil
}

func guardConfig(cooldown time.Duration) *config.Config {
	return &config.Config{
		Scheduler: config.SchedulerConfig{AdvisoryLockKey: 0x41564758},
		Stability: config.StabilityConfig{
			AlphaFiat:        0.2,
			AlphaCrypto:      0.1,
			VolatilityWindow: 30,
			VolatilityTarget: 0.10,
			ClampPct:         0.015,
		},
		Alerting: config.AlertingConfig{
			Enabled:  true,
			Cooldown: cooldown,
			Channels: []string{"telegram"},
		},
	}
}

func newGuardService(t *testing.T, cfg *config.Config, wf, wc float64, notifier alerting.Notifier) (*Service, *store.State) {
	t.Helper()

	state := store.NewState(store.NewMemory(), 100, 720, zerolog.Nop())
	calc := index.NewCalculator(
		&staticBasket{value: decimal.NewFromFloat(wf)},
		&staticBasket{value: decimal.NewFromFloat(wc)},
		state,
		index.Params{
			AlphaFiat:        cfg.Stability.AlphaFiat,
			AlphaCrypto:      cfg.Stability.AlphaCrypto,
			VolatilityWindow: cfg.Stability.VolatilityWindow,
			VolatilityTarget: cfg.Stability.VolatilityTarget,
			ClampPct:         cfg.Stability.ClampPct,
		},
		zerolog.Nop(),
	)
	svc := New(cfg, nil, calc, store.NewMemory(), notifier, zerolog.Nop())
	return svc, state
}

func TestProcessCycleAlertsOnClamp(t *testing.T) {
	notifier := &recordingNotifier{}
	// sqrt(1*67600)=260, 相对 250 超出 ±1.5%。
	svc, state := newGuardService(t, guardConfig(0), 1, 67600, notifier)
	state.AppendIndexSample(context.Background(), store.IndexSample{
		Timestamp: time.Now().UTC().Add(-time.Hour),
		AvgxUSD:   250,
	})

	if err := svc.ProcessCycle(context.Background(), time.Now()); err != nil {
		t.Fatalf("周期不应失败: %v", err)
	}

	if len(notifier.notes) != 1 {
		t.Fatalf("钳制触发应发送 1 条告警, 实际 %d", len(notifier.notes))
	}
	note := notifier.notes[0]
	if note.Reason != alerting.ReasonClampEngaged {
		t.Fatalf("告警原因不符: %s", note.Reason)
	}
	if !note.ClampPct.Equal(decimal.NewFromFloat(0.015)) {
		t.Fatalf("告警应携带钳制百分比, 实际 %s", note.ClampPct)
	}
}

func TestProcessCycleNoAlertInBand(t *testing.T) {
	notifier := &recordingNotifier{}
	// sqrt(1*63001)≈251, 相对 250 在 ±1.5% 之内。
	svc, state := newGuardService(t, guardConfig(0), 1, 63001, notifier)
	state.AppendIndexSample(context.Background(), store.IndexSample{
		Timestamp: time.Now().UTC().Add(-time.Hour),
		AvgxUSD:   250,
	})

	if err := svc.ProcessCycle(context.Background(), time.Now()); err != nil {
		t.Fatalf("周期不应失败: %v", err)
	}
	if len(notifier.notes) != 0 {
		t.Fatalf("带内变动不应告警, 实际 %d 条", len(notifier.notes))
	}
}

func TestProcessCycleCooldownSuppressesRepeat(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, state := newGuardService(t, guardConfig(time.Hour), 1, 67600, notifier)
	state.AppendIndexSample(context.Background(), store.IndexSample{
		Timestamp: time.Now().UTC().Add(-time.Hour),
		AvgxUSD:   250,
	})

	// 两个连续周期都越界, 第二次应被冷却期吞掉。
	if err := svc.ProcessCycle(context.Background(), time.Now()); err != nil {
		t.Fatalf("周期不应失败: %v", err)
	}
	if err := svc.ProcessCycle(context.Background(), time.Now()); err != nil {
		t.Fatalf("周期不应失败: %v", err)
	}

	if len(notifier.notes) != 1 {
		t.Fatalf("冷却期内应只发送 1 条告警, 实际 %d", len(notifier.notes))
	}
}

func TestProcessCycleNotifierFailureKeepsCooldownOpen(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("telegram down")}
	svc, state := newGuardService(t, guardConfig(time.Hour), 1, 67600, notifier)
	state.AppendIndexSample(context.Background(), store.IndexSample{
		Timestamp: time.Now().UTC().Add(-time.Hour),
		AvgxUSD:   250,
	})

	if err := svc.ProcessCycle(context.Background(), time.Now()); err != nil {
		t.Fatalf("告警失败不应使周期失败: %v", err)
	}
	if !svc.lastAlert.IsZero() {
		t.Fatal("发送失败时不应启动冷却期")
	}
}

func TestProcessCycleAlertsDisabled(t *testing.T) {
	cfg := guardConfig(0)
	cfg.Alerting.Enabled = false

	notifier := &recordingNotifier{}
	svc, state := newGuardService(t, cfg, 1, 67600, notifier)
	state.AppendIndexSample(context.Background(), store.IndexSample{
		Timestamp: time.Now().UTC().Add(-time.Hour),
		AvgxUSD:   250,
	})

	if err := svc.ProcessCycle(context.Background(), time.Now()); err != nil {
		t.Fatalf("周期不应失败: %v", err)
	}
	if len(notifier.notes) != 0 {
		t.Fatalf("告警关闭时不应发送, 实际 %d 条", len(notifier.notes))
	}
}

func TestProcessCycleSkipsWhenLockHeldElsewhere(t *testing.T) {
	cfg := guardConfig(0)
	locker := &denyingLocker{}

	state := store.NewState(store.NewMemory(), 100, 720, zerolog.Nop())
	calc := index.NewCalculator(
		&staticBasket{value: decimal.NewFromInt(1)},
		&staticBasket{value: decimal.NewFromInt(62500)},
		state,
		index.Params{ClampPct: cfg.Stability.ClampPct},
		zerolog.Nop(),
	)
	svc := New(cfg, nil, calc, locker, &recordingNotifier{}, zerolog.Nop())

	if err := svc.ProcessCycle(context.Background(), time.Now()); err != nil {
		t.Fatalf("锁被占用时应静默跳过: %v", err)
	}
	if locker.calls != 1 {
		t.Fatalf("应尝试获取咨询锁, 实际 %d 次", locker.calls)
	}
	if _, ok := state.LatestIndexSample(context.Background()); ok {
		t.Fatal("跳过的周期不应写入样本")
	}
}
