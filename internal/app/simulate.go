package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"avgx-index/internal/basket"
	"avgx-index/internal/index"
	"avgx-index/internal/service"
	"avgx-index/internal/store"
)

// Simulate 用给定的篮子均值执行一次完整的计算周期，便于验证守护告警链路。
// State is in-memory only; nothing is persisted.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if opts.WFRaw <= 0 || opts.WCRaw <= 0 {
		return errors.New("--wf 与 --wc 必须大于 0")
	}

	mem := store.NewMemory()
	state := store.NewState(mem, a.Config.Stability.SmoothedHistoryCap, a.Config.Stability.IndexHistoryCap, a.Logger)

	if opts.Last > 0 {
		state.AppendIndexSample(ctx, store.IndexSample{
			Timestamp: time.Now().UTC().Add(-a.Config.Scheduler.Interval),
			AvgxUSD:   opts.Last,
		})
	}

	fiat := &staticBasket{value: decimal.NewFromFloat(opts.WFRaw)}
	crypto := &staticBasket{value: decimal.NewFromFloat(opts.WCRaw)}

	calc := index.NewCalculator(fiat, crypto, state, a.stabilityParams(), a.Logger)
	svc := service.New(a.Config, nil, calc, mem, a.newNotifier(), a.Logger)

	if err := svc.ProcessCycle(ctx, time.Now().UTC()); err != nil {
		return err
	}

	if last, ok := state.LatestIndexSample(ctx); ok {
		return printJSON(last)
	}
	return nil
}

// staticBasket serves a fixed weighted average.
type staticBasket struct {
	value decimal.Decimal
}

func (b *staticBasket) Ensure(ctx context.Context) error { return nil }

func (b *staticBasket) WeightedAverage() (decimal.Decimal, error) { return b.value, nil }

func (b *staticBasket) Assets() []basket.PricedAsset { return nil }

func (b *staticBasket) MissingAssets() []string { return nil }

var _ index.Basket = (*staticBasket)(nil)
