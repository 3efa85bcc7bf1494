package store

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func newTestState(smoothedCap, indexCap int) *State {
	return NewState(NewMemory(), smoothedCap, indexCap, zerolog.Nop())
}

func TestAppendCappedDropsOldest(t *testing.T) {
	state := newTestState(3, 720)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		state.AppendSmoothedSample(ctx, SmoothedSample{
			Timestamp:  base.Add(time.Duration(i) * time.Hour),
			WCSmoothed: float64(50000 + i),
		})
	}

	history := state.SmoothedHistory(ctx)
	if len(history) != 3 {
		t.Fatalf("超过上限后应截断到 3 条, 实际 %d", len(history))
	}
	if history[0].WCSmoothed != 50002 {
		t.Fatalf("应丢弃最旧样本, 首条实际 %v", history[0].WCSmoothed)
	}
	if history[2].WCSmoothed != 50004 {
		t.Fatalf("最新样本应保留, 末条实际 %v", history[2].WCSmoothed)
	}
}

func TestIndexHistoryFiltersAndSorts(t *testing.T) {
	state := newTestState(100, 720)
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	// 乱序写入, 读取时应按时间升序。
	state.AppendIndexSample(ctx, IndexSample{Timestamp: now.Add(-time.Hour), AvgxUSD: 251})
	state.AppendIndexSample(ctx, IndexSample{Timestamp: now.Add(-48 * time.Hour), AvgxUSD: 248})
	state.AppendIndexSample(ctx, IndexSample{Timestamp: now.Add(-24 * time.Hour), AvgxUSD: 249})

	all := state.IndexHistory(ctx, time.Time{})
	if len(all) != 3 {
		t.Fatalf("全量读取应返回 3 条, 实际 %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Timestamp.Before(all[i-1].Timestamp) {
			t.Fatal("历史样本应按时间升序")
		}
	}

	recent := state.IndexHistory(ctx, now.Add(-25*time.Hour))
	if len(recent) != 2 {
		t.Fatalf("窗口过滤应返回 2 条, 实际 %d", len(recent))
	}
	if recent[0].AvgxUSD != 249 {
		t.Fatalf("过滤后首条应为窗口内最旧样本, 实际 %v", recent[0].AvgxUSD)
	}

	// 再次读取结果应一致。
	again := state.IndexHistory(ctx, now.Add(-25*time.Hour))
	if len(again) != len(recent) {
		t.Fatalf("重复读取结果应一致: %d != %d", len(again), len(recent))
	}
}

func TestLatestIndexSample(t *testing.T) {
	state := newTestState(100, 720)
	ctx := context.Background()

	if _, ok := state.LatestIndexSample(ctx); ok {
		t.Fatal("空历史不应返回样本")
	}

	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	state.AppendIndexSample(ctx, IndexSample{Timestamp: now.Add(-time.Hour), AvgxUSD: 249})
	state.AppendIndexSample(ctx, IndexSample{Timestamp: now, AvgxUSD: 250})

	latest, ok := state.LatestIndexSample(ctx)
	if !ok {
		t.Fatal("写入后应能读到最新样本")
	}
	if latest.AvgxUSD != 250 {
		t.Fatalf("最新样本期望 250, 实际 %v", latest.AvgxUSD)
	}
}

func TestMergeBaselinePreservesFields(t *testing.T) {
	state := newTestState(100, 720)
	ctx := context.Background()

	avgx := 250.0
	state.MergeBaseline(ctx, BaselinePatch{
		AvgxValue: &avgx,
		FiatRates: map[string]decimal.Decimal{"EUR": decimal.RequireFromString("0.9")},
	})

	wc := 62500.0
	state.MergeBaseline(ctx, BaselinePatch{WCValue: &wc})

	baseline, ok := state.Baseline(ctx)
	if !ok {
		t.Fatal("合并写入后基线应存在")
	}
	if baseline.AvgxValue != 250 {
		t.Fatalf("部分写入不应覆盖 avgx_value, 实际 %v", baseline.AvgxValue)
	}
	if baseline.WCValue != 62500 {
		t.Fatalf("新字段应写入, 实际 %v", baseline.WCValue)
	}
	if len(baseline.FiatRates) != 1 {
		t.Fatalf("部分写入不应覆盖 fiat_rates, 实际 %v", baseline.FiatRates)
	}
}

func TestBaselineAbsentWithoutWrites(t *testing.T) {
	state := newTestState(100, 720)

	if _, ok := state.Baseline(context.Background()); ok {
		t.Fatal("从未写入时基线应缺失")
	}
}

func TestMergeAssetValuesKeepsOtherBasket(t *testing.T) {
	state := newTestState(100, 720)
	ctx := context.Background()

	state.MergeAssetValues(ctx, BasketFiat, map[string]decimal.Decimal{
		"EUR": decimal.RequireFromString("0.9"),
		"JPY": decimal.NewFromInt(150),
	})
	state.MergeAssetValues(ctx, BasketCrypto, map[string]decimal.Decimal{
		"bitcoin": decimal.NewFromInt(60000),
	})

	fiat := state.AssetValues(ctx, BasketFiat)
	if len(fiat) != 2 {
		t.Fatalf("fiat 基线不应被 crypto 写入覆盖, 实际 %v", fiat)
	}
	crypto := state.AssetValues(ctx, BasketCrypto)
	if len(crypto) != 1 || !crypto["bitcoin"].Equal(decimal.NewFromInt(60000)) {
		t.Fatalf("crypto 基线应包含写入值, 实际 %v", crypto)
	}
}

func TestMergeAssetValuesKeepsUntouchedAssets(t *testing.T) {
	state := newTestState(100, 720)
	ctx := context.Background()

	state.MergeAssetValues(ctx, BasketFiat, map[string]decimal.Decimal{
		"EUR": decimal.RequireFromString("0.9"),
		"JPY": decimal.NewFromInt(150),
	})
	// 部分抓取结果只覆盖 EUR, JPY 应保留旧值。
	state.MergeAssetValues(ctx, BasketFiat, map[string]decimal.Decimal{
		"EUR": decimal.RequireFromString("0.92"),
	})

	values := state.AssetValues(ctx, BasketFiat)
	if !values["EUR"].Equal(decimal.RequireFromString("0.92")) {
		t.Fatalf("EUR 应更新为新值, 实际 %s", values["EUR"])
	}
	if !values["JPY"].Equal(decimal.NewFromInt(150)) {
		t.Fatalf("JPY 应保留旧值, 实际 %s", values["JPY"])
	}
}

func TestAssetValuesReturnsCopy(t *testing.T) {
	state := newTestState(100, 720)
	ctx := context.Background()

	state.MergeAssetValues(ctx, BasketCrypto, map[string]decimal.Decimal{
		"bitcoin": decimal.NewFromInt(60000),
	})

	values := state.AssetValues(ctx, BasketCrypto)
	values["bitcoin"] = decimal.Zero

	reread := state.AssetValues(ctx, BasketCrypto)
	if !reread["bitcoin"].Equal(decimal.NewFromInt(60000)) {
		t.Fatal("读取结果被修改不应影响存储内容")
	}
}
