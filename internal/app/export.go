package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"avgx-index/internal/store"
)

// Export renders historical index data as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if a.Config.Database.DSN == "" {
		return errors.New("database not configured; cannot export")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	pipe, err := a.buildPipeline(ctx)
	if err != nil {
		return err
	}
	defer pipe.close()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	samples := samplesBetween(pipe.state.IndexHistory(ctx, from), to)
	if len(samples) == 0 {
		a.Logger.Info().Msg("no samples found for export window")
		return nil
	}

	downsampled := downsampleSamples(samples, opts.MaxPoints)
	a.Logger.Info().Int("total", len(samples)).Int("exported", len(downsampled)).Msg("exporting samples")

	if opts.CSVPath != "" {
		if err := writeSamplesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		smoothed := pipe.state.SmoothedHistory(ctx)
		if err := writeSamplesPNG(opts.PNGPath, downsampled, smoothed); err != nil {
			return err
		}
	}

	return nil
}

func samplesBetween(samples []store.IndexSample, to time.Time) []store.IndexSample {
	filtered := make([]store.IndexSample, 0, len(samples))
	for _, sample := range samples {
		if sample.Timestamp.Before(to) {
			filtered = append(filtered, sample)
		}
	}
	return filtered
}

func downsampleSamples(samples []store.IndexSample, max int) []store.IndexSample {
	if max <= 0 || len(samples) <= max {
		return samples
	}

	result := make([]store.IndexSample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

func writeSamplesCSV(path string, samples []store.IndexSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"timestamp", "avgx_usd", "wf_value", "wc_value"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, sample := range samples {
		record := []string{
			sample.Timestamp.Format(time.RFC3339),
			formatFloat(sample.AvgxUSD, 6),
			formatFloat(sample.WFValue, 8),
			formatFloat(sample.WCValue, 4),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSamplesPNG(path string, samples []store.IndexSample, smoothed []store.SmoothedSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(samples))
	avgx := make([]float64, len(samples))
	for i, sample := range samples {
		x[i] = sample.Timestamp
		avgx[i] = sample.AvgxUSD
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "AVGX (USD)",
			ValueFormatter: valueFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Volatility index",
			ValueFormatter: valueFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "AVGX",
				XValues: x,
				YValues: avgx,
			},
		},
	}

	if len(smoothed) > 1 {
		vx := make([]time.Time, len(smoothed))
		vol := make([]float64, len(smoothed))
		for i, sample := range smoothed {
			vx[i] = sample.Timestamp
			vol[i] = sample.VolatilityIndex
		}
		graph.Series = append(graph.Series, chart.TimeSeries{
			Name:    "Volatility",
			XValues: vx,
			YValues: vol,
			YAxis:   chart.YAxisSecondary,
		})
	}

	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
