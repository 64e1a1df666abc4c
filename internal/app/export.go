package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"marketwatch/internal/format"
	"marketwatch/internal/storage"
)

// Export renders alert history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.From != nil && opts.To != nil && !opts.From.Before(*opts.To) {
		return errors.New("from must be before to")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	s, err := a.open(ctx, nil)
	if err != nil {
		return err
	}
	defer s.close()

	history, err := s.engine.ListHistory(ctx)
	if err != nil {
		return err
	}

	entries := filterHistory(history, opts)
	if len(entries) == 0 {
		a.Logger.Info().Msg("no triggered alerts in export window")
		return nil
	}

	idx := format.Downsample(len(entries), opts.MaxPoints)
	sampled := make([]storage.TriggeredAlert, 0, len(idx))
	for _, i := range idx {
		sampled = append(sampled, entries[i])
	}
	a.Logger.Info().Int("total", len(entries)).Int("exported", len(sampled)).Msg("exporting history")

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, sampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeHistoryPNG(opts.PNGPath, sampled); err != nil {
			return err
		}
	}

	return nil
}

func filterHistory(history []storage.TriggeredAlert, opts ExportOptions) []storage.TriggeredAlert {
	symbol := storage.NormalizeSymbol(opts.Symbol)
	out := make([]storage.TriggeredAlert, 0, len(history))
	for _, entry := range history {
		if symbol != "" && storage.NormalizeSymbol(entry.Symbol) != symbol {
			continue
		}
		if opts.From != nil && entry.TriggeredAt.Before(*opts.From) {
			continue
		}
		if opts.To != nil && !entry.TriggeredAt.Before(*opts.To) {
			continue
		}
		out = append(out, entry)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TriggeredAt.Before(out[j].TriggeredAt)
	})
	return out
}

func writeHistoryCSV(path string, entries []storage.TriggeredAlert) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"id", "symbol", "asset_type", "condition", "price_target", "price_at_trigger", "created_at", "triggered_at"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, entry := range entries {
		record := []string{
			entry.ID,
			entry.Symbol,
			string(entry.AssetType),
			string(entry.Condition),
			entry.PriceTarget.String(),
			entry.PriceAtTrigger.String(),
			entry.CreatedAt.UTC().Format(time.RFC3339),
			entry.TriggeredAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// writeHistoryPNG plots the trigger price and target of every entry over time.
func writeHistoryPNG(path string, entries []storage.TriggeredAlert) error {
	if len(entries) < 2 {
		return fmt.Errorf("chart needs at least two triggered alerts, have %d", len(entries))
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(entries))
	price := make([]float64, len(entries))
	target := make([]float64, len(entries))

	for i, entry := range entries {
		x[i] = entry.TriggeredAt
		price[i] = entry.PriceAtTrigger.InexactFloat64()
		target[i] = entry.PriceTarget.InexactFloat64()
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (USD)",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Price at trigger",
				XValues: x,
				YValues: price,
			},
			chart.TimeSeries{
				Name:    "Target",
				XValues: x,
				YValues: target,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := graph.Render(chart.PNG, file); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
