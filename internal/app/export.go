package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"stockwatch/internal/alertlog"
)

// Export renders alert history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	s, closeStores, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer closeStores()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.AddDate(0, 0, -30)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	events, err := collectEvents(ctx, s.alerts, alertlog.Filter{
		UserEmail: opts.UserEmail,
		StockCode: opts.StockCode,
		From:      &from,
		To:        &to,
	})
	if err != nil {
		return err
	}
	if len(events) == 0 {
		a.Logger.Info().Msg("no alerts found for export window")
		return nil
	}

	// Query 按时间倒序返回, 图表需要正序
	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })

	downsampled := downsampleEvents(events, opts.MaxPoints)
	a.Logger.Info().Int("total", len(events)).Int("exported", len(downsampled)).Msg("exporting alerts")

	if opts.CSVPath != "" {
		if err := writeEventsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeEventsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}
	return nil
}

// collectEvents walks the paginated history until the window is exhausted.
func collectEvents(ctx context.Context, store alertlog.Store, filter alertlog.Filter) ([]alertlog.Event, error) {
	events := make([]alertlog.Event, 0)
	req := alertlog.PageRequest{Page: 1, PageSize: 200}
	for {
		page, err := store.Query(ctx, filter, req)
		if err != nil {
			return nil, err
		}
		events = append(events, page.Events...)
		if !page.HasNext {
			return events, nil
		}
		req.Page++
	}
}

func downsampleEvents(events []alertlog.Event, max int) []alertlog.Event {
	if max <= 0 || len(events) <= max {
		return events
	}

	result := make([]alertlog.Event, 0, max)
	step := float64(len(events)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(events) {
			idx = len(events) - 1
		}
		result = append(result, events[idx])
	}
	return result
}

func writeEventsCSV(path string, events []alertlog.Event) error {
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

	header := []string{"created_at", "user_email", "stock_code", "stock_name", "triggered_price", "threshold_price", "direction", "ai"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, event := range events {
		record := []string{
			event.CreatedAt.UTC().Format(time.RFC3339),
			event.UserEmail,
			event.StockCode,
			event.StockName,
			event.TriggeredPrice.String(),
			event.ThresholdPrice.String(),
			string(event.Direction),
			summarizeOpinion(event),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return writer.Error()
}

func writeEventsPNG(path string, events []alertlog.Event) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(events))
	triggered := make([]float64, len(events))
	threshold := make([]float64, len(events))
	for i, event := range events {
		x[i] = event.CreatedAt
		triggered[i] = event.TriggeredPrice.InexactFloat64()
		threshold[i] = event.ThresholdPrice.InexactFloat64()
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
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Triggered",
				XValues: x,
				YValues: triggered,
			},
			chart.TimeSeries{
				Name:    "Threshold",
				XValues: x,
				YValues: threshold,
			},
		},
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
