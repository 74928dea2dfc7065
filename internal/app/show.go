package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"stockwatch/internal/advisor"
	"stockwatch/internal/alertlog"
)

// Show prints recent alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	s, closeStores, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer closeStores()

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	events, err := s.alerts.ListRecent(ctx, limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tOwner\tCode\tDirection\tPrice\tThreshold\tAI")

	for _, event := range events {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			event.CreatedAt.UTC().Format(time.RFC3339),
			event.UserEmail,
			event.StockCode,
			event.Direction,
			event.TriggeredPrice.StringFixed(2),
			event.ThresholdPrice.StringFixed(2),
			summarizeOpinion(event),
		)
	}

	writer.Flush()
	return nil
}

func summarizeOpinion(event alertlog.Event) string {
	if len(event.Opinion) == 0 {
		return "-"
	}
	var opinion advisor.Opinion
	if err := json.Unmarshal(event.Opinion, &opinion); err != nil {
		return "-"
	}
	if opinion.Err {
		return sanitizeInline("error: " + opinion.Message)
	}
	return fmt.Sprintf("%s (%d/100)", opinion.Recommendation, opinion.OverallScore)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
