package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"barwatch/internal/freshness"
	"barwatch/internal/status"
)

// Status prints the per-pair health snapshot.
func (a *App) Status(ctx context.Context) error {
	st, closeStores, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer closeStores()

	reporter := status.NewReporter(st.status, freshness.Cadences(a.Config.Freshness.Cadence))
	snapshot, err := reporter.Snapshot(ctx)
	if err != nil {
		return err
	}
	if len(snapshot) == 0 {
		fmt.Fprintln(os.Stdout, "no status rows found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Pair\tHealth\tFreshness\tAge(s)\tLevel\tBreaker\tOK/Fail 5m\tMedian ms\tLast Bar (UTC)")

	for _, row := range snapshot {
		rec := row.Record
		age := "-"
		if row.AgeSec != nil {
			age = fmt.Sprintf("%d", *row.AgeSec)
		}
		median := "-"
		if rec.MedianLatencyMS != nil {
			median = fmt.Sprintf("%d", *rec.MedianLatencyMS)
		}
		lastBar := "-"
		if rec.LastBarTime != nil {
			lastBar = rec.LastBarTime.UTC().Format(time.RFC3339)
		}
		breaker := "closed"
		if rec.BreakerOpen {
			breaker = "OPEN"
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			rec.Pair().Key(),
			row.Label,
			string(rec.Freshness),
			age,
			string(rec.EscalationLevel),
			breaker,
			rec.AnalysesOK5m,
			rec.AnalysesFail5m,
			median,
			lastBar,
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
