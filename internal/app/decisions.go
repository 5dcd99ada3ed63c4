package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"barwatch/internal/domain"
)

// DecisionsOptions configure the decisions command.
type DecisionsOptions struct {
	Pair  domain.Pair
	Limit int
}

// Decisions prints recent trade decisions for one pair, newest first.
func (a *App) Decisions(ctx context.Context, opts DecisionsOptions) error {
	st, closeStores, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer closeStores()

	decisions, err := st.decisions.ListDecisions(ctx, opts.Pair, opts.Limit)
	if err != nil {
		return err
	}
	if len(decisions) == 0 {
		fmt.Fprintln(os.Stdout, "no decisions found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Bar (UTC)\tDecision\tRule\tML\tComposite\tStatus\tError")

	for _, dec := range decisions {
		ml := "-"
		if dec.MLConfidence != nil {
			ml = dec.MLConfidence.StringFixed(2)
		}
		composite := "-"
		if dec.CompositeScore != nil {
			composite = dec.CompositeScore.StringFixed(2)
		}
		errMsg := ""
		if dec.ErrorMessage != "" {
			errMsg = sanitizeInline(dec.ErrorMessage)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			dec.BarTime.UTC().Format(time.RFC3339),
			string(dec.FinalDecision),
			dec.RuleConfidence.StringFixed(2),
			ml,
			composite,
			string(dec.Status),
			errMsg,
		)
	}

	writer.Flush()
	return nil
}
