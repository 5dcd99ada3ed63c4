package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"barwatch/internal/domain"
	"barwatch/internal/ingest"
)

// IngestOptions configure the one-shot ingest command. An empty Pair ingests
// the whole watchlist.
type IngestOptions struct {
	Pair domain.Pair
}

// Ingest fetches and persists the latest bar for the selected pairs once.
func (a *App) Ingest(ctx context.Context, opts IngestOptions) error {
	st, closeStores, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer closeStores()

	provider := ingest.NewAllTick(ingest.AllTickOptions{
		BaseURL: a.Config.Provider.BaseURL,
		Token:   a.Config.Provider.Token,
		Timeout: a.Config.Provider.RequestTimeout,
	}, a.Logger)
	ingestor := ingest.NewIngestor(provider, st.bars, ingest.Options{
		FailureCooldown: a.Config.Provider.FailureCooldown,
		MaxFailures:     a.Config.Provider.MaxFailures,
		KeyAgeDays:      a.Config.KeyAgeDays(time.Now().UTC()),
	}, a.Logger)

	pairs := a.pairs()
	if opts.Pair.Symbol != "" && opts.Pair.Timeframe != "" {
		pairs = []domain.Pair{opts.Pair}
	}
	if len(pairs) == 0 {
		return errors.New("no pairs to ingest")
	}

	failed := 0
	for _, pair := range pairs {
		bar, _, err := ingestor.IngestOnce(ctx, pair)
		if err != nil {
			failed++
			a.Logger.Error().Err(err).Str("pair", pair.Key()).Msg("ingest failed")
			continue
		}
		if bar == nil {
			fmt.Fprintf(os.Stdout, "%s: no new bar\n", pair.Key())
			continue
		}
		fmt.Fprintf(os.Stdout, "%s: bar %s close %s\n", pair.Key(), bar.Timestamp.UTC().Format(time.RFC3339), bar.Close.String())
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d pairs failed to ingest", failed, len(pairs))
	}
	return nil
}
