package ingest

import (
	"context"

	"barwatch/internal/domain"
)

// Provider retrieves the latest closed bar for a pair from a market-data
// feed.
type Provider interface {
	// FetchLatestBar returns the most recent closed bar, or nil when the
	// provider has nothing newer than what it already served.
	FetchLatestBar(ctx context.Context, pair domain.Pair) (*domain.Bar, error)
	// Name identifies the provider in status rows and logs.
	Name() string
}
