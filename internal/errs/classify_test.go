package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, Unknown},
		{"plain", errors.New("boom"), Unknown},
		{"deadline", context.DeadlineExceeded, IngestionTimeout},
		{"wrapped deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), IngestionTimeout},
		{"net timeout", timeoutErr{}, IngestionTimeout},
		{"unique violation", &pgconn.PgError{Code: "23505"}, DuplicateWrite},
		{"other pg error", &pgconn.PgError{Code: "42P01"}, Unknown},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), ProviderDisconnected},
		{"conn reset", syscall.ECONNRESET, ProviderDisconnected},
		{"op error", &net.OpError{Op: "read", Err: errors.New("closed")}, ProviderDisconnected},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestWrapTagWins(t *testing.T) {
	err := Wrap(StaleData, errors.New("bar too old"))
	require.Equal(t, StaleData, Classify(err))

	// The tag survives further wrapping and beats structural matches.
	wrapped := fmt.Errorf("analysis: %w", Wrap(AnalysisErr, context.DeadlineExceeded))
	require.Equal(t, AnalysisErr, Classify(wrapped))
}

func TestWrapNil(t *testing.T) {
	require.NoError(t, Wrap(AnalysisErr, nil))
}

func TestWrapPreservesChain(t *testing.T) {
	base := errors.New("root cause")
	err := Wrap(HeartbeatMiss, base)
	require.ErrorIs(t, err, base)
	require.Contains(t, err.Error(), "HEARTBEAT_MISS")
	require.Contains(t, err.Error(), "root cause")
}
