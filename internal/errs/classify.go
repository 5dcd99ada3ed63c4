package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// codedError carries an explicit taxonomy code through a wrap chain.
type codedError struct {
	code Code
	err  error
}

func (e *codedError) Error() string {
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *codedError) Unwrap() error {
	return e.err
}

// Wrap tags err with a canonical code. Classify on the result (or anything
// wrapping it) returns that code.
func Wrap(code Code, err error) error {
	if err == nil {
		return nil
	}
	return &codedError{code: code, err: err}
}

// Classify maps an error to its canonical code.
//
// Explicit tags win; then timeouts, then Postgres unique violations, then
// connection-level failures. Anything unrecognised is Unknown — callers with
// more context (e.g. a storage sentinel in hand) should map before calling.
func Classify(err error) Code {
	if err == nil {
		return Unknown
	}

	var coded *codedError
	if errors.As(err, &coded) {
		return coded.code
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return IngestionTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return IngestionTimeout
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return DuplicateWrite
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return ProviderDisconnected
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ProviderDisconnected
	}

	return Unknown
}
