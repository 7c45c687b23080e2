package core

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned synchronously, before any oracle is
	// consulted, for degenerate rays and out-of-range scan parameters.
	ErrInvalidInput = errors.New("invalid input")
	// ErrSamplingUnavailable means an elevation or intersection oracle could
	// not answer for one or more query points. It is scoped to one profile or
	// one ray of a scan.
	ErrSamplingUnavailable = errors.New("sampling unavailable")
	// ErrCancelled means the caller aborted the query.
	ErrCancelled = errors.New("cancelled")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// oracleError classifies a failure returned by an external oracle. Caller
// cancellation wins over everything else; a deadline is an unavailable sample.
func oracleError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, ErrSamplingUnavailable) {
		return err
	}
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return fmt.Errorf("%w: %w", ErrSamplingUnavailable, err)
}
