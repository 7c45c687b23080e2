package terrainrpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/terrain-visibility/core"
	"github.com/signalsfoundry/terrain-visibility/kb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrTooManyPoints is returned when a request exceeds the server's batch limit.
var ErrTooManyPoints = errors.New("too many points")

// ToStatusError maps kernel and tile store errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrMalformed),
		errors.Is(err, ErrTooManyPoints),
		errors.Is(err, core.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, kb.ErrNoCoverage):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	case errors.Is(err, context.Canceled),
		errors.Is(err, core.ErrCancelled):
		return status.Error(codes.Canceled, err.Error())

	case errors.Is(err, core.ErrSamplingUnavailable):
		return status.Error(codes.Unavailable, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// FromStatusError maps a status returned by the service back onto kernel
// errors. Anything that is not the caller's fault is an unavailable sample.
func FromStatusError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %w", core.ErrSamplingUnavailable, err)
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", core.ErrInvalidInput, st.Message())
	case codes.Canceled:
		return fmt.Errorf("%w: %s", core.ErrCancelled, st.Message())
	default:
		return fmt.Errorf("%w: %s: %s", core.ErrSamplingUnavailable, st.Code(), st.Message())
	}
}
