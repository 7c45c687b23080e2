package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/signalsfoundry/terrain-visibility/model"
)

// Sink receives rendered layers. Implementations must be safe for
// concurrent use and must not retain references into the caller's layer
// beyond Publish; MultiSink hands each sink its own copy.
type Sink interface {
	Publish(ctx context.Context, layer model.Layer) error
	Close() error
}

// WriterSink writes one JSON document per layer.
type WriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
	c   io.Closer
}

// NewWriterSink encodes layers onto w. If w is an io.Closer it is closed by
// Close.
func NewWriterSink(w io.Writer) *WriterSink {
	s := &WriterSink{enc: json.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		s.c = c
	}
	return s
}

func (s *WriterSink) Publish(ctx context.Context, layer model.Layer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(layer); err != nil {
		return fmt.Errorf("write layer %s: %w", layer.ScanID, err)
	}
	return nil
}

func (s *WriterSink) Close() error {
	if s.c == nil {
		return nil
	}
	return s.c.Close()
}

// MultiSink publishes to every sink, continuing past failures.
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, layer model.Layer) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, layer.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
