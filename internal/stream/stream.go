// Package stream turns a storage cursor into a pull-based sequence of typed
// record batches.
//
// Architecture:
//   - A Stream is created by a Source and owned by exactly one request
//   - The cursor is opened on the first NextBatch call, never before
//   - At most one batch is held in memory; nothing is fetched ahead of the caller
//   - Exhaustion, cancellation, errors and Close all release the cursor
//
// Both the CSV exporter (streaming sink) and the chart renderer
// (materializing sink, via Collect) consume the same Stream type.
//
// Example usage:
//
//	s, err := source.Open(models.Linky(), window)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//	for {
//	    batch, err := s.NextBatch(ctx)
//	    if errors.Is(err, io.EOF) {
//	        break
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    // use batch
//	}
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/domotik/internal/catalog"
	"github.com/tejusbharadwaj/domotik/internal/database"
	"github.com/tejusbharadwaj/domotik/internal/models"
)

// DefaultBatchSize is the number of rows pulled per fetch when none is configured.
const DefaultBatchSize = 100

// ErrClosed is returned by NextBatch on a stream closed before exhaustion.
var ErrClosed = errors.New("stream closed")

// Stream is a lazy, forward-only, non-restartable sequence of record batches.
// It is not safe to share a Stream between requests.
type Stream struct {
	kind      models.SensorKind
	window    models.TimeWindow
	entry     catalog.Entry
	args      []any
	batchSize int
	store     database.Store
	metrics   *Metrics
	logger    *logrus.Entry

	mu        sync.Mutex
	cursor    database.Cursor
	exhausted bool
	closed    bool
}

// Kind returns the sensor kind the stream reads.
func (s *Stream) Kind() models.SensorKind { return s.kind }

// Header returns the column header of the records the stream yields.
func (s *Stream) Header() string { return s.entry.Header() }

// NextBatch returns the next non-empty batch, or io.EOF once the cursor is
// exhausted. After io.EOF no fetch is ever issued again.
//
// On any error, including cancellation of ctx, the cursor is released before
// NextBatch returns.
func (s *Stream) NextBatch(ctx context.Context) ([]models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exhausted {
		return nil, io.EOF
	}
	if s.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		s.release()
		return nil, err
	}

	if s.cursor == nil {
		cur, err := s.store.CursorFor(ctx, s.entry.Query, s.args)
		if err != nil {
			s.closed = true
			s.metrics.failed(s.kind, "open")
			return nil, s.wrap(queryError(err))
		}
		s.cursor = cur
		s.metrics.opened()
	}

	rows, err := s.cursor.FetchBatch(ctx, s.batchSize)
	if err != nil {
		s.release()
		s.metrics.failed(s.kind, "fetch")
		return nil, s.wrap(queryError(err))
	}
	if len(rows) == 0 {
		s.exhausted = true
		s.release()
		return nil, io.EOF
	}

	records := make([]models.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := s.entry.Map(row)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"kind":  s.kind.String(),
				"query": s.entry.Query,
			}).WithError(err).Error("Failed to map row")
			s.release()
			s.metrics.failed(s.kind, "mapping")
			return nil, s.wrap(err)
		}
		records = append(records, rec)
	}
	s.metrics.fetched(s.kind, len(records))
	return records, nil
}

// Close releases the cursor. It is safe to call more than once and on a
// stream that never fetched.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.release()
}

// Each pulls the stream to exhaustion, handing every batch to fn. The stream
// is closed when Each returns, whatever the outcome.
func (s *Stream) Each(ctx context.Context, fn func([]models.Record) error) error {
	defer s.Close()
	for {
		batch, err := s.NextBatch(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(batch); err != nil {
			return err
		}
	}
}

// Collect materializes the whole stream in order.
func (s *Stream) Collect(ctx context.Context) ([]models.Record, error) {
	var out []models.Record
	err := s.Each(ctx, func(batch []models.Record) error {
		out = append(out, batch...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// release must be called with mu held.
func (s *Stream) release() error {
	s.closed = true
	if s.cursor == nil {
		return nil
	}
	err := s.cursor.Close()
	s.cursor = nil
	s.metrics.released()
	if err != nil {
		s.logger.WithField("kind", s.kind.String()).WithError(err).Warn("Failed to close cursor")
	}
	return err
}

// wrap adds the kind, device included, and the window to a storage error.
func (s *Stream) wrap(err error) error {
	return fmt.Errorf("%s %s: %w", s.kind, s.window, err)
}

func queryError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, models.ErrQuery), errors.Is(err, models.ErrConnection):
		return err
	default:
		return fmt.Errorf("%w: %v", models.ErrQuery, err)
	}
}
