// Package export writes record streams as ", "-delimited text.
//
// The header line is written and flushed before the first fetch, so clients
// see the response start immediately. Every batch is formatted into one
// buffer, written and flushed before the next batch is pulled; memory use is
// bounded by one batch.
package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/domotik/internal/models"
	"github.com/tejusbharadwaj/domotik/internal/stream"
)

// Separator joins the fields of one line.
const Separator = ", "

// Flusher is implemented by writers that buffer output, such as
// http.ResponseWriter.
type Flusher interface {
	Flush()
}

// Exporter streams records of one kind and window to a writer.
type Exporter struct {
	source *stream.Source
	logger *logrus.Entry
}

// NewExporter creates an Exporter reading from source.
func NewExporter(source *stream.Source, logger *logrus.Entry) *Exporter {
	return &Exporter{source: source, logger: logger}
}

// Open validates the request and prepares its stream without touching
// storage. Callers that need to report bad parameters before any output is
// written use Open then Write.
func (e *Exporter) Open(kind models.SensorKind, w models.TimeWindow) (*stream.Stream, error) {
	return e.source.Open(kind, w)
}

// Export is Open followed by Write.
func (e *Exporter) Export(ctx context.Context, out io.Writer, kind models.SensorKind, w models.TimeWindow) (int, error) {
	s, err := e.Open(kind, w)
	if err != nil {
		return 0, err
	}
	return e.Write(ctx, out, s)
}

// Write drains s into out and returns the number of records written. The
// stream is closed on return, including when out rejects a write.
func (e *Exporter) Write(ctx context.Context, out io.Writer, s *stream.Stream) (int, error) {
	defer s.Close()

	if _, err := io.WriteString(out, s.Header()+"\n"); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}
	flush(out)

	var (
		buf   bytes.Buffer
		count int
	)
	err := s.Each(ctx, func(batch []models.Record) error {
		buf.Reset()
		for _, rec := range batch {
			buf.WriteString(FormatRecord(rec))
			buf.WriteByte('\n')
		}
		if _, err := out.Write(buf.Bytes()); err != nil {
			return fmt.Errorf("write batch: %w", err)
		}
		flush(out)
		count += len(batch)
		return nil
	})
	if err != nil {
		e.logger.WithFields(logrus.Fields{
			"kind":    s.Kind().String(),
			"written": count,
		}).WithError(err).Warn("Export ended early")
		return count, err
	}
	return count, nil
}

// FormatRecord renders the fields of rec in column order.
func FormatRecord(rec models.Record) string {
	var b bytes.Buffer
	for i, f := range rec.Fields() {
		if i > 0 {
			b.WriteString(Separator)
		}
		b.WriteString(formatField(f))
	}
	return b.String()
}

func formatField(v any) string {
	switch t := v.(type) {
	case time.Time:
		return strconv.FormatInt(t.Unix(), 10)
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// Filename returns the attachment name for an export started at now.
func Filename(kind models.SensorKind, now time.Time) string {
	return fmt.Sprintf("%s-%s.csv", kind.Kind, now.Format("20060102150405"))
}

func flush(w io.Writer) {
	if f, ok := w.(Flusher); ok {
		f.Flush()
	}
}
