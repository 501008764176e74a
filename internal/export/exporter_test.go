package export_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejusbharadwaj/domotik/internal/catalog"
	"github.com/tejusbharadwaj/domotik/internal/database"
	"github.com/tejusbharadwaj/domotik/internal/database/dbtest"
	"github.com/tejusbharadwaj/domotik/internal/database/mocks"
	"github.com/tejusbharadwaj/domotik/internal/export"
	"github.com/tejusbharadwaj/domotik/internal/models"
	"github.com/tejusbharadwaj/domotik/internal/stream"
)

func quietLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func newExporter(store database.Store, batchSize int) *export.Exporter {
	src := stream.NewSource(store, catalog.New(), nil, batchSize, nil, quietLogger())
	return export.NewExporter(src, quietLogger())
}

func window(start, end int64) models.TimeWindow {
	return models.TimeWindow{Start: time.Unix(start, 0), End: time.Unix(end, 0)}
}

// flushRecorder records what had been written at every flush.
type flushRecorder struct {
	bytes.Buffer
	flushes []string
}

func (f *flushRecorder) Flush() { f.flushes = append(f.flushes, f.String()) }

// failingWriter accepts limit writes, then fails.
type failingWriter struct {
	limit  int
	writes int
}

func (f *failingWriter) Write(p []byte) (int, error) {
	if f.writes >= f.limit {
		return 0, errors.New("client went away")
	}
	f.writes++
	return len(p), nil
}

func TestExport_Linky(t *testing.T) {
	store := dbtest.OpenStore(t, dbtest.Fixture{Linky: []dbtest.Linky{
		{Timestamp: 100, East: 1000, Sinst: 2000},
		{Timestamp: 200, East: 1010, Sinst: 1900},
		{Timestamp: 300, East: 1025, Sinst: 2100},
	}})

	var out flushRecorder
	n, err := newExporter(store, 2).Export(context.Background(), &out, models.Linky(), window(0, 1000))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t,
		"timestamp, east, sinst\n"+
			"100, 1000, 2000\n"+
			"200, 1010, 1900\n"+
			"300, 1025, 2100\n",
		out.String())

	// Header, then one flush per non-empty batch.
	require.Len(t, out.flushes, 3)
	assert.Equal(t, "timestamp, east, sinst\n", out.flushes[0])
}

func TestExport_InvertedWindowIsHeaderOnly(t *testing.T) {
	store := dbtest.OpenStore(t, dbtest.Fixture{Pressure: []dbtest.Pressure{
		{Timestamp: 100, Pressure: 1013.2},
	}})

	var out bytes.Buffer
	n, err := newExporter(store, 10).Export(context.Background(), &out, models.Pressure(), window(300, 100))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, "timestamp, pressure\n", out.String())
}

func TestExport_OnOffAndTemperatureHumidity(t *testing.T) {
	store := dbtest.OpenStore(t, dbtest.Fixture{
		OnOff: []dbtest.OnOff{
			{Timestamp: 100, Device: "boiler", State: true},
			{Timestamp: 200, Device: "boiler", State: false},
		},
		TemperatureHumidity: []dbtest.TemperatureHumidity{
			{Timestamp: 100, Device: "salon", Humidity: 45.5, Temperature: 21.25},
		},
	})
	exp := newExporter(store, 10)

	var out bytes.Buffer
	_, err := exp.Export(context.Background(), &out, models.OnOff("boiler"), window(0, 1000))
	require.NoError(t, err)
	assert.Equal(t, "timestamp, device, state\n100, boiler, true\n200, boiler, false\n", out.String())

	out.Reset()
	_, err = exp.Export(context.Background(), &out, models.TemperatureHumidity("salon"), window(0, 1000))
	require.NoError(t, err)
	assert.Equal(t, "timestamp, device, humidity, temperature\n100, salon, 45.5, 21.25\n", out.String())
}

func TestExport_HeaderBeforeFirstFetch(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockStore(ctrl)
	cursor := mocks.NewMockCursor(ctrl)

	var out bytes.Buffer
	gomock.InOrder(
		store.EXPECT().CursorFor(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(context.Context, string, []any) (database.Cursor, error) {
				assert.Equal(t, "timestamp, pressure\n", out.String())
				return cursor, nil
			}),
		cursor.EXPECT().FetchBatch(gomock.Any(), 10).Return(nil, nil),
		cursor.EXPECT().Close().Return(nil),
	)

	_, err := newExporter(store, 10).Export(context.Background(), &out, models.Pressure(), window(0, 10))
	require.NoError(t, err)
}

func TestExport_WriteFailureReleasesCursor(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockStore(ctrl)
	cursor := mocks.NewMockCursor(ctrl)

	gomock.InOrder(
		store.EXPECT().CursorFor(gomock.Any(), gomock.Any(), gomock.Any()).Return(cursor, nil),
		cursor.EXPECT().FetchBatch(gomock.Any(), 1).Return([]database.Row{{int64(100), 1013.0}}, nil),
		cursor.EXPECT().Close().Return(nil),
	)

	// The header goes through, the first batch does not.
	n, err := newExporter(store, 1).Export(context.Background(), &failingWriter{limit: 1}, models.Pressure(), window(0, 10))
	assert.Error(t, err)
	assert.Equal(t, 0, n)
}

func TestExport_MidStreamErrorIsReturned(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockStore(ctrl)
	cursor := mocks.NewMockCursor(ctrl)

	gomock.InOrder(
		store.EXPECT().CursorFor(gomock.Any(), gomock.Any(), gomock.Any()).Return(cursor, nil),
		cursor.EXPECT().FetchBatch(gomock.Any(), 1).Return([]database.Row{{int64(100), 1013.0}}, nil),
		cursor.EXPECT().FetchBatch(gomock.Any(), 1).Return(nil, errors.New("server closed the connection")),
		cursor.EXPECT().Close().Return(nil),
	)

	var out bytes.Buffer
	n, err := newExporter(store, 1).Export(context.Background(), &out, models.Pressure(), window(0, 10))
	assert.ErrorIs(t, err, models.ErrQuery)
	assert.Equal(t, 1, n)
	assert.Equal(t, "timestamp, pressure\n100, 1013\n", out.String())
}

func TestFilename(t *testing.T) {
	now := time.Date(2024, 3, 9, 7, 5, 1, 0, time.UTC)
	assert.Equal(t, "linky-20240309070501.csv", export.Filename(models.Linky(), now))
	assert.Equal(t, "temperature_humidity-20240309070501.csv", export.Filename(models.TemperatureHumidity("salon"), now))
}
