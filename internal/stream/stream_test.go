package stream_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejusbharadwaj/domotik/internal/catalog"
	"github.com/tejusbharadwaj/domotik/internal/config"
	"github.com/tejusbharadwaj/domotik/internal/database"
	"github.com/tejusbharadwaj/domotik/internal/database/dbtest"
	"github.com/tejusbharadwaj/domotik/internal/database/mocks"
	"github.com/tejusbharadwaj/domotik/internal/models"
	"github.com/tejusbharadwaj/domotik/internal/stream"
)

var window = models.TimeWindow{Start: time.Unix(0, 0), End: time.Unix(1000, 0)}

func linkyRow(ts int64) database.Row {
	return database.Row{ts, int64(1000), int64(2000)}
}

func quietLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func newSource(store database.Store, batchSize int, metrics *stream.Metrics) *stream.Source {
	return stream.NewSource(store, catalog.New(), nil, batchSize, metrics, quietLogger())
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestStream_NoFetchAfterExhaustion(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockStore(ctrl)
	cursor := mocks.NewMockCursor(ctrl)

	gomock.InOrder(
		store.EXPECT().CursorFor(gomock.Any(), gomock.Any(), []any{int64(0), int64(1000)}).Return(cursor, nil),
		cursor.EXPECT().FetchBatch(gomock.Any(), 2).Return([]database.Row{linkyRow(100), linkyRow(200)}, nil),
		cursor.EXPECT().FetchBatch(gomock.Any(), 2).Return(nil, nil),
		cursor.EXPECT().Close().Return(nil),
	)

	s, err := newSource(store, 2, nil).Open(models.Linky(), window)
	require.NoError(t, err)
	ctx := context.Background()

	batch, err := s.NextBatch(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, time.Unix(100, 0), batch[0].Time())

	_, err = s.NextBatch(ctx)
	assert.ErrorIs(t, err, io.EOF)

	// Further pulls are answered without touching the cursor.
	_, err = s.NextBatch(ctx)
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, s.Close())
}

func TestStream_OpenIsLazy(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// No expectations: any storage access fails the test.
	store := mocks.NewMockStore(ctrl)

	s, err := newSource(store, 0, nil).Open(models.Pressure(), window)
	require.NoError(t, err)
	assert.Equal(t, "timestamp, pressure", s.Header())
	assert.NoError(t, s.Close())

	_, err = s.NextBatch(context.Background())
	assert.ErrorIs(t, err, stream.ErrClosed)
}

func TestStream_DefaultBatchSize(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockStore(ctrl)
	cursor := mocks.NewMockCursor(ctrl)
	store.EXPECT().CursorFor(gomock.Any(), gomock.Any(), gomock.Any()).Return(cursor, nil)
	cursor.EXPECT().FetchBatch(gomock.Any(), stream.DefaultBatchSize).Return(nil, nil)
	cursor.EXPECT().Close().Return(nil)

	s, err := newSource(store, 0, nil).Open(models.Linky(), window)
	require.NoError(t, err)
	records, err := s.Collect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStream_CancellationReleasesCursor(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockStore(ctrl)
	cursor := mocks.NewMockCursor(ctrl)

	gomock.InOrder(
		store.EXPECT().CursorFor(gomock.Any(), gomock.Any(), gomock.Any()).Return(cursor, nil),
		cursor.EXPECT().FetchBatch(gomock.Any(), 1).Return([]database.Row{linkyRow(100)}, nil),
		cursor.EXPECT().Close().Return(nil),
	)

	metrics := stream.NewMetrics(nil)
	s, err := newSource(store, 1, metrics).Open(models.Linky(), window)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	_, err = s.NextBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, gaugeValue(t, metrics.OpenCursors))

	cancel()
	_, err = s.NextBatch(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0.0, gaugeValue(t, metrics.OpenCursors))

	// Closing again is a no-op on the released cursor.
	assert.NoError(t, s.Close())
}

func TestStream_FetchErrorReleasesCursor(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockStore(ctrl)
	cursor := mocks.NewMockCursor(ctrl)

	gomock.InOrder(
		store.EXPECT().CursorFor(gomock.Any(), gomock.Any(), gomock.Any()).Return(cursor, nil),
		cursor.EXPECT().FetchBatch(gomock.Any(), 10).Return([]database.Row{linkyRow(100)}, nil),
		cursor.EXPECT().FetchBatch(gomock.Any(), 10).Return(nil, errors.New("connection reset by peer")),
		cursor.EXPECT().Close().Return(nil),
	)

	s, err := newSource(store, 10, nil).Open(models.Linky(), window)
	require.NoError(t, err)

	var seen int
	err = s.Each(context.Background(), func(batch []models.Record) error {
		seen += len(batch)
		return nil
	})
	assert.ErrorIs(t, err, models.ErrQuery)
	assert.Contains(t, err.Error(), "linky [0, 1000]: query error: connection reset by peer")
	assert.Equal(t, 1, seen)
}

func TestStream_MappingErrorReleasesCursor(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockStore(ctrl)
	cursor := mocks.NewMockCursor(ctrl)

	gomock.InOrder(
		store.EXPECT().CursorFor(gomock.Any(), gomock.Any(), gomock.Any()).Return(cursor, nil),
		cursor.EXPECT().FetchBatch(gomock.Any(), gomock.Any()).Return([]database.Row{{int64(100), "east"}}, nil),
		cursor.EXPECT().Close().Return(nil),
	)

	s, err := newSource(store, 10, nil).Open(models.Linky(), window)
	require.NoError(t, err)

	_, err = s.Collect(context.Background())
	assert.ErrorIs(t, err, models.ErrMapping)
}

func TestStream_ConsumerErrorReleasesCursor(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockStore(ctrl)
	cursor := mocks.NewMockCursor(ctrl)

	gomock.InOrder(
		store.EXPECT().CursorFor(gomock.Any(), gomock.Any(), gomock.Any()).Return(cursor, nil),
		cursor.EXPECT().FetchBatch(gomock.Any(), gomock.Any()).Return([]database.Row{linkyRow(100)}, nil),
		cursor.EXPECT().Close().Return(nil),
	)

	s, err := newSource(store, 10, nil).Open(models.Linky(), window)
	require.NoError(t, err)

	sinkErr := errors.New("broken pipe")
	err = s.Each(context.Background(), func([]models.Record) error { return sinkErr })
	assert.ErrorIs(t, err, sinkErr)
}

func TestStream_OpenErrorIsSurfaced(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockStore(ctrl)
	store.EXPECT().CursorFor(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, models.ErrConnection)

	s, err := newSource(store, 10, nil).Open(models.Linky(), window)
	require.NoError(t, err)

	_, err = s.NextBatch(context.Background())
	assert.ErrorIs(t, err, models.ErrConnection)
	assert.Contains(t, err.Error(), "linky [0, 1000]")
	_, err = s.NextBatch(context.Background())
	assert.ErrorIs(t, err, stream.ErrClosed)
}

func TestStream_ErrorsNameDeviceAndWindow(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockStore(ctrl)
	cursor := mocks.NewMockCursor(ctrl)
	gomock.InOrder(
		store.EXPECT().CursorFor(gomock.Any(), gomock.Any(), gomock.Any()).Return(cursor, nil),
		cursor.EXPECT().FetchBatch(gomock.Any(), gomock.Any()).Return([]database.Row{{int64(100), "salon", "humid", 21.0}}, nil),
		cursor.EXPECT().Close().Return(nil),
	)

	s, err := newSource(store, 10, nil).Open(models.TemperatureHumidity("salon"), window)
	require.NoError(t, err)

	_, err = s.Collect(context.Background())
	assert.ErrorIs(t, err, models.ErrMapping)
	assert.True(t, strings.HasPrefix(err.Error(), "temperature_humidity/salon [0, 1000]: "), err.Error())
}

func TestSource_UnknownDevice(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	registry, err := config.NewRegistry(map[string]config.DeviceConfig{
		"salon": {Type: "temperature-humidity"},
	})
	require.NoError(t, err)

	store := mocks.NewMockStore(ctrl)
	src := stream.NewSource(store, catalog.New(), registry, 10, nil, quietLogger())

	_, err = src.Open(models.TemperatureHumidity("cellar"), window)
	assert.ErrorIs(t, err, models.ErrBadParameter)

	s, err := src.Open(models.TemperatureHumidity("salon"), window)
	require.NoError(t, err)
	assert.Equal(t, "timestamp, device, humidity, temperature", s.Header())
	assert.NoError(t, s.Close())
}

func TestStream_SQLite(t *testing.T) {
	var fx dbtest.Fixture
	for i := int64(1); i <= 5; i++ {
		fx.TemperatureHumidity = append(fx.TemperatureHumidity,
			dbtest.TemperatureHumidity{Timestamp: 100 * i, Device: "salon", Humidity: 40 + float64(i), Temperature: 20.5},
			dbtest.TemperatureHumidity{Timestamp: 100*i + 1, Device: "cellar", Humidity: 80, Temperature: 12},
		)
	}
	store := dbtest.OpenStore(t, fx)

	metrics := stream.NewMetrics(prometheus.NewRegistry())
	src := stream.NewSource(store, catalog.New(), nil, 2, metrics, quietLogger())

	s, err := src.Open(models.TemperatureHumidity("salon"), models.TimeWindow{Start: time.Unix(200, 0), End: time.Unix(500, 0)})
	require.NoError(t, err)

	records, err := s.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 4)

	for i, r := range records {
		th, ok := r.(models.TemperatureHumidityRecord)
		require.True(t, ok)
		assert.Equal(t, "salon", th.Device)
		assert.Equal(t, int64(200+100*i), th.Timestamp.Unix())
	}
	assert.Equal(t, 4.0, counterValue(t, metrics.Rows.WithLabelValues("temperature_humidity")))
	assert.Equal(t, 2.0, counterValue(t, metrics.Batches.WithLabelValues("temperature_humidity")))
	assert.Equal(t, 0.0, gaugeValue(t, metrics.OpenCursors))
}
