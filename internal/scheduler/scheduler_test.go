package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/tejusbharadwaj/domotik/internal/database/mocks"
)

type recordingReporter struct {
	mu      sync.Mutex
	reports []bool
}

func (r *recordingReporter) SetStorageHealthy(healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, healthy)
}

func quietLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func TestStartProbesImmediately(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockStore(ctrl)
	store.EXPECT().Ping(gomock.Any()).Return(nil)

	reporter := &recordingReporter{}
	s := NewScheduler(context.Background(), "@every 1h", store, reporter, quietLogger())
	assert.NoError(t, s.Start())
	s.Stop()

	assert.Equal(t, []bool{true}, reporter.reports)
}

func TestProbeReportsTransitions(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockStore(ctrl)
	gomock.InOrder(
		store.EXPECT().Ping(gomock.Any()).Return(nil),
		store.EXPECT().Ping(gomock.Any()).Return(errors.New("connection refused")),
		store.EXPECT().Ping(gomock.Any()).Return(errors.New("connection refused")),
		store.EXPECT().Ping(gomock.Any()).Return(nil),
	)

	reporter := &recordingReporter{}
	s := NewScheduler(context.Background(), "@every 1h", store, reporter, quietLogger())
	for i := 0; i < 4; i++ {
		s.probe()
	}

	assert.Equal(t, []bool{true, false, false, true}, reporter.reports)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	s := NewScheduler(context.Background(), "not a schedule", mocks.NewMockStore(ctrl), &recordingReporter{}, quietLogger())
	assert.Error(t, s.Start())
}
