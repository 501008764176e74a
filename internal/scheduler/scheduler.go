// Package scheduler runs periodic background jobs. Its only job probes the
// storage and publishes the outcome to the health service.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultProbeTimeout bounds a single storage probe.
const DefaultProbeTimeout = 10 * time.Second

// Pinger is the storage side of the probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthReporter receives probe outcomes.
type HealthReporter interface {
	SetStorageHealthy(healthy bool)
}

type Scheduler struct {
	ctx      context.Context
	schedule string
	store    Pinger
	reporter HealthReporter
	logger   *logrus.Entry
	cron     *cron.Cron
	timeout  time.Duration

	mu      sync.Mutex
	healthy *bool
}

func NewScheduler(ctx context.Context, schedule string, store Pinger, reporter HealthReporter, logger *logrus.Entry) *Scheduler {
	return &Scheduler{
		ctx:      ctx,
		schedule: schedule,
		store:    store,
		reporter: reporter,
		logger:   logger,
		cron:     cron.New(),
		timeout:  DefaultProbeTimeout,
	}
}

// Start probes once immediately, then on every tick of the cron schedule.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.probe); err != nil {
		return err
	}
	s.probe()
	s.cron.Start()
	return nil
}

// probe pings the storage and reports the result. Only transitions are
// logged above debug level.
func (s *Scheduler) probe() {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	err := s.store.Ping(ctx)
	healthy := err == nil
	s.reporter.SetStorageHealthy(healthy)

	s.mu.Lock()
	changed := s.healthy == nil || *s.healthy != healthy
	s.healthy = &healthy
	s.mu.Unlock()

	entry := s.logger.WithField("healthy", healthy)
	switch {
	case err != nil && changed:
		entry.WithError(err).Error("Storage probe failed")
	case changed:
		entry.Info("Storage reachable")
	default:
		entry.Debug("Storage probe")
	}
}

// Stop the scheduler and wait for a running probe to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
