package stream

import (
	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/domotik/internal/catalog"
	"github.com/tejusbharadwaj/domotik/internal/config"
	"github.com/tejusbharadwaj/domotik/internal/database"
	"github.com/tejusbharadwaj/domotik/internal/models"
)

// Devices resolves device-scoped kinds against the configured registry.
type Devices interface {
	Lookup(kind models.SensorKind) (config.Device, error)
}

// Source builds streams for a sensor kind and window.
type Source struct {
	store     database.Store
	catalog   *catalog.Catalog
	devices   Devices
	batchSize int
	metrics   *Metrics
	logger    *logrus.Entry
}

// NewSource creates a Source. A non-positive batchSize selects
// DefaultBatchSize. devices and metrics may be nil.
func NewSource(store database.Store, cat *catalog.Catalog, devices Devices, batchSize int, metrics *Metrics, logger *logrus.Entry) *Source {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Source{
		store:     store,
		catalog:   cat,
		devices:   devices,
		batchSize: batchSize,
		metrics:   metrics,
		logger:    logger,
	}
}

// Entry returns the catalog entry for kind.
func (s *Source) Entry(kind models.Kind) (catalog.Entry, error) {
	return s.catalog.Lookup(kind)
}

// Open validates kind and prepares a stream over w. No storage access happens
// until the first NextBatch.
func (s *Source) Open(kind models.SensorKind, w models.TimeWindow) (*Stream, error) {
	if s.devices != nil {
		if _, err := s.devices.Lookup(kind); err != nil {
			return nil, err
		}
	}
	entry, err := s.catalog.Lookup(kind.Kind)
	if err != nil {
		return nil, err
	}
	args, err := s.catalog.Args(kind, w)
	if err != nil {
		return nil, err
	}
	return &Stream{
		kind:      kind,
		window:    w,
		entry:     entry,
		args:      args,
		batchSize: s.batchSize,
		store:     s.store,
		metrics:   s.metrics,
		logger:    s.logger,
	}, nil
}
