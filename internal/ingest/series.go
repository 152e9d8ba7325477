package ingest

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// Store holds a bounded rolling window of samples per (service, metric) key.
// Appends are validated; the window is safe for concurrent readers.
type Store struct {
	mu         sync.RWMutex
	series     map[models.SeriesKey]*series
	maxSamples int
	maxAge     time.Duration
	now        func() time.Time
}

type series struct {
	samples []models.MetricSample
}

// NewStore creates a Store bounding each series to maxSamples entries and
// maxAge of history. Zero values fall back to sane defaults.
func NewStore(maxSamples int, maxAge time.Duration) *Store {
	if maxSamples <= 0 {
		maxSamples = 1024
	}
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &Store{
		series:     make(map[models.SeriesKey]*series),
		maxSamples: maxSamples,
		maxAge:     maxAge,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source; used by tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Append validates and stores a sample. Malformed samples are rejected with a
// ValidationError and never partially applied.
func (s *Store) Append(sample models.MetricSample) error {
	if sample.Service == "" {
		return models.NewValidationError("service", "must not be empty")
	}
	if sample.Metric == "" {
		return models.NewValidationError("metric", "must not be empty")
	}
	if math.IsNaN(sample.Value) || math.IsInf(sample.Value, 0) {
		return models.NewValidationError("value", "must be finite")
	}
	if sample.Timestamp.IsZero() {
		return models.NewValidationError("timestamp", "must be set")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := sample.Key()
	ser, ok := s.series[key]
	if !ok {
		ser = &series{}
		s.series[key] = ser
	}

	ser.samples = append(ser.samples, sample)
	s.evict(ser)
	return nil
}

// evict drops samples beyond the size bound or older than maxAge.
// Caller holds the write lock.
func (s *Store) evict(ser *series) {
	if overflow := len(ser.samples) - s.maxSamples; overflow > 0 {
		copy(ser.samples[0:], ser.samples[overflow:])
		ser.samples = ser.samples[:s.maxSamples]
	}
	cutoff := s.now().Add(-s.maxAge)
	firstFresh := 0
	for firstFresh < len(ser.samples) && ser.samples[firstFresh].Timestamp.Before(cutoff) {
		firstFresh++
	}
	if firstFresh > 0 {
		copy(ser.samples[0:], ser.samples[firstFresh:])
		ser.samples = ser.samples[:len(ser.samples)-firstFresh]
	}
}

// Latest returns the most recent value for the key.
func (s *Store) Latest(service, metric string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ser, ok := s.series[models.SeriesKey{Service: service, Metric: metric}]
	if !ok || len(ser.samples) == 0 {
		return 0, false
	}
	return ser.samples[len(ser.samples)-1].Value, true
}

// Window returns a copy of the retained samples for the key, oldest first.
func (s *Store) Window(service, metric string) []models.MetricSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ser, ok := s.series[models.SeriesKey{Service: service, Metric: metric}]
	if !ok {
		return nil
	}
	return append([]models.MetricSample(nil), ser.samples...)
}

// Percentile computes the p-th percentile (0-100) over the retained window.
func (s *Store) Percentile(service, metric string, p float64) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ser, ok := s.series[models.SeriesKey{Service: service, Metric: metric}]
	if !ok || len(ser.samples) == 0 {
		return 0, false
	}

	values := make([]float64, len(ser.samples))
	for i, sample := range ser.samples {
		values[i] = sample.Value
	}
	sort.Float64s(values)

	if p <= 0 {
		return values[0], true
	}
	if p >= 100 {
		return values[len(values)-1], true
	}
	index := int((p / 100.0) * float64(len(values)-1))
	return values[index], true
}

// Keys lists the series currently held, for diagnostics.
func (s *Store) Keys() []models.SeriesKey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]models.SeriesKey, 0, len(s.series))
	for key := range s.series {
		keys = append(keys, key)
	}
	return keys
}
