package models

import "time"

// MetricSample is one raw telemetry reading for a (service, metric) pair.
// Samples are immutable once ingested.
type MetricSample struct {
	Service   string    `json:"service"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// SeriesKey identifies a metric time series.
type SeriesKey struct {
	Service string
	Metric  string
}

// Key returns the series key of the sample.
func (s MetricSample) Key() SeriesKey {
	return SeriesKey{Service: s.Service, Metric: s.Metric}
}

// TimeRange bounds history queries.
type TimeRange struct {
	Start time.Time
	End   time.Time
}
