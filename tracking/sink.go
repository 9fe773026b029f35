package tracking

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Sink receives scalar time series keyed by (round, split, metric, epoch).
// Implementations must tolerate being called once per epoch per metric from a
// single training goroutine.
type Sink interface {
	Record(round int, split, metric string, epoch int, value float64)
	Close() error
}

// Splits used by the round trainer
const (
	SplitTrain = "train"
	SplitVal   = "val"
	SplitBest  = "best"
	SplitTest  = "test"
)

// NopSink discards every record. Used when tracking is disabled.
type NopSink struct{}

func (NopSink) Record(round int, split, metric string, epoch int, value float64) {}

func (NopSink) Close() error { return nil }

// LogSink emits each record as a structured log line
type LogSink struct {
	logger hclog.Logger
}

// NewLogSink creates a sink that logs records through the given logger
func NewLogSink(logger hclog.Logger) *LogSink {
	return &LogSink{logger: logger.Named("tracking")}
}

func (s *LogSink) Record(round int, split, metric string, epoch int, value float64) {
	s.logger.Debug("scalar",
		"round", round,
		"split", split,
		"metric", metric,
		"epoch", epoch,
		"value", value,
	)
}

func (s *LogSink) Close() error { return nil }

// SeriesKey identifies one scalar time series
type SeriesKey struct {
	Round  int    `json:"round"`
	Split  string `json:"split"`
	Metric string `json:"metric"`
}

// Point is one recorded scalar
type Point struct {
	Epoch int     `json:"epoch"`
	Value float64 `json:"value"`
}

// HistorySink keeps every recorded series in memory for inspection over the
// HTTP monitoring endpoint
type HistorySink struct {
	mutex  sync.RWMutex
	series map[SeriesKey][]Point
}

// NewHistorySink creates an empty in-memory sink
func NewHistorySink() *HistorySink {
	return &HistorySink{series: make(map[SeriesKey][]Point)}
}

func (s *HistorySink) Record(round int, split, metric string, epoch int, value float64) {
	key := SeriesKey{Round: round, Split: split, Metric: metric}
	s.mutex.Lock()
	s.series[key] = append(s.series[key], Point{Epoch: epoch, Value: value})
	s.mutex.Unlock()
}

func (s *HistorySink) Close() error { return nil }

// Series returns a copy of the points recorded under the given key
func (s *HistorySink) Series(round int, split, metric string) []Point {
	key := SeriesKey{Round: round, Split: split, Metric: metric}
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	points := make([]Point, len(s.series[key]))
	copy(points, s.series[key])
	return points
}

// Keys returns every series key recorded so far
func (s *HistorySink) Keys() []SeriesKey {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	keys := make([]SeriesKey, 0, len(s.series))
	for key := range s.series {
		keys = append(keys, key)
	}
	return keys
}

// MultiSink fans each record out to several sinks
type MultiSink struct {
	sinks []Sink
}

// Multi combines sinks into one
func Multi(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Record(round int, split, metric string, epoch int, value float64) {
	for _, s := range m.sinks {
		s.Record(round, split, metric, epoch, value)
	}
}

func (m *MultiSink) Close() error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing sink: %v", err)
		}
	}
	return firstErr
}
