package tsdb

import (
	"sort"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/types"
)

// Options configures retention for a Store
type Options struct {
	// Retention is the maximum sample age. Zero disables age-based eviction.
	Retention time.Duration

	// MaxSamples caps total stored samples across all series. When the cap
	// is exceeded the oldest samples are evicted first. Zero disables the
	// size budget.
	MaxSamples int
}

// DefaultOptions returns retention settings suitable for a small cluster
func DefaultOptions() Options {
	return Options{
		Retention:  15 * 24 * time.Hour,
		MaxSamples: 1_000_000,
	}
}

// point is a single timestamped value within a series
type point struct {
	t time.Time
	v float64
}

// series holds the append-only points for one (name, label set)
type series struct {
	name   string
	labels map[string]string
	points []point
}

// Store is an in-memory append-only time-series store. Samples are
// immutable once appended; eviction removes oldest-first by retention age
// or size budget. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	opts   Options
	series map[string]*series // keyed by name + canonical label key
	total  int
}

// NewStore creates an empty store
func NewStore(opts Options) *Store {
	return &Store{
		opts:   opts,
		series: make(map[string]*series),
	}
}

// Append stores a sample and enforces retention
func (s *Store) Append(sample types.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sample.Name + "\x00" + types.LabelsKey(sample.Labels)
	sr, ok := s.series[key]
	if !ok {
		sr = &series{name: sample.Name, labels: copyLabels(sample.Labels)}
		s.series[key] = sr
	}

	sr.points = append(sr.points, point{t: sample.Timestamp, v: sample.Value})
	s.total++

	s.enforceRetentionLocked(sample.Timestamp)
}

// AppendAll stores a batch of samples
func (s *Store) AppendAll(samples []types.Sample) {
	for _, sample := range samples {
		s.Append(sample)
	}
}

// enforceRetentionLocked evicts expired samples and, if the size budget is
// exceeded, the globally oldest samples until the store is back under it.
func (s *Store) enforceRetentionLocked(now time.Time) {
	if s.opts.Retention > 0 {
		cutoff := now.Add(-s.opts.Retention)
		for key, sr := range s.series {
			i := sort.Search(len(sr.points), func(i int) bool {
				return !sr.points[i].t.Before(cutoff)
			})
			if i > 0 {
				s.total -= i
				sr.points = append([]point(nil), sr.points[i:]...)
			}
			if len(sr.points) == 0 {
				delete(s.series, key)
			}
		}
	}

	if s.opts.MaxSamples <= 0 {
		return
	}
	for s.total > s.opts.MaxSamples {
		// Drop the single oldest head across all series
		var oldestKey string
		var oldest time.Time
		for key, sr := range s.series {
			if oldestKey == "" || sr.points[0].t.Before(oldest) {
				oldestKey = key
				oldest = sr.points[0].t
			}
		}
		if oldestKey == "" {
			return
		}
		sr := s.series[oldestKey]
		sr.points = sr.points[1:]
		s.total--
		if len(sr.points) == 0 {
			delete(s.series, oldestKey)
		}
	}
}

// Query returns all samples for the metric name whose labels match the
// selector (every selector pair must be present) within [from, to],
// ordered by timestamp within each series.
func (s *Store) Query(name string, selector map[string]string, from, to time.Time) []types.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Sample
	for _, sr := range s.series {
		if sr.name != name || !labelsMatch(sr.labels, selector) {
			continue
		}
		for _, p := range sr.points {
			if p.t.Before(from) || p.t.After(to) {
				continue
			}
			out = append(out, types.Sample{
				Name:      sr.name,
				Labels:    copyLabels(sr.labels),
				Value:     p.v,
				Timestamp: p.t,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// LatestPerSeries returns the most recent sample of each matching series,
// restricted to samples no older than maxAge before now. Used by the alert
// evaluator to read the latest window without blocking scrapes.
func (s *Store) LatestPerSeries(name string, selector map[string]string, now time.Time, maxAge time.Duration) []types.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := now.Add(-maxAge)
	var out []types.Sample
	for _, sr := range s.series {
		if sr.name != name || !labelsMatch(sr.labels, selector) {
			continue
		}
		if len(sr.points) == 0 {
			continue
		}
		p := sr.points[len(sr.points)-1]
		if maxAge > 0 && p.t.Before(cutoff) {
			continue
		}
		out = append(out, types.Sample{
			Name:      sr.name,
			Labels:    copyLabels(sr.labels),
			Value:     p.v,
			Timestamp: p.t,
		})
	}
	return out
}

// MetricNames returns the distinct metric names currently stored
func (s *Store) MetricNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	for _, sr := range s.series {
		seen[sr.name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the total number of stored samples
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// SeriesCount returns the number of distinct series
func (s *Store) SeriesCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series)
}

func labelsMatch(labels, selector map[string]string) bool {
	for k, v := range selector {
		if labels[k] != v {
			return false
		}
	}
	return true
}

func copyLabels(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}
