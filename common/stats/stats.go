// Package stats provides a small set of instruments backed by go-metrics.
//
// A StatsReceiver can be passed down a call tree and scoped at each level:
//
//   stat.Scope("trigger").Counter("promoted").Inc(1)
//
// records into the "trigger/promoted" counter. Rendering produces a flat,
// finagle style JSON map in which latencies expand into avg/count/max/min/sum
// and percentile entries.
package stats

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rcrowley/go-metrics"
	log "github.com/sirupsen/logrus"
)

// Overridable in tests.
var Now = time.Now

// StatsRegistry is the subset of a go-metrics registry the receiver needs.
type StatsRegistry interface {
	// Gets an existing metric or registers the given one.
	GetOrRegister(string, interface{}) interface{}
	Unregister(string)
	Each(func(string, interface{}))
}

// StatsReceiver hands out named instruments. Name elements containing '/'
// have it replaced by "_SLASH_" since '/' separates scopes.
type StatsReceiver interface {
	// Scope returns a receiver that prefixes every name with scope.
	Scope(scope ...string) StatsReceiver

	// Precision returns a receiver whose latencies render in units of p.
	Precision(p time.Duration) StatsReceiver

	Counter(name ...string) Counter
	Gauge(name ...string) Gauge
	Latency(name ...string) Latency

	Remove(name ...string)

	// Render marshals every instrument in the registry.
	Render(pretty bool) []byte

	// Registry exposes the backing registry, mostly for assertions in tests.
	Registry() StatsRegistry
}

// DefaultStatsReceiver returns a receiver over a fresh finagle style registry.
func DefaultStatsReceiver() StatsReceiver {
	return NewCustomStatsReceiver(NewFinagleStatsRegistry())
}

func NewCustomStatsReceiver(registry StatsRegistry) StatsReceiver {
	if registry == nil {
		registry = NewFinagleStatsRegistry()
	}
	return &defaultStatsReceiver{registry: registry, precision: time.Millisecond}
}

type defaultStatsReceiver struct {
	registry  StatsRegistry
	precision time.Duration
	scope     []string
}

func (s *defaultStatsReceiver) Scope(scope ...string) StatsReceiver {
	return &defaultStatsReceiver{s.registry, s.precision, s.scoped(scope...)}
}

func (s *defaultStatsReceiver) Precision(p time.Duration) StatsReceiver {
	if p < 1 {
		p = 1
	}
	return &defaultStatsReceiver{s.registry, p, s.scope}
}

func (s *defaultStatsReceiver) Counter(name ...string) Counter {
	return s.registry.GetOrRegister(s.scopedName(name...), newMetricCounter()).(Counter)
}

func (s *defaultStatsReceiver) Gauge(name ...string) Gauge {
	return s.registry.GetOrRegister(s.scopedName(name...), newMetricGauge()).(Gauge)
}

func (s *defaultStatsReceiver) Latency(name ...string) Latency {
	return s.registry.GetOrRegister(s.scopedName(name...), newLatency(s.precision)).(Latency)
}

func (s *defaultStatsReceiver) Remove(name ...string) {
	s.registry.Unregister(s.scopedName(name...))
}

func (s *defaultStatsReceiver) Registry() StatsRegistry {
	return s.registry
}

func (s *defaultStatsReceiver) Render(pretty bool) []byte {
	var bytes []byte
	var err error
	if mp, ok := s.registry.(*finagleStatsRegistry); ok && pretty {
		bytes, err = mp.MarshalJSONPretty()
	} else {
		bytes, err = json.Marshal(s.registry)
	}
	if err != nil {
		log.Errorf("could not render stats: %v", err)
		return []byte("{}")
	}
	return bytes
}

// scoped returns a new slice, never aliasing s.scope.
func (s *defaultStatsReceiver) scoped(scope ...string) []string {
	out := make([]string, 0, len(s.scope)+len(scope))
	out = append(out, s.scope...)
	for _, elem := range scope {
		out = append(out, strings.Replace(elem, "/", "_SLASH_", -1))
	}
	return out
}

func (s *defaultStatsReceiver) scopedName(name ...string) string {
	return strings.Join(s.scoped(name...), "/")
}

// NilStatsReceiver ignores all stats operations.
func NilStatsReceiver() StatsReceiver {
	return &nilStatsReceiver{}
}

type nilStatsReceiver struct{}

func (s *nilStatsReceiver) Scope(scope ...string) StatsReceiver     { return s }
func (s *nilStatsReceiver) Precision(p time.Duration) StatsReceiver { return s }
func (s *nilStatsReceiver) Counter(name ...string) Counter          { return &metricCounter{metrics.NilCounter{}} }
func (s *nilStatsReceiver) Gauge(name ...string) Gauge              { return &metricGauge{metrics.NilGauge{}} }
func (s *nilStatsReceiver) Latency(name ...string) Latency          { return &nilLatency{} }
func (s *nilStatsReceiver) Remove(name ...string)                   {}
func (s *nilStatsReceiver) Render(pretty bool) []byte               { return []byte("{}") }
func (s *nilStatsReceiver) Registry() StatsRegistry                 { return metrics.NewRegistry() }

// Counter
type Counter interface {
	Count() int64
	Inc(int64)
}
type metricCounter struct{ metrics.Counter }

func newMetricCounter() Counter { return &metricCounter{metrics.NewCounter()} }

// Gauge
type Gauge interface {
	Update(int64)
	Value() int64
}
type metricGauge struct{ metrics.Gauge }

func newMetricGauge() Gauge { return &metricGauge{metrics.NewGauge()} }

// Latency records durations into a uniform sample. Typical use:
//
//   defer stat.Latency("submitLatency_ms").Time().Stop()
type Latency interface {
	Time() Latency
	Stop()
	Record(time.Duration)
	Snapshot() metrics.Histogram
	GetPrecision() time.Duration
}

// Embeds a histogram so go-metrics registries accept and store it.
type metricLatency struct {
	metrics.Histogram
	start     time.Time
	precision time.Duration
}

func newLatency(precision time.Duration) Latency {
	return &metricLatency{
		Histogram: metrics.NewHistogram(metrics.NewUniformSample(1000)),
		precision: precision,
	}
}

// Time returns a timer sharing this latency's samples; the registered
// instrument itself is never mutated, so concurrent timers are independent.
func (l *metricLatency) Time() Latency {
	return &metricLatency{Histogram: l.Histogram, start: Now(), precision: l.precision}
}
func (l *metricLatency) Stop()                       { l.Record(Now().Sub(l.start)) }
func (l *metricLatency) Record(d time.Duration)      { l.Update(d.Nanoseconds()) }
func (l *metricLatency) GetPrecision() time.Duration { return l.precision }

type nilLatency struct{}

func (l *nilLatency) Time() Latency               { return l }
func (l *nilLatency) Stop()                       {}
func (l *nilLatency) Record(time.Duration)        {}
func (l *nilLatency) Snapshot() metrics.Histogram { return metrics.NilHistogram{} }
func (l *nilLatency) GetPrecision() time.Duration { return time.Nanosecond }

//
// Twitter/Finagle style rendering
//
type finagleStatsRegistry struct {
	metrics.Registry
}

func NewFinagleStatsRegistry() StatsRegistry {
	return &finagleStatsRegistry{metrics.NewRegistry()}
}

type jsonMap map[string]interface{}

func (r *finagleStatsRegistry) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.MarshalAll())
}

func (r *finagleStatsRegistry) MarshalJSONPretty() ([]byte, error) {
	return json.MarshalIndent(r.MarshalAll(), "", "  ")
}

func (r *finagleStatsRegistry) MarshalAll() jsonMap {
	data := make(jsonMap)
	r.Each(func(name string, i interface{}) {
		switch stat := i.(type) {
		case Counter:
			data[name] = stat.Count()
		case Gauge:
			data[name] = stat.Value()
		case Latency:
			marshalHistogram(data, name, stat.Snapshot(), stat.GetPrecision())
		default:
			log.Infof("unrecognized instrument %s: %T", name, i)
		}
	})
	return data
}

var defaultPercentiles = []float64{0.5, 0.9, 0.95, 0.99, 0.999, 0.9999}
var defaultPercentileLabels = []string{"p50", "p90", "p95", "p99", "p999", "p9999"}

func marshalHistogram(data jsonMap, name string, hist metrics.Histogram, precision time.Duration) {
	f64p := float64(precision)
	i64p := int64(precision)
	data[name+".avg"] = hist.Mean() / f64p
	data[name+".count"] = hist.Count()
	data[name+".max"] = hist.Max() / i64p
	data[name+".min"] = hist.Min() / i64p
	data[name+".sum"] = hist.Sum() / i64p

	for i, pctl := range hist.Percentiles(defaultPercentiles) {
		data[name+"."+defaultPercentileLabels[i]] = pctl / f64p
	}
}
