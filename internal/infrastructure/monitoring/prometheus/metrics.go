package prometheus

import (
	"strconv"
	"time"
)

// Molecule outcome label values.
const (
	OutcomeFragmented = "fragmented"
	OutcomeNoCuts     = "no_cuts"
	OutcomeFailed     = "failed"
)

// Skip reason label values.
const (
	SkipInvalidTripleCut   = "invalid_triple_cut"
	SkipUnparsableFragment = "unparsable_fragment"
)

// MMPMetrics is the metric set of the fragmentation service.
type MMPMetrics struct {
	MoleculesTotal      CounterVec
	MoleculeDuration    HistogramVec
	CandidateBonds      HistogramVec
	RecordsEmitted      CounterVec
	DuplicatesDropped   CounterVec
	CombinationsSkipped CounterVec
	SinkWritesTotal     CounterVec
	SinkWriteDuration   HistogramVec
	CacheHitsTotal      CounterVec
	CacheMissesTotal    CounterVec
	RunsActive          GaugeVec
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec
	GRPCRequestsTotal   CounterVec
	GRPCRequestDuration HistogramVec
	MessagesConsumed    CounterVec
	ErrorsTotal         CounterVec
}

var (
	DefaultHTTPDurationBuckets     = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	DefaultMoleculeDurationBuckets = []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 30}
	DefaultCandidateBuckets        = []float64{0, 1, 2, 4, 8, 16, 32, 64, 128}
	DefaultSinkDurationBuckets     = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5}
)

// NewMMPMetrics registers the service metrics on collector.
func NewMMPMetrics(collector MetricsCollector) *MMPMetrics {
	return &MMPMetrics{
		MoleculesTotal:      collector.RegisterCounter("molecules_total", "Molecules processed by outcome", "outcome"),
		MoleculeDuration:    collector.RegisterHistogram("molecule_duration_seconds", "Time to fragment one molecule", DefaultMoleculeDurationBuckets, "outcome"),
		CandidateBonds:      collector.RegisterHistogram("candidate_bonds", "Cuttable bonds per molecule", DefaultCandidateBuckets),
		RecordsEmitted:      collector.RegisterCounter("records_emitted_total", "Fragment records emitted", "cuts"),
		DuplicatesDropped:   collector.RegisterCounter("records_duplicate_total", "Fragment records dropped as duplicates"),
		CombinationsSkipped: collector.RegisterCounter("combinations_skipped_total", "Cut combinations skipped", "reason"),
		SinkWritesTotal:     collector.RegisterCounter("sink_writes_total", "Sink writes by sink and status", "sink", "status"),
		SinkWriteDuration:   collector.RegisterHistogram("sink_write_duration_seconds", "Sink write duration", DefaultSinkDurationBuckets, "sink"),
		CacheHitsTotal:      collector.RegisterCounter("cache_hits_total", "Result cache hits", "cache"),
		CacheMissesTotal:    collector.RegisterCounter("cache_misses_total", "Result cache misses", "cache"),
		RunsActive:          collector.RegisterGauge("runs_active", "Batch runs in progress", "source"),
		HTTPRequestsTotal:   collector.RegisterCounter("http_requests_total", "HTTP requests", "method", "path", "status_code"),
		HTTPRequestDuration: collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "path"),
		GRPCRequestsTotal:   collector.RegisterCounter("grpc_requests_total", "gRPC requests", "method", "code"),
		GRPCRequestDuration: collector.RegisterHistogram("grpc_request_duration_seconds", "gRPC request duration", DefaultHTTPDurationBuckets, "method"),
		MessagesConsumed:    collector.RegisterCounter("messages_consumed_total", "Kafka messages consumed", "topic", "status"),
		ErrorsTotal:         collector.RegisterCounter("errors_total", "Errors by component and code", "component", "code"),
	}
}

// RecordMolecule records one molecule's outcome.
func RecordMolecule(m *MMPMetrics, outcome string, candidates int, duration time.Duration) {
	if m == nil {
		return
	}
	m.MoleculesTotal.WithLabelValues(outcome).Inc()
	m.MoleculeDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if outcome != OutcomeFailed {
		m.CandidateBonds.WithLabelValues().Observe(float64(candidates))
	}
}

// RecordEmitted counts records by number of cuts.
func RecordEmitted(m *MMPMetrics, cuts int) {
	if m == nil {
		return
	}
	m.RecordsEmitted.WithLabelValues(strconv.Itoa(cuts)).Inc()
}

// RecordSkips adds skipped-combination counts.
func RecordSkips(m *MMPMetrics, invalidTriple, unparsable, duplicates int) {
	if m == nil {
		return
	}
	if invalidTriple > 0 {
		m.CombinationsSkipped.WithLabelValues(SkipInvalidTripleCut).Add(float64(invalidTriple))
	}
	if unparsable > 0 {
		m.CombinationsSkipped.WithLabelValues(SkipUnparsableFragment).Add(float64(unparsable))
	}
	if duplicates > 0 {
		m.DuplicatesDropped.WithLabelValues().Add(float64(duplicates))
	}
}

// RecordSinkWrite records one sink write.
func RecordSinkWrite(m *MMPMetrics, sink string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.SinkWritesTotal.WithLabelValues(sink, status).Inc()
	m.SinkWriteDuration.WithLabelValues(sink).Observe(duration.Seconds())
}

// RecordCacheAccess counts a hit or a miss.
func RecordCacheAccess(m *MMPMetrics, cache string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(cache).Inc()
	}
}

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(m *MMPMetrics, method, path string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordGRPCRequest records one unary call.
func RecordGRPCRequest(m *MMPMetrics, method, code string, duration time.Duration) {
	if m == nil {
		return
	}
	m.GRPCRequestsTotal.WithLabelValues(method, code).Inc()
	m.GRPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordMessage counts one consumed message by outcome ("ok", "failed").
func RecordMessage(m *MMPMetrics, topic, status string) {
	if m == nil {
		return
	}
	m.MessagesConsumed.WithLabelValues(topic, status).Inc()
}

// RecordError counts an error by component and code.
func RecordError(m *MMPMetrics, component, code string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(component, code).Inc()
}
