package mmp

import (
	"io"

	"github.com/turtacn/KeyIP-MMP/internal/config"
	"github.com/turtacn/KeyIP-MMP/internal/domain/fragment"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/storage/minio"
	"github.com/turtacn/KeyIP-MMP/pkg/errors"
)

// SinkDeps are the backends a run can write to.  Nil members are simply
// unavailable.
type SinkDeps struct {
	Output   io.Writer // primary CSV output
	Failures io.Writer // failure markers; nil drops them from the CSV output
	Header   bool

	Records RecordStore
	Graph   GraphStore
	Search  DocumentIndexer
	Events  EventPublisher
	Archive minio.ArchiveRepository

	Metrics *prometheus.MMPMetrics
}

// BuildSink assembles the sinks listed in sinks.enabled, in a fixed order,
// behind one MultiSink.  The CSV sink is always first when Output is set.
// An enabled sink without its backend is a configuration error.
func BuildSink(cfg *config.Config, deps SinkDeps, submissionID string) (MultiSink, error) {
	var out MultiSink
	batch := cfg.Sinks.BatchSize

	if deps.Output != nil {
		s, err := NewCSVSink(deps.Output, deps.Failures, deps.Header)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}

	type entry struct {
		name  string
		ready bool
		build func() fragment.RecordSink
	}
	entries := []entry{
		{config.SinkPostgres, deps.Records != nil, func() fragment.RecordSink { return NewPostgresSink(deps.Records, batch, deps.Metrics) }},
		{config.SinkNeo4j, deps.Graph != nil, func() fragment.RecordSink { return NewGraphSink(deps.Graph, batch, deps.Metrics) }},
		{config.SinkOpenSearch, deps.Search != nil, func() fragment.RecordSink { return NewSearchSink(deps.Search, batch, deps.Metrics) }},
		{config.SinkKafka, deps.Events != nil, func() fragment.RecordSink { return NewKafkaSink(deps.Events, submissionID, deps.Metrics) }},
		{config.SinkMinIO, deps.Archive != nil, func() fragment.RecordSink { return NewArchiveSink(deps.Archive, deps.Metrics) }},
	}
	for _, e := range entries {
		if !cfg.SinkEnabled(e.name) {
			continue
		}
		if !e.ready {
			return nil, errors.Newf(errors.ErrCodeValidation, "sink %q enabled but its backend is not configured", e.name)
		}
		out = append(out, e.build())
	}
	return out, nil
}
