package mmp

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/turtacn/KeyIP-MMP/internal/domain/fragment"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/search/opensearch"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/storage/minio"
	"github.com/turtacn/KeyIP-MMP/pkg/errors"
)

// DefaultBatchSize is used by batching sinks when none is configured.
const DefaultBatchSize = 500

var errNoRunID = errors.New(errors.ErrCodeValidation, "context carries no run id")

func runIDFrom(ctx context.Context) (uuid.UUID, error) {
	id, ok := RunIDFromContext(ctx)
	if !ok {
		return uuid.Nil, errNoRunID
	}
	return id, nil
}

// ---------------------------------------------------------------------------
// CSV
// ---------------------------------------------------------------------------

// CSVSink writes records as "smiles,id,core,side_chains" lines and failure
// markers as "smiles,id,code,reason" lines to a second writer.  Failures are
// dropped when that writer is nil.
type CSVSink struct {
	records  *csv.Writer
	failures *csv.Writer
}

// NewCSVSink returns a CSVSink.  With header set, each writer starts with a
// column header line.
func NewCSVSink(records, failures io.Writer, header bool) (*CSVSink, error) {
	s := &CSVSink{records: csv.NewWriter(records)}
	if failures != nil {
		s.failures = csv.NewWriter(failures)
	}
	if header {
		if err := s.records.Write([]string{"smiles", "id", "core", "side_chains"}); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeMMPSinkFailed, "cannot write header")
		}
		if s.failures != nil {
			if err := s.failures.Write([]string{"smiles", "id", "code", "reason"}); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeMMPSinkFailed, "cannot write header")
			}
		}
	}
	return s, nil
}

func (s *CSVSink) Accept(_ context.Context, r fragment.Record) error {
	return s.records.Write([]string{r.OriginalIdentifier, r.CompoundID, r.Core, r.SideChains})
}

func (s *CSVSink) AcceptFailure(_ context.Context, f fragment.Failure) error {
	if s.failures == nil {
		return nil
	}
	return s.failures.Write([]string{f.OriginalIdentifier, f.CompoundID, string(f.Code), f.Reason})
}

func (s *CSVSink) Flush(context.Context) error {
	s.records.Flush()
	err := s.records.Error()
	if s.failures != nil {
		s.failures.Flush()
		err = multierr.Append(err, s.failures.Error())
	}
	return err
}

// ---------------------------------------------------------------------------
// Collecting
// ---------------------------------------------------------------------------

// CollectingSink keeps everything in memory.
type CollectingSink struct {
	Records  []fragment.Record
	Failures []fragment.Failure
}

func (s *CollectingSink) Accept(_ context.Context, r fragment.Record) error {
	s.Records = append(s.Records, r)
	return nil
}

func (s *CollectingSink) AcceptFailure(_ context.Context, f fragment.Failure) error {
	s.Failures = append(s.Failures, f)
	return nil
}

// ---------------------------------------------------------------------------
// Multi
// ---------------------------------------------------------------------------

// MultiSink forwards to every sink in order and stops at the first error.
type MultiSink []fragment.RecordSink

func (m MultiSink) Accept(ctx context.Context, r fragment.Record) error {
	for _, s := range m {
		if err := s.Accept(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiSink) AcceptFailure(ctx context.Context, f fragment.Failure) error {
	for _, s := range m {
		if err := s.AcceptFailure(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes every Flusher, even after one fails.
func (m MultiSink) Flush(ctx context.Context) error {
	var err error
	for _, s := range m {
		if f, ok := s.(fragment.Flusher); ok {
			err = multierr.Append(err, f.Flush(ctx))
		}
	}
	return err
}

// ---------------------------------------------------------------------------
// Batching stores
// ---------------------------------------------------------------------------

// RecordStore is the Postgres side of the pipeline.
type RecordStore interface {
	SaveRecords(ctx context.Context, runID uuid.UUID, recs []fragment.Record) (int64, error)
	SaveFailures(ctx context.Context, runID uuid.UUID, fails []fragment.Failure) (int64, error)
	DeleteRun(ctx context.Context, runID uuid.UUID) error
}

// GraphStore is the Neo4j side of the pipeline.
type GraphStore interface {
	SaveRecords(ctx context.Context, runID uuid.UUID, recs []fragment.Record) (int, error)
}

// DocumentIndexer is the OpenSearch side of the pipeline.
type DocumentIndexer interface {
	BulkIndex(ctx context.Context, runID uuid.UUID, recs []fragment.Record) (*opensearch.BulkResult, error)
}

// BatchSink buffers records and failures and writes them in batches under
// the run id carried by the context.
type BatchSink struct {
	name     string
	size     int
	metrics  *prometheus.MMPMetrics
	records  []fragment.Record
	failures []fragment.Failure

	writeRecords  func(ctx context.Context, runID uuid.UUID, recs []fragment.Record) error
	writeFailures func(ctx context.Context, runID uuid.UUID, fails []fragment.Failure) error

	// resetRun, when set, clears earlier output of a run before its first
	// write, so a rerun under the same id replaces rather than appends.
	resetRun func(ctx context.Context, runID uuid.UUID) error
	reset    uuid.UUID
}

func newBatchSink(name string, size int, metrics *prometheus.MMPMetrics) *BatchSink {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &BatchSink{name: name, size: size, metrics: metrics}
}

// NewPostgresSink stores records and failures through store.
func NewPostgresSink(store RecordStore, batchSize int, metrics *prometheus.MMPMetrics) *BatchSink {
	s := newBatchSink("postgres", batchSize, metrics)
	s.writeRecords = func(ctx context.Context, runID uuid.UUID, recs []fragment.Record) error {
		_, err := store.SaveRecords(ctx, runID, recs)
		return err
	}
	s.writeFailures = func(ctx context.Context, runID uuid.UUID, fails []fragment.Failure) error {
		_, err := store.SaveFailures(ctx, runID, fails)
		return err
	}
	s.resetRun = store.DeleteRun
	return s
}

// NewGraphSink stores records in the pair graph.  Failures are dropped.
func NewGraphSink(store GraphStore, batchSize int, metrics *prometheus.MMPMetrics) *BatchSink {
	s := newBatchSink("neo4j", batchSize, metrics)
	s.writeRecords = func(ctx context.Context, runID uuid.UUID, recs []fragment.Record) error {
		_, err := store.SaveRecords(ctx, runID, recs)
		return err
	}
	return s
}

// NewSearchSink indexes records.  A batch with rejected documents fails.
func NewSearchSink(idx DocumentIndexer, batchSize int, metrics *prometheus.MMPMetrics) *BatchSink {
	s := newBatchSink("opensearch", batchSize, metrics)
	s.writeRecords = func(ctx context.Context, runID uuid.UUID, recs []fragment.Record) error {
		res, err := idx.BulkIndex(ctx, runID, recs)
		if err != nil {
			return err
		}
		if res.Failed > 0 {
			return errors.Newf(errors.ErrCodeSearchError, "%d of %d documents rejected", res.Failed, len(recs))
		}
		return nil
	}
	return s
}

// Name identifies the sink in metrics.
func (s *BatchSink) Name() string { return s.name }

func (s *BatchSink) Accept(ctx context.Context, r fragment.Record) error {
	s.records = append(s.records, r)
	if len(s.records) >= s.size {
		return s.flushRecords(ctx)
	}
	return nil
}

func (s *BatchSink) AcceptFailure(ctx context.Context, f fragment.Failure) error {
	if s.writeFailures == nil {
		return nil
	}
	s.failures = append(s.failures, f)
	if len(s.failures) >= s.size {
		return s.flushFailures(ctx)
	}
	return nil
}

// Flush writes whatever is buffered.  A run that produced nothing still
// clears what an earlier attempt stored.
func (s *BatchSink) Flush(ctx context.Context) error {
	if s.resetRun != nil && len(s.records) == 0 && len(s.failures) == 0 {
		if runID, ok := RunIDFromContext(ctx); ok {
			if err := s.resetOnce(ctx, runID); err != nil {
				return err
			}
		}
	}
	if err := s.flushRecords(ctx); err != nil {
		return err
	}
	return s.flushFailures(ctx)
}

func (s *BatchSink) flushRecords(ctx context.Context) error {
	if len(s.records) == 0 {
		return nil
	}
	runID, err := runIDFrom(ctx)
	if err != nil {
		return err
	}
	if err := s.resetOnce(ctx, runID); err != nil {
		return err
	}
	start := time.Now()
	err = s.writeRecords(ctx, runID, s.records)
	prometheus.RecordSinkWrite(s.metrics, s.name, time.Since(start), err)
	if err != nil {
		return err
	}
	s.records = s.records[:0]
	return nil
}

func (s *BatchSink) flushFailures(ctx context.Context) error {
	if len(s.failures) == 0 {
		return nil
	}
	runID, err := runIDFrom(ctx)
	if err != nil {
		return err
	}
	if err := s.resetOnce(ctx, runID); err != nil {
		return err
	}
	start := time.Now()
	err = s.writeFailures(ctx, runID, s.failures)
	prometheus.RecordSinkWrite(s.metrics, s.name, time.Since(start), err)
	if err != nil {
		return err
	}
	s.failures = s.failures[:0]
	return nil
}

func (s *BatchSink) resetOnce(ctx context.Context, runID uuid.UUID) error {
	if s.resetRun == nil || s.reset == runID {
		return nil
	}
	if err := s.resetRun(ctx, runID); err != nil {
		return err
	}
	s.reset = runID
	return nil
}

// ---------------------------------------------------------------------------
// Kafka
// ---------------------------------------------------------------------------

// EventPublisher is the producer side of the Kafka sink.
type EventPublisher interface {
	Publish(ctx context.Context, msg *kafka.ProducerMessage) error
}

// KafkaSink publishes one fragment.created event per molecule and one
// fragment.failed event per failure marker, keyed by compound id.
type KafkaSink struct {
	publisher    EventPublisher
	submissionID string
	metrics      *prometheus.MMPMetrics
	pending      []fragment.Record
}

// NewKafkaSink returns a KafkaSink; submissionID may be empty.
func NewKafkaSink(p EventPublisher, submissionID string, metrics *prometheus.MMPMetrics) *KafkaSink {
	return &KafkaSink{publisher: p, submissionID: submissionID, metrics: metrics}
}

// Records of one molecule arrive consecutively, so a change of molecule
// closes the pending group.
func sameMolecule(a, b fragment.Record) bool {
	return a.OriginalIdentifier == b.OriginalIdentifier && a.CompoundID == b.CompoundID
}

func (s *KafkaSink) Accept(ctx context.Context, r fragment.Record) error {
	if len(s.pending) > 0 && !sameMolecule(s.pending[0], r) {
		if err := s.publishPending(ctx); err != nil {
			return err
		}
	}
	s.pending = append(s.pending, r)
	return nil
}

func (s *KafkaSink) AcceptFailure(ctx context.Context, f fragment.Failure) error {
	if err := s.publishPending(ctx); err != nil {
		return err
	}
	runID, err := runIDFrom(ctx)
	if err != nil {
		return err
	}
	return s.publish(ctx, kafka.TopicFragmentFailed, kafka.EventFragmentFailed, f.CompoundID, kafka.FragmentFailedPayload{
		RunID:        runID.String(),
		SubmissionID: s.submissionID,
		Failure:      f,
	})
}

func (s *KafkaSink) Flush(ctx context.Context) error {
	return s.publishPending(ctx)
}

func (s *KafkaSink) publishPending(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	runID, err := runIDFrom(ctx)
	if err != nil {
		return err
	}
	recs := append([]fragment.Record(nil), s.pending...)
	err = s.publish(ctx, kafka.TopicFragmentCreated, kafka.EventFragmentCreated, recs[0].CompoundID, kafka.FragmentCreatedPayload{
		RunID:        runID.String(),
		SubmissionID: s.submissionID,
		Records:      recs,
	})
	if err != nil {
		return err
	}
	s.pending = s.pending[:0]
	return nil
}

func (s *KafkaSink) publish(ctx context.Context, topic, eventType, key string, payload interface{}) error {
	env, err := kafka.NewEventEnvelope(eventType, payload)
	if err != nil {
		return err
	}
	msg, err := env.ToMessage(topic, key)
	if err != nil {
		return err
	}
	start := time.Now()
	err = s.publisher.Publish(ctx, msg)
	prometheus.RecordSinkWrite(s.metrics, "kafka", time.Since(start), err)
	return err
}

// ---------------------------------------------------------------------------
// Archive
// ---------------------------------------------------------------------------

// ArchiveSummary is stored next to the archived CSV files.
type ArchiveSummary struct {
	RunID      uuid.UUID `json:"run_id"`
	Records    int       `json:"records"`
	Failures   int       `json:"failures"`
	ArchivedAt time.Time `json:"archived_at"`
}

// ArchiveSink renders the run as CSV in memory and uploads records.csv,
// failures.csv (when there are failures) and summary.json on Flush.
type ArchiveSink struct {
	repo     minio.ArchiveRepository
	metrics  *prometheus.MMPMetrics
	recBuf   bytes.Buffer
	failBuf  bytes.Buffer
	csv      *CSVSink
	records  int
	failures int
}

// NewArchiveSink returns an ArchiveSink on repo.
func NewArchiveSink(repo minio.ArchiveRepository, metrics *prometheus.MMPMetrics) *ArchiveSink {
	s := &ArchiveSink{repo: repo, metrics: metrics}
	s.csv, _ = NewCSVSink(&s.recBuf, &s.failBuf, true)
	return s
}

func (s *ArchiveSink) Accept(ctx context.Context, r fragment.Record) error {
	s.records++
	return s.csv.Accept(ctx, r)
}

func (s *ArchiveSink) AcceptFailure(ctx context.Context, f fragment.Failure) error {
	s.failures++
	return s.csv.AcceptFailure(ctx, f)
}

func (s *ArchiveSink) Flush(ctx context.Context) error {
	runID, err := runIDFrom(ctx)
	if err != nil {
		return err
	}
	if err := s.csv.Flush(ctx); err != nil {
		return err
	}
	if err := s.put(ctx, runID, minio.KindRecords, s.recBuf.Bytes()); err != nil {
		return err
	}
	if s.failures > 0 {
		if err := s.put(ctx, runID, minio.KindFailures, s.failBuf.Bytes()); err != nil {
			return err
		}
	}
	summary, err := json.Marshal(ArchiveSummary{RunID: runID, Records: s.records, Failures: s.failures, ArchivedAt: time.Now().UTC()})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "cannot encode summary")
	}
	return s.put(ctx, runID, minio.KindSummary, summary)
}

func (s *ArchiveSink) put(ctx context.Context, runID uuid.UUID, kind string, data []byte) error {
	start := time.Now()
	_, err := s.repo.Put(ctx, &minio.PutRequest{
		RunID:  runID,
		Kind:   kind,
		Reader: bytes.NewReader(data),
		Size:   int64(len(data)),
	})
	prometheus.RecordSinkWrite(s.metrics, "minio", time.Since(start), err)
	return err
}
