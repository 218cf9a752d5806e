// Package mmp is the batch driver of the fragmentation engine: it fans
// molecules out to workers, forwards records to sinks in input order and
// summarises each run.
package mmp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/KeyIP-MMP/internal/config"
	"github.com/turtacn/KeyIP-MMP/internal/domain/fragment"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/KeyIP-MMP/pkg/errors"
)

// Engine fragments one molecule.  *fragment.Fragmenter and
// *CachedFragmenter implement it.
type Engine interface {
	Fragment(ctx context.Context, m fragment.Molecule) (*fragment.Result, error)
}

// ServiceConfig tunes the batch driver.
type ServiceConfig struct {
	Workers         int
	MoleculeTimeout time.Duration // 0 disables the budget
}

// ServiceConfigFrom maps the mmp section.
func ServiceConfigFrom(cfg config.MMPConfig) ServiceConfig {
	return ServiceConfig{Workers: cfg.Workers, MoleculeTimeout: cfg.MoleculeTimeout}
}

// RunSummary describes one finished batch.
type RunSummary struct {
	RunID         uuid.UUID     `json:"run_id"`
	Molecules     int           `json:"molecules"`
	Fragmented    int           `json:"fragmented"`
	NoCuts        int           `json:"no_cuts"`
	Failed        int           `json:"failed"`
	Records       int           `json:"records"`
	Duplicates    int           `json:"duplicates"`
	InvalidTriple int           `json:"invalid_triple"`
	Unparsable    int           `json:"unparsable"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
}

// RunOption adjusts one Run.
type RunOption func(*runOptions)

type runOptions struct {
	runID  uuid.UUID
	source string
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id uuid.UUID) RunOption {
	return func(o *runOptions) { o.runID = id }
}

// WithSource labels the run in metrics ("cli", "http", "worker").
func WithSource(source string) RunOption {
	return func(o *runOptions) { o.source = source }
}

type runIDKey struct{}

// RunIDFromContext returns the id of the run ctx belongs to.  Sinks use it
// to tag what they store.
func RunIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(runIDKey{}).(uuid.UUID)
	return id, ok
}

// ContextWithRunID attaches id to ctx.
func ContextWithRunID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// Service runs batches.
type Service struct {
	engine  Engine
	config  ServiceConfig
	metrics *prometheus.MMPMetrics
	logger  logging.Logger
	now     func() time.Time
}

// NewService returns a Service; metrics may be nil.
func NewService(engine Engine, cfg ServiceConfig, metrics *prometheus.MMPMetrics, logger logging.Logger) *Service {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Service{engine: engine, config: cfg, metrics: metrics, logger: logger.Named("mmp"), now: time.Now}
}

// slot carries one molecule's outcome from its worker to the forwarder.
type slot struct {
	done    chan struct{}
	result  *fragment.Result
	failure *fragment.Failure
}

// Run fragments molecules and hands every record and failure marker to sink
// in input order.  Molecules are processed concurrently on Workers
// goroutines.  A molecule that cannot be read, exceeds the candidate bound
// or runs out of time becomes a failure marker; the batch continues.  A sink
// error stops the batch with ErrCodeMMPSinkFailed; cancellation of ctx stops
// it with ctx's error.  The summary is returned in every case.
func (s *Service) Run(ctx context.Context, molecules []fragment.Molecule, sink fragment.RecordSink, opts ...RunOption) (*RunSummary, error) {
	o := runOptions{runID: uuid.New(), source: "api"}
	for _, opt := range opts {
		opt(&o)
	}
	start := s.now()
	sum := &RunSummary{RunID: o.runID, Molecules: len(molecules), StartedAt: start}
	log := s.logger.With(logging.String("run_id", o.runID.String()))
	log.Info("run started", logging.Int("molecules", len(molecules)), logging.Int("workers", s.config.Workers))

	if s.metrics != nil {
		s.metrics.RunsActive.WithLabelValues(o.source).Inc()
		defer s.metrics.RunsActive.WithLabelValues(o.source).Dec()
	}

	ctx = ContextWithRunID(ctx, o.runID)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	slots := make([]slot, len(molecules))
	for i := range slots {
		slots[i].done = make(chan struct{})
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.config.Workers)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range molecules {
			i := i
			if egCtx.Err() != nil {
				close(slots[i].done)
				continue
			}
			eg.Go(func() error {
				defer close(slots[i].done)
				if egCtx.Err() != nil {
					return nil
				}
				slots[i].result, slots[i].failure = s.fragmentOne(egCtx, molecules[i], log)
				return nil
			})
		}
		_ = eg.Wait()
	}()

	err := s.forward(ctx, slots, sink, sum)
	if err != nil {
		cancel()
	}
	wg.Wait()

	if err == nil {
		if f, ok := sink.(fragment.Flusher); ok {
			if ferr := f.Flush(ctx); ferr != nil {
				err = errors.Wrap(ferr, errors.ErrCodeMMPSinkFailed, "sink flush failed")
			}
		}
	}

	sum.Duration = s.now().Sub(start)
	fields := []logging.Field{
		logging.Int("fragmented", sum.Fragmented),
		logging.Int("no_cuts", sum.NoCuts),
		logging.Int("failed", sum.Failed),
		logging.Int("records", sum.Records),
		logging.Duration("duration", sum.Duration),
	}
	if err != nil {
		log.Error("run aborted", append(fields, logging.Err(err))...)
		return sum, err
	}
	log.Info("run finished", fields...)
	return sum, nil
}

// forward waits for each slot in order and passes its outcome to sink.
func (s *Service) forward(ctx context.Context, slots []slot, sink fragment.RecordSink, sum *RunSummary) error {
	for i := range slots {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-slots[i].done:
		}
		sl := &slots[i]
		switch {
		case sl.failure != nil:
			sum.Failed++
			if err := sink.AcceptFailure(ctx, *sl.failure); err != nil {
				return errors.Wrap(err, errors.ErrCodeMMPSinkFailed, "sink rejected failure marker")
			}
		case sl.result != nil:
			st := sl.result.Stats
			if st.Candidates == 0 {
				sum.NoCuts++
			} else {
				sum.Fragmented++
			}
			sum.Duplicates += st.Duplicates
			sum.InvalidTriple += st.InvalidTriple
			sum.Unparsable += st.Unparsable
			for _, rec := range sl.result.Records {
				if err := sink.Accept(ctx, rec); err != nil {
					return errors.Wrap(err, errors.ErrCodeMMPSinkFailed, "sink rejected record")
				}
				sum.Records++
			}
		default:
			// Skipped after cancellation.
			return ctx.Err()
		}
		sl.result, sl.failure = nil, nil
	}
	return nil
}

// fragmentOne runs the engine under the molecule time budget.
func (s *Service) fragmentOne(ctx context.Context, m fragment.Molecule, log logging.Logger) (*fragment.Result, *fragment.Failure) {
	if s.config.MoleculeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.MoleculeTimeout)
		defer cancel()
	}
	start := time.Now()
	res, err := s.engine.Fragment(ctx, m)
	elapsed := time.Since(start)
	if err != nil {
		f := fragment.NewFailure(m.Text, m.CompoundID, err)
		log.Warn("molecule failed",
			logging.CompoundID(m.CompoundID),
			logging.String("code", string(f.Code)),
			logging.Err(err))
		prometheus.RecordMolecule(s.metrics, prometheus.OutcomeFailed, 0, elapsed)
		prometheus.RecordError(s.metrics, "mmp", string(f.Code))
		return nil, &f
	}

	outcome := prometheus.OutcomeFragmented
	if res.Stats.Candidates == 0 {
		outcome = prometheus.OutcomeNoCuts
	}
	prometheus.RecordMolecule(s.metrics, outcome, res.Stats.Candidates, elapsed)
	prometheus.RecordSkips(s.metrics, res.Stats.InvalidTriple, res.Stats.Unparsable, res.Stats.Duplicates)
	for _, r := range res.Records {
		prometheus.RecordEmitted(s.metrics, r.CutCount())
	}
	return res, nil
}

// FragmentOne runs a single molecule outside any batch.
func (s *Service) FragmentOne(ctx context.Context, m fragment.Molecule) (*fragment.Result, error) {
	res, f := s.fragmentOne(ctx, m, s.logger)
	if f != nil {
		return nil, errors.New(f.Code, f.Reason)
	}
	return res, nil
}
