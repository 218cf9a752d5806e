package mmp

import (
	"context"

	"github.com/turtacn/KeyIP-MMP/internal/domain/fragment"
	"github.com/turtacn/KeyIP-MMP/pkg/errors"
	dto "github.com/turtacn/KeyIP-MMP/pkg/types/mmp"
)

// Fragment serves one API request: it validates req, runs the batch on the
// service for req.MaxCuts and returns everything the run produced.  extra,
// when non-nil, receives the same records after the in-memory collector.
// maxMolecules 0 leaves the batch size unbounded.
func (s *ServiceSet) Fragment(ctx context.Context, req *dto.FragmentRequest, maxMolecules int, extra fragment.RecordSink, opts ...RunOption) (*dto.FragmentResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if maxMolecules > 0 && len(req.Molecules) > maxMolecules {
		return nil, errors.Newf(errors.ErrCodeValidation, "at most %d molecules per request", maxMolecules)
	}
	svc, err := s.For(req.MaxCuts)
	if err != nil {
		return nil, err
	}

	molecules := make([]fragment.Molecule, len(req.Molecules))
	for i, m := range req.Molecules {
		molecules[i] = fragment.Molecule{Text: m.SMILES, CompoundID: m.CompoundID}
	}

	collect := &CollectingSink{}
	var sink fragment.RecordSink = collect
	if extra != nil {
		sink = MultiSink{collect, extra}
	}
	summary, err := svc.Run(ctx, molecules, sink, opts...)
	if err != nil {
		return nil, err
	}

	resp := &dto.FragmentResponse{
		Summary: SummaryDTO(summary),
		Records: make([]dto.Record, len(collect.Records)),
	}
	for i, r := range collect.Records {
		resp.Records[i] = RecordDTO(r)
	}
	for _, f := range collect.Failures {
		resp.Failures = append(resp.Failures, FailureDTO(f))
	}
	return resp, nil
}

// RecordDTO converts a record for the wire.
func RecordDTO(r fragment.Record) dto.Record {
	return dto.Record{
		OriginalIdentifier: r.OriginalIdentifier,
		CompoundID:         r.CompoundID,
		Core:               r.Core,
		SideChains:         r.SideChains,
		CutCount:           r.CutCount(),
	}
}

// RecordDTOs converts a slice of records.
func RecordDTOs(recs []fragment.Record) []dto.Record {
	out := make([]dto.Record, len(recs))
	for i, r := range recs {
		out[i] = RecordDTO(r)
	}
	return out
}

// FailureDTO converts a failure marker for the wire.
func FailureDTO(f fragment.Failure) dto.Failure {
	return dto.Failure{
		OriginalIdentifier: f.OriginalIdentifier,
		CompoundID:         f.CompoundID,
		Code:               string(f.Code),
		Reason:             f.Reason,
	}
}

// SummaryDTO converts a run summary for the wire.
func SummaryDTO(s *RunSummary) dto.RunSummary {
	return dto.RunSummary{
		RunID:         s.RunID.String(),
		Molecules:     s.Molecules,
		Fragmented:    s.Fragmented,
		NoCuts:        s.NoCuts,
		Failed:        s.Failed,
		Records:       s.Records,
		Duplicates:    s.Duplicates,
		InvalidTriple: s.InvalidTriple,
		Unparsable:    s.Unparsable,
		StartedAt:     s.StartedAt,
		Duration:      s.Duration,
	}
}
