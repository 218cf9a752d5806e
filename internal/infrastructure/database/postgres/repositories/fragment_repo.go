package repositories

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/turtacn/KeyIP-MMP/internal/domain/fragment"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-MMP/pkg/errors"
)

// DefaultPairLimit bounds FindPairs when no limit is given.
const DefaultPairLimit = 1000

// Querier is the part of *pgxpool.Pool (and pgx.Tx) the repository uses.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

var (
	recordColumns  = []string{"run_id", "original_identifier", "compound_id", "core", "side_chains", "cut_count"}
	failureColumns = []string{"run_id", "original_identifier", "compound_id", "code", "reason"}
)

// FragmentRepo stores fragment records and failures and answers pair
// lookups.
type FragmentRepo struct {
	db     Querier
	logger logging.Logger
}

// NewFragmentRepo returns a FragmentRepo on db.
func NewFragmentRepo(db Querier, log logging.Logger) *FragmentRepo {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &FragmentRepo{db: db, logger: log.Named("fragment_repo")}
}

// SaveRecords bulk-inserts recs with the COPY protocol.
func (r *FragmentRepo) SaveRecords(ctx context.Context, runID uuid.UUID, recs []fragment.Record) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	n, err := r.db.CopyFrom(ctx, pgx.Identifier{"fragment_records"}, recordColumns, pgx.CopyFromRows(recordRows(runID, recs)))
	if err != nil {
		r.logger.Error("copy fragment records failed", logging.Int("count", len(recs)), logging.Err(err))
		return 0, errors.Wrap(err, errors.ErrCodeDBQueryError, "failed to insert fragment records")
	}
	r.logger.Debug("fragment records stored", logging.Int64("count", n))
	return n, nil
}

// SaveFailures bulk-inserts failure markers.
func (r *FragmentRepo) SaveFailures(ctx context.Context, runID uuid.UUID, fails []fragment.Failure) (int64, error) {
	if len(fails) == 0 {
		return 0, nil
	}
	n, err := r.db.CopyFrom(ctx, pgx.Identifier{"fragment_failures"}, failureColumns, pgx.CopyFromRows(failureRows(runID, fails)))
	if err != nil {
		r.logger.Error("copy fragment failures failed", logging.Int("count", len(fails)), logging.Err(err))
		return 0, errors.Wrap(err, errors.ErrCodeDBQueryError, "failed to insert fragment failures")
	}
	return n, nil
}

// FindPairs returns the records sharing core, ordered by compound id.  Two
// records with the same core and different compounds form a matched pair.
func (r *FragmentRepo) FindPairs(ctx context.Context, core string, limit int) ([]fragment.Record, error) {
	if strings.TrimSpace(core) == "" {
		return nil, errors.New(errors.ErrCodeValidation, "core is required")
	}
	if limit <= 0 {
		limit = DefaultPairLimit
	}
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT original_identifier, compound_id, core, side_chains
		FROM fragment_records
		WHERE core = $1
		ORDER BY compound_id, side_chains
		LIMIT $2`, core, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDBQueryError, "pair lookup failed")
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (fragment.Record, error) {
		var rec fragment.Record
		err := row.Scan(&rec.OriginalIdentifier, &rec.CompoundID, &rec.Core, &rec.SideChains)
		return rec, err
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDBQueryError, "failed to scan pair rows")
	}
	return recs, nil
}

// CountRun returns the number of records stored for runID.
func (r *FragmentRepo) CountRun(ctx context.Context, runID uuid.UUID) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM fragment_records WHERE run_id = $1`, runID).Scan(&n); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeDBQueryError, "failed to count run records")
	}
	return n, nil
}

// DeleteRun removes the records and failures of runID.
func (r *FragmentRepo) DeleteRun(ctx context.Context, runID uuid.UUID) error {
	for _, table := range []string{"fragment_records", "fragment_failures"} {
		if _, err := r.db.Exec(ctx, `DELETE FROM `+table+` WHERE run_id = $1`, runID); err != nil {
			return errors.Wrap(err, errors.ErrCodeDBQueryError, "failed to delete run from "+table)
		}
	}
	return nil
}

func recordRows(runID uuid.UUID, recs []fragment.Record) [][]any {
	rows := make([][]any, len(recs))
	for i, rec := range recs {
		rows[i] = []any{runID, rec.OriginalIdentifier, rec.CompoundID, rec.Core, rec.SideChains, int16(rec.CutCount())}
	}
	return rows
}

func failureRows(runID uuid.UUID, fails []fragment.Failure) [][]any {
	rows := make([][]any, len(fails))
	for i, f := range fails {
		rows[i] = []any{runID, f.OriginalIdentifier, f.CompoundID, string(f.Code), f.Reason}
	}
	return rows
}
