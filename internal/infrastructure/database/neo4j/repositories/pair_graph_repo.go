package repositories

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/turtacn/KeyIP-MMP/internal/domain/fragment"
	driver "github.com/turtacn/KeyIP-MMP/internal/infrastructure/database/neo4j"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-MMP/pkg/errors"
)

// DefaultPairLimit bounds lookups when no limit is given.
const DefaultPairLimit = 1000

// Neighbour is a compound that shares at least one core with another.
type Neighbour struct {
	CompoundID  string `json:"compound_id"`
	SharedCores int64  `json:"shared_cores"`
}

// PairGraphRepo stores records as a compound-core graph:
//
//	(:Compound {compound_id, identifier})-[:FRAGMENTS_TO {side_chains, cut_count, run_id}]->(:Core {smiles})
//
// Records without a core only create the Compound node.
type PairGraphRepo struct {
	driver driver.DriverInterface
	log    logging.Logger
}

// NewPairGraphRepo returns a PairGraphRepo on d.
func NewPairGraphRepo(d driver.DriverInterface, log logging.Logger) *PairGraphRepo {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &PairGraphRepo{driver: d, log: log.Named("pair_graph_repo")}
}

var schemaStatements = []string{
	`CREATE CONSTRAINT compound_id_unique IF NOT EXISTS FOR (c:Compound) REQUIRE c.compound_id IS UNIQUE`,
	`CREATE CONSTRAINT core_smiles_unique IF NOT EXISTS FOR (k:Core) REQUIRE k.smiles IS UNIQUE`,
	`CREATE INDEX fragments_to_run IF NOT EXISTS FOR ()-[r:FRAGMENTS_TO]-() ON (r.run_id)`,
}

// EnsureSchema creates the uniqueness constraints and the run index.
func (r *PairGraphRepo) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		_, err := r.driver.ExecuteWrite(ctx, func(tx driver.Transaction) (any, error) {
			res, err := tx.Run(ctx, stmt, nil)
			if err != nil {
				return nil, err
			}
			return res.Consume(ctx)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

const saveRecordsCypher = `
UNWIND $rows AS row
MERGE (c:Compound {compound_id: row.compound_id})
  ON CREATE SET c.identifier = row.identifier
WITH c, row WHERE row.core <> ''
MERGE (k:Core {smiles: row.core})
MERGE (c)-[f:FRAGMENTS_TO {side_chains: row.side_chains}]->(k)
SET f.cut_count = row.cut_count, f.run_id = $runId`

// SaveRecords merges recs into the graph in one transaction and returns the
// number of relationships created.
func (r *PairGraphRepo) SaveRecords(ctx context.Context, runID uuid.UUID, recs []fragment.Record) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	rows := make([]map[string]any, len(recs))
	for i, rec := range recs {
		rows[i] = map[string]any{
			"compound_id": compoundKey(rec),
			"identifier":  rec.OriginalIdentifier,
			"core":        rec.Core,
			"side_chains": rec.SideChains,
			"cut_count":   int64(rec.CutCount()),
		}
	}
	params := map[string]any{"rows": rows, "runId": runID.String()}

	out, err := r.driver.ExecuteWrite(ctx, func(tx driver.Transaction) (any, error) {
		res, err := tx.Run(ctx, saveRecordsCypher, params)
		if err != nil {
			return nil, err
		}
		summary, err := res.Consume(ctx)
		if err != nil {
			return nil, err
		}
		if summary == nil {
			return 0, nil
		}
		return summary.Counters().RelationshipsCreated(), nil
	})
	if err != nil {
		return 0, err
	}
	created, _ := out.(int)
	r.log.Debug("records merged into graph", logging.Int("records", len(recs)), logging.Int("relationships", created))
	return created, nil
}

// compoundKey falls back to the structure text for inputs without an id.
func compoundKey(rec fragment.Record) string {
	if rec.CompoundID != "" {
		return rec.CompoundID
	}
	return rec.OriginalIdentifier
}

// FindPairs returns the records attached to core, ordered by compound id.
func (r *PairGraphRepo) FindPairs(ctx context.Context, core string, limit int) ([]fragment.Record, error) {
	if strings.TrimSpace(core) == "" {
		return nil, errors.New(errors.ErrCodeValidation, "core is required")
	}
	if limit <= 0 {
		limit = DefaultPairLimit
	}
	query := `
		MATCH (c:Compound)-[f:FRAGMENTS_TO]->(k:Core {smiles: $core})
		RETURN c.identifier AS identifier, c.compound_id AS compound_id, k.smiles AS core, f.side_chains AS side_chains
		ORDER BY compound_id, side_chains
		LIMIT $limit`
	params := map[string]any{"core": core, "limit": int64(limit)}

	out, err := r.driver.ExecuteRead(ctx, func(tx driver.Transaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return driver.CollectRecords(ctx, res, mapRecord)
	})
	if err != nil {
		return nil, err
	}
	recs, _ := out.([]fragment.Record)
	return recs, nil
}

// Neighbours returns the compounds sharing a core with compoundID, most
// shared cores first.
func (r *PairGraphRepo) Neighbours(ctx context.Context, compoundID string, limit int) ([]Neighbour, error) {
	if compoundID == "" {
		return nil, errors.New(errors.ErrCodeValidation, "compound id is required")
	}
	if limit <= 0 {
		limit = DefaultPairLimit
	}
	query := `
		MATCH (a:Compound {compound_id: $id})-[:FRAGMENTS_TO]->(k:Core)<-[:FRAGMENTS_TO]-(b:Compound)
		WHERE b <> a
		RETURN b.compound_id AS compound_id, count(DISTINCT k) AS shared
		ORDER BY shared DESC, compound_id
		LIMIT $limit`
	params := map[string]any{"id": compoundID, "limit": int64(limit)}

	out, err := r.driver.ExecuteRead(ctx, func(tx driver.Transaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return driver.CollectRecords(ctx, res, func(rec *neo4j.Record) (Neighbour, error) {
			id, _, err := neo4j.GetRecordValue[string](rec, "compound_id")
			if err != nil {
				return Neighbour{}, err
			}
			shared, _, err := neo4j.GetRecordValue[int64](rec, "shared")
			if err != nil {
				return Neighbour{}, err
			}
			return Neighbour{CompoundID: id, SharedCores: shared}, nil
		})
	})
	if err != nil {
		return nil, err
	}
	ns, _ := out.([]Neighbour)
	return ns, nil
}

// DeleteRun removes the relationships written by runID and any Core left
// without compounds.
func (r *PairGraphRepo) DeleteRun(ctx context.Context, runID uuid.UUID) error {
	query := `
		MATCH ()-[f:FRAGMENTS_TO {run_id: $runId}]->(k:Core)
		DELETE f
		WITH DISTINCT k
		WHERE NOT (k)<-[:FRAGMENTS_TO]-()
		DELETE k`
	_, err := r.driver.ExecuteWrite(ctx, func(tx driver.Transaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"runId": runID.String()})
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	return err
}

func mapRecord(rec *neo4j.Record) (fragment.Record, error) {
	var out fragment.Record
	var err error
	if out.OriginalIdentifier, _, err = neo4j.GetRecordValue[string](rec, "identifier"); err != nil {
		return out, err
	}
	if out.CompoundID, _, err = neo4j.GetRecordValue[string](rec, "compound_id"); err != nil {
		return out, err
	}
	if out.Core, _, err = neo4j.GetRecordValue[string](rec, "core"); err != nil {
		return out, err
	}
	if out.SideChains, _, err = neo4j.GetRecordValue[string](rec, "side_chains"); err != nil {
		return out, err
	}
	return out, nil
}
