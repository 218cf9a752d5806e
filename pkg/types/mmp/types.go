// Package mmp defines the request and response types of the fragmentation
// API.  They are shared by the HTTP and gRPC servers and by pkg/client, and
// carry no behaviour beyond validation.
package mmp

import (
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/turtacn/KeyIP-MMP/pkg/errors"
)

// MaxCutsLimit is the deepest cut set the engine enumerates.
const MaxCutsLimit = 3

// ─────────────────────────────────────────────────────────────────────────────
// Records
// ─────────────────────────────────────────────────────────────────────────────

// Record is one emitted decomposition.
type Record struct {
	OriginalIdentifier string `json:"original_identifier"`
	CompoundID         string `json:"compound_id"`
	Core               string `json:"core"`
	SideChains         string `json:"side_chains"`
	CutCount           int    `json:"cut_count"`
}

// Failure marks a molecule that produced no records.
type Failure struct {
	OriginalIdentifier string `json:"original_identifier"`
	CompoundID         string `json:"compound_id"`
	Code               string `json:"code"`
	Reason             string `json:"reason"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Fragmentation
// ─────────────────────────────────────────────────────────────────────────────

// MoleculeInput is one structure to fragment: SMILES or a V2000 molfile.
type MoleculeInput struct {
	SMILES     string `json:"smiles" validate:"required"`
	CompoundID string `json:"compound_id" validate:"required,max=256"`
}

// FragmentRequest asks for the fragmentation of a batch.  MaxCuts 0 uses the
// server's configured depth.
type FragmentRequest struct {
	Molecules []MoleculeInput `json:"molecules" validate:"required,min=1,dive"`
	MaxCuts   int             `json:"max_cuts,omitempty" validate:"min=0,max=3"`
}

// Validate checks the request shape.
func (r *FragmentRequest) Validate() error {
	return validateStruct(r)
}

// RunSummary counts what happened in one run.
type RunSummary struct {
	RunID         string        `json:"run_id"`
	Molecules     int           `json:"molecules"`
	Fragmented    int           `json:"fragmented"`
	NoCuts        int           `json:"no_cuts"`
	Failed        int           `json:"failed"`
	Records       int           `json:"records"`
	Duplicates    int           `json:"duplicates"`
	InvalidTriple int           `json:"invalid_triple"`
	Unparsable    int           `json:"unparsable"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration_ns"`
}

// FragmentResponse returns records and failures in input order.
type FragmentResponse struct {
	Summary  RunSummary `json:"summary"`
	Records  []Record   `json:"records"`
	Failures []Failure  `json:"failures,omitempty"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Lookups
// ─────────────────────────────────────────────────────────────────────────────

// PairsRequest looks up the stored records sharing a core.
type PairsRequest struct {
	Core  string `json:"core" validate:"required"`
	Limit int    `json:"limit,omitempty" validate:"min=0,max=10000"`
}

// Validate checks the request shape.
func (r *PairsRequest) Validate() error {
	return validateStruct(r)
}

// PairsResponse lists stored records that share a core.
type PairsResponse struct {
	Core    string   `json:"core"`
	Records []Record `json:"records"`
}

// Neighbour is a compound sharing cores with the queried one.
type Neighbour struct {
	CompoundID  string `json:"compound_id"`
	SharedCores int64  `json:"shared_cores"`
}

// NeighboursResponse lists the neighbours of a compound.
type NeighboursResponse struct {
	CompoundID string      `json:"compound_id"`
	Neighbours []Neighbour `json:"neighbours"`
}

// SearchRequest filters indexed records.  Empty fields do not filter.
type SearchRequest struct {
	RunID      string `json:"run_id,omitempty" validate:"omitempty,uuid"`
	Core       string `json:"core,omitempty"`
	CompoundID string `json:"compound_id,omitempty"`
	SideChain  string `json:"side_chain,omitempty"`
	MaxCuts    int    `json:"max_cuts,omitempty" validate:"min=0,max=3"`
	From       int    `json:"from,omitempty" validate:"min=0"`
	Size       int    `json:"size,omitempty" validate:"min=0,max=500"`
}

// Validate checks the request shape.
func (r *SearchRequest) Validate() error {
	return validateStruct(r)
}

// SearchHit is one indexed record.
type SearchHit struct {
	ID     string `json:"id"`
	RunID  string `json:"run_id"`
	Record Record `json:"record"`
}

// SearchResponse is a page of hits.
type SearchResponse struct {
	Total  int64       `json:"total"`
	TookMs int         `json:"took_ms"`
	Hits   []SearchHit `json:"hits"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Archived runs
// ─────────────────────────────────────────────────────────────────────────────

// Artifact is one archived file of a run.
type Artifact struct {
	Kind         string    `json:"kind"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type"`
	LastModified time.Time `json:"last_modified"`
	URL          string    `json:"url,omitempty"`
}

// RunArtifacts lists the archive of one run.
type RunArtifacts struct {
	RunID     string     `json:"run_id"`
	Artifacts []Artifact `json:"artifacts"`
}

// RunList lists archived run ids.
type RunList struct {
	Runs []string `json:"runs"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared validator instance.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

func validateStruct(v interface{}) error {
	if err := Validator().Struct(v); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			_, field, _ := strings.Cut(fe.Namespace(), ".")
			return errors.Newf(errors.ErrCodeValidation, "field %s failed on %q", field, fe.Tag()).WithCause(err)
		}
		return errors.Wrap(err, errors.ErrCodeValidation, "invalid request")
	}
	return nil
}
