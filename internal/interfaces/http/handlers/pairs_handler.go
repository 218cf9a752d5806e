package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/turtacn/KeyIP-MMP/internal/application/mmp"
	"github.com/turtacn/KeyIP-MMP/internal/domain/fragment"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/database/neo4j/repositories"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-MMP/pkg/errors"
	dto "github.com/turtacn/KeyIP-MMP/pkg/types/mmp"
)

// DefaultLookupLimit bounds pair and neighbour lookups without a limit.
const DefaultLookupLimit = 100

// PairFinder returns stored records sharing a core.  Both the Postgres
// fragment repository and the pair graph implement it.
type PairFinder interface {
	FindPairs(ctx context.Context, core string, limit int) ([]fragment.Record, error)
}

// NeighbourFinder returns compounds sharing cores with a compound.
type NeighbourFinder interface {
	Neighbours(ctx context.Context, compoundID string, limit int) ([]repositories.Neighbour, error)
}

// PairsHandler serves matched-pair lookups over stored records.
type PairsHandler struct {
	pairs      PairFinder
	neighbours NeighbourFinder
	logger     logging.Logger
}

// NewPairsHandler creates a PairsHandler.  A nil neighbours finder answers
// the neighbour endpoint with 503.
func NewPairsHandler(pairs PairFinder, neighbours NeighbourFinder, logger logging.Logger) *PairsHandler {
	return &PairsHandler{pairs: pairs, neighbours: neighbours, logger: nopIfNil(logger).Named("pairs_handler")}
}

// Pairs handles GET /api/v1/pairs?core=...&limit=...
func (h *PairsHandler) Pairs(w http.ResponseWriter, r *http.Request) {
	core := strings.TrimSpace(r.URL.Query().Get("core"))
	if core == "" {
		writeAppError(w, r, h.logger, errors.New(errors.ErrCodeValidation, "query parameter core is required"))
		return
	}
	limit, err := queryInt(r, "limit", DefaultLookupLimit)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	recs, err := h.pairs.FindPairs(r.Context(), core, limit)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, dto.PairsResponse{Core: core, Records: mmp.RecordDTOs(recs)},
		&ResponseMeta{Total: int64(len(recs))})
}

// Neighbours handles GET /api/v1/compounds/{compoundID}/neighbours.
func (h *PairsHandler) Neighbours(w http.ResponseWriter, r *http.Request) {
	if h.neighbours == nil {
		writeAppError(w, r, h.logger, errors.New(errors.ErrCodeServiceUnavailable, "pair graph is not configured"))
		return
	}
	id := chi.URLParam(r, "compoundID")
	limit, err := queryInt(r, "limit", DefaultLookupLimit)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	found, err := h.neighbours.Neighbours(r.Context(), id, limit)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	out := dto.NeighboursResponse{CompoundID: id, Neighbours: make([]dto.Neighbour, len(found))}
	for i, n := range found {
		out.Neighbours[i] = dto.Neighbour{CompoundID: n.CompoundID, SharedCores: n.SharedCores}
	}
	writeData(w, http.StatusOK, out, &ResponseMeta{Total: int64(len(found))})
}
