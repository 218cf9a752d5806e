package handlers

import (
	"context"
	"net/http"

	"github.com/turtacn/KeyIP-MMP/internal/application/mmp"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/search/opensearch"
	dto "github.com/turtacn/KeyIP-MMP/pkg/types/mmp"
)

// RecordSearcher queries indexed records.
type RecordSearcher interface {
	Search(ctx context.Context, q opensearch.RecordQuery) (*opensearch.RecordSearchResult, error)
}

// SearchHandler serves record search.
type SearchHandler struct {
	searcher RecordSearcher
	logger   logging.Logger
}

// NewSearchHandler creates a SearchHandler.
func NewSearchHandler(searcher RecordSearcher, logger logging.Logger) *SearchHandler {
	return &SearchHandler{searcher: searcher, logger: nopIfNil(logger).Named("search_handler")}
}

// Search handles GET /api/v1/records/search.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := dto.SearchRequest{
		RunID:      q.Get("run_id"),
		Core:       q.Get("core"),
		CompoundID: q.Get("compound_id"),
		SideChain:  q.Get("side_chain"),
	}
	var err error
	if req.MaxCuts, err = queryInt(r, "max_cuts", 0); err == nil {
		if req.From, err = queryInt(r, "from", 0); err == nil {
			req.Size, err = queryInt(r, "size", 0)
		}
	}
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	res, err := h.searcher.Search(r.Context(), opensearch.RecordQuery{
		RunID:      req.RunID,
		Core:       req.Core,
		CompoundID: req.CompoundID,
		SideChain:  req.SideChain,
		MaxCuts:    req.MaxCuts,
		From:       req.From,
		Size:       req.Size,
	})
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	out := dto.SearchResponse{Total: res.Total, TookMs: int(res.TookMs), Hits: make([]dto.SearchHit, len(res.Hits))}
	for i, hit := range res.Hits {
		out.Hits[i] = dto.SearchHit{ID: hit.ID, RunID: hit.RunID, Record: mmp.RecordDTO(hit.Record)}
	}
	writeData(w, http.StatusOK, out, &ResponseMeta{Total: res.Total, From: req.From, Size: len(res.Hits), TookMs: int(res.TookMs)})
}
