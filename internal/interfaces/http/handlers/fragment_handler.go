package handlers

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/turtacn/KeyIP-MMP/internal/application/mmp"
	"github.com/turtacn/KeyIP-MMP/internal/config"
	"github.com/turtacn/KeyIP-MMP/internal/domain/fragment"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/logging"
	dto "github.com/turtacn/KeyIP-MMP/pkg/types/mmp"
)

// SinkFactory builds the configured sinks for one submission.  A nil sink
// means nothing beyond the response.
type SinkFactory func(submissionID string) (fragment.RecordSink, error)

// FragmentHandler serves synchronous fragmentation.
type FragmentHandler struct {
	services     *mmp.ServiceSet
	sinks        SinkFactory
	maxBodySize  int64
	maxMolecules int
	logger       logging.Logger
}

// NewFragmentHandler creates a FragmentHandler.  sinks may be nil.
func NewFragmentHandler(services *mmp.ServiceSet, sinks SinkFactory, cfg config.HTTPConfig, logger logging.Logger) *FragmentHandler {
	return &FragmentHandler{
		services:     services,
		sinks:        sinks,
		maxBodySize:  cfg.MaxBodySize,
		maxMolecules: cfg.MaxMolecules,
		logger:       nopIfNil(logger).Named("fragment_handler"),
	}
}

// Fragment handles POST /api/v1/fragments.
func (h *FragmentHandler) Fragment(w http.ResponseWriter, r *http.Request) {
	var req dto.FragmentRequest
	if err := decodeJSON(w, r, h.maxBodySize, &req); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}

	// Request ids restart with the process; submissions outlive it.
	submissionID := uuid.NewString()
	var extra fragment.RecordSink
	if h.sinks != nil {
		s, err := h.sinks(submissionID)
		if err != nil {
			writeAppError(w, r, h.logger, err)
			return
		}
		extra = s
	}

	resp, err := h.services.Fragment(r.Context(), &req, h.maxMolecules, extra, mmp.WithSource("http"))
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	h.logger.Info("fragmentation request served",
		logging.String("run_id", resp.Summary.RunID),
		logging.String("submission_id", submissionID),
		logging.String("request_id", chimw.GetReqID(r.Context())),
		logging.Int("molecules", resp.Summary.Molecules),
		logging.Int("records", resp.Summary.Records))
	writeData(w, http.StatusOK, resp, nil)
}
