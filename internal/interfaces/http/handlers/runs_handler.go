package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/storage/minio"
	"github.com/turtacn/KeyIP-MMP/pkg/errors"
	dto "github.com/turtacn/KeyIP-MMP/pkg/types/mmp"
)

// DefaultPresignExpiry is the lifetime of artifact download links.
const DefaultPresignExpiry = 15 * time.Minute

// RunsHandler lists archived runs and hands out download links.
type RunsHandler struct {
	archive minio.ArchiveRepository
	expiry  time.Duration
	logger  logging.Logger
}

// NewRunsHandler creates a RunsHandler.
func NewRunsHandler(archive minio.ArchiveRepository, logger logging.Logger) *RunsHandler {
	return &RunsHandler{archive: archive, expiry: DefaultPresignExpiry, logger: nopIfNil(logger).Named("runs_handler")}
}

// List handles GET /api/v1/runs.
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	ids, err := h.archive.ListRuns(r.Context())
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	out := dto.RunList{Runs: make([]string, len(ids))}
	for i, id := range ids {
		out.Runs[i] = id.String()
	}
	writeData(w, http.StatusOK, out, &ResponseMeta{Total: int64(len(ids))})
}

// Get handles GET /api/v1/runs/{runID}.
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		writeAppError(w, r, h.logger, errors.New(errors.ErrCodeValidation, "run id must be a UUID"))
		return
	}
	infos, err := h.archive.ListRun(r.Context(), runID)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	if len(infos) == 0 {
		writeAppError(w, r, h.logger, errors.Newf(errors.ErrCodeNotFound, "run %s is not archived", runID))
		return
	}

	out := dto.RunArtifacts{RunID: runID.String(), Artifacts: make([]dto.Artifact, 0, len(infos))}
	for _, info := range infos {
		url, err := h.archive.PresignedURL(r.Context(), runID, info.Kind, h.expiry)
		if err != nil {
			writeAppError(w, r, h.logger, err)
			return
		}
		out.Artifacts = append(out.Artifacts, dto.Artifact{
			Kind:         info.Kind,
			Size:         info.Size,
			ContentType:  info.ContentType,
			LastModified: info.LastModified,
			URL:          url,
		})
	}
	writeData(w, http.StatusOK, out, nil)
}
