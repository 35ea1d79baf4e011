package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/harborfund/vaultd/internal/domain"
)

// ArchiveHandler serves the cold-storage archive catalogue: listing archived
// objects and streaming individual archives back to operators.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler backed by the given blob reader.
func NewArchiveHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		blobs:  blobs,
		logger: logHandler(logger, "archive"),
	}
}

// List enumerates archived objects under an optional prefix.
// GET /api/archives?prefix=archive/withdrawals/
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage not configured")
		return
	}

	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = "archive/"
	}

	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "archive list failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": infos})
}

// Get streams one archived object back as JSON Lines.
// GET /api/archives/{path...}
func (h *ArchiveHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage not configured")
		return
	}

	path := r.PathValue("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "missing archive path")
		return
	}

	rc, err := h.blobs.Get(r.Context(), path)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/jsonl")
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.WarnContext(r.Context(), "archive stream interrupted",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
