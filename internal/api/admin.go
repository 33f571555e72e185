package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"cortex/internal/models"
)

func (s *Server) handleListDLQ(w http.ResponseWriter, r *http.Request) {
	limit := int64(100)
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	entries, err := s.queue.DLQEntries(r.Context(), 0, limit-1)
	if err != nil {
		writeError(w, err)
		return
	}
	total, err := s.queue.DLQLen(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeAPIResponse(w, http.StatusOK, entries, map[string]interface{}{
		"total": total,
	})
}

func (s *Server) handleDrainDLQ(w http.ResponseWriter, r *http.Request) {
	drained, err := s.queue.DrainDLQ(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	s.log.Info("dead-letter queue drained",
		zap.Int64("drained", drained),
		zap.String("admin", AdminSubjectFromContext(r.Context())))
	writeAPIResponse(w, http.StatusOK, map[string]int64{"drained": drained}, nil)
}

// handleRetryDocument puts a FAILED document back through the pipeline:
// FAILED -> PENDING under the retry budget, a cleared failure counter and a
// fresh job on the main queue.
func (s *Server) handleRetryDocument(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	doc, err := s.docs.Retry(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.queue.ClearRetry(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	if err := s.queue.Enqueue(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	s.log.Info("document requeued by admin",
		zap.String("document_id", id.String()),
		zap.String("admin", AdminSubjectFromContext(r.Context())))
	writeAPIResponse(w, http.StatusAccepted, models.NewDocumentResponse(doc), nil)
}
