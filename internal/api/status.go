package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"cortex/internal/metrics"
	"cortex/internal/models"
	"cortex/internal/queue"
)

const statusCacheTTL = 10 * time.Second

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if cached := s.statusCache.get(); cached != nil {
		w.Write(cached)
		return
	}

	payload, err := s.buildStatusPayload(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	s.statusCache.set(payload, statusCacheTTL)
	w.Write(payload)
}

func (s *Server) buildStatusPayload(ctx context.Context) ([]byte, error) {
	counts, err := s.docs.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	mainDepth, err := s.queue.Len(ctx)
	if err != nil {
		return nil, err
	}
	processingDepth, err := s.queue.ProcessingLen(ctx)
	if err != nil {
		return nil, err
	}
	dlqDepth, err := s.queue.DLQLen(ctx)
	if err != nil {
		return nil, err
	}

	metrics.QueueDepth.WithLabelValues("main").Set(float64(mainDepth))
	metrics.QueueDepth.WithLabelValues("processing").Set(float64(processingDepth))
	metrics.QueueDepth.WithLabelValues("dlq").Set(float64(dlqDepth))

	docCounts := map[string]int64{}
	for _, status := range []models.DocumentStatus{
		models.StatusPending, models.StatusProcessing, models.StatusDone, models.StatusFailed,
	} {
		docCounts[string(status)] = counts[status]
	}

	return json.Marshal(map[string]interface{}{
		"status": "ok",
		"queues": map[string]int64{
			queue.MainQueue:       mainDepth,
			queue.ProcessingQueue: processingDepth,
			queue.DeadLetterQueue: dlqDepth,
		},
		"documents":    docCounts,
		"generated_at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatusJSON(ctx context.Context) []byte {
	payload, err := s.buildStatusPayload(ctx)
	if err != nil {
		return []byte(`{"status":"error"}`)
	}
	return payload
}
