package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"cortex/internal/apperr"
)

type apiEnvelope struct {
	Meta  map[string]interface{} `json:"_meta,omitempty"`
	Data  interface{}            `json:"data,omitempty"`
	Error interface{}            `json:"error,omitempty"`
}

func writeAPIResponse(w http.ResponseWriter, status int, data interface{}, meta map[string]interface{}) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiEnvelope{Meta: meta, Data: data})
}

func writeAPIError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiEnvelope{
		Error: map[string]string{"message": message},
	})
}

// writeError maps the error taxonomy onto HTTP statuses. Infra errors never
// leak their cause to clients.
func writeError(w http.ResponseWriter, err error) {
	var (
		notFound *apperr.DocumentNotFoundError
		conflict *apperr.ProcessingConflictError
		invalid  *apperr.InvalidTransitionError
		maxed    *apperr.MaxRetriesError
		full     *apperr.QueueFullError
	)
	switch {
	case errors.As(err, &notFound):
		writeAPIError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &conflict), errors.As(err, &invalid), errors.As(err, &maxed):
		writeAPIError(w, http.StatusConflict, err.Error())
	case errors.As(err, &full):
		w.Header().Set("Retry-After", "5")
		writeAPIError(w, http.StatusTooManyRequests, err.Error())
	case apperr.IsDomain(err):
		writeAPIError(w, http.StatusBadRequest, err.Error())
	default:
		writeAPIError(w, http.StatusInternalServerError, "internal server error")
	}
}

// payloadCache is a short-lived response cache for the status surface.
type payloadCache struct {
	mu        sync.Mutex
	payload   []byte
	expiresAt time.Time
}

func (c *payloadCache) get() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Now().Before(c.expiresAt) && len(c.payload) > 0 {
		return append([]byte(nil), c.payload...)
	}
	return nil
}

func (c *payloadCache) set(payload []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payload = payload
	c.expiresAt = time.Now().Add(ttl)
}
