// Package api is the HTTP surface: ingest and search endpoints, health and
// status probes, the admin DLQ tooling and the websocket event stream.
package api

import (
	"context"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"cortex/internal/eventbus"
	"cortex/internal/models"
	"cortex/internal/queue"
)

// Ingestor is the write-side service behind the document endpoints.
type Ingestor interface {
	Ingest(ctx context.Context, source string) (*models.Document, error)
	Upload(ctx context.Context, id uuid.UUID, originalName string, content io.Reader) (*models.Document, error)
}

// Searcher serves the RAG query endpoint.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) (*models.SearchResponse, error)
}

// DocumentReader is the read-side slice of the repository.
type DocumentReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error)
	CountByStatus(ctx context.Context) (map[models.DocumentStatus]int64, error)
	Retry(ctx context.Context, id uuid.UUID) (*models.Document, error)
}

// HealthCheck probes one dependency for the readiness endpoint.
type HealthCheck func(ctx context.Context) error

type Server struct {
	ingestor Ingestor
	searcher Searcher
	docs     DocumentReader
	queue    *queue.DocumentQueue
	bus      *eventbus.Bus
	log      *zap.Logger
	checks   map[string]HealthCheck
	auth     *AdminAuth
	hub      *hub

	httpServer  *http.Server
	statusCache payloadCache
}

func NewServer(ingestor Ingestor, searcher Searcher, docs DocumentReader, q *queue.DocumentQueue, bus *eventbus.Bus, log *zap.Logger, port, adminSecret string, checks map[string]HealthCheck) *Server {
	s := &Server{
		ingestor: ingestor,
		searcher: searcher,
		docs:     docs,
		queue:    q,
		bus:      bus,
		log:      log.Named("api"),
		checks:   checks,
		auth:     NewAdminAuth(adminSecret),
		hub:      newHub(),
	}

	r := mux.NewRouter()
	r.Use(commonMiddleware)
	r.Use(s.requestIDMiddleware)
	r.Use(rateLimitMiddleware)

	s.registerRoutes(r)

	s.httpServer = &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	return s
}

func (s *Server) registerRoutes(r *mux.Router) {
	r.HandleFunc("/health/live", s.handleLiveness).Methods("GET", "OPTIONS")
	r.HandleFunc("/health/ready", s.handleReadiness).Methods("GET", "OPTIONS")
	r.HandleFunc("/status", s.handleStatus).Methods("GET", "OPTIONS")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/ws", s.handleWebSocket).Methods("GET", "OPTIONS")
	r.HandleFunc("/ws/status", s.handleStatusWebSocket).Methods("GET", "OPTIONS")

	r.HandleFunc("/api/v1/documents", s.handleIngest).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/v1/documents/{id}", s.handleGetDocument).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/documents/{id}/upload", s.handleUpload).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/v1/search", s.handleSearch).Methods("POST", "OPTIONS")

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(s.auth.Middleware)
	admin.HandleFunc("/dlq", s.handleListDLQ).Methods("GET", "OPTIONS")
	admin.HandleFunc("/dlq/drain", s.handleDrainDLQ).Methods("POST", "OPTIONS")
	admin.HandleFunc("/documents/{id}/retry", s.handleRetryDocument).Methods("POST", "OPTIONS")
}

// Start blocks serving HTTP; the event pump feeding the websocket hub runs
// until the bus closes.
func (s *Server) Start() error {
	go s.hub.run()
	go s.pumpEvents()
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func commonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", reqID)

		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic serving request",
					zap.Any("panic", rec),
					zap.String("request_id", reqID),
					zap.String("path", r.URL.Path))
				writeAPIError(w, http.StatusInternalServerError, "internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}
