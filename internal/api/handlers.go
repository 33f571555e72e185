package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"cortex/internal/models"
)

const maxUploadBytes = 32 << 20

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req models.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Source = strings.TrimSpace(req.Source)
	if req.Source == "" {
		writeAPIError(w, http.StatusBadRequest, "source is required")
		return
	}

	doc, err := s.ingestor.Ingest(r.Context(), req.Source)
	if err != nil {
		writeError(w, err)
		return
	}
	writeAPIResponse(w, http.StatusAccepted, models.NewDocumentResponse(doc), nil)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	doc, err := s.docs.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if doc == nil {
		writeAPIError(w, http.StatusNotFound, "document not found")
		return
	}
	writeAPIResponse(w, http.StatusOK, doc, nil)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	doc, err := s.ingestor.Upload(r.Context(), id, header.Filename, file)
	if err != nil {
		writeError(w, err)
		return
	}
	writeAPIResponse(w, http.StatusAccepted, models.NewDocumentResponse(doc), nil)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeAPIError(w, http.StatusBadRequest, "query is required")
		return
	}

	resp, err := s.searcher.Search(r.Context(), req.Query, req.Limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeAPIResponse(w, http.StatusOK, resp, map[string]interface{}{
		"result_count": len(resp.Results),
	})
}
