// Package httpapi is the HTTP Surface: a chi router exposing
// check-dependencies and download over JSON/NDJSON, in the
// Routes() chi.Router style used elsewhere in this codebase's corpus for
// a mountable model registry.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"modelregistry/internal/catalog"
	"modelregistry/internal/credential"
	"modelregistry/internal/downloader"
	"modelregistry/internal/models"
	"modelregistry/internal/resolver"
	"modelregistry/internal/urladmit"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Server wires the registry's core components to HTTP handlers.
type Server struct {
	catalog  *catalog.Catalog
	resolver *resolver.Resolver
	engine   *downloader.Engine
	broker   *credential.Broker
}

// New builds a Server.
func New(cat *catalog.Catalog, res *resolver.Resolver, engine *downloader.Engine, broker *credential.Broker) *Server {
	return &Server{catalog: cat, resolver: res, engine: engine, broker: broker}
}

// Routes returns the mountable router for the registry's endpoints.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/models/check-dependencies", s.CheckDependencies)
	r.Post("/models/download", s.Download)

	return r
}

type checkDependenciesRequest struct {
	Dependencies map[string][]models.DependencyEntry `json:"dependencies"`
}

type missingEntry struct {
	Filename     string   `json:"filename"`
	Type         string   `json:"type"`
	SHA256       string   `json:"sha256"`
	Size         uint64   `json:"size"`
	URLs         []string `json:"urls"`
	RequiresAuth bool     `json:"requires_auth"`
	AuthProvider string   `json:"auth_provider,omitempty"`
}

type existingEntry struct {
	Filename string `json:"filename"`
	ExistsAt string `json:"exists_at"`
	Type     string `json:"type"`
	SHA256   string `json:"sha256"`
	Size     uint64 `json:"size"`
	Action   string `json:"action"`
}

type checkDependenciesResponse struct {
	Missing           []missingEntry  `json:"missing"`
	Existing          []existingEntry `json:"existing"`
	TotalDownloadSize uint64          `json:"total_download_size"`
	TotalSavedSize    uint64          `json:"total_saved_size"`
}

// CheckDependencies handles POST /models/check-dependencies.
func (s *Server) CheckDependencies(w http.ResponseWriter, r *http.Request) {
	var req checkDependenciesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest")
		return
	}

	res, err := s.resolver.Resolve(req.Dependencies)
	if err != nil {
		log.WithError(err).Error("httpapi: resolve failed")
		writeError(w, http.StatusInternalServerError, "CatalogUnavailable")
		return
	}

	resp := checkDependenciesResponse{
		Missing:           make([]missingEntry, 0, len(res.Missing)),
		Existing:          make([]existingEntry, 0, len(res.Existing)),
		TotalDownloadSize: res.TotalDownloadSize,
		TotalSavedSize:    res.TotalSavedSize,
	}
	for _, m := range res.Missing {
		resp.Missing = append(resp.Missing, missingEntry{
			Filename:     m.Filename,
			Type:         m.Kind,
			SHA256:       m.SHA256,
			Size:         m.SizeBytes,
			URLs:         m.URLs,
			RequiresAuth: m.RequiresAuth,
			AuthProvider: m.AuthProvider,
		})
	}
	for _, e := range res.Existing {
		resp.Existing = append(resp.Existing, existingEntry{
			Filename: e.Entry.Filename,
			ExistsAt: e.CanonicalPath,
			Type:     e.Entry.Kind,
			SHA256:   e.Entry.SHA256,
			Size:     e.Entry.SizeBytes,
			Action:   string(e.Action),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type downloadRequest struct {
	URL              string `json:"url"`
	Folder           string `json:"folder"`
	Filename         string `json:"filename"`
	SHA256           string `json:"sha256"`
	Size             uint64 `json:"size"`
	DisplayName      string `json:"display_name"`
	HuggingFaceToken string `json:"huggingface_token"`
	CivitaiAPIKey    string `json:"civitai_api_key"`
}

// Download handles POST /models/download, streaming NDJSON progress
// events for the lifetime of the fetch.
func (s *Server) Download(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest")
		return
	}

	requestID := uuid.NewString()
	dlReq := models.DownloadRequest{
		URL:            req.URL,
		Kind:           req.Folder,
		Filename:       req.Filename,
		ExpectedSHA256: req.SHA256,
		ExpectedSize:   req.Size,
		DisplayName:    req.DisplayName,
	}

	switch {
	case req.HuggingFaceToken != "":
		dlReq.RequiresAuth = true
		dlReq.AuthProvider = models.ProviderHuggingFace
		s.broker.Put(requestID, models.ProviderHuggingFace, req.HuggingFaceToken)
	case req.CivitaiAPIKey != "":
		dlReq.RequiresAuth = true
		dlReq.AuthProvider = models.ProviderCivitai
		s.broker.Put(requestID, models.ProviderCivitai, req.CivitaiAPIKey)
	}
	if dlReq.RequiresAuth {
		// Covers every return path below, including a coalesced request
		// whose requestID never owns the engine's run() goroutine and so
		// would otherwise never get scrubbed until Sweep or process exit.
		defer s.broker.ScrubAll(requestID)
	}

	sub, err := s.engine.Download(r.Context(), requestID, dlReq)
	if err != nil {
		switch {
		case errors.Is(err, downloader.ErrUrlForbidden):
			writeError(w, http.StatusBadRequest, "UrlForbidden")
		case errors.Is(err, urladmit.ErrHostNotAllowed):
			writeError(w, http.StatusBadRequest, "UrlForbidden")
		case errors.Is(err, downloader.ErrAliasCollision):
			writeError(w, http.StatusConflict, "AliasCollision")
		default:
			log.WithError(err).Error("httpapi: download admission failed")
			writeError(w, http.StatusBadRequest, "InvalidName")
		}
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, ok := w.(http.Flusher)

	enc := json.NewEncoder(w)
	for ev := range sub.Events {
		if err := enc.Encode(ev); err != nil {
			return
		}
		if ok {
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Warn("httpapi: failed writing response body")
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, kind string) {
	writeJSON(w, status, errorBody{Error: kind})
}
