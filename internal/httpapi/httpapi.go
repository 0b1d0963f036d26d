// Package httpapi exposes the feed over HTTP for local clients. All
// responses are JSON; errors carry a {code, message} envelope.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/flowstate/flowstate/internal/feed"
	"github.com/flowstate/flowstate/internal/model"
)

// Resumer clears an auth pause for a platform. The scheduler implements it;
// a nil Resumer disables the resume endpoint.
type Resumer interface {
	Resume(platform model.Platform)
}

// Server handles the local HTTP API.
type Server struct {
	agg     *feed.Aggregator
	resumer Resumer
	mux     *http.ServeMux
}

// New wires the routes. resumer may be nil when no scheduler is running.
func New(agg *feed.Aggregator, resumer Resumer) *Server {
	s := &Server{agg: agg, resumer: resumer, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /v1/feed", s.handleFeed)
	s.mux.HandleFunc("GET /v1/buckets/{bucket}", s.handleBucket)
	s.mux.HandleFunc("GET /v1/items/{id}", s.handleGetItem)
	s.mux.HandleFunc("POST /v1/items/{id}/status", s.handleMarkStatus)
	s.mux.HandleFunc("POST /v1/items/{id}/task", s.handleCreateTask)
	s.mux.HandleFunc("GET /v1/connectors", s.handleConnectors)
	s.mux.HandleFunc("POST /v1/connectors/{platform}/resume", s.handleResume)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.mux.ServeHTTP(w, r)
	slog.Debug("http request", "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(start))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	filter := feed.Filter{Query: r.URL.Query().Get("q")}

	if raw := r.URL.Query().Get("platform"); raw != "" {
		platform, err := model.ParsePlatform(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		filter.Platform = platform
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		filter.Limit = limit
	}

	items, err := s.agg.ListUnified(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleBucket(w http.ResponseWriter, r *http.Request) {
	bucket, err := model.ParseBucket(r.PathValue("bucket"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	items, err := s.agg.ListBucket(r.Context(), bucket)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bucket": bucket, "items": items})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.agg.GetItem(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type markStatusRequest struct {
	Status string `json:"status"`
	Expect string `json:"expect"`
}

func (s *Server) handleMarkStatus(w http.ResponseWriter, r *http.Request) {
	var req markStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid JSON body"))
		return
	}
	next, err := model.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	expect, err := model.ParseStatus(req.Expect)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.agg.MarkStatus(r.Context(), r.PathValue("id"), next, expect); err != nil {
		switch {
		case errors.Is(err, model.ErrNotFound):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, model.ErrConflict):
			// The client holds a stale status; return the current one so it
			// can re-fetch and retry.
			writeError(w, http.StatusConflict, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	item, err := s.agg.GetItem(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.agg.CreateTask(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleConnectors(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.agg.ConnectorStatuses(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connectors": statuses})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if s.resumer == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no scheduler running"))
		return
	}
	platform, err := model.ParsePlatform(r.PathValue("platform"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.resumer.Resume(platform)
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

type errorEnvelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorEnvelope{Code: status, Message: err.Error()})
}
