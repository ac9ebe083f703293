// Package httpapi serves a read-only JSON view of the mirrored documents.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/fedisync/internal/common"
	"github.com/dmitrijs2005/fedisync/internal/logging"
	"github.com/dmitrijs2005/fedisync/internal/models"
	"github.com/dmitrijs2005/fedisync/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is the read API.
type Server struct {
	docs    services.DocumentService
	queries services.QueryService
	log     logging.Logger
	router  chi.Router
}

// New creates a server and its routes.
func New(docs services.DocumentService, queries services.QueryService, log logging.Logger) *Server {
	s := &Server{docs: docs, queries: queries, log: log}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/documents/*", s.handleDocument)
		r.Get("/collections", s.handleCollection)
		r.Get("/timelines", s.handleTimeline)
		r.Get("/accounts", s.handleByAccount)
		r.Get("/counts/*", s.handleCount)
		r.Get("/mutuals", s.handleMutuals)
	})

	s.router = r
}

// requestLogger logs each request through the server's logger once the
// response has been written.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		args := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		}
		if status >= http.StatusInternalServerError {
			s.log.Warn(r.Context(), "request served", args...)
			return
		}
		s.log.Debug(r.Context(), "request served", args...)
	})
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info(ctx, "read API listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// credential records are never served
const oauthFlag = "oauth"

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "*")
	doc, err := s.docs.Get(r.Context(), id)
	if err == nil && doc.HasFlag(oauthFlag) {
		err = common.ErrNotFound
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	source, path := r.URL.Query().Get("source"), r.URL.Query().Get("path")
	if source == "" || path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("source and path are required"))
		return
	}
	docs, err := s.queries.Collection(r.Context(), source, path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	docs, err := s.queries.Timeline(r.Context(), path, limitParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleByAccount(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("url is required"))
		return
	}
	docs, err := s.queries.ByAccount(r.Context(), url, limitParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	flag := chi.URLParam(r, "*")
	n, err := s.queries.Count(r.Context(), flag)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flag": flag, "count": n})
}

func (s *Server) handleMutuals(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")
	if domain == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("domain is required"))
		return
	}
	mutuals, err := s.queries.Mutuals(r.Context(), domain)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if mutuals == nil {
		mutuals = []models.Item{}
	}
	writeJSON(w, http.StatusOK, mutuals)
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, common.ErrUnauthenticated):
		writeJSON(w, http.StatusUnauthorized, errorBody(err.Error()))
	case errors.Is(err, common.ErrTransport):
		writeJSON(w, http.StatusBadGateway, errorBody(err.Error()))
	default:
		s.log.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
