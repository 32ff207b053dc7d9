package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ignatij/flowmetrics/internal/log"
	"github.com/sirupsen/logrus"
)

// NewRouter wires the API routes onto a chi router.
func NewRouter(h *Handlers) http.Handler {
	if h.validate == nil {
		h.validate = newValidator()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.Health)
	r.Post("/sync", h.SyncAll)
	r.Route("/workflows", func(r chi.Router) {
		r.Get("/", h.ListWorkflows)
		r.Post("/", h.CreateWorkflow)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetWorkflow)
			r.Delete("/", h.DeleteWorkflow)
			r.Get("/metrics", h.WorkflowMetrics)
			r.Get("/snapshots", h.ListSnapshots)
			r.Post("/snapshots", h.TakeSnapshot)
			r.Post("/sync", h.SyncWorkflow)
		})
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "route not found", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", "")
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.GetLogger().WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}).Info("request")
	})
}

type Server struct {
	httpServer *http.Server
}

// NewServer creates the API server listening on port.
func NewServer(port int, handler http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:           fmt.Sprintf(":%d", port),
			Handler:        handler,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   60 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 1 << 20, // 1 MB
		},
	}
}

// Start blocks serving requests until Shutdown is called, in which case it returns nil.
func (s *Server) Start() error {
	log.GetLogger().Infof("Starting flowmetrics server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
