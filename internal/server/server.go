// Package server exposes the entry points over HTTP and streams relay events
// to live clients with server-sent events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/amishk599/hunter/internal/model"
	"github.com/amishk599/hunter/internal/relay"
	"github.com/amishk599/hunter/internal/service"
)

const (
	defaultListingLimit = 50
	maxListingLimit     = 500
	streamBuffer        = 64
	keepAliveInterval   = 15 * time.Second
	maxBodyBytes        = 1 << 20
)

// BlobReader reads stored screenshots.
type BlobReader interface {
	Get(ctx context.Context, ref string) ([]byte, error)
}

// Server is the HTTP surface.
type Server struct {
	svc       *service.Service
	conns     *relay.Registry
	blobs     BlobReader
	logger    *slog.Logger
	keepAlive time.Duration
	router    chi.Router
}

// New builds the router. conns receives relay events through relay.Forward.
func New(svc *service.Service, conns *relay.Registry, blobs BlobReader, logger *slog.Logger) *Server {
	s := &Server{svc: svc, conns: conns, blobs: blobs, logger: logger, keepAlive: keepAliveInterval}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/events", s.handleEvents)

		r.Get("/boards", s.handleBoards)
		r.Post("/boards/{id}/scan", s.handleDispatchScan)

		r.Get("/listings", s.handleListings)
		r.Post("/listings/{id}/apply", s.handleDispatchApply)

		r.Get("/applications", s.handleApplications)
		r.Get("/applications/review", s.handleReviewQueue)
		r.Get("/applications/{id}", s.handleApplication)
		r.Post("/applications/{id}/review", s.handleSubmitReview)
		r.Post("/applications/{id}/cancel", s.handleCancel)
		r.Post("/applications/{id}/ai-assist", s.handleAIAssist)

		r.Get("/blobs/*", s.handleBlob)
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) handleBoards(w http.ResponseWriter, r *http.Request) {
	boards, err := s.svc.Boards(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, boards)
}

func (s *Server) handleDispatchScan(w http.ResponseWriter, r *http.Request) {
	ref, err := s.svc.DispatchScan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_ref": ref})
}

func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	limit := defaultListingLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Kind: "bad_request", Message: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxListingLimit)
	}
	listings, err := s.svc.Listings(r.Context(), r.URL.Query().Get("board_id"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listings)
}

func (s *Server) handleDispatchApply(w http.ResponseWriter, r *http.Request) {
	app, err := s.svc.DispatchAutoApply(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, app)
}

func (s *Server) handleApplications(w http.ResponseWriter, r *http.Request) {
	var statuses []model.AppStatus
	for _, v := range r.URL.Query()["status"] {
		st, err := model.ParseAppStatus(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Kind: "bad_request", Message: err.Error()})
			return
		}
		statuses = append(statuses, st)
	}
	apps, err := s.svc.Applications(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apps)
}

func (s *Server) handleReviewQueue(w http.ResponseWriter, r *http.Request) {
	apps, err := s.svc.ReviewQueue(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apps)
}

func (s *Server) handleApplication(w http.ResponseWriter, r *http.Request) {
	app, err := s.svc.Application(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

type reviewRequest struct {
	Fields map[string]string `json:"fields"`
}

func (s *Server) handleSubmitReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Kind: "bad_request", Message: "invalid request body"})
		return
	}
	app, err := s.svc.SubmitReview(r.Context(), chi.URLParam(r, "id"), req.Fields)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, app)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	app, err := s.svc.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) handleAIAssist(w http.ResponseWriter, r *http.Request) {
	answers, err := s.svc.RequestAIAssist(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"answers": answers})
}

func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "*")
	data, err := s.blobs.Get(r.Context(), ref)
	if err != nil {
		s.logger.Debug("blob lookup failed", "ref", ref, "error", err)
		writeJSON(w, http.StatusNotFound, errorBody{Kind: string(model.KindNotFound), Message: "blob not found"})
		return
	}
	ctype := mime.TypeByExtension(path.Ext(ref))
	if ctype == "" {
		ctype = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", ctype)
	w.Write(data)
}

// handleEvents registers the client with the connection registry and writes
// each relayed event as an SSE data line until the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	events, remove := s.conns.Add(streamBuffer)
	defer remove()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	s.logger.Debug("live client connected", "clients", s.conns.Len())
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func statusFor(kind model.ErrorKind) int {
	switch kind {
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindAlreadyRunning, model.KindConflict:
		return http.StatusConflict
	case model.KindInvalidState:
		return http.StatusUnprocessableEntity
	case model.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := model.ErrorKindOf(err)
	msg := err.Error()
	var me *model.Error
	if errors.As(err, &me) {
		msg = me.Message
	}
	writeJSON(w, statusFor(kind), errorBody{Kind: string(kind), Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
