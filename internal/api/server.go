// Package api exposes trigger management, manual runs and live run progress
// over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/trigger-cli/internal/model"
	"github.com/sells-group/trigger-cli/internal/notify"
	"github.com/sells-group/trigger-cli/internal/store"
	"github.com/sells-group/trigger-cli/internal/trigger"
)

// defaultRunLimit caps GET /triggers/{id}/runs when no limit is given.
const defaultRunLimit = 20

// Subscriber is the read side of the progress hub.
type Subscriber interface {
	Subscribe(topic string) (<-chan notify.Event, func())
}

// Server serves the HTTP API.
type Server struct {
	svc        *trigger.Service
	dispatcher trigger.Dispatcher
	events     Subscriber
	origins    []string
	keepAlive  time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithCORSOrigins sets the allowed CORS origins.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithKeepAlive sets the interval of SSE keep-alive comments.
func WithKeepAlive(d time.Duration) Option {
	return func(s *Server) { s.keepAlive = d }
}

// NewServer returns a Server. events may be nil, in which case the stream
// endpoint is not available.
func NewServer(svc *trigger.Service, dispatcher trigger.Dispatcher, events Subscriber, opts ...Option) *Server {
	s := &Server{
		svc:        svc,
		dispatcher: dispatcher,
		events:     events,
		origins:    []string{"*"},
		keepAlive:  15 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/triggers", func(r chi.Router) {
		r.Get("/", s.listTriggers)
		r.Post("/", s.createTrigger)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getTrigger)
			r.Put("/", s.updateTrigger)
			r.Post("/run", s.runTrigger)
			r.Post("/active", s.setActive)
			r.Get("/runs", s.listRuns)
			r.Get("/stream", s.stream)
		})
	})
	r.Get("/runs/{id}/candidates", s.listCandidates)
	return r
}

func (s *Server) listTriggers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.TriggerFilter{
		TenantID:   q.Get("tenant_id"),
		ActiveOnly: q.Get("active") == "true",
		Limit:      intParam(q.Get("limit"), 0),
		Offset:     intParam(q.Get("offset"), 0),
	}
	ts, err := s.svc.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if ts == nil {
		ts = []model.Trigger{}
	}
	writeJSON(w, http.StatusOK, ts)
}

func (s *Server) createTrigger(w http.ResponseWriter, r *http.Request) {
	t, ok := decodeDefinition(w, r)
	if !ok {
		return
	}
	t.ID = ""
	if err := s.svc.Create(r.Context(), t); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) getTrigger(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) updateTrigger(w http.ResponseWriter, r *http.Request) {
	t, ok := decodeDefinition(w, r)
	if !ok {
		return
	}
	t.ID = chi.URLParam(r, "id")
	if err := s.svc.Update(r.Context(), t); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) runTrigger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.svc.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	started, err := s.dispatcher.Dispatch(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !started {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "already running", "trigger_id": id})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "trigger_id": id})
}

func (s *Server) setActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active *bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Active == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "body must be {\"active\": true|false}"})
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.svc.SetActive(r.Context(), id, *req.Active); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trigger_id": id, "active": *req.Active})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r.URL.Query().Get("limit"), defaultRunLimit)
	runs, err := s.svc.Runs(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []model.TriggerRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) listCandidates(w http.ResponseWriter, r *http.Request) {
	cs, err := s.svc.Candidates(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if cs == nil {
		cs = []model.TriggerCandidate{}
	}
	writeJSON(w, http.StatusOK, cs)
}

// stream relays the trigger's progress events as server-sent events until
// the client disconnects.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "streaming is not enabled"})
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.svc.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming unsupported"})
		return
	}

	events, cancel := s.events.Subscribe(id)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n") //nolint:errcheck
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev notify.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Channel, data)
	return err
}

func decodeDefinition(w http.ResponseWriter, r *http.Request) (*model.Trigger, bool) {
	var def trigger.Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		var mbe *model.MalformedBlockError
		if errors.As(err, &mbe) {
			writeError(w, mbe)
			return nil, false
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return nil, false
	}
	t, err := def.Trigger()
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return t, true
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// writeError maps domain errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	var (
		cfgErr *model.ConfigurationError
		mbe    *model.MalformedBlockError
	)
	switch {
	case errors.As(err, &cfgErr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: cfgErr.Reason, Field: cfgErr.Field})
	case errors.As(err, &mbe):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: mbe.Error()})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case errors.Is(err, context.Canceled):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "request cancelled"})
	default:
		zap.L().Error("api: request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func intParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
