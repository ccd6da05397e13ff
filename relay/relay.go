// Package relay exposes the bridge over HTTP: a small JSON API for the
// mobile client, a websocket push channel for live snapshots, and an
// embedded viewer page.
package relay

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/chatwatch/capture"
	"github.com/hazyhaar/chatwatch/msglog"
	"github.com/hazyhaar/chatwatch/quota"
)

//go:embed static
var staticFS embed.FS

const maxBodyBytes = 1 << 20

// Config tunes the relay surface.
type Config struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	QuotaMarker    string   `yaml:"quota_marker"`
}

// Service wires the capture streamer, message log and push hub behind a
// chi router.
type Service struct {
	streamer *capture.Streamer
	msgs     *msglog.Log
	hub      *Hub
	renderer *Renderer
	logger   *slog.Logger
	cfg      Config
	extra    []capture.Sink
}

// New builds a Service. msgs may be nil, in which case the message
// endpoints report 503. Any extra sinks receive every emitted snapshot
// alongside the push hub.
func New(streamer *capture.Streamer, msgs *msglog.Log, cfg Config, logger *slog.Logger, extra ...capture.Sink) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QuotaMarker == "" {
		cfg.QuotaMarker = "Visual Studio Code"
	}
	return &Service{
		streamer: streamer,
		msgs:     msgs,
		hub:      NewHub(cfg.AllowedOrigins, logger),
		renderer: NewRenderer(),
		logger:   logger,
		cfg:      cfg,
		extra:    extra,
	}
}

// Hub returns the push hub, exposed so the caller can close it on
// shutdown.
func (s *Service) Hub() *Hub { return s.hub }

// Sink returns the capture sink that feeds connected clients, fanned out
// to any extra sinks the Service was built with.
func (s *Service) Sink() capture.Sink {
	push := capture.CallbackFunc(func(ctx context.Context, snap capture.Snapshot) error {
		snap.HTML = s.renderer.SanitizeHTML(snap.HTML)
		return s.hub.BroadcastSnapshot(snap)
	})
	if len(s.extra) == 0 {
		return push
	}
	return capture.NewRouter(s.logger, append([]capture.Sink{push}, s.extra...)...)
}

// Routes builds the HTTP surface.
func (s *Service) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders(DefaultHeaders()))
	r.Use(MaxBody(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/stream/start", s.handleStreamStart)
		r.Post("/stream/stop", s.handleStreamStop)
		r.Get("/stream/status", s.handleStreamStatus)
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/snapshot.md", s.handleSnapshotMarkdown)
		r.Get("/messages", s.handleMessagesList)
		r.Post("/messages", s.handleMessagesAppend)
		r.Get("/quota", s.handleQuota)
	})

	r.Get("/ws", s.hub.Handle)

	static, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(fmt.Sprintf("relay: embedded static tree: %v", err))
	}
	fileServer := http.FileServer(http.FS(static))
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	})
	r.Get("/static/*", http.StripPrefix("/static", fileServer).ServeHTTP)

	return r
}

func (s *Service) handleStreamStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IntervalMs int64 `json:"interval_ms"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, fmt.Errorf("decode body: %w", err))
			return
		}
	}

	interval := time.Duration(req.IntervalMs) * time.Millisecond
	res := s.streamer.Start(context.Background(), s.Sink(), interval)
	if !res.OK {
		writeJSON(w, 502, res)
		return
	}
	s.logger.Info("relay: stream started", "endpoint", res.EndpointTitle)
	writeJSON(w, 200, res)
}

func (s *Service) handleStreamStop(w http.ResponseWriter, _ *http.Request) {
	s.streamer.Stop()
	writeJSON(w, 200, map[string]string{"status": "stopped"})
}

func (s *Service) handleStreamStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.streamer.Status()
	writeJSON(w, 200, map[string]any{
		"state":          st.State,
		"endpoint_title": st.EndpointTitle,
		"clients":        s.hub.ClientCount(),
	})
}

func (s *Service) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.streamer.Snapshot(r.Context())
	if snap == nil {
		writeError(w, 404, errors.New("no chat panel captured"))
		return
	}
	snap.HTML = s.renderer.SanitizeHTML(snap.HTML)
	writeJSON(w, 200, snap)
}

func (s *Service) handleSnapshotMarkdown(w http.ResponseWriter, r *http.Request) {
	snap := s.streamer.Snapshot(r.Context())
	if snap == nil {
		writeError(w, 404, errors.New("no chat panel captured"))
		return
	}
	md, err := s.renderer.Markdown(snap.HTML)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(200)
	w.Write([]byte(md))
}

func (s *Service) handleMessagesList(w http.ResponseWriter, r *http.Request) {
	if s.msgs == nil {
		writeError(w, 503, errors.New("message log disabled"))
		return
	}
	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil {
			writeError(w, 400, fmt.Errorf("limit: %w", err))
			return
		}
		limit = n
	}
	msgs, err := s.msgs.List(r.Context(), limit)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, msgs)
}

func (s *Service) handleMessagesAppend(w http.ResponseWriter, r *http.Request) {
	if s.msgs == nil {
		writeError(w, 503, errors.New("message log disabled"))
		return
	}
	var req struct {
		Role string `json:"role"`
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, fmt.Errorf("decode body: %w", err))
		return
	}
	if req.Body == "" {
		writeError(w, 400, errors.New("body is required"))
		return
	}
	if req.Role == "" {
		req.Role = "user"
	}
	msg, err := s.msgs.Append(r.Context(), req.Role, req.Body)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 201, msg)
}

func (s *Service) handleQuota(w http.ResponseWriter, _ *http.Request) {
	usage, err := quota.Lookup(s.cfg.QuotaMarker)
	if errors.Is(err, quota.ErrUnsupported) {
		writeError(w, 501, err)
		return
	}
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, usage)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
