package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"hyperstream/internal/domain"
	"hyperstream/internal/session"
	"hyperstream/internal/transcode"
	"hyperstream/internal/usecase"
)

const (
	maxInitBodyBytes   = 64 << 10
	maxUploadBodyBytes = 12 << 20
)

type InitStreamUseCase interface {
	Execute(ctx context.Context, req usecase.InitRequest) (usecase.InitResult, error)
	ExecuteUpload(ctx context.Context, filename string, r io.Reader) (usecase.InitResult, error)
}

type ListMediaUseCase interface {
	Execute(ctx context.Context) ([]domain.MediaItem, error)
}

type Server struct {
	registry       *session.Registry
	init           InitStreamUseCase
	stream         usecase.StreamMedia
	remove         usecase.RemoveStream
	media          ListMediaUseCase
	openTranscode  openTranscodeFunc
	allowedOrigins []string
	rateRPS        float64
	rateBurst      int
	logger         *slog.Logger
	handler        http.Handler
	wsHub          *wsHub
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithInitStream(uc InitStreamUseCase) ServerOption {
	return func(s *Server) {
		s.init = uc
	}
}

func WithStreamMedia(uc usecase.StreamMedia) ServerOption {
	return func(s *Server) {
		s.stream = uc
	}
}

func WithListMedia(uc ListMediaUseCase) ServerOption {
	return func(s *Server) {
		s.media = uc
	}
}

// WithPipeline enables live transcoding for containers browsers cannot play.
func WithPipeline(p *transcode.Pipeline) ServerOption {
	return func(s *Server) {
		if p != nil {
			s.openTranscode = pipelineOpener(p)
		}
	}
}

// WithAllowedOrigins configures the CORS whitelist. When empty, any origin
// is permitted.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithRateLimit sets the global request budget. A non-positive rps disables
// limiting.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateRPS = rps
		s.rateBurst = burst
	}
}

func NewServer(registry *session.Registry, opts ...ServerOption) *Server {
	if registry == nil {
		registry = session.NewRegistry()
	}
	s := &Server{
		registry:  registry,
		rateRPS:   100,
		rateBurst: 200,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.stream.Registry == nil {
		s.stream.Registry = registry
	}
	if s.stream.Logger == nil {
		s.stream.Logger = s.logger
	}
	s.remove = usecase.RemoveStream{Registry: registry, Logger: s.logger}

	s.wsHub = newWSHub(s.logger)
	go s.wsHub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/stream/init", s.handleInit)
	mux.HandleFunc("/stream/init/torrent", s.handleInitUpload)
	mux.HandleFunc("/stream/sessions", s.handleSessions)
	mux.HandleFunc("/stream/movies/list", s.handleMovies)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "hyperstream",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/healthz" && p != "/ws"
		}),
	)
	s.handler = recoveryMiddleware(s.logger,
		requestIDMiddleware(
			rateLimitMiddleware(s.rateRPS, s.rateBurst,
				metricsMiddleware(corsMiddleware(s.allowedOrigins, traced)))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close disconnects all WebSocket clients.
func (s *Server) Close() {
	if s.wsHub != nil {
		s.wsHub.Close()
	}
}

// BroadcastSessions pushes the current session snapshots to WebSocket
// clients.
func (s *Server) BroadcastSessions() {
	if s.wsHub == nil {
		return
	}
	s.wsHub.Broadcast("sessions", s.registry.Snapshots())
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("streamId"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_identifier", "streamId is required")
		return
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.serveStream(w, r, id)
	case http.MethodDelete:
		if err := s.remove.Execute(id); err != nil {
			writeStreamError(w, err)
			return
		}
		s.BroadcastSessions()
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, "GET, HEAD, DELETE")
	}
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	if s.init == nil {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "stream init is not configured")
		return
	}
	req, err := decodeInitRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_identifier", err.Error())
		return
	}
	result, err := s.init.Execute(r.Context(), req)
	if err != nil {
		writeStreamError(w, err)
		return
	}
	s.writeInitResult(w, result)
}

func (s *Server) handleInitUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	if s.init == nil {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "stream init is not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodyBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_identifier", "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	result, err := s.init.ExecuteUpload(r.Context(), header.Filename, file)
	if err != nil {
		writeStreamError(w, err)
		return
	}
	s.writeInitResult(w, result)
}

func (s *Server) writeInitResult(w http.ResponseWriter, result usecase.InitResult) {
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
		s.BroadcastSessions()
	}
	writeJSON(w, status, result)
}

// decodeInitRequest accepts a JSON body, a form body or query parameters.
func decodeInitRequest(r *http.Request) (usecase.InitRequest, error) {
	var req usecase.InitRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		body := io.LimitReader(r.Body, maxInitBodyBytes)
		if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return req, fmt.Errorf("invalid json body: %w", err)
		}
	} else if err := r.ParseForm(); err != nil {
		return req, fmt.Errorf("invalid form body: %w", err)
	}

	fill := func(dst *string, key string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = r.FormValue(key)
		}
	}
	fill(&req.TorrentURL, "torrentUrl")
	fill(&req.ContentHash, "contentHash")
	fill(&req.DisplayName, "displayName")
	fill(&req.LocalPath, "localPath")
	return req, nil
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": s.registry.Snapshots()})
}

func (s *Server) handleMovies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	items := []domain.MediaItem{}
	if s.media != nil {
		listed, err := s.media.Execute(r.Context())
		if err != nil {
			s.logger.Error("media list failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal_error", "media listing failed")
			return
		}
		if listed != nil {
			items = listed
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": s.registry.Len(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:  s.wsHub,
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
	}
	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
	s.BroadcastSessions()
}
