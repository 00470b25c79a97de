package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/rtvoice/internal/clips"
	"github.com/ent0n29/rtvoice/internal/config"
	"github.com/ent0n29/rtvoice/internal/conversation"
	"github.com/ent0n29/rtvoice/internal/observability"
	"github.com/ent0n29/rtvoice/internal/policy"
	"github.com/ent0n29/rtvoice/internal/realtime"
	"github.com/ent0n29/rtvoice/internal/session"
	"github.com/ent0n29/rtvoice/internal/settings"
)

// Conversation is the runner surface driven over HTTP.
type Conversation interface {
	Start(ctx context.Context, stream io.Reader) error
	Stop(ctx context.Context) error
	CommitAudio(ctx context.Context) error
	SendText(ctx context.Context, text string) error
	Status() conversation.Status
}

// CaptureOpener opens the microphone stream for a new session.
type CaptureOpener func() (io.Reader, error)

// SettingsStore holds the operator-editable settings used by the next start.
type SettingsStore interface {
	Current() settings.Settings
	Update(s settings.Settings) (settings.Settings, error)
}

type Server struct {
	cfg         config.Config
	conv        Conversation
	clips       clips.Store
	metrics     *observability.Metrics
	openCapture CaptureOpener
	prefs       SettingsStore
	upgrader    websocket.Upgrader
}

func New(cfg config.Config, conv Conversation, store clips.Store, metrics *observability.Metrics, openCapture CaptureOpener, prefs SettingsStore) *Server {
	return &Server{
		cfg:         cfg,
		conv:        conv,
		clips:       store,
		metrics:     metrics,
		openCapture: openCapture,
		prefs:       prefs,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may watch the session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/onboarding/status", s.handleOnboardingStatus)

	r.Get("/v1/session", s.handleSessionStatus)
	r.Get("/v1/session/ws", s.handleSessionWS)
	r.Post("/v1/session/start", s.handleStart)
	r.Post("/v1/session/stop", s.handleStop)
	r.Post("/v1/session/commit", s.handleCommit)
	r.Post("/v1/session/text", s.handleText)

	r.Get("/v1/clips", s.handleListClips)
	r.Get("/v1/clips/{id}", s.handleGetClip)
	r.Get("/v1/clips/{id}/audio", s.handleClipAudio)

	r.Get("/v1/settings", s.handleGetSettings)
	r.Put("/v1/settings", s.handlePutSettings)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"clip_store": s.clipStoreMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"clip_store": s.clipStoreMode(),
		"state":      s.conv.Status().State,
	})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.Latency.Snapshot())
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.conv.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if s.openCapture == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "capture source not configured")
		return
	}
	stream, err := s.openCapture()
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "capture_unavailable", err.Error())
		return
	}
	if err := s.conv.Start(r.Context(), stream); err != nil {
		if c, ok := stream.(io.Closer); ok {
			_ = c.Close()
		}
		status, code := startErrorStatus(err)
		respondError(w, status, code, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, s.conv.Status())
}

func startErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, conversation.ErrAlreadyRunning), errors.Is(err, session.ErrTransitionInProgress):
		return http.StatusConflict, "already_running"
	case errors.Is(err, realtime.ErrMissingKey), errors.Is(err, realtime.ErrMissingTarget), errors.Is(err, realtime.ErrMissingHost):
		return http.StatusBadRequest, "invalid_settings"
	case errors.Is(err, conversation.ErrConnection):
		return http.StatusBadGateway, "connection_error"
	case errors.Is(err, session.ErrDeviceAcquisition):
		return http.StatusServiceUnavailable, "device_unavailable"
	default:
		return http.StatusInternalServerError, "start_failed"
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := s.conv.Stop(ctx); err != nil {
		if errors.Is(err, conversation.ErrNotRunning) {
			respondError(w, http.StatusConflict, "not_running", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "stop_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.conv.Status())
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	if err := s.conv.CommitAudio(r.Context()); err != nil {
		respondConversationError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"status": "committed"})
}

type textRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}
	if err := s.conv.SendText(r.Context(), req.Text); err != nil {
		respondConversationError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"status": "sent"})
}

func respondConversationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrNotRunning):
		respondError(w, http.StatusConflict, "not_running", err.Error())
	case errors.Is(err, session.ErrTransportSend):
		respondError(w, http.StatusBadGateway, "transport_error", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// handleSessionWS pushes the session status whenever it changes.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reads only service control frames and notice disconnects.
	go func() {
		defer cancel()
		conn.SetReadLimit(4096)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	var last []byte
	for {
		payload, err := json.Marshal(s.conv.Status())
		if err == nil && string(payload) != string(last) {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
			last = payload
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleListClips(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	items, err := s.clips.List(r.Context(), strings.TrimSpace(r.URL.Query().Get("session_id")), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "clip_list_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"clips": items})
}

func (s *Server) handleGetClip(w http.ResponseWriter, r *http.Request) {
	clip, ok := s.lookupClip(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, clip)
}

func (s *Server) handleClipAudio(w http.ResponseWriter, r *http.Request) {
	clip, ok := s.lookupClip(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(clip.WAV)))
	w.Header().Set("Content-Disposition", `attachment; filename="`+string(clip.Role)+"-"+clip.ID+`.wav"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(clip.WAV)
}

func (s *Server) lookupClip(w http.ResponseWriter, r *http.Request) (clips.Clip, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_clip_id", "missing clip id")
		return clips.Clip{}, false
	}
	clip, err := s.clips.Get(r.Context(), id)
	if errors.Is(err, clips.ErrNotFound) {
		respondError(w, http.StatusNotFound, "clip_not_found", err.Error())
		return clips.Clip{}, false
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "clip_lookup_failed", err.Error())
		return clips.Clip{}, false
	}
	return clip, true
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	if s.prefs == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "settings not configured")
		return
	}
	respondJSON(w, http.StatusOK, maskSettings(s.prefs.Current()))
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	if s.prefs == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "settings not configured")
		return
	}
	var req settings.Settings
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		respondError(w, http.StatusBadRequest, "invalid_request", "temperature must be within [0, 2]")
		return
	}
	// Echoing the masked key back keeps the stored one.
	if req.APIKey != "" && req.APIKey == maskedKey(s.prefs.Current().APIKey) {
		req.APIKey = ""
	}
	updated, err := s.prefs.Update(req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "settings_save_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, maskSettings(updated))
}

func maskSettings(in settings.Settings) settings.Settings {
	in.APIKey = maskedKey(in.APIKey)
	return in
}

func maskedKey(key string) string {
	if key == "" {
		return ""
	}
	return policy.MaskKey(key)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func (s *Server) clipStoreMode() string {
	switch s.clips.(type) {
	case *clips.InMemoryStore:
		return "in-memory"
	case *clips.SQLiteStore:
		return "sqlite"
	case *clips.PostgresStore:
		return "postgres"
	case nil:
		return "disabled"
	default:
		return "custom"
	}
}
