package httpapi

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

type onboardingCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type onboardingStatusResponse struct {
	Provider      string            `json:"provider"`
	ClipStoreMode string            `json:"clip_store_mode"`
	Ready         bool              `json:"ready"`
	Checks        []onboardingCheck `json:"checks"`
}

func (s *Server) handleOnboardingStatus(w http.ResponseWriter, _ *http.Request) {
	cfg := s.cfg
	if s.prefs != nil {
		cfg.ApplySettings(s.prefs.Current())
	}

	provider := "openai"
	if cfg.RealtimeAzure {
		provider = "azure"
	}

	checks := make([]onboardingCheck, 0, 6)
	rt := cfg.Realtime()
	if err := rt.Validate(); err != nil {
		checks = append(checks, onboardingCheck{
			ID:     "realtime_credentials",
			Status: "error",
			Label:  "Realtime connection",
			Detail: err.Error(),
			Fix:    "Set the endpoint, API key and deployment via PUT /v1/settings or REALTIME_* env.",
		})
	} else {
		target, _ := rt.URL()
		checks = append(checks, onboardingCheck{
			ID:     "realtime_credentials",
			Status: "ok",
			Label:  "Realtime connection",
			Detail: fmt.Sprintf("%s (key %s)", stripQuery(target), maskedKey(rt.APIKey)),
		})
	}

	checks = append(checks, captureCheck(cfg.CaptureSource))
	checks = append(checks, playbackCheck(cfg.PlaybackSink))

	mode := s.clipStoreMode()
	switch mode {
	case "postgres", "sqlite":
		checks = append(checks, onboardingCheck{
			ID:     "clip_store",
			Status: "ok",
			Label:  "Clip persistence",
			Detail: mode,
		})
	default:
		checks = append(checks, onboardingCheck{
			ID:     "clip_store",
			Status: "warn",
			Label:  "Clip persistence",
			Detail: mode,
			Fix:    "Set DATABASE_URL (postgres:// or sqlite:path) to keep clips across restarts.",
		})
	}

	if strings.TrimSpace(cfg.SettingsFile) == "" {
		checks = append(checks, onboardingCheck{
			ID:     "settings_file",
			Status: "warn",
			Label:  "Settings file",
			Detail: "not configured",
			Fix:    "Set APP_SETTINGS_FILE so settings edits survive restarts.",
		})
	} else {
		checks = append(checks, onboardingCheck{
			ID:     "settings_file",
			Status: "ok",
			Label:  "Settings file",
			Detail: cfg.SettingsFile,
		})
	}

	ready := true
	for _, c := range checks {
		if c.Status == "error" {
			ready = false
			break
		}
	}

	respondJSON(w, http.StatusOK, onboardingStatusResponse{
		Provider:      provider,
		ClipStoreMode: mode,
		Ready:         ready,
		Checks:        checks,
	})
}

func captureCheck(source string) onboardingCheck {
	source = strings.TrimSpace(source)
	check := onboardingCheck{ID: "capture_source", Label: "Microphone source"}
	switch source {
	case "":
		check.Status = "error"
		check.Detail = "not configured"
		check.Fix = "Set CAPTURE_SOURCE to a PCM16 file or - for stdin."
	case "-":
		check.Status = "ok"
		check.Detail = "stdin"
	default:
		info, err := os.Stat(source)
		switch {
		case err != nil:
			check.Status = "error"
			check.Detail = err.Error()
			check.Fix = "Point CAPTURE_SOURCE at an existing file or FIFO."
		case info.IsDir():
			check.Status = "error"
			check.Detail = source + " is a directory"
		default:
			check.Status = "ok"
			check.Detail = source
		}
	}
	return check
}

func playbackCheck(sink string) onboardingCheck {
	sink = strings.TrimSpace(sink)
	check := onboardingCheck{ID: "playback_sink", Label: "Speaker sink"}
	if sink == "" {
		check.Status = "warn"
		check.Detail = "discarding playback"
		check.Fix = "Set PLAYBACK_SINK to a file or FIFO to hear responses."
		return check
	}
	dir := filepath.Dir(sink)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		check.Status = "error"
		check.Detail = fmt.Sprintf("directory %s is not available", dir)
		return check
	}
	check.Status = "ok"
	check.Detail = sink
	return check
}

func stripQuery(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}
