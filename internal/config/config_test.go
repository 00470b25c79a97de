package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9090" || cfg.MetricsNamespace != "rtvoice" {
		t.Fatalf("unexpected core defaults: %+v", cfg)
	}
	if cfg.RealtimeTemperature != 0.6 || cfg.RealtimeVoice != "alloy" {
		t.Fatalf("temperature/voice = %v/%q, want 0.6/alloy", cfg.RealtimeTemperature, cfg.RealtimeVoice)
	}
	if cfg.RealtimeAPIVersion != "2024-10-01-preview" || cfg.RealtimeHandshakeTimeout != 10*time.Second {
		t.Fatalf("unexpected realtime defaults: %+v", cfg)
	}
	if cfg.CaptureSource != "-" || cfg.CaptureReadSize != 2048 || cfg.PlaybackQueue != 256 {
		t.Fatalf("unexpected device defaults: %+v", cfg)
	}
	if cfg.RealtimeAzure {
		t.Fatalf("RealtimeAzure = true without an azure endpoint")
	}
	if !cfg.RedactTranscripts || cfg.TranscriptLimit != 500 {
		t.Fatalf("redact/limit = %v/%d, want true/500", cfg.RedactTranscripts, cfg.TranscriptLimit)
	}
	if cfg.RealtimeTranscriptionModel != "whisper-1" {
		t.Fatalf("RealtimeTranscriptionModel = %q, want whisper-1", cfg.RealtimeTranscriptionModel)
	}
}

func TestLoadTranscriptionModel(t *testing.T) {
	for _, tc := range []struct {
		env  string
		want string
	}{
		{env: "gpt-4o-transcribe", want: "gpt-4o-transcribe"},
		{env: "none", want: ""},
		{env: "OFF", want: ""},
	} {
		setCoreEnvEmpty(t)
		t.Setenv("REALTIME_TRANSCRIPTION_MODEL", tc.env)
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.RealtimeTranscriptionModel != tc.want {
			t.Fatalf("REALTIME_TRANSCRIPTION_MODEL=%q: got %q, want %q", tc.env, cfg.RealtimeTranscriptionModel, tc.want)
		}
	}
}

func TestLoadGuessesAzureFromEndpoint(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("REALTIME_ENDPOINT", "https://res.openai.azure.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.RealtimeAzure {
		t.Fatalf("RealtimeAzure = false, want guessed true")
	}

	t.Setenv("REALTIME_AZURE", "false")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RealtimeAzure {
		t.Fatalf("explicit REALTIME_AZURE=false ignored")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"REALTIME_TEMPERATURE":       "hot",
		"CAPTURE_READ_SIZE":          "0",
		"PLAYBACK_QUEUE":             "-1",
		"REALTIME_HANDSHAKE_TIMEOUT": "soon",
		"APP_ALLOW_ANY_ORIGIN":       "maybe",
		"TRANSCRIPT_LIMIT":           "-5",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q should fail", key, value)
			}
		})
	}
}

func TestLoadOverlaysSettingsFile(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "settings.yaml")
	body := "endpoint: https://res.openai.azure.com\napi_key: file-key\ndeployment_or_model: rt\nvoice: echo\ntemperature: 0.9\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("APP_SETTINGS_FILE", path)
	t.Setenv("REALTIME_API_KEY", "env-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RealtimeAPIKey != "file-key" || cfg.RealtimeDeployment != "rt" || cfg.RealtimeVoice != "echo" {
		t.Fatalf("settings not applied: %+v", cfg)
	}
	if cfg.RealtimeTemperature != 0.9 || !cfg.RealtimeAzure {
		t.Fatalf("temperature=%v azure=%v", cfg.RealtimeTemperature, cfg.RealtimeAzure)
	}

	rt := cfg.Realtime()
	if err := rt.Validate(); err != nil {
		t.Fatalf("Realtime().Validate() error = %v", err)
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_SETTINGS_FILE",
		"APP_ALLOW_ANY_ORIGIN",
		"REALTIME_ENDPOINT",
		"REALTIME_API_KEY",
		"REALTIME_DEPLOYMENT",
		"REALTIME_AZURE",
		"REALTIME_API_VERSION",
		"REALTIME_INSTRUCTIONS",
		"REALTIME_TEMPERATURE",
		"REALTIME_VOICE",
		"REALTIME_TRANSCRIPTION_MODEL",
		"REALTIME_HANDSHAKE_TIMEOUT",
		"CAPTURE_SOURCE",
		"CAPTURE_READ_SIZE",
		"PLAYBACK_SINK",
		"PLAYBACK_QUEUE",
		"DATABASE_URL",
		"CLIP_REDACT_TRANSCRIPTS",
		"TRANSCRIPT_LIMIT",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
