package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ent0n29/rtvoice/internal/realtime"
	"github.com/ent0n29/rtvoice/internal/settings"
)

// Config contains all runtime settings for the voice pipeline service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	SettingsFile     string
	AllowAnyOrigin   bool

	RealtimeEndpoint         string
	RealtimeAPIKey           string
	RealtimeDeployment       string
	RealtimeAzure            bool
	RealtimeAPIVersion       string
	RealtimeInstructions     string
	RealtimeTemperature      float64
	RealtimeVoice            string
	RealtimeHandshakeTimeout time.Duration

	// RealtimeTranscriptionModel transcribes user speech; empty turns input
	// transcription off.
	RealtimeTranscriptionModel string

	// CaptureSource is "-" for stdin or a path to raw PCM16LE mono audio.
	CaptureSource   string
	CaptureReadSize int
	// PlaybackSink is a path receiving played PCM16LE; empty discards.
	PlaybackSink  string
	PlaybackQueue int

	DatabaseURL       string
	RedactTranscripts bool
	TranscriptLimit   int
}

// Load reads environment variables, applies safe defaults and overlays the
// settings file when one is configured.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "rtvoice"),
		SettingsFile:             stringsTrimSpace("APP_SETTINGS_FILE"),
		AllowAnyOrigin:           false,
		RealtimeEndpoint:         stringsTrimSpace("REALTIME_ENDPOINT"),
		RealtimeAPIKey:           stringsTrimSpace("REALTIME_API_KEY"),
		RealtimeDeployment:       stringsTrimSpace("REALTIME_DEPLOYMENT"),
		RealtimeAPIVersion:       envOrDefault("REALTIME_API_VERSION", realtime.DefaultAPIVersion),
		RealtimeInstructions:     os.Getenv("REALTIME_INSTRUCTIONS"),
		RealtimeTemperature:      0.6,
		RealtimeVoice:            envOrDefault("REALTIME_VOICE", "alloy"),
		RealtimeHandshakeTimeout: realtime.DefaultHandshakeTimeout,
		CaptureSource:            envOrDefault("CAPTURE_SOURCE", "-"),
		CaptureReadSize:          2048,
		PlaybackSink:             stringsTrimSpace("PLAYBACK_SINK"),
		PlaybackQueue:            256,
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		RedactTranscripts:        true,
		TranscriptLimit:          500,
		ShutdownTimeout:          15 * time.Second,
	}
	cfg.RealtimeTranscriptionModel = transcriptionModelFromEnv("REALTIME_TRANSCRIPTION_MODEL", "whisper-1")
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RealtimeHandshakeTimeout, err = durationFromEnv("REALTIME_HANDSHAKE_TIMEOUT", cfg.RealtimeHandshakeTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RealtimeTemperature, err = floatFromEnv("REALTIME_TEMPERATURE", cfg.RealtimeTemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.CaptureReadSize, err = intFromEnv("CAPTURE_READ_SIZE", cfg.CaptureReadSize)
	if err != nil {
		return Config{}, err
	}
	cfg.PlaybackQueue, err = intFromEnv("PLAYBACK_QUEUE", cfg.PlaybackQueue)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.RedactTranscripts, err = boolFromEnv("CLIP_REDACT_TRANSCRIPTS", cfg.RedactTranscripts)
	if err != nil {
		return Config{}, err
	}
	cfg.TranscriptLimit, err = intFromEnv("TRANSCRIPT_LIMIT", cfg.TranscriptLimit)
	if err != nil {
		return Config{}, err
	}

	// REALTIME_AZURE wins; otherwise the settings file, then a guess from the endpoint.
	azureSet := stringsTrimSpace("REALTIME_AZURE") != ""
	cfg.RealtimeAzure, err = boolFromEnv("REALTIME_AZURE", false)
	if err != nil {
		return Config{}, err
	}

	if cfg.SettingsFile != "" {
		s, err := settings.Load(cfg.SettingsFile)
		if err != nil {
			return Config{}, err
		}
		if azureSet {
			s.Azure = nil
		}
		cfg.ApplySettings(s)
		azureSet = azureSet || s.Azure != nil
	}
	if !azureSet {
		cfg.RealtimeAzure = realtime.GuessAzure(cfg.RealtimeEndpoint)
	}

	if cfg.ShutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	if cfg.RealtimeHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("REALTIME_HANDSHAKE_TIMEOUT must be positive")
	}
	if cfg.RealtimeTemperature < 0 || cfg.RealtimeTemperature > 2 {
		return Config{}, fmt.Errorf("REALTIME_TEMPERATURE must be within [0, 2]")
	}
	if cfg.CaptureReadSize <= 0 {
		return Config{}, fmt.Errorf("CAPTURE_READ_SIZE must be positive")
	}
	if cfg.PlaybackQueue <= 0 {
		return Config{}, fmt.Errorf("PLAYBACK_QUEUE must be positive")
	}
	if cfg.TranscriptLimit < 0 {
		return Config{}, fmt.Errorf("TRANSCRIPT_LIMIT must not be negative")
	}

	return cfg, nil
}

// Settings returns the operator-editable subset of the configuration.
func (c Config) Settings() settings.Settings {
	azure := c.RealtimeAzure
	temp := c.RealtimeTemperature
	return settings.Settings{
		Endpoint:          c.RealtimeEndpoint,
		APIKey:            c.RealtimeAPIKey,
		DeploymentOrModel: c.RealtimeDeployment,
		Azure:             &azure,
		Instructions:      c.RealtimeInstructions,
		Temperature:       &temp,
		Voice:             c.RealtimeVoice,
	}
}

// ApplySettings overlays the non-empty fields of s.
func (c *Config) ApplySettings(s settings.Settings) {
	merged := c.Settings().Overlay(s)
	c.RealtimeEndpoint = merged.Endpoint
	c.RealtimeAPIKey = merged.APIKey
	c.RealtimeDeployment = merged.DeploymentOrModel
	c.RealtimeAzure = *merged.Azure
	c.RealtimeInstructions = merged.Instructions
	c.RealtimeTemperature = *merged.Temperature
	c.RealtimeVoice = merged.Voice
}

// Realtime returns the connection settings for the realtime client.
func (c Config) Realtime() realtime.Config {
	return realtime.Config{
		Endpoint:          c.RealtimeEndpoint,
		APIKey:            c.RealtimeAPIKey,
		DeploymentOrModel: c.RealtimeDeployment,
		Azure:             c.RealtimeAzure,
		APIVersion:        c.RealtimeAPIVersion,
		HandshakeTimeout:  c.RealtimeHandshakeTimeout,
	}
}

// transcriptionModelFromEnv accepts "none" or "off" to disable transcription.
func transcriptionModelFromEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	switch strings.ToLower(v) {
	case "":
		return fallback
	case "none", "off":
		return ""
	}
	return v
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}
