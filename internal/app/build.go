package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/ent0n29/rtvoice/internal/clips"
	"github.com/ent0n29/rtvoice/internal/config"
	"github.com/ent0n29/rtvoice/internal/conversation"
	"github.com/ent0n29/rtvoice/internal/device"
	"github.com/ent0n29/rtvoice/internal/httpapi"
	"github.com/ent0n29/rtvoice/internal/observability"
	"github.com/ent0n29/rtvoice/internal/protocol"
	"github.com/ent0n29/rtvoice/internal/realtime"
)

type BuildResult struct {
	Config  config.Config
	API     *httpapi.Server
	Runner  *conversation.Runner
	Clips   clips.Store
	Prefs   *Prefs
	Metrics *observability.Metrics

	// Cleanup should be called on shutdown to release external resources (DB, playback sink).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	logger := log.Default()

	store, err := clips.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("clip store init failed: %w", err)
	}

	sink, err := openPlaybackSink(cfg.PlaybackSink)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("playback sink init failed: %w", err)
	}

	prefs := NewPrefs(cfg)
	devices := device.NewStreamFactory(device.StreamConfig{
		ReadSize:  cfg.CaptureReadSize,
		QueueSize: cfg.PlaybackQueue,
		Output:    sink,
		Logger:    logger,
		OnDrop:    metrics.PlaybackDropped.Inc,
	})

	runner := conversation.NewRunner(conversation.Config{
		Dial:              realtimeDialer(prefs, metrics, logger),
		Devices:           devices,
		Session:           prefs.Session,
		Store:             store,
		Metrics:           metrics,
		Logger:            logger,
		TranscriptLimit:   cfg.TranscriptLimit,
		RedactTranscripts: cfg.RedactTranscripts,
	})

	api := httpapi.New(cfg, runner, store, metrics, CaptureOpener(cfg.CaptureSource), prefs)

	cleanup := func() error {
		var errs []string
		if runner.Running() {
			if err := runner.Stop(context.Background()); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if c, ok := sink.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:  cfg,
		API:     api,
		Runner:  runner,
		Clips:   store,
		Prefs:   prefs,
		Metrics: metrics,
		Cleanup: cleanup,
	}, nil
}

func realtimeDialer(prefs *Prefs, metrics *observability.Metrics, logger *log.Logger) conversation.Dialer {
	return func(ctx context.Context) (conversation.Client, error) {
		rt := prefs.Realtime()
		if err := rt.Validate(); err != nil {
			return nil, err
		}
		rt.Logger = logger
		rt.OnMessage = func(direction string, t protocol.MessageType) {
			metrics.ObserveMessage(direction, string(t))
		}
		client, err := realtime.Dial(ctx, rt)
		if err != nil {
			metrics.TransportErrors.WithLabelValues("dial").Inc()
			return nil, err
		}
		return client, nil
	}
}

// CaptureOpener returns an opener for the configured capture source: "-"
// subscribes to the shared stdin reader, anything else is opened as a file or
// FIFO per session.
func CaptureOpener(source string) httpapi.CaptureOpener {
	return captureOpener(source, processStdin)
}

func captureOpener(source string, stdin *sharedReader) httpapi.CaptureOpener {
	source = strings.TrimSpace(source)
	return func() (io.Reader, error) {
		switch source {
		case "":
			return nil, fmt.Errorf("capture source not configured")
		case "-":
			return stdin.Subscribe(), nil
		default:
			f, err := os.Open(source)
			if err != nil {
				return nil, err
			}
			return f, nil
		}
	}
}

func openPlaybackSink(path string) (io.Writer, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
}
