package app

import (
	"strings"
	"sync"

	"github.com/ent0n29/rtvoice/internal/config"
	"github.com/ent0n29/rtvoice/internal/protocol"
	"github.com/ent0n29/rtvoice/internal/realtime"
	"github.com/ent0n29/rtvoice/internal/settings"
)

// Prefs holds the effective connection settings. Edits apply to the next
// session start and are persisted when a settings file is configured.
type Prefs struct {
	mu  sync.RWMutex
	cfg config.Config
}

func NewPrefs(cfg config.Config) *Prefs {
	return &Prefs{cfg: cfg}
}

func (p *Prefs) Current() settings.Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.Settings()
}

func (p *Prefs) Update(s settings.Settings) (settings.Settings, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := p.cfg
	next.ApplySettings(s)
	if s.Endpoint != "" && s.Azure == nil {
		next.RealtimeAzure = realtime.GuessAzure(next.RealtimeEndpoint)
	}
	if path := strings.TrimSpace(next.SettingsFile); path != "" {
		if err := settings.Save(path, next.Settings()); err != nil {
			return settings.Settings{}, err
		}
	}
	p.cfg = next
	return next.Settings(), nil
}

func (p *Prefs) Realtime() realtime.Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.Realtime()
}

// Session returns the session.update knobs for the next start.
func (p *Prefs) Session() protocol.SessionSettings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	temp := p.cfg.RealtimeTemperature
	return protocol.SessionSettings{
		Instructions:       p.cfg.RealtimeInstructions,
		Temperature:        &temp,
		Voice:              p.cfg.RealtimeVoice,
		TranscriptionModel: p.cfg.RealtimeTranscriptionModel,
	}
}
