// Package settings persists the operator-editable connection and session
// fields between runs as a small YAML file.
package settings

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Settings struct {
	Endpoint          string   `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	APIKey            string   `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	DeploymentOrModel string   `yaml:"deployment_or_model,omitempty" json:"deployment_or_model,omitempty"`
	Azure             *bool    `yaml:"azure,omitempty" json:"azure,omitempty"`
	Instructions      string   `yaml:"instructions,omitempty" json:"instructions,omitempty"`
	Temperature       *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	Voice             string   `yaml:"voice,omitempty" json:"voice,omitempty"`
}

// Load reads settings from path. A missing file yields zero settings.
func Load(path string) (Settings, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("settings: open %q: %w", path, err)
	}
	defer f.Close()

	s, err := Decode(f)
	if err != nil {
		return Settings{}, fmt.Errorf("settings: parse %q: %w", path, err)
	}
	return s, nil
}

// Decode reads one YAML document, rejecting unknown keys. Empty input is
// valid and yields zero settings.
func Decode(r io.Reader) (Settings, error) {
	var s Settings
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return Settings{}, fmt.Errorf("decode yaml: %w", err)
	}
	s.Endpoint = strings.TrimSpace(s.Endpoint)
	s.APIKey = strings.TrimSpace(s.APIKey)
	s.DeploymentOrModel = strings.TrimSpace(s.DeploymentOrModel)
	return s, nil
}

// Save writes settings to path with owner-only permissions. The file is
// replaced atomically.
func Save(path string, s Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("settings: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("settings: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("settings: chmod: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("settings: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("settings: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("settings: rename: %w", err)
	}
	return nil
}

// Overlay returns base with every non-empty field of over applied on top.
func (base Settings) Overlay(over Settings) Settings {
	out := base
	if over.Endpoint != "" {
		out.Endpoint = over.Endpoint
	}
	if over.APIKey != "" {
		out.APIKey = over.APIKey
	}
	if over.DeploymentOrModel != "" {
		out.DeploymentOrModel = over.DeploymentOrModel
	}
	if over.Azure != nil {
		v := *over.Azure
		out.Azure = &v
	}
	if over.Instructions != "" {
		out.Instructions = over.Instructions
	}
	if over.Temperature != nil {
		v := *over.Temperature
		out.Temperature = &v
	}
	if over.Voice != "" {
		out.Voice = over.Voice
	}
	return out
}
