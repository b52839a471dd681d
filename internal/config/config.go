// Package config loads and persists the OpsAI configuration document.
//
// The document lives at ~/.opsai/config.json and is rewritten as a whole
// on every change. Missing files are replaced with defaults; a corrupt
// document is a fatal initialization error so a half-read config never
// drives a destructive run.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/haricheung/opsai/internal/types"
)

// LLMConfig holds the OpenAI-compatible endpoint settings.
type LLMConfig struct {
	BaseURL     string  `json:"base_url"`
	Model       string  `json:"model"`
	APIKey      string  `json:"api_key"`
	Timeout     int     `json:"timeout"` // seconds
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// SafetyConfig gates instruction execution by risk level.
type SafetyConfig struct {
	AutoApproveSafe         bool            `json:"auto_approve_safe"`
	CLIMaxRisk              types.RiskLevel `json:"cli_max_risk"`
	TUIMaxRisk              types.RiskLevel `json:"tui_max_risk"`
	RequireDryRunForHighRisk bool           `json:"require_dry_run_for_high_risk"`
}

// AuditConfig controls the append-only audit trail.
type AuditConfig struct {
	LogPath      string `json:"log_path"`
	MaxLogSizeMB int    `json:"max_log_size_mb"`
	RetainDays   int    `json:"retain_days"`
}

// HTTPConfig controls outbound HTTP fetches.
type HTTPConfig struct {
	Timeout     int    `json:"timeout"` // seconds
	GitHubToken string `json:"github_token,omitempty"`
}

// Config is the full configuration document.
type Config struct {
	LLM    LLMConfig    `json:"llm"`
	Safety SafetyConfig `json:"safety"`
	Audit  AuditConfig  `json:"audit"`
	HTTP   HTTPConfig   `json:"http"`
}

// BaseDir returns the OpsAI state directory, honoring OPSAI_HOME for tests.
func BaseDir() string {
	if dir := os.Getenv("OPSAI_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".opsai"
	}
	return filepath.Join(home, ".opsai")
}

// Default returns the configuration used when no document exists yet.
func Default(baseDir string) Config {
	return Config{
		LLM: LLMConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Timeout:     120,
			MaxTokens:   4096,
			Temperature: 0.1,
		},
		Safety: SafetyConfig{
			AutoApproveSafe:          true,
			CLIMaxRisk:               types.RiskSafe,
			TUIMaxRisk:               types.RiskHigh,
			RequireDryRunForHighRisk: false,
		},
		Audit: AuditConfig{
			LogPath:      filepath.Join(baseDir, "audit.log"),
			MaxLogSizeMB: 10,
			RetainDays:   30,
		},
		HTTP: HTTPConfig{Timeout: 30},
	}
}

// Manager owns the configuration document on disk.
type Manager struct {
	baseDir string
	path    string
	cfg     Config
}

// Load opens the config document under baseDir, creating it with defaults
// when absent.
//
// Expectations:
//   - Missing file: defaults are written to disk and returned
//   - Existing file: parsed document is returned with env API key overlay
//   - Corrupt file: an error is returned (fatal; never silently defaulted)
func Load(baseDir string) (*Manager, error) {
	if baseDir == "" {
		baseDir = BaseDir()
	}
	m := &Manager{
		baseDir: baseDir,
		path:    filepath.Join(baseDir, "config.json"),
	}

	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		m.cfg = Default(baseDir)
		if err := m.Save(); err != nil {
			return nil, err
		}
		m.overlayEnv()
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", m.path, err)
	}

	cfg := Default(baseDir)
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", m.path, err)
	}
	m.cfg = cfg
	m.overlayEnv()
	return m, nil
}

// overlayEnv fills the API key from the environment when the document
// leaves it blank. The document is never rewritten with the env value.
func (m *Manager) overlayEnv() {
	if m.cfg.LLM.APIKey == "" {
		m.cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if m.cfg.HTTP.GitHubToken == "" {
		m.cfg.HTTP.GitHubToken = os.Getenv("GITHUB_TOKEN")
	}
}

// Get returns the current configuration.
func (m *Manager) Get() Config { return m.cfg }

// BaseDir returns the state directory this manager was opened over.
func (m *Manager) Dir() string { return m.baseDir }

// SetLLM updates the LLM endpoint fields and persists the document.
// Empty arguments leave the corresponding field unchanged.
func (m *Manager) SetLLM(model, baseURL, apiKey string) error {
	if model != "" {
		m.cfg.LLM.Model = model
	}
	if baseURL != "" {
		m.cfg.LLM.BaseURL = baseURL
	}
	if apiKey != "" {
		m.cfg.LLM.APIKey = apiKey
	}
	return m.Save()
}

// Save rewrites the whole document.
func (m *Manager) Save() error {
	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return fmt.Errorf("config: create %s: %w", m.baseDir, err)
	}
	data, err := json.MarshalIndent(m.cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", m.path, err)
	}
	return nil
}
