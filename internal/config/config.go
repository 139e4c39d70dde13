// Package config loads and validates tournament configuration.
//
// The tournament file is YAML. Models and events are declared as
// mappings but their declaration order is significant (config order is
// seed order), so decoding goes through yaml.Node to preserve it.
// Secrets never live in the file: API keys and the external-store URI
// come from environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MongoURIEnv names the environment variable that supplies the optional
// external-store connection URI. Absent means the sink is disabled.
const MongoURIEnv = "LLMTOURNEY_MONGO_URI"

// Format tags for the tournament orchestrator.
const (
	FormatBracket = "bracket"
	FormatLeague  = "league"
)

// Tournament identifies one tournament run.
type Tournament struct {
	Name    string `yaml:"name" validate:"required"`
	Seed    int64  `yaml:"seed"`
	Version string `yaml:"version" validate:"required"`
	Format  string `yaml:"format" validate:"required,oneof=bracket league"`
}

// ComputeCaps are the default per-request limits, overridable per model.
type ComputeCaps struct {
	MaxOutputTokens int     `yaml:"max_output_tokens" validate:"gt=0"`
	TimeoutS        float64 `yaml:"timeout_s" validate:"gt=0"`
}

// Model configures one competitor and its adapter.
type Model struct {
	Name            string  `yaml:"-"`
	Provider        string  `yaml:"provider" validate:"required,oneof=mock anthropic openai openrouter"`
	ModelID         string  `yaml:"model_id"`
	Strategy        string  `yaml:"strategy"`
	APIKeyEnv       string  `yaml:"api_key_env"`
	BaseURL         string  `yaml:"base_url"`
	SiteURL         string  `yaml:"site_url"`
	AppName         string  `yaml:"app_name"`
	Temperature     float32 `yaml:"temperature"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
	TimeoutS        float64 `yaml:"timeout_s"`
}

// Timeout returns the per-request timeout as a duration.
func (m Model) Timeout() time.Duration {
	return time.Duration(m.TimeoutS * float64(time.Second))
}

// Event configures one game event.
type Event struct {
	Name          string `yaml:"-"`
	Weight        int    `yaml:"weight" validate:"gt=0"`
	HandsPerMatch int    `yaml:"hands_per_match"`
	StartingStack int    `yaml:"starting_stack"`
	Blinds        [2]int `yaml:"blinds"`
	Rounds        int    `yaml:"rounds"`
	GamesPerMatch int    `yaml:"games_per_match"`
	Mode          string `yaml:"mode"`
	Multiplayer   bool   `yaml:"multiplayer"`
}

// ShotClock bounds per-turn wall time, with per-model overrides.
type ShotClock struct {
	DefaultMS      int            `yaml:"default_ms" validate:"gt=0"`
	ModelOverrides map[string]int `yaml:"model_overrides"`
}

// LimitFor returns the shot-clock limit for a model.
func (s *ShotClock) LimitFor(model string) time.Duration {
	if ms, ok := s.ModelOverrides[model]; ok {
		return time.Duration(ms) * time.Millisecond
	}
	return time.Duration(s.DefaultMS) * time.Millisecond
}

// ForfeitEscalation configures the referee's strike thresholds.
type ForfeitEscalation struct {
	TurnForfeitThreshold  int      `yaml:"turn_forfeit_threshold"`
	MatchForfeitThreshold int      `yaml:"match_forfeit_threshold"`
	StrikeViolations      []string `yaml:"strike_violations"`
	MatchForfeitScaling   bool     `yaml:"match_forfeit_scaling"`
}

// Config is the immutable result of loading a tournament file.
type Config struct {
	Tournament        Tournament
	ComputeCaps       ComputeCaps
	Models            []Model // declaration order = seed order
	Events            []Event // declaration order preserved
	ShotClock         *ShotClock
	ForfeitEscalation *ForfeitEscalation
	OutputDir         string // set by the CLI, not the file
}

// ModelNames returns model names in seed order.
func (c *Config) ModelNames() []string {
	names := make([]string, len(c.Models))
	for i, m := range c.Models {
		names[i] = m.Name
	}
	return names
}

// ModelByName returns the named model config.
func (c *Config) ModelByName(name string) (Model, bool) {
	for _, m := range c.Models {
		if m.Name == name {
			return m, true
		}
	}
	return Model{}, false
}

// EventByName returns the named event config.
func (c *Config) EventByName(name string) (Event, bool) {
	for _, e := range c.Events {
		if e.Name == name {
			return e, true
		}
	}
	return Event{}, false
}

// rawConfig mirrors the file layout; models/events stay as yaml.Node so
// mapping order survives decoding.
type rawConfig struct {
	Tournament        Tournament         `yaml:"tournament"`
	ComputeCaps       ComputeCaps        `yaml:"compute_caps"`
	Models            yaml.Node          `yaml:"models"`
	Events            yaml.Node          `yaml:"events"`
	ShotClock         *ShotClock         `yaml:"shot_clock"`
	ForfeitEscalation *ForfeitEscalation `yaml:"forfeit_escalation"`
}

// Load reads, decodes, defaults and validates a tournament config file.
// Any problem is fatal: the error propagates to the CLI exit code.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a config document from bytes.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg := &Config{
		Tournament:        raw.Tournament,
		ComputeCaps:       raw.ComputeCaps,
		ShotClock:         raw.ShotClock,
		ForfeitEscalation: raw.ForfeitEscalation,
	}
	applyDefaults(cfg)

	models, err := decodeOrderedModels(&raw.Models, cfg.ComputeCaps)
	if err != nil {
		return nil, err
	}
	cfg.Models = models

	events, err := decodeOrderedEvents(&raw.Events)
	if err != nil {
		return nil, err
	}
	cfg.Events = events

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ComputeCaps.MaxOutputTokens == 0 {
		cfg.ComputeCaps.MaxOutputTokens = 256
	}
	if cfg.ComputeCaps.TimeoutS == 0 {
		cfg.ComputeCaps.TimeoutS = 30
	}
	if fe := cfg.ForfeitEscalation; fe != nil {
		if fe.TurnForfeitThreshold == 0 {
			fe.TurnForfeitThreshold = 2
		}
		if fe.MatchForfeitThreshold == 0 {
			fe.MatchForfeitThreshold = 3
		}
		if fe.StrikeViolations == nil {
			fe.StrikeViolations = []string{"timeout", "empty_response"}
		}
	}
}

// decodeOrderedModels walks the mapping node pairwise so declaration
// order is preserved.
func decodeOrderedModels(node *yaml.Node, caps ComputeCaps) ([]Model, error) {
	if node.Kind == 0 {
		return nil, fmt.Errorf("config has no models")
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("models must be a mapping")
	}
	var models []Model
	for i := 0; i+1 < len(node.Content); i += 2 {
		var m Model
		if err := node.Content[i+1].Decode(&m); err != nil {
			return nil, fmt.Errorf("model %q: %w", node.Content[i].Value, err)
		}
		m.Name = node.Content[i].Value
		if m.MaxOutputTokens == 0 {
			m.MaxOutputTokens = caps.MaxOutputTokens
		}
		if m.TimeoutS == 0 {
			m.TimeoutS = caps.TimeoutS
		}
		models = append(models, m)
	}
	return models, nil
}

func decodeOrderedEvents(node *yaml.Node) ([]Event, error) {
	if node.Kind == 0 {
		return nil, fmt.Errorf("config has no events")
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("events must be a mapping")
	}
	var events []Event
	for i := 0; i+1 < len(node.Content); i += 2 {
		var e Event
		if err := node.Content[i+1].Decode(&e); err != nil {
			return nil, fmt.Errorf("event %q: %w", node.Content[i].Value, err)
		}
		e.Name = node.Content[i].Value
		if e.HandsPerMatch == 0 {
			e.HandsPerMatch = 100
		}
		if e.StartingStack == 0 {
			e.StartingStack = 200
		}
		if e.Blinds == [2]int{} {
			e.Blinds = [2]int{1, 2}
		}
		if e.Rounds == 0 {
			e.Rounds = 1
		}
		if e.GamesPerMatch == 0 {
			e.GamesPerMatch = 9
		}
		events = append(events, e)
	}
	return events, nil
}

func validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg.Tournament); err != nil {
		return fmt.Errorf("tournament section: %w", err)
	}
	if err := v.Struct(cfg.ComputeCaps); err != nil {
		return fmt.Errorf("compute_caps section: %w", err)
	}
	if len(cfg.Models) == 0 {
		return fmt.Errorf("config declares no models")
	}
	if len(cfg.Events) == 0 {
		return fmt.Errorf("config declares no events")
	}
	for _, m := range cfg.Models {
		if err := v.Struct(m); err != nil {
			return fmt.Errorf("model %q: %w", m.Name, err)
		}
		if m.Provider == "mock" && m.Strategy == "" {
			return fmt.Errorf("model %q: mock provider requires a strategy", m.Name)
		}
		if m.Provider != "mock" && m.ModelID == "" {
			return fmt.Errorf("model %q: provider %s requires model_id", m.Name, m.Provider)
		}
	}
	for _, e := range cfg.Events {
		if err := v.Struct(e); err != nil {
			return fmt.Errorf("event %q: %w", e.Name, err)
		}
	}
	if cfg.ShotClock != nil {
		if err := v.Struct(cfg.ShotClock); err != nil {
			return fmt.Errorf("shot_clock section: %w", err)
		}
	}
	return nil
}

// GetEnv returns an environment variable or a fallback.
func GetEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// GetEnvRequired returns an environment variable or an error naming it.
func GetEnvRequired(key string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("missing required environment variable: %s", key)
}
