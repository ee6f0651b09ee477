package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Koiiichi/symphony-lite/internal/models"
)

// ServerConfig describes how to run one child server
type ServerConfig struct {
	// Command is the argv to run; "{port}" is replaced with Port
	Command []string `yaml:"command" json:"command,omitempty"`

	// Dir is the working directory relative to the project root
	Dir string `yaml:"dir" json:"dir,omitempty"`

	// Port is injected through $PORT and the {port} placeholder
	Port int `yaml:"port" json:"port,omitempty"`

	// HealthPath is the path probed for readiness
	HealthPath string `yaml:"health_path" json:"health_path,omitempty"`

	// Env holds extra environment variables for the server
	Env map[string]string `yaml:"env" json:"env,omitempty"`

	// Static serves this directory in-process instead of running Command
	Static string `yaml:"static" json:"static,omitempty"`
}

// Configured reports whether the server has something to run
func (s ServerConfig) Configured() bool {
	return len(s.Command) > 0 || s.Static != ""
}

// ServersConfig groups the frontend and backend servers
type ServersConfig struct {
	Frontend ServerConfig `yaml:"frontend" json:"frontend"`
	Backend  ServerConfig `yaml:"backend" json:"backend"`
}

// ThresholdOverrides holds partial gate threshold overrides. Nil fields keep
// the detected defaults.
type ThresholdOverrides struct {
	AlignmentMin               *float64 `yaml:"alignment_min" json:"alignment_min,omitempty"`
	SpacingMin                 *float64 `yaml:"spacing_min" json:"spacing_min,omitempty"`
	ContrastMin                *float64 `yaml:"contrast_min" json:"contrast_min,omitempty"`
	AccessibilityMaxViolations *int     `yaml:"accessibility_max_violations" json:"accessibility_max_violations,omitempty"`
	RequireInteraction         *bool    `yaml:"require_interaction" json:"require_interaction,omitempty"`
	RequireEndToEnd            *bool    `yaml:"require_end_to_end" json:"require_end_to_end,omitempty"`
}

// Apply returns base with every set override applied
func (o ThresholdOverrides) Apply(base models.GateThresholds) models.GateThresholds {
	if o.AlignmentMin != nil {
		base.AlignmentMin = *o.AlignmentMin
	}
	if o.SpacingMin != nil {
		base.SpacingMin = *o.SpacingMin
	}
	if o.ContrastMin != nil {
		base.ContrastMin = *o.ContrastMin
	}
	if o.AccessibilityMaxViolations != nil {
		base.AccessibilityMaxViolations = *o.AccessibilityMaxViolations
	}
	if o.RequireInteraction != nil {
		base.RequireInteraction = *o.RequireInteraction
	}
	if o.RequireEndToEnd != nil {
		base.RequireEndToEnd = *o.RequireEndToEnd
	}
	return base
}

// Merge returns o with every field set in over taking precedence
func (o ThresholdOverrides) Merge(over ThresholdOverrides) ThresholdOverrides {
	if over.AlignmentMin != nil {
		o.AlignmentMin = over.AlignmentMin
	}
	if over.SpacingMin != nil {
		o.SpacingMin = over.SpacingMin
	}
	if over.ContrastMin != nil {
		o.ContrastMin = over.ContrastMin
	}
	if over.AccessibilityMaxViolations != nil {
		o.AccessibilityMaxViolations = over.AccessibilityMaxViolations
	}
	if over.RequireInteraction != nil {
		o.RequireInteraction = over.RequireInteraction
	}
	if over.RequireEndToEnd != nil {
		o.RequireEndToEnd = over.RequireEndToEnd
	}
	return o
}

// GeneratorConfig configures the claude-backed generation capability
type GeneratorConfig struct {
	// ClaudePath is the claude CLI binary
	ClaudePath string `yaml:"claude_path"`

	// Model optionally pins the model passed to the CLI
	Model string `yaml:"model"`
}

// VerifierConfig configures the command-backed verification capability
type VerifierConfig struct {
	// Command is the argv template; supports {base_url}, {run_id}, {artifact_dir}, {pass}
	Command []string `yaml:"command" json:"command,omitempty"`

	// Dir is the working directory, relative to the project root
	Dir string `yaml:"dir" json:"dir,omitempty"`
}

// HistoryConfig configures the run history database
type HistoryConfig struct {
	// Enabled records every run in the history database
	Enabled bool `yaml:"enabled"`

	// DBPath overrides the database location ($SYMPHONY_HOME/history.db)
	DBPath string `yaml:"db_path"`
}

// RemoteConfig configures mirroring of run artifacts to an S3-compatible store
type RemoteConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Config represents symphony configuration options
type Config struct {
	// MaxPasses bounds the generate/verify passes of a run (1-5)
	MaxPasses int `yaml:"max_passes"`

	// StepBudget is the turn budget handed to each generation call
	StepBudget int `yaml:"step_budget"`

	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogDir is the directory where logs will be written
	LogDir string `yaml:"log_dir"`

	// ArtifactRoot holds one directory per run
	ArtifactRoot string `yaml:"artifact_root"`

	// ReadinessTimeout bounds the wait for each server to answer
	ReadinessTimeout time.Duration `yaml:"readiness_timeout"`

	// PollInterval is the initial readiness polling interval
	PollInterval time.Duration `yaml:"poll_interval"`

	// StopGrace is the time between SIGTERM and SIGKILL
	StopGrace time.Duration `yaml:"stop_grace"`

	// GenerationTimeout bounds one generation call
	GenerationTimeout time.Duration `yaml:"generation_timeout"`

	// VerificationTimeout bounds one verification call
	VerificationTimeout time.Duration `yaml:"verification_timeout"`

	Thresholds ThresholdOverrides `yaml:"thresholds"`
	Servers    ServersConfig      `yaml:"servers"`
	Generator  GeneratorConfig    `yaml:"generator"`
	Verifier   VerifierConfig     `yaml:"verifier"`
	History    HistoryConfig      `yaml:"history"`
	Remote     RemoteConfig       `yaml:"remote"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		MaxPasses:           3,
		StepBudget:          20,
		LogLevel:            "info",
		LogDir:              ".symphony/logs",
		ArtifactRoot:        ".symphony/runs",
		ReadinessTimeout:    30 * time.Second,
		PollInterval:        250 * time.Millisecond,
		StopGrace:           5 * time.Second,
		GenerationTimeout:   10 * time.Minute,
		VerificationTimeout: 5 * time.Minute,
		Servers: ServersConfig{
			Frontend: ServerConfig{Port: 3000, HealthPath: "/"},
			Backend:  ServerConfig{Port: 5000, HealthPath: "/"},
		},
		Generator: GeneratorConfig{
			ClaudePath: "claude",
		},
		History: HistoryConfig{
			Enabled: true,
		},
	}
}

// LoadConfig loads configuration from the specified file path
// If the file doesn't exist, returns default configuration without error
// If the file exists but is malformed, returns an error
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Durations are read as strings so a bad value names its field.
	// Nested sections start from the defaults so partial sections merge.
	type yamlConfig struct {
		MaxPasses           int                `yaml:"max_passes"`
		StepBudget          int                `yaml:"step_budget"`
		LogLevel            string             `yaml:"log_level"`
		LogDir              string             `yaml:"log_dir"`
		ArtifactRoot        string             `yaml:"artifact_root"`
		ReadinessTimeout    string             `yaml:"readiness_timeout"`
		PollInterval        string             `yaml:"poll_interval"`
		StopGrace           string             `yaml:"stop_grace"`
		GenerationTimeout   string             `yaml:"generation_timeout"`
		VerificationTimeout string             `yaml:"verification_timeout"`
		Thresholds          ThresholdOverrides `yaml:"thresholds"`
		Servers             ServersConfig      `yaml:"servers"`
		Generator           GeneratorConfig    `yaml:"generator"`
		Verifier            VerifierConfig     `yaml:"verifier"`
		History             HistoryConfig      `yaml:"history"`
		Remote              RemoteConfig       `yaml:"remote"`
	}

	yamlCfg := yamlConfig{
		Thresholds: cfg.Thresholds,
		Servers:    cfg.Servers,
		Generator:  cfg.Generator,
		Verifier:   cfg.Verifier,
		History:    cfg.History,
		Remote:     cfg.Remote,
	}
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if yamlCfg.MaxPasses != 0 {
		cfg.MaxPasses = yamlCfg.MaxPasses
	}
	if yamlCfg.StepBudget != 0 {
		cfg.StepBudget = yamlCfg.StepBudget
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.LogDir != "" {
		cfg.LogDir = yamlCfg.LogDir
	}
	if yamlCfg.ArtifactRoot != "" {
		cfg.ArtifactRoot = yamlCfg.ArtifactRoot
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"readiness_timeout", yamlCfg.ReadinessTimeout, &cfg.ReadinessTimeout},
		{"poll_interval", yamlCfg.PollInterval, &cfg.PollInterval},
		{"stop_grace", yamlCfg.StopGrace, &cfg.StopGrace},
		{"generation_timeout", yamlCfg.GenerationTimeout, &cfg.GenerationTimeout},
		{"verification_timeout", yamlCfg.VerificationTimeout, &cfg.VerificationTimeout},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s format %q: %w", d.name, d.value, err)
		}
		*d.dst = parsed
	}

	cfg.Thresholds = yamlCfg.Thresholds
	cfg.Servers = yamlCfg.Servers
	cfg.Generator = yamlCfg.Generator
	cfg.Verifier = yamlCfg.Verifier
	cfg.History = yamlCfg.History
	cfg.Remote = yamlCfg.Remote

	return cfg, nil
}

// LoadConfigFromDir loads configuration from .symphony/config.yaml in the specified directory
// If the directory or file doesn't exist, returns default configuration without error
func LoadConfigFromDir(dir string) (*Config, error) {
	configPath := filepath.Join(dir, ".symphony", "config.yaml")
	return LoadConfig(configPath)
}

// MergeWithFlags merges CLI flags into the configuration
// Non-nil flag values override configuration values
func (c *Config) MergeWithFlags(maxPasses *int, readinessTimeout *time.Duration, logDir *string, artifactRoot *string, frontendPort *int, backendPort *int) {
	if maxPasses != nil {
		c.MaxPasses = *maxPasses
	}
	if readinessTimeout != nil {
		c.ReadinessTimeout = *readinessTimeout
	}
	if logDir != nil {
		c.LogDir = *logDir
	}
	if artifactRoot != nil {
		c.ArtifactRoot = *artifactRoot
	}
	if frontendPort != nil {
		c.Servers.Frontend.Port = *frontendPort
	}
	if backendPort != nil {
		c.Servers.Backend.Port = *backendPort
	}
}

// Validate validates the configuration values
// Returns an error if any values are invalid
func (c *Config) Validate() error {
	if c.MaxPasses < 1 || c.MaxPasses > models.MaxPassesLimit {
		return fmt.Errorf("max_passes must be between 1 and %d, got %d", models.MaxPassesLimit, c.MaxPasses)
	}
	if c.StepBudget < 1 {
		return fmt.Errorf("step_budget must be > 0, got %d", c.StepBudget)
	}

	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	if c.ArtifactRoot == "" {
		return fmt.Errorf("artifact_root cannot be empty")
	}

	positive := []struct {
		name  string
		value time.Duration
	}{
		{"readiness_timeout", c.ReadinessTimeout},
		{"poll_interval", c.PollInterval},
		{"stop_grace", c.StopGrace},
		{"generation_timeout", c.GenerationTimeout},
		{"verification_timeout", c.VerificationTimeout},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be > 0, got %v", p.name, p.value)
		}
	}

	for _, s := range []struct {
		name string
		cfg  ServerConfig
	}{{"frontend", c.Servers.Frontend}, {"backend", c.Servers.Backend}} {
		if s.cfg.Port < 1 || s.cfg.Port > 65535 {
			return fmt.Errorf("servers.%s.port must be between 1 and 65535, got %d", s.name, s.cfg.Port)
		}
	}
	if c.Servers.Frontend.Configured() && c.Servers.Backend.Configured() &&
		c.Servers.Frontend.Port == c.Servers.Backend.Port {
		return fmt.Errorf("servers.frontend.port and servers.backend.port must differ, both are %d", c.Servers.Frontend.Port)
	}

	scores := []struct {
		name  string
		value *float64
	}{
		{"alignment_min", c.Thresholds.AlignmentMin},
		{"spacing_min", c.Thresholds.SpacingMin},
		{"contrast_min", c.Thresholds.ContrastMin},
	}
	for _, s := range scores {
		if s.value != nil && (*s.value < 0 || *s.value > 1) {
			return fmt.Errorf("thresholds.%s must be within [0,1], got %v", s.name, *s.value)
		}
	}
	if v := c.Thresholds.AccessibilityMaxViolations; v != nil && *v < 0 {
		return fmt.Errorf("thresholds.accessibility_max_violations must be >= 0, got %d", *v)
	}

	if c.Remote.Enabled {
		if c.Remote.Endpoint == "" {
			return fmt.Errorf("remote.endpoint cannot be empty when remote is enabled")
		}
		if c.Remote.Bucket == "" {
			return fmt.Errorf("remote.bucket cannot be empty when remote is enabled")
		}
	}

	return nil
}
