package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"

	"github.com/Koiiichi/symphony-lite/internal/filelock"
)

// ProjectFileName is the per-project override file, kept in the project root
const ProjectFileName = ".symphony.json"

// ProjectConfig holds per-project overrides. The file may contain comments
// and trailing commas.
type ProjectConfig struct {
	MaxPasses  int                `json:"max_passes,omitempty"`
	Servers    ServersConfig      `json:"servers"`
	Thresholds ThresholdOverrides `json:"thresholds"`
	Verifier   VerifierConfig     `json:"verifier"`
}

// LoadProject reads the project file from root. A missing file yields an
// empty config. An unreadable or invalid file yields an empty config and an
// error so callers can warn and continue.
func LoadProject(root string) (*ProjectConfig, error) {
	pc := &ProjectConfig{}
	path := filepath.Join(root, ProjectFileName)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return pc, nil
	}
	if err != nil {
		return pc, fmt.Errorf("read %s: %w", ProjectFileName, err)
	}

	var parsed ProjectConfig
	if err := json.Unmarshal(jsonc.ToJSON(data), &parsed); err != nil {
		return pc, fmt.Errorf("parse %s: %w", ProjectFileName, err)
	}
	return &parsed, nil
}

// SaveProject writes pc to the project file under an exclusive lock
func SaveProject(root string, pc *ProjectConfig) error {
	if pc == nil {
		return errors.New("save project: nil config")
	}
	data, err := json.MarshalIndent(pc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ProjectFileName, err)
	}
	return filelock.LockAndWrite(filepath.Join(root, ProjectFileName), append(data, '\n'))
}

// ApplyProject layers project overrides onto c. Set fields win.
func (c *Config) ApplyProject(pc *ProjectConfig) {
	if pc == nil {
		return
	}
	if pc.MaxPasses != 0 {
		c.MaxPasses = pc.MaxPasses
	}
	mergeServer(&c.Servers.Frontend, pc.Servers.Frontend)
	mergeServer(&c.Servers.Backend, pc.Servers.Backend)
	c.Thresholds = c.Thresholds.Merge(pc.Thresholds)
	if len(pc.Verifier.Command) > 0 {
		c.Verifier.Command = pc.Verifier.Command
	}
	if pc.Verifier.Dir != "" {
		c.Verifier.Dir = pc.Verifier.Dir
	}
}

func mergeServer(dst *ServerConfig, src ServerConfig) {
	if len(src.Command) > 0 {
		dst.Command = src.Command
	}
	if src.Dir != "" {
		dst.Dir = src.Dir
	}
	if src.Port != 0 {
		dst.Port = src.Port
	}
	if src.HealthPath != "" {
		dst.HealthPath = src.HealthPath
	}
	if src.Static != "" {
		dst.Static = src.Static
	}
	if len(src.Env) > 0 {
		env := make(map[string]string, len(dst.Env)+len(src.Env))
		for k, v := range dst.Env {
			env[k] = v
		}
		for k, v := range src.Env {
			env[k] = v
		}
		dst.Env = env
	}
}
