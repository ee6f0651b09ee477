package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadProjectMissing(t *testing.T) {
	pc, err := LoadProject(t.TempDir())
	if err != nil {
		t.Fatalf("LoadProject() error = %v", err)
	}
	if pc == nil || pc.MaxPasses != 0 || pc.Servers.Frontend.Configured() {
		t.Errorf("LoadProject() = %+v, want empty", pc)
	}
}

func TestLoadProjectWithComments(t *testing.T) {
	root := t.TempDir()
	content := `{
  // two passes is enough for this app
  "max_passes": 2,
  "servers": {
    "frontend": {"static": "frontend", "port": 8081},
  },
  /* stricter contrast */
  "thresholds": {"contrast_min": 0.8},
}`
	if err := os.WriteFile(filepath.Join(root, ProjectFileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	pc, err := LoadProject(root)
	if err != nil {
		t.Fatalf("LoadProject() error = %v", err)
	}
	if pc.MaxPasses != 2 {
		t.Errorf("MaxPasses = %d, want 2", pc.MaxPasses)
	}
	if pc.Servers.Frontend.Static != "frontend" || pc.Servers.Frontend.Port != 8081 {
		t.Errorf("Frontend = %+v", pc.Servers.Frontend)
	}
	if pc.Thresholds.ContrastMin == nil || *pc.Thresholds.ContrastMin != 0.8 {
		t.Errorf("ContrastMin = %v, want 0.8", pc.Thresholds.ContrastMin)
	}
}

func TestLoadProjectInvalid(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ProjectFileName), []byte(`{"max_passes": "two"}`), 0644); err != nil {
		t.Fatal(err)
	}

	pc, err := LoadProject(root)
	if err == nil {
		t.Fatal("LoadProject() expected error for invalid file")
	}
	if pc == nil || pc.MaxPasses != 0 {
		t.Errorf("LoadProject() = %+v, want empty config alongside error", pc)
	}
}

func TestSaveProjectRoundTrip(t *testing.T) {
	root := t.TempDir()
	minimum := 0.7
	in := &ProjectConfig{
		MaxPasses: 4,
		Servers: ServersConfig{
			Backend: ServerConfig{Command: []string{"node", "server.js"}, Port: 4001},
		},
		Thresholds: ThresholdOverrides{SpacingMin: &minimum},
	}

	if err := SaveProject(root, in); err != nil {
		t.Fatalf("SaveProject() error = %v", err)
	}
	out, err := LoadProject(root)
	if err != nil {
		t.Fatalf("LoadProject() error = %v", err)
	}
	if out.MaxPasses != 4 || out.Servers.Backend.Port != 4001 || len(out.Servers.Backend.Command) != 2 {
		t.Errorf("round trip = %+v", out)
	}
	if out.Thresholds.SpacingMin == nil || *out.Thresholds.SpacingMin != 0.7 {
		t.Errorf("SpacingMin = %v", out.Thresholds.SpacingMin)
	}

	if err := SaveProject(root, nil); err == nil {
		t.Error("SaveProject(nil) expected error")
	}
}

func TestApplyProject(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Servers.Backend.Env = map[string]string{"A": "1"}
	minimum := 0.6

	cfg.ApplyProject(&ProjectConfig{
		MaxPasses: 5,
		Servers: ServersConfig{
			Backend: ServerConfig{Command: []string{"python", "app.py"}, Env: map[string]string{"B": "2"}},
		},
		Thresholds: ThresholdOverrides{AlignmentMin: &minimum},
		Verifier:   VerifierConfig{Command: []string{"verify"}},
	})

	if cfg.MaxPasses != 5 {
		t.Errorf("MaxPasses = %d, want 5", cfg.MaxPasses)
	}
	if cfg.Servers.Backend.Port != 5000 {
		t.Errorf("Backend.Port = %d, want 5000 kept", cfg.Servers.Backend.Port)
	}
	if cfg.Servers.Backend.Env["A"] != "1" || cfg.Servers.Backend.Env["B"] != "2" {
		t.Errorf("Backend.Env = %v, want merged", cfg.Servers.Backend.Env)
	}
	if *cfg.Thresholds.AlignmentMin != 0.6 {
		t.Errorf("AlignmentMin = %v", *cfg.Thresholds.AlignmentMin)
	}
	if len(cfg.Verifier.Command) != 1 {
		t.Errorf("Verifier.Command = %v", cfg.Verifier.Command)
	}

	cfg.ApplyProject(nil)
}
