package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func staticProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "frontend"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "frontend", "index.html"), []byte("<html><body><h1>Hi</h1></body></html>"), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestRunCommand_RequiresGoal(t *testing.T) {
	_, err := executeCommand(t, "run", staticProject(t))
	if err == nil || !strings.Contains(err.Error(), "--goal is required") {
		t.Fatalf("expected missing goal error, got %v", err)
	}
}

func TestRunCommand_DryRun(t *testing.T) {
	dir := staticProject(t)

	output, err := executeCommand(t, "run", dir, "--goal", "Add a pricing section", "--dry-run", "--max-passes", "2")
	if err != nil {
		t.Fatalf("dry run failed: %v\n%s", err, output)
	}
	for _, want := range []string{
		"Run Plan:",
		"Max passes: 2",
		"frontend: static frontend on port 3000 (static)",
		"interaction=false",
		"Dry-run mode",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("dry-run output missing %q:\n%s", want, output)
		}
	}
}

func TestRunCommand_ProjectFileAndFlags(t *testing.T) {
	dir := staticProject(t)
	project := `{
		// comments are allowed
		"servers": {"frontend": {"command": ["npm", "start"], "port": 8081}},
		"thresholds": {"alignment_min": 0.8},
	}`
	if err := os.WriteFile(filepath.Join(dir, ".symphony.json"), []byte(project), 0644); err != nil {
		t.Fatal(err)
	}

	output, err := executeCommand(t, "run", dir, "--goal", "x", "--dry-run", "--frontend-port", "9090")
	if err != nil {
		t.Fatalf("dry run failed: %v\n%s", err, output)
	}
	if !strings.Contains(output, "frontend: npm start on port 9090 (config)") {
		t.Errorf("flag port should override project file:\n%s", output)
	}
	if !strings.Contains(output, "alignment>=0.80") {
		t.Errorf("project threshold override missing:\n%s", output)
	}
}

func TestRunCommand_InvalidFlags(t *testing.T) {
	tests := []struct {
		name    string
		project string
		args    []string
		want    string
	}{
		{"max passes above limit", "", []string{"--max-passes", "9"}, "invalid configuration"},
		{"bad readiness timeout", "", []string{"--readiness-timeout", "soon"}, "invalid readiness timeout"},
		{"same ports", `{"servers":{"backend":{"command":["python","app.py"]}}}`, []string{"--frontend-port", "5000"}, "both resolve to port 5000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := staticProject(t)
			if tt.project != "" {
				if err := os.WriteFile(filepath.Join(dir, ".symphony.json"), []byte(tt.project), 0644); err != nil {
					t.Fatal(err)
				}
			}
			args := append([]string{"run", dir, "--goal", "x", "--dry-run"}, tt.args...)
			_, err := executeCommand(t, args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestRunCommand_RequiresVerifier(t *testing.T) {
	_, err := executeCommand(t, "run", staticProject(t), "--goal", "x")
	if err == nil || !strings.Contains(err.Error(), "no verifier command configured") {
		t.Fatalf("expected missing verifier error, got %v", err)
	}
}

func TestRunCommand_MissingProject(t *testing.T) {
	_, err := executeCommand(t, "run", filepath.Join(t.TempDir(), "absent"), "--goal", "x")
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("expected missing project error, got %v", err)
	}
}

func TestResolveUnder(t *testing.T) {
	tests := []struct {
		root, p, want string
	}{
		{"/proj", "", "/proj"},
		{"/proj", ".symphony/runs", "/proj/.symphony/runs"},
		{"/proj", "/var/runs", "/var/runs"},
	}
	for _, tt := range tests {
		if got := resolveUnder(tt.root, tt.p); got != tt.want {
			t.Errorf("resolveUnder(%q, %q) = %q, want %q", tt.root, tt.p, got, tt.want)
		}
	}
}

func TestRunCommand_FailedRunReportsArtifacts(t *testing.T) {
	t.Setenv("SYMPHONY_HOME", t.TempDir())
	dir := t.TempDir()
	project := `{
		"servers": {"frontend": {"command": ["sh", "-c", "echo boom >&2; exit 3"]}},
		"verifier": {"command": ["echo", "{}"]}
	}`
	if err := os.WriteFile(filepath.Join(dir, ".symphony.json"), []byte(project), 0644); err != nil {
		t.Fatal(err)
	}

	output, err := executeCommand(t, "run", dir, "--goal", "x", "--readiness-timeout", "5s")
	if err == nil || !strings.Contains(err.Error(), "run failed") {
		t.Fatalf("expected failed run, got %v\n%s", err, output)
	}
	if !strings.Contains(err.Error(), "server:frontend") {
		t.Errorf("error should name the failing server, got %v", err)
	}
	if !strings.Contains(output, "Artifacts written to: "+filepath.Join(dir, ".symphony", "runs")) {
		t.Errorf("failed run should still point at its artifacts:\n%s", output)
	}
}
