// Package project inspects a target project to derive gate defaults and
// server start commands.
package project

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Koiiichi/symphony-lite/internal/models"
)

// StartCommand is a server command suggested by detection
type StartCommand struct {
	Kind    models.ServerKind
	Command []string
	Dir     string // relative to the project root
	Port    int    // framework default, 0 if unknown
}

// Detection summarizes what was found in a project
type Detection struct {
	Root          string
	HasContent    bool
	Frontend      string // framework name, "static" or empty
	Backend       string // "python", "node" or empty
	Frameworks    []string
	FormDetected  bool
	SuiteDetected bool
	StaticIndex   string // frontend/index.html when present, relative to Root
	Commands      []StartCommand
	Notes         []string
}

var frontendPorts = []struct {
	name string
	port int
}{
	{"vite", 5173},
	{"next", 3000},
	{"react-scripts", 3000},
	{"nuxt", 3000},
	{"astro", 4321},
}

var backendPorts = []struct {
	name string
	port int
}{
	{"flask", 5000},
	{"fastapi", 8000},
	{"django", 8000},
	{"express", 3000},
}

var formExtensions = []string{".html", ".htm", ".jsx", ".tsx", ".vue", ".svelte"}

// Detect scans root. A missing root is reported as an empty project.
func Detect(root string) (*Detection, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	det := &Detection{Root: abs}

	if _, err := os.Stat(abs); os.IsNotExist(err) {
		return det, nil
	}

	all, err := ScanDirectory(abs, ScanOptions{ExcludeDirs: DefaultExcludeDirs})
	if err != nil {
		return nil, err
	}
	det.HasContent = len(all.Files) > 0

	for _, rel := range all.Files {
		switch {
		case isSuiteConfig(rel), isSpecFile(rel):
			det.SuiteDetected = true
		}
		if rel == "frontend/index.html" || (rel == "index.html" && det.StaticIndex == "") {
			det.StaticIndex = rel
		}
	}
	if det.StaticIndex != "" {
		det.Frontend = "static"
	}

	det.FormDetected = detectForms(abs)

	for _, rel := range all.Files {
		if filepath.Base(rel) == "package.json" {
			det.inspectPackageJSON(abs, rel)
		}
	}
	det.inspectPython(abs)

	return det, nil
}

func isSuiteConfig(rel string) bool {
	base := filepath.Base(rel)
	return strings.HasPrefix(base, "playwright.config.") || strings.HasPrefix(base, "cypress.config.")
}

func isSpecFile(rel string) bool {
	if !strings.HasPrefix(rel, "e2e/") && !strings.HasPrefix(rel, "tests/") && !strings.Contains(rel, "/e2e/") {
		return false
	}
	base := filepath.Base(rel)
	for _, suffix := range []string{".spec.ts", ".spec.js", ".test.ts", ".test.js"} {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}
	return false
}

func detectForms(root string) bool {
	res, err := ScanDirectory(root, ScanOptions{Extensions: formExtensions, ExcludeDirs: DefaultExcludeDirs})
	if err != nil {
		return false
	}
	for _, rel := range res.Files {
		data, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil {
			continue
		}
		if bytes.Contains(bytes.ToLower(data), []byte("<form")) {
			return true
		}
	}
	return false
}

type packageJSON struct {
	Scripts         map[string]string `json:"scripts"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

func (d *Detection) inspectPackageJSON(root, rel string) {
	data, err := os.ReadFile(filepath.Join(root, rel))
	if err != nil {
		return
	}
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		d.Notes = append(d.Notes, fmt.Sprintf("package.json unreadable at %s", rel))
		return
	}

	dir := filepath.Dir(rel)
	uses := func(name string) bool {
		if _, ok := pkg.Dependencies[name]; ok {
			return true
		}
		if _, ok := pkg.DevDependencies[name]; ok {
			return true
		}
		for _, s := range pkg.Scripts {
			if strings.Contains(s, name) {
				return true
			}
		}
		return false
	}

	kind := models.ServerFrontend
	port := 0
	for _, fw := range frontendPorts {
		if uses(fw.name) {
			d.addFramework(fw.name)
			d.Frontend = fw.name
			if port == 0 {
				port = fw.port
			}
		}
	}
	if uses("@playwright/test") || uses("cypress") {
		d.SuiteDetected = true
	}
	if port == 0 && uses("express") {
		d.addFramework("express")
		d.Backend = "node"
		kind = models.ServerBackend
		port = 3000
	}

	if len(pkg.Scripts) == 0 {
		return
	}
	runner := "npm"
	if fileExists(filepath.Join(root, dir, "pnpm-lock.yaml")) {
		runner = "pnpm"
	} else if fileExists(filepath.Join(root, dir, "yarn.lock")) {
		runner = "yarn"
	}
	for _, script := range []string{"dev", "start"} {
		if _, ok := pkg.Scripts[script]; ok {
			d.Commands = append(d.Commands, StartCommand{
				Kind:    kind,
				Command: []string{runner, "run", script},
				Dir:     dir,
				Port:    port,
			})
			return
		}
	}
}

func (d *Detection) inspectPython(root string) {
	var manifest string
	for _, dir := range []string{".", "backend"} {
		for _, name := range []string{"requirements.txt", "pyproject.toml"} {
			data, err := os.ReadFile(filepath.Join(root, dir, name))
			if err == nil {
				manifest = strings.ToLower(string(data))
				d.Backend = "python"
				d.scanPythonApp(root, dir, manifest)
				return
			}
		}
	}
}

func (d *Detection) scanPythonApp(root, dir, manifest string) {
	port := 0
	for _, fw := range backendPorts {
		if strings.Contains(manifest, fw.name) {
			d.addFramework(fw.name)
			if port == 0 {
				port = fw.port
			}
		}
	}
	python := os.Getenv("PYTHON")
	if python == "" {
		python = "python"
	}
	for _, name := range []string{"app.py", "main.py", "server.py", "manage.py"} {
		if fileExists(filepath.Join(root, dir, name)) {
			cmd := []string{python, name}
			if name == "manage.py" {
				cmd = append(cmd, "runserver", "{port}")
			}
			d.Commands = append(d.Commands, StartCommand{
				Kind:    models.ServerBackend,
				Command: cmd,
				Dir:     dir,
				Port:    port,
			})
			return
		}
	}
}

func (d *Detection) addFramework(name string) {
	for _, f := range d.Frameworks {
		if f == name {
			return
		}
	}
	d.Frameworks = append(d.Frameworks, name)
}

// Command returns the first suggested command of the given kind
func (d *Detection) Command(kind models.ServerKind) (StartCommand, bool) {
	for _, c := range d.Commands {
		if c.Kind == kind {
			return c, true
		}
	}
	return StartCommand{}, false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
