package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Koiiichi/symphony-lite/internal/models"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		check func(t *testing.T, d *Detection)
	}{
		{
			name:  "empty project",
			files: map[string]string{},
			check: func(t *testing.T, d *Detection) {
				assert.False(t, d.HasContent)
				assert.False(t, d.FormDetected)
				assert.False(t, d.SuiteDetected)
				assert.Empty(t, d.Commands)
			},
		},
		{
			name: "static frontend with form and flask backend",
			files: map[string]string{
				"frontend/index.html":      `<html><body><FORM id="contact"></FORM></body></html>`,
				"backend/requirements.txt": "Flask==3.0\nflask-cors\n",
				"backend/app.py":           "app = Flask(__name__)",
			},
			check: func(t *testing.T, d *Detection) {
				assert.True(t, d.HasContent)
				assert.True(t, d.FormDetected)
				assert.False(t, d.SuiteDetected)
				assert.Equal(t, "static", d.Frontend)
				assert.Equal(t, "frontend/index.html", d.StaticIndex)
				assert.Equal(t, "python", d.Backend)
				assert.Contains(t, d.Frameworks, "flask")

				cmd, ok := d.Command(models.ServerBackend)
				require.True(t, ok)
				assert.Equal(t, "backend", cmd.Dir)
				assert.Equal(t, "app.py", cmd.Command[1])
				assert.Equal(t, 5000, cmd.Port)
			},
		},
		{
			name: "vite app with playwright suite",
			files: map[string]string{
				"package.json":         `{"scripts":{"dev":"vite"},"devDependencies":{"vite":"^5","@playwright/test":"^1"}}`,
				"yarn.lock":            "",
				"src/App.tsx":          `export const App = () => <div/>`,
				"playwright.config.ts": "export default {}",
			},
			check: func(t *testing.T, d *Detection) {
				assert.True(t, d.SuiteDetected)
				assert.False(t, d.FormDetected)
				assert.Equal(t, "vite", d.Frontend)

				cmd, ok := d.Command(models.ServerFrontend)
				require.True(t, ok)
				assert.Equal(t, []string{"yarn", "run", "dev"}, cmd.Command)
				assert.Equal(t, 5173, cmd.Port)
			},
		},
		{
			name: "spec files under tests",
			files: map[string]string{
				"tests/login.spec.js": "test('x', () => {})",
			},
			check: func(t *testing.T, d *Detection) {
				assert.True(t, d.SuiteDetected)
			},
		},
		{
			name: "forms inside node_modules ignored",
			files: map[string]string{
				"index.html":                     "<main></main>",
				"node_modules/pkg/form.html":     "<form></form>",
				".cache/form.html":               "<form></form>",
				"node_modules/pkg/a.spec.ts":     "",
				"node_modules/playwright.config": "",
			},
			check: func(t *testing.T, d *Detection) {
				assert.False(t, d.FormDetected)
				assert.False(t, d.SuiteDetected)
				assert.Equal(t, "index.html", d.StaticIndex)
			},
		},
		{
			name: "broken package.json noted",
			files: map[string]string{
				"package.json": "{not json",
			},
			check: func(t *testing.T, d *Detection) {
				assert.True(t, d.HasContent)
				require.Len(t, d.Notes, 1)
				assert.Contains(t, d.Notes[0], "package.json unreadable")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeFiles(t, root, tt.files)

			d, err := Detect(root)
			require.NoError(t, err)
			tt.check(t, d)
		})
	}
}

func TestDetect_MissingRoot(t *testing.T) {
	d, err := Detect(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.False(t, d.HasContent)
}

func TestScanDirectory(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"a.html":            "",
		"B.HTML":            "",
		"sub/c.html":        "",
		"sub/deep/d.html":   "",
		"sub/e.txt":         "",
		".hidden/f.html":    "",
		"node_modules/g.js": "",
		"spec-one.js":       "",
	})

	t.Run("extensions are case-insensitive", func(t *testing.T) {
		res, err := ScanDirectory(root, ScanOptions{Extensions: []string{"html"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"B.HTML", "a.html", "sub/c.html", "sub/deep/d.html"}, res.Files)
	})

	t.Run("max depth", func(t *testing.T) {
		res, err := ScanDirectory(root, ScanOptions{Extensions: []string{".html"}, MaxDepth: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"B.HTML", "a.html", "sub/c.html"}, res.Files)
	})

	t.Run("pattern and excludes", func(t *testing.T) {
		res, err := ScanDirectory(root, ScanOptions{Pattern: "^spec-", ExcludeDirs: DefaultExcludeDirs})
		require.NoError(t, err)
		assert.Equal(t, []string{"spec-one.js"}, res.Files)
	})

	t.Run("invalid pattern", func(t *testing.T) {
		_, err := ScanDirectory(root, ScanOptions{Pattern: "("})
		assert.Error(t, err)
	})

	t.Run("not a directory", func(t *testing.T) {
		_, err := ScanDirectory(filepath.Join(root, "a.html"), ScanOptions{})
		assert.Error(t, err)
	})
}
