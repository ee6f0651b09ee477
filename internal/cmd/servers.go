package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/Koiiichi/symphony-lite/internal/config"
	"github.com/Koiiichi/symphony-lite/internal/models"
	"github.com/Koiiichi/symphony-lite/internal/project"
	"github.com/Koiiichi/symphony-lite/internal/server"
)

// serverSource records where a server configuration came from
type serverSource string

const (
	sourceConfig   serverSource = "config"
	sourceDetected serverSource = "detected"
	sourceStatic   serverSource = "static"
)

type resolvedServer struct {
	server.Config
	Source serverSource
}

// resolveServers builds the server list of a run. Configured servers win;
// otherwise the detected start command is used, and a project without a
// frontend command but with frontend/index.html is served statically.
// A detected framework port is kept unless the port was pinned by a flag.
func resolveServers(cfg *config.Config, det *project.Detection, pinned map[models.ServerKind]bool) ([]resolvedServer, error) {
	var out []resolvedServer

	for _, kind := range []models.ServerKind{models.ServerFrontend, models.ServerBackend} {
		sc := cfg.Servers.Frontend
		if kind == models.ServerBackend {
			sc = cfg.Servers.Backend
		}

		rs := resolvedServer{Config: server.Config{
			Kind:       kind,
			Port:       sc.Port,
			HealthPath: sc.HealthPath,
			Env:        sc.Env,
		}}

		switch {
		case sc.Configured():
			rs.Command = sc.Command
			rs.Dir = sc.Dir
			rs.StaticDir = sc.Static
			rs.Source = sourceConfig
		case det != nil:
			if sug, ok := det.Command(kind); ok {
				rs.Command = sug.Command
				rs.Dir = sug.Dir
				if sug.Port != 0 && !pinned[kind] {
					rs.Port = sug.Port
				}
				rs.Source = sourceDetected
			} else if kind == models.ServerFrontend && det.StaticIndex != "" {
				rs.StaticDir = filepath.Dir(det.StaticIndex)
				rs.Source = sourceStatic
			}
		}

		if rs.Source == "" {
			continue
		}
		out = append(out, rs)
	}

	if len(out) == 2 && out[0].Port == out[1].Port {
		return nil, fmt.Errorf("frontend and backend both resolve to port %d; set servers.backend.port or --backend-port", out[0].Port)
	}
	return out, nil
}

func serverConfigs(rs []resolvedServer) []server.Config {
	out := make([]server.Config, len(rs))
	for i, r := range rs {
		out[i] = r.Config
	}
	return out
}
