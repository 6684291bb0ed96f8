// Project lifecycle (§4.B wiring): add clones or adopts a repo and appends
// a validated project to the config file; remove tears down orchestration,
// pending gates, and running agents before dropping the project.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/karan-zipline/murmur/internal/config"
	"github.com/karan-zipline/murmur/internal/gitutil"
	"github.com/karan-zipline/murmur/internal/murmurerr"
	"github.com/karan-zipline/murmur/internal/protocol"
)

// AddProject implements project.add: clone the remote if the repo
// directory doesn't exist yet, or validate an existing clone's origin
// matches, then append the project to config.
func (s *SharedState) AddProject(ctx context.Context, req protocol.ProjectAddRequest) (protocol.ProjectAddResponse, error) {
	if _, exists := s.configSnapshot().Project(req.Name); exists {
		return protocol.ProjectAddResponse{}, murmurerr.Conflict(fmt.Sprintf("project already exists: %s", req.Name))
	}

	repoDir := s.Paths.ProjectRepoDir(req.Name)
	wantURL := gitutil.NormalizeRemoteURL(req.RemoteURL)
	if _, err := os.Stat(repoDir); err == nil {
		actual, err := s.Git.RemoteOriginURL(ctx, repoDir)
		if err != nil {
			return protocol.ProjectAddResponse{}, err
		}
		if actual != wantURL {
			return protocol.ProjectAddResponse{}, murmurerr.Conflict(
				fmt.Sprintf("existing repo at %s has remote %q, not %q", repoDir, actual, wantURL))
		}
	} else {
		if err := s.Git.Clone(ctx, req.RemoteURL, repoDir); err != nil {
			return protocol.ProjectAddResponse{}, err
		}
	}

	// req.MaxAgents is an `omitempty` wire int: 0 means the caller left it
	// unset (use the default), not an explicit request for zero agents.
	var maxAgents *int
	if req.MaxAgents > 0 {
		v := req.MaxAgents
		maxAgents = &v
	}
	pc := config.ProjectConfig{
		Name:      req.Name,
		RemoteURL: req.RemoteURL,
		MaxAgents: maxAgents,
		Autostart: req.Autostart,
	}
	if req.Backend != "" {
		pc.AgentBackend = config.AgentBackend(req.Backend)
	}

	next, err := s.configSnapshot().AddProject(pc)
	if err != nil {
		return protocol.ProjectAddResponse{}, err
	}
	if err := s.replaceConfig(next); err != nil {
		return protocol.ProjectAddResponse{}, err
	}

	if pc.Autostart {
		if err := s.StartOrchestration(req.Name); err != nil {
			slog.Warn("autostarting orchestration", "project", req.Name, "err", err)
		}
	}

	return protocol.ProjectAddResponse{
		Name:      req.Name,
		RemoteURL: req.RemoteURL,
		RepoDir:   repoDir,
		MaxAgents: pc.EffectiveMaxAgents(),
	}, nil
}

// RemoveProject implements project.remove: stop orchestration, fail every
// pending permission/question for the project, abort its running agents,
// then drop it from config and optionally delete its on-disk tree.
func (s *SharedState) RemoveProject(ctx context.Context, req protocol.ProjectRemoveRequest) error {
	if _, ok := s.configSnapshot().Project(req.Name); !ok {
		return murmurerr.NotFound(fmt.Sprintf("project not found: %s", req.Name))
	}

	_ = s.StopOrchestration(req.Name, true)
	s.CancelPermissionsForProject(req.Name)
	s.CancelQuestionsForProject(req.Name)
	for _, rec := range s.Agents.List(req.Name) {
		if !rec.Terminal() {
			_ = s.Abort(rec.ID, true)
		}
	}

	next, err := s.configSnapshot().RemoveProject(req.Name)
	if err != nil {
		return err
	}
	if err := s.replaceConfig(next); err != nil {
		return err
	}

	if req.DeleteWorktrees {
		_ = os.RemoveAll(filepath.Join(s.Paths.ProjectsDir, req.Name))
	}
	return nil
}

// ListProjects implements project.list.
func (s *SharedState) ListProjects() protocol.ProjectListResponse {
	cf := s.configSnapshot()
	out := make([]protocol.ProjectInfo, 0, len(cf.Projects))
	for _, p := range cf.Projects {
		s.OrchMu.Lock()
		rt, ok := s.Orchestrators[p.Name]
		s.OrchMu.Unlock()
		out = append(out, protocol.ProjectInfo{
			Name:      p.Name,
			RemoteURL: p.RemoteURL,
			RepoDir:   s.Paths.ProjectRepoDir(p.Name),
			MaxAgents: p.EffectiveMaxAgents(),
			Running:   ok && rt.Running,
			Backend:   string(p.EffectiveCodingBackend()),
		})
	}
	return protocol.ProjectListResponse{Projects: out}
}

// ProjectStatus implements project.status.
func (s *SharedState) ProjectStatus(ctx context.Context, name string) (protocol.ProjectStatusResponse, error) {
	pc, ok := s.configSnapshot().Project(name)
	if !ok {
		return protocol.ProjectStatusResponse{}, murmurerr.NotFound(fmt.Sprintf("project not found: %s", name))
	}
	repoDir := s.Paths.ProjectRepoDir(name)
	resp := protocol.ProjectStatusResponse{
		Name:                name,
		RepoDir:             repoDir,
		SocketPath:          s.Paths.SocketPath,
		RemoteURLConfigured: pc.RemoteURL,
		SocketReachable:     true,
	}
	if _, err := os.Stat(repoDir); err == nil {
		resp.RepoExists = true
		if actual, err := s.Git.RemoteOriginURL(ctx, repoDir); err == nil {
			resp.RemoteURLActual = actual
			resp.RemoteMatches = actual == gitutil.NormalizeRemoteURL(pc.RemoteURL)
		}
	}
	s.OrchMu.Lock()
	rt, running := s.Orchestrators[name]
	s.OrchMu.Unlock()
	resp.OrchestrationRunning = running && rt.Running
	return resp, nil
}

// ProjectConfigShow implements project.config.show.
func (s *SharedState) ProjectConfigShow(name string) (map[string]string, error) {
	return s.configSnapshot().ProjectConfigMap(name)
}

// ProjectConfigGet implements project.config.get.
func (s *SharedState) ProjectConfigGet(name, key string) (string, error) {
	return s.configSnapshot().GetProjectKeyValue(name, key)
}

// ProjectConfigSet implements project.config.set.
func (s *SharedState) ProjectConfigSet(name, key, value string) error {
	next, err := s.configSnapshot().SetProjectKey(name, key, value)
	if err != nil {
		return err
	}
	return s.replaceConfig(next)
}
