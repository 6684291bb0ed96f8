// Package paths computes the canonical on-disk layout for a murmur daemon
// instance: config, data, socket and log locations, derived from the
// environment the way most XDG-respecting daemons in this ecosystem do.
package paths

import (
	"os"
	"path/filepath"
)

// Paths is the fully resolved set of filesystem locations the daemon uses.
type Paths struct {
	ConfigDir   string
	DataDir     string
	ProjectsDir string
	PlansDir    string
	RuntimeDir  string
	SocketPath  string
	LogPath     string
	ConfigFile  string
	AgentsFile  string
}

// Resolve computes Paths from the environment. sockOverride, when non-empty,
// takes precedence over $MURMUR_SOCKET_PATH and the computed default.
func Resolve(sockOverride string) (Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Paths{}, err
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		configDir = filepath.Join(home, ".config")
	}
	configDir = filepath.Join(configDir, "murmur")

	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		dataDir = filepath.Join(home, ".local", "share")
	}
	dataDir = filepath.Join(dataDir, "murmur")

	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		runtimeDir = dataDir
	}

	sock := sockOverride
	if sock == "" {
		sock = os.Getenv("MURMUR_SOCKET_PATH")
	}
	if sock == "" {
		sock = filepath.Join(runtimeDir, "murmur.sock")
	}

	p := Paths{
		ConfigDir:   configDir,
		DataDir:     dataDir,
		ProjectsDir: filepath.Join(dataDir, "projects"),
		PlansDir:    filepath.Join(dataDir, "plans"),
		RuntimeDir:  runtimeDir,
		SocketPath:  sock,
		LogPath:     filepath.Join(dataDir, "murmur.log"),
		ConfigFile:  filepath.Join(configDir, "config.toml"),
		AgentsFile:  filepath.Join(dataDir, "runtime", "agents.json"),
	}
	return p, nil
}

// EnsureDirs creates every directory Paths references (but not the socket or
// log files themselves).
func (p Paths) EnsureDirs() error {
	dirs := []string{
		p.ConfigDir,
		p.DataDir,
		p.ProjectsDir,
		p.PlansDir,
		filepath.Dir(p.AgentsFile),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// ProjectRepoDir returns the clone directory for a project.
func (p Paths) ProjectRepoDir(project string) string {
	return filepath.Join(p.ProjectsDir, project, "repo")
}

// ProjectLogsDir returns the rotated agent-session-log directory for a
// project.
func (p Paths) ProjectLogsDir(project string) string {
	return filepath.Join(p.ProjectsDir, project, "logs")
}

// ProjectWorktreesDir returns the worktrees directory for a project.
func (p Paths) ProjectWorktreesDir(project string) string {
	return filepath.Join(p.ProjectsDir, project, "worktrees")
}

// ProjectIssuesDir returns the tk issue-file directory for a project.
func (p Paths) ProjectIssuesDir(project string) string {
	return filepath.Join(p.ProjectsDir, project, "issues")
}

// AgentWorktreeDir returns the per-agent worktree directory.
func (p Paths) AgentWorktreeDir(project, agentID string) string {
	return filepath.Join(p.ProjectWorktreesDir(project), "wt-"+agentID)
}

// PlanFile returns the path to a plan's Markdown file.
func (p Paths) PlanFile(planID string) string {
	return filepath.Join(p.PlansDir, planID+".md")
}
