// Package config loads, validates and atomically persists the daemon's
// single TOML configuration file, and watches it for external edits.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"

	"github.com/karan-zipline/murmur/internal/murmurerr"
)

// IssueBackend names the source of truth for a project's issues.
type IssueBackend string

const (
	IssueBackendTk     IssueBackend = "tk"
	IssueBackendGitHub IssueBackend = "github"
	IssueBackendLinear IssueBackend = "linear"
)

// PermissionsChecker names how tool-use permission is decided.
type PermissionsChecker string

const (
	PermissionsCheckerManual PermissionsChecker = "manual"
	PermissionsCheckerLLM    PermissionsChecker = "llm"
)

// AgentBackend names the concrete AI CLI driving an agent.
type AgentBackend string

const (
	AgentBackendClaude AgentBackend = "claude"
	AgentBackendCodex  AgentBackend = "codex"
)

// MergeStrategy names how a finished agent's branch is promoted.
type MergeStrategy string

const (
	MergeStrategyDirect      MergeStrategy = "direct"
	MergeStrategyPullRequest MergeStrategy = "pull_request"
)

const (
	defaultMaxAgents             = 3
	defaultWebhookBindAddr       = ":8080"
	defaultWebhookPathPrefix     = "/webhooks"
	defaultCommentPollInterval   = 10
	defaultAgentBackend          = AgentBackendCodex
	defaultMergeStrategy         = MergeStrategyDirect
	defaultPermissionsChecker    = PermissionsCheckerManual
	defaultIssueBackendForConfig = IssueBackendTk
)

// WebhookConfig configures the (scaffolded) inbound webhook listener.
type WebhookConfig struct {
	Enabled    bool   `toml:"enabled"`
	BindAddr   string `toml:"bind-addr"`
	Secret     string `toml:"secret"`
	PathPrefix string `toml:"path-prefix"`
}

// EffectiveBindAddr returns BindAddr or the default when blank.
func (w WebhookConfig) EffectiveBindAddr() string {
	if s := strings.TrimSpace(w.BindAddr); s != "" {
		return s
	}
	return defaultWebhookBindAddr
}

// EffectivePathPrefix returns PathPrefix or the default when blank.
func (w WebhookConfig) EffectivePathPrefix() string {
	if s := strings.TrimSpace(w.PathPrefix); s != "" {
		return s
	}
	return defaultWebhookPathPrefix
}

// PollingConfig configures the (scaffolded) comment-polling loop.
type PollingConfig struct {
	CommentPollingEnabled *bool `toml:"comment-polling-enabled"`
	CommentIntervalSecs   int   `toml:"comment-interval-secs"`
}

// EffectiveCommentPollingEnabled defaults to true when unset.
func (p PollingConfig) EffectiveCommentPollingEnabled() bool {
	if p.CommentPollingEnabled == nil {
		return true
	}
	return *p.CommentPollingEnabled
}

// EffectiveCommentIntervalSecs treats 0 (and negative) as "use the default".
func (p PollingConfig) EffectiveCommentIntervalSecs() int {
	if p.CommentIntervalSecs <= 0 {
		return defaultCommentPollInterval
	}
	return p.CommentIntervalSecs
}

// ProjectConfig is one [[projects]] table.
type ProjectConfig struct {
	Name               string       `toml:"name"`
	RemoteURL          string       `toml:"remote-url"`
	// MaxAgents is a pointer so a key absent from the TOML file (use the
	// default) can be told apart from an explicit `max-agents = 0` (invalid).
	MaxAgents          *int         `toml:"max-agents"`
	IssueBackend       IssueBackend `toml:"issue-backend"`
	PermissionsChecker PermissionsChecker `toml:"permissions-checker"`
	AgentBackend       AgentBackend `toml:"agent-backend"`
	PlannerBackend     AgentBackend `toml:"planner-backend"`
	CodingBackend      AgentBackend `toml:"coding-backend"`
	MergeStrategy      MergeStrategy `toml:"merge-strategy"`
	AllowedAuthors     []string     `toml:"allowed-authors"`
	Autostart          bool         `toml:"autostart"`
	LinearTeam         string       `toml:"linear-team"`
	LinearProject      string       `toml:"linear-project"`
	LLMProvider        string       `toml:"llm-provider"`
	LLMModel           string       `toml:"llm-model"`
}

// EffectivePlannerBackend falls back to AgentBackend, then the global default.
func (p ProjectConfig) EffectivePlannerBackend() AgentBackend {
	if p.PlannerBackend != "" {
		return p.PlannerBackend
	}
	return p.EffectiveAgentBackend()
}

// EffectiveCodingBackend falls back to AgentBackend, then the global default.
func (p ProjectConfig) EffectiveCodingBackend() AgentBackend {
	if p.CodingBackend != "" {
		return p.CodingBackend
	}
	return p.EffectiveAgentBackend()
}

func (p ProjectConfig) EffectiveAgentBackend() AgentBackend {
	if p.AgentBackend != "" {
		return p.AgentBackend
	}
	return defaultAgentBackend
}

func (p ProjectConfig) EffectiveMergeStrategy() MergeStrategy {
	if p.MergeStrategy != "" {
		return p.MergeStrategy
	}
	return defaultMergeStrategy
}

func (p ProjectConfig) EffectivePermissionsChecker() PermissionsChecker {
	if p.PermissionsChecker != "" {
		return p.PermissionsChecker
	}
	return defaultPermissionsChecker
}

func (p ProjectConfig) EffectiveIssueBackend() IssueBackend {
	if p.IssueBackend != "" {
		return p.IssueBackend
	}
	return defaultIssueBackendForConfig
}

func (p ProjectConfig) EffectiveMaxAgents() int {
	if p.MaxAgents != nil {
		return *p.MaxAgents
	}
	return defaultMaxAgents
}

// ConfigFile is the full on-disk configuration tree.
type ConfigFile struct {
	Projects []ProjectConfig `toml:"projects"`
	LogLevel string          `toml:"log-level"`
	Webhook  WebhookConfig   `toml:"webhook"`
	Polling  PollingConfig   `toml:"polling"`
}

// Clone returns a deep-enough copy for copy-on-write handler semantics.
func (c ConfigFile) Clone() ConfigFile {
	out := c
	out.Projects = make([]ProjectConfig, len(c.Projects))
	for i, p := range c.Projects {
		cp := p
		cp.AllowedAuthors = append([]string(nil), p.AllowedAuthors...)
		out.Projects[i] = cp
	}
	return out
}

// Project looks up a project config by name.
func (c ConfigFile) Project(name string) (ProjectConfig, bool) {
	for _, p := range c.Projects {
		if p.Name == name {
			return p, true
		}
	}
	return ProjectConfig{}, false
}

// Validate rejects duplicate names, invalid slugs, empty remotes, zero
// max_agents, and a linear backend without linear_team.
func (c ConfigFile) Validate() error {
	seen := make(map[string]bool, len(c.Projects))
	for _, p := range c.Projects {
		if err := validateProjectName(p.Name); err != nil {
			return err
		}
		if seen[p.Name] {
			return murmurerr.InvalidInput(fmt.Sprintf("duplicate project name: %s", p.Name))
		}
		seen[p.Name] = true
		if strings.TrimSpace(p.RemoteURL) == "" {
			return murmurerr.InvalidInput(fmt.Sprintf("project %s: remote-url must not be empty", p.Name))
		}
		if p.MaxAgents != nil && *p.MaxAgents <= 0 {
			return murmurerr.InvalidInput(fmt.Sprintf("project %s: max-agents must be > 0", p.Name))
		}
		if p.EffectiveIssueBackend() == IssueBackendLinear && strings.TrimSpace(p.LinearTeam) == "" {
			return murmurerr.InvalidInput(fmt.Sprintf("project %s: linear backend requires linear-team", p.Name))
		}
	}
	return nil
}

func validateProjectName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return murmurerr.InvalidInput("project name must not be empty")
	}
	for _, r := range trimmed {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return murmurerr.InvalidInput(fmt.Sprintf("invalid project name: %q", name))
		}
	}
	if strings.Contains(trimmed, "..") {
		return murmurerr.InvalidInput(fmt.Sprintf("invalid project name: %q", name))
	}
	return nil
}

// AddProject validates name/remote/max_agents, appends, and re-validates the
// whole resulting config.
func (c ConfigFile) AddProject(p ProjectConfig) (ConfigFile, error) {
	if err := validateProjectName(p.Name); err != nil {
		return c, err
	}
	if strings.TrimSpace(p.RemoteURL) == "" {
		return c, murmurerr.InvalidInput("remote-url must not be empty")
	}
	if p.MaxAgents != nil && *p.MaxAgents <= 0 {
		return c, murmurerr.InvalidInput("max-agents must be > 0")
	}
	if _, ok := c.Project(p.Name); ok {
		return c, murmurerr.Conflict(fmt.Sprintf("project already exists: %s", p.Name))
	}
	next := c.Clone()
	next.Projects = append(next.Projects, p)
	if err := next.Validate(); err != nil {
		return c, err
	}
	return next, nil
}

// RemoveProject drops a project by name.
func (c ConfigFile) RemoveProject(name string) (ConfigFile, error) {
	if _, ok := c.Project(name); !ok {
		return c, murmurerr.NotFound(fmt.Sprintf("project not found: %s", name))
	}
	next := c.Clone()
	kept := next.Projects[:0]
	for _, p := range next.Projects {
		if p.Name != name {
			kept = append(kept, p)
		}
	}
	next.Projects = kept
	return next, nil
}

// normalizeKey mirrors the original implementation's key normalization:
// trim, replace underscores with dashes, lowercase.
func normalizeKey(key string) string {
	k := strings.TrimSpace(key)
	k = strings.ReplaceAll(k, "_", "-")
	return strings.ToLower(k)
}

// SetProjectKey mutates a single project field by normalized key, returning
// a new ConfigFile. Unknown keys are rejected with InvalidInput.
func (c ConfigFile) SetProjectKey(name, key, value string) (ConfigFile, error) {
	p, ok := c.Project(name)
	if !ok {
		return c, murmurerr.NotFound(fmt.Sprintf("project not found: %s", name))
	}
	nk := normalizeKey(key)
	switch nk {
	case "remote-url":
		p.RemoteURL = value
	case "max-agents":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return c, murmurerr.InvalidInput(fmt.Sprintf("invalid max-agents: %q", value))
		}
		p.MaxAgents = &n
	case "autostart":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return c, murmurerr.InvalidInput(fmt.Sprintf("invalid autostart: %q", value))
		}
		p.Autostart = b
	case "issue-backend":
		p.IssueBackend = IssueBackend(value)
	case "permissions-checker":
		p.PermissionsChecker = PermissionsChecker(value)
	case "agent-backend":
		p.AgentBackend = AgentBackend(value)
	case "planner-backend":
		p.PlannerBackend = AgentBackend(value)
	case "coding-backend":
		p.CodingBackend = AgentBackend(value)
	case "merge-strategy":
		p.MergeStrategy = MergeStrategy(value)
	case "allowed-authors":
		var authors []string
		for _, a := range strings.Split(value, ",") {
			a = strings.TrimSpace(a)
			if a != "" {
				authors = append(authors, a)
			}
		}
		p.AllowedAuthors = authors
	case "linear-team":
		p.LinearTeam = value
	case "linear-project":
		p.LinearProject = value
	case "llm-provider":
		p.LLMProvider = value
	case "llm-model":
		p.LLMModel = value
	default:
		return c, murmurerr.InvalidInput(fmt.Sprintf("unknown config key: %s", key))
	}

	next := c.Clone()
	for i := range next.Projects {
		if next.Projects[i].Name == name {
			next.Projects[i] = p
		}
	}
	if err := next.Validate(); err != nil {
		return c, err
	}
	return next, nil
}

// GetProjectKeyValue mirrors SetProjectKey's key set on the read side,
// returning the effective (default-applied) value as a string.
func (c ConfigFile) GetProjectKeyValue(name, key string) (string, error) {
	p, ok := c.Project(name)
	if !ok {
		return "", murmurerr.NotFound(fmt.Sprintf("project not found: %s", name))
	}
	switch normalizeKey(key) {
	case "remote-url":
		return p.RemoteURL, nil
	case "max-agents":
		return strconv.Itoa(p.EffectiveMaxAgents()), nil
	case "autostart":
		return strconv.FormatBool(p.Autostart), nil
	case "issue-backend":
		return string(p.EffectiveIssueBackend()), nil
	case "permissions-checker":
		return string(p.EffectivePermissionsChecker()), nil
	case "agent-backend":
		return string(p.EffectiveAgentBackend()), nil
	case "planner-backend":
		return string(p.EffectivePlannerBackend()), nil
	case "coding-backend":
		return string(p.EffectiveCodingBackend()), nil
	case "merge-strategy":
		return string(p.EffectiveMergeStrategy()), nil
	case "allowed-authors":
		return strings.Join(p.AllowedAuthors, ","), nil
	case "linear-team":
		return p.LinearTeam, nil
	case "linear-project":
		return p.LinearProject, nil
	case "llm-provider":
		return p.LLMProvider, nil
	case "llm-model":
		return p.LLMModel, nil
	default:
		return "", murmurerr.InvalidInput(fmt.Sprintf("unknown config key: %s", key))
	}
}

// ProjectConfigMap dumps every recognized key/value for a project, used by
// project.config.show.
func (c ConfigFile) ProjectConfigMap(name string) (map[string]string, error) {
	keys := []string{
		"remote-url", "max-agents", "autostart", "issue-backend",
		"permissions-checker", "agent-backend", "planner-backend",
		"coding-backend", "merge-strategy", "allowed-authors",
		"linear-team", "linear-project", "llm-provider", "llm-model",
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		v, err := c.GetProjectKeyValue(name, k)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// Load reads and validates the config file. A missing file yields an empty,
// valid ConfigFile (first-run behavior).
func Load(path string) (ConfigFile, error) {
	var cf ConfigFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ConfigFile{}, nil
		}
		return cf, murmurerr.IO("reading config").Wrap(err)
	}
	if _, err := toml.Decode(string(data), &cf); err != nil {
		return cf, murmurerr.InvalidInput("parsing config TOML").Wrap(err)
	}
	if err := cf.Validate(); err != nil {
		return cf, err
	}
	sort.Slice(cf.Projects, func(i, j int) bool { return cf.Projects[i].Name < cf.Projects[j].Name })
	return cf, nil
}

// Save atomically persists cf to path: write a temp file in the same
// directory, fsync it, then rename over the destination.
func Save(path string, cf ConfigFile) error {
	if err := cf.Validate(); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return murmurerr.IO("creating config dir").Wrap(err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.toml")
	if err != nil {
		return murmurerr.IO("creating temp config file").Wrap(err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	enc := toml.NewEncoder(tmp)
	if err := enc.Encode(cf); err != nil {
		tmp.Close()
		return murmurerr.IO("encoding config TOML").Wrap(err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return murmurerr.IO("fsyncing config file").Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		return murmurerr.IO("closing temp config file").Wrap(err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return murmurerr.IO("renaming config file into place").Wrap(err)
	}
	return nil
}

// Watcher logs external edits to the config file directory. It never
// auto-applies changes: in-flight orchestrators and handlers hold a
// validated snapshot, and silently swapping it out from under them would
// violate the daemon's lock-ordering contract.
type Watcher struct {
	fsw *fsnotify.Watcher
}

// WatchConfigFile starts watching the parent directory of path and logs
// writes/creates of that exact file. Callers should Close the Watcher on
// shutdown.
func WatchConfigFile(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, murmurerr.IO("starting config watcher").Wrap(err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fsw.Close()
		return nil, murmurerr.IO("creating config dir").Wrap(err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, murmurerr.IO("watching config dir").Wrap(err)
	}
	w := &Watcher{fsw: fsw}
	go w.loop(path)
	return w, nil
}

func (w *Watcher) loop(path string) {
	base := filepath.Base(path)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			slog.Info("config file changed on disk; restart the daemon to apply", "path", ev.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "err", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
