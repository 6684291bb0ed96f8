package issuebackend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/karan-zipline/murmur/internal/gitutil"
	"github.com/karan-zipline/murmur/internal/murmurerr"
	"github.com/karan-zipline/murmur/internal/protocol"
)

// tkFrontMatter is the YAML header of a tk issue file. The body after the
// "---" fence is the issue description in Markdown.
type tkFrontMatter struct {
	ID           string   `yaml:"id"`
	Title        string   `yaml:"title"`
	Status       string   `yaml:"status"`
	Priority     int      `yaml:"priority"`
	Type         string   `yaml:"type"`
	Dependencies []string `yaml:"dependencies,omitempty"`
	Labels       []string `yaml:"labels,omitempty"`
	Links        []string `yaml:"links,omitempty"`
	CreatedAtMs  int64    `yaml:"created_at_ms"`
	Comments     []string `yaml:"comments,omitempty"`
	Plan         string   `yaml:"plan,omitempty"`
}

// Tk is the file-backed issue tracker: one Markdown+YAML-frontmatter file
// per issue under <project>/issues/<id>.md, committed via git like any
// other tracked file. Grounded in the teacher's atomic-write-then-commit
// idiom used for its own config persistence.
type Tk struct {
	Dir string // project issues directory
	Git gitutil.Git
	// RepoDir is the git worktree Dir lives under, for CommitAll.
	RepoDir string

	mu sync.Mutex
}

func issuePath(dir, id string) string {
	return filepath.Join(dir, id+".md")
}

func (t *Tk) readAll() ([]tkFrontMatter, error) {
	entries, err := os.ReadDir(t.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, murmurerr.IO(fmt.Sprintf("read issues dir: %v", err))
	}
	var out []tkFrontMatter
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		fm, _, err := readIssueFile(filepath.Join(t.Dir, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, fm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func readIssueFile(path string) (tkFrontMatter, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tkFrontMatter{}, "", err
	}
	parts := strings.SplitN(string(data), "\n---\n", 2)
	var fm tkFrontMatter
	body := ""
	header := strings.TrimPrefix(parts[0], "---\n")
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return tkFrontMatter{}, "", err
	}
	if len(parts) == 2 {
		body = parts[1]
	}
	return fm, body, nil
}

func writeIssueFile(path string, fm tkFrontMatter, body string) error {
	header, err := yaml.Marshal(fm)
	if err != nil {
		return err
	}
	content := "---\n" + string(header) + "---\n" + body
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (t *Tk) List(ctx context.Context) ([]protocol.IssueSummary, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	all, err := t.readAll()
	if err != nil {
		return nil, err
	}
	out := make([]protocol.IssueSummary, 0, len(all))
	for _, fm := range all {
		out = append(out, protocol.IssueSummary{
			ID:        fm.ID,
			Title:     fm.Title,
			Status:    protocol.IssueStatus(fm.Status),
			Priority:  fm.Priority,
			IssueType: fm.Type,
		})
	}
	return out, nil
}

func (t *Tk) Get(ctx context.Context, id string) (protocol.Issue, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fm, body, err := readIssueFile(issuePath(t.Dir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return protocol.Issue{}, murmurerr.NotFound(fmt.Sprintf("issue %q not found", id))
		}
		return protocol.Issue{}, murmurerr.IO(fmt.Sprintf("read issue %q: %v", id, err))
	}
	return protocol.Issue{
		ID:           fm.ID,
		Title:        fm.Title,
		Description:  strings.TrimSpace(body),
		Status:       protocol.IssueStatus(fm.Status),
		Priority:     fm.Priority,
		IssueType:    fm.Type,
		Dependencies: fm.Dependencies,
		Labels:       fm.Labels,
		Links:        fm.Links,
		CreatedAtMs:  fm.CreatedAtMs,
	}, nil
}

// Ready returns open issues whose dependencies are all closed.
func (t *Tk) Ready(ctx context.Context) ([]protocol.IssueSummary, error) {
	t.mu.Lock()
	all, err := t.readAll()
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}
	status := make(map[string]string, len(all))
	for _, fm := range all {
		status[fm.ID] = fm.Status
	}
	var out []protocol.IssueSummary
	for _, fm := range all {
		if fm.Status != string(protocol.IssueStatusOpen) {
			continue
		}
		blocked := false
		for _, dep := range fm.Dependencies {
			if status[dep] != string(protocol.IssueStatusClosed) {
				blocked = true
				break
			}
		}
		if blocked {
			continue
		}
		out = append(out, protocol.IssueSummary{
			ID:        fm.ID,
			Title:     fm.Title,
			Status:    protocol.IssueStatus(fm.Status),
			Priority:  fm.Priority,
			IssueType: fm.Type,
		})
	}
	return out, nil
}

func (t *Tk) Create(ctx context.Context, req protocol.IssueCreateRequest) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := os.MkdirAll(t.Dir, 0o755); err != nil {
		return "", murmurerr.IO(fmt.Sprintf("create issues dir: %v", err))
	}
	id := nextIssueID(t.Dir)
	fm := tkFrontMatter{
		ID:           id,
		Title:        req.Title,
		Status:       string(protocol.IssueStatusOpen),
		Priority:     req.Priority,
		Type:         req.IssueType,
		Dependencies: req.Dependencies,
		Labels:       req.Labels,
		Links:        req.Links,
		CreatedAtMs:  time.Now().UnixMilli(),
	}
	if fm.Type == "" {
		fm.Type = "task"
	}
	if err := writeIssueFile(issuePath(t.Dir, id), fm, req.Description); err != nil {
		return "", murmurerr.IO(fmt.Sprintf("write issue %q: %v", id, err))
	}
	return id, nil
}

func nextIssueID(dir string) string {
	entries, _ := os.ReadDir(dir)
	max := 0
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".md")
		if !strings.HasPrefix(name, "i") {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(name, "i%d", &n); err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("i%d", max+1)
}

func (t *Tk) Update(ctx context.Context, req protocol.IssueUpdateRequest) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	path := issuePath(t.Dir, req.ID)
	fm, body, err := readIssueFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return murmurerr.NotFound(fmt.Sprintf("issue %q not found", req.ID))
		}
		return murmurerr.IO(fmt.Sprintf("read issue %q: %v", req.ID, err))
	}
	if req.Title != nil {
		fm.Title = *req.Title
	}
	if req.Description != nil {
		body = *req.Description
	}
	if req.Status != nil {
		fm.Status = *req.Status
	}
	if req.Priority != nil {
		fm.Priority = *req.Priority
	}
	if req.Labels != nil {
		fm.Labels = *req.Labels
	}
	if req.Dependencies != nil {
		fm.Dependencies = *req.Dependencies
	}
	if req.Links != nil {
		fm.Links = *req.Links
	}
	if err := writeIssueFile(path, fm, body); err != nil {
		return murmurerr.IO(fmt.Sprintf("write issue %q: %v", req.ID, err))
	}
	return nil
}

func (t *Tk) Close(ctx context.Context, id string) error {
	closed := string(protocol.IssueStatusClosed)
	return t.Update(ctx, protocol.IssueUpdateRequest{ID: id, Status: &closed})
}

func (t *Tk) Comment(ctx context.Context, id, body string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	path := issuePath(t.Dir, id)
	fm, issueBody, err := readIssueFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return murmurerr.NotFound(fmt.Sprintf("issue %q not found", id))
		}
		return murmurerr.IO(fmt.Sprintf("read issue %q: %v", id, err))
	}
	stamp := time.Now().UTC().Format(time.RFC3339)
	fm.Comments = append(fm.Comments, fmt.Sprintf("[%s] %s", stamp, body))
	if err := writeIssueFile(path, fm, issueBody); err != nil {
		return murmurerr.IO(fmt.Sprintf("write issue %q: %v", id, err))
	}
	return nil
}

func (t *Tk) ListComments(ctx context.Context, id string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fm, _, err := readIssueFile(issuePath(t.Dir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, murmurerr.NotFound(fmt.Sprintf("issue %q not found", id))
		}
		return nil, murmurerr.IO(fmt.Sprintf("read issue %q: %v", id, err))
	}
	return fm.Comments, nil
}

func (t *Tk) Plan(ctx context.Context, id, plan string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	path := issuePath(t.Dir, id)
	fm, body, err := readIssueFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return murmurerr.NotFound(fmt.Sprintf("issue %q not found", id))
		}
		return murmurerr.IO(fmt.Sprintf("read issue %q: %v", id, err))
	}
	fm.Plan = plan
	if err := writeIssueFile(path, fm, body); err != nil {
		return murmurerr.IO(fmt.Sprintf("write issue %q: %v", id, err))
	}
	return nil
}

func (t *Tk) Commit(ctx context.Context) (bool, error) {
	if t.RepoDir == "" {
		return false, nil
	}
	changed, err := t.Git.CommitAll(ctx, t.RepoDir, "murmur: update issues")
	if err != nil {
		return false, murmurerr.Wrap(err)
	}
	return changed, nil
}
