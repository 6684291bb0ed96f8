// Package claims implements the in-memory (project, issue) -> agent claim
// registry, guarded by a single mutex so claim/release compose atomically
// with the agent abort path (see daemon's agents->claims lock ordering).
package claims

import (
	"fmt"
	"sync"

	"github.com/karan-zipline/murmur/internal/murmurerr"
)

// Key identifies a claimable unit of work.
type Key struct {
	Project string
	Issue   string
}

// Claim is a single (project, issue) -> agent reservation.
type Claim struct {
	Project string `json:"project"`
	IssueID string `json:"issue_id"`
	AgentID string `json:"agent_id"`
}

// Registry is the claim table. Construct it with New: the zero value has
// nil maps, and Claim panics on it.
type Registry struct {
	mu      sync.Mutex
	byKey   map[Key]string            // key -> agentID
	byAgent map[string]map[Key]struct{} // agentID -> set of keys
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		byKey:   make(map[Key]string),
		byAgent: make(map[string]map[Key]struct{}),
	}
}

// Claim reserves (project, issue) for agent. Fails if already held by a
// different agent; idempotent (no error) if already held by the same agent.
func (r *Registry) Claim(project, issue, agent string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := Key{Project: project, Issue: issue}
	if existing, ok := r.byKey[k]; ok {
		if existing == agent {
			return nil
		}
		return murmurerr.Conflict(fmt.Sprintf("issue %s already claimed by %s", issue, existing))
	}
	r.byKey[k] = agent
	if r.byAgent[agent] == nil {
		r.byAgent[agent] = make(map[Key]struct{})
	}
	r.byAgent[agent][k] = struct{}{}
	return nil
}

// Release removes a single claim. No-op if absent.
func (r *Registry) Release(project, issue string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := Key{Project: project, Issue: issue}
	agent, ok := r.byKey[k]
	if !ok {
		return
	}
	delete(r.byKey, k)
	delete(r.byAgent[agent], k)
	if len(r.byAgent[agent]) == 0 {
		delete(r.byAgent, agent)
	}
}

// ReleaseByAgent removes every claim owned by agent.
func (r *Registry) ReleaseByAgent(agent string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.byAgent[agent] {
		delete(r.byKey, k)
	}
	delete(r.byAgent, agent)
}

// AgentFor returns the agent holding (project, issue), if any.
func (r *Registry) AgentFor(project, issue string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byKey[Key{Project: project, Issue: issue}]
	return a, ok
}

// List returns every claim, optionally filtered by project.
func (r *Registry) List(project string) []Claim {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Claim, 0, len(r.byKey))
	for k, agent := range r.byKey {
		if project != "" && k.Project != project {
			continue
		}
		out = append(out, Claim{Project: k.Project, IssueID: k.Issue, AgentID: agent})
	}
	return out
}
