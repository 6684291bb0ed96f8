// Orchestrator loops (§4.L): one goroutine per project, spawning coding
// agents against ready issues up to the project's max-agents limit.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/karan-zipline/murmur/internal/murmurerr"
	"github.com/karan-zipline/murmur/internal/protocol"
)

const orchestratorFallbackIntervalSecs = 30

// StartOrchestration implements orchestration.start: launches the
// per-project tick loop if it isn't already running.
func (s *SharedState) StartOrchestration(project string) error {
	cf := s.configSnapshot()
	if _, ok := cf.Project(project); !ok {
		return murmurerr.NotFound(fmt.Sprintf("project not found: %s", project))
	}

	s.OrchMu.Lock()
	if rt, ok := s.Orchestrators[project]; ok && rt.Running {
		s.OrchMu.Unlock()
		return murmurerr.Conflict(fmt.Sprintf("orchestration already running for %s", project))
	}
	ctx, cancel := context.WithCancel(s.RootCtx)
	rt := &OrchestratorRuntime{Project: project, Cancel: cancel, TickCh: make(chan struct{}, 1), Running: true}
	s.Orchestrators[project] = rt
	s.OrchMu.Unlock()

	interval := time.Duration(orchestratorFallbackIntervalSecs) * time.Second
	if cf.Polling.EffectiveCommentPollingEnabled() {
		interval = time.Duration(cf.Polling.EffectiveCommentIntervalSecs()) * time.Second
	}

	s.WG.Add(1)
	go s.orchestratorLoop(ctx, project, interval, rt)
	return nil
}

// StopOrchestration implements orchestration.stop, optionally aborting the
// project's currently running agents.
func (s *SharedState) StopOrchestration(project string, abortAgents bool) error {
	s.OrchMu.Lock()
	rt, ok := s.Orchestrators[project]
	s.OrchMu.Unlock()
	if !ok || !rt.Running {
		return murmurerr.NotFound(fmt.Sprintf("orchestration not running for %s", project))
	}
	rt.Cancel()

	if abortAgents {
		for _, rec := range s.Agents.List(project) {
			if !rec.Terminal() {
				_ = s.Abort(rec.ID, false)
			}
		}
	}
	return nil
}

// OrchestrationStatus implements orchestration.status.
func (s *SharedState) OrchestrationStatus(project string) (protocol.OrchestrationStatusResponse, error) {
	pc, ok := s.configSnapshot().Project(project)
	if !ok {
		return protocol.OrchestrationStatusResponse{}, murmurerr.NotFound(fmt.Sprintf("project not found: %s", project))
	}
	s.OrchMu.Lock()
	rt, running := s.Orchestrators[project]
	s.OrchMu.Unlock()

	return protocol.OrchestrationStatusResponse{
		Project:      project,
		Running:      running && rt.Running,
		MaxAgents:    pc.EffectiveMaxAgents(),
		ActiveAgents: s.Agents.CountActiveCoding(project),
		ActiveClaims: len(s.Claims.List(project)),
	}, nil
}

// RequestTick implements orchestration.tick_requested's producer side:
// nudging a project's loop to run immediately instead of waiting for its
// next periodic tick.
func (s *SharedState) RequestTick(project, source string) {
	s.OrchMu.Lock()
	rt, ok := s.Orchestrators[project]
	s.OrchMu.Unlock()
	if !ok {
		return
	}
	select {
	case rt.TickCh <- struct{}{}:
	default:
	}
	s.Broadcaster.Publish(protocol.EvtOrchestrationTickReqed, protocol.OrchestrationTickRequestedEvent{
		Project: project, Source: source, ReceivedAtMs: nowMs(),
	})
}

func (s *SharedState) orchestratorLoop(ctx context.Context, project string, interval time.Duration, rt *OrchestratorRuntime) {
	defer s.WG.Done()
	defer func() {
		s.OrchMu.Lock()
		rt.Running = false
		s.OrchMu.Unlock()
	}()

	if interval <= 0 {
		interval = time.Duration(orchestratorFallbackIntervalSecs) * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.runOrchestratorTick(ctx, project)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOrchestratorTick(ctx, project)
		case <-rt.TickCh:
			s.runOrchestratorTick(ctx, project)
		}
	}
}

// runOrchestratorTick implements one pass of §4.L's pseudocode: compute the
// ready set minus claimed/completed, and spawn up to max-agents.
func (s *SharedState) runOrchestratorTick(ctx context.Context, project string) {
	pc, ok := s.configSnapshot().Project(project)
	if !ok {
		return
	}
	ib := s.issueBackendFor(pc)
	ready, err := ib.Ready(ctx)
	if err != nil {
		slog.Warn("orchestrator: listing ready issues", "project", project, "err", err)
		return
	}
	sort.SliceStable(ready, func(i, j int) bool { return ready[i].Priority > ready[j].Priority })

	active := s.Agents.CountActiveCoding(project)
	budget := pc.EffectiveMaxAgents() - active
	if budget <= 0 {
		return
	}

	for _, issue := range ready {
		if budget <= 0 {
			break
		}
		if _, claimed := s.Claims.AgentFor(project, issue.ID); claimed {
			continue
		}
		if s.isIssueCompleted(project, issue.ID) {
			continue
		}
		if _, err := s.SpawnCoding(ctx, project, issue.ID, issue.Title); err != nil {
			slog.Warn("orchestrator: spawning coding agent", "project", project, "issue_id", issue.ID, "err", err)
			continue
		}
		budget--
	}
}
