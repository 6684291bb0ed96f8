// Permission/question gate (§4.J): pending-request tables with response
// correlation and a 5-minute timeout, plus the LLM auto-decision path for
// projects configured with permissions-checker = "llm".
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/maruel/genai"
	"github.com/maruel/genai/providers"

	"github.com/karan-zipline/murmur/internal/config"
	"github.com/karan-zipline/murmur/internal/murmurerr"
	"github.com/karan-zipline/murmur/internal/protocol"
)

// gateTimeout is the permission/question round-trip timeout (§4.J). A var,
// not a const, so tests can shrink it instead of sleeping for 5 minutes.
var gateTimeout = 5 * time.Minute

// llmChecker wraps a configured genai.Provider used to auto-decide
// permission requests before falling back to a human. A nil provider means
// "unconfigured": every call falls straight through to the human path.
type llmChecker struct {
	provider genai.Provider
}

func newLLMChecker(ctx context.Context, providerName, model string) *llmChecker {
	if providerName == "" {
		return &llmChecker{}
	}
	cfg, ok := providers.All[providerName]
	if !ok || cfg.Factory == nil {
		slog.Warn("unknown LLM provider for permission auto-decision", "provider", providerName)
		return &llmChecker{}
	}
	var opts []genai.ProviderOption
	if model != "" {
		opts = append(opts, genai.ProviderOptionModel(model))
	} else {
		opts = append(opts, genai.ModelCheap)
	}
	p, err := cfg.Factory(ctx, opts...)
	if err != nil {
		slog.Warn("failed to create LLM provider for permission auto-decision", "provider", providerName, "err", err)
		return &llmChecker{}
	}
	return &llmChecker{provider: p}
}

const permissionSystemPrompt = "You are gating a tool call for an unattended coding agent. " +
	"Reply with exactly one word: ALLOW or DENY."

// decide renders the tool call and asks the LLM for a confident ALLOW/DENY.
// Any error, timeout, or ambiguous reply returns ("", false) so the caller
// falls through to the ordinary human round-trip.
func (c *llmChecker) decide(ctx context.Context, toolName string, toolInput any) (protocol.PermissionBehavior, bool) {
	if c == nil || c.provider == nil {
		return "", false
	}
	data, _ := json.Marshal(toolInput)
	input := data
	if len(input) > 1000 {
		input = input[:1000]
	}
	prompt := fmt.Sprintf("Tool: %s\nInput: %s\n\nMay this tool call run unattended?", toolName, string(input))

	res, err := c.provider.GenSync(ctx,
		genai.Messages{genai.NewTextMessage(prompt)},
		&genai.GenOptionText{
			SystemPrompt: permissionSystemPrompt,
			MaxTokens:    8,
			Temperature:  0,
		},
	)
	if err != nil {
		slog.Warn("LLM permission auto-decision failed", "tool", toolName, "err", err)
		return "", false
	}
	reply := strings.ToUpper(strings.TrimSpace(res.String()))
	switch {
	case strings.Contains(reply, "ALLOW"):
		return protocol.PermissionAllow, true
	case strings.Contains(reply, "DENY"):
		return protocol.PermissionDeny, true
	default:
		return "", false
	}
}

// llmCheckerFor lazily constructs (and caches) the per-project LLM checker.
func (s *SharedState) llmCheckerFor(ctx context.Context, pc config.ProjectConfig) *llmChecker {
	s.llmMu.Lock()
	defer s.llmMu.Unlock()
	if c, ok := s.llms[pc.Name]; ok {
		return c
	}
	c := newLLMChecker(ctx, pc.LLMProvider, pc.LLMModel)
	s.llms[pc.Name] = c
	return c
}

// RequestPermission implements permission.request: allocate an id, enter a
// pending entry, emit permission.requested, and (if configured) offer the
// request to the LLM before blocking on a human response.
func (s *SharedState) RequestPermission(ctx context.Context, payload protocol.PermissionRequestPayload) (protocol.PermissionResponse, error) {
	rec, ok := s.Agents.Get(payload.AgentID)
	if !ok {
		return protocol.PermissionResponse{}, murmurerr.NotFound(fmt.Sprintf("agent not found: %s", payload.AgentID))
	}

	id := uuid.NewString()
	req := protocol.PermissionRequest{
		ID:            id,
		AgentID:       payload.AgentID,
		Project:       rec.Project,
		ToolName:      payload.ToolName,
		ToolInput:     payload.ToolInput,
		ToolUseID:     payload.ToolUseID,
		RequestedAtMs: nowMs(),
	}
	pending := &PendingPermission{Req: req, Resolved: make(chan protocol.PermissionResponse, 1)}

	s.PermMu.Lock()
	s.PendingPermissions[id] = pending
	s.PermMu.Unlock()
	s.Broadcaster.Publish(protocol.EvtPermissionRequested, req)

	if pc, ok := s.configSnapshot().Project(rec.Project); ok && pc.EffectivePermissionsChecker() == config.PermissionsCheckerLLM {
		checker := s.llmCheckerFor(ctx, pc)
		if behavior, decided := checker.decide(ctx, payload.ToolName, payload.ToolInput); decided {
			resp := protocol.PermissionResponse{ID: id, Behavior: behavior, Message: "auto-decided by llm"}
			if s.resolvePermissionLocked(id, resp) {
				return resp, nil
			}
		}
	}

	timer := time.NewTimer(gateTimeout)
	defer timer.Stop()
	select {
	case resp := <-pending.Resolved:
		return resp, nil
	case <-timer.C:
		s.PermMu.Lock()
		delete(s.PendingPermissions, id)
		s.PermMu.Unlock()
		return protocol.PermissionResponse{}, murmurerr.Timeout("timeout")
	case <-ctx.Done():
		return protocol.PermissionResponse{}, murmurerr.Timeout("timeout")
	}
}

func (s *SharedState) resolvePermissionLocked(id string, resp protocol.PermissionResponse) bool {
	s.PermMu.Lock()
	pending, ok := s.PendingPermissions[id]
	if ok {
		delete(s.PendingPermissions, id)
	}
	s.PermMu.Unlock()
	if !ok {
		return false
	}
	return pending.resolve(resp)
}

// RespondPermission implements permission.respond. A late response after
// timeout (entry already removed) is rejected with NotFound.
func (s *SharedState) RespondPermission(resp protocol.PermissionResponse) error {
	if !s.resolvePermissionLocked(resp.ID, resp) {
		return murmurerr.NotFound(fmt.Sprintf("permission request not found: %s", resp.ID))
	}
	return nil
}

// ListPermissions implements permission.list.
func (s *SharedState) ListPermissions(project string) []protocol.PermissionRequest {
	s.PermMu.Lock()
	defer s.PermMu.Unlock()
	out := make([]protocol.PermissionRequest, 0, len(s.PendingPermissions))
	for _, p := range s.PendingPermissions {
		if project != "" && p.Req.Project != project {
			continue
		}
		out = append(out, p.Req)
	}
	return out
}

// CancelPermissionsForProject fails every pending permission entry for a
// project, used by project.remove.
func (s *SharedState) CancelPermissionsForProject(project string) {
	s.PermMu.Lock()
	var toFail []*PendingPermission
	for id, p := range s.PendingPermissions {
		if p.Req.Project == project {
			toFail = append(toFail, p)
			delete(s.PendingPermissions, id)
		}
	}
	s.PermMu.Unlock()
	for _, p := range toFail {
		p.resolve(protocol.PermissionResponse{ID: p.Req.ID, Behavior: protocol.PermissionDeny, Message: "project removed"})
	}
}

// RequestQuestion implements question.request, the user-question analogue
// of RequestPermission (no LLM auto-decision path: these ask the human for
// free-form input a model can't confidently stand in for).
func (s *SharedState) RequestQuestion(ctx context.Context, payload protocol.UserQuestionRequestPayload) (map[string]string, error) {
	rec, ok := s.Agents.Get(payload.AgentID)
	if !ok {
		return nil, murmurerr.NotFound(fmt.Sprintf("agent not found: %s", payload.AgentID))
	}
	id := uuid.NewString()
	req := protocol.UserQuestion{
		ID:            id,
		AgentID:       payload.AgentID,
		Project:       rec.Project,
		Questions:     payload.Questions,
		RequestedAtMs: nowMs(),
	}
	pending := &PendingQuestion{Req: req, Resolved: make(chan protocol.UserQuestionResponse, 1)}

	s.QuestionMu.Lock()
	s.PendingQuestions[id] = pending
	s.QuestionMu.Unlock()
	s.Broadcaster.Publish(protocol.EvtQuestionRequested, req)

	timer := time.NewTimer(gateTimeout)
	defer timer.Stop()
	select {
	case resp := <-pending.Resolved:
		return resp.Answers, nil
	case <-timer.C:
		s.QuestionMu.Lock()
		delete(s.PendingQuestions, id)
		s.QuestionMu.Unlock()
		return nil, murmurerr.Timeout("timeout")
	case <-ctx.Done():
		return nil, murmurerr.Timeout("timeout")
	}
}

// RespondQuestion implements question.respond.
func (s *SharedState) RespondQuestion(resp protocol.UserQuestionResponse) error {
	s.QuestionMu.Lock()
	pending, ok := s.PendingQuestions[resp.ID]
	if ok {
		delete(s.PendingQuestions, resp.ID)
	}
	s.QuestionMu.Unlock()
	if !ok {
		return murmurerr.NotFound(fmt.Sprintf("question not found: %s", resp.ID))
	}
	pending.resolve(resp)
	return nil
}

// ListQuestions implements question.list.
func (s *SharedState) ListQuestions(project string) []protocol.UserQuestion {
	s.QuestionMu.Lock()
	defer s.QuestionMu.Unlock()
	out := make([]protocol.UserQuestion, 0, len(s.PendingQuestions))
	for _, q := range s.PendingQuestions {
		if project != "" && q.Req.Project != project {
			continue
		}
		out = append(out, q.Req)
	}
	return out
}

// CancelQuestionsForProject is question.request's project.remove analogue.
func (s *SharedState) CancelQuestionsForProject(project string) {
	s.QuestionMu.Lock()
	var toFail []*PendingQuestion
	for id, q := range s.PendingQuestions {
		if q.Req.Project == project {
			toFail = append(toFail, q)
			delete(s.PendingQuestions, id)
		}
	}
	s.QuestionMu.Unlock()
	for _, q := range toFail {
		q.resolve(protocol.UserQuestionResponse{ID: q.Req.ID, Answers: map[string]string{}})
	}
}
