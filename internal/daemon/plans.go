// Planner agent control (§6.3 Planners): a planner is an agent with no
// issue bound that writes its output to a plan Markdown file under
// {data_dir}/plans instead of a worktree branch.
package daemon

import (
	"context"
	"os"

	"github.com/karan-zipline/murmur/internal/murmurerr"
	"github.com/karan-zipline/murmur/internal/protocol"
)

// PlanStart implements plan.start.
func (s *SharedState) PlanStart(ctx context.Context, project, prompt string) (protocol.PlanStartResponse, error) {
	rec, err := s.SpawnPlanner(ctx, project, prompt)
	if err != nil {
		return protocol.PlanStartResponse{}, err
	}
	return protocol.PlanStartResponse{
		ID:          rec.ID,
		Project:     rec.Project,
		WorktreeDir: rec.WorktreeDir,
		PlanPath:    s.Paths.PlanFile(rec.ID),
	}, nil
}

// PlanStop implements plan.stop: a graceful abort of the planner agent.
func (s *SharedState) PlanStop(id string) error {
	return s.Abort(id, false)
}

// ListPlans implements plan.list.
func (s *SharedState) ListPlans() []protocol.AgentInfo {
	var out []protocol.AgentInfo
	for _, rec := range s.Agents.List("") {
		if rec.Role == protocol.AgentRolePlanner {
			out = append(out, rec.Info())
		}
	}
	return out
}

// PlanSendMessage implements plan.send_message.
func (s *SharedState) PlanSendMessage(ctx context.Context, id, message string) error {
	return s.SendMessage(ctx, id, message)
}

// PlanChatHistory implements plan.chat_history.
func (s *SharedState) PlanChatHistory(id string, limit int) ([]protocol.ChatMessage, error) {
	return s.ChatHistory(id, limit)
}

// PlanShow implements plan.show: reads back the plan agent's Markdown file.
func (s *SharedState) PlanShow(id string) (protocol.PlanShowResponse, error) {
	data, err := os.ReadFile(s.Paths.PlanFile(id))
	if err != nil {
		if os.IsNotExist(err) {
			return protocol.PlanShowResponse{}, murmurerr.NotFound("plan file not found: " + id)
		}
		return protocol.PlanShowResponse{}, murmurerr.IO("reading plan file").Wrap(err)
	}
	return protocol.PlanShowResponse{ID: id, Contents: string(data)}, nil
}
