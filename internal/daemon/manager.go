// Manager agent control (§6.3 Managers): the single long-lived per-project
// manager agent, layered on top of the same supervisor primitives used for
// coding and planner agents.
package daemon

import (
	"context"
	"fmt"

	"github.com/karan-zipline/murmur/internal/murmurerr"
	"github.com/karan-zipline/murmur/internal/protocol"
)

// StopManager implements manager.stop.
func (s *SharedState) StopManager(project string) error {
	rec, ok := s.Agents.ManagerFor(project)
	if !ok {
		return murmurerr.NotFound(fmt.Sprintf("no manager running for %s", project))
	}
	return s.Abort(rec.ID, false)
}

// ManagerStatus implements manager.status.
func (s *SharedState) ManagerStatus(project string) protocol.ManagerStatusResponse {
	rec, ok := s.Agents.ManagerFor(project)
	if !ok {
		return protocol.ManagerStatusResponse{Project: project}
	}
	info := rec.Info()
	return protocol.ManagerStatusResponse{Project: project, Manager: &info}
}

// ManagerSendMessage implements manager.send_message.
func (s *SharedState) ManagerSendMessage(ctx context.Context, project, message string) error {
	rec, ok := s.Agents.ManagerFor(project)
	if !ok {
		return murmurerr.NotFound(fmt.Sprintf("no manager running for %s", project))
	}
	return s.SendMessage(ctx, rec.ID, message)
}

// ManagerChatHistory implements manager.chat_history.
func (s *SharedState) ManagerChatHistory(project string, limit int) ([]protocol.ChatMessage, error) {
	rec, ok := s.Agents.ManagerFor(project)
	if !ok {
		return nil, murmurerr.NotFound(fmt.Sprintf("no manager running for %s", project))
	}
	return s.ChatHistory(rec.ID, limit)
}

// ManagerClearHistory implements manager.clear_history.
func (s *SharedState) ManagerClearHistory(project string) error {
	rec, ok := s.Agents.ManagerFor(project)
	if !ok {
		return murmurerr.NotFound(fmt.Sprintf("no manager running for %s", project))
	}
	s.Agents.Lock()
	_, rt, _ := s.Agents.GetLocked(rec.ID)
	s.Agents.Unlock()
	if rt != nil {
		rt.clearHistory()
	}
	return nil
}
