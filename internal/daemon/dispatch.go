// RPC dispatch table (§6.3): decodes a Request's payload into its typed
// struct and routes to the matching SharedState method, wrapping the
// result (or error) into a Response. attach/detach are handled one level up
// in server.go since they need the connection's own subscription state.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/karan-zipline/murmur/internal/murmurerr"
	"github.com/karan-zipline/murmur/internal/protocol"
)

// Version is the daemon build version, overridden at link time.
var Version = "dev"

func decodePayload[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, murmurerr.InvalidInput("invalid payload: " + err.Error())
	}
	return v, nil
}

// Dispatch routes one decoded Request to its handler and builds the
// Response. It never panics: a handler returning an error becomes
// success=false with that error's message.
func (s *SharedState) Dispatch(ctx context.Context, req protocol.Request) protocol.Response {
	ok := func(payload any) protocol.Response { return protocol.OK(req.Type, req.ID, payload) }
	fail := func(err error) protocol.Response { return protocol.Fail(req.Type, req.ID, err.Error()) }

	switch req.Type {

	// --- Control ---
	case protocol.MsgPing:
		return ok(protocol.PingResponse{
			Version:     Version,
			Protocol:    protocol.ProtocolVersion,
			Pid:         s.PID,
			StartedAtMs: s.StartedAt.UnixMilli(),
			UptimeMs:    time.Since(s.StartedAt).Milliseconds(),
		})
	case protocol.MsgShutdown:
		s.RequestShutdown()
		return ok(nil)

	// --- Projects ---
	case protocol.MsgProjectAdd:
		p, err := decodePayload[protocol.ProjectAddRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		resp, err := s.AddProject(ctx, p)
		if err != nil {
			return fail(err)
		}
		return ok(resp)
	case protocol.MsgProjectRemove:
		p, err := decodePayload[protocol.ProjectRemoveRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		if err := s.RemoveProject(ctx, p); err != nil {
			return fail(err)
		}
		return ok(nil)
	case protocol.MsgProjectList:
		return ok(s.ListProjects())
	case protocol.MsgProjectStatus:
		p, err := decodePayload[protocol.ProjectStatusRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		resp, err := s.ProjectStatus(ctx, p.Name)
		if err != nil {
			return fail(err)
		}
		return ok(resp)
	case protocol.MsgProjectConfigShow:
		p, err := decodePayload[protocol.ProjectConfigShowRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		cfg, err := s.ProjectConfigShow(p.Name)
		if err != nil {
			return fail(err)
		}
		return ok(protocol.ProjectConfigShowResponse{Name: p.Name, Config: cfg})
	case protocol.MsgProjectConfigGet:
		p, err := decodePayload[protocol.ProjectConfigGetRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		v, err := s.ProjectConfigGet(p.Name, p.Key)
		if err != nil {
			return fail(err)
		}
		return ok(protocol.ProjectConfigGetResponse{Value: v})
	case protocol.MsgProjectConfigSet:
		p, err := decodePayload[protocol.ProjectConfigSetRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		if err := s.ProjectConfigSet(p.Name, p.Key, p.Value); err != nil {
			return fail(err)
		}
		return ok(nil)

	// --- Agents ---
	case protocol.MsgAgentCreate:
		p, err := decodePayload[protocol.AgentCreateRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		rec, err := s.SpawnCoding(ctx, p.Project, p.IssueID, "")
		if err != nil {
			return fail(err)
		}
		return ok(rec.Info())
	case protocol.MsgAgentList:
		p, err := decodePayload[protocol.AgentListRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		recs := s.Agents.List(p.Project)
		infos := make([]protocol.AgentInfo, len(recs))
		for i, r := range recs {
			infos[i] = r.Info()
		}
		return ok(protocol.AgentListResponse{Agents: infos})
	case protocol.MsgAgentAbort:
		p, err := decodePayload[protocol.AgentAbortRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		if err := s.Abort(p.AgentID, p.Force); err != nil {
			return fail(err)
		}
		return ok(nil)
	case protocol.MsgAgentDelete:
		p, err := decodePayload[protocol.AgentDeleteRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		if err := s.Delete(ctx, p.AgentID); err != nil {
			return fail(err)
		}
		return ok(nil)
	case protocol.MsgAgentSendMessage:
		p, err := decodePayload[protocol.AgentSendMessageRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		if err := s.SendMessage(ctx, p.AgentID, p.Message); err != nil {
			return fail(err)
		}
		return ok(nil)
	case protocol.MsgAgentClaim:
		p, err := decodePayload[protocol.AgentClaimRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		if err := s.Claim(p.AgentID, p.IssueID); err != nil {
			return fail(err)
		}
		return ok(nil)
	case protocol.MsgAgentDescribe:
		p, err := decodePayload[protocol.AgentDescribeRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		if err := s.Describe(p.AgentID, p.Description); err != nil {
			return fail(err)
		}
		return ok(nil)
	case protocol.MsgAgentChatHistory:
		p, err := decodePayload[protocol.AgentChatHistoryRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		msgs, err := s.ChatHistory(p.AgentID, p.Limit)
		if err != nil {
			return fail(err)
		}
		return ok(protocol.AgentChatHistoryResponse{Messages: msgs})
	case protocol.MsgAgentDone:
		p, err := decodePayload[protocol.AgentDoneRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		if err := s.Done(ctx, p.AgentID); err != nil {
			return fail(err)
		}
		return ok(nil)
	case protocol.MsgAgentIdle:
		p, err := decodePayload[protocol.AgentIdleRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		rec, found := s.Agents.Get(p.AgentID)
		if !found {
			return fail(murmurerr.NotFound(fmt.Sprintf("agent not found: %s", p.AgentID)))
		}
		s.markIdle(p.AgentID, rec.Project)
		return ok(nil)
	case protocol.MsgAgentSyncComments:
		p, err := decodePayload[protocol.AgentSyncCommentsRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		if err := s.SyncComments(ctx, p.AgentID, p.IssueID, p.Comments); err != nil {
			return fail(err)
		}
		return ok(nil)

	// --- Planners ---
	case protocol.MsgPlanStart:
		p, err := decodePayload[protocol.PlanStartRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		resp, err := s.PlanStart(ctx, p.Project, p.Prompt)
		if err != nil {
			return fail(err)
		}
		return ok(resp)
	case protocol.MsgPlanStop:
		p, err := decodePayload[protocol.PlanStopRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		if err := s.PlanStop(p.ID); err != nil {
			return fail(err)
		}
		return ok(nil)
	case protocol.MsgPlanList:
		return ok(protocol.PlanListResponse{Plans: s.ListPlans()})
	case protocol.MsgPlanSendMessage:
		p, err := decodePayload[protocol.PlanSendMessageRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		if err := s.PlanSendMessage(ctx, p.ID, p.Message); err != nil {
			return fail(err)
		}
		return ok(nil)
	case protocol.MsgPlanChatHistory:
		p, err := decodePayload[protocol.PlanChatHistoryRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		msgs, err := s.PlanChatHistory(p.ID, p.Limit)
		if err != nil {
			return fail(err)
		}
		return ok(protocol.AgentChatHistoryResponse{Messages: msgs})
	case protocol.MsgPlanShow:
		p, err := decodePayload[protocol.PlanShowRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		resp, err := s.PlanShow(p.ID)
		if err != nil {
			return fail(err)
		}
		return ok(resp)

	// --- Managers ---
	case protocol.MsgManagerStart:
		p, err := decodePayload[protocol.ManagerStartRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		rec, err := s.StartManager(ctx, p.Project)
		if err != nil {
			return fail(err)
		}
		return ok(rec.Info())
	case protocol.MsgManagerStop:
		p, err := decodePayload[protocol.ManagerStopRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		if err := s.StopManager(p.Project); err != nil {
			return fail(err)
		}
		return ok(nil)
	case protocol.MsgManagerStatus:
		p, err := decodePayload[protocol.ManagerStatusRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		return ok(s.ManagerStatus(p.Project))
	case protocol.MsgManagerSendMessage:
		p, err := decodePayload[protocol.ManagerSendMessageRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		if err := s.ManagerSendMessage(ctx, p.Project, p.Message); err != nil {
			return fail(err)
		}
		return ok(nil)
	case protocol.MsgManagerChatHistory:
		p, err := decodePayload[protocol.ManagerChatHistoryRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		msgs, err := s.ManagerChatHistory(p.Project, p.Limit)
		if err != nil {
			return fail(err)
		}
		return ok(protocol.AgentChatHistoryResponse{Messages: msgs})
	case protocol.MsgManagerClearHistory:
		p, err := decodePayload[protocol.ManagerClearHistoryRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		if err := s.ManagerClearHistory(p.Project); err != nil {
			return fail(err)
		}
		return ok(nil)

	// --- Issues ---
	case protocol.MsgIssueList:
		p, err := decodePayload[protocol.IssueListRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		issues, err := s.IssueList(ctx, p.Project)
		if err != nil {
			return fail(err)
		}
		return ok(protocol.IssueListResponse{Issues: issues})
	case protocol.MsgIssueGet:
		p, err := decodePayload[protocol.IssueGetRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		issue, err := s.IssueGet(ctx, p.Project, p.ID)
		if err != nil {
			return fail(err)
		}
		return ok(protocol.IssueGetResponse{Issue: issue})
	case protocol.MsgIssueReady:
		p, err := decodePayload[protocol.IssueReadyRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		issues, err := s.IssueReady(ctx, p.Project)
		if err != nil {
			return fail(err)
		}
		return ok(protocol.IssueReadyResponse{Issues: issues})
	case protocol.MsgIssueCreate:
		p, err := decodePayload[protocol.IssueCreateRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		id, err := s.IssueCreate(ctx, p)
		if err != nil {
			return fail(err)
		}
		return ok(protocol.IssueCreateResponse{ID: id})
	case protocol.MsgIssueUpdate:
		p, err := decodePayload[protocol.IssueUpdateRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		issue, err := s.IssueUpdate(ctx, p)
		if err != nil {
			return fail(err)
		}
		return ok(protocol.IssueUpdateResponse{Issue: issue})
	case protocol.MsgIssueClose:
		p, err := decodePayload[protocol.IssueCloseRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		if err := s.IssueClose(ctx, p.Project, p.ID); err != nil {
			return fail(err)
		}
		return ok(nil)
	case protocol.MsgIssueComment:
		p, err := decodePayload[protocol.IssueCommentRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		if err := s.IssueComment(ctx, p.Project, p.ID, p.Body); err != nil {
			return fail(err)
		}
		return ok(nil)
	case protocol.MsgIssuePlan:
		p, err := decodePayload[protocol.IssuePlanRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		if err := s.IssuePlan(ctx, p.Project, p.ID, p.Plan); err != nil {
			return fail(err)
		}
		return ok(nil)
	case protocol.MsgIssueCommit:
		p, err := decodePayload[protocol.IssueCommitRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		changed, err := s.IssueCommit(ctx, p.Project)
		if err != nil {
			return fail(err)
		}
		return ok(struct {
			Changed bool `json:"changed"`
		}{changed})
	case protocol.MsgIssueListComments:
		p, err := decodePayload[protocol.IssueListCommentsRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		comments, err := s.IssueListComments(ctx, p.Project, p.ID)
		if err != nil {
			return fail(err)
		}
		return ok(protocol.IssueListCommentsResponse{Comments: comments})

	// --- Claims / commits / stats ---
	case protocol.MsgClaimList:
		p, err := decodePayload[protocol.ClaimListRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		return ok(protocol.ClaimListResponse{Claims: s.ListClaims(p.Project)})
	case protocol.MsgCommitList:
		p, err := decodePayload[protocol.CommitListRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		return ok(protocol.CommitListResponse{Commits: s.ListCommits(p.Project, p.Limit)})
	case protocol.MsgStats:
		p, err := decodePayload[protocol.StatsRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		return ok(s.Stats(p.Project))

	// --- Permission / question gate ---
	case protocol.MsgPermissionRequest:
		p, err := decodePayload[protocol.PermissionRequestPayload](req.Payload)
		if err != nil {
			return fail(err)
		}
		resp, err := s.RequestPermission(ctx, p)
		if err != nil {
			return fail(err)
		}
		return ok(resp)
	case protocol.MsgPermissionRespond:
		p, err := decodePayload[protocol.PermissionRespondPayload](req.Payload)
		if err != nil {
			return fail(err)
		}
		if err := s.RespondPermission(protocol.PermissionResponse(p)); err != nil {
			return fail(err)
		}
		return ok(nil)
	case protocol.MsgPermissionList:
		p, err := decodePayload[protocol.PermissionListRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		return ok(protocol.PermissionListResponse{Requests: s.ListPermissions(p.Project)})
	case protocol.MsgQuestionRequest:
		p, err := decodePayload[protocol.UserQuestionRequestPayload](req.Payload)
		if err != nil {
			return fail(err)
		}
		answers, err := s.RequestQuestion(ctx, p)
		if err != nil {
			return fail(err)
		}
		return ok(protocol.UserQuestionResponse{Answers: answers})
	case protocol.MsgQuestionRespond:
		p, err := decodePayload[protocol.UserQuestionRespondPayload](req.Payload)
		if err != nil {
			return fail(err)
		}
		if err := s.RespondQuestion(protocol.UserQuestionResponse(p)); err != nil {
			return fail(err)
		}
		return ok(nil)
	case protocol.MsgQuestionList:
		p, err := decodePayload[protocol.UserQuestionListRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		return ok(protocol.UserQuestionListResponse{Questions: s.ListQuestions(p.Project)})

	// --- Orchestration ---
	case protocol.MsgOrchestrationStart:
		p, err := decodePayload[protocol.OrchestrationStartRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		if err := s.StartOrchestration(p.Project); err != nil {
			return fail(err)
		}
		return ok(nil)
	case protocol.MsgOrchestrationStop:
		p, err := decodePayload[protocol.OrchestrationStopRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		if err := s.StopOrchestration(p.Project, p.AbortAgents); err != nil {
			return fail(err)
		}
		return ok(nil)
	case protocol.MsgOrchestrationStatus:
		p, err := decodePayload[protocol.OrchestrationStatusRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		resp, err := s.OrchestrationStatus(p.Project)
		if err != nil {
			return fail(err)
		}
		return ok(resp)

	// --- Maintenance ---
	case protocol.MsgBranchCleanup:
		p, err := decodePayload[protocol.BranchCleanupRequest](req.Payload)
		if err != nil {
			return fail(err)
		}
		deleted, err := s.CleanupBranches(ctx, p.Project)
		if err != nil {
			return fail(err)
		}
		return ok(protocol.BranchCleanupResponse{Deleted: deleted})

	default:
		return protocol.Fail(req.Type, req.ID, fmt.Sprintf("unknown request type: %s", req.Type))
	}
}
