// Package protocol defines the wire types exchanged over the daemon's Unix
// socket: Request/Response/Event envelopes and the typed payload for every
// RPC in the catalog. Field names and JSON tags are transcribed from the
// original implementation's wire format so existing clients need no
// translation layer.
package protocol

import "encoding/json"

// ProtocolVersion is the wire protocol version reported by ping.
const ProtocolVersion = "0.1"

// Request/response/event type strings.
const (
	MsgPing     = "ping"
	MsgShutdown = "shutdown"
	MsgAttach   = "attach"
	MsgDetach   = "detach"

	MsgProjectAdd         = "project.add"
	MsgProjectRemove      = "project.remove"
	MsgProjectList        = "project.list"
	MsgProjectStatus      = "project.status"
	MsgProjectConfigShow  = "project.config.show"
	MsgProjectConfigGet   = "project.config.get"
	MsgProjectConfigSet   = "project.config.set"

	MsgAgentCreate       = "agent.create"
	MsgAgentList         = "agent.list"
	MsgAgentAbort        = "agent.abort"
	MsgAgentDelete       = "agent.delete"
	MsgAgentSendMessage  = "agent.send_message"
	MsgAgentClaim        = "agent.claim"
	MsgAgentDescribe     = "agent.describe"
	MsgAgentChatHistory  = "agent.chat_history"
	MsgAgentDone         = "agent.done"
	MsgAgentIdle         = "agent.idle"
	MsgAgentSyncComments = "agent.sync_comments"

	MsgPlanStart        = "plan.start"
	MsgPlanStop         = "plan.stop"
	MsgPlanList         = "plan.list"
	MsgPlanSendMessage  = "plan.send_message"
	MsgPlanChatHistory  = "plan.chat_history"
	MsgPlanShow         = "plan.show"

	MsgManagerStart        = "manager.start"
	MsgManagerStop         = "manager.stop"
	MsgManagerStatus       = "manager.status"
	MsgManagerSendMessage  = "manager.send_message"
	MsgManagerChatHistory  = "manager.chat_history"
	MsgManagerClearHistory = "manager.clear_history"

	MsgIssueList         = "issue.list"
	MsgIssueGet          = "issue.get"
	MsgIssueReady        = "issue.ready"
	MsgIssueCreate       = "issue.create"
	MsgIssueUpdate       = "issue.update"
	MsgIssueClose        = "issue.close"
	MsgIssueComment      = "issue.comment"
	MsgIssuePlan         = "issue.plan"
	MsgIssueCommit       = "issue.commit"
	MsgIssueListComments = "issue.list_comments"

	MsgClaimList  = "claim.list"
	MsgCommitList = "commit.list"
	MsgStats      = "stats"

	MsgPermissionRequest = "permission.request"
	MsgPermissionRespond = "permission.respond"
	MsgPermissionList    = "permission.list"
	MsgQuestionRequest   = "question.request"
	MsgQuestionRespond   = "question.respond"
	MsgQuestionList      = "question.list"

	MsgOrchestrationStart  = "orchestration.start"
	MsgOrchestrationStop   = "orchestration.stop"
	MsgOrchestrationStatus = "orchestration.status"

	MsgBranchCleanup = "branch.cleanup"

	EvtHeartbeat               = "heartbeat"
	EvtAgentChat               = "agent.chat"
	EvtAgentCreated            = "agent.created"
	EvtAgentDeleted            = "agent.deleted"
	EvtAgentIdle               = "agent.idle"
	EvtPermissionRequested     = "permission.requested"
	EvtQuestionRequested       = "question.requested"
	EvtOrchestrationTickReqed  = "orchestration.tick_requested"
)

// Request is a client->daemon message.
type Request struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is a daemon->client reply, echoing the request id.
type Response struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// Event is a daemon->client message sent after attach.
type Event struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Payload any    `json:"payload"`
}

// OK builds a successful Response.
func OK(typ, id string, payload any) Response {
	return Response{Type: typ, ID: id, Success: true, Payload: payload}
}

// Fail builds a failed Response.
func Fail(typ, id, errMsg string) Response {
	return Response{Type: typ, ID: id, Success: false, Error: errMsg}
}

// --- Control ---

type PingResponse struct {
	Version     string `json:"version"`
	Protocol    string `json:"protocol"`
	Pid         int    `json:"pid"`
	StartedAtMs int64  `json:"started_at_ms"`
	UptimeMs    int64  `json:"uptime_ms"`
}

type AttachRequest struct {
	Projects []string `json:"projects"`
}

type HeartbeatEvent struct {
	NowMs int64 `json:"now_ms"`
}

// --- Agents ---

type AgentRole string

const (
	AgentRoleCoding  AgentRole = "coding"
	AgentRolePlanner AgentRole = "planner"
	AgentRoleManager AgentRole = "manager"
)

// AgentState is the wire-visible state enum. It carries exactly the five
// values the original implementation serializes; idle-ness is tracked
// out-of-band (see AgentInfo.IdleSinceMs) rather than as a sixth value.
type AgentState string

const (
	AgentStateStarting        AgentState = "starting"
	AgentStateRunning         AgentState = "running"
	AgentStateNeedsResolution AgentState = "needs_resolution"
	AgentStateExited          AgentState = "exited"
	AgentStateAborted         AgentState = "aborted"
)

type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
	ChatRoleTool      ChatRole = "tool"
	ChatRoleSystem    ChatRole = "system"
)

type ChatMessage struct {
	Role       ChatRole `json:"role"`
	Content    string   `json:"content"`
	ToolName   string   `json:"tool_name,omitempty"`
	ToolInput  any      `json:"tool_input,omitempty"`
	ToolUseID  string   `json:"tool_use_id,omitempty"`
	ToolResult string   `json:"tool_result,omitempty"`
	IsError    bool     `json:"is_error,omitempty"`
	TsMs       int64    `json:"ts_ms"`
}

type AgentChatEvent struct {
	AgentID string      `json:"agent_id"`
	Project string      `json:"project"`
	Message ChatMessage `json:"message"`
}

type AgentInfo struct {
	ID            string     `json:"id"`
	Project       string     `json:"project"`
	Role          AgentRole  `json:"role"`
	IssueID       string     `json:"issue_id"`
	State         AgentState `json:"state"`
	CreatedAtMs   int64      `json:"created_at_ms"`
	UpdatedAtMs   int64      `json:"updated_at_ms"`
	Backend       string     `json:"backend,omitempty"`
	Description   string     `json:"description,omitempty"`
	WorktreeDir   string     `json:"worktree_dir"`
	Pid           *int       `json:"pid,omitempty"`
	ExitCode      *int       `json:"exit_code,omitempty"`
	CodexThreadID string     `json:"codex_thread_id,omitempty"`
	IdleSinceMs   *int64     `json:"idle_since_ms,omitempty"`
}

type AgentCreatedEvent struct {
	Agent AgentInfo `json:"agent"`
}

type AgentDeletedEvent struct {
	AgentID string `json:"agent_id"`
	Project string `json:"project"`
}

type AgentCreateRequest struct {
	Project string `json:"project"`
	IssueID string `json:"issue_id"`
	Backend string `json:"backend,omitempty"`
}

type AgentAbortRequest struct {
	AgentID string `json:"agent_id"`
	Force   bool   `json:"force"`
}

type AgentDeleteRequest struct {
	AgentID string `json:"agent_id"`
}

type AgentSendMessageRequest struct {
	AgentID string `json:"agent_id"`
	Message string `json:"message"`
}

type AgentClaimRequest struct {
	AgentID string `json:"agent_id"`
	IssueID string `json:"issue_id"`
}

type AgentDescribeRequest struct {
	AgentID     string `json:"agent_id"`
	Description string `json:"description"`
}

type AgentChatHistoryRequest struct {
	AgentID string `json:"agent_id"`
	Limit   int    `json:"limit,omitempty"`
}

type AgentChatHistoryResponse struct {
	Messages []ChatMessage `json:"messages"`
}

type AgentDoneRequest struct {
	AgentID string `json:"agent_id"`
	TaskID  string `json:"task_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

type AgentIdleRequest struct {
	AgentID string `json:"agent_id"`
}

type AgentSyncCommentsRequest struct {
	AgentID  string   `json:"agent_id"`
	IssueID  string   `json:"issue_id"`
	Comments []string `json:"comments"`
}

type AgentListRequest struct {
	Project string `json:"project,omitempty"`
}

type AgentListResponse struct {
	Agents []AgentInfo `json:"agents"`
}

// --- Projects ---

type ProjectAddRequest struct {
	Name       string `json:"name"`
	RemoteURL  string `json:"remote_url"`
	MaxAgents  int    `json:"max_agents,omitempty"`
	Autostart  bool   `json:"autostart,omitempty"`
	Backend    string `json:"backend,omitempty"`
}

type ProjectAddResponse struct {
	Name      string `json:"name"`
	RemoteURL string `json:"remote_url"`
	RepoDir   string `json:"repo_dir"`
	MaxAgents int    `json:"max_agents"`
}

type ProjectRemoveRequest struct {
	Name            string `json:"name"`
	DeleteWorktrees bool   `json:"delete_worktrees"`
}

type ProjectInfo struct {
	Name      string `json:"name"`
	RemoteURL string `json:"remote_url"`
	RepoDir   string `json:"repo_dir"`
	MaxAgents int    `json:"max_agents"`
	Running   bool   `json:"running"`
	Backend   string `json:"backend"`
}

type ProjectListResponse struct {
	Projects []ProjectInfo `json:"projects"`
}

type ProjectConfigShowRequest struct {
	Name string `json:"name"`
}

type ProjectConfigShowResponse struct {
	Name   string            `json:"name"`
	Config map[string]string `json:"config"`
}

type ProjectConfigGetRequest struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}

type ProjectConfigGetResponse struct {
	Value string `json:"value"`
}

type ProjectConfigSetRequest struct {
	Name  string `json:"name"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

type ProjectStatusRequest struct {
	Name string `json:"name"`
}

type ProjectStatusResponse struct {
	Name                 string `json:"name"`
	RepoDir              string `json:"repo_dir"`
	SocketPath           string `json:"socket_path"`
	RepoExists           bool   `json:"repo_exists"`
	SocketReachable      bool   `json:"socket_reachable"`
	RemoteURLConfigured  string `json:"remote_url_configured"`
	RemoteURLActual      string `json:"remote_url_actual,omitempty"`
	RemoteMatches        bool   `json:"remote_matches"`
	OrchestrationRunning bool   `json:"orchestration_running"`
}

// --- Permission / question gate ---

type PermissionBehavior string

const (
	PermissionAllow PermissionBehavior = "allow"
	PermissionDeny  PermissionBehavior = "deny"
)

type PermissionRequestPayload struct {
	AgentID   string `json:"agent_id"`
	ToolName  string `json:"tool_name"`
	ToolInput any    `json:"tool_input"`
	ToolUseID string `json:"tool_use_id,omitempty"`
}

type PermissionRequest struct {
	ID            string `json:"id"`
	AgentID       string `json:"agent_id"`
	Project       string `json:"project"`
	ToolName      string `json:"tool_name"`
	ToolInput     any    `json:"tool_input"`
	ToolUseID     string `json:"tool_use_id,omitempty"`
	RequestedAtMs int64  `json:"requested_at_ms"`
}

type PermissionResponse struct {
	ID        string             `json:"id"`
	Behavior  PermissionBehavior `json:"behavior"`
	Message   string             `json:"message,omitempty"`
	Interrupt bool               `json:"interrupt,omitempty"`
}

type PermissionRespondPayload PermissionResponse

type PermissionListRequest struct {
	Project string `json:"project,omitempty"`
}

type PermissionListResponse struct {
	Requests []PermissionRequest `json:"requests"`
}

type QuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description"`
}

type QuestionItem struct {
	Question    string           `json:"question"`
	Header      string           `json:"header"`
	MultiSelect bool             `json:"multiSelect"`
	Options     []QuestionOption `json:"options"`
}

type UserQuestionRequestPayload struct {
	AgentID   string         `json:"agent_id"`
	Questions []QuestionItem `json:"questions"`
}

type UserQuestion struct {
	ID            string         `json:"id"`
	AgentID       string         `json:"agent_id"`
	Project       string         `json:"project"`
	Questions     []QuestionItem `json:"questions"`
	RequestedAtMs int64          `json:"requested_at_ms"`
}

type UserQuestionResponse struct {
	ID      string            `json:"id"`
	Answers map[string]string `json:"answers"`
}

type UserQuestionRespondPayload UserQuestionResponse

type UserQuestionListRequest struct {
	Project string `json:"project,omitempty"`
}

type UserQuestionListResponse struct {
	Questions []UserQuestion `json:"questions"`
}

// --- Plans ---

type PlanStartRequest struct {
	Project string `json:"project,omitempty"`
	Prompt  string `json:"prompt"`
}

type PlanStartResponse struct {
	ID          string `json:"id"`
	Project     string `json:"project"`
	WorktreeDir string `json:"worktree_dir"`
	PlanPath    string `json:"plan_path"`
}

type PlanStopRequest struct {
	ID string `json:"id"`
}

type PlanListRequest struct{}

type PlanListResponse struct {
	Plans []AgentInfo `json:"plans"`
}

type PlanSendMessageRequest struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

type PlanChatHistoryRequest struct {
	ID    string `json:"id"`
	Limit int    `json:"limit,omitempty"`
}

type PlanShowRequest struct {
	ID string `json:"id"`
}

type PlanShowResponse struct {
	ID       string `json:"id"`
	Contents string `json:"contents"`
}

// --- Manager ---

type ManagerStartRequest struct {
	Project string `json:"project"`
}

type ManagerStopRequest struct {
	Project string `json:"project"`
}

type ManagerStatusRequest struct {
	Project string `json:"project"`
}

type ManagerStatusResponse struct {
	Project string     `json:"project"`
	Manager *AgentInfo `json:"manager,omitempty"`
}

type ManagerSendMessageRequest struct {
	Project string `json:"project"`
	Message string `json:"message"`
}

type ManagerChatHistoryRequest struct {
	Project string `json:"project"`
	Limit   int    `json:"limit,omitempty"`
}

type ManagerClearHistoryRequest struct {
	Project string `json:"project"`
}

// --- Issues ---

type IssueStatus string

const (
	IssueStatusOpen    IssueStatus = "open"
	IssueStatusClosed  IssueStatus = "closed"
	IssueStatusBlocked IssueStatus = "blocked"
)

type Issue struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	Description  string      `json:"description"`
	Status       IssueStatus `json:"status"`
	Priority     int         `json:"priority"`
	IssueType    string      `json:"type"`
	Dependencies []string    `json:"dependencies"`
	Labels       []string    `json:"labels"`
	Links        []string    `json:"links"`
	CreatedAtMs  int64       `json:"created_at_ms"`
}

type IssueSummary struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Status    IssueStatus `json:"status"`
	Priority  int         `json:"priority"`
	IssueType string      `json:"type"`
}

type IssueListRequest struct {
	Project string `json:"project"`
}

type IssueListResponse struct {
	Issues []IssueSummary `json:"issues"`
}

type IssueGetRequest struct {
	Project string `json:"project"`
	ID      string `json:"id"`
}

type IssueGetResponse struct {
	Issue Issue `json:"issue"`
}

type IssueReadyRequest struct {
	Project string `json:"project"`
}

type IssueReadyResponse struct {
	Issues []IssueSummary `json:"issues"`
}

type IssueCreateRequest struct {
	Project      string   `json:"project"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	IssueType    string   `json:"issue_type,omitempty"`
	Priority     int      `json:"priority,omitempty"`
	Labels       []string `json:"labels,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	Links        []string `json:"links,omitempty"`
}

type IssueCreateResponse struct {
	ID string `json:"id"`
}

type IssueUpdateRequest struct {
	Project      string    `json:"project"`
	ID           string    `json:"id"`
	Title        *string   `json:"title,omitempty"`
	Description  *string   `json:"description,omitempty"`
	Status       *string   `json:"status,omitempty"`
	Priority     *int      `json:"priority,omitempty"`
	Labels       *[]string `json:"labels,omitempty"`
	Dependencies *[]string `json:"dependencies,omitempty"`
	Links        *[]string `json:"links,omitempty"`
}

type IssueUpdateResponse struct {
	Issue Issue `json:"issue"`
}

type IssueCloseRequest struct {
	Project string `json:"project"`
	ID      string `json:"id"`
}

type IssueCommentRequest struct {
	Project string `json:"project"`
	ID      string `json:"id"`
	Body    string `json:"body"`
}

type IssueListCommentsRequest struct {
	Project string `json:"project"`
	ID      string `json:"id"`
}

type IssueListCommentsResponse struct {
	Comments []string `json:"comments"`
}

type IssuePlanRequest struct {
	Project string `json:"project"`
	ID      string `json:"id"`
	Plan    string `json:"plan"`
}

type IssueCommitRequest struct {
	Project string `json:"project"`
}

// --- Claims / commits / stats ---

type ClaimListRequest struct {
	Project string `json:"project,omitempty"`
}

type ClaimInfo struct {
	Project string `json:"project"`
	IssueID string `json:"issue_id"`
	AgentID string `json:"agent_id"`
}

type ClaimListResponse struct {
	Claims []ClaimInfo `json:"claims"`
}

type CommitListRequest struct {
	Project string `json:"project,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type CommitRecord struct {
	Project     string `json:"project"`
	Sha         string `json:"sha"`
	Branch      string `json:"branch"`
	AgentID     string `json:"agent_id"`
	IssueID     string `json:"issue_id"`
	MergedAtMs  int64  `json:"merged_at_ms"`
}

type CommitListResponse struct {
	Commits []CommitRecord `json:"commits"`
}

type StatsRequest struct {
	Project string `json:"project,omitempty"`
}

type UsageStats struct {
	OutputTokens int64  `json:"output_tokens"`
	Percent      float64 `json:"percent"`
	WindowEnd    int64  `json:"window_end"`
	TimeLeft     int64  `json:"time_left"`
	PlanLimit    int64  `json:"plan_limit"`
	Plan         string `json:"plan"`
}

type StatsResponse struct {
	CommitCount int         `json:"commit_count"`
	Usage       *UsageStats `json:"usage,omitempty"`
}

// --- Orchestration ---

type OrchestrationStartRequest struct {
	Project string `json:"project"`
}

type OrchestrationStopRequest struct {
	Project     string `json:"project"`
	AbortAgents bool   `json:"abort_agents,omitempty"`
}

type OrchestrationStatusRequest struct {
	Project string `json:"project"`
}

type OrchestrationStatusResponse struct {
	Project       string `json:"project"`
	Running       bool   `json:"running"`
	MaxAgents     int    `json:"max_agents"`
	ActiveAgents  int    `json:"active_agents"`
	ActiveClaims  int    `json:"active_claims"`
}

type OrchestrationTickRequestedEvent struct {
	Project     string `json:"project"`
	Source      string `json:"source"`
	ReceivedAtMs int64 `json:"received_at_ms"`
}

// BranchCleanupRequest implements §6.6: delete remote murmur/* branches
// already merged into the project's default branch.
type BranchCleanupRequest struct {
	Project string `json:"project"`
}

type BranchCleanupResponse struct {
	Deleted []string `json:"deleted"`
}
