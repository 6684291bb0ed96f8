package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/karan-zipline/murmur/internal/paths"
	"github.com/karan-zipline/murmur/internal/protocol"
	"github.com/karan-zipline/murmur/internal/rpcclient"
)

// hookTimeout matches §5's 5-minute hook->daemon request budget: the human
// (or LLM auto-decision) on the other end of a permission/question
// round-trip can take a while to answer.
const hookTimeout = 5 * time.Minute

var hookCmd = &cobra.Command{
	Use:    "hook <pre-tool-use|permission-request|stop>",
	Short:  "Proxy a claude CLI hook event back to the daemon over the socket",
	Hidden: true,
	Args:   cobra.ExactArgs(1),
	RunE:   runHook,
}

// toolEventPayload is the stdin envelope a claude CLI hook command receives
// for PreToolUse/PermissionRequest events.
type toolEventPayload struct {
	ToolName  string          `json:"tool_name"`
	ToolInput json.RawMessage `json:"tool_input"`
	ToolUseID string          `json:"tool_use_id"`
}

func runHook(cmd *cobra.Command, args []string) error {
	event := args[0]
	agentID := os.Getenv("MURMUR_AGENT_ID")
	if agentID == "" {
		return fmt.Errorf("MURMUR_AGENT_ID not set; hook must run inside an agent subprocess")
	}

	sock := socketOverride
	if sock == "" {
		sock = os.Getenv("MURMUR_SOCKET_PATH")
	}
	if sock == "" {
		p, err := paths.Resolve("")
		if err != nil {
			return err
		}
		sock = p.SocketPath
	}

	client, err := rpcclient.Dial(sock)
	if err != nil {
		return err
	}
	defer client.Close()

	switch event {
	case "pre-tool-use", "permission-request":
		return runPermissionHook(client, agentID, cmd.OutOrStdout(), cmd.InOrStdin())
	case "stop":
		return client.Call(protocol.MsgAgentIdle, protocol.AgentIdleRequest{AgentID: agentID}, hookTimeout, nil)
	default:
		return fmt.Errorf("unknown hook event: %s", event)
	}
}

func runPermissionHook(client *rpcclient.Client, agentID string, stdout io.Writer, stdin io.Reader) error {
	data, err := io.ReadAll(stdin)
	if err != nil {
		return fmt.Errorf("reading hook stdin: %w", err)
	}
	var in toolEventPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &in); err != nil {
			return fmt.Errorf("parsing hook stdin: %w", err)
		}
	}

	var toolInput any
	if len(in.ToolInput) > 0 {
		_ = json.Unmarshal(in.ToolInput, &toolInput)
	}

	var resp protocol.PermissionResponse
	payload := protocol.PermissionRequestPayload{
		AgentID:   agentID,
		ToolName:  in.ToolName,
		ToolInput: toolInput,
		ToolUseID: in.ToolUseID,
	}
	if err := client.Call(protocol.MsgPermissionRequest, payload, hookTimeout, &resp); err != nil {
		return err
	}

	out := map[string]any{
		"permissionDecision": string(resp.Behavior),
	}
	if resp.Message != "" {
		out["permissionDecisionReason"] = resp.Message
	}
	enc := json.NewEncoder(stdout)
	return enc.Encode(out)
}
