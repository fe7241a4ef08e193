package rpc

// ToolSpec describes one meta-tool's stable name and a human-readable
// summary of its required/optional arguments, returned by tools/list.
type ToolSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// metaTools is the fixed set of seven meta-tools §6.2 names exactly.
var metaTools = []ToolSpec{
	{Name: "execute_dag", Description: "Route an intent or workflow through Discovery + Decision + the Controlled DAG Executor"},
	{Name: "discover", Description: "Return the ranked, merged set of matching tools/capabilities for an intent"},
	{Name: "execute_code", Description: "Run code in a sandbox with matched tools/capabilities auto-injected"},
	{Name: "continue", Description: "Resume a paused workflow"},
	{Name: "abort", Description: "Terminate a running workflow"},
	{Name: "replan", Description: "Augment a running workflow's DAG with a new requirement"},
	{Name: "approval_response", Description: "Submit a human-in-the-loop approval decision for a suspended workflow"},
}

// InitializeResult is the payload returned by the initialize method.
type InitializeResult struct {
	ProtocolVersion string                 `json:"protocol_version"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ServerInfo      map[string]string      `json:"server_info"`
}

const protocolVersion = "2024-11-05"

func initializeResult(serverName, serverVersion string) InitializeResult {
	return InitializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]interface{}{"tools": map[string]interface{}{}},
		ServerInfo:      map[string]string{"name": serverName, "version": serverVersion},
	}
}

// ToolsListResult is the payload returned by tools/list.
type ToolsListResult struct {
	Tools []ToolSpec `json:"tools"`
}
