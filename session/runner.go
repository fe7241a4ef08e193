package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pml-run/pml/core"
	"github.com/pml-run/pml/executor"
)

// HTTPClient is a pooled Client backed by net/http; Close is a no-op because
// connection reuse is already handled by the transport's own idle pool, but
// the type still satisfies Client so it can flow through Pool.Acquire.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

func (c *HTTPClient) Close() error { return nil }

type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type jsonRPCResponse struct {
	Result interface{} `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CallTool issues a tools/call JSON-RPC request to this client's backend
// MCP server, the same envelope the gateway itself speaks to its callers.
func (c *HTTPClient) CallTool(ctx context.Context, toolID string, args map[string]core.Value) (core.Value, error) {
	body, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0", ID: 1, Method: "tools/call",
		Params: map[string]interface{}{"name": toolID, "arguments": args},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mcp", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, fmt.Errorf("session: malformed backend response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("session: backend tool error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

// EndpointResolver maps a tool's server id (the FQDN's org.project.namespace
// prefix) to the base URL of the MCP server hosting it. Resolving that
// mapping — service discovery for backend addresses, as opposed to semantic
// tool discovery — is deployment-specific and is supplied by the composition
// root rather than derived here.
type EndpointResolver func(serverID string) (string, error)

// NewHTTPClientFactory builds a Factory that dials serverID by resolving it
// to a base URL and wrapping a shared *http.Client around it.
func NewHTTPClientFactory(httpClient *http.Client, resolve EndpointResolver) Factory {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultConnectionTimeout}
	}
	return func(ctx context.Context, serverID string) (Client, error) {
		base, err := resolve(serverID)
		if err != nil {
			return nil, err
		}
		return &HTTPClient{baseURL: base, http: httpClient}, nil
	}
}

// ServerIDForTool derives the pool key for a tool's FQDN: everything up to
// (but excluding) the action and hash components, so every action hosted by
// the same MCP server shares one pooled connection.
func ServerIDForTool(toolID string) string {
	parts := strings.Split(toolID, ".")
	if len(parts) < 3 {
		return toolID
	}
	return strings.Join(parts[:3], ".")
}

// ToolRunner implements executor.Runner by acquiring a pooled backend
// connection per task and forwarding the call as a tools/call JSON-RPC
// request, releasing the connection back to the pool when done.
type ToolRunner struct {
	pool     *Pool
	factory  Factory
	maxTries uint
}

// NewToolRunner builds a ToolRunner over pool, dialing new connections via
// factory and retrying transient dial failures up to maxTries times.
func NewToolRunner(pool *Pool, factory Factory, maxTries uint) *ToolRunner {
	if maxTries == 0 {
		maxTries = 3
	}
	return &ToolRunner{pool: pool, factory: factory, maxTries: maxTries}
}

func (r *ToolRunner) Run(ctx context.Context, task executor.Task, resolvedArgs map[string]core.Value) (core.Value, error) {
	serverID := ServerIDForTool(task.ToolID)
	client, err := r.pool.AcquireWithBackoff(ctx, serverID, r.factory, r.maxTries)
	if err != nil {
		return nil, err
	}
	defer r.pool.Release(serverID)

	hc, ok := client.(*HTTPClient)
	if !ok {
		return nil, core.NewError("session.ToolRunner.Run", core.KindInternal, fmt.Errorf("pooled client for %s is not an HTTPClient", serverID))
	}
	return hc.CallTool(ctx, task.ToolID, resolvedArgs)
}
