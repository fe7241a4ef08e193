package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pml-run/pml/core"
	"github.com/pml-run/pml/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerIDForToolGroupsActionsUnderOneServer(t *testing.T) {
	assert.Equal(t, "acme.weather.lookup", ServerIDForTool("acme.weather.lookup.get_forecast.ab12"))
	assert.Equal(t, "bare", ServerIDForTool("bare"))
}

func TestToolRunnerRunForwardsToolCallAndReturnsResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tools/call", req.Method)
		_ = json.NewEncoder(w).Encode(jsonRPCResponse{Result: "ok"})
	}))
	defer srv.Close()

	pool := NewPool()
	defer pool.Close()

	factory := NewHTTPClientFactory(nil, func(serverID string) (string, error) { return srv.URL, nil })
	runner := NewToolRunner(pool, factory, 1)

	out, err := runner.Run(context.Background(), executor.Task{ID: "t1", ToolID: "acme.weather.lookup.get_forecast.ab12"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestToolRunnerRunPropagatesBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(jsonRPCResponse{Error: &struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}{Code: -32602, Message: "bad params"}})
	}))
	defer srv.Close()

	pool := NewPool()
	defer pool.Close()

	factory := NewHTTPClientFactory(nil, func(serverID string) (string, error) { return srv.URL, nil })
	runner := NewToolRunner(pool, factory, 1)

	_, err := runner.Run(context.Background(), executor.Task{ID: "t1", ToolID: "acme.weather.lookup.get_forecast.ab12"}, map[string]core.Value{"city": "nyc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad params")
}
