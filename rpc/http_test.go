package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pml-run/pml/capability"
	"github.com/pml-run/pml/core"
	"github.com/pml-run/pml/hypergraph"
	"github.com/pml-run/pml/ratelimit"
	"github.com/pml-run/pml/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	d := newTestDispatcher(t, echoRunner())
	graph := hypergraph.NewGraph()
	graph.EnsureNode("tool.a", hypergraph.NodeTool)
	store := capability.NewMemoryStore(core.RealClock{})
	return &Server{
		Dispatcher: d,
		Graph:      graph,
		Store:      store,
		Sessions:   session.NewRegistry(),
	}
}

func TestHandleHealthReturnsOK(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandleMCPCallInitializeOverHTTP(t *testing.T) {
	s := newTestServer(t)
	payload, err := json.Marshal(Request{JSONRPC: "2.0", Method: "initialize"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Error)
}

func TestHandleMCPCallRejectsMalformedBody(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeParseError, resp.Error.Code)
}

func TestHandleEventStreamReturns404ForUnknownWorkflow(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/events/stream?workflow_id=nope", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlePMLRegisterRequiresIdentityHeader(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/pml/register", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlePMLRegisterThenHeartbeatSucceedsForOwner(t *testing.T) {
	s := newTestServer(t)

	regReq := httptest.NewRequest(http.MethodPost, "/pml/register", nil)
	regReq.Header.Set(identityHeader, "agent-1")
	regRec := httptest.NewRecorder()
	s.Mux().ServeHTTP(regRec, regReq)
	require.Equal(t, http.StatusOK, regRec.Code)

	var sess session.PackageSession
	require.NoError(t, json.Unmarshal(regRec.Body.Bytes(), &sess))
	require.NotEmpty(t, sess.ID)

	hbBody, err := json.Marshal(sessionRequest{SessionID: sess.ID})
	require.NoError(t, err)
	hbReq := httptest.NewRequest(http.MethodPost, "/pml/heartbeat", bytes.NewReader(hbBody))
	hbReq.Header.Set(identityHeader, "agent-1")
	hbRec := httptest.NewRecorder()
	s.Mux().ServeHTTP(hbRec, hbReq)
	assert.Equal(t, http.StatusOK, hbRec.Code)
}

func TestHandlePMLHeartbeatForbiddenForWrongIdentity(t *testing.T) {
	s := newTestServer(t)
	sess := s.Sessions.Register("agent-1")

	hbBody, err := json.Marshal(sessionRequest{SessionID: sess.ID})
	require.NoError(t, err)
	hbReq := httptest.NewRequest(http.MethodPost, "/pml/heartbeat", bytes.NewReader(hbBody))
	hbReq.Header.Set(identityHeader, "agent-2")
	hbRec := httptest.NewRecorder()
	s.Mux().ServeHTTP(hbRec, hbReq)
	assert.Equal(t, http.StatusForbidden, hbRec.Code)
}

func TestHandleAPIHypergraphReportsCounts(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/graph/hypergraph", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body["node_count"])
}

func TestHandleAPIGraphRelatedRequiresToolID(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/graph/related", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAPICapabilitiesListsStoredCapabilities(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/capabilities", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterRejectsBeyondBurst(t *testing.T) {
	s := newTestServer(t)
	s.Limiter = ratelimit.NewLimiter(ratelimit.WithRate(1, 1))

	payload, err := json.Marshal(Request{JSONRPC: "2.0", Method: "initialize"})
	require.NoError(t, err)

	newReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(payload))
		req.RemoteAddr = "10.0.0.1:1234"
		return req
	}

	first := httptest.NewRecorder()
	s.Mux().ServeHTTP(first, newReq())
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	s.Mux().ServeHTTP(second, newReq())
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}
