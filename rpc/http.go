package rpc

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pml-run/pml/capability"
	"github.com/pml-run/pml/discovery"
	"github.com/pml-run/pml/hypergraph"
	"github.com/pml-run/pml/pathfinder"
	"github.com/pml-run/pml/ratelimit"
	"github.com/pml-run/pml/schemacache"
	"github.com/pml-run/pml/session"
)

// identityHeader carries the caller's authenticated identity. No specific
// authentication mechanism is prescribed; a production deployment's auth
// middleware is expected to populate this header after verifying a token.
const identityHeader = "X-PML-Identity"

// Server is the thin net/http mux over the §6.5 endpoint table. Transport
// framing itself (TLS termination, auth middleware) is out of scope; Server
// only wires routes to the Dispatcher and the read-model accessors.
type Server struct {
	Dispatcher *Dispatcher
	Graph      *hypergraph.Graph
	Store      capability.Store
	Sessions   *session.Registry
	Limiter    *ratelimit.Limiter
	Schemas    *schemacache.Cache
}

// Mux builds the routed http.Handler for every §6.5 endpoint.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", s.handleMCP)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/events/stream", s.handleEventStream)
	mux.HandleFunc("/pml/register", s.handlePMLRegister)
	mux.HandleFunc("/pml/heartbeat", s.handlePMLHeartbeat)
	mux.HandleFunc("/pml/unregister", s.handlePMLUnregister)
	mux.HandleFunc("/api/capabilities", s.handleAPICapabilities)
	mux.HandleFunc("/api/graph/hypergraph", s.handleAPIHypergraph)
	mux.HandleFunc("/api/tools/search", s.handleAPIToolsSearch)
	mux.HandleFunc("/api/graph/path", s.handleAPIGraphPath)
	mux.HandleFunc("/api/graph/related", s.handleAPIGraphRelated)
	mux.HandleFunc("/api/schemas/stats", s.handleAPISchemaStats)
	return mux
}

func (s *Server) allow(w http.ResponseWriter, r *http.Request) bool {
	if s.Limiter == nil {
		return true
	}
	identity := r.Header.Get(identityHeader)
	if s.Limiter.Allow(ratelimit.IdentityKey(identity, r.RemoteAddr, identity == ""), r.URL.Path) {
		return true
	}
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate_limited"})
	return false
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}
	switch r.Method {
	case http.MethodPost:
		s.handleMCPCall(w, r)
	case http.MethodGet:
		s.handleEventStream(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleMCPCall(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, errorResponse(nil, CodeParseError, "parse error: "+err.Error(), nil))
		return
	}
	writeJSON(w, s.Dispatcher.Handle(r.Context(), req))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}
	workflowID := r.URL.Query().Get("workflow_id")
	s.Dispatcher.mu.Lock()
	sess, ok := s.Dispatcher.workflows[workflowID]
	s.Dispatcher.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	flusher, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	live, backlog, unsubscribe := sess.events.Subscribe()
	defer unsubscribe()

	for _, e := range backlog {
		frame, err := EncodeSSE(e)
		if err != nil {
			continue
		}
		_, _ = w.Write(frame)
	}
	if canFlush {
		flusher.Flush()
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.done:
			return
		case e, ok := <-live:
			if !ok {
				return
			}
			frame, err := EncodeSSE(e)
			if err != nil {
				continue
			}
			_, _ = w.Write(frame)
			if canFlush {
				flusher.Flush()
			}
		}
	}
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handlePMLRegister(w http.ResponseWriter, r *http.Request) {
	identity := r.Header.Get(identityHeader)
	if identity == "" || s.Sessions == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, s.Sessions.Register(identity))
}

func (s *Server) handlePMLHeartbeat(w http.ResponseWriter, r *http.Request) {
	s.handlePMLOwnershipAction(w, r, s.Sessions.Heartbeat)
}

func (s *Server) handlePMLUnregister(w http.ResponseWriter, r *http.Request) {
	s.handlePMLOwnershipAction(w, r, s.Sessions.Unregister)
}

func (s *Server) handlePMLOwnershipAction(w http.ResponseWriter, r *http.Request, action func(sessionID, identity string) error) {
	identity := r.Header.Get(identityHeader)
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || identity == "" || s.Sessions == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := action(req.SessionID, identity); err != nil {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handleAPICapabilities(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	caps, err := s.Store.ListAll(r.Context())
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, caps)
}

func (s *Server) handleAPIHypergraph(w http.ResponseWriter, r *http.Request) {
	if s.Graph == nil {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	writeJSON(w, map[string]interface{}{
		"node_count": s.Graph.NodeCount(),
		"edge_count": s.Graph.EdgeCount(),
		"density":    s.Graph.Density(),
	})
}

func (s *Server) handleAPIToolsSearch(w http.ResponseWriter, r *http.Request) {
	intent := r.URL.Query().Get("intent")
	if intent == "" || s.Dispatcher.discovery == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	res, err := s.Dispatcher.discovery.Discover(r.Context(), intent, discovery.FilterAll, 20, 0)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleAPIGraphPath(w http.ResponseWriter, r *http.Request) {
	if s.Graph == nil {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	from, to := r.URL.Query().Get("from"), r.URL.Query().Get("to")
	if from == "" || to == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, pathfinder.FindShortestHyperpath(s.Graph, from, to))
}

func (s *Server) handleAPIGraphRelated(w http.ResponseWriter, r *http.Request) {
	if s.Graph == nil {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	toolID := r.URL.Query().Get("tool_id")
	if toolID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	related := s.Graph.Neighbors(toolID)
	if len(related) > limit {
		related = related[:limit]
	}
	writeJSON(w, map[string]interface{}{"tool_id": toolID, "related": related})
}

func (s *Server) handleAPISchemaStats(w http.ResponseWriter, r *http.Request) {
	if s.Schemas == nil {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	limit := 10
	if raw := r.URL.Query().Get("top"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, map[string]interface{}{
		"stats":     s.Schemas.Stats(),
		"top_tools": s.Schemas.TopTools(limit),
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
