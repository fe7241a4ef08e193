// Command pmlgatewayd is the gateway's composition root: it builds a
// core.Runtime and wires every package's constructor into the running
// rpc.Server before starting it.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/pml-run/pml/capability"
	"github.com/pml-run/pml/core"
	"github.com/pml-run/pml/discovery"
	"github.com/pml-run/pml/embedding"
	"github.com/pml-run/pml/executor"
	"github.com/pml-run/pml/feedback"
	"github.com/pml-run/pml/hypergraph"
	"github.com/pml-run/pml/ratelimit"
	"github.com/pml-run/pml/rpc"
	"github.com/pml-run/pml/schemacache"
	"github.com/pml-run/pml/scorer"
	"github.com/pml-run/pml/session"
	"github.com/pml-run/pml/telemetry"
	"github.com/pml-run/pml/threshold"
)

func main() {
	cfg, err := core.NewConfig(core.WithYAMLFile(envOr("PML_CONFIG_FILE", "config.yaml")))
	if err != nil {
		log.Fatalf("pmlgatewayd: invalid configuration: %v", err)
	}

	logger := core.NewJSONLogger()

	var tel core.Telemetry = core.NoOpTelemetry{}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		provider, err := telemetry.EnableTelemetry("pml-gateway", endpoint)
		if err != nil {
			logger.Warn("telemetry disabled", map[string]interface{}{"error": err.Error()})
		} else {
			tel = provider
			if shutdownable, ok := provider.(interface{ Shutdown(context.Context) error }); ok {
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = shutdownable.Shutdown(ctx)
				}()
			}
		}
	}

	rt := core.NewRuntime(cfg, logger, core.RealClock{}, tel)

	var redisClient *redis.Client
	if cfg.Store.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Store.RedisAddr, DB: cfg.Store.RedisDB})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis not reachable, falling back to in-memory stores", map[string]interface{}{"addr": cfg.Store.RedisAddr, "error": err.Error()})
			redisClient = nil
		}
	}

	capStore := buildCapabilityStore(rt, redisClient)
	thresholdStore := buildThresholdStore(rt, redisClient)
	checkpointStore := buildCheckpointStore(rt, redisClient)

	graph := hypergraph.NewGraph(hypergraph.WithLogger(rt.Component("hypergraph")))
	scorerCfg := scorer.Config{NumHeads: cfg.Scorer.NumHeads, HiddenDim: cfg.Scorer.HiddenDim, EmbeddingDim: cfg.Scorer.EmbeddingDim}
	shgat := scorer.NewScorer(scorerCfg, graph, capStore)

	facade := embedding.NewFacade(buildEncoder(cfg.Scorer.EmbeddingDim), embedding.WithLogger(rt.Component("embedding")), embedding.WithTelemetry(tel))
	disc := discovery.NewService(facade, shgat, graph, capStore)

	thresholds := threshold.NewManager(thresholdStore, threshold.WithLogger(rt.Component("threshold")), threshold.WithClock(rt.Clock))

	pool := session.NewPool(
		session.WithMaxConnections(cfg.SessionPool.MaxConnections),
		session.WithIdleTimeout(cfg.SessionPool.IdleTimeout),
		session.WithConnectionTimeout(cfg.SessionPool.ConnectTimeout),
		session.WithLogger(rt.Component("session")),
		session.WithClock(rt.Clock),
	)
	factory := session.NewHTTPClientFactory(nil, resolveBackendEndpoint)
	runner := session.NewToolRunner(pool, factory, 3)
	registry := session.NewRegistry(session.WithRegistryClock(rt.Clock))

	exec := executor.NewExecutor(
		runner,
		executor.WithCheckpointStore(checkpointStore),
		executor.WithLogger(rt.Component("executor")),
		executor.WithClock(rt.Clock),
		executor.WithDefaultTaskTimeoutMs(cfg.Executor.TaskTimeout.Milliseconds()),
	)

	sink := feedback.NewSink(graph,
		feedback.WithCapabilityStore(capStore),
		feedback.WithThresholdManager(thresholds),
		feedback.WithTrainer(shgat),
		feedback.WithLogger(rt.Component("feedback")),
	)

	schemas := schemacache.NewCache(schemacache.WithMaxSize(cfg.SchemaCache.MaxSize), schemacache.WithLogger(rt.Component("schemacache")))

	dispatcher := rpc.NewDispatcher(rt, disc, thresholds, exec, sink)

	limiter := ratelimit.NewLimiter(
		ratelimit.WithRate(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		ratelimit.WithClock(rt.Clock),
	)

	server := &rpc.Server{
		Dispatcher: dispatcher,
		Graph:      graph,
		Store:      capStore,
		Sessions:   registry,
		Limiter:    limiter,
		Schemas:    schemas,
	}

	addr := envOr("PML_LISTEN_ADDR", ":8080")
	httpServer := &http.Server{Addr: addr, Handler: server.Mux()}

	go func() {
		logger.Info("pmlgatewayd listening", map[string]interface{}{"addr": addr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("pmlgatewayd: %v", err)
		}
	}()

	waitForShutdown(httpServer, logger)
}

func waitForShutdown(srv *http.Server, logger core.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("pmlgatewayd shutting down", nil)
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", map[string]interface{}{"error": err.Error()})
	}
}

func buildCapabilityStore(rt *core.Runtime, client *redis.Client) capability.Store {
	if client == nil {
		return capability.NewMemoryStore(rt.Clock)
	}
	return capability.NewRedisStore(client,
		capability.WithStoreKeyPrefix(rt.Config.Store.KeyPrefix+"capability:"),
		capability.WithStoreLogger(rt.Component("capability")),
		capability.WithStoreClock(rt.Clock),
	)
}

func buildThresholdStore(rt *core.Runtime, client *redis.Client) threshold.Store {
	if client == nil {
		return threshold.NewMemoryStore()
	}
	return threshold.NewRedisStore(context.Background(), client,
		threshold.WithRedisStoreKeyPrefix(rt.Config.Store.KeyPrefix+"threshold:"),
	)
}

func buildCheckpointStore(rt *core.Runtime, client *redis.Client) executor.CheckpointStore {
	if client == nil {
		return executor.NewMemoryCheckpointStore()
	}
	return executor.NewRedisCheckpointStore(context.Background(), client,
		executor.WithRedisCheckpointKeyPrefix(rt.Config.Store.KeyPrefix+"checkpoint:"),
	)
}

// resolveBackendEndpoint maps a tool's server id (its FQDN's
// org.project.namespace prefix) to the base URL of the MCP server hosting
// it. A real deployment resolves this from a service registry or static
// routing table; PML_BACKEND_<server_id> env vars (dots replaced with
// underscores) are the zero-config fallback for local runs.
func resolveBackendEndpoint(serverID string) (string, error) {
	key := "PML_BACKEND_" + envSafe(serverID)
	if v := os.Getenv(key); v != "" {
		return v, nil
	}
	return "", core.NewError("resolveBackendEndpoint", core.KindNotFound, errUnresolvedBackend(serverID))
}

func envSafe(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '.' || s[i] == '-' {
			out[i] = '_'
		} else {
			out[i] = s[i]
		}
	}
	return string(out)
}

type errUnresolvedBackend string

func (e errUnresolvedBackend) Error() string { return "no backend endpoint configured for " + string(e) }

// buildEncoder returns the text encoder backing the embedding facade. No
// specific embedding model is prescribed; PML_EMBEDDING_ENDPOINT points at
// an OpenAI-compatible /v1/embeddings endpoint, and a deterministic local
// hash encoder is used otherwise so the gateway still starts without one
// configured (discovery degrades to exact-match-quality ranking only).
func buildEncoder(dim int) embedding.Encoder {
	endpoint := os.Getenv("PML_EMBEDDING_ENDPOINT")
	if endpoint == "" {
		return embedding.EncoderFunc(func(_ context.Context, text string) ([]float32, error) {
			return hashEncode(text, dim), nil
		})
	}
	client := &http.Client{Timeout: 10 * time.Second}
	return embedding.EncoderFunc(func(ctx context.Context, text string) ([]float32, error) {
		return httpEncode(ctx, client, endpoint, text)
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
