package core

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every runtime tunable. Precedence, low to high: built-in
// defaults < environment variables < functional options passed to
// NewConfig, applied in order. WithYAMLFile is one of those options, so
// values read from a YAML file override environment variables.
type Config struct {
	Hypergraph  HypergraphConfig  `yaml:"hypergraph"`
	Scorer      ScorerConfig      `yaml:"scorer"`
	Threshold   ThresholdConfig   `yaml:"threshold"`
	Executor    ExecutorConfig    `yaml:"executor"`
	SchemaCache SchemaCacheConfig `yaml:"schema_cache"`
	SessionPool SessionPoolConfig `yaml:"session_pool"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Store       StoreConfig       `yaml:"store"`

	logger Logger `yaml:"-"`
}

type HypergraphConfig struct {
	PageRankDamping     float64 `yaml:"pagerank_damping"`
	PageRankTolerance   float64 `yaml:"pagerank_tolerance"`
	PageRankMaxIters    int     `yaml:"pagerank_max_iters"`
	DecayFloor          float64 `yaml:"decay_floor"`
}

type ScorerConfig struct {
	NumHeads     int `yaml:"num_heads"`
	HiddenDim    int `yaml:"hidden_dim"`
	EmbeddingDim int `yaml:"embedding_dim"`
}

type ThresholdConfig struct {
	WindowSize          int     `yaml:"window_size"`
	MinThreshold        float64 `yaml:"min_threshold"`
	MaxThreshold        float64 `yaml:"max_threshold"`
	DefaultExplicit     float64 `yaml:"default_explicit"`
	DefaultSuggestion   float64 `yaml:"default_suggestion"`
	LearningRate        float64 `yaml:"learning_rate"`
	AdjustEveryNRecords int     `yaml:"adjust_every_n_records"`
}

type ExecutorConfig struct {
	TaskTimeout       time.Duration `yaml:"task_timeout" env:"PML_TASK_TIMEOUT" default:"30s"`
	WorkflowTTL       time.Duration `yaml:"workflow_ttl" env:"PML_WORKFLOW_TTL" default:"1h"`
	PerLayerValidation bool         `yaml:"per_layer_validation"`
}

type SchemaCacheConfig struct {
	MaxSize int `yaml:"max_size" env:"PML_SCHEMA_CACHE_SIZE" default:"50"`
}

type SessionPoolConfig struct {
	MaxConnections   int           `yaml:"max_connections" env:"PML_POOL_MAX_CONNECTIONS" default:"50"`
	IdleTimeout      time.Duration `yaml:"idle_timeout" env:"PML_POOL_IDLE_TIMEOUT" default:"300s"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout" env:"PML_POOL_CONNECT_TIMEOUT" default:"30s"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"PML_RATE_RPS" default:"10"`
	Burst             int     `yaml:"burst" env:"PML_RATE_BURST" default:"20"`
}

type StoreConfig struct {
	RedisAddr string `yaml:"redis_addr" env:"PML_REDIS_ADDR"`
	RedisDB   int    `yaml:"redis_db" env:"PML_REDIS_DB" default:"0"`
	KeyPrefix string `yaml:"key_prefix" env:"PML_REDIS_PREFIX" default:"pml:"`
}

// Option mutates a Config during construction; applied after env vars so
// functional options always win.
type Option func(*Config)

// WithLogger attaches a logger used for configuration diagnostics (a YAML
// file that could not be read or parsed). It only affects options that run
// after it; environment variables that fail to parse are ignored silently.
func WithLogger(l Logger) Option {
	return func(c *Config) { c.logger = l }
}

// WithYAMLFile loads a YAML file, overlaying it onto the values set so far
// (defaults, environment variables and earlier options). Any error
// reading or parsing is logged (if a logger is set) and otherwise ignored —
// configuration loading degrades to defaults rather than failing startup.
func WithYAMLFile(path string) Option {
	return func(c *Config) {
		data, err := os.ReadFile(path)
		if err != nil {
			if c.logger != nil {
				c.logger.Warn("config file not read, using defaults", map[string]interface{}{"path": path, "error": err.Error()})
			}
			return
		}
		if err := yaml.Unmarshal(data, c); err != nil && c.logger != nil {
			c.logger.Warn("config file invalid, using defaults", map[string]interface{}{"path": path, "error": err.Error()})
		}
	}
}

func defaultConfig() *Config {
	return &Config{
		Hypergraph: HypergraphConfig{
			PageRankDamping:   0.85,
			PageRankTolerance: 1e-6,
			PageRankMaxIters:  100,
			DecayFloor:        0.01,
		},
		Scorer: ScorerConfig{NumHeads: 4, HiddenDim: 64, EmbeddingDim: 256},
		Threshold: ThresholdConfig{
			WindowSize:          50,
			MinThreshold:        0.40,
			MaxThreshold:        0.90,
			DefaultExplicit:     0.50,
			DefaultSuggestion:   0.70,
			LearningRate:        0.05,
			AdjustEveryNRecords: 10,
		},
		Executor:    ExecutorConfig{TaskTimeout: 30 * time.Second, WorkflowTTL: time.Hour},
		SchemaCache: SchemaCacheConfig{MaxSize: 50},
		SessionPool: SessionPoolConfig{MaxConnections: 50, IdleTimeout: 300 * time.Second, ConnectTimeout: 30 * time.Second},
		RateLimit:   RateLimitConfig{RequestsPerSecond: 10, Burst: 20},
		Store:       StoreConfig{KeyPrefix: "pml:"},
	}
}

// NewConfig builds a Config from defaults, then environment variables, then
// the supplied options (which run last and so take highest precedence).
func NewConfig(opts ...Option) (*Config, error) {
	cfg := defaultConfig()
	applyEnv(cfg)
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, NewError("NewConfig", KindInvalidParams, err)
	}
	return cfg, nil
}

func applyEnv(c *Config) {
	if v := os.Getenv("PML_TASK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Executor.TaskTimeout = d
		}
	}
	if v := os.Getenv("PML_WORKFLOW_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Executor.WorkflowTTL = d
		}
	}
	if v := os.Getenv("PML_SCHEMA_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SchemaCache.MaxSize = n
		}
	}
	if v := os.Getenv("PML_POOL_MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SessionPool.MaxConnections = n
		}
	}
	if v := os.Getenv("PML_POOL_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SessionPool.IdleTimeout = d
		}
	}
	if v := os.Getenv("PML_POOL_CONNECT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SessionPool.ConnectTimeout = d
		}
	}
	if v := os.Getenv("PML_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RateLimit.RequestsPerSecond = f
		}
	}
	if v := os.Getenv("PML_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.Burst = n
		}
	}
	if v := os.Getenv("PML_REDIS_ADDR"); v != "" {
		c.Store.RedisAddr = v
	}
	if v := os.Getenv("PML_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Store.RedisDB = n
		}
	}
	if v := os.Getenv("PML_REDIS_PREFIX"); v != "" {
		c.Store.KeyPrefix = v
	}
}

func (c *Config) validate() error {
	if c.Threshold.MinThreshold > c.Threshold.MaxThreshold {
		return fmt.Errorf("threshold.min_threshold (%v) must be <= max_threshold (%v)", c.Threshold.MinThreshold, c.Threshold.MaxThreshold)
	}
	if c.SchemaCache.MaxSize <= 0 {
		return fmt.Errorf("schema_cache.max_size must be positive")
	}
	if c.SessionPool.MaxConnections <= 0 {
		return fmt.Errorf("session_pool.max_connections must be positive")
	}
	return nil
}
