package rpc

import "context"

// SandboxConfig bounds one execute_code invocation.
type SandboxConfig struct {
	TimeoutMs        int64    `json:"timeout_ms"`
	MemoryLimitBytes int64    `json:"memory_limit"`
	AllowedReadPaths []string `json:"allowed_read_paths"`
}

// Sandbox runs arbitrary code with a set of matched tools/capabilities
// auto-injected. No specific sandboxing engine is prescribed; production
// deployments inject their own implementation (a gVisor/Firecracker runner,
// a WASM host, a subprocess jail, ...).
type Sandbox interface {
	Run(ctx context.Context, code string, injected map[string]interface{}, cfg SandboxConfig) (interface{}, error)
}

// SandboxFunc adapts a function to Sandbox.
type SandboxFunc func(ctx context.Context, code string, injected map[string]interface{}, cfg SandboxConfig) (interface{}, error)

func (f SandboxFunc) Run(ctx context.Context, code string, injected map[string]interface{}, cfg SandboxConfig) (interface{}, error) {
	return f(ctx, code, injected, cfg)
}
