package core

// Runtime bundles the small set of cross-cutting dependencies every
// component needs — config, logger, clock, telemetry — so that a program
// constructs them once at startup and threads a single Runtime value through
// every constructor, instead of reaching for package-level singletons.
type Runtime struct {
	Config    *Config
	Logger    Logger
	Clock     Clock
	Telemetry Telemetry
}

// NewRuntime builds a Runtime, substituting no-op defaults for any nil
// dependency so callers only need to supply what they actually override.
func NewRuntime(cfg *Config, logger Logger, clock Clock, tel Telemetry) *Runtime {
	if cfg == nil {
		cfg, _ = NewConfig()
	}
	if logger == nil {
		logger = NoOpLogger{}
	}
	if clock == nil {
		clock = RealClock{}
	}
	if tel == nil {
		tel = NoOpTelemetry{}
	}
	return &Runtime{Config: cfg, Logger: logger, Clock: clock, Telemetry: tel}
}

// Component returns a logger scoped to name, using WithComponent when the
// underlying logger supports it.
func (r *Runtime) Component(name string) Logger {
	if cal, ok := r.Logger.(ComponentAwareLogger); ok {
		return cal.WithComponent(name)
	}
	return r.Logger
}
