package engine

import "time"

// Config collects the tuning knobs for a deployment: pool sizes, the
// distributed-lock timeout, and the outward-facing URLs used in
// notification payloads (§2, §5, §9).
type Config struct {
	NumGraphWorkers      int
	NumNodeWorkers       int
	ExecutionManagerPort int
	FrontendBaseURL      string
	PlatformBaseURL      string
	LockTimeout          time.Duration
	ScratchDir           string
	Metrics              *PrometheusMetrics
}

// Option configures a Config in functional-options style, mirroring
// the teacher's engine configuration pattern.
type Option func(*Config)

// DefaultConfig returns the baseline Config before any Option is
// applied: one graph worker, four node workers per graph, the
// default 60s lock timeout.
func DefaultConfig() Config {
	return Config{
		NumGraphWorkers: 1,
		NumNodeWorkers:  4,
		LockTimeout:     60 * time.Second,
	}
}

// Apply folds opts onto a fresh DefaultConfig.
func Apply(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithNumGraphWorkers sets the size of the graph-worker pool: the
// number of GraphExecutions that may run concurrently (§5).
func WithNumGraphWorkers(n int) Option {
	return func(c *Config) { c.NumGraphWorkers = n }
}

// WithNumNodeWorkers sets the size of the node-worker pool owned by
// each Graph Scheduler (§5).
func WithNumNodeWorkers(n int) Option {
	return func(c *Config) { c.NumNodeWorkers = n }
}

// WithExecutionManagerPort sets the TCP port the Execution Manager's
// add_execution/cancel_execution RPC surface listens on (§6).
func WithExecutionManagerPort(port int) Option {
	return func(c *Config) { c.ExecutionManagerPort = port }
}

// WithFrontendBaseURL sets the preferred base URL of the billing link
// in LOW_BALANCE notifications (§4.4).
func WithFrontendBaseURL(url string) Option {
	return func(c *Config) { c.FrontendBaseURL = url }
}

// WithPlatformBaseURL sets the billing link base used in LOW_BALANCE
// notifications when no frontend base URL is configured (§4.4).
func WithPlatformBaseURL(url string) Option {
	return func(c *Config) { c.PlatformBaseURL = url }
}

// WithLockTimeout records d as Config.LockTimeout. The resolver and the
// credential store do not read this field: both acquire their locks
// with lock.DefaultTimeout (60 seconds).
func WithLockTimeout(d time.Duration) Option {
	return func(c *Config) { c.LockTimeout = d }
}

// WithScratchDir sets the per-run scratch directory root cleaned up
// by the scheduler on every exit path (§3, §4.3).
func WithScratchDir(dir string) Option {
	return func(c *Config) { c.ScratchDir = dir }
}

// WithMetrics attaches a PrometheusMetrics collector so scheduler and
// executor activity is exported for scraping.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(c *Config) { c.Metrics = m }
}
