// Package config loads the devmesh configuration from defaults, an optional
// YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment key ("server.port" becomes
// ADK_SERVER_PORT).
const EnvPrefix = "ADK"

// Config is the root configuration. It is built once and passed by reference
// to the components that need it.
type Config struct {
	Server        ServerConfig        `mapstructure:"server" yaml:"server"`
	Log           LogConfig           `mapstructure:"log" yaml:"log"`
	Agents        AgentsConfig        `mapstructure:"agents" yaml:"agents"`
	Execution     ExecutionConfig     `mapstructure:"execution" yaml:"execution"`
	Security      SecurityConfig      `mapstructure:"security" yaml:"security"`
	Session       SessionConfig       `mapstructure:"session" yaml:"session"`
	Artifacts     ArtifactsConfig     `mapstructure:"artifacts" yaml:"artifacts"`
	LLM           LLMConfig           `mapstructure:"llm" yaml:"llm"`
	Tools         ToolsConfig         `mapstructure:"tools" yaml:"tools"`
	Observability ObservabilityConfig `mapstructure:"observability" yaml:"observability"`
	Audit         AuditConfig         `mapstructure:"audit" yaml:"audit"`
	Memory        MemoryConfig        `mapstructure:"memory" yaml:"memory"`
}

// ServerConfig configures the HTTP and WebSocket server.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
	RateLimit       float64       `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per second per client, 0 disables
	RateBurst       int           `mapstructure:"rate_burst" yaml:"rate_burst"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// AgentsConfig configures the agent graph.
type AgentsConfig struct {
	MaxIterations       int    `mapstructure:"max_iterations" yaml:"max_iterations"`
	ParallelConcurrency int    `mapstructure:"parallel_concurrency" yaml:"parallel_concurrency"`
	FallbackResponse    string `mapstructure:"fallback_response" yaml:"fallback_response"`
	PipelineFile        string `mapstructure:"pipeline_file" yaml:"pipeline_file"`
	MaxConcurrentRuns   int    `mapstructure:"max_concurrent_runs" yaml:"max_concurrent_runs"`
}

// ExecutionConfig configures the code execution agent.
type ExecutionConfig struct {
	MaxCodeLen      int      `mapstructure:"max_code_len" yaml:"max_code_len"`
	TimeoutSeconds  int      `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	Stateful        bool     `mapstructure:"stateful" yaml:"stateful"`
	RetryAttempts   int      `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	CPU             string   `mapstructure:"cpu" yaml:"cpu"`
	Memory          string   `mapstructure:"memory" yaml:"memory"`
	Interpreter     string   `mapstructure:"interpreter" yaml:"interpreter"`
	InterpreterArgs []string `mapstructure:"interpreter_args" yaml:"interpreter_args"`
	WorkDir         string   `mapstructure:"work_dir" yaml:"work_dir"`
	MaxOutputBytes  int      `mapstructure:"max_output_bytes" yaml:"max_output_bytes"`
}

// Timeout returns the execution timeout as a duration.
func (e ExecutionConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// SecurityConfig configures the request guard.
type SecurityConfig struct {
	Enabled         bool `mapstructure:"enabled" yaml:"enabled"`
	MaxRequestChars int  `mapstructure:"max_request_chars" yaml:"max_request_chars"`
	MaxToolCodeLen  int  `mapstructure:"max_tool_code_len" yaml:"max_tool_code_len"`
	BlockPII        bool `mapstructure:"block_pii" yaml:"block_pii"`
	BlockSecrets    bool `mapstructure:"block_secrets" yaml:"block_secrets"`
}

// LogLimits caps the coordination logs. Zero keeps every entry.
type LogLimits struct {
	Delegations    int `mapstructure:"delegations" yaml:"delegations"`
	Transfers      int `mapstructure:"transfers" yaml:"transfers"`
	ToolExecutions int `mapstructure:"tool_executions" yaml:"tool_executions"`
}

// RedisConfig configures the redis session backend.
type RedisConfig struct {
	URL       string `mapstructure:"url" yaml:"url"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// SessionConfig configures session storage.
type SessionConfig struct {
	Backend      string        `mapstructure:"backend" yaml:"backend"` // memory or redis
	TimeoutHours int           `mapstructure:"timeout_hours" yaml:"timeout_hours"`
	MaxSessions  int           `mapstructure:"max_sessions" yaml:"max_sessions"`
	Redis        RedisConfig   `mapstructure:"redis" yaml:"redis"`
	LogLimits    LogLimits     `mapstructure:"log_limits" yaml:"log_limits"`
	SweepEvery   time.Duration `mapstructure:"sweep_every" yaml:"sweep_every"`
}

// Timeout returns the session idle timeout.
func (s SessionConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutHours) * time.Hour
}

// ArtifactsConfig configures artifact storage.
type ArtifactsConfig struct {
	Backend  string `mapstructure:"backend" yaml:"backend"` // memory or s3
	Bucket   string `mapstructure:"bucket" yaml:"bucket"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
	Region   string `mapstructure:"region" yaml:"region"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
}

// LLMConfig selects and configures the inference backend. An empty provider
// runs every agent in scaffold mode.
type LLMConfig struct {
	Provider    string  `mapstructure:"provider" yaml:"provider"` // "", openai, anthropic, mock
	Model       string  `mapstructure:"model" yaml:"model"`
	APIKey      string  `mapstructure:"api_key" yaml:"-"`
	BaseURL     string  `mapstructure:"base_url" yaml:"base_url"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	MaxCalls    int     `mapstructure:"max_calls" yaml:"max_calls"`
}

// ToolsConfig configures the tool registry.
type ToolsConfig struct {
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	Burst              int           `mapstructure:"burst" yaml:"burst"`
	CacheSize          int           `mapstructure:"cache_size" yaml:"cache_size"`
	CacheTTL           time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

// ObservabilityConfig toggles metrics and tracing.
type ObservabilityConfig struct {
	Metrics      bool    `mapstructure:"metrics" yaml:"metrics"`
	Tracing      bool    `mapstructure:"tracing" yaml:"tracing"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
	SampleRatio  float64 `mapstructure:"sample_ratio" yaml:"sample_ratio"`
	ServiceName  string  `mapstructure:"service_name" yaml:"service_name"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	Backend    string `mapstructure:"backend" yaml:"backend"` // memory or amqp
	AMQPURL    string `mapstructure:"amqp_url" yaml:"amqp_url"`
	Exchange   string `mapstructure:"exchange" yaml:"exchange"`
	Queue      string `mapstructure:"queue" yaml:"queue"`
	MaxEntries int    `mapstructure:"max_entries" yaml:"max_entries"`
}

// MemoryConfig configures long-term memory and its tools.
type MemoryConfig struct {
	Enabled    bool `mapstructure:"enabled" yaml:"enabled"`
	MaxEntries int  `mapstructure:"max_entries" yaml:"max_entries"` // per user, 0 keeps everything
}

// Default returns the built-in configuration.
func Default() *Config {
	v := newViper()
	cfg := &Config{}
	// Defaults always decode.
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load builds the configuration. path may be empty; when set, the YAML file
// must exist.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("devmesh")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.devmesh")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistent values.
func (c *Config) Validate() error {
	var errs []error
	if c.Execution.MaxCodeLen <= 0 {
		errs = append(errs, fmt.Errorf("execution.max_code_len must be positive"))
	}
	if c.Execution.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("execution.timeout_seconds must be positive"))
	}
	if c.Memory.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("memory.max_entries must not be negative"))
	}
	if c.Agents.MaxIterations < 0 {
		errs = append(errs, fmt.Errorf("agents.max_iterations must not be negative"))
	}
	switch c.Session.Backend {
	case "memory":
	case "redis":
		if c.Session.Redis.URL == "" {
			errs = append(errs, fmt.Errorf("session.redis.url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown session backend %q", c.Session.Backend))
	}
	switch c.Artifacts.Backend {
	case "memory":
	case "s3":
		if c.Artifacts.Bucket == "" {
			errs = append(errs, fmt.Errorf("artifacts.bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown artifact backend %q", c.Artifacts.Backend))
	}
	switch c.LLM.Provider {
	case "", "mock", "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("unknown llm provider %q", c.LLM.Provider))
	}
	switch c.Audit.Backend {
	case "memory":
	case "amqp":
		if c.Audit.AMQPURL == "" {
			errs = append(errs, fmt.Errorf("audit.amqp_url is required for the amqp backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown audit backend %q", c.Audit.Backend))
	}
	return errors.Join(errs...)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for key, envs := range legacyEnv {
		_ = v.BindEnv(append([]string{key}, envs...)...)
	}
	return v
}

var defaults = map[string]any{
	"server.host":             "0.0.0.0",
	"server.port":             8080,
	"server.cors_origins":     []string{"*"},
	"server.rate_limit":       10.0,
	"server.rate_burst":       20,
	"server.shutdown_timeout": 10 * time.Second,

	"log.level":  "info",
	"log.format": "json",

	"agents.max_iterations":       5,
	"agents.parallel_concurrency": 0,
	"agents.fallback_response":    "Request processed by {{.Agent}} with status {{.Status}}.",
	"agents.pipeline_file":        "",
	"agents.max_concurrent_runs":  10,

	"execution.max_code_len":     100000,
	"execution.timeout_seconds":  20,
	"execution.stateful":         true,
	"execution.retry_attempts":   2,
	"execution.cpu":              "2",
	"execution.memory":           "4GB",
	"execution.interpreter":      "python3",
	"execution.interpreter_args": []string{"-I", "-"},
	"execution.work_dir":         "",
	"execution.max_output_bytes": 1 << 20,

	"security.enabled":           true,
	"security.max_request_chars": 200000,
	"security.max_tool_code_len": 100000,
	"security.block_pii":         true,
	"security.block_secrets":     true,

	"session.backend":                    "memory",
	"session.timeout_hours":              24,
	"session.max_sessions":               10000,
	"session.redis.url":                  "",
	"session.redis.key_prefix":           "devmesh:session:",
	"session.log_limits.delegations":     0,
	"session.log_limits.transfers":       0,
	"session.log_limits.tool_executions": 0,
	"session.sweep_every":                10 * time.Minute,

	"artifacts.backend":  "memory",
	"artifacts.bucket":   "",
	"artifacts.prefix":   "artifacts/",
	"artifacts.region":   "",
	"artifacts.endpoint": "",

	"llm.provider":    "",
	"llm.model":       "",
	"llm.api_key":     "",
	"llm.base_url":    "",
	"llm.temperature": 0.2,
	"llm.max_tokens":  4096,
	"llm.max_calls":   500,

	"tools.rate_limit_per_minute": 120,
	"tools.burst":                 10,
	"tools.cache_size":            256,
	"tools.cache_ttl":             5 * time.Minute,

	"observability.metrics":       true,
	"observability.tracing":       false,
	"observability.otlp_endpoint": "",
	"observability.sample_ratio":  1.0,
	"observability.service_name":  "devmesh",

	"audit.backend":     "memory",
	"audit.amqp_url":    "",
	"audit.exchange":    "",
	"audit.queue":       "devmesh.audit",
	"audit.max_entries": 10000,

	"memory.enabled":     true,
	"memory.max_entries": 1000,
}

// legacyEnv maps configuration keys to the environment variable names used by
// existing deployments. The first name found wins over the ADK_ prefixed key.
var legacyEnv = map[string][]string{
	"server.host":               {"ADK_SERVER_HOST", "HOST"},
	"server.port":               {"ADK_SERVER_PORT", "PORT"},
	"agents.max_iterations":     {"ADK_AGENTS_MAX_ITERATIONS", "ADK_MAX_ITERATIONS"},
	"llm.max_calls":             {"ADK_LLM_MAX_CALLS", "ADK_MAX_LLM_CALLS"},
	"llm.api_key":               {"ADK_LLM_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY"},
	"execution.max_code_len":    {"ADK_EXECUTION_MAX_CODE_LEN", "ADK_EXECUTE_MAX_CODE_LEN"},
	"execution.timeout_seconds": {"ADK_EXECUTION_TIMEOUT_SECONDS", "ADK_EXECUTE_TIMEOUT_SECONDS"},
	"execution.stateful":        {"ADK_EXECUTION_STATEFUL", "ADK_EXECUTE_STATEFUL"},
	"execution.retry_attempts":  {"ADK_EXECUTION_RETRY_ATTEMPTS", "ADK_EXECUTE_RETRY_ATTEMPTS"},
	"execution.cpu":             {"ADK_EXECUTION_CPU", "ADK_EXECUTE_CPU"},
	"execution.memory":          {"ADK_EXECUTION_MEMORY", "ADK_EXECUTE_MEMORY"},
	"session.timeout_hours":     {"ADK_SESSION_TIMEOUT_HOURS", "SESSION_TIMEOUT_HOURS"},
	"session.redis.url":         {"ADK_SESSION_REDIS_URL", "REDIS_URL"},
}
