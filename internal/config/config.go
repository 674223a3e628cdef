package config

// Config is the root configuration.
type Config struct {
	Agent       AgentConfig       `json:"agent"`
	Memory      MemoryConfig      `json:"memory"`
	Queue       QueueConfig       `json:"queue"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Gateway     GatewayConfig     `json:"gateway"`
	Permissions PermissionsConfig `json:"permissions"`
	MCP         MCPConfig         `json:"mcp,omitempty"`
	Telemetry   TelemetryConfig   `json:"telemetry,omitempty"`
	Traces      TracesConfig      `json:"traces,omitempty"`
}

// AgentConfig configures the agent loop and model selection.
type AgentConfig struct {
	Model               string   `json:"model"`
	FallbackModels      []string `json:"fallback_models,omitempty"`
	MaxIterations       int      `json:"max_iterations"` // <= 0: unbounded
	MaxTokens           int      `json:"max_tokens"`
	Workspace           string   `json:"workspace"`
	RestrictToWorkspace bool     `json:"restrict_to_workspace"`
	BaseInstructions    string   `json:"base_instructions,omitempty"`
	SubagentInfo        bool     `json:"subagent_info,omitempty"`
	// TaskCompleteReminder injects a settle-and-verify reminder when a tool
	// result carries a worker-completion sentinel.
	TaskCompleteReminder bool `json:"task_complete_reminder"`
	ExecTimeoutSec       int  `json:"exec_timeout_sec,omitempty"`
}

// MemoryConfig configures the memory tiers.
type MemoryConfig struct {
	ShortTermLimit     int               `json:"short_term_limit"`
	KeepRecent         int               `json:"keep_recent"`
	CompressionEnabled bool              `json:"compression_enabled"`
	LongTermPath       string            `json:"long_term_path"`
	FileContext        FileContextConfig `json:"file_context"`
}

// FileContextConfig bounds the injected-file window.
type FileContextConfig struct {
	MaxFiles         int `json:"max_files"`
	MaxTokensPerFile int `json:"max_tokens_per_file"`
	MaxTotalTokens   int `json:"max_total_tokens"`
}

// QueueConfig configures the background message queue.
type QueueConfig struct {
	MaxSize    int     `json:"max_size"`
	MaxRetries int     `json:"max_retries"`
	BatchSize  int     `json:"batch_size"`
	PollRate   float64 `json:"poll_rate"` // dequeue batches per second
}

// SchedulerConfig bounds tool parallelism.
type SchedulerConfig struct {
	MaxConcurrent int `json:"max_concurrent"`
}

// GatewayConfig configures the WebSocket gateway.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// PermissionsConfig is the tool permission policy: "allow", "deny", or
// "ask", with per-tool overrides.
type PermissionsConfig struct {
	Default   string            `json:"default"`
	Overrides map[string]string `json:"overrides,omitempty"`
}

// MCPServerConfig describes one MCP server to import tools from.
type MCPServerConfig struct {
	Transport  string            `json:"transport"`
	Command    string            `json:"command,omitempty"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	URL        string            `json:"url,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	ToolPrefix string            `json:"tool_prefix,omitempty"`
	TimeoutSec int               `json:"timeout_sec,omitempty"`
}

// MCPConfig lists MCP servers by name.
type MCPConfig struct {
	Servers map[string]MCPServerConfig `json:"servers,omitempty"`
}

// TelemetryConfig configures OTLP span export. Disabled unless Endpoint is
// set.
type TelemetryConfig struct {
	ServiceName string  `json:"service_name,omitempty"`
	Endpoint    string  `json:"endpoint,omitempty"`
	Insecure    bool    `json:"insecure,omitempty"`
	SampleRate  float64 `json:"sample_rate,omitempty"`
}

// TracesConfig configures the local run archive.
type TracesConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}
