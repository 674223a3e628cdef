package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Model:                "claude-sonnet-4-5-20250929",
			MaxIterations:        0,
			MaxTokens:            16384,
			Workspace:            "~/.clawcore/workspace",
			RestrictToWorkspace:  true,
			TaskCompleteReminder: true,
			ExecTimeoutSec:       60,
		},
		Memory: MemoryConfig{
			ShortTermLimit:     1000,
			KeepRecent:         10,
			CompressionEnabled: true,
			LongTermPath:       "~/.clawcore/MEMORY.md",
			FileContext: FileContextConfig{
				MaxFiles:         20,
				MaxTokensPerFile: 8192,
				MaxTotalTokens:   32768,
			},
		},
		Queue: QueueConfig{
			MaxSize:    1000,
			MaxRetries: 3,
			BatchSize:  10,
			PollRate:   20,
		},
		Scheduler: SchedulerConfig{
			MaxConcurrent: 10,
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18890,
		},
		Permissions: PermissionsConfig{
			Default: "allow",
		},
		Traces: TracesConfig{
			Enabled: true,
			Path:    "~/.clawcore/traces.db",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			cfg.expandPaths()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.expandPaths()
	return cfg, nil
}

// DefaultPath is the conventional config location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "clawcore.json"
	}
	return filepath.Join(home, ".clawcore", "config.json")
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("CLAWCORE_MODEL", &c.Agent.Model)
	envStr("CLAWCORE_WORKSPACE", &c.Agent.Workspace)
	envStr("CLAWCORE_MEMORY_PATH", &c.Memory.LongTermPath)
	envStr("CLAWCORE_HOST", &c.Gateway.Host)
	envStr("CLAWCORE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("CLAWCORE_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envStr("CLAWCORE_TRACES_PATH", &c.Traces.Path)
	envStr("CLAWCORE_PERMISSIONS_DEFAULT", &c.Permissions.Default)

	if v := os.Getenv("CLAWCORE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}
	if v := os.Getenv("CLAWCORE_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Agent.MaxIterations = n
		}
	}
	if v := os.Getenv("CLAWCORE_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
	if v := os.Getenv("CLAWCORE_TRACES_ENABLED"); v != "" {
		c.Traces.Enabled = v == "true" || v == "1"
	}
}

// expandPaths resolves ~ in path-valued fields.
func (c *Config) expandPaths() {
	c.Agent.Workspace = expandHome(c.Agent.Workspace)
	c.Memory.LongTermPath = expandHome(c.Memory.LongTermPath)
	c.Traces.Path = expandHome(c.Traces.Path)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
