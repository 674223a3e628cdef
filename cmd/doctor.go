package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawcore/internal/config"
	"github.com/nextlevelbuilder/clawcore/internal/trace"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment and configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			if path == "" {
				path = config.DefaultPath()
			}

			ok := true
			check := func(name string, pass bool, detail string) {
				mark := "ok"
				if !pass {
					mark = "FAIL"
					ok = false
				}
				fmt.Printf("%-28s %-4s %s\n", name, mark, detail)
			}

			if _, err := os.Stat(path); err == nil {
				check("config file", true, path)
			} else {
				check("config file", true, path+" (missing, using defaults)")
			}

			cfg, err := config.Load(path)
			if err != nil {
				check("config parse", false, err.Error())
				return fmt.Errorf("doctor found problems")
			}
			check("config parse", true, "")

			hasKey := os.Getenv("ANTHROPIC_API_KEY") != "" ||
				(os.Getenv("USE_CLAUDE_PROXY") == "true" && os.Getenv("CLAUDE_PROXY_API_KEY") != "")
			check("api key", hasKey, "ANTHROPIC_API_KEY or proxy credentials")

			if err := os.MkdirAll(cfg.Agent.Workspace, 0o755); err != nil {
				check("workspace", false, err.Error())
			} else {
				probe := filepath.Join(cfg.Agent.Workspace, ".doctor_probe")
				if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
					check("workspace writable", false, err.Error())
				} else {
					os.Remove(probe)
					check("workspace writable", true, cfg.Agent.Workspace)
				}
			}

			if cfg.Traces.Enabled && cfg.Traces.Path != "" {
				store, err := trace.Open(cfg.Traces.Path)
				if err != nil {
					check("trace archive", false, err.Error())
				} else {
					store.Close()
					check("trace archive", true, cfg.Traces.Path)
				}
			} else {
				check("trace archive", true, "disabled")
			}

			if cfg.Telemetry.Endpoint != "" {
				check("telemetry", true, "endpoint "+cfg.Telemetry.Endpoint)
			} else {
				check("telemetry", true, "disabled")
			}

			check("mcp servers", true, fmt.Sprintf("%d configured", len(cfg.MCP.Servers)))

			if !ok {
				return fmt.Errorf("doctor found problems")
			}
			return nil
		},
	}
}
