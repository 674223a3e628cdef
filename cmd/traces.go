package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawcore/internal/config"
	"github.com/nextlevelbuilder/clawcore/internal/trace"
)

func tracesCmd() *cobra.Command {
	var limit int
	var sessionID string

	cmd := &cobra.Command{
		Use:   "traces",
		Short: "Inspect the local run archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			if path == "" {
				path = config.DefaultPath()
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if cfg.Traces.Path == "" {
				return fmt.Errorf("trace archive is not configured")
			}

			store, err := trace.Open(cfg.Traces.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()

			if sessionID != "" {
				calls, err := store.SessionToolCalls(ctx, sessionID)
				if err != nil {
					return err
				}
				for _, c := range calls {
					status := "ok"
					if !c.Success {
						status = "error: " + c.Error
					}
					fmt.Printf("%s  %-20s %-6s %4d/6 stages  %s\n",
						c.CreatedAt.Format("15:04:05"), c.ToolName, c.CallID, c.StagesCompleted, status)
				}
				return nil
			}

			calls, err := store.RecentLLMCalls(ctx, limit)
			if err != nil {
				return err
			}
			for _, c := range calls {
				fmt.Printf("%s  %-36s %-30s %6d in / %6d out  %s\n",
					c.CreatedAt.Format("2006-01-02 15:04:05"), c.SessionID, c.Model,
					c.InputTokens, c.OutputTokens, c.Duration.Round(time.Millisecond))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of model calls to show")
	cmd.Flags().StringVar(&sessionID, "session", "", "show tool calls for one session")
	return cmd
}
