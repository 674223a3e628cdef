package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawcore/internal/session"
	"github.com/nextlevelbuilder/clawcore/pkg/protocol"
)

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			// Interactive session: "ask" decisions escalate to the user
			// instead of auto-allowing.
			rt.policy.SetAskFunc(confirmTool)

			ectx := session.NewExecutionContext("", rt.cfg.Agent.Model)
			loop := rt.newLoop(func(ev protocol.StreamEvent) {
				switch ev.Type {
				case protocol.EventTextDelta:
					if text, ok := ev.Data["text"].(string); ok {
						fmt.Print(text)
					}
				case protocol.EventToolExecuting:
					fmt.Printf("\n[tool] %v\n", ev.Data["tool"])
				case protocol.EventCompressionSuccess:
					fmt.Printf("\n[memory] history compressed, saved %v tokens\n", ev.Data["tokens_saved"])
				case protocol.EventError:
					fmt.Fprintf(os.Stderr, "\n[error] %v\n", ev.Data["error"])
				}
			})

			fmt.Printf("clawcore %s — model %s. Type 'exit' to quit, '/stats' for usage.\n\n", Version, rt.cfg.Agent.Model)
			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					break
				}
				line := strings.TrimSpace(scanner.Text())
				switch {
				case line == "":
					continue
				case line == "exit" || line == "quit":
					return nil
				case line == "/stats":
					printStats(rt, ectx)
					continue
				}

				if _, err := loop.Run(ctx, ectx, line); err != nil {
					fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
				}
				fmt.Println()

				if ctx.Err() != nil {
					return nil
				}
			}
			return scanner.Err()
		},
	}
}

// confirmTool prompts the user to approve one tool call.
func confirmTool(ctx context.Context, toolName string, args map[string]interface{}) bool {
	detail := ""
	for k, v := range args {
		s := fmt.Sprintf("%v", v)
		if len(s) > 80 {
			s = s[:80] + "..."
		}
		detail += fmt.Sprintf("  %s: %s\n", k, s)
	}

	approved := false
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(fmt.Sprintf("Allow tool %q?", toolName)).
			Description(detail).
			Affirmative("Allow").
			Negative("Deny").
			Value(&approved),
	))
	if err := form.RunWithContext(ctx); err != nil {
		return false
	}
	return approved
}

func printStats(rt *runtime, ectx *session.ExecutionContext) {
	usage := ectx.Usage()
	fmt.Printf("session %s\n", ectx.SessionID())
	fmt.Printf("  tokens: %d in / %d out / %d total (%.1f%% of %d)\n",
		usage.Input, usage.Output, usage.Total, ectx.UsageRate()*100, ectx.ContextWindow())

	st := rt.memory.Stats()
	fmt.Printf("  memory: %d messages (%d tokens), %d tracked files (%d tokens)\n",
		st.Messages, st.MessageTokens, st.TrackedFiles, st.FileTokens)
	if st.Compression.TotalCompressions > 0 {
		fmt.Printf("  compressions: %d, saved %d tokens (avg ratio %.2f)\n",
			st.Compression.TotalCompressions, st.Compression.TotalTokensSaved, st.Compression.AverageRatio)
	}

	sched := rt.sched.Stats()
	fmt.Printf("  tasks: %d scheduled, %d completed, %d failed\n",
		sched.Scheduled, sched.Completed, sched.Failed)
	fmt.Printf("  tools: %s\n", strings.Join(rt.registry.List(), ", "))
}
