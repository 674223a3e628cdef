package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawcore/internal/events"
	"github.com/nextlevelbuilder/clawcore/internal/session"
	"github.com/nextlevelbuilder/clawcore/pkg/protocol"
)

func runCmd() *cobra.Command {
	var jsonl bool

	cmd := &cobra.Command{
		Use:   "run [message]",
		Short: "Run one agent task and stream output",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			ectx := session.NewExecutionContext("", rt.cfg.Agent.Model)

			// Second interrupt aborts the run cooperatively.
			go func() {
				<-ctx.Done()
				ectx.Abort()
			}()

			onEvent := func(ev protocol.StreamEvent) {
				if jsonl {
					fmt.Print(events.FormatJSONL(ev))
					return
				}
				switch ev.Type {
				case protocol.EventTextDelta:
					if text, ok := ev.Data["text"].(string); ok {
						fmt.Print(text)
					}
				case protocol.EventToolExecuting:
					fmt.Fprintf(os.Stderr, "\n[tool] %v\n", ev.Data["tool"])
				case protocol.EventError:
					fmt.Fprintf(os.Stderr, "\n[error] %v\n", ev.Data["error"])
				case protocol.EventDone, protocol.EventLoopComplete:
					fmt.Println()
				}
			}

			loop := rt.newLoop(onEvent)
			res, err := loop.Run(context.Background(), ectx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "done: %d iterations, %d tool calls, %d tokens\n",
				res.Iterations, res.ToolCalls, res.Usage.Total)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonl, "jsonl", false, "emit the raw event stream as JSON lines")
	return cmd
}
