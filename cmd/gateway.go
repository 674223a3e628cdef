package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/clawcore/internal/gateway"
	"github.com/nextlevelbuilder/clawcore/internal/memory"
	"github.com/nextlevelbuilder/clawcore/internal/queue"
	"github.com/nextlevelbuilder/clawcore/internal/session"
	"github.com/nextlevelbuilder/clawcore/pkg/protocol"
)

// gwSession is per-connection agent state: its own history and token
// accounting, over the shared tool registry and scheduler.
type gwSession struct {
	ectx *session.ExecutionContext
	mem  *memory.Manager
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Serve agent runs over WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			var (
				mu       sync.Mutex
				sessions = make(map[string]*gwSession)
			)
			sessionFor := func(id string) *gwSession {
				mu.Lock()
				defer mu.Unlock()
				if s, ok := sessions[id]; ok {
					return s
				}
				s := &gwSession{
					ectx: session.NewExecutionContext(id, rt.cfg.Agent.Model),
					mem: memory.NewManager(
						memory.WithShortTermLimit(rt.cfg.Memory.ShortTermLimit),
						memory.WithCompressor(memory.NewCompressor(
							memory.WithKeepRecent(rt.cfg.Memory.KeepRecent),
							memory.WithCompressionEnabled(rt.cfg.Memory.CompressionEnabled))),
						memory.WithLongTerm(rt.memory.LongTerm()),
					),
				}
				sessions[id] = s
				return s
			}

			// Background fan-out: session-terminal notifications go through
			// the queue to every connected client.
			q := queue.New(
				queue.WithMaxSize(rt.cfg.Queue.MaxSize),
				queue.WithMaxRetries(rt.cfg.Queue.MaxRetries),
				queue.WithBatchSize(rt.cfg.Queue.BatchSize),
				queue.WithPollRate(rate.Limit(rt.cfg.Queue.PollRate)),
			)

			var srv *gateway.Server
			q.RegisterHandler(func(ctx context.Context, msg *queue.Message) error {
				ev, ok := msg.Content["event"].(protocol.StreamEvent)
				if !ok {
					return nil
				}
				srv.Broadcast(ev)
				return nil
			})

			run := func(ctx context.Context, sessionID, message string, onEvent func(protocol.StreamEvent)) error {
				s := sessionFor(sessionID)
				loop := rt.newSessionLoop(s.mem, func(ev protocol.StreamEvent) {
					onEvent(ev)
					if ev.Terminal() {
						q.Enqueue(map[string]any{"event": ev}, queue.PriorityHigh)
					}
				})
				_, err := loop.Run(ctx, s.ectx, message)
				return err
			}

			srv = gateway.NewServer(
				fmt.Sprintf("%s:%d", rt.cfg.Gateway.Host, rt.cfg.Gateway.Port), run)

			q.Start(ctx)
			defer q.Stop()

			return srv.Start(ctx)
		},
	}
}
