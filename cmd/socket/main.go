package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/walkure/duckdb-acp-slack/pkg/cli"
	"github.com/walkure/duckdb-acp-slack/pkg/config"
	"github.com/walkure/duckdb-acp-slack/pkg/health"
	"github.com/walkure/duckdb-acp-slack/pkg/logger"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, newRootCmd())
	stop()
	os.Exit(code)
}

func newRootCmd() *cobra.Command {
	return cli.NewCommand(
		"duckdb-acp-slack",
		"Query your data in plain English from Slack (Socket Mode)",
		`Start the DuckDB Claude Slack bot over Socket Mode.

Mention the bot or message it directly; the text is sent to the DuckDB acp
extension and the result comes back as a summary and a results.csv file.
Tokens are read from flags, the environment, or .env / .env.local.`,
		Version, config.SocketMode, run)
}

func run(ctx context.Context, rt *cli.Runtime) error {
	if _, err := cli.CheckAuth(ctx, rt.API, rt.Log); err != nil {
		return fmt.Errorf("failure to connect to Slack: %w", err)
	}

	var opts []socketmode.Option
	if rt.Config.Debug {
		opts = append(opts,
			socketmode.OptionDebug(true),
			socketmode.OptionLog(logger.StdLogger(rt.Log, "socketmode")),
		)
	}
	client := socketmode.New(rt.API, opts...)

	var status health.Status
	var handlers inflight
	defer handlers.Close()

	// Handlers outlive a shutdown signal so that a request in progress can
	// still edit its placeholder and upload its results.
	eventCtx := context.WithoutCancel(ctx)

	sh := socketmode.NewSocketmodeHandler(client)

	sh.Handle(socketmode.EventTypeConnecting, func(e *socketmode.Event, c *socketmode.Client) {
		rt.Log.Info("connecting to Slack with Socket Mode")
	})

	sh.Handle(socketmode.EventTypeConnectionError, func(e *socketmode.Event, c *socketmode.Client) {
		status.SetConnected(false)
		rt.Log.Error("connection failed. Retry later", slog.String("error", fmt.Sprintf("%+v", e.Data)))
	})

	sh.Handle(socketmode.EventTypeConnected, func(e *socketmode.Event, c *socketmode.Client) {
		status.SetConnected(true)
		rt.Log.Info("connected to Slack with Socket Mode")
	})

	sh.Handle(socketmode.EventTypeDisconnect, func(e *socketmode.Event, c *socketmode.Client) {
		status.SetConnected(false)
		rt.Log.Warn("disconnected from Slack")
	})

	sh.HandleEvents(slackevents.AppMention, func(e *socketmode.Event, c *socketmode.Client) {
		ack(e, c)
		ev, ok := innerEvent[*slackevents.AppMentionEvent](e)
		if !ok {
			rt.Log.Warn("failed to parse app_mention event")
			return
		}

		if !handlers.Go(func() { rt.Handler.HandleMention(eventCtx, ev) }) {
			rt.Log.Warn("dropping event received during shutdown")
		}
	})

	sh.HandleEvents(slackevents.Message, func(e *socketmode.Event, c *socketmode.Client) {
		ack(e, c)
		ev, ok := innerEvent[*slackevents.MessageEvent](e)
		if !ok {
			rt.Log.Warn("failed to parse message event")
			return
		}

		if !handlers.Go(func() { rt.Handler.HandleMessage(eventCtx, ev) }) {
			rt.Log.Warn("dropping event received during shutdown")
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.Log.Info("listening for messages")
		return sh.RunEventLoopContext(gctx)
	})
	if addr := rt.Config.HealthAddr; addr != "" {
		g.Go(func() error {
			return status.Serve(gctx, addr, rt.Log)
		})
	}
	return g.Wait()
}

// innerEvent extracts the typed inner event of an Events API envelope.
func innerEvent[T any](e *socketmode.Event) (T, bool) {
	var zero T
	apiEvent, ok := e.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return zero, false
	}
	ev, ok := apiEvent.InnerEvent.Data.(T)
	return ev, ok
}

func ack(e *socketmode.Event, c *socketmode.Client) {
	if e.Request != nil {
		c.Ack(*e.Request)
	}
}

// inflight runs event handlers in the background and refuses new ones once
// closed.
type inflight struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

func (f *inflight) Go(fn func()) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		fn()
	}()
	return true
}

// Close stops accepting handlers and waits for the running ones.
func (f *inflight) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.wg.Wait()
}
