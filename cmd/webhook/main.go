package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/walkure/duckdb-acp-slack/handler"
	"github.com/walkure/duckdb-acp-slack/pkg/cli"
	"github.com/walkure/duckdb-acp-slack/pkg/config"
)

// Version is set at build time via ldflags
var Version = "dev"

const eventsPath = "/events-endpoint"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, newRootCmd())
	stop()
	os.Exit(code)
}

func newRootCmd() *cobra.Command {
	return cli.NewCommand(
		"duckdb-acp-slack-webhook",
		"Query your data in plain English from Slack (Events API over HTTP)",
		`Start the DuckDB Claude Slack bot behind an Events API request URL.

Point the Slack app's Event Subscriptions at http://<host>:<port>`+eventsPath+`
and subscribe to app_mention and message events. Requests are verified with
the signing secret.`,
		Version, config.WebhookMode, run)
}

func newMux(endpoint http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(eventsPath, endpoint)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	return mux
}

func run(ctx context.Context, rt *cli.Runtime) error {
	if _, err := cli.CheckAuth(ctx, rt.API, rt.Log); err != nil {
		return fmt.Errorf("failure to connect to Slack: %w", err)
	}

	endpoint := handler.NewEndpoint(context.WithoutCancel(ctx), rt.Handler, rt.Config.SigningSecret, rt.Log)
	defer endpoint.Wait()

	serv := &http.Server{
		Addr:              ":" + rt.Config.Port,
		Handler:           newMux(endpoint),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rt.Log.Warn("shutting down server")
		return serv.Shutdown(ctx)
	})
	g.Go(func() error {
		rt.Log.Info("server listening", slog.String("port", rt.Config.Port))
		if err := serv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return ctx.Err()
	})
	return g.Wait()
}
