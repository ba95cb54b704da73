package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/specflow/internal/api"
	"github.com/joescharf/specflow/internal/daemon"
	"github.com/joescharf/specflow/internal/workflow"
)

const (
	shutdownTimeout = 10 * time.Second
	stopGrace       = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook and approval server",
	Long: `Run the HTTP server that receives GitHub issue webhooks and Slack
interactions, drives workflows, and exposes the /api endpoints.

Workflow state lives in this process. Use 'specflow workflow status'
and friends against the running server to inspect or steer it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context())
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))

	serveCmd.AddCommand(serveStatusCmd)
	serveCmd.AddCommand(serveStopCmd)
	rootCmd.AddCommand(serveCmd)
}

func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "specflow.pid"))
}

func serveRun(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	pf := pidFile()
	if err := pf.Acquire(); err != nil {
		return err
	}
	defer func() { _ = pf.Release() }()

	logger := newLogger(os.Stderr)
	a, err := buildApp(ctx, logger, appOptions{metrics: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if viper.GetString("slack.signing_secret") == "" {
		logger.Warn("slack.signing_secret not set, Slack interactions will be rejected")
	}
	if viper.GetString("github.webhook_secret") == "" {
		logger.Warn("github.webhook_secret not set, webhook signatures are not checked")
	}

	srv := api.NewServer(api.Dependencies{
		Workflows:     a.orchestrator,
		Notifier:      a.notifier,
		Decisions:     a.decisions,
		Runs:          a.store,
		Metrics:       a.metrics,
		Gatherer:      a.registry,
		Logger:        logger,
		Channel:       viper.GetString("slack.channel"),
		WebhookSecret: viper.GetString("github.webhook_secret"),
		SigningSecret: viper.GetString("slack.signing_secret"),
	})

	go pruneLoop(ctx, a.orchestrator, viper.GetDuration("workflow.retention"))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", viper.GetInt("port")),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpSrv.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// pruneInterval checks four times per retention window, at most hourly.
func pruneInterval(retention time.Duration) time.Duration {
	interval := retention / 4
	switch {
	case interval <= 0:
		return 0
	case interval < time.Minute:
		return time.Minute
	case interval > time.Hour:
		return time.Hour
	}
	return interval
}

func pruneLoop(ctx context.Context, o *workflow.Orchestrator, retention time.Duration) {
	interval := pruneInterval(retention)
	if interval == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Prune(retention)
		}
	}
}

func serveStatusRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		ui.Info("specflow server is not running")
		return nil
	}
	ui.Success("specflow server is running (pid %d, port %d)", pid, viper.GetInt("port"))
	return nil
}

func serveStopRun() error {
	pf := pidFile()
	if err := pf.Stop(stopGrace); err != nil {
		if errors.Is(err, daemon.ErrNotRunning) {
			return fmt.Errorf("specflow server is not running")
		}
		return err
	}
	ui.Success("specflow server stopped")
	return nil
}
