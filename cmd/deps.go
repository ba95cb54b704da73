package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"

	"github.com/joescharf/specflow/internal/agent"
	"github.com/joescharf/specflow/internal/artifacts"
	"github.com/joescharf/specflow/internal/generate"
	"github.com/joescharf/specflow/internal/git"
	"github.com/joescharf/specflow/internal/llm"
	"github.com/joescharf/specflow/internal/logging"
	"github.com/joescharf/specflow/internal/metrics"
	"github.com/joescharf/specflow/internal/notify"
	"github.com/joescharf/specflow/internal/review"
	"github.com/joescharf/specflow/internal/store"
	"github.com/joescharf/specflow/internal/workflow"
)

// app holds the wired components shared by serve, workflow and mcp.
type app struct {
	logger       *slog.Logger
	store        store.Store
	decisions    store.DecisionStore
	tracker      *git.GitHubClient
	notifier     notify.Notifier
	reviewer     review.Reviewer
	orchestrator *workflow.Orchestrator
	metrics      *metrics.Metrics
	registry     *prometheus.Registry

	closers []func() error
}

type appOptions struct {
	metrics bool
}

func newLogger(w io.Writer) *slog.Logger {
	level := viper.GetString("log.level")
	if verbose {
		level = "debug"
	}
	return logging.New(level, viper.GetString("log.format"), w)
}

// buildApp wires every component from configuration. Callers must Close the result.
func buildApp(ctx context.Context, logger *slog.Logger, opts appOptions) (_ *app, err error) {
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if opts.metrics {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		a.metrics = metrics.InitMetrics(a.registry)
	}

	db, err := store.NewSQLiteStore(viper.GetString("db_path"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	if err := db.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	a.store = db

	if a.decisions, err = newDecisionStore(ctx, a); err != nil {
		return nil, err
	}
	if a.tracker, err = newTracker(logger); err != nil {
		return nil, err
	}
	a.notifier = newNotifier(logger)
	if a.reviewer, err = newReviewer(logger, viper.GetFloat64("review.threshold")); err != nil {
		return nil, err
	}

	executor, err := newExecutor(logger, a.reviewer)
	if err != nil {
		return nil, err
	}
	policy, err := workflow.NewPolicy(viper.GetBool("workflow.auto_advance"), viper.GetStringSlice("workflow.hold_stages"))
	if err != nil {
		return nil, err
	}

	runner := agent.NewGooseRunner(
		viper.GetString("agent.binary"),
		viper.GetString("agent.workdir"),
		viper.GetDuration("agent.task_timeout"),
		git.NewClient(),
		logger,
	)

	orchOpts := []workflow.Option{
		workflow.WithPolicy(policy),
		workflow.WithRecorder(db),
		workflow.WithMetrics(a.metrics),
		workflow.WithLogger(logger),
		workflow.WithDefaultChannel(viper.GetString("slack.channel")),
	}
	if a.tracker != nil && viper.GetBool("github.comment_on_issue") {
		orchOpts = append(orchOpts, workflow.WithCommenter(a.tracker))
	}
	a.orchestrator = workflow.NewOrchestrator(executor, runner, a.notifier, orchOpts...)

	return a, nil
}

// Close releases the database and any redis connection.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

func newDecisionStore(ctx context.Context, a *app) (store.DecisionStore, error) {
	switch backend := viper.GetString("decisions.backend"); backend {
	case "", "sqlite":
		return a.store, nil
	case "redis":
		client, err := store.NewRedisClient(ctx, viper.GetString("decisions.redis_url"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		return store.NewRedisDecisionStore(client, viper.GetDuration("decisions.ttl")), nil
	default:
		return nil, fmt.Errorf("unknown decisions.backend %q", backend)
	}
}

// resolveRepo prefers github.repo and falls back to the origin remote of agent.workdir.
func resolveRepo() string {
	if repo := viper.GetString("github.repo"); repo != "" {
		return repo
	}
	repo, err := git.DetectRepo(git.NewClient(), viper.GetString("agent.workdir"))
	if err != nil {
		return ""
	}
	return repo
}

// newTracker returns nil when no repository is configured or detected.
func newTracker(logger *slog.Logger) (*git.GitHubClient, error) {
	repo := resolveRepo()
	if repo == "" {
		return nil, nil
	}
	return git.NewGitHubClient(viper.GetString("github.token"), repo, git.WithLogger(logger))
}

func newNotifier(logger *slog.Logger) notify.Notifier {
	token := viper.GetString("slack.bot_token")
	if token == "" {
		logger.Info("slack.bot_token not set, notifications are logged only")
		return notify.NewLogNotifier(logger)
	}
	return notify.NewSlackNotifier(token, viper.GetString("slack.signing_secret"))
}

// anthropicKey reads the config key, then the SDK's own environment variable.
func anthropicKey() string {
	if key := viper.GetString("anthropic.api_key"); key != "" {
		return key
	}
	return os.Getenv("ANTHROPIC_API_KEY")
}

// newLLMClient is nil without an API key; callers fall back to offline backends.
func newLLMClient() *llm.Client {
	key := anthropicKey()
	if key == "" {
		return nil
	}
	return llm.NewClient(key, viper.GetString("anthropic.model"))
}

var errLLMRequired = errors.New("review.mode llm requires anthropic.api_key")

func newReviewer(logger *slog.Logger, threshold float64) (review.Reviewer, error) {
	switch mode := viper.GetString("review.mode"); mode {
	case "", "rules":
		return review.NewScorer(
			review.WithThreshold(threshold),
			review.WithAutoApprove(viper.GetBool("review.auto_approve")),
		), nil
	case "llm":
		client := newLLMClient()
		if client == nil {
			return nil, errLLMRequired
		}
		return review.NewLLMReviewer(client, threshold, logger), nil
	default:
		return nil, fmt.Errorf("unknown review.mode %q", mode)
	}
}

func newExecutor(logger *slog.Logger, reviewer review.Reviewer) (*workflow.Executor, error) {
	var (
		drafter  generate.Drafter
		prompter generate.Prompter
	)
	if client := newLLMClient(); client != nil {
		drafter, prompter = client, client
	}

	gen, err := generate.New(generate.Config{
		Backend:    viper.GetString("generator.backend"),
		PromptsDir: viper.GetString("generator.prompts_dir"),
		Timeout:    viper.GetDuration("generator.timeout"),
	}, drafter, prompter, logger)
	if err != nil {
		return nil, err
	}

	opts := []workflow.ExecutorOption{workflow.WithExecutorLogger(logger)}
	if viper.GetBool("review.secondary") {
		secondary, err := review.NewSecondaryReviewer(viper.GetString("review.secondary_rules"))
		if err != nil {
			return nil, err
		}
		opts = append(opts, workflow.WithSecondaryReviewer(secondary))
	}

	files := artifacts.NewFileStore(viper.GetString("artifacts_dir"))
	return workflow.NewExecutor(files, gen, reviewer, opts...), nil
}
