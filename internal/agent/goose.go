package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/joescharf/specflow/internal/git"
	"github.com/joescharf/specflow/internal/models"
)

// DefaultTaskTimeout bounds a single task run.
const DefaultTaskTimeout = 5 * time.Minute

const maxOutput = 500

// GooseRunner runs each task through `goose session run` in WorkDir,
// stopping at the first failing task.
type GooseRunner struct {
	Binary      string
	WorkDir     string
	TaskTimeout time.Duration

	git    git.Client
	logger *slog.Logger
}

// NewGooseRunner creates a runner. gc may be nil to skip commit reporting.
func NewGooseRunner(binary, workDir string, taskTimeout time.Duration, gc git.Client, logger *slog.Logger) *GooseRunner {
	if binary == "" {
		binary = "goose"
	}
	if workDir == "" {
		workDir = "."
	}
	if taskTimeout <= 0 {
		taskTimeout = DefaultTaskTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GooseRunner{Binary: binary, WorkDir: workDir, TaskTimeout: taskTimeout, git: gc, logger: logger}
}

// Available reports whether the agent binary is on PATH.
func (g *GooseRunner) Available() bool {
	_, err := exec.LookPath(g.Binary)
	return err == nil
}

// Run implements Runner.
func (g *GooseRunner) Run(ctx context.Context, tasksPath string, issueNumber int) (*Result, error) {
	if !g.Available() {
		return &Result{Status: models.ImplementationSkipped, Message: g.Binary + " CLI not available"}, nil
	}

	tasks, err := ReadTasks(tasksPath)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return &Result{Status: models.ImplementationFailed, Message: "no tasks found in " + tasksPath}, nil
	}

	g.warnDirty(issueNumber)
	session := fmt.Sprintf("issue-%d", issueNumber)
	res := &Result{TotalCount: len(tasks)}
	for i, task := range tasks {
		g.logger.Info("running task", "issue", issueNumber, "task", task.ID, "n", i+1, "of", len(tasks))
		if err := g.runTask(ctx, session, task); err != nil {
			g.logger.Error("task failed", "issue", issueNumber, "task", task.ID, "error", err)
			res.Status = models.ImplementationFailed
			res.FailedTask = task.ID
			res.Message = fmt.Sprintf("task %s failed: %v", task.ID, err)
			return res, nil
		}
		res.CompletedCount++
	}

	res.Status = models.ImplementationSuccess
	res.Message = fmt.Sprintf("completed %d tasks", res.CompletedCount)
	res.Commit = g.lastCommit()
	return res, nil
}

func (g *GooseRunner) runTask(ctx context.Context, session string, task Task) error {
	ctx, cancel := context.WithTimeout(ctx, g.TaskTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, g.Binary, "session", "run", session, "--prompt", task.Prompt())
	cmd.Dir = g.WorkDir
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("timed out after %s", g.TaskTimeout)
	}
	if msg := truncate(strings.TrimSpace(stderr.String()), maxOutput); msg != "" {
		return fmt.Errorf("%w: %s", err, msg)
	}
	return err
}

// lastCommit reports the head commit of the work dir. Best-effort.
func (g *GooseRunner) lastCommit() string {
	if g.git == nil {
		return ""
	}
	head, err := g.git.Head(g.WorkDir)
	if err != nil {
		return ""
	}
	return head.String()
}

// warnDirty flags uncommitted changes the agent would mix into its commits.
func (g *GooseRunner) warnDirty(issueNumber int) {
	if g.git == nil {
		return
	}
	if dirty, err := g.git.Dirty(g.WorkDir); err == nil && dirty {
		g.logger.Warn("work dir has uncommitted changes", "issue", issueNumber, "dir", g.WorkDir)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
