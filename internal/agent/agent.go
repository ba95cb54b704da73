package agent

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Result is the outcome of running a task list.
type Result struct {
	Status         string `json:"status"` // success, failed or skipped
	CompletedCount int    `json:"completed_count"`
	TotalCount     int    `json:"total_count"`
	FailedTask     string `json:"failed_task,omitempty"`
	Message        string `json:"message,omitempty"`
	Commit         string `json:"commit,omitempty"`
}

// Runner executes the tasks of a task list against a code repository.
type Runner interface {
	Run(ctx context.Context, tasksPath string, issueNumber int) (*Result, error)
}

// Task is one unchecked checklist line of a task list.
type Task struct {
	ID          string
	Description string
}

// Prompt is the instruction handed to the coding agent for this task.
func (t Task) Prompt() string {
	return fmt.Sprintf("%s: %s", t.ID, t.Description)
}

var taskLineRe = regexp.MustCompile(`(?m)^\s*- \[ \] (T\d+)([^\n]*)$`)

// ParseTasks extracts unchecked "- [ ] T001 description" lines in document order.
func ParseTasks(content string) []Task {
	var tasks []Task
	for _, m := range taskLineRe.FindAllStringSubmatch(content, -1) {
		tasks = append(tasks, Task{ID: m[1], Description: strings.TrimSpace(m[2])})
	}
	return tasks
}

// ReadTasks parses the task list at path.
func ReadTasks(path string) ([]Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tasks: %w", err)
	}
	return ParseTasks(string(data)), nil
}
