package generate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/joescharf/specflow/internal/models"
)

// DefaultPromptsDir holds the spec-kit command files.
const DefaultPromptsDir = ".gemini/commands"

// commandNames maps stages to spec-kit command file names.
var commandNames = map[models.Stage]string{
	models.StageSpec:  "speckit.clarify",
	models.StagePlan:  "speckit.plan",
	models.StageTasks: "speckit.task",
}

// Prompter sends a rendered prompt to a language model.
type Prompter interface {
	Prompt(ctx context.Context, prompt string) (string, error)
}

// commandFile is the TOML layout of a spec-kit command.
type commandFile struct {
	Description string `toml:"description"`
	Prompt      string `toml:"prompt"`
}

// PromptFile renders spec-kit TOML command prompts and sends them to a model.
type PromptFile struct {
	dir      string
	prompter Prompter
}

// NewPromptFile returns a generator reading command files from dir.
func NewPromptFile(dir string, prompter Prompter) *PromptFile {
	if dir == "" {
		dir = DefaultPromptsDir
	}
	return &PromptFile{dir: dir, prompter: prompter}
}

// Name implements Generator.
func (p *PromptFile) Name() string { return BackendPromptFile }

// Generate implements Generator. A missing command file declines.
func (p *PromptFile) Generate(ctx context.Context, req Request) (string, error) {
	if p.prompter == nil {
		return "", ErrDeclined
	}
	tmpl, err := p.loadPrompt(req.Stage)
	if err != nil {
		return "", err
	}
	prompt, err := RenderPrompt(tmpl, promptValues(req))
	if err != nil {
		return "", err
	}
	return p.prompter.Prompt(ctx, prompt)
}

func (p *PromptFile) loadPrompt(stage models.Stage) (string, error) {
	name, ok := commandNames[stage]
	if !ok {
		return "", ErrDeclined
	}
	path := filepath.Join(p.dir, name+".toml")
	var cf commandFile
	if _, err := toml.DecodeFile(path, &cf); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s not found", ErrDeclined, path)
		}
		return "", fmt.Errorf("parse %s: %w", path, err)
	}
	if cf.Prompt == "" {
		return "", fmt.Errorf("%w: %s has no prompt", ErrDeclined, path)
	}
	return cf.Prompt, nil
}
