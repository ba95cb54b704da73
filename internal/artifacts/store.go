package artifacts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joescharf/specflow/internal/models"
)

// ErrNotFound is returned by Read when the artifact does not exist.
var ErrNotFound = errors.New("artifact not found")

// DefaultBaseDir is where issue directories are created.
const DefaultBaseDir = "specs"

const maxDirNameLen = 50

// Store persists stage documents, one directory per issue and one file per stage.
type Store interface {
	Write(issueNumber int, issueTitle string, stage models.Stage, content string) (string, error)
	Read(path string) (string, error)
}

// FileStore is a Store rooted at a directory on disk.
type FileStore struct {
	baseDir string
}

// NewFileStore returns a FileStore rooted at baseDir (DefaultBaseDir when empty).
func NewFileStore(baseDir string) *FileStore {
	if baseDir == "" {
		baseDir = DefaultBaseDir
	}
	return &FileStore{baseDir: baseDir}
}

// BaseDir returns the root directory.
func (s *FileStore) BaseDir() string {
	return s.baseDir
}

// FileName returns the canonical file name for a document stage.
func FileName(stage models.Stage) (string, error) {
	switch stage {
	case models.StageSpec, models.StagePlan, models.StageTasks:
		return string(stage) + ".md", nil
	}
	return "", fmt.Errorf("stage %q has no document", stage)
}

// IssueDir returns the per-issue directory for an issue.
func (s *FileStore) IssueDir(issueNumber int, issueTitle string) string {
	name := strconv.Itoa(issueNumber)
	if slug := Slug(issueTitle); slug != "" {
		name += "-" + slug
	}
	return filepath.Join(s.baseDir, name)
}

// Write creates the issue directory if needed and overwrites the stage file.
func (s *FileStore) Write(issueNumber int, issueTitle string, stage models.Stage, content string) (string, error) {
	name, err := FileName(stage)
	if err != nil {
		return "", err
	}
	dir := s.IssueDir(issueNumber, issueTitle)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create issue directory: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return path, nil
}

// Read returns the content at path.
func (s *FileStore) Read(path string) (string, error) {
	if path == "" {
		return "", ErrNotFound
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("read artifact: %w", err)
	}
	return string(data), nil
}

var (
	unsafeChars = regexp.MustCompile(`[^\p{L}\p{N} _-]`)
	dashRuns    = regexp.MustCompile(`-{2,}`)
)

// Slug turns an issue title into a directory-safe name. Letters and digits
// of any script are kept; the length limit counts runes.
func Slug(title string) string {
	s := unsafeChars.ReplaceAllString(title, "")
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ToLower(s)
	s = dashRuns.ReplaceAllString(s, "-")
	if r := []rune(s); len(r) > maxDirNameLen {
		s = string(r[:maxDirNameLen])
	}
	return strings.Trim(s, "-")
}
