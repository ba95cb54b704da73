package artifacts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/specflow/internal/models"
)

func TestSlug(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Add user login", "add-user-login"},
		{"Fix: crash on save!", "fix-crash-on-save"},
		{"  leading and trailing  ", "leading-and-trailing"},
		{"snake_case and-dash", "snake_case-and-dash"},
		{"a -- b", "a-b"},
		{"!!!", ""},
		{"로그인 기능 추가", "로그인-기능-추가"},
		{"[버그] 결제 오류 #3", "버그-결제-오류-3"},
		{"Café Größe", "café-größe"},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, Slug(tt.title))
		})
	}
}

func TestSlug_Truncates(t *testing.T) {
	s := Slug(strings.Repeat("word ", 30))
	assert.LessOrEqual(t, len(s), maxDirNameLen)
	assert.False(t, strings.HasSuffix(s, "-"))
}

func TestSlug_TruncatesRunes(t *testing.T) {
	s := Slug(strings.Repeat("가", 60))
	assert.True(t, utf8.ValidString(s))
	assert.Equal(t, maxDirNameLen, utf8.RuneCountInString(s))
}

func TestFileStore_WriteHangulTitle(t *testing.T) {
	base := t.TempDir()
	path, err := NewFileStore(base).Write(42, "로그인 기능 추가", models.StageSpec, "# Spec")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "42-로그인-기능-추가", "spec.md"), path)
}

func TestFileStore_WriteRead(t *testing.T) {
	base := t.TempDir()
	s := NewFileStore(base)

	path, err := s.Write(42, "Add login", models.StageSpec, "# Spec")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "42-add-login", "spec.md"), path)

	got, err := s.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "# Spec", got)
}

func TestFileStore_Overwrites(t *testing.T) {
	s := NewFileStore(t.TempDir())
	p1, err := s.Write(1, "x", models.StagePlan, "first")
	require.NoError(t, err)
	p2, err := s.Write(1, "x", models.StagePlan, "second")
	require.NoError(t, err)
	assert.Equal(t, p1, p2)

	got, err := s.Read(p2)
	require.NoError(t, err)
	assert.Equal(t, "second", got)
}

func TestFileStore_WriteRejectsNonDocumentStage(t *testing.T) {
	s := NewFileStore(t.TempDir())
	_, err := s.Write(1, "x", models.StageImplementation, "x")
	assert.Error(t, err)
}

func TestFileStore_ReadMissing(t *testing.T) {
	s := NewFileStore(t.TempDir())
	_, err := s.Read(filepath.Join(t.TempDir(), "nope.md"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Read("")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_WriteFailsWhenBaseIsFile(t *testing.T) {
	base := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(base, []byte("x"), 0o644))

	_, err := NewFileStore(base).Write(1, "x", models.StageSpec, "x")
	assert.Error(t, err)
}

func TestIssueDir_EmptyTitle(t *testing.T) {
	s := NewFileStore("specs")
	assert.Equal(t, filepath.Join("specs", "7"), s.IssueDir(7, "???"))
	assert.Equal(t, DefaultBaseDir, NewFileStore("").BaseDir())
}
