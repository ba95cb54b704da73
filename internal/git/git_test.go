package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initTestRepo creates a git repo in dir with a user config so commits work on CI.
func initTestRepo(t *testing.T, dir string) {
	t.Helper()
	for _, args := range [][]string{
		{"init", "-b", "main"},
		{"config", "user.email", "test@test.com"},
		{"config", "user.name", "Test"},
	} {
		require.NoError(t, exec.Command("git", append([]string{"-C", dir}, args...)...).Run())
	}
}

func TestParseRemote(t *testing.T) {
	tests := []struct {
		url   string
		owner string
		repo  string
	}{
		{"git@github.com:octo/specflow.git", "octo", "specflow"},
		{"https://github.com/octo/specflow.git", "octo", "specflow"},
		{"https://github.com/octo/specflow", "octo", "specflow"},
		{"ssh://git@github.com/octo/specflow.git", "octo", "specflow"},
		{"https://ghe.example.com/octo/specflow\n", "octo", "specflow"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			owner, repo, err := ParseRemote(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.owner, owner)
			assert.Equal(t, tt.repo, repo)
		})
	}
}

func TestParseRemote_Invalid(t *testing.T) {
	for _, bad := range []string{"not-a-url", "git@github.com", "https://github.com/octo"} {
		_, _, err := ParseRemote(bad)
		assert.Error(t, err, bad)
	}
}

func TestSplitRepo(t *testing.T) {
	owner, repo, err := SplitRepo("octo/hello")
	require.NoError(t, err)
	assert.Equal(t, "octo", owner)
	assert.Equal(t, "hello", repo)

	for _, bad := range []string{"", "octo", "/hello", "octo/", "a/b/c"} {
		_, _, err := SplitRepo(bad)
		assert.Error(t, err, bad)
	}
}

func TestCommit_String(t *testing.T) {
	assert.Equal(t, "abc123 T001 scaffold", Commit{Hash: "abc123", Subject: "T001 scaffold"}.String())
	assert.Equal(t, "abc123", Commit{Hash: "abc123"}.String())
}

func TestCLI_Head(t *testing.T) {
	dir := t.TempDir()
	initTestRepo(t, dir)
	require.NoError(t, exec.Command("git", "-C", dir, "commit", "--allow-empty", "-m", "T001 scaffold").Run())

	head, err := NewClient().Head(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, head.Hash)
	assert.Equal(t, "T001 scaffold", head.Subject)
	assert.Equal(t, "main", head.Branch)
}

func TestCLI_Head_NotARepo(t *testing.T) {
	_, err := NewClient().Head(t.TempDir())
	assert.Error(t, err)
}

func TestCLI_Dirty(t *testing.T) {
	dir := t.TempDir()
	initTestRepo(t, dir)
	require.NoError(t, exec.Command("git", "-C", dir, "commit", "--allow-empty", "-m", "init").Run())

	c := NewClient()
	dirty, err := c.Dirty(dir)
	require.NoError(t, err)
	assert.False(t, dirty)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x"), 0o644))
	dirty, err = c.Dirty(dir)
	require.NoError(t, err)
	assert.True(t, dirty)
}

func TestDetectRepo(t *testing.T) {
	dir := t.TempDir()
	initTestRepo(t, dir)

	c := NewClient()
	_, err := DetectRepo(c, dir)
	assert.ErrorIs(t, err, ErrNoOrigin)

	require.NoError(t, exec.Command("git", "-C", dir, "remote", "add", "origin", "git@github.com:octo/hello.git").Run())
	repo, err := DetectRepo(c, dir)
	require.NoError(t, err)
	assert.Equal(t, "octo/hello", repo)
}
