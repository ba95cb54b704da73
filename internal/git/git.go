package git

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrNoOrigin is returned when a work dir has no origin remote.
var ErrNoOrigin = errors.New("no origin remote")

// Commit describes the head of a work dir.
type Commit struct {
	Hash    string
	Subject string
	Branch  string
}

// String renders "hash subject", or just the hash when there is no subject.
func (c Commit) String() string {
	if c.Subject == "" {
		return c.Hash
	}
	return c.Hash + " " + c.Subject
}

// Client inspects the work dir the coding agent commits into.
type Client interface {
	Head(dir string) (Commit, error)
	Dirty(dir string) (bool, error)
	Origin(dir string) (string, error)
}

// CLI implements Client by shelling out to git.
type CLI struct {
	Binary string
}

// NewClient returns a CLI using the git on PATH.
func NewClient() *CLI {
	return &CLI{Binary: "git"}
}

func (c *CLI) run(dir string, args ...string) (string, error) {
	out, err := exec.Command(c.Binary, append([]string{"-C", dir}, args...)...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("git %s: %s", args[0], strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Head reads hash, subject and branch of HEAD in one log call plus a rev-parse.
func (c *CLI) Head(dir string) (Commit, error) {
	out, err := c.run(dir, "log", "-1", "--format=%h%x00%s")
	if err != nil {
		return Commit{}, err
	}
	hash, subject, _ := strings.Cut(out, "\x00")
	commit := Commit{Hash: hash, Subject: subject}
	if branch, err := c.run(dir, "rev-parse", "--abbrev-ref", "HEAD"); err == nil {
		commit.Branch = branch
	}
	return commit, nil
}

// Dirty reports uncommitted changes, untracked files included.
func (c *CLI) Dirty(dir string) (bool, error) {
	out, err := c.run(dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// Origin returns the fetch URL of the origin remote.
func (c *CLI) Origin(dir string) (string, error) {
	out, err := c.run(dir, "remote", "get-url", "origin")
	if err != nil || out == "" {
		return "", ErrNoOrigin
	}
	return out, nil
}

// DetectRepo resolves "owner/repo" from the origin remote of dir.
func DetectRepo(c Client, dir string) (string, error) {
	url, err := c.Origin(dir)
	if err != nil {
		return "", err
	}
	owner, repo, err := ParseRemote(url)
	if err != nil {
		return "", err
	}
	return owner + "/" + repo, nil
}

// ParseRemote accepts scp-style SSH, ssh:// and http(s) GitHub remotes.
func ParseRemote(url string) (owner, repo string, err error) {
	path := strings.TrimSuffix(strings.TrimSpace(url), ".git")
	switch {
	case strings.HasPrefix(path, "git@"):
		_, after, ok := strings.Cut(path, ":")
		if !ok {
			return "", "", fmt.Errorf("cannot parse remote: %s", url)
		}
		path = after
	case strings.Contains(path, "://"):
		_, after, _ := strings.Cut(path, "://")
		_, path, _ = strings.Cut(after, "/")
	}
	return SplitRepo(path)
}

// SplitRepo splits "owner/repo".
func SplitRepo(fullName string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("cannot parse owner/repo from: %s", fullName)
	}
	return owner, repo, nil
}
