// Package gitinfo gathers git metadata (branch, recent commits, changed
// files) for extraction prompts and branch-context ranking. Git is an
// optional collaborator: a missing binary, a non-repo directory, or a slow
// command all degrade to empty context, never an error the caller must
// handle.
package gitinfo

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// commandTimeout bounds each git invocation. Git is metadata, not a
// dependency worth hanging a session-end flow for.
const commandTimeout = 5 * time.Second

// Context is the git state of a working directory at one instant.
type Context struct {
	Branch        string
	RecentCommits []string
	ChangedFiles  []string
}

// Empty reports whether no git information was available.
func (c *Context) Empty() bool {
	return c.Branch == "" && len(c.RecentCommits) == 0 && len(c.ChangedFiles) == 0
}

// Summary renders the context as a compact block for inclusion in an
// extraction prompt, or "" when there is nothing to say.
func (c *Context) Summary() string {
	if c.Empty() {
		return ""
	}

	var b strings.Builder
	if c.Branch != "" {
		b.WriteString("Branch: " + c.Branch + "\n")
	}
	if len(c.RecentCommits) > 0 {
		b.WriteString("Recent commits:\n")
		for _, commit := range c.RecentCommits {
			b.WriteString("  " + commit + "\n")
		}
	}
	if len(c.ChangedFiles) > 0 {
		b.WriteString("Changed files:\n")
		for _, file := range c.ChangedFiles {
			b.WriteString("  " + file + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Gather collects git context for a working directory.
func Gather(ctx context.Context, workDir string) *Context {
	gc := &Context{}

	gc.Branch = runGit(ctx, workDir, "rev-parse", "--abbrev-ref", "HEAD")

	if log := runGit(ctx, workDir, "log", "--oneline", "-5"); log != "" {
		gc.RecentCommits = splitLines(log)
	}
	if status := runGit(ctx, workDir, "status", "--porcelain"); status != "" {
		gc.ChangedFiles = splitLines(status)
	}

	return gc
}

// runGit executes one git command and returns its trimmed stdout, or ""
// on any failure.
func runGit(ctx context.Context, workDir string, args ...string) string {
	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "git", args...)
	cmd.Dir = workDir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}
