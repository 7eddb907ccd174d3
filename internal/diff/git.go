package diff

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// GitInfo identifies the checkout a diff was taken from.
type GitInfo struct {
	Branch string
	Commit string
}

// GitDiff runs `git diff` with the given arguments and returns the raw output.
func GitDiff(ctx context.Context, repoDir string, args ...string) (string, error) {
	out, err := git(ctx, repoDir, append([]string{"diff", "--no-color", "--no-ext-diff"}, args...)...)
	if err != nil {
		return "", fmt.Errorf("git diff: %w", err)
	}
	return out, nil
}

// GitDiffStaged returns the staged changes.
func GitDiffStaged(ctx context.Context, repoDir string, contextLines int) (string, error) {
	return GitDiff(ctx, repoDir, fmt.Sprintf("-U%d", contextLines), "--cached")
}

// GitDiffUnstaged returns working tree changes that are not staged.
func GitDiffUnstaged(ctx context.Context, repoDir string, contextLines int) (string, error) {
	return GitDiff(ctx, repoDir, fmt.Sprintf("-U%d", contextLines))
}

// GitDiffHead returns the diff of HEAD against its parent.
func GitDiffHead(ctx context.Context, repoDir string, contextLines int) (string, error) {
	return GitDiff(ctx, repoDir, fmt.Sprintf("-U%d", contextLines), "HEAD~1", "HEAD")
}

// GitDiffRange returns the diff for a commit range like "main...HEAD".
func GitDiffRange(ctx context.Context, repoDir string, commitRange string, contextLines int) (string, error) {
	if strings.HasPrefix(commitRange, "-") {
		return "", fmt.Errorf("invalid commit range %q", commitRange)
	}
	return GitDiff(ctx, repoDir, fmt.Sprintf("-U%d", contextLines), commitRange)
}

// RepoRoot returns the top-level directory of the repository containing dir.
func RepoRoot(ctx context.Context, dir string) (string, error) {
	out, err := git(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Info returns the current branch and HEAD commit. Either may be empty in a
// fresh repository or detached checkout.
func Info(ctx context.Context, repoDir string) GitInfo {
	var info GitInfo
	if out, err := git(ctx, repoDir, "rev-parse", "--abbrev-ref", "HEAD"); err == nil {
		info.Branch = strings.TrimSpace(out)
	}
	if out, err := git(ctx, repoDir, "rev-parse", "HEAD"); err == nil {
		info.Commit = strings.TrimSpace(out)
	}
	return info
}

func git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}
	return string(out), nil
}
