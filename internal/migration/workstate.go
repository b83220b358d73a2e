package migration

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ProjectState captures one git repository under the agent's work root.
// The manifest is data-only; restoration clones and reapplies on the
// target side.
type ProjectState struct {
	RelativePath     string   `json:"relativePath"`
	RemoteURL        string   `json:"remoteUrl"`
	Branch           string   `json:"branch"`
	CommitSha        string   `json:"commitSha"`
	UncommittedPatch string   `json:"uncommittedPatch,omitempty"`
	UntrackedFiles   []string `json:"untrackedFiles,omitempty"`
}

// WorkState is the manifest of all git projects under a work root.
type WorkState struct {
	Projects []ProjectState `json:"projects"`
}

// CaptureWorkState inspects each immediate subdirectory of workRoot;
// non-git subdirectories are skipped.
func CaptureWorkState(workRoot string) (*WorkState, error) {
	entries, err := os.ReadDir(workRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return &WorkState{}, nil
		}
		return nil, err
	}

	ws := &WorkState{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(workRoot, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
			continue
		}
		project, err := captureProject(dir, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("capture %s: %w", entry.Name(), err)
		}
		ws.Projects = append(ws.Projects, project)
	}
	return ws, nil
}

func captureProject(dir, name string) (ProjectState, error) {
	p := ProjectState{RelativePath: name}

	remote, _ := gitOut(dir, "remote", "get-url", "origin")
	p.RemoteURL = remote

	branch, err := gitOut(dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return p, err
	}
	p.Branch = branch

	sha, err := gitOut(dir, "rev-parse", "HEAD")
	if err != nil {
		return p, err
	}
	p.CommitSha = sha

	patch, _ := gitOut(dir, "diff", "HEAD")
	p.UncommittedPatch = patch

	untracked, _ := gitOut(dir, "ls-files", "--others", "--exclude-standard")
	if untracked != "" {
		p.UntrackedFiles = strings.Split(untracked, "\n")
	}
	return p, nil
}

// RestoreProject clones the remote, checks out the captured commit, and
// applies the uncommitted patch.
func RestoreProject(ctx context.Context, p ProjectState, targetDir string) error {
	if p.RemoteURL == "" {
		return fmt.Errorf("project %s has no remote", p.RelativePath)
	}
	if err := runGit(ctx, "", "clone", p.RemoteURL, targetDir); err != nil {
		return fmt.Errorf("clone %s: %w", p.RelativePath, err)
	}
	if err := runGit(ctx, targetDir, "checkout", p.CommitSha); err != nil {
		return fmt.Errorf("checkout %s@%s: %w", p.RelativePath, p.CommitSha, err)
	}
	if p.UncommittedPatch != "" {
		if err := gitApply(ctx, targetDir, p.UncommittedPatch); err != nil {
			return fmt.Errorf("apply patch for %s: %w", p.RelativePath, err)
		}
	}
	return nil
}

func gitOut(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func runGit(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return nil
}

func gitApply(ctx context.Context, dir, patch string) error {
	cmd := exec.CommandContext(ctx, "git", "apply", "-")
	cmd.Dir = dir
	cmd.Stdin = strings.NewReader(patch)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git apply: %w: %s", err, stderr.String())
	}
	return nil
}
