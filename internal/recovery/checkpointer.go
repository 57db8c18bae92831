// Package recovery provides git-backed checkpoints of the session state
// tree and the persisted retry/cooldown error handler built on them.
package recovery

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rcastle/foreman/internal/models"
)

// CommandRunner abstracts command execution for git operations. Implement
// this in tests to avoid touching a real repository.
type CommandRunner interface {
	Run(ctx context.Context, command string) (output string, err error)
}

// ShellCommandRunner executes commands via the system shell.
type ShellCommandRunner struct {
	WorkDir string // empty = current dir
}

// Run executes the command with sh -c and returns combined output.
func (r *ShellCommandRunner) Run(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if r.WorkDir != "" {
		cmd.Dir = r.WorkDir
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("command failed: %s: %w: %s", command, err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// Checkpointer creates and restores snapshots of the session state tree.
type Checkpointer interface {
	// CreateCheckpoint commits the state tree and returns a restorable
	// reference to it.
	CreateCheckpoint(ctx context.Context, label string) (*models.Checkpoint, error)

	// RestoreCheckpoint restores paths to the checkpoint's commit. With no
	// patterns it restores the state directory only; callers opt into wider
	// restores by naming patterns.
	RestoreCheckpoint(ctx context.Context, cp models.Checkpoint, patterns []string) error

	// PreviewRollback lists the paths a restore would touch without
	// mutating anything.
	PreviewRollback(ctx context.Context, cp models.Checkpoint) ([]string, error)

	// TagMilestone marks the current commit as a named milestone.
	TagMilestone(ctx context.Context, name string) error

	// RollbackToMilestone restores the state directory to a milestone tag.
	RollbackToMilestone(ctx context.Context, name string) error
}

// GitCheckpointer implements Checkpointer with git commands. Checkpoints
// are commits on the current branch referenced by tags, so they survive
// process restarts and are visible to every coordinating process.
type GitCheckpointer struct {
	// Runner for executing git commands (nil uses the shell in StateDir's
	// repository).
	Runner CommandRunner

	// StateDir is the session state tree committed and restored by
	// checkpoints, relative to the repository root.
	StateDir string

	// Prefix namespaces checkpoint tags so cleanup and listing never touch
	// the user's own tags.
	Prefix string
}

// NewGitCheckpointer creates a GitCheckpointer running real git commands.
func NewGitCheckpointer(stateDir, prefix string) *GitCheckpointer {
	return &GitCheckpointer{
		Runner:   &ShellCommandRunner{},
		StateDir: stateDir,
		Prefix:   prefix,
	}
}

// NewGitCheckpointerWithRunner creates a GitCheckpointer with a custom
// command runner. Useful for testing.
func NewGitCheckpointerWithRunner(runner CommandRunner, stateDir, prefix string) *GitCheckpointer {
	return &GitCheckpointer{
		Runner:   runner,
		StateDir: stateDir,
		Prefix:   prefix,
	}
}

// run builds one git invocation for the shell runner, quoting every
// argument that is not shell-safe. Labels, tags, and path patterns all come
// from callers and must never reach sh -c bare.
func (g *GitCheckpointer) run(ctx context.Context, args ...string) (string, error) {
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = shellQuote(arg)
	}
	return g.Runner.Run(ctx, "git "+strings.Join(quoted, " "))
}

// CreateCheckpoint stages and commits the state directory, then tags the
// commit. A state tree with no changes still gets a checkpoint via
// --allow-empty, so every checkpoint request yields a restorable reference.
func (g *GitCheckpointer) CreateCheckpoint(ctx context.Context, label string) (*models.Checkpoint, error) {
	if _, err := g.run(ctx, "add", "--", g.StateDir); err != nil {
		return nil, fmt.Errorf("failed to stage state tree: %w", err)
	}

	id := uuid.NewString()[:8]
	message := fmt.Sprintf("%s%s", g.Prefix, label)
	if _, err := g.run(ctx, "commit", "--allow-empty", "-m", message); err != nil {
		return nil, fmt.Errorf("failed to commit checkpoint: %w", err)
	}

	commitHash, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve checkpoint commit: %w", err)
	}
	commitHash = strings.TrimSpace(commitHash)

	tag := fmt.Sprintf("%s%s-%s", g.Prefix, label, id)
	if _, err := g.run(ctx, "tag", tag, commitHash); err != nil {
		return nil, fmt.Errorf("failed to tag checkpoint %s: %w", tag, err)
	}

	return &models.Checkpoint{
		ID:         id,
		Label:      label,
		CommitHash: commitHash,
		CreatedAt:  time.Now(),
	}, nil
}

// RestoreCheckpoint checks out the named paths from the checkpoint commit.
// The working tree outside the given patterns is never touched.
func (g *GitCheckpointer) RestoreCheckpoint(ctx context.Context, cp models.Checkpoint, patterns []string) error {
	if len(patterns) == 0 {
		patterns = []string{g.StateDir}
	}
	args := append([]string{"checkout", cp.CommitHash, "--"}, patterns...)
	if _, err := g.run(ctx, args...); err != nil {
		return fmt.Errorf("failed to restore checkpoint %s: %w", cp.ID, err)
	}
	return nil
}

// PreviewRollback returns the state-tree paths that differ between the
// checkpoint and the current working tree.
func (g *GitCheckpointer) PreviewRollback(ctx context.Context, cp models.Checkpoint) ([]string, error) {
	output, err := g.run(ctx, "diff", "--name-only", cp.CommitHash, "--", g.StateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to preview rollback to %s: %w", cp.ID, err)
	}
	var paths []string
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

// TagMilestone marks the current commit with a milestone tag.
func (g *GitCheckpointer) TagMilestone(ctx context.Context, name string) error {
	tag := g.Prefix + "milestone-" + name
	if _, err := g.run(ctx, "tag", tag); err != nil {
		return fmt.Errorf("failed to tag milestone %s: %w", name, err)
	}
	return nil
}

// RollbackToMilestone restores the state directory to the milestone tag.
func (g *GitCheckpointer) RollbackToMilestone(ctx context.Context, name string) error {
	tag := g.Prefix + "milestone-" + name
	args := []string{"checkout", tag, "--", g.StateDir}
	if _, err := g.run(ctx, args...); err != nil {
		return fmt.Errorf("failed to roll back to milestone %s: %w", name, err)
	}
	return nil
}

const shellSafe = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789._/=:,-"

// shellQuote single-quotes an argument unless every character is known
// shell-safe.
func shellQuote(s string) string {
	safe := s != ""
	for _, r := range s {
		if !strings.ContainsRune(shellSafe, r) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
