// Package gitvcs implements the Git collaborator contract (spec.md §6.3): a
// thin os/exec wrapper the core uses for environment repository
// initialization and for the pull-and-finalize rollback-on-failure pattern.
// Every function shells out to the system git binary under a hardened
// environment; none of it is a git implementation in its own right.
package gitvcs

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/comfydock/comfydock-core/internal/cerr"
)

// VCS is the interface §6.3 names, so callers (the Finalizer's repository
// import path) can depend on an interface instead of this package's exec
// implementation directly, the way the rest of the ERC keeps its external
// collaborators swappable.
type VCS interface {
	Clone(ctx context.Context, url, target string, ref string, depth int) error
	Init(ctx context.Context, dir string) error
	AddAll(ctx context.Context, dir string) error
	Commit(ctx context.Context, dir, message string) error
	RevParse(ctx context.Context, dir, ref string) (string, error)
	CurrentBranch(ctx context.Context, dir string) (string, error)
	Fetch(ctx context.Context, dir, remote string) error
	Merge(ctx context.Context, dir, ref string, ffOnly bool) error
	Push(ctx context.Context, dir, remote, branch string) error
	RemoteAdd(ctx context.Context, dir, name, url string) error
	RemoteRemove(ctx context.Context, dir, name string) error
	RemoteList(ctx context.Context, dir string) ([]string, error)
	RemoteGetURL(ctx context.Context, dir, name string) (string, error)
	ResetHard(ctx context.Context, dir, commit string) error
	IsDirty(ctx context.Context, dir string, paths ...string) (bool, error)
}

// Exec is the os/exec-backed VCS implementation.
type Exec struct{}

var _ VCS = Exec{}

// New returns the os/exec-backed VCS.
func New() Exec { return Exec{} }

func (Exec) Clone(ctx context.Context, url, target, ref string, depth int) error {
	args := []string{"clone"}
	if depth > 0 {
		args = append(args, "--depth", strconv.Itoa(depth))
	}
	if ref != "" {
		args = append(args, "--branch", ref)
	}
	args = append(args, url, target)
	_, err := run(ctx, "", args...)
	return err
}

func (Exec) Init(ctx context.Context, dir string) error {
	_, err := run(ctx, dir, "init")
	return err
}

func (Exec) AddAll(ctx context.Context, dir string) error {
	_, err := run(ctx, dir, "add", ".")
	return err
}

func (Exec) Commit(ctx context.Context, dir, message string) error {
	_, err := run(ctx, dir, "commit", "-m", message)
	return err
}

func (Exec) RevParse(ctx context.Context, dir, ref string) (string, error) {
	out, err := run(ctx, dir, "rev-parse", ref)
	return strings.TrimSpace(out), err
}

func (Exec) CurrentBranch(ctx context.Context, dir string) (string, error) {
	out, err := run(ctx, dir, "symbolic-ref", "--short", "HEAD")
	if err != nil {
		if cerr.Is(err, cerr.KindNotFound) {
			return "", err
		}
		return "(HEAD detached)", nil
	}
	return strings.TrimSpace(out), nil
}

func (Exec) Fetch(ctx context.Context, dir, remote string) error {
	_, err := run(ctx, dir, "fetch", remote)
	return err
}

func (Exec) Merge(ctx context.Context, dir, ref string, ffOnly bool) error {
	args := []string{"merge"}
	if ffOnly {
		args = append(args, "--ff-only")
	}
	args = append(args, ref)
	_, err := run(ctx, dir, args...)
	return err
}

func (Exec) Push(ctx context.Context, dir, remote, branch string) error {
	_, err := run(ctx, dir, "push", remote, branch)
	return err
}

func (Exec) RemoteAdd(ctx context.Context, dir, name, url string) error {
	_, err := run(ctx, dir, "remote", "add", name, url)
	return err
}

func (Exec) RemoteRemove(ctx context.Context, dir, name string) error {
	_, err := run(ctx, dir, "remote", "remove", name)
	return err
}

func (Exec) RemoteList(ctx context.Context, dir string) ([]string, error) {
	out, err := run(ctx, dir, "remote")
	if err != nil {
		return nil, err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

func (Exec) RemoteGetURL(ctx context.Context, dir, name string) (string, error) {
	out, err := run(ctx, dir, "remote", "get-url", name)
	return strings.TrimSpace(out), err
}

func (Exec) ResetHard(ctx context.Context, dir, commit string) error {
	_, err := run(ctx, dir, "reset", "--hard", commit)
	return err
}

// IsDirty reports whether dir has uncommitted changes under any of paths
// (the whole working tree if paths is empty), per §4.G.1's "manifest is
// dirty (uncommitted workflows)" export refusal. A directory that isn't
// inside a git repository is never dirty.
func (Exec) IsDirty(ctx context.Context, dir string, paths ...string) (bool, error) {
	args := []string{"status", "--porcelain"}
	if len(paths) > 0 {
		args = append(args, "--")
		args = append(args, paths...)
	}
	out, err := run(ctx, dir, args...)
	if err != nil {
		if cerr.Is(err, cerr.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// run executes git with a hardened environment (§6.3's dir is passed via
// -C so relative working-directory assumptions never leak in), classifying
// its failure into one of §7's error kinds.
func run(ctx context.Context, dir string, args ...string) (string, error) {
	full := []string{"-c", "core.hooksPath=/dev/null"}
	if dir != "" {
		full = append(full, "-C", dir)
	}
	full = append(full, args...)

	// #nosec G204 - args are built from fixed subcommand names and caller-supplied repository paths/refs, never shell-interpreted
	cmd := exec.CommandContext(ctx, "git", full...)
	cmd.Env = safeGitEnv()

	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return "", cerr.New(cerr.KindCanceled, "git command canceled", ctx.Err())
		}
		return "", classify(args, string(out), err)
	}
	return string(out), nil
}

// classify maps a failed git invocation to a §7 error kind from its
// subcommand and output, since git itself only gives a non-zero exit code.
func classify(args []string, output string, cause error) error {
	lower := strings.ToLower(output)
	subcommand := ""
	if len(args) > 0 {
		subcommand = args[0]
	}

	switch {
	case strings.Contains(lower, "could not read username") ||
		strings.Contains(lower, "authentication failed") ||
		strings.Contains(lower, "permission denied (publickey)"):
		return cerr.New(cerr.KindAuthenticationReq, "git authentication required", cause)

	case strings.Contains(lower, "could not resolve host") ||
		strings.Contains(lower, "connection timed out") ||
		strings.Contains(lower, "could not connect"):
		return cerr.New(cerr.KindTransport, "git transport failure", cause)

	case strings.Contains(lower, "conflict") ||
		strings.Contains(lower, "not possible to fast-forward") ||
		strings.Contains(lower, "non-fast-forward"):
		return cerr.New(cerr.KindConflict, "git operation conflicts with remote state", cause)

	case strings.Contains(lower, "not a git repository") ||
		strings.Contains(lower, "unknown revision") ||
		strings.Contains(lower, "did not match any"):
		return cerr.New(cerr.KindNotFound, "git reference or repository not found", cause)

	default:
		return cerr.New(cerr.KindValidation, fmt.Sprintf("git %s failed", subcommand), cause).
			WithDetails(map[string]any{"output": strings.TrimSpace(output)})
	}
}
