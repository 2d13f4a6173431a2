// Package exec runs the side-channel `oc` CLI commands surfaced by action
// directives and tool displays, with argument hygiene applied before any
// process is spawned.
package exec

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// ocBinary is the OpenContext CLI the engine shells out to.
const ocBinary = "oc"

// Result is the captured outcome of one command invocation. A non-zero exit
// code is data, not an error: it ends up in message content.
type Result struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Runner executes external commands. The engine depends on this interface so
// tests can substitute a fake.
type Runner interface {
	Run(ctx context.Context, args []string) (Result, error)
}

// OCRunner runs the `oc` CLI in a fixed working directory.
type OCRunner struct {
	// Dir is the working directory for spawned commands; empty means the
	// process default.
	Dir string
}

// Run invokes `oc` with the given arguments. Arguments are validated first;
// unsafe arguments fail without spawning anything.
func (r *OCRunner) Run(ctx context.Context, args []string) (Result, error) {
	safe, err := SanitizeArguments(args)
	if err != nil {
		return Result{}, err
	}
	if len(safe) == 0 {
		return Result{}, errors.New("missing oc command arguments")
	}

	cmd := exec.CommandContext(ctx, ocBinary, safe...)
	if r.Dir != "" {
		cmd.Dir = r.Dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
	}
	var exitErr *exec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) {
		// Spawn failure (binary missing, permission): no process state.
		res.ExitCode = -1
		return res, runErr
	}
	return res, nil
}
