package scanning

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// CommandRunner runs an external program to completion
type CommandRunner interface {
	LookPath(name string) (string, error)
	Run(ctx context.Context, stdin io.Reader, name string, args ...string) (stdout []byte, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

// LookPath resolves a program in PATH
func (ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Run starts the program, feeds stdin and waits for it to exit
func (ExecRunner) Run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// exitCoder is satisfied by *exec.ExitError
type exitCoder interface {
	ExitCode() int
}

// runTool runs a local tool and converts every failure into an *Error.
// A missing binary reports remedy; a non-zero exit carries the tool's stderr.
func runTool(ctx context.Context, runner CommandRunner, op, remedy string, stdin io.Reader, name string, args ...string) ([]byte, error) {
	path, err := runner.LookPath(name)
	if err != nil {
		return nil, dependencyMissing(op, remedy, fmt.Errorf("%s not found in PATH", name))
	}

	stdout, stderr, err := runner.Run(ctx, stdin, path, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, classify(op, ctxErr)
		}
		var exitErr exitCoder
		if errors.As(err, &exitErr) {
			detail := strings.TrimSpace(string(stderr))
			if detail == "" {
				detail = err.Error()
			}
			return nil, upstreamf(op, "%s exited with status %d: %s", name, exitErr.ExitCode(), detail)
		}
		return nil, classify(op, err)
	}
	return stdout, nil
}
