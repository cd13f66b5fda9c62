package scanning

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
)

// Error kinds. Use errors.Is(err, ErrConnectivity) to classify a returned error.
var (
	ErrDependencyMissing = errors.New("dependency missing")
	ErrConnectivity      = errors.New("service unreachable")
	ErrUpstream          = errors.New("upstream failure")
	ErrExtractionEmpty   = errors.New("no text found")
	ErrValidation        = errors.New("invalid input")
)

// ErrCannotAnalyze is returned by Analyze when the request carries a failed
// prior stage. Its text is shown to the user verbatim.
var ErrCannotAnalyze = errors.New("cannot analyze: the document could not be processed")

// Error describes a failed external call
type Error struct {
	Kind   error
	Op     string
	Remedy string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Remedy != "" {
		msg += ". " + e.Remedy
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func dependencyMissing(op, remedy string, err error) error {
	return &Error{Kind: ErrDependencyMissing, Op: op, Remedy: remedy, Err: err}
}

func upstream(op string, err error) error {
	return &Error{Kind: ErrUpstream, Op: op, Err: err}
}

func upstreamf(op, format string, args ...any) error {
	return upstream(op, fmt.Errorf(format, args...))
}

func validation(op string, err error) error {
	return &Error{Kind: ErrValidation, Op: op, Err: err}
}

// classifyCall is classify for clients that report an expired context in
// their own error types; the context decides first.
func classifyCall(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &Error{Kind: ErrConnectivity, Op: op, Err: fmt.Errorf("%w: %w", ctxErr, err)}
	}
	return classify(op, err)
}

// classify wraps a transport error, telling unreachable services and timeouts
// apart from failures reported by a reachable service.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Kind: ErrConnectivity, Op: op, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &Error{Kind: ErrConnectivity, Op: op, Err: err}
	}
	if errors.Is(err, exec.ErrNotFound) {
		return &Error{Kind: ErrDependencyMissing, Op: op, Err: err}
	}
	return upstream(op, err)
}
