package proxyconf

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidRoute       = errors.New("invalid route")
	ErrInvalidProxyConfig = errors.New("invalid proxy config")
	ErrReloadFailed       = errors.New("proxy reload failed")
	ErrIOFailure          = errors.New("proxy config io failure")
)

// CommandError is a failed validate or reload step. It matches the step's
// sentinel and the underlying cause with errors.Is.
type CommandError struct {
	Step    error
	Command []string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%v: %s: %v", e.Step, strings.Join(e.Command, " "), e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

func (e *CommandError) Unwrap() []error {
	if e == nil {
		return nil
	}
	return []error{e.Step, e.Err}
}

func ioFailure(op, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrIOFailure, op, path, err)
}
