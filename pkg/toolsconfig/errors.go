package toolsconfig

import (
	"errors"
	"fmt"
	"strings"
)

var ErrMalformedConnection = errors.New("malformed connection")

// MalformedConnectionError reports a connection whose parameters cannot
// produce a source descriptor.
type MalformedConnectionError struct {
	ConnectionID string
	Missing      []string
	Invalid      []string
}

func (e *MalformedConnectionError) Error() string {
	if e == nil {
		return ""
	}
	parts := make([]string, 0, 2)
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid "+strings.Join(e.Invalid, ", "))
	}
	return fmt.Sprintf("malformed connection %q: %s", e.ConnectionID, strings.Join(parts, "; "))
}

func (e *MalformedConnectionError) Is(target error) bool {
	return target == ErrMalformedConnection
}

// ValidationIssue carries the section and key of a structural problem found
// in a worker document.
type ValidationIssue struct {
	Section string
	Key     string
	Err     error
}

func (e *ValidationIssue) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Section, e.Err)
	}
	return fmt.Sprintf("%s.%s: %v", e.Section, e.Key, e.Err)
}

func (e *ValidationIssue) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func validationIssue(section, key string, err error) error {
	if err == nil {
		return nil
	}
	return &ValidationIssue{Section: section, Key: key, Err: err}
}
