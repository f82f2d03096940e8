package topology

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agentic-research/stratum/internal/template"
)

var (
	ErrMissingTarget = errors.New("missing requirement target")
	ErrNotFound      = errors.New("not found")
	ErrDuplicateName = errors.New("duplicate name")
	ErrInvalidName   = errors.New("invalid template identifier")
	ErrUnstable      = errors.New("template did not stabilize")
)

// ParseError is a malformed raw template. It aborts the build.
type ParseError = template.ParseError

// ValidationError is a semantic problem with one entity. It is collected,
// not fatal.
type ValidationError struct {
	Entity  string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	if e.Entity != "" {
		b.WriteString(e.Entity)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Err != nil && !strings.Contains(e.Message, e.Err.Error()) {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ResolutionError is a failed expression, input or artifact lookup.
type ResolutionError struct {
	Entity    string
	Reference string
	Err       error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%s: cannot resolve %q: %v", e.Entity, e.Reference, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// MissingTargetError names a requirement that could not be linked. It is
// reported wrapped in a ValidationError.
type MissingTargetError struct {
	Node        string
	Requirement string
}

func (e *MissingTargetError) Error() string {
	return fmt.Sprintf("requirement %q of node %q has no matching target", e.Requirement, e.Node)
}

func (e *MissingTargetError) Unwrap() error { return ErrMissingTarget }

// NotFoundError is an artifact reference found nowhere.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("artifact %q not found", e.Name)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// BuildError aggregates every error collected during a build, in order.
type BuildError struct {
	Errors []error
}

func (e *BuildError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d error(s) building topology:", len(e.Errors))
	for _, err := range e.Errors {
		b.WriteString("\n  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

func (e *BuildError) Unwrap() []error { return e.Errors }

// errorList collects errors in order, dropping exact repeats.
type errorList struct {
	errs []error
	seen map[string]bool
}

func (l *errorList) add(errs ...error) {
	if l.seen == nil {
		l.seen = make(map[string]bool)
	}
	for _, err := range errs {
		if err == nil {
			continue
		}
		msg := err.Error()
		if l.seen[msg] {
			continue
		}
		l.seen[msg] = true
		l.errs = append(l.errs, err)
	}
}

func (l *errorList) messages() []string {
	out := make([]string, len(l.errs))
	for i, err := range l.errs {
		out[i] = err.Error()
	}
	return out
}

func invalid(entity, format string, args ...any) error {
	return &ValidationError{Entity: entity, Message: fmt.Sprintf(format, args...)}
}

func invalidErr(entity string, err error, format string, args ...any) error {
	return &ValidationError{Entity: entity, Message: fmt.Sprintf(format, args...), Err: err}
}
