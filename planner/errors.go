package planner

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoSchemas is returned before any model call when the schema set
	// for the call is empty.
	ErrNoSchemas = errors.New("no schemas available")

	// ErrNoTasks is returned by the scenario planner for an empty task list.
	ErrNoTasks = errors.New("no tasks given")

	// ErrEmptyTask is returned by the builder for a blank task.
	ErrEmptyTask = errors.New("task is empty")

	// ErrSchemaReference is wrapped by every SchemaReferenceError.
	ErrSchemaReference = errors.New("invalid schema reference")

	// ErrMalformedOutput is wrapped by every MalformedOutputError.
	ErrMalformedOutput = errors.New("malformed model output")
)

// SchemaReferenceError reports a node whose schema id is outside the
// schema set supplied for the call.
type SchemaReferenceError struct {
	Scene    string // empty for builder graphs
	NodeID   string
	SchemaID string
	Valid    []string
}

func (e *SchemaReferenceError) Error() string {
	var b strings.Builder
	if e.Scene != "" {
		fmt.Fprintf(&b, "scene %q ", e.Scene)
	}
	fmt.Fprintf(&b, "node %q uses invalid schema %q (valid: %s)",
		e.NodeID, e.SchemaID, strings.Join(e.Valid, ", "))
	return b.String()
}

func (e *SchemaReferenceError) Unwrap() error { return ErrSchemaReference }

// maxExcerpt bounds how much raw model output an error carries.
const maxExcerpt = 500

// MalformedOutputError reports a model reply that does not match the
// expected JSON shape. Content holds an excerpt of the reply.
type MalformedOutputError struct {
	Stage   string
	Content string
	Err     error
}

func newMalformed(stage, content string, err error) *MalformedOutputError {
	if len(content) > maxExcerpt {
		content = content[:maxExcerpt] + "..."
	}
	return &MalformedOutputError{Stage: stage, Content: content, Err: err}
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("%s: %s output: %v", ErrMalformedOutput.Error(), e.Stage, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *MalformedOutputError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformedOutput}
	}
	return []error{ErrMalformedOutput, e.Err}
}
