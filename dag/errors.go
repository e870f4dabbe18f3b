package dag

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCycle is wrapped by every CycleError.
	ErrCycle = errors.New("cycle detected")

	// ErrDuplicateNode is returned by InsertNode when the id is taken.
	ErrDuplicateNode = errors.New("duplicate node id")
)

// CycleError reports one concrete dependency cycle. Path starts and ends
// with the same node id and follows dependency direction (parent first).
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", ErrCycle.Error(), strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycle }

// Edges returns the (source, target) pairs that make up the cycle.
func (e *CycleError) Edges() [][2]string {
	if len(e.Path) < 2 {
		return nil
	}
	out := make([][2]string, 0, len(e.Path)-1)
	for i := 0; i+1 < len(e.Path); i++ {
		out = append(out, [2]string{e.Path[i], e.Path[i+1]})
	}
	return out
}
