package dag

import (
	"fmt"
	"strings"
)

// CycleError reports a dependency cycle discovered during graph validation.
// Path holds the ids along the cycle, ending where it started.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
}

// DanglingDependencyError reports a dependency id that resolves to no node
// in the plan.
type DanglingDependencyError struct {
	NodeID  string
	Missing string
}

func (e *DanglingDependencyError) Error() string {
	return fmt.Sprintf("node %q depends on %q, which is not defined in the plan", e.NodeID, e.Missing)
}

// DuplicateIDError reports two node definitions sharing the same id.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("node id %q is defined more than once", e.ID)
}
