package workspace

import "fmt"

// ErrWorkspaceIO is returned when a workspace directory cannot be created,
// measured, or deleted.
type ErrWorkspaceIO struct {
	Op   string
	Path string
	Err  error
}

func (e ErrWorkspaceIO) Error() string {
	return fmt.Sprintf("workspace %s %s: %v", e.Op, e.Path, e.Err)
}

func (e ErrWorkspaceIO) Unwrap() error {
	return e.Err
}

// ErrInvalidID is returned for session ids that are not a single path element.
type ErrInvalidID struct {
	ID string
}

func (e ErrInvalidID) Error() string {
	return fmt.Sprintf("invalid workspace id: %q", e.ID)
}
