package execution

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

// ErrCancelled is the error of an execution cancelled while queued or running.
var ErrCancelled = errors.New("execution cancelled")

// ErrQuotaExceeded is returned when the workspace is at or over its size limit
type ErrQuotaExceeded struct {
	Size  int64
	Quota int64
}

func (e ErrQuotaExceeded) Error() string {
	return fmt.Sprintf("workspace size limit exceeded: %s / %s",
		humanize.IBytes(uint64(e.Size)), humanize.IBytes(uint64(e.Quota)))
}

// ErrAgentFailed is returned when the agent ends a submission with its error flag set
type ErrAgentFailed struct {
	Subtype string
	Message string
}

func (e ErrAgentFailed) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("agent reported failure: %s", e.Subtype)
	}
	return fmt.Sprintf("agent reported failure: %s: %s", e.Subtype, e.Message)
}
