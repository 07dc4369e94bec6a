package execution

import "fmt"

// DefaultMaxIterations caps agent iterations when the caller gives no limit.
const DefaultMaxIterations = 50

// CompletionMarker ends the agent's reply once a capped task is done.
const CompletionMarker = "DONE!!!"

// CappedPrompt wraps task with an iteration cap the agent must honor. The
// coordinator has no timeout of its own, so the cap travels with the prompt.
func CappedPrompt(task string, maxIterations int) (string, error) {
	if maxIterations < 1 {
		return "", fmt.Errorf("max iterations must be positive: %d", maxIterations)
	}
	return fmt.Sprintf("%s\n\nWork on this in iterations of build, check and fix. "+
		"Stop after at most %d iterations even if the task is unfinished. "+
		"When the task is complete, end your reply with %s.",
		task, maxIterations, CompletionMarker), nil
}
