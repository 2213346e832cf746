package router

import "fmt"

// ExecutionError is the single error shape callers of RunAction receive.
// Whatever stage failed, the original error is logged with full context and
// re-raised as this normalized form; the original type is not exposed.
type ExecutionError struct {
	Message    string
	ActionName string
	Stack      string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("error while executing action %q: %s", e.ActionName, e.Message)
}
