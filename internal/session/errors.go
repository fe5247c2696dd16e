package session

import "fmt"

// DuplicateError is returned by Admit when the same client already holds an
// active session on the requested channel. Handlers map it to 409.
type DuplicateError struct {
	ExistingID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate session: client already streaming as %s", e.ExistingID)
}

// LimitError is returned by Admit when a concurrency ceiling is reached.
// Scope is "global" or "channel". Handlers map it to 503.
type LimitError struct {
	Scope string
	Limit int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s session limit reached (%d)", e.Scope, e.Limit)
}
