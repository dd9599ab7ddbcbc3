package document

import (
	"errors"
	"fmt"
)

// ErrHookVetoed is returned by a pre-operation hook to cancel the whole
// operation before any local or network effect.
var ErrHookVetoed = errors.New("operation vetoed by pre-operation hook")

// PermissionError reports that the acting user's ownership level is below
// the level the operation requires. It is raised locally before any network
// send, or carried back from an authoritative rejection.
type PermissionError struct {
	User   string
	Action string
	Type   string
	ID     string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %s lacks permission to %s %s %s", e.User, e.Action, e.Type, e.ID)
}

func (e *PermissionError) Is(target error) bool {
	_, ok := target.(*PermissionError)
	return ok
}

// StaleDocumentError reports a mutation attempt against a document that was
// deleted or superseded.
type StaleDocumentError struct {
	Type string
	ID   string
}

func (e *StaleDocumentError) Error() string {
	return fmt.Sprintf("document %s %s is stale or deleted", e.Type, e.ID)
}

func (e *StaleDocumentError) Is(target error) bool {
	_, ok := target.(*StaleDocumentError)
	return ok
}
