package chat

import (
	"errors"
	"fmt"
	"strings"

	"askdb/internal/types"
)

// Dispatcher errors.
var (
	// ErrUnknownAction is returned when the reasoning service names an
	// action that is not one of the five recognized ones.
	ErrUnknownAction = errors.New("unknown action")

	// ErrMissingRequiredArg is returned when a required argument is absent.
	ErrMissingRequiredArg = errors.New("missing required argument")

	// ErrInvalidArgType is returned when an argument has the wrong type.
	ErrInvalidArgType = errors.New("invalid argument type")

	// ErrNoTarget is returned when an action needs a database target but
	// no explicit target was given and the context holds no candidates.
	ErrNoTarget = errors.New("no database in context")

	// ErrUnsafeSQL is returned when generated SQL contains a denied keyword.
	ErrUnsafeSQL = errors.New("statement contains a disallowed keyword")

	// ErrEmptyStatement is returned when an import or batch holds no
	// executable statements.
	ErrEmptyStatement = errors.New("no executable statements")
)

// ReasoningServiceError wraps a terminal failure of the reasoning call:
// timeout, transport failure, or malformed output after the retry.
type ReasoningServiceError struct {
	Err error
}

func (e *ReasoningServiceError) Error() string {
	return fmt.Sprintf("reasoning service failed: %v", e.Err)
}

func (e *ReasoningServiceError) Unwrap() error { return e.Err }

// AmbiguousReferenceError is raised when an action needs a database
// target, none was given explicitly, and the conversation context holds
// more than one candidate. It carries the full candidate list so the
// caller can ask the user to pick one.
type AmbiguousReferenceError struct {
	Candidates []types.DatabaseReference
}

func (e *AmbiguousReferenceError) Error() string {
	names := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		names[i] = c.DisplayName
	}
	return fmt.Sprintf("ambiguous database reference: %d candidates (%s)",
		len(e.Candidates), strings.Join(names, ", "))
}
