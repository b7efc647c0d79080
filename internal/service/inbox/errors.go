package inbox

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("inbox message not found")
	ErrNothingToPatch = errors.New("no fields to update")
)

// ValidationError reports a rejected patch field and the value received.
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %q", e.Field, e.Value)
}
