package discover

import "fmt"

// InvalidQueryError reports a column, search term, or ordering the engine
// cannot resolve. It is always the caller's fault.
type InvalidQueryError struct {
	Message string
}

func (e *InvalidQueryError) Error() string {
	return e.Message
}

func invalidf(format string, args ...any) error {
	return &InvalidQueryError{Message: fmt.Sprintf(format, args...)}
}
