package memory

import "fmt"

// Error implements repositories.RepositoryError for the in-memory backend.
type Error struct {
	op       string
	msg      string
	notFound bool
	conflict bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("memory %s: %s", e.op, e.msg)
}

func (e *Error) IsNotFound() bool    { return e != nil && e.notFound }
func (e *Error) IsConflict() bool    { return e != nil && e.conflict }
func (e *Error) IsUnavailable() bool { return false }

func notFound(op, format string, args ...any) error {
	return &Error{op: op, msg: fmt.Sprintf(format, args...), notFound: true}
}

func conflict(op, format string, args ...any) error {
	return &Error{op: op, msg: fmt.Sprintf(format, args...), conflict: true}
}
