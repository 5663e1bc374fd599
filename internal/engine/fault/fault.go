// Package fault defines the error taxonomy shared by the engine primitives
// and the boundary protocol: validation errors (malformed requests), state
// errors (valid request, precondition violated), boundary errors (transport,
// timeout, termination) and document errors (snapshot/merge incompatibility).
package fault

import "fmt"

type Class int

const (
	ClassValidation Class = iota + 1
	ClassState
	ClassBoundary
	ClassDocument
)

func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "VALIDATION"
	case ClassState:
		return "STATE"
	case ClassBoundary:
		return "BOUNDARY"
	case ClassDocument:
		return "DOCUMENT"
	}
	return "UNKNOWN"
}

type Error struct {
	Class   Class
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Class, e.Code, e.Message)
}

func Validation(code, format string, args ...any) *Error {
	return &Error{Class: ClassValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

func State(code, format string, args ...any) *Error {
	return &Error{Class: ClassState, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Boundary(code, format string, args ...any) *Error {
	return &Error{Class: ClassBoundary, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Document(code, format string, args ...any) *Error {
	return &Error{Class: ClassDocument, Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the error code, or E_INTERNAL for errors outside the
// taxonomy.
func CodeOf(err error) string {
	if fe, ok := err.(*Error); ok {
		return fe.Code
	}
	return "E_INTERNAL"
}

// Is lets errors.Is match on code so call sites can use sentinel instances.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}
