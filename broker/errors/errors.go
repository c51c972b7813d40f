// Package errors classifies the failures reported by the broker when acks are
// forwarded to the invalid or error topics.
package errors

import "fmt"

// Kind is the class of a broker error.
type Kind int

const (
	Unknown Kind = iota

	// GENERR001 means that the message could not be decoded or did not pass
	// validation.
	GENERR001

	// GENERR006 means that the handler subscribed to the message failed.
	GENERR006
)

func (k Kind) String() string {
	switch k {
	case GENERR001:
		return "GENERR001"
	case GENERR006:
		return "GENERR006"
	default:
		return "Unknown"
	}
}

// Error is a classified error.
type Error struct {
	Kind Kind
	Err  error
}

// New returns a classified error with the given description.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf("%s", msg)}
}

// NewWithError classifies err.
func NewWithError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Describe returns the error code and description of err. Unclassified
// errors are reported as Unknown.
func Describe(err error) (code, description string) {
	if e, ok := err.(*Error); ok && e != nil {
		if e.Err != nil {
			description = e.Err.Error()
		}
		return e.Kind.String(), description
	}
	return Unknown.String(), err.Error()
}
