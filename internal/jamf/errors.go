package jamf

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Error kinds. Match them with errors.Is; client calls return them
// inside an *Error.
var (
	// ErrAuth marks rejected credentials or an unusable token payload.
	ErrAuth = errors.New("jamf: authentication failed")

	// ErrFetch marks transport failures and unexpected HTTP statuses.
	ErrFetch = errors.New("jamf: request failed")

	// ErrDecode marks a response body that does not match the expected shape.
	ErrDecode = errors.New("jamf: unexpected response body")

	// ErrNotFound marks a device that disappeared between list and detail calls.
	ErrNotFound = errors.New("jamf: device not found")

	// ErrEmptyCatalog marks an update catalog without any version.
	ErrEmptyCatalog = errors.New("jamf: update catalog is empty")
)

// ErrNoBaseURL is returned when neither the credentials nor the client
// carry a backend address. It is a local configuration error, not a
// backend failure, and is never wrapped in an *Error.
var ErrNoBaseURL = errors.New("jamf: no backend base url")

// Error describes one failed backend operation.
type Error struct {
	Kind       error
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status=%d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is reports whether target is the kind of this error.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
