// Package relayerr classifies failures of the relay into a small set of kinds
// so callers can log a precise cause while reporting a single success flag.
package relayerr

import (
	"errors"
	"fmt"
)

// Kind identifies the class of a relay failure.
// Kinds are strings so they read well in logs and JSON.
type Kind string

const (
	// KindConnect covers network, DNS and connection timeout failures.
	KindConnect Kind = "CONNECT"

	// KindAuth covers bad credentials, unreadable keys and host key mismatches.
	KindAuth Kind = "AUTH"

	// KindList indicates a remote directory could not be read.
	KindList Kind = "LIST"

	// KindTransfer covers get/put failures and mid-stream disconnects.
	KindTransfer Kind = "TRANSFER"

	// KindLocalIO covers missing local files, directory creation and archive copy failures.
	KindLocalIO Kind = "LOCAL_IO"

	// KindPrecondition covers empty source directories and malformed requests.
	KindPrecondition Kind = "PRECONDITION"

	// KindUnknown is reported for errors that were never classified.
	KindUnknown Kind = "UNKNOWN"
)

// Error is a classified relay failure.
type Error struct {
	Kind Kind
	// Op is the operation that failed, e.g. "open", "put", "archive".
	Op string
	// Path is the file or directory involved, if any.
	Path string
	Err  error
}

// New returns a classified error. err may be nil.
func New(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op, path, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	msg := string(e.Kind) + ": " + e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Wrap classifies err unless it is already classified, in which case it is returned as is.
func Wrap(kind Kind, op, path string, err error) error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return err
	}
	return New(kind, op, path, err)
}
