package tail

import (
	"errors"

	"github.com/cenkalti/backoff/v4"
)

var (
	// ErrRangeNotSatisfiable means the requested offset is not available yet,
	// typically because the remote file has not grown past it.
	ErrRangeNotSatisfiable = errors.New("requested range not satisfiable")
	// ErrInstanceNotFound means the application instance does not exist yet,
	// which is normal while an application is still staging or starting.
	ErrInstanceNotFound = errors.New("not found for instance")
)

// Class is the retry classification of a fetch error.
type Class int

const (
	// ClassBenign errors are treated as "no new content".
	ClassBenign Class = iota
	// ClassRetryable errors consume one unit of the retry budget.
	ClassRetryable
	// ClassFatal errors exhaust the stream immediately.
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassBenign:
		return "benign"
	case ClassRetryable:
		return "retryable"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Fatal marks err as non-retryable. A fetcher returns it for failures that
// no amount of waiting will fix, such as rejected credentials.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsFatal reports whether err was marked with Fatal.
func IsFatal(err error) bool {
	var pe *backoff.PermanentError
	return errors.As(err, &pe)
}

// Classify is the default error classifier.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassBenign
	case IsFatal(err):
		return ClassFatal
	case errors.Is(err, ErrRangeNotSatisfiable), errors.Is(err, ErrInstanceNotFound):
		return ClassBenign
	default:
		return ClassRetryable
	}
}
