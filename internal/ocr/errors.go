package ocr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindConfiguration: missing or rejected credentials. Fatal, never retried.
	KindConfiguration Kind = iota + 1
	// KindProvider: transient vendor failure (throttling, 5xx, network, timeout).
	KindProvider
	// KindContent: the document cannot be read. Permanent.
	KindContent
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindProvider:
		return "provider"
	case KindContent:
		return "content"
	default:
		return "unknown"
	}
}

// Error is the only error type Process returns.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("ocr %s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("ocr %s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Retryable() bool { return e.Kind == KindProvider }

func configError(op string, err error) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Err: err}
}

func providerError(op string, err error) *Error {
	return &Error{Kind: KindProvider, Op: op, Err: err}
}

func contentError(op string, err error) *Error {
	return &Error{Kind: KindContent, Op: op, Err: err}
}

var (
	ErrMissingCredentials = errors.New("missing endpoint or key")
	ErrEmptyDocument      = errors.New("document is empty")
	ErrNoText             = errors.New("no text recognized")
	ErrUnsupportedFormat  = errors.New("unsupported document format")
)

// KindOf returns the Kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable()
}
