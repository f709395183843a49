package exec

import (
	"errors"
	"strings"
)

// ErrorKind classifies broker failures for retry decisions.
type ErrorKind int

const (
	// KindUnknown falls through to the legacy message classification.
	KindUnknown ErrorKind = iota
	// KindRetryable failures (timeouts, connectivity, throttling) consume
	// retry budget.
	KindRetryable
	// KindTerminal failures (rejections, auth, bad parameters) surface
	// immediately without retrying.
	KindTerminal
)

// Kinder is the structured error contract broker adapters should implement.
// Errors without it are classified by message substring, which preserves the
// legacy behavior during adapter migration.
type Kinder interface {
	Kind() ErrorKind
}

// BrokerError is a convenience implementation of Kinder for adapters.
type BrokerError struct {
	Message   string
	ErrorKind ErrorKind
}

func (e *BrokerError) Error() string   { return e.Message }
func (e *BrokerError) Kind() ErrorKind { return e.ErrorKind }

// NewTerminalError builds a non-retryable broker error.
func NewTerminalError(msg string) *BrokerError {
	return &BrokerError{Message: msg, ErrorKind: KindTerminal}
}

// NewRetryableError builds a retryable broker error.
func NewRetryableError(msg string) *BrokerError {
	return &BrokerError{Message: msg, ErrorKind: KindRetryable}
}

// Substring tables from the legacy classifier. Order matters: terminal
// matches win over retryable ones, and anything unmatched is retried.
var (
	terminalSubstrings = []string{
		"insufficient balance",
		"insufficient margin",
		"invalid symbol",
		"invalid quantity",
		"order rejected",
		"account disabled",
		"api key",
		"authentication",
	}
	retryableSubstrings = []string{
		"timeout",
		"connection",
		"rate limit",
		"server error",
		"503",
		"502",
		"429",
		"network",
	}
)

// Classify determines whether an error is retryable. A structured Kind()
// takes precedence; the message tables are the fallback.
func Classify(err error) ErrorKind {
	var kinder Kinder
	if errors.As(err, &kinder) {
		if k := kinder.Kind(); k != KindUnknown {
			return k
		}
	}

	msg := strings.ToLower(err.Error())
	for _, s := range terminalSubstrings {
		if strings.Contains(msg, s) {
			return KindTerminal
		}
	}
	for _, s := range retryableSubstrings {
		if strings.Contains(msg, s) {
			return KindRetryable
		}
	}
	// Unclassified errors default to retryable.
	return KindRetryable
}
