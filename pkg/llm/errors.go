package llm

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a provider failure into an HTTP-style status class.
type Kind string

// Error kinds.
const (
	KindAuth      Kind = "auth"
	KindPayment   Kind = "payment"
	KindRateLimit Kind = "rate_limited"
	KindNotFound  Kind = "not_found"
	KindServer    Kind = "server"
	KindTransport Kind = "transport"
	KindCancelled Kind = "cancelled"
	KindParse     Kind = "parse"
)

// Error is an external-service failure with enough context to decide
// whether falling through to the next model can help.
type Error struct {
	Kind     Kind
	Provider string
	Status   int
	Body     string
	Cause    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (HTTP %d): %s", e.Provider, e.Kind, e.Status, e.Body)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// KindOf extracts the Kind from an error chain. Context cancellation maps
// to KindCancelled; anything unclassified is KindTransport.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindTransport
}

// fatalKind reports whether a failure makes model fallback pointless.
func fatalKind(k Kind) bool {
	return k == KindAuth || k == KindPayment || k == KindCancelled
}

// kindForStatus maps an HTTP status code to an error kind.
func kindForStatus(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 402:
		return KindPayment
	case status == 404:
		return KindNotFound
	case status == 429:
		return KindRateLimit
	case status >= 500:
		return KindServer
	default:
		return KindTransport
	}
}
