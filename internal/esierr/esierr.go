// Package esierr defines the error taxonomy used across the fetch layer and
// the hoarder workers: ordinary wrapped Go errors carrying a Kind so
// callers can branch on failure class without string matching.
package esierr

import (
	"errors"
	"fmt"
)

// Kind classifies why a fetch or dump operation failed.
type Kind int

const (
	// Transport is a reach-the-server failure; retriable.
	Transport Kind = iota
	// RateLimited means upstream asked for a cooldown; retriable after the
	// gate advances.
	RateLimited
	// UpstreamRejected is a non-retriable 4xx other than 420/429.
	UpstreamRejected
	// OutOfRetries means a retriable kind exhausted its retry budget.
	OutOfRetries
	// Parse is malformed JSON/headers/CSV; bubbles up, never retried.
	Parse
	// IO is a dump file write failure; bubbles up.
	IO
	// Auth is a token refresh failure; bubbles up for authenticated calls.
	Auth
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case RateLimited:
		return "rate_limited"
	case UpstreamRejected:
		return "upstream_rejected"
	case OutOfRetries:
		return "out_of_retries"
	case Parse:
		return "parse"
	case IO:
		return "io"
	case Auth:
		return "auth"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind and a short context tag.
type Error struct {
	Kind Kind
	Tag  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Tag, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Tag, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a new *Error without an underlying cause.
func New(kind Kind, tag string) error {
	return &Error{Kind: kind, Tag: tag}
}

// Wrap annotates err with a Kind and a short context tag, in place of the
// source's mutable thread-local prefix chain.
func Wrap(kind Kind, tag string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Tag: tag, Err: err}
}

// Is reports whether err (or any error it wraps) has the given Kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}
