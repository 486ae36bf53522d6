// Package lnerrors defines the discriminated error kinds used across the
// tenant host: every error that crosses a component boundary carries a
// machine-readable Kind plus a human string, per the error handling design.
package lnerrors

import (
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// Kind discriminates the broad category of an Error so that callers (the
// RPC/HTTP transport shim in particular) can map it to the right wire
// response without string-matching.
type Kind int

const (
	// KindUnknown is the zero value; it should never be returned to a
	// caller.
	KindUnknown Kind = iota

	// KindConfiguration marks a fatal startup misconfiguration (bad RPC
	// credentials, unreachable chain backend).
	KindConfiguration

	// KindAuthentication marks a missing, invalid, expired, or revoked
	// credential.
	KindAuthentication

	// KindNotFound marks an unknown tenant, payment, channel, peer, or
	// access token. Invalid and expired access tokens both use this kind
	// to avoid leaking existence.
	KindNotFound

	// KindPrecondition marks a request that is well-formed but violates a
	// lifecycle or resource precondition (starting a Default tenant
	// before Root is running, deleting a Running tenant, a port outside
	// the configured range).
	KindPrecondition

	// KindFundingTimeout marks a single ChannelOpener request that never
	// observed its FundingGenerationReady event in time. Other requests
	// in the same batch are unaffected.
	KindFundingTimeout

	// KindProtocol marks an error surfaced by the external protocol
	// library (create_channel, funding_transaction_generated, a failed
	// claim_funds).
	KindProtocol

	// KindChainFatal marks a database or chain-listener error that is
	// fatal to the owning tenant; the process itself keeps running.
	KindChainFatal
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindAuthentication:
		return "unauthenticated"
	case KindNotFound:
		return "not_found"
	case KindPrecondition:
		return "precondition"
	case KindFundingTimeout:
		return "funding_timeout"
	case KindProtocol:
		return "protocol"
	case KindChainFatal:
		return "chain_fatal"
	default:
		return "unknown"
	}
}

// Error is the error type returned across every component boundary in this
// module. It embeds a go-errors/errors stack trace (the teacher's own error
// library) so that a ChainFatal error logged by a tenant's chain listener
// still carries its origin.
type Error struct {
	Kind Kind
	Msg  string
	err  *goerrors.Error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap allows errors.Is/errors.As to see through to the wrapped cause.
func (e *Error) Unwrap() error {
	if e.err == nil {
		return nil
	}
	return e.err.Err
}

// Stack returns the captured stack trace, useful for ChainFatal logging.
func (e *Error) Stack() string {
	if e.err == nil {
		return ""
	}
	return string(e.err.Stack())
}

// New creates a new Error of the given kind, capturing a stack trace at the
// call site.
func New(kind Kind, format string, args ...interface{}) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{
		Kind: kind,
		Msg:  msg,
		err:  goerrors.Wrap(fmt.Errorf("%s", msg), 1),
	}
}

// Wrap wraps an existing error with a Kind, preserving it as the Unwrap
// cause and capturing a stack trace.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{
		Kind: kind,
		Msg:  fmt.Sprintf("%s: %v", msg, cause),
		err:  goerrors.Wrap(cause, 1),
	}
}

// NotFound is a convenience constructor used heavily by the Database and
// AuthLayer, which must return a KindNotFound for both "absent" and
// "expired" access tokens so existence is never leaked.
func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, format, args...)
}

// Unauthenticated is a convenience constructor for AuthLayer rejections.
func Unauthenticated(format string, args ...interface{}) *Error {
	return New(KindAuthentication, format, args...)
}

// Precondition is a convenience constructor for lifecycle violations.
func Precondition(format string, args ...interface{}) *Error {
	return New(KindPrecondition, format, args...)
}

// ChainFatal is a convenience constructor for chain-listener/database
// errors that must abort the owning tenant.
func ChainFatal(cause error, format string, args ...interface{}) *Error {
	return Wrap(KindChainFatal, cause, format, args...)
}

// Is reports whether err carries the given Kind, unwrapping through
// standard library error wrapping.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if le, ok := err.(*Error); ok {
			e = le
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}
