package service

import "errors"

// Coordination-layer errors. Timeout and disconnect conditions are
// expected operational outcomes, surfaced as typed errors so callers can
// retry, alert or give up.
var (
	// ErrUnknownClient indicates the target client id has no live
	// connection.
	ErrUnknownClient = errors.New("service: unknown client")

	// ErrTargetDisconnected indicates the target's transport closed while
	// a command was in flight.
	ErrTargetDisconnected = errors.New("service: target disconnected")

	// ErrCommandTimeout indicates no matching result arrived in time.
	ErrCommandTimeout = errors.New("service: command timed out")

	// ErrShuttingDown indicates the server is stopping and the operation
	// was cancelled.
	ErrShuttingDown = errors.New("service: shutting down")

	// ErrNotAuthorized indicates a mobile-app token that is missing,
	// unknown, expired or revoked.
	ErrNotAuthorized = errors.New("service: not authorized")

	// ErrIllegalTransition indicates a mobile-app registration state
	// change that the flow forbids.
	ErrIllegalTransition = errors.New("service: illegal registration transition")
)
