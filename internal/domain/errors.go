package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrSigningFailed = errors.New("signing failed")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrLockHeld      = errors.New("lock already held")

	// ErrOrderNotFound is returned by cancel/amend when the exchange no longer
	// knows the order (filled, cancelled, or expired).
	ErrOrderNotFound = errors.New("order not found")
	// ErrNotIdle is returned by OpenPosition when a trade is already in flight.
	ErrNotIdle = errors.New("trade already in flight")
	// ErrNoInstrument is returned when instrument specs cannot be resolved.
	ErrNoInstrument = errors.New("instrument spec unavailable")
	// ErrGatewayUnavailable is returned by the fast order gateway when it has
	// no authenticated session.
	ErrGatewayUnavailable = errors.New("order gateway unavailable")
)
