package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidState       = errors.New("invalid state")
	ErrCapabilityMismatch = errors.New("capability mismatch")
	ErrEngineFailure      = errors.New("engine failure")
	ErrFatalWorkerDeath   = errors.New("fatal worker death")
	ErrBadRequest         = errors.New("bad request")
	ErrRateLimited        = errors.New("rate limited")

	// ErrAlreadyClosed is reported for operations on a transport that was closed.
	ErrAlreadyClosed = fmt.Errorf("%w: already closed", ErrInvalidState)
)

func RoomNotFound(id RoomID) error {
	return fmt.Errorf("%w: room %s", ErrNotFound, id)
}

func TransportNotFound(id TransportID) error {
	return fmt.Errorf("%w: transport %s", ErrNotFound, id)
}

func ProducerNotFound(id ProducerID) error {
	return fmt.Errorf("%w: producer %s", ErrNotFound, id)
}

func ConsumerNotFound(id ConsumerID) error {
	return fmt.Errorf("%w: consumer %s", ErrNotFound, id)
}

// EngineError tags an error returned by the media engine.
func EngineError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrEngineFailure, op, err)
}

// Code maps an error onto the wire code sent to clients.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrCapabilityMismatch):
		return "capability_mismatch"
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "engine_failure"
	}
}
