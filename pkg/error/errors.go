package errors

import (
	"errors"
	"fmt"
)

var (
	// Pairing errors
	ErrInvalidCode    = errors.New("bad code")
	ErrInvalidSlot    = errors.New("invalid slot")
	ErrPakeInit       = errors.New("couldn't generate A's PAKE message")
	ErrKeyDerivation  = errors.New("could not generate key")
	ErrEmptyKey       = errors.New("empty session key")
	ErrAuthentication = errors.New("bad key")
	ErrNegotiation    = errors.New("failed to negotiate direct transport")
	ErrNoConn         = errors.New("negotiator does not provide a connection")

	// Relay errors
	ErrSignalingConnection = errors.New("couldn't connect to signalling server")
	ErrNoSuchSlot          = errors.New("no such slot")
	ErrRelayTimeout        = errors.New("timed out")
	ErrSlotUnavailable     = errors.New("could not get slot")
	ErrVersionMismatch     = errors.New("wrong protocol version, must update")
	ErrRelayClosed         = errors.New("websocket session closed")
	ErrTransportClosed     = errors.New("relay connection is closed")
)

// CloseError is returned when the relay closes the session with a code that has no dedicated meaning
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("%s: %s (%d)", ErrRelayClosed, e.Reason, e.Code)
}

func (e *CloseError) Unwrap() error {
	return ErrRelayClosed
}

func Wrap(step error, err error) error {
	return fmt.Errorf("%w: %w", step, err)
}

// Is and As are re-exported so callers importing this package as errors keep the standard helpers
func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}
