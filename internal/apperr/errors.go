package apperr

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrUnknownSetting    = errors.New("unknown setting")
	ErrInvalidValue      = errors.New("invalid value")

	// ErrTransport means the request never reached the server or the
	// response could not be decoded.
	ErrTransport = errors.New("transport failure")
	// ErrRejected means the server answered with Status false.
	ErrRejected = errors.New("rejected by server")
)
