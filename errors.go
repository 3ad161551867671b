package rdpbridge

import "errors"

var (
	ErrInvalidBookmark = errors.New("invalid bookmark")
	ErrInvalidURI      = errors.New("invalid connection uri")

	ErrAlreadyConnected = errors.New("instance already connected")
	ErrUnknownHandle    = errors.New("unknown session handle")
	ErrEngineRejected   = errors.New("engine rejected the call")

	// ErrWaitInterrupted is returned by Registry.WaitIdle when the context
	// ends before the handle went idle.
	ErrWaitInterrupted = errors.New("wait for idle interrupted")
	// ErrFreeInterrupted means Free gave up while the session was still busy.
	// The handle is left allocated and refuses further connects; a later Free
	// can still release it.
	ErrFreeInterrupted = errors.New("free interrupted while session busy")

	ErrMalformedVersion   = errors.New("malformed engine version")
	ErrUnsupportedVersion = errors.New("engine version does not meet requirements")
)
