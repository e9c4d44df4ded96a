package errors

import "errors"

// Viewer-level failure taxonomy. Handlers map these to HTTP statuses,
// the controller maps them to action-log lines.
var (
	ErrNotConnected   = errors.New("transport not connected")
	ErrRequestFailed  = errors.New("backend request failed")
	ErrNoGame         = errors.New("no game loaded")
	ErrGameOver       = errors.New("game is over")
	ErrAnimationBusy  = errors.New("animation in progress")
	ErrAutoPlayActive = errors.New("auto play already active")
	ErrBadSpeed       = errors.New("invalid auto play speed")
)
