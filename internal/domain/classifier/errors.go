package classifier

import "errors"

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrUnknownFormat = errors.New("unknown model format")
	ErrModelNotFound = errors.New("model artifact not found")
	ErrInvalidModel  = errors.New("invalid model artifact")
	ErrBadInput      = errors.New("bad feature matrix")
	ErrRuntime       = errors.New("model runtime failure")
)
