package calling

import "errors"

// Precondition rejections. The requested operation did not execute and no
// state changed.
var (
	ErrNotConnected       = errors.New("signaling client not connected")
	ErrSessionBusy        = errors.New("another call is in progress or ringing")
	ErrCallerIDMissing    = errors.New("caller id not configured")
	ErrCredentialsMissing = errors.New("signaling credentials missing")
	ErrNoActiveCall       = errors.New("no active call")
	ErrNoIncomingCall     = errors.New("no incoming call")
	ErrHoldRejected       = errors.New("hold rejected")
	ErrResumeRejected     = errors.New("resume rejected")
	ErrFlagPending        = errors.New("previous request still pending")
	ErrInvalidDigit       = errors.New("invalid dtmf digit")
	ErrInvalidNumber      = errors.New("invalid destination number")
)

var preconditionErrors = []error{
	ErrNotConnected,
	ErrSessionBusy,
	ErrCallerIDMissing,
	ErrCredentialsMissing,
	ErrNoActiveCall,
	ErrNoIncomingCall,
	ErrHoldRejected,
	ErrResumeRejected,
	ErrFlagPending,
	ErrInvalidDigit,
	ErrInvalidNumber,
}

// IsPreconditionError reports whether err is a local, recoverable rejection.
func IsPreconditionError(err error) bool {
	for _, target := range preconditionErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func IsSessionBusyError(err error) bool {
	return errors.Is(err, ErrSessionBusy)
}

func IsNotConnectedError(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
