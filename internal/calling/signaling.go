package calling

import (
	"context"
	"time"
)

// Client is the remote signaling/media provider. Implementations deliver
// every asynchronous notification through Events in arrival order.
//
// Originate, Connect and Disconnect must not block on events delivered
// through Events: the consumer may be busy inside a controller call.
// Disconnect closes the Events channel.
type Client interface {
	Connect(ctx context.Context, identity, secret string) error
	Disconnect() error
	Originate(ctx context.Context, req OriginateRequest) (CallHandle, error)
	Events() <-chan ProviderEvent
}

// OriginateRequest describes an outbound call.
type OriginateRequest struct {
	Destination string
	CallerID    string
	CallerName  string
}

// CallHandle is one provider call. Answer, Hangup, Mute, Unmute and
// SendDigit are fire-and-forget; Hold and Unhold block until the provider
// confirms or rejects.
type CallHandle interface {
	ID() string
	// Direction is the provider's own direction token.
	Direction() string
	RemoteNumber() string
	RemoteName() string
	Destination() string

	Answer(ctx context.Context) error
	Hangup(ctx context.Context, cause HangupCause) error
	Hold(ctx context.Context) error
	Unhold(ctx context.Context) error
	Mute() error
	Unmute() error
	SendDigit(digit string) error
}

// HangupCause is an optional Q.850/SIP cause attached to a hangup.
type HangupCause struct {
	Cause string
	Code  int
}

// CauseUserBusy is sent when an offer arrives while a call is in progress.
var CauseUserBusy = HangupCause{Cause: "USER_BUSY", Code: 486}

// ProviderEvent is a raw, vendor-worded notification. Only the Adapter
// interprets Name and State.
type ProviderEvent struct {
	Name   string
	CallID string
	// State is the provider state token for state-change notifications.
	State string
	// Kind is the notification sub-type, e.g. a call update.
	Kind string
	Call CallHandle
	// Stream is the provider media stream, opaque to the core.
	Stream any
	Detail string
	Err    error
	At     time.Time
}
