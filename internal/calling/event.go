package calling

// Event is a normalized provider notification. The set is closed: only the
// types in this file implement it.
type Event interface {
	isEvent()
}

// ClientReady: the signaling link is up.
type ClientReady struct{}

// ClientError: the signaling link failed.
type ClientError struct {
	Detail string
}

// SocketClosed: the signaling transport went away.
type SocketClosed struct {
	Detail string
}

// IncomingOffer: a new inbound call is ringing.
type IncomingOffer struct {
	Call CallHandle
}

// StateChanged: a known call moved to a new canonical state.
type StateChanged struct {
	CallID string
	State  CallState
	// Call, when set, refreshes caller display fields.
	Call CallHandle
}

// MediaStream: remote media is available for a call.
type MediaStream struct {
	CallID string
	Stream any
}

// CallFailed: the provider reported an error on a call.
type CallFailed struct {
	CallID string
	Detail string
}

// MediaError: local media devices could not be acquired.
type MediaError struct {
	Detail string
}

func (ClientReady) isEvent()   {}
func (ClientError) isEvent()   {}
func (SocketClosed) isEvent()  {}
func (IncomingOffer) isEvent() {}
func (StateChanged) isEvent()  {}
func (MediaStream) isEvent()   {}
func (CallFailed) isEvent()    {}
func (MediaError) isEvent()    {}
