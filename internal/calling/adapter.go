package calling

import (
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
)

// Provider vocabulary. Nothing outside this file compares against these.
const (
	providerReady        = "telnyx.ready"
	providerError        = "telnyx.error"
	providerSocketClose  = "telnyx.socket.close"
	providerNotification = "telnyx.notification"
	providerStateChange  = "telnyx.stateChange"
	providerStream       = "telnyx.stream"
	providerCallError    = "error"
	providerCallHangup   = "hangup"
	providerCallDestroy  = "destroy"

	notificationCallUpdate = "callUpdate"
	notificationMediaError = "userMediaError"

	directionInbound = "inbound"
)

var providerStates = map[string]CallState{
	"new":        StateNew,
	"requesting": StateRequesting,
	"trying":     StateTrying,
	"recovering": StateRecovering,
	"ringing":    StateRinging,
	"answering":  StateAnswering,
	"early":      StateEarly,
	"active":     StateActive,
	"held":       StateHeld,
	"hangup":     StateHangup,
	"destroy":    StateDestroy,
	"purge":      StatePurge,
}

// Adapter translates provider events into the closed Event set.
type Adapter struct {
	log      *zap.SugaredLogger
	warnings atomic.Int64
}

func NewAdapter(log *zap.SugaredLogger) *Adapter {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Adapter{log: log}
}

// Normalize maps a provider state token to a canonical state. Unknown tokens
// yield StateIdle and a warning.
func (a *Adapter) Normalize(token string) CallState {
	if s, ok := providerStates[strings.ToLower(strings.TrimSpace(token))]; ok {
		return s
	}
	a.warn("unknown provider call state %q, treating as idle", token)
	return StateIdle
}

// Direction maps the provider direction token.
func (a *Adapter) Direction(h CallHandle) Direction {
	if h != nil && strings.EqualFold(h.Direction(), directionInbound) {
		return DirectionInbound
	}
	return DirectionOutbound
}

// Warnings is the number of unrecognized provider inputs seen so far.
func (a *Adapter) Warnings() int64 {
	return a.warnings.Load()
}

// Translate converts one raw provider event. ok is false for events the
// core does not consume.
func (a *Adapter) Translate(ev ProviderEvent) (Event, bool) {
	switch ev.Name {
	case providerReady:
		return ClientReady{}, true
	case providerError:
		return ClientError{Detail: detailOf(ev)}, true
	case providerSocketClose:
		return SocketClosed{Detail: detailOf(ev)}, true
	case providerNotification:
		return a.translateNotification(ev)
	case providerStateChange:
		return StateChanged{CallID: callIDOf(ev), State: a.Normalize(ev.State), Call: ev.Call}, true
	case providerCallHangup:
		return StateChanged{CallID: callIDOf(ev), State: StateHangup, Call: ev.Call}, true
	case providerCallDestroy:
		return StateChanged{CallID: callIDOf(ev), State: StateDestroy, Call: ev.Call}, true
	case providerStream:
		return MediaStream{CallID: callIDOf(ev), Stream: ev.Stream}, true
	case providerCallError:
		return CallFailed{CallID: callIDOf(ev), Detail: detailOf(ev)}, true
	default:
		a.warn("unknown provider event %q ignored", ev.Name)
		return nil, false
	}
}

func (a *Adapter) translateNotification(ev ProviderEvent) (Event, bool) {
	switch ev.Kind {
	case notificationCallUpdate:
		if ev.Call == nil {
			return nil, false
		}
		state := a.Normalize(ev.State)
		if state == StateRinging && a.Direction(ev.Call) == DirectionInbound {
			return IncomingOffer{Call: ev.Call}, true
		}
		return StateChanged{CallID: ev.Call.ID(), State: state, Call: ev.Call}, true
	case notificationMediaError:
		return MediaError{Detail: detailOf(ev)}, true
	default:
		a.log.Debugf("notification %q ignored", ev.Kind)
		return nil, false
	}
}

func (a *Adapter) warn(format string, args ...any) {
	a.warnings.Add(1)
	a.log.Warnf(format, args...)
}

func callIDOf(ev ProviderEvent) string {
	if ev.CallID != "" {
		return ev.CallID
	}
	if ev.Call != nil {
		return ev.Call.ID()
	}
	return ""
}

func detailOf(ev ProviderEvent) string {
	if ev.Detail != "" {
		return ev.Detail
	}
	if ev.Err != nil {
		return ev.Err.Error()
	}
	return ""
}
