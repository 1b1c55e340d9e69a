package calling

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Link is the controller's view of the signaling connection.
type Link interface {
	State() ConnectionState
	Client() Client
	Credentials() Credentials
}

// Controller is the call-session state machine. It owns the single
// "current session" register; every read-modify-write of that register
// happens under mu, so an offer racing a command is resolved by the busy
// rule.
type Controller struct {
	mu sync.Mutex

	link     Link
	clock    SessionClock
	recorder *Recorder
	observer Observer
	log      *zap.SugaredLogger

	current  *CallSession
	// draining holds sessions the user hung up whose provider confirmation
	// is still outstanding. They no longer count as in progress.
	draining map[string]*CallSession
	// ended remembers recently terminated call ids so late or replayed
	// provider events cannot bring a call back.
	ended    *endedCalls
}

// endedCallsLimit bounds the ended-call memory.
const endedCallsLimit = 128

// endedCalls is a fixed-size FIFO set of call ids.
type endedCalls struct {
	ids  map[string]struct{}
	ring []string
	next int
}

func newEndedCalls(limit int) *endedCalls {
	return &endedCalls{ids: make(map[string]struct{}, limit), ring: make([]string, limit)}
}

func (e *endedCalls) add(id string) {
	if _, ok := e.ids[id]; ok {
		return
	}
	if old := e.ring[e.next]; old != "" {
		delete(e.ids, old)
	}
	e.ring[e.next] = id
	e.ids[id] = struct{}{}
	e.next = (e.next + 1) % len(e.ring)
}

func (e *endedCalls) has(id string) bool {
	_, ok := e.ids[id]
	return ok
}

type ControllerOptions struct {
	Clock    SessionClock
	Recorder *Recorder
	Observer Observer
	Logger   *zap.SugaredLogger
}

func NewController(link Link, opts ControllerOptions) *Controller {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Recorder == nil {
		opts.Recorder = NewRecorder(NewCallLog(DefaultHistoryLimit), opts.Clock, DefaultLogPolicy())
	}
	return &Controller{
		link:     link,
		clock:    opts.Clock,
		recorder: opts.Recorder,
		observer: opts.Observer,
		log:      opts.Logger,
		draining: map[string]*CallSession{},
		ended:    newEndedCalls(endedCallsLimit),
	}
}

func (c *Controller) run(fn func(fx *effects) error) error {
	fx := &effects{}
	c.mu.Lock()
	err := fn(fx)
	c.mu.Unlock()
	fx.deliver(c.observer)
	return err
}

// Current returns a copy of the in-progress session, or nil.
func (c *Controller) Current() *CallSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.clone()
}

// Busy reports whether a session is in progress or an offer is pending.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// PlaceCall starts an outbound call to number.
func (c *Controller) PlaceCall(ctx context.Context, number string) (*CallSession, error) {
	number = strings.TrimSpace(number)
	var placed *CallSession
	err := c.run(func(fx *effects) error {
		if c.link.State() != ConnConnected {
			fx.notice(NoticeError, "Not Connected", "The signaling client is not connected.")
			return ErrNotConnected
		}
		if c.current != nil {
			fx.notice(NoticeError, "Call In Progress", "End the current call or handle the incoming call first.")
			return ErrSessionBusy
		}
		creds := c.link.Credentials()
		if creds.CallerID == "" {
			fx.notice(NoticeError, "Configuration Error", "Caller ID is not configured.")
			return ErrCallerIDMissing
		}
		if number == "" {
			return ErrInvalidNumber
		}
		client := c.link.Client()
		if client == nil {
			return ErrNotConnected
		}

		h, err := client.Originate(ctx, OriginateRequest{
			Destination: number,
			CallerID:    creds.CallerID,
			CallerName:  creds.CallerName,
		})
		if err != nil {
			fx.notice(NoticeError, "Call Failed", err.Error())
			return fmt.Errorf("originate call: %w", err)
		}

		s := newSession(h, DirectionOutbound, StateNew)
		if s.RemoteNumber == "" {
			s.RemoteNumber = number
		}
		c.current = s
		fx.changed = true
		c.log.Infof("[%s] outbound call to %s created", s.ID, number)
		placed = s.clone()
		return nil
	})
	return placed, err
}

// HandleInboundOffer promotes a ringing inbound call to the current session,
// or rejects it as busy when a session is already in progress.
func (c *Controller) HandleInboundOffer(h CallHandle) {
	if h == nil {
		return
	}
	_ = c.run(func(fx *effects) error {
		c.handleOfferLocked(h, fx)
		return nil
	})
}

func (c *Controller) handleOfferLocked(h CallHandle, fx *effects) {
	id := h.ID()
	if c.current != nil && c.current.ID == id {
		return
	}
	if _, ok := c.draining[id]; ok {
		return
	}
	if c.ended.has(id) {
		c.log.Debugf("[%s] offer for an ended call ignored", id)
		return
	}
	if c.current != nil {
		c.log.Warnf("[%s] incoming call while %s is in progress, rejecting as busy", id, c.current.ID)
		if err := h.Hangup(context.Background(), CauseUserBusy); err != nil {
			c.log.Warnf("[%s] busy rejection failed: %v", id, err)
		}
		fx.notice(NoticeWarning, "Call Rejected", "Another call is already in progress or ringing.")
		return
	}

	s := newSession(h, DirectionInbound, StateIncoming)
	c.current = s
	fx.changed = true
	c.log.Infof("[%s] incoming call from %s", id, s.RemoteNumber)
}

// Answer accepts the pending inbound offer. The session stays incoming
// until the provider reports the next state.
func (c *Controller) Answer(ctx context.Context) error {
	return c.run(func(fx *effects) error {
		s := c.current
		if s == nil || s.State != StateIncoming {
			return ErrNoIncomingCall
		}
		if s.answerRequested {
			return nil
		}
		if err := s.handle.Answer(ctx); err != nil {
			c.log.Errorf("[%s] answer failed: %v", s.ID, err)
			fx.notice(NoticeError, "Answer Error", "Could not answer call.")
			c.terminateLocked(s, StateHangup, fx)
			return fmt.Errorf("answer call: %w", err)
		}
		s.answerRequested = true
		fx.changed = true
		fx.notice(NoticeInfo, "Call Answered", "Connecting to "+displayOf(s))
		return nil
	})
}

// Decline rejects the pending offer; with no offer it behaves as Hangup.
func (c *Controller) Decline(ctx context.Context) error {
	return c.Hangup(ctx)
}

// Hangup ends the current session. It is a no-op with no session.
func (c *Controller) Hangup(ctx context.Context) error {
	return c.run(func(fx *effects) error {
		s := c.current
		if s == nil {
			return nil
		}

		if s.State == StateIncoming && !s.answerRequested {
			if err := s.handle.Hangup(ctx, HangupCause{}); err != nil {
				c.log.Warnf("[%s] decline failed: %v", s.ID, err)
			}
			fx.notice(NoticeInfo, "Call Declined", "Incoming call from "+displayOf(s)+" declined.")
			c.terminateLocked(s, StateHangup, fx)
			return nil
		}

		err := s.handle.Hangup(ctx, HangupCause{})
		if err != nil || s.State == StateNew {
			// Either the provider will never confirm, or it was never asked
			// to place the call.
			if err != nil {
				c.log.Warnf("[%s] hangup failed, ending locally: %v", s.ID, err)
			}
			c.terminateLocked(s, StateHangup, fx)
			return nil
		}

		c.current = nil
		c.draining[s.ID] = s
		fx.changed = true
		c.log.Infof("[%s] hangup requested in state %s", s.ID, s.State)
		return nil
	})
}

// ToggleMute mutes or unmutes the active or held call.
func (c *Controller) ToggleMute() error {
	return c.run(func(fx *effects) error {
		s := c.current
		if s == nil || !s.State.InCall() {
			return ErrNoActiveCall
		}
		want := !s.Muted
		var err error
		if want {
			err = s.handle.Mute()
		} else {
			err = s.handle.Unmute()
		}
		if err != nil {
			fx.notice(NoticeError, "Mute Error", err.Error())
			return fmt.Errorf("toggle mute: %w", err)
		}
		s.Muted = want
		fx.changed = true
		if want {
			fx.notice(NoticeInfo, "Muted", "")
		} else {
			fx.notice(NoticeInfo, "Unmuted", "")
		}
		return nil
	})
}

// ToggleHold holds an active call or resumes a held one. It blocks until
// the provider settles the request; OnHold only changes on success.
func (c *Controller) ToggleHold(ctx context.Context) error {
	var (
		s    *CallSession
		hold bool
	)
	err := c.run(func(fx *effects) error {
		s = c.current
		if s == nil {
			return ErrNoActiveCall
		}
		switch s.State {
		case StateActive:
			hold = true
		case StateHeld:
			hold = false
		default:
			return ErrNoActiveCall
		}
		if s.HoldPending {
			return ErrFlagPending
		}
		s.HoldPending = true
		fx.changed = true
		return nil
	})
	if err != nil {
		return err
	}

	h := s.handle
	if hold {
		err = h.Hold(ctx)
	} else {
		err = h.Unhold(ctx)
	}

	return c.run(func(fx *effects) error {
		s.HoldPending = false
		fx.changed = true
		if err != nil {
			c.log.Warnf("[%s] hold=%v rejected: %v", s.ID, hold, err)
			if hold {
				fx.notice(NoticeError, "Hold Error", "Could not put call on hold.")
				return fmt.Errorf("%w: %v", ErrHoldRejected, err)
			}
			fx.notice(NoticeError, "Resume Error", "Could not resume call.")
			return fmt.Errorf("%w: %v", ErrResumeRejected, err)
		}
		if s.terminated || c.current != s {
			return nil
		}
		if hold {
			s.OnHold = true
			if s.State == StateActive {
				s.setState(StateHeld)
			}
			fx.notice(NoticeInfo, "Call on Hold", "")
		} else {
			s.OnHold = false
			if s.State == StateHeld {
				s.setState(StateActive)
			}
			fx.notice(NoticeInfo, "Call Resumed", "")
		}
		return nil
	})
}

// SendTone sends one DTMF digit on the active call.
func (c *Controller) SendTone(digit string) error {
	return c.run(func(fx *effects) error {
		s := c.current
		if s == nil || s.State != StateActive {
			return ErrNoActiveCall
		}
		if !validDigit(digit) {
			return ErrInvalidDigit
		}
		if err := s.handle.SendDigit(digit); err != nil {
			return fmt.Errorf("send dtmf: %w", err)
		}
		return nil
	})
}

func validDigit(d string) bool {
	return len(d) == 1 && strings.Contains("0123456789*#ABCDabcd", d)
}

// OnProviderEvent applies a normalized call-level event. Connection-level
// events belong to the ConnectionManager and are ignored here.
func (c *Controller) OnProviderEvent(ev Event) {
	_ = c.run(func(fx *effects) error {
		switch e := ev.(type) {
		case IncomingOffer:
			if e.Call != nil {
				c.handleOfferLocked(e.Call, fx)
			}
		case StateChanged:
			c.applyStateLocked(e, fx)
		case MediaStream:
			if s := c.lookupLocked(e.CallID); s != nil {
				s.HasMedia = true
				fx.changed = true
			}
		case CallFailed:
			s := c.lookupLocked(e.CallID)
			if s == nil {
				return nil
			}
			desc := e.Detail
			if desc == "" {
				desc = "An error occurred during the call."
			}
			c.log.Errorf("[%s] call error: %s", s.ID, desc)
			fx.notice(NoticeError, "Call Error", desc)
			c.terminateLocked(s, StateHangup, fx)
		case MediaError:
			fx.notice(NoticeError, "Media Error", e.Detail)
		}
		return nil
	})
}

func (c *Controller) lookupLocked(id string) *CallSession {
	if c.current != nil && c.current.ID == id {
		return c.current
	}
	return c.draining[id]
}

func (c *Controller) applyStateLocked(e StateChanged, fx *effects) {
	s := c.lookupLocked(e.CallID)
	if s == nil || c.ended.has(e.CallID) {
		c.log.Debugf("[%s] %s for unknown or ended call ignored", e.CallID, e.State)
		return
	}
	if e.Call != nil {
		s.refreshDisplay(e.Call)
		fx.changed = true
	}

	next := e.State
	switch {
	case next == StateIdle:
		return
	case next.IsTerminal():
		c.terminateLocked(s, next, fx)
		return
	case s != c.current:
		// Draining: track progress for classification only.
		s.setState(next)
		if next == StateActive {
			c.clock.MarkActive(s)
		}
		return
	case s.State == StateHeld && next != StateActive && next != StateHeld:
		c.log.Warnf("[%s] left held for %s, ending call", s.ID, next)
		c.terminateLocked(s, StateHangup, fx)
		return
	case s.State == StateIncoming && next == StateRinging:
		return
	case next == StateHeld && s.State != StateActive && s.State != StateHeld:
		c.log.Warnf("[%s] held reported from %s ignored", s.ID, s.State)
		return
	}

	s.setState(next)
	switch next {
	case StateActive:
		if c.clock.MarkActive(s) {
			c.log.Infof("[%s] call active", s.ID)
		}
		s.OnHold = false
	case StateHeld:
		s.OnHold = true
	}
	fx.changed = true
}

// terminateLocked moves s to a terminal state exactly once: one log entry,
// one teardown.
func (c *Controller) terminateLocked(s *CallSession, terminal CallState, fx *effects) {
	if s.terminated {
		return
	}
	s.terminated = true
	s.setState(terminal)
	s.HasMedia = false
	s.HoldPending = false

	if entry, ok := c.recorder.Finish(s, terminal); ok {
		fx.logged = append(fx.logged, entry)
		c.log.Infof("[%s] logged %s call %s, %ds, %s", s.ID, entry.Type, entry.PhoneNumber, entry.DurationSeconds, terminal)
	} else {
		c.log.Infof("[%s] ended in %s before reaching the provider, not logged", s.ID, s.Furthest())
	}

	if c.current == s {
		c.current = nil
	}
	delete(c.draining, s.ID)
	c.ended.add(s.ID)
	fx.changed = true
}

// ConnectionLost force-terminates every owned session after the signaling
// link went away. Each is logged once, classified by its last known state.
func (c *Controller) ConnectionLost(reason string, hangup bool) {
	_ = c.run(func(fx *effects) error {
		sessions := make([]*CallSession, 0, len(c.draining)+1)
		if c.current != nil {
			sessions = append(sessions, c.current)
		}
		for _, s := range c.draining {
			sessions = append(sessions, s)
		}
		for _, s := range sessions {
			if hangup {
				if err := s.handle.Hangup(context.Background(), HangupCause{}); err != nil {
					c.log.Debugf("[%s] hangup on disconnect: %v", s.ID, err)
				}
			}
			c.log.Warnf("[%s] terminated in %s: %s", s.ID, s.State, reason)
			c.terminateLocked(s, StatePurge, fx)
		}
		return nil
	})
}

func displayOf(s *CallSession) string {
	if s.RemoteDisplayName != "" {
		return s.RemoteDisplayName
	}
	return s.RemoteNumber
}
