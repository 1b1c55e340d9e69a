package calling

import "time"

// CallSession is one call attempt owned by the controller.
type CallSession struct {
	ID                string     `json:"id"`
	Direction         Direction  `json:"direction"`
	RemoteNumber      string     `json:"remote_number"`
	RemoteDisplayName string     `json:"remote_display_name,omitempty"`
	State             CallState  `json:"state"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	Muted             bool       `json:"muted"`
	OnHold            bool       `json:"on_hold"`
	HasMedia          bool       `json:"has_media"`
	// HoldPending is set while a hold or resume request is outstanding.
	// OnHold only changes once the provider settles it.
	HoldPending       bool       `json:"hold_pending"`

	handle          CallHandle
	furthest        CallState
	answerRequested bool
	terminated      bool
}

func newSession(h CallHandle, dir Direction, state CallState) *CallSession {
	s := &CallSession{
		ID:        h.ID(),
		Direction: dir,
		State:     state,
		handle:    h,
		furthest:  state,
	}
	s.refreshDisplay(h)
	return s
}

// refreshDisplay pulls caller-id fields that may arrive after creation.
func (s *CallSession) refreshDisplay(h CallHandle) {
	if h == nil {
		return
	}
	number := h.RemoteNumber()
	if number == "" {
		number = h.Destination()
	}
	if number == "" && s.RemoteNumber == "" && s.Direction == DirectionInbound {
		number = UnknownNumber
	}
	if number != "" {
		s.RemoteNumber = number
	}
	if name := h.RemoteName(); name != "" {
		s.RemoteDisplayName = name
	}
}

// setState applies a transition and tracks the furthest dialing progress.
func (s *CallSession) setState(state CallState) {
	s.State = state
	if state.progress() > s.furthest.progress() {
		s.furthest = state
	}
}

// Furthest is the most advanced non-terminal state the session reached.
func (s *CallSession) Furthest() CallState {
	return s.furthest
}

// Handle returns the provider call.
func (s *CallSession) Handle() CallHandle {
	return s.handle
}

func (s *CallSession) clone() *CallSession {
	if s == nil {
		return nil
	}
	c := *s
	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	return &c
}

// UnknownNumber is displayed for inbound calls without caller id.
const UnknownNumber = "Unknown Number"

// SessionClock stamps the first active instant of a session and derives
// elapsed whole seconds from it.
type SessionClock struct {
	now func() time.Time
}

func NewSessionClock(now func() time.Time) SessionClock {
	if now == nil {
		now = time.Now
	}
	return SessionClock{now: now}
}

func (c SessionClock) Now() time.Time {
	if c.now == nil {
		return time.Now()
	}
	return c.now()
}

// MarkActive sets StartedAt once. It reports whether this call set it.
func (c SessionClock) MarkActive(s *CallSession) bool {
	if s == nil || s.StartedAt != nil {
		return false
	}
	t := c.Now()
	s.StartedAt = &t
	return true
}

// Elapsed returns whole seconds since StartedAt, 0 if never active.
func (c SessionClock) Elapsed(s *CallSession, now time.Time) int {
	if s == nil || s.StartedAt == nil {
		return 0
	}
	d := now.Sub(*s.StartedAt)
	if d <= 0 {
		return 0
	}
	return int(d / time.Second)
}
