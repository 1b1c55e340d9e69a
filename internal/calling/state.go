package calling

import "fmt"

// CallState is the canonical lifecycle state of a call session. It is
// decoupled from any provider vocabulary; see Adapter for the mapping.
type CallState int

const (
	StateIdle CallState = iota
	StateNew
	StateRequesting
	StateTrying
	StateRecovering
	StateRinging
	StateEarly
	StateAnswering
	StateActive
	StateHeld
	StateHangup
	StateDestroy
	StatePurge
	// StateIncoming is an inbound offer waiting for the user to answer or
	// decline. Providers report it as ringing.
	StateIncoming
)

var stateNames = map[CallState]string{
	StateIdle:       "idle",
	StateNew:        "new",
	StateRequesting: "requesting",
	StateTrying:     "trying",
	StateRecovering: "recovering",
	StateRinging:    "ringing",
	StateEarly:      "early",
	StateAnswering:  "answering",
	StateActive:     "active",
	StateHeld:       "held",
	StateHangup:     "hangup",
	StateDestroy:    "destroy",
	StatePurge:      "purge",
	StateIncoming:   "incoming",
}

var stateByName = func() map[string]CallState {
	m := make(map[string]CallState, len(stateNames))
	for s, name := range stateNames {
		m[name] = s
	}
	return m
}()

func (s CallState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

func (s CallState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *CallState) UnmarshalText(b []byte) error {
	parsed, ok := ParseCallState(string(b))
	if !ok {
		return fmt.Errorf("unknown call state %q", string(b))
	}
	*s = parsed
	return nil
}

// ParseCallState parses a canonical state name.
func ParseCallState(name string) (CallState, bool) {
	s, ok := stateByName[name]
	return s, ok
}

// IsTerminal reports whether no further transitions are valid.
func (s CallState) IsTerminal() bool {
	return s == StateHangup || s == StateDestroy || s == StatePurge
}

// InCall reports whether media is (or was just) flowing.
func (s CallState) InCall() bool {
	return s == StateActive || s == StateHeld
}

// progress orders non-terminal states along the dialing path. Incoming
// shares ringing's rank.
func (s CallState) progress() int {
	switch s {
	case StateNew:
		return 1
	case StateRequesting:
		return 2
	case StateTrying:
		return 3
	case StateRecovering:
		return 4
	case StateRinging, StateIncoming:
		return 5
	case StateEarly:
		return 6
	case StateAnswering:
		return 7
	case StateActive, StateHeld:
		return 8
	default:
		return 0
	}
}

// Direction of a call relative to this softphone.
type Direction int

const (
	DirectionInbound Direction = iota
	DirectionOutbound
)

func (d Direction) String() string {
	switch d {
	case DirectionInbound:
		return "inbound"
	case DirectionOutbound:
		return "outbound"
	default:
		return fmt.Sprintf("unknown(%d)", int(d))
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	switch string(b) {
	case "inbound":
		*d = DirectionInbound
	case "outbound":
		*d = DirectionOutbound
	default:
		return fmt.Errorf("unknown direction %q", string(b))
	}
	return nil
}

// ConnectionState is the lifecycle of the signaling link, independent of
// any call.
type ConnectionState int

const (
	ConnIdle ConnectionState = iota
	ConnConnecting
	ConnConnected
	ConnDisconnected
)

func (c ConnectionState) String() string {
	switch c {
	case ConnIdle:
		return "idle"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

func (c ConnectionState) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ConnectionState) UnmarshalText(b []byte) error {
	for _, s := range []ConnectionState{ConnIdle, ConnConnecting, ConnConnected, ConnDisconnected} {
		if s.String() == string(b) {
			*c = s
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", string(b))
}
