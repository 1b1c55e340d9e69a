package calling

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultHistoryLimit bounds the call log.
const DefaultHistoryLimit = 50

type CallType string

const (
	CallTypeIncoming CallType = "incoming"
	CallTypeOutgoing CallType = "outgoing"
	CallTypeMissed   CallType = "missed"
)

// CallLogEntry is an immutable record of one terminated session.
type CallLogEntry struct {
	ID              string    `json:"id"`
	PhoneNumber     string    `json:"phone_number"`
	DisplayName     string    `json:"display_name,omitempty"`
	Type            CallType  `json:"type"`
	StartTime       time.Time `json:"start_time"`
	DurationSeconds int       `json:"duration_seconds"`
	FinalStatus     CallState `json:"final_status"`
}

// CallLog is an insertion-ordered, newest-first, bounded history.
type CallLog struct {
	mu      sync.RWMutex
	entries []CallLogEntry
	max     int
}

func NewCallLog(max int) *CallLog {
	if max <= 0 {
		max = DefaultHistoryLimit
	}
	return &CallLog{max: max}
}

// Record prepends e, silently dropping the oldest entries past the limit.
func (l *CallLog) Record(e CallLogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append([]CallLogEntry{e}, l.entries...)
	if len(l.entries) > l.max {
		l.entries = l.entries[:l.max]
	}
}

// Entries returns a copy, newest first.
func (l *CallLog) Entries() []CallLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]CallLogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *CallLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// LogPolicy decides which outbound attempts are worth logging.
type LogPolicy struct {
	// OutboundFrom is the earliest state an outbound session must have
	// reached. Attempts that ended before it are local noise.
	OutboundFrom CallState
}

func DefaultLogPolicy() LogPolicy {
	return LogPolicy{OutboundFrom: StateRecovering}
}

// Recorder classifies terminated sessions and appends them to a CallLog.
type Recorder struct {
	log    *CallLog
	clock  SessionClock
	policy LogPolicy
	newID  func() string
}

func NewRecorder(log *CallLog, clock SessionClock, policy LogPolicy) *Recorder {
	return &Recorder{
		log:    log,
		clock:  clock,
		policy: policy,
		newID:  uuid.NewString,
	}
}

// Classify returns the log type for s ending in terminal; ok is false when
// the call must not be logged or terminal does not end a call.
func (r *Recorder) Classify(s *CallSession, terminal CallState) (CallType, bool) {
	if !terminal.IsTerminal() {
		return "", false
	}
	if s.Direction == DirectionInbound {
		if s.StartedAt == nil {
			return CallTypeMissed, true
		}
		return CallTypeIncoming, true
	}
	if s.furthest.progress() < r.policy.OutboundFrom.progress() {
		return CallTypeOutgoing, false
	}
	return CallTypeOutgoing, true
}

// Finish builds, records and returns the entry for s ending in terminal.
func (r *Recorder) Finish(s *CallSession, terminal CallState) (CallLogEntry, bool) {
	typ, ok := r.Classify(s, terminal)
	if !ok {
		return CallLogEntry{}, false
	}
	now := r.clock.Now()
	start := now
	if s.StartedAt != nil {
		start = *s.StartedAt
	}
	number := s.RemoteNumber
	if number == "" {
		number = "Unknown"
	}
	entry := CallLogEntry{
		ID:              r.newID(),
		PhoneNumber:     number,
		DisplayName:     s.RemoteDisplayName,
		Type:            typ,
		StartTime:       start,
		DurationSeconds: r.clock.Elapsed(s, now),
		FinalStatus:     terminal,
	}
	r.log.Record(entry)
	return entry, true
}
