package events

import (
	"context"
	"fmt"
	"time"

	"github.com/pccr10001/softphone/internal/calling"
	"go.uber.org/zap"
)

type Kind string

const (
	KindNotice    Kind = "notice"
	KindCallEnded Kind = "call_logged"
)

// Event is one phone side effect addressed to a dashboard user.
type Event struct {
	Kind   Kind                  `json:"kind"`
	UserID uint                  `json:"user_id"`
	At     time.Time             `json:"at"`
	Notice *calling.Notice       `json:"notice,omitempty"`
	Entry  *calling.CallLogEntry `json:"entry,omitempty"`
}

// Subject is the pub/sub channel suffix for e.
func (e Event) Subject() string {
	return fmt.Sprintf("user:%d:events", e.UserID)
}

// Publisher delivers events to an external bus.
type Publisher interface {
	// Publish returns an error only for transport failures.
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NoopPublisher discards all events.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
func (NoopPublisher) Close() error                        { return nil }

// LoggingPublisher writes events to the log at debug level.
type LoggingPublisher struct {
	log *zap.SugaredLogger
}

func NewLoggingPublisher(log *zap.SugaredLogger) *LoggingPublisher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &LoggingPublisher{log: log}
}

func (p *LoggingPublisher) Publish(_ context.Context, e Event) error {
	switch {
	case e.Kind == KindNotice && e.Notice != nil:
		p.log.Debugw("event published", "subject", e.Subject(), "kind", e.Kind, "title", e.Notice.Title, "level", e.Notice.Level)
	case e.Kind == KindCallEnded && e.Entry != nil:
		p.log.Debugw("event published", "subject", e.Subject(), "kind", e.Kind, "type", e.Entry.Type, "status", e.Entry.FinalStatus, "duration", e.Entry.DurationSeconds)
	default:
		p.log.Debugw("event published", "subject", e.Subject(), "kind", e.Kind)
	}
	return nil
}

func (p *LoggingPublisher) Close() error { return nil }
