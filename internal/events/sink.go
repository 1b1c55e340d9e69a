package events

import (
	"context"
	"sync"
	"time"

	"github.com/pccr10001/softphone/internal/calling"
	"go.uber.org/zap"
)

const (
	defaultQueueSize      = 256
	defaultPublishTimeout = 3 * time.Second
)

// Sink queues phone side effects and hands them to a Publisher on a single
// worker goroutine. Observer callbacks never block on the bus; events that
// do not fit in the queue are dropped.
type Sink struct {
	pub     Publisher
	log     *zap.SugaredLogger
	timeout time.Duration
	now     func() time.Time

	queue chan Event
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

type SinkOptions struct {
	QueueSize      int
	PublishTimeout time.Duration
	Now            func() time.Time
}

func NewSink(pub Publisher, log *zap.SugaredLogger, opts SinkOptions) *Sink {
	if pub == nil {
		pub = NoopPublisher{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = defaultPublishTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Sink{
		pub:     pub,
		log:     log,
		timeout: opts.PublishTimeout,
		now:     opts.Now,
		queue:   make(chan Event, opts.QueueSize),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// ForUser returns the observer for one user's phone.
func (s *Sink) ForUser(userID uint) calling.Observer {
	return &userObserver{sink: s, userID: userID}
}

func (s *Sink) enqueue(e Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- e:
	default:
		s.log.Warnf("event queue full, dropping %s for user %d", e.Kind, e.UserID)
	}
}

func (s *Sink) run() {
	defer close(s.done)
	for e := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := s.pub.Publish(ctx, e); err != nil {
			s.log.Warnf("publish %s for user %d: %v", e.Kind, e.UserID, err)
		}
		cancel()
	}
}

// Close drains the queue and closes the publisher.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	return s.pub.Close()
}

type userObserver struct {
	calling.NopObserver
	sink   *Sink
	userID uint
}

func (o *userObserver) Notify(n calling.Notice) {
	o.sink.enqueue(Event{Kind: KindNotice, UserID: o.userID, At: o.sink.now(), Notice: &n})
}

func (o *userObserver) CallLogged(entry calling.CallLogEntry) {
	o.sink.enqueue(Event{Kind: KindCallEnded, UserID: o.userID, At: o.sink.now(), Entry: &entry})
}
