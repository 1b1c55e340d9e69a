package calling

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Snapshot is the read-only view handed to presentation.
type Snapshot struct {
	ConnectionState ConnectionState `json:"connection_state"`
	CurrentSession  *CallSession    `json:"current_session"`
	CallLog         []CallLogEntry  `json:"call_log"`
	// DisplayState is the session state while a call exists, otherwise the
	// connection state.
	DisplayState    string          `json:"display_state"`
	CanDial         bool            `json:"can_dial"`
	Warnings        int64           `json:"adapter_warnings"`
}

type UpdateKind string

const (
	UpdateChanged UpdateKind = "changed"
	UpdateNotice  UpdateKind = "notice"
	UpdateLogged  UpdateKind = "logged"
)

// Update is pushed to subscribers of a phone.
type Update struct {
	Kind   UpdateKind    `json:"kind"`
	Notice *Notice       `json:"notice,omitempty"`
	Entry  *CallLogEntry `json:"entry,omitempty"`
}

type PhoneOptions struct {
	Factory      ClientFactory
	HistoryLimit int
	Policy       LogPolicy
	Now          func() time.Time
	Observer     Observer
	Logger       *zap.SugaredLogger
	// UpdateBuffer sizes each subscriber channel.
	UpdateBuffer int
}

// Phone is one user's softphone: a connection, a controller and a call log.
type Phone struct {
	conn    *ConnectionManager
	ctrl    *Controller
	adapter *Adapter
	history *CallLog
	log     *zap.SugaredLogger

	subMu  sync.Mutex
	subs   map[chan Update]struct{}
	bufLen int

	wg sync.WaitGroup
}

func NewPhone(opts PhoneOptions) *Phone {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Policy.OutboundFrom == StateIdle {
		opts.Policy = DefaultLogPolicy()
	}
	if opts.UpdateBuffer <= 0 {
		opts.UpdateBuffer = 16
	}

	p := &Phone{
		adapter: NewAdapter(opts.Logger),
		history: NewCallLog(opts.HistoryLimit),
		log:     opts.Logger,
		subs:    map[chan Update]struct{}{},
		bufLen:  opts.UpdateBuffer,
	}

	var observer Observer = p
	if opts.Observer != nil {
		observer = Observers{p, opts.Observer}
	}

	clock := NewSessionClock(opts.Now)
	p.conn = NewConnectionManager(opts.Factory, observer, opts.Logger)
	p.ctrl = NewController(p.conn, ControllerOptions{
		Clock:    clock,
		Recorder: NewRecorder(p.history, clock, opts.Policy),
		Observer: observer,
		Logger:   opts.Logger,
	})
	p.conn.OnClient(p.startPump)
	p.conn.OnDrop(p.ctrl.ConnectionLost)
	return p
}

func (p *Phone) startPump(c Client) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.pump(c)
	}()
}

// pump feeds one client's events, in arrival order, through the adapter.
func (p *Phone) pump(c Client) {
	for raw := range c.Events() {
		ev, ok := p.adapter.Translate(raw)
		if !ok {
			continue
		}
		switch ev.(type) {
		case ClientReady, ClientError, SocketClosed:
			p.conn.Handle(c, ev)
		default:
			if !p.conn.IsCurrent(c) {
				p.log.Debugf("event %T from released client dropped", ev)
				continue
			}
			p.ctrl.OnProviderEvent(ev)
		}
	}
}

func (p *Phone) Connect(ctx context.Context, creds Credentials) error {
	return p.conn.Connect(ctx, creds)
}

func (p *Phone) Disconnect() error {
	return p.conn.Disconnect()
}

func (p *Phone) PlaceCall(ctx context.Context, number string) (*CallSession, error) {
	return p.ctrl.PlaceCall(ctx, number)
}

func (p *Phone) Answer(ctx context.Context) error { return p.ctrl.Answer(ctx) }

func (p *Phone) Decline(ctx context.Context) error { return p.ctrl.Decline(ctx) }

func (p *Phone) Hangup(ctx context.Context) error { return p.ctrl.Hangup(ctx) }

func (p *Phone) ToggleMute() error { return p.ctrl.ToggleMute() }

func (p *Phone) ToggleHold(ctx context.Context) error { return p.ctrl.ToggleHold(ctx) }

func (p *Phone) SendTone(digit string) error { return p.ctrl.SendTone(digit) }

func (p *Phone) History() []CallLogEntry {
	return p.history.Entries()
}

func (p *Phone) Snapshot() Snapshot {
	conn := p.conn.State()
	s := p.ctrl.Current()
	display := conn.String()
	if s != nil {
		display = s.State.String()
	}
	return Snapshot{
		ConnectionState: conn,
		CurrentSession:  s,
		CallLog:         p.history.Entries(),
		DisplayState:    display,
		CanDial:         conn == ConnConnected && s == nil,
		Warnings:        p.adapter.Warnings(),
	}
}

// Subscribe returns a channel of updates and a function to stop them. Slow
// subscribers lose updates rather than block the phone.
func (p *Phone) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, p.bufLen)
	p.subMu.Lock()
	p.subs[ch] = struct{}{}
	p.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.subMu.Lock()
			delete(p.subs, ch)
			p.subMu.Unlock()
			close(ch)
		})
	}
}

func (p *Phone) publish(u Update) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for ch := range p.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

func (p *Phone) Notify(n Notice) {
	p.publish(Update{Kind: UpdateNotice, Notice: &n})
}

func (p *Phone) CallLogged(e CallLogEntry) {
	p.publish(Update{Kind: UpdateLogged, Entry: &e})
}

func (p *Phone) Changed() {
	p.publish(Update{Kind: UpdateChanged})
}

// Close disconnects and waits for the event pump to drain.
func (p *Phone) Close() error {
	err := p.conn.Disconnect()
	p.wg.Wait()
	return err
}
