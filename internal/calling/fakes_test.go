package calling

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeHandle struct {
	mu sync.Mutex

	id     string
	dir    string
	number string
	name   string
	dest   string

	answerErr error
	hangupErr error
	holdErr   error
	unholdErr error
	muteErr   error

	// holdGate, when set, blocks Hold until it is closed; holdEntered is
	// signalled first.
	holdGate    chan struct{}
	holdEntered chan struct{}

	answers int
	hangups []HangupCause
	holds   int
	unholds int
	digits  []string
	muted   bool
}

func (h *fakeHandle) ID() string           { return h.id }
func (h *fakeHandle) Direction() string    { return h.dir }
func (h *fakeHandle) RemoteNumber() string { return h.number }
func (h *fakeHandle) RemoteName() string   { return h.name }
func (h *fakeHandle) Destination() string  { return h.dest }

func (h *fakeHandle) Answer(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.answers++
	return h.answerErr
}

func (h *fakeHandle) Hangup(_ context.Context, cause HangupCause) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hangups = append(h.hangups, cause)
	return h.hangupErr
}

func (h *fakeHandle) Hold(context.Context) error {
	if h.holdGate != nil {
		h.holdEntered <- struct{}{}
		<-h.holdGate
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.holds++
	return h.holdErr
}

func (h *fakeHandle) Unhold(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unholds++
	return h.unholdErr
}

func (h *fakeHandle) Mute() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.muteErr != nil {
		return h.muteErr
	}
	h.muted = true
	return nil
}

func (h *fakeHandle) Unmute() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.muted = false
	return nil
}

func (h *fakeHandle) SendDigit(d string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.digits = append(h.digits, d)
	return nil
}

func (h *fakeHandle) hangupCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.hangups)
}

type fakeClient struct {
	mu sync.Mutex

	connectErr   error
	originateErr error
	next         *fakeHandle

	events      chan ProviderEvent
	closeOnce   sync.Once
	connects    int
	disconnects int
	originated  []OriginateRequest
}

func newFakeClient() *fakeClient {
	return &fakeClient{events: make(chan ProviderEvent, 32)}
}

func (c *fakeClient) Connect(context.Context, string, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	return c.connectErr
}

func (c *fakeClient) Disconnect() error {
	c.mu.Lock()
	c.disconnects++
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.events) })
	return nil
}

func (c *fakeClient) Originate(_ context.Context, req OriginateRequest) (CallHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.originateErr != nil {
		return nil, c.originateErr
	}
	c.originated = append(c.originated, req)
	h := c.next
	if h == nil {
		h = &fakeHandle{id: "out-1", dir: "outbound", dest: req.Destination}
	}
	c.next = nil
	return h, nil
}

func (c *fakeClient) Events() <-chan ProviderEvent { return c.events }

func (c *fakeClient) disconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

type fakeLink struct {
	state  ConnectionState
	client Client
	creds  Credentials
}

func (l *fakeLink) State() ConnectionState   { return l.state }
func (l *fakeLink) Client() Client           { return l.client }
func (l *fakeLink) Credentials() Credentials { return l.creds }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingObserver struct {
	mu      sync.Mutex
	notices []Notice
	logged  []CallLogEntry
	changes int
}

func (o *recordingObserver) Notify(n Notice) {
	o.mu.Lock()
	o.notices = append(o.notices, n)
	o.mu.Unlock()
}

func (o *recordingObserver) CallLogged(e CallLogEntry) {
	o.mu.Lock()
	o.logged = append(o.logged, e)
	o.mu.Unlock()
}

func (o *recordingObserver) Changed() {
	o.mu.Lock()
	o.changes++
	o.mu.Unlock()
}

func (o *recordingObserver) hasNotice(title string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, n := range o.notices {
		if n.Title == title {
			return true
		}
	}
	return false
}

type controllerFixture struct {
	ctrl   *Controller
	link   *fakeLink
	client *fakeClient
	log    *CallLog
	clock  *fakeClock
	obs    *recordingObserver
}

func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()
	client := newFakeClient()
	link := &fakeLink{
		state:  ConnConnected,
		client: client,
		creds:  Credentials{Identity: "user", Secret: "pass", CallerID: "+15550001111", CallerName: "Desk"},
	}
	clk := newFakeClock()
	clock := NewSessionClock(clk.now)
	history := NewCallLog(DefaultHistoryLimit)
	obs := &recordingObserver{}
	ctrl := NewController(link, ControllerOptions{
		Clock:    clock,
		Recorder: NewRecorder(history, clock, DefaultLogPolicy()),
		Observer: obs,
	})
	return &controllerFixture{ctrl: ctrl, link: link, client: client, log: history, clock: clk, obs: obs}
}

func (f *controllerFixture) state(id string, s CallState) {
	f.ctrl.OnProviderEvent(StateChanged{CallID: id, State: s})
}

// activeOutbound places a call and drives it to active.
func (f *controllerFixture) activeOutbound(t *testing.T, h *fakeHandle) {
	t.Helper()
	f.client.next = h
	if _, err := f.ctrl.PlaceCall(context.Background(), h.dest); err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	for _, s := range []CallState{StateRequesting, StateTrying, StateRinging, StateActive} {
		f.state(h.id, s)
	}
	if cur := f.ctrl.Current(); cur == nil || cur.State != StateActive {
		t.Fatalf("expected active session, got %+v", cur)
	}
}

// incoming offers an inbound call and checks it became current.
func (f *controllerFixture) incoming(t *testing.T, h *fakeHandle) {
	t.Helper()
	f.ctrl.OnProviderEvent(IncomingOffer{Call: h})
	cur := f.ctrl.Current()
	if cur == nil || cur.ID != h.id || cur.State != StateIncoming {
		t.Fatalf("expected incoming session %s, got %+v", h.id, cur)
	}
}
