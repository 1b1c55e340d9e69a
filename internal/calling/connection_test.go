package calling

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type dropRecord struct {
	reason string
	user   bool
}

func newConnFixture(t *testing.T) (*ConnectionManager, *fakeClient, *int, *[]dropRecord) {
	t.Helper()
	client := newFakeClient()
	created := 0
	drops := []dropRecord{}
	m := NewConnectionManager(func(Credentials) (Client, error) {
		created++
		return client, nil
	}, &recordingObserver{}, nil)
	m.OnDrop(func(reason string, user bool) {
		drops = append(drops, dropRecord{reason, user})
	})
	return m, client, &created, &drops
}

var goodCreds = Credentials{Identity: "user", Secret: "pass", CallerID: "+15550001111"}

func TestConnectRejectsMissingCredentials(t *testing.T) {
	cases := []struct {
		name  string
		creds Credentials
		want  error
	}{
		{"no identity", Credentials{Secret: "p", CallerID: "1"}, ErrCredentialsMissing},
		{"no secret", Credentials{Identity: "u", CallerID: "1"}, ErrCredentialsMissing},
		{"blank secret", Credentials{Identity: "u", Secret: "  ", CallerID: "1"}, ErrCredentialsMissing},
		{"no caller id", Credentials{Identity: "u", Secret: "p"}, ErrCallerIDMissing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, _, created, _ := newConnFixture(t)
			if err := m.Connect(context.Background(), tc.creds); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if *created != 0 {
				t.Fatalf("no client should be created")
			}
			if m.State() != ConnIdle {
				t.Fatalf("state should stay idle, got %s", m.State())
			}
		})
	}
}

func TestConnectLifecycle(t *testing.T) {
	m, client, created, drops := newConnFixture(t)

	var hooked Client
	m.OnClient(func(c Client) { hooked = c })

	if err := m.Connect(context.Background(), goodCreds); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if *created != 1 || hooked != client {
		t.Fatalf("client not created or hook not run")
	}
	if m.State() != ConnConnecting {
		t.Fatalf("expected connecting, got %s", m.State())
	}

	// a second connect while connecting is a no-op
	if err := m.Connect(context.Background(), goodCreds); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if *created != 1 {
		t.Fatalf("second connect should not create a client")
	}

	m.Handle(client, ClientReady{})
	if m.State() != ConnConnected {
		t.Fatalf("expected connected, got %s", m.State())
	}
	if m.Credentials().CallerID != goodCreds.CallerID {
		t.Fatalf("credentials not stored")
	}

	m.Handle(client, SocketClosed{Detail: "1006"})
	if m.State() != ConnDisconnected {
		t.Fatalf("expected disconnected, got %s", m.State())
	}
	if m.Client() != nil || client.disconnectCount() != 1 {
		t.Fatalf("client should be released")
	}
	if len(*drops) != 1 || (*drops)[0].user {
		t.Fatalf("expected one provider drop, got %+v", *drops)
	}

	// events from the released client are ignored
	m.Handle(client, ClientReady{})
	if m.State() != ConnDisconnected {
		t.Fatalf("stale ready must not reconnect")
	}
}

func TestConnectErrorEvent(t *testing.T) {
	m, client, _, drops := newConnFixture(t)
	if err := m.Connect(context.Background(), goodCreds); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	m.Handle(client, ClientError{Detail: "Login Incorrect"})

	if m.State() != ConnDisconnected {
		t.Fatalf("expected disconnected, got %s", m.State())
	}
	if len(*drops) != 1 || (*drops)[0].reason != "Login Incorrect" {
		t.Fatalf("unexpected drops: %+v", *drops)
	}
}

func TestConnectFailureReleasesClient(t *testing.T) {
	m, client, _, _ := newConnFixture(t)
	client.connectErr = errors.New("dial tcp: refused")

	if err := m.Connect(context.Background(), goodCreds); err == nil {
		t.Fatalf("expected error")
	}
	if m.State() != ConnDisconnected || m.Client() != nil {
		t.Fatalf("expected released disconnected manager")
	}
	if client.disconnectCount() != 1 {
		t.Fatalf("client should be released")
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	m, client, _, drops := newConnFixture(t)

	if err := m.Disconnect(); err != nil {
		t.Fatalf("Disconnect before connect: %v", err)
	}
	if m.State() != ConnIdle {
		t.Fatalf("expected idle, got %s", m.State())
	}

	if err := m.Connect(context.Background(), goodCreds); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	m.Handle(client, ClientReady{})

	for i := 0; i < 2; i++ {
		if err := m.Disconnect(); err != nil {
			t.Fatalf("Disconnect #%d: %v", i, err)
		}
	}
	if client.disconnectCount() != 1 {
		t.Fatalf("expected one release, got %d", client.disconnectCount())
	}
	if len(*drops) != 1 || !(*drops)[0].user {
		t.Fatalf("expected one user drop, got %+v", *drops)
	}
	if m.State() != ConnDisconnected {
		t.Fatalf("expected disconnected, got %s", m.State())
	}
}

// gatedFactory hands out fresh clients, blocking each call until gate is
// closed. entered receives once per call.
type gatedFactory struct {
	mu      sync.Mutex
	gate    chan struct{}
	entered chan struct{}
	clients []*fakeClient
}

func newGatedFactory() *gatedFactory {
	return &gatedFactory{gate: make(chan struct{}), entered: make(chan struct{}, 4)}
}

func (g *gatedFactory) create(Credentials) (Client, error) {
	g.entered <- struct{}{}
	<-g.gate
	c := newFakeClient()
	g.mu.Lock()
	g.clients = append(g.clients, c)
	g.mu.Unlock()
	return c, nil
}

func (g *gatedFactory) created() []*fakeClient {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*fakeClient(nil), g.clients...)
}

func TestConcurrentConnectCreatesOneClient(t *testing.T) {
	g := newGatedFactory()
	m := NewConnectionManager(g.create, &recordingObserver{}, nil)

	first := make(chan error, 1)
	go func() { first <- m.Connect(context.Background(), goodCreds) }()
	<-g.entered

	if m.State() != ConnConnecting {
		t.Fatalf("expected connecting while the client is built, got %s", m.State())
	}
	if err := m.Connect(context.Background(), goodCreds); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	close(g.gate)
	if err := <-first; err != nil {
		t.Fatalf("first Connect: %v", err)
	}

	clients := g.created()
	if len(clients) != 1 {
		t.Fatalf("expected one client, got %d", len(clients))
	}
	if err := m.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if clients[0].disconnectCount() != 1 {
		t.Fatalf("client was not released")
	}
}

func TestDisconnectDuringConnectDropsNewClient(t *testing.T) {
	g := newGatedFactory()
	m := NewConnectionManager(g.create, &recordingObserver{}, nil)
	var hooked int
	m.OnClient(func(Client) { hooked++ })

	done := make(chan error, 1)
	go func() { done <- m.Connect(context.Background(), goodCreds) }()
	<-g.entered

	if err := m.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	close(g.gate)
	if err := <-done; err != nil {
		t.Fatalf("Connect: %v", err)
	}

	clients := g.created()
	if len(clients) != 1 || clients[0].disconnectCount() != 1 {
		t.Fatalf("superseded client should be released")
	}
	if m.Client() != nil || m.State() != ConnDisconnected {
		t.Fatalf("expected disconnected manager, got %s", m.State())
	}
	if hooked != 0 {
		t.Fatalf("superseded client must not be handed out")
	}
}

func TestHandleWithoutClientIsNoop(t *testing.T) {
	m, _, _, drops := newConnFixture(t)

	m.Handle(nil, ClientError{Detail: "boom"})
	m.Handle(nil, SocketClosed{Detail: "1006"})
	m.Handle(nil, ClientReady{})

	if m.State() != ConnIdle {
		t.Fatalf("expected idle, got %s", m.State())
	}
	if len(*drops) != 0 {
		t.Fatalf("unexpected drops: %+v", *drops)
	}
}
