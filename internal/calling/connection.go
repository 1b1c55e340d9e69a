package calling

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Credentials are what the signaling provider needs to log in and place
// calls on behalf of one user.
type Credentials struct {
	Identity   string
	Secret     string
	CallerID   string
	CallerName string
}

func (c Credentials) validate() error {
	if strings.TrimSpace(c.Identity) == "" || strings.TrimSpace(c.Secret) == "" {
		return ErrCredentialsMissing
	}
	if strings.TrimSpace(c.CallerID) == "" {
		return ErrCallerIDMissing
	}
	return nil
}

// ClientFactory builds a fresh signaling client for one connection attempt.
type ClientFactory func(creds Credentials) (Client, error)

// DropFunc is called after the link went away. userInitiated is true for
// an explicit Disconnect.
type DropFunc func(reason string, userInitiated bool)

// ConnectionManager supervises the signaling link of one phone.
// It never calls out while holding mu.
type ConnectionManager struct {
	mu      sync.Mutex
	state   ConnectionState
	client  Client
	creds   Credentials
	factory ClientFactory
	// pending is set while a Connect is inside the factory. gen moves on
	// every Connect and Disconnect so a superseded attempt can tell.
	pending bool
	gen     uint64

	onClient func(Client)
	onDrop   DropFunc
	observer Observer
	log      *zap.SugaredLogger
}

func NewConnectionManager(factory ClientFactory, observer Observer, log *zap.SugaredLogger) *ConnectionManager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ConnectionManager{
		state:    ConnIdle,
		factory:  factory,
		observer: observer,
		log:      log,
	}
}

// OnClient registers a hook run for every new client before it connects.
func (m *ConnectionManager) OnClient(fn func(Client)) { m.onClient = fn }

// OnDrop registers the hook run when the link is lost or released.
func (m *ConnectionManager) OnDrop(fn DropFunc) { m.onDrop = fn }

func (m *ConnectionManager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *ConnectionManager) Client() Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

func (m *ConnectionManager) Credentials() Credentials {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds
}

// IsCurrent reports whether c is the live client.
func (m *ConnectionManager) IsCurrent(c Client) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return c != nil && m.client == c
}

// Connect validates creds, creates a client and starts logging in. The
// state reaches connected only once the client reports ready.
func (m *ConnectionManager) Connect(ctx context.Context, creds Credentials) error {
	if err := creds.validate(); err != nil {
		m.notify(NoticeError, "Missing Credentials", err.Error())
		return err
	}

	m.mu.Lock()
	if m.pending || (m.client != nil && (m.state == ConnConnecting || m.state == ConnConnected)) {
		m.mu.Unlock()
		return nil
	}
	m.pending = true
	m.gen++
	gen := m.gen
	stale := m.client
	m.client = nil
	m.state = ConnConnecting
	m.mu.Unlock()
	if stale != nil {
		_ = stale.Disconnect()
	}
	m.changed()

	client, err := m.factory(creds)

	m.mu.Lock()
	superseded := m.gen != gen
	if !superseded {
		m.pending = false
	}
	if err != nil {
		if !superseded {
			m.state = ConnDisconnected
		}
		m.mu.Unlock()
		m.changed()
		return fmt.Errorf("create signaling client: %w", err)
	}
	if superseded {
		m.mu.Unlock()
		m.log.Debugf("connect attempt superseded, dropping new client")
		_ = client.Disconnect()
		return nil
	}
	m.client = client
	m.creds = creds
	m.mu.Unlock()

	if m.onClient != nil {
		m.onClient(client)
	}

	m.log.Infof("connecting as %s", creds.Identity)
	if err := client.Connect(ctx, creds.Identity, creds.Secret); err != nil {
		m.release(client, ConnDisconnected)
		m.notify(NoticeError, "Connection Error", err.Error())
		return fmt.Errorf("connect signaling client: %w", err)
	}
	return nil
}

// Disconnect releases the client. Calling it again is a no-op.
func (m *ConnectionManager) Disconnect() error {
	m.mu.Lock()
	client := m.client
	pending := m.pending
	m.client = nil
	m.pending = false
	m.gen++
	if m.state != ConnIdle {
		m.state = ConnDisconnected
	}
	m.mu.Unlock()

	if client == nil {
		if pending {
			m.changed()
		}
		return nil
	}
	if m.onDrop != nil {
		m.onDrop("disconnected by user", true)
	}
	err := client.Disconnect()
	m.changed()
	m.notify(NoticeInfo, "Disconnected", "")
	if err != nil {
		return fmt.Errorf("disconnect signaling client: %w", err)
	}
	return nil
}

// Handle applies a connection-level event reported by client. Events from
// a released client are dropped.
func (m *ConnectionManager) Handle(client Client, ev Event) {
	if client == nil {
		return
	}
	switch e := ev.(type) {
	case ClientReady:
		m.mu.Lock()
		if m.client != client {
			m.mu.Unlock()
			return
		}
		m.state = ConnConnected
		m.mu.Unlock()
		m.log.Infof("signaling client ready")
		m.changed()
		m.notify(NoticeInfo, "Connected", "Ready to make and receive calls.")
	case ClientError:
		m.lost(client, "Connection Error", e.Detail)
	case SocketClosed:
		m.lost(client, "Disconnected", e.Detail)
	}
}

func (m *ConnectionManager) lost(client Client, title, detail string) {
	if !m.release(client, ConnDisconnected) {
		return
	}
	m.log.Warnf("signaling link lost: %s", detail)
	if m.onDrop != nil {
		m.onDrop(detail, false)
	}
	m.notify(NoticeError, title, detail)
}

// release drops client if it is still current and reports whether it was.
func (m *ConnectionManager) release(client Client, state ConnectionState) bool {
	if client == nil {
		return false
	}
	m.mu.Lock()
	if m.client != client {
		m.mu.Unlock()
		return false
	}
	m.client = nil
	m.state = state
	m.mu.Unlock()

	if err := client.Disconnect(); err != nil {
		m.log.Debugf("release signaling client: %v", err)
	}
	m.changed()
	return true
}

func (m *ConnectionManager) changed() {
	if m.observer != nil {
		m.observer.Changed()
	}
}

func (m *ConnectionManager) notify(level NoticeLevel, title, desc string) {
	if m.observer == nil {
		return
	}
	fx := effects{}
	fx.notice(level, title, desc)
	fx.deliver(m.observer)
}
