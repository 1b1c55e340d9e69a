package calling

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var ErrPhoneNotFound = errors.New("phone not initialized")

// UserObservers supplies the observer for one user's phone.
type UserObservers interface {
	ForUser(userID uint) Observer
}

// Manager owns one Phone per user.
type Manager struct {
	log       *zap.SugaredLogger
	opts      PhoneOptions
	observers UserObservers

	mu     sync.Mutex
	phones map[uint]*Phone
}

// NewManager builds phones from opts. Each phone gets a logger scoped to
// its user and, when observers is set, that user's observer alongside
// opts.Observer.
func NewManager(opts PhoneOptions, observers UserObservers, log *zap.SugaredLogger) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{
		log:       log,
		opts:      opts,
		observers: observers,
		phones:    map[uint]*Phone{},
	}
}

func (m *Manager) EnsurePhone(userID uint) *Phone {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.phones[userID]; ok {
		return p
	}

	opts := m.opts
	opts.Logger = m.log.With("user_id", userID)
	if m.observers != nil {
		user := m.observers.ForUser(userID)
		if opts.Observer != nil {
			opts.Observer = Observers{opts.Observer, user}
		} else {
			opts.Observer = user
		}
	}
	p := NewPhone(opts)
	m.phones[userID] = p
	return p
}

func (m *Manager) GetPhone(userID uint) *Phone {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phones[userID]
}

// RequirePhone returns the user's phone or ErrPhoneNotFound.
func (m *Manager) RequirePhone(userID uint) (*Phone, error) {
	p := m.GetPhone(userID)
	if p == nil {
		return nil, ErrPhoneNotFound
	}
	return p, nil
}

// Connect creates the user's phone on first use and logs it in.
func (m *Manager) Connect(ctx context.Context, userID uint, creds Credentials) (*Phone, error) {
	p := m.EnsurePhone(userID)
	return p, p.Connect(ctx, creds)
}

func (m *Manager) ClosePhone(userID uint) error {
	m.mu.Lock()
	p := m.phones[userID]
	delete(m.phones, userID)
	m.mu.Unlock()

	if p == nil {
		return nil
	}
	return p.Close()
}

func (m *Manager) CloseAll() error {
	m.mu.Lock()
	keys := make([]uint, 0, len(m.phones))
	for k := range m.phones {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	var closeErr error
	for _, k := range keys {
		if err := m.ClosePhone(k); err != nil && closeErr == nil {
			closeErr = err
		}
	}
	return closeErr
}
