// Package lifecycle tracks the local remote-desktop session: launching the
// client, noticing when it exits and announcing both transitions.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/example/deskwatch/internal/logging"
)

var (
	// ErrMissingCredentials is returned by Connect when host, user or
	// password is empty.
	ErrMissingCredentials = errors.New("missing credentials: host, user and password are required")
	// ErrBusy is returned by Connect unless the manager is idle.
	ErrBusy = errors.New("a remote desktop session is already starting or active")
	// ErrClosed is returned by Connect after Shutdown.
	ErrClosed = errors.New("session manager is shut down")
)

// State of the local session.
type State int

const (
	StateIdle State = iota
	StateLaunching
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLaunching:
		return "launching"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventKind identifies a lifecycle transition.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventLaunchFailed
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventLaunchFailed:
		return "launch-failed"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event announces a transition of session Session.
type Event struct {
	Kind    EventKind
	Session uint64
	Host    string
	Err     error
	At      time.Time
}

// LaunchFunc starts the remote-desktop client for t.
type LaunchFunc func(ctx context.Context, t Target) (Process, error)

type session struct {
	id     uint64
	target Target
	proc   Process
	once   sync.Once
}

// Manager is the Idle -> Launching -> Connected -> Idle state machine.
type Manager struct {
	launch LaunchFunc

	mu      sync.Mutex
	state   State
	current *session
	nextID  uint64
	closed  bool

	events   chan Event
	detached chan struct{}
	detach   sync.Once
}

const eventBuffer = 16

// NewManager returns an idle manager that starts clients through launch.
func NewManager(launch LaunchFunc) *Manager {
	return &Manager{
		launch: launch,
		events:   make(chan Event, eventBuffer),
		detached: make(chan struct{}),
	}
}

// Events delivers transitions in order. There should be a single consumer,
// and it must call Detach when it stops reading.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Detach tells the manager nobody reads Events any more. Transitions after
// that are logged instead of delivered.
func (m *Manager) Detach() {
	m.detach.Do(func() { close(m.detached) })
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether a session is currently connected.
func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

// Host returns the host of the connected session, if any.
func (m *Manager) Host() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.target.Host
}

// Connect launches the client. It returns once the process has started; the
// session then stays Connected until the process exits or Shutdown is called.
func (m *Manager) Connect(ctx context.Context, t Target) error {
	if !t.Complete() {
		return ErrMissingCredentials
	}

	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return ErrClosed
	case m.state != StateIdle:
		m.mu.Unlock()
		return ErrBusy
	}
	m.state = StateLaunching
	m.nextID++
	id := m.nextID
	m.mu.Unlock()

	proc, err := m.launch(ctx, t)
	if err != nil {
		m.mu.Lock()
		m.state = StateIdle
		m.mu.Unlock()
		m.emit(Event{Kind: EventLaunchFailed, Session: id, Host: t.Host, Err: err})
		return fmt.Errorf("launch remote desktop: %w", err)
	}

	s := &session{id: id, target: t, proc: proc}
	m.mu.Lock()
	if m.closed {
		m.state = StateIdle
		m.mu.Unlock()
		_ = proc.Stop()
		return ErrClosed
	}
	m.current = s
	m.state = StateConnected
	m.mu.Unlock()

	log.Printf("remote desktop session %d connected to %s", id, t.Host)
	m.emit(Event{Kind: EventConnected, Session: id, Host: t.Host})
	go m.monitor(s)
	return nil
}

// Shutdown stops the connected client, if any, and refuses further
// connects. The Disconnected event is emitted before Shutdown returns.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	s := m.current
	m.mu.Unlock()
	if s == nil {
		return
	}

	if err := s.proc.Stop(); err != nil {
		log.Printf("stop remote desktop client: %v", err)
	}
	m.disconnect(s, nil)
}

func (m *Manager) monitor(s *session) {
	<-s.proc.Done()
	m.disconnect(s, s.proc.Err())
}

// disconnect runs at most once per session, whichever of process exit and
// Shutdown gets there first.
func (m *Manager) disconnect(s *session, err error) {
	s.once.Do(func() {
		m.mu.Lock()
		if m.current == s {
			m.current = nil
			m.state = StateIdle
		}
		m.mu.Unlock()

		if err != nil {
			logging.Debugf("remote desktop client exited: %v", err)
		}
		log.Printf("remote desktop session %d disconnected from %s", s.id, s.target.Host)
		m.emit(Event{Kind: EventDisconnected, Session: s.id, Host: s.target.Host, Err: err})
	})
}

// emit never drops a transition while a consumer is attached; it waits for
// room in the buffer instead.
func (m *Manager) emit(ev Event) {
	ev.At = time.Now().UTC()
	select {
	case m.events <- ev:
		return
	default:
	}
	logging.Debugf("event consumer is behind; waiting to deliver %s for session %d", ev.Kind, ev.Session)
	select {
	case m.events <- ev:
	case <-m.detached:
		log.Printf("%s event for session %d not delivered: no consumer", ev.Kind, ev.Session)
	}
}
