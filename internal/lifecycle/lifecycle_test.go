package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeProcess struct {
	mu        sync.Mutex
	done      chan struct{}
	err       error
	stopCount int
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *fakeProcess) Stop() error {
	p.mu.Lock()
	p.stopCount++
	if p.err == nil {
		p.err = context.Canceled
	}
	if !channelClosed(p.done) {
		close(p.done)
	}
	p.mu.Unlock()
	return nil
}

func (p *fakeProcess) Exit(err error) {
	p.mu.Lock()
	p.err = err
	if !channelClosed(p.done) {
		close(p.done)
	}
	p.mu.Unlock()
}

func (p *fakeProcess) Stops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopCount
}

func channelClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

var fullTarget = Target{Host: "desk01", Port: 3389, User: "alice", Password: "pw"}

func waitEvent(t *testing.T, m *Manager) Event {
	t.Helper()
	select {
	case ev := <-m.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for lifecycle event")
		return Event{}
	}
}

func expectNoEvent(t *testing.T, m *Manager) {
	t.Helper()
	select {
	case ev := <-m.Events():
		t.Fatalf("unexpected event %s for session %d", ev.Kind, ev.Session)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnectRequiresCredentials(t *testing.T) {
	launched := false
	m := NewManager(func(context.Context, Target) (Process, error) {
		launched = true
		return newFakeProcess(), nil
	})

	for _, target := range []Target{
		{User: "alice", Password: "pw"},
		{Host: "desk01", Password: "pw"},
		{Host: "desk01", User: "alice", Password: "  "},
	} {
		if err := m.Connect(context.Background(), target); !errors.Is(err, ErrMissingCredentials) {
			t.Fatalf("Connect(%+v) error = %v, want ErrMissingCredentials", target, err)
		}
	}
	if launched {
		t.Fatalf("launcher must not run without credentials")
	}
	if m.State() != StateIdle {
		t.Fatalf("state = %s, want idle", m.State())
	}
}

func TestConnectAndProcessExit(t *testing.T) {
	proc := newFakeProcess()
	m := NewManager(func(context.Context, Target) (Process, error) { return proc, nil })

	if err := m.Connect(context.Background(), fullTarget); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !m.Connected() || m.Host() != "desk01" {
		t.Fatalf("expected connected to desk01, state=%s host=%q", m.State(), m.Host())
	}
	ev := waitEvent(t, m)
	if ev.Kind != EventConnected || ev.Session != 1 {
		t.Fatalf("unexpected first event %+v", ev)
	}

	proc.Exit(nil)
	ev = waitEvent(t, m)
	if ev.Kind != EventDisconnected || ev.Session != 1 {
		t.Fatalf("unexpected second event %+v", ev)
	}
	if m.State() != StateIdle {
		t.Fatalf("state after exit = %s, want idle", m.State())
	}
	expectNoEvent(t, m)
}

func TestConnectWhileBusy(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	m := NewManager(func(context.Context, Target) (Process, error) {
		close(started)
		<-release
		return newFakeProcess(), nil
	})

	errCh := make(chan error, 1)
	go func() { errCh <- m.Connect(context.Background(), fullTarget) }()
	<-started

	if m.State() != StateLaunching {
		t.Fatalf("state = %s, want launching", m.State())
	}
	if err := m.Connect(context.Background(), fullTarget); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Connect during launch = %v, want ErrBusy", err)
	}

	close(release)
	if err := <-errCh; err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	if err := m.Connect(context.Background(), fullTarget); !errors.Is(err, ErrBusy) {
		t.Fatalf("Connect while connected = %v, want ErrBusy", err)
	}
}

func TestLaunchFailureReturnsToIdle(t *testing.T) {
	boom := errors.New("client missing")
	m := NewManager(func(context.Context, Target) (Process, error) { return nil, boom })

	err := m.Connect(context.Background(), fullTarget)
	if !errors.Is(err, boom) {
		t.Fatalf("Connect error = %v, want wrapped launch error", err)
	}
	if m.State() != StateIdle {
		t.Fatalf("state = %s, want idle", m.State())
	}
	ev := waitEvent(t, m)
	if ev.Kind != EventLaunchFailed || !errors.Is(ev.Err, boom) {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestShutdownStopsClientAndRefusesConnect(t *testing.T) {
	proc := newFakeProcess()
	m := NewManager(func(context.Context, Target) (Process, error) { return proc, nil })
	if err := m.Connect(context.Background(), fullTarget); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitEvent(t, m)

	m.Shutdown()
	if proc.Stops() != 1 {
		t.Fatalf("expected client to be stopped once, got %d", proc.Stops())
	}
	select {
	case ev := <-m.Events():
		if ev.Kind != EventDisconnected {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatalf("Disconnected must be emitted before Shutdown returns")
	}
	if err := m.Connect(context.Background(), fullTarget); !errors.Is(err, ErrClosed) {
		t.Fatalf("Connect after Shutdown = %v, want ErrClosed", err)
	}
}

func TestDisconnectedFiresOnceWhenExitRacesShutdown(t *testing.T) {
	for i := 0; i < 50; i++ {
		proc := newFakeProcess()
		m := NewManager(func(context.Context, Target) (Process, error) { return proc, nil })
		if err := m.Connect(context.Background(), fullTarget); err != nil {
			t.Fatalf("Connect: %v", err)
		}
		waitEvent(t, m)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			proc.Exit(errors.New("exit status 1"))
		}()
		go func() {
			defer wg.Done()
			m.Shutdown()
		}()
		wg.Wait()

		ev := waitEvent(t, m)
		if ev.Kind != EventDisconnected {
			t.Fatalf("iteration %d: unexpected event %+v", i, ev)
		}
		expectNoEvent(t, m)
	}
}

func TestSessionIDsIncrease(t *testing.T) {
	var procs []*fakeProcess
	m := NewManager(func(context.Context, Target) (Process, error) {
		p := newFakeProcess()
		procs = append(procs, p)
		return p, nil
	})

	for want := uint64(1); want <= 3; want++ {
		if err := m.Connect(context.Background(), fullTarget); err != nil {
			t.Fatalf("Connect %d: %v", want, err)
		}
		if ev := waitEvent(t, m); ev.Session != want {
			t.Fatalf("session id = %d, want %d", ev.Session, want)
		}
		procs[len(procs)-1].Exit(nil)
		waitEvent(t, m)
	}
}

func TestEmitWaitsForRoomInsteadOfDropping(t *testing.T) {
	m := NewManager(nil)
	for i := 0; i < eventBuffer; i++ {
		m.emit(Event{Kind: EventLaunchFailed, Session: uint64(i + 1)})
	}

	sent := make(chan struct{})
	go func() {
		m.emit(Event{Kind: EventDisconnected, Session: 99})
		close(sent)
	}()

	select {
	case <-sent:
		t.Fatalf("emit returned although the buffer was full")
	case <-time.After(50 * time.Millisecond):
	}

	var last Event
	for i := 0; i <= eventBuffer; i++ {
		select {
		case last = <-m.Events():
		case <-time.After(time.Second):
			t.Fatalf("event %d never arrived", i)
		}
	}
	<-sent
	if last.Kind != EventDisconnected || last.Session != 99 {
		t.Fatalf("last event = %v/%d, want disconnected/99", last.Kind, last.Session)
	}
}

func TestEmitAfterDetachDoesNotBlock(t *testing.T) {
	m := NewManager(nil)
	for i := 0; i < eventBuffer; i++ {
		m.emit(Event{Kind: EventLaunchFailed, Session: uint64(i + 1)})
	}
	m.Detach()
	m.Detach()

	sent := make(chan struct{})
	go func() {
		m.emit(Event{Kind: EventDisconnected, Session: 99})
		close(sent)
	}()
	select {
	case <-sent:
	case <-time.After(time.Second):
		t.Fatalf("emit blocked after Detach")
	}
}
