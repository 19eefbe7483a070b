package control

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/deskwatch/internal/ipc"
	"github.com/example/deskwatch/internal/presence"
	"github.com/example/deskwatch/internal/probe"
	"github.com/example/deskwatch/internal/protocol"
)

type staticSource struct {
	status    presence.Status
	refreshes atomic.Int32
}

func (s *staticSource) Last() presence.Status { return s.status }
func (s *staticSource) Refresh() { s.refreshes.Add(1) }

func startServer(t *testing.T, source StatusSource) *Server {
	t.Helper()
	srv, err := Listen(context.Background(), ipc.Endpoint{Network: "tcp", Address: "127.0.0.1:0"}, "tok", source)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Errorf("Serve did not stop")
		}
	})
	return srv
}

func TestQueryReturnsStatus(t *testing.T) {
	source := &staticSource{status: presence.Status{
		State:    presence.StateOccupied,
		Probe:    probe.Outcome{OK: true, ActiveSessions: 1, Sessions: []probe.Session{{User: "bob", ID: 3, State: "Active"}}},
		Occupant: &presence.Occupant{Alias: "bob"},
	}}
	srv := startServer(t, source)

	st, err := Query(context.Background(), srv.Endpoint(), "tok", protocol.CommandStatusGet)
	require.NoError(t, err)
	assert.Equal(t, "occupied", st.State)
	assert.Equal(t, "bob", st.Occupant)
	assert.Equal(t, "In use by bob", st.Summary)
	assert.True(t, st.CanRequest)
	assert.Equal(t, []protocol.Session{{User: "bob", ID: 3, State: "Active"}}, st.Sessions)
	assert.Zero(t, source.refreshes.Load())

	_, err = Query(context.Background(), srv.Endpoint(), "tok", protocol.CommandStatusRefresh)
	require.NoError(t, err)
	assert.Equal(t, int32(1), source.refreshes.Load())
}

func TestQueryRejectsBadToken(t *testing.T) {
	srv := startServer(t, &staticSource{})

	_, err := Query(context.Background(), srv.Endpoint(), "wrong", protocol.CommandStatusGet)
	assert.EqualError(t, err, "unauthorized")
}

func TestQueryUnknownCommand(t *testing.T) {
	srv := startServer(t, &staticSource{})

	_, err := Query(context.Background(), srv.Endpoint(), "tok", "menu.get")
	assert.EqualError(t, err, "unknown command: menu.get")
}

func TestListenDetectsRunningInstance(t *testing.T) {
	srv := startServer(t, &staticSource{})

	_, err := Listen(context.Background(), srv.Endpoint(), "tok", &staticSource{})
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestListenRequiresToken(t *testing.T) {
	_, err := Listen(context.Background(), ipc.Endpoint{Network: "tcp", Address: "127.0.0.1:0"}, "", &staticSource{})
	assert.Error(t, err)
}

func TestQueryWithoutServer(t *testing.T) {
	srv, err := Listen(context.Background(), ipc.Endpoint{Network: "tcp", Address: "127.0.0.1:0"}, "tok", &staticSource{})
	require.NoError(t, err)
	ep := srv.Endpoint()
	require.NoError(t, srv.Close())

	_, err = Query(context.Background(), ep, "tok", protocol.CommandStatusGet)
	assert.Error(t, err)
}
