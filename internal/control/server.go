// Package control exposes the running tray's status to the CLI over a local
// authenticated socket. The listener doubles as the single-instance guard.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/example/deskwatch/internal/ipc"
	"github.com/example/deskwatch/internal/presence"
	"github.com/example/deskwatch/internal/protocol"
	"github.com/example/deskwatch/internal/security"
)

// ErrAlreadyRunning is returned by Listen when another instance answers on
// the control endpoint.
var ErrAlreadyRunning = errors.New("another deskwatch instance is already running")

// StatusSource is what the server reports on.
type StatusSource interface {
	Last() presence.Status
	Refresh()
}

// Server answers control requests for one tray process.
type Server struct {
	token    string
	endpoint ipc.Endpoint
	source   StatusSource
	listener net.Listener
}

// Listen binds the control endpoint. When the bind fails and another
// instance answers there, ErrAlreadyRunning is returned.
func Listen(ctx context.Context, endpoint ipc.Endpoint, token string, source StatusSource) (*Server, error) {
	if token == "" {
		return nil, fmt.Errorf("control token could not be resolved; set DESKWATCH_CONTROL_TOKEN or DESKWATCH_SECRET")
	}
	listener, err := endpoint.Listen()
	if err != nil {
		if _, qerr := Query(ctx, endpoint, token, protocol.CommandStatusGet); qerr == nil {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("listen on %s: %w", endpoint.String(), err)
	}
	return &Server{
		token:    token,
		endpoint: ipc.Bound(listener),
		source:   source,
		listener: listener,
	}, nil
}

// Endpoint reports the bound endpoint.
func (s *Server) Endpoint() ipc.Endpoint {
	return s.endpoint
}

// Close releases the listener.
func (s *Server) Close() error {
	return s.listener.Close()
}

// Serve handles requests until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	defer s.listener.Close()
	log.Printf("deskwatch control listening on %s", s.endpoint.String())

	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return context.Canceled
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				log.Printf("control: temporary accept error: %v", err)
				time.Sleep(250 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept connection: %w", err)
		}

		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var req protocol.Request
	if err := decoder.Decode(&req); err != nil {
		log.Printf("control: failed to decode request: %v", err)
		return
	}

	if !security.TokensEqual(req.Token, s.token) {
		_ = encoder.Encode(protocol.Response{Error: "unauthorized"})
		return
	}

	switch req.Command {
	case protocol.CommandStatusGet:
		_ = encoder.Encode(protocol.Response{Status: protocol.FromStatus(s.source.Last())})
	case protocol.CommandStatusRefresh:
		s.source.Refresh()
		_ = encoder.Encode(protocol.Response{Status: protocol.FromStatus(s.source.Last())})
	default:
		_ = encoder.Encode(protocol.Response{Error: fmt.Sprintf("unknown command: %s", req.Command)})
	}
}
