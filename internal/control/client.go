package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/deskwatch/internal/ipc"
	"github.com/example/deskwatch/internal/protocol"
)

// Query sends one command to the running tray and returns its reported
// status.
func Query(ctx context.Context, endpoint ipc.Endpoint, token, command string) (*protocol.Status, error) {
	conn, err := endpoint.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint.String(), err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	}

	if err := json.NewEncoder(conn).Encode(protocol.Request{Token: token, Command: command}); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	var resp protocol.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	if resp.Status == nil {
		return nil, errors.New("empty status in response")
	}
	return resp.Status, nil
}
