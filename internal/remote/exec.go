package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/example/deskwatch/internal/logging"
)

// ExitUnknown is reported when the server closed the channel without an
// exit status.
const ExitUnknown = -1

// Result captures one remote command execution.
type Result struct {
	Stdout     string
	Stderr     string
	ExitStatus int
}

// Success reports a zero exit status.
func (r Result) Success() bool {
	return r.ExitStatus == 0
}

// Run executes command once on an established client. A non-zero exit status
// is not an error; only transport failures and timeouts are.
func Run(ctx context.Context, client *ssh.Client, command string, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	session, err := client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	var runErr error
	select {
	case runErr = <-done:
	case <-runCtx.Done():
		_ = session.Close()
		return Result{}, fmt.Errorf("command timed out: %w", runCtx.Err())
	}

	result := Result{
		Stdout:     strings.TrimSpace(stdout.String()),
		Stderr:     strings.TrimSpace(stderr.String()),
		ExitStatus: 0,
	}

	var exitErr *ssh.ExitError
	var missing *ssh.ExitMissingError
	switch {
	case runErr == nil:
	case errors.As(runErr, &exitErr):
		result.ExitStatus = exitErr.ExitStatus()
	case errors.As(runErr, &missing):
		result.ExitStatus = ExitUnknown
	default:
		return Result{}, runErr
	}
	return result, nil
}

// Exec dials t, runs command once and closes the connection.
func Exec(ctx context.Context, t Target, command string) (Result, error) {
	client, err := Dial(ctx, t)
	if err != nil {
		return Result{}, err
	}
	defer client.Close()

	logging.LogRemoteCommand(t.Host, command)
	return Run(ctx, client, command, t.timeout())
}
