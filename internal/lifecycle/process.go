package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/example/deskwatch/internal/logging"
)

// Process is a running remote-desktop client.
type Process interface {
	Done() <-chan struct{}
	Err() error
	Stop() error
}

const stopGrace = 5 * time.Second

type execProcess struct {
	cmd     *exec.Cmd
	cleanup func()
	done    chan struct{}
	mu      sync.Mutex
	err     error
}

// startProcess runs name detached from any request context; the client
// window outlives the click that opened it. cleanup runs once after exit.
func startProcess(name string, args []string, cleanup func()) (Process, error) {
	cmd := exec.Command(name, args...)
	cmd.Env = os.Environ()

	p := &execProcess{
		cmd:     cmd,
		cleanup: cleanup,
		done:    make(chan struct{}),
	}

	logging.Debugf("starting remote desktop client %s", name)
	if err := cmd.Start(); err != nil {
		if cleanup != nil {
			cleanup()
		}
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	go p.wait()
	return p, nil
}

func (p *execProcess) wait() {
	err := p.cmd.Wait()
	if p.cleanup != nil {
		p.cleanup()
	}
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	close(p.done)
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *execProcess) Stop() error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := terminateProcess(p.cmd); err != nil {
		if !errors.Is(err, os.ErrProcessDone) {
			return err
		}
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(stopGrace):
		return p.cmd.Process.Kill()
	}
}
