// Package menu runs the tray: it renders the occupancy status and turns
// clicks into connect, request and configure actions.
package menu

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/example/deskwatch/internal/config"
	"github.com/example/deskwatch/internal/credentials"
	"github.com/example/deskwatch/internal/lifecycle"
	"github.com/example/deskwatch/internal/logging"
	"github.com/example/deskwatch/internal/presence"
	"github.com/example/deskwatch/internal/probe"
	"github.com/example/deskwatch/internal/relay"
	"github.com/example/deskwatch/internal/remote"
)

const (
	noticeMissingCredentials = "Missing credentials. Configure them first."
	noticeRequestThrottled   = "Request already sent. Wait a moment before asking again."

	// RequestCooldown is the minimum spacing between two relayed requests.
	RequestCooldown = 30 * time.Second
)

// Coordinator is the presence surface the runner drives.
type Coordinator interface {
	Updates() <-chan presence.Status
	Last() presence.Status
	Reconfigure(presence.Settings)
}

// Sessions starts remote desktop sessions.
type Sessions interface {
	Connect(ctx context.Context, t lifecycle.Target) error
}

// NotifierFactory builds the relay notifier for a host.
type NotifierFactory func(remote.Target) relay.Notifier

// Options wires a Runner.
type Options struct {
	Config      config.Config
	Save        func(config.Config) error
	ConfigDir   string
	Coordinator Coordinator
	Sessions    Sessions
	// Prompter may be nil when no console is available.
	Prompter  credentials.Prompter
	Notifiers NotifierFactory
	// Reloads delivers configurations changed outside the tray.
	Reloads <-chan config.Config
}

type outcome struct {
	action Action
	err    error
	creds  credentials.Credentials
	relay  relay.Result
}

// Runner is the main loop of the tray process. It alone reads and writes
// the configuration; background work gets value snapshots and reports back
// over channels.
type Runner struct {
	cfg       config.Config
	save      func(config.Config) error
	configDir string
	coord     Coordinator
	sessions  Sessions
	prompter  credentials.Prompter
	notifiers NotifierFactory
	reloads   <-chan config.Config
	requests  *rate.Limiter
	open      func(dir string) error

	tray    trayController
	views   chan View
	actions chan Action
	results chan outcome

	status     presence.Status
	launching  bool
	requesting bool
	notice     string
}

// NewRunner constructs a Runner backed by the system tray.
func NewRunner(opts Options) *Runner {
	r := &Runner{
		cfg:       opts.Config,
		save:      opts.Save,
		configDir: opts.ConfigDir,
		coord:     opts.Coordinator,
		sessions:  opts.Sessions,
		prompter:  opts.Prompter,
		notifiers: opts.Notifiers,
		reloads:   opts.Reloads,
		requests:  rate.NewLimiter(rate.Every(RequestCooldown), 1),
		open:      openFolder,
		tray:      newTrayController(),
		views:     make(chan View, 1),
		actions:   make(chan Action, 4),
		results:   make(chan outcome, 4),
	}
	if r.save == nil {
		r.save = func(config.Config) error { return errors.New("configuration is read-only") }
	}
	if r.notifiers == nil {
		r.notifiers = func(t remote.Target) relay.Notifier { return relay.NewSSHNotifier(t) }
	}
	return r
}

// Start renders the tray and handles clicks until ctx is canceled or the
// user quits.
func (r *Runner) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Printf("deskwatch watching %s", displayHost(r.cfg))

	trayErr := make(chan error, 1)
	go func() {
		trayErr <- r.tray.Run(ctx, r.views, r.actions)
	}()

	r.status = r.coord.Last()
	r.render()

	updates := r.coord.Updates()
	for {
		select {
		case <-ctx.Done():
			log.Println("deskwatch tray stopping")
			return ctx.Err()
		case st := <-updates:
			r.status = st
			r.render()
		case a := <-r.actions:
			logging.Debugf("tray action: %s", a)
			if a == ActionQuit {
				log.Println("deskwatch tray stopping")
				return nil
			}
			r.handle(ctx, a)
			r.render()
		case res := <-r.results:
			r.apply(res)
			r.render()
		case cfg := <-r.reloads:
			log.Printf("configuration changed; now watching %s", displayHost(cfg))
			r.cfg = cfg
			r.coord.Reconfigure(presence.SettingsFromConfig(cfg))
			r.render()
		case err := <-trayErr:
			return err
		}
	}
}

func (r *Runner) handle(ctx context.Context, a Action) {
	switch a {
	case ActionConnect:
		if r.status.Connected || r.launching {
			return
		}
		if !r.cfg.HasCredentials() {
			r.notice = noticeMissingCredentials
			return
		}
		r.launching = true
		r.notice = ""
		target := lifecycle.TargetFromConfig(r.cfg)
		r.spawn(ctx, func() outcome {
			return outcome{action: ActionConnect, err: r.sessions.Connect(ctx, target)}
		})

	case ActionRequest:
		if r.requesting {
			return
		}
		if !r.status.CanRequest() {
			r.notice = "Nobody else is using the desktop."
			return
		}
		if !r.requests.Allow() {
			r.notice = noticeRequestThrottled
			return
		}
		r.requesting = true
		sessions := append([]probe.Session(nil), r.status.Probe.Sessions...)
		notifier := r.notifiers(remote.TargetFromConfig(r.cfg))
		message := relay.RequestMessage(r.cfg.Local.Alias)
		r.spawn(ctx, func() outcome {
			return outcome{action: ActionRequest, relay: relay.Broadcast(ctx, notifier, sessions, message)}
		})

	case ActionConfigure:
		if r.prompter == nil {
			r.notice = credentials.ErrNoTerminal.Error()
			return
		}
		current := credentials.FromConfig(r.cfg)
		r.spawn(ctx, func() outcome {
			creds, err := r.prompter.Prompt(ctx, current)
			return outcome{action: ActionConfigure, creds: creds, err: err}
		})

	case ActionOpenConfigFolder:
		if err := r.open(r.configDir); err != nil {
			log.Printf("open configuration folder: %v", err)
		}
	}
}

func (r *Runner) apply(res outcome) {
	switch res.action {
	case ActionConnect:
		r.launching = false
		if res.err != nil {
			log.Printf("connect failed: %v", res.err)
			r.notice = "Connect failed: " + res.err.Error()
		}

	case ActionRequest:
		r.requesting = false
		log.Printf("request relayed: sent=%d failed=%d", res.relay.Sent, res.relay.Failed)
		if res.relay.OK {
			r.notice = fmt.Sprintf("Request sent to %d session(s)", res.relay.Sent)
		} else {
			r.notice = "Request could not be delivered"
		}

	case ActionConfigure:
		if errors.Is(res.err, credentials.ErrPromptBusy) {
			logging.Debugf("credentials prompt already open")
			return
		}
		if res.err != nil {
			log.Printf("configure credentials: %v", res.err)
			r.notice = res.err.Error()
			return
		}
		res.creds.Apply(&r.cfg)
		if err := r.save(r.cfg); err != nil {
			log.Printf("save configuration: %v", err)
			r.notice = "Credentials applied but not saved"
		} else {
			r.notice = "Credentials saved"
		}
		r.coord.Reconfigure(presence.SettingsFromConfig(r.cfg))
	}
}

func (r *Runner) spawn(ctx context.Context, fn func() outcome) {
	go func() {
		res := fn()
		select {
		case r.results <- res:
		case <-ctx.Done():
		}
	}()
}

// render publishes the current view; an unread older view is replaced.
func (r *Runner) render() {
	v := buildView(r.status, r.cfg, r.launching, r.notice)
	select {
	case r.views <- v:
	default:
		select {
		case <-r.views:
		default:
		}
		select {
		case r.views <- v:
		default:
		}
	}
}

func displayHost(cfg config.Config) string {
	if cfg.Server.Host == "" {
		return "(no host configured)"
	}
	return cfg.Server.Host
}
