// Package presence combines the remote session probe with the occupant
// beacon into one occupancy status and keeps the beacon alive while the local
// remote-desktop session runs.
package presence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/deskwatch/internal/beacon"
	"github.com/example/deskwatch/internal/config"
	"github.com/example/deskwatch/internal/lifecycle"
	"github.com/example/deskwatch/internal/logging"
	"github.com/example/deskwatch/internal/probe"
	"github.com/example/deskwatch/internal/remote"
)

const (
	// RenewInterval is how often a held beacon is rewritten.
	RenewInterval = 10 * time.Second

	releaseTimeout = 5 * time.Second
)

// Prober runs the remote session probe.
type Prober interface {
	Probe(ctx context.Context, req probe.Request) probe.Outcome
}

// Beacon is the occupant record store.
type Beacon interface {
	Write(ctx context.Context, alias, instanceID string) beacon.WriteResult
	ReadFresh(ctx context.Context) beacon.ReadResult
	DeleteIfOwned(ctx context.Context, instanceID string) beacon.DeleteResult
}

// StoreFactory builds the beacon store for a connection target.
type StoreFactory func(remote.Target) Beacon

// SFTPStores is the production StoreFactory.
func SFTPStores(target remote.Target) Beacon {
	return beacon.NewStore(beacon.SFTPOpener(target))
}

// Settings is the value snapshot the coordinator works from.
type Settings struct {
	Target          remote.Target
	Command         string
	SessionsCommand string
	Interval        time.Duration
	Alias           string
	InstanceID      string
}

// SettingsFromConfig snapshots the probe and identity settings of cfg.
func SettingsFromConfig(cfg config.Config) Settings {
	seconds := cfg.Probe.IntervalSeconds
	if seconds < config.MinIntervalSeconds {
		seconds = config.DefaultIntervalSeconds
	}
	return Settings{
		Target:          remote.TargetFromConfig(cfg),
		Command:         cfg.Probe.Command,
		SessionsCommand: cfg.Probe.SessionsCommand,
		Interval:        time.Duration(seconds) * time.Second,
		Alias:           cfg.Local.Alias,
		InstanceID:      cfg.Local.InstanceID,
	}
}

func (s Settings) probeRequest() probe.Request {
	return probe.Request{Target: s.Target, Command: s.Command, SessionsCommand: s.SessionsCommand}
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithStores replaces the beacon store factory.
func WithStores(f StoreFactory) Option {
	return func(c *Coordinator) {
		c.stores = f
	}
}

// WithRenewInterval overrides RenewInterval.
func WithRenewInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		c.renewEvery = d
	}
}

// WithSessionActive installs the check consulted on every renewal tick. When
// it reports false the beacon is released even if no Disconnected event was
// received.
func WithSessionActive(fn func() bool) Option {
	return func(c *Coordinator) {
		c.active = fn
	}
}

// Coordinator owns the presence state of this installation.
type Coordinator struct {
	prober     Prober
	stores     StoreFactory
	renewEvery time.Duration
	active     func() bool

	mu       sync.RWMutex
	settings Settings
	store    Beacon
	last     Status

	updates      chan Status
	refresh      chan struct{}
	reconfigured chan struct{}
	renewing     atomic.Bool
}

// New builds a coordinator for settings.
func New(prober Prober, settings Settings, opts ...Option) *Coordinator {
	c := &Coordinator{
		prober:       prober,
		stores:       SFTPStores,
		renewEvery:   RenewInterval,
		settings:     settings,
		updates:      make(chan Status, 1),
		refresh:      make(chan struct{}, 1),
		reconfigured: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.store = c.stores(settings.Target)
	return c
}

// Updates publishes statuses; only the latest unread one is kept.
func (c *Coordinator) Updates() <-chan Status {
	return c.updates
}

// Last returns the most recently published status.
func (c *Coordinator) Last() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Settings returns the current snapshot.
func (c *Coordinator) Settings() Settings {
	s, _ := c.snapshot()
	return s
}

// Reconfigure swaps the settings used by subsequent polls. A beacon already
// held keeps using the target it was claimed on until released.
func (c *Coordinator) Reconfigure(s Settings) {
	store := c.stores(s.Target)
	c.mu.Lock()
	c.settings = s
	c.store = store
	c.mu.Unlock()
	signal(c.reconfigured)
}

// Refresh asks the running loop for an immediate poll.
func (c *Coordinator) Refresh() {
	signal(c.refresh)
}

// Claim writes the beacon for this installation.
func (c *Coordinator) Claim(ctx context.Context) beacon.WriteResult {
	s, store := c.snapshot()
	return store.Write(ctx, s.Alias, s.InstanceID)
}

// Release deletes the beacon if it belongs to this installation. Leftovers
// expire through the TTL.
func (c *Coordinator) Release(ctx context.Context) beacon.DeleteResult {
	s, store := c.snapshot()
	return store.DeleteIfOwned(ctx, s.InstanceID)
}

// PollOnce probes and reads the beacon concurrently and combines the two.
func (c *Coordinator) PollOnce(ctx context.Context) Status {
	s, store := c.snapshot()
	return c.poll(ctx, s, store)
}

func (c *Coordinator) snapshot() (Settings, Beacon) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings, c.store
}

func (c *Coordinator) poll(ctx context.Context, s Settings, store Beacon) Status {
	var (
		out  probe.Outcome
		read beacon.ReadResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out = c.prober.Probe(gctx, s.probeRequest())
		return nil
	})
	g.Go(func() error {
		if err := s.Target.Validate(); err != nil {
			read = beacon.ReadResult{Err: err}
			return nil
		}
		read = store.ReadFresh(gctx)
		return nil
	})
	_ = g.Wait()

	st := combine(out, read, s.InstanceID)
	if len(read.Evicted) > 0 {
		logging.Debugf("evicted stale occupant records: %v", read.Evicted)
	}
	logging.Debugf("poll: state=%s sessions=%d occupant=%q probeErr=%q beaconErr=%q",
		st.State, out.ActiveSessions, st.OccupantAlias(), out.Error, st.BeaconError)
	return st
}

type mutationKind int

const (
	opClaim mutationKind = iota
	opRenew
	opRelease
)

// held is the beacon this installation advertises while connected.
type held struct {
	settings Settings
	store    Beacon
}

type mutation struct {
	kind   mutationKind
	ctx    context.Context
	cancel context.CancelFunc
	held   held
}

// Run drives polling, beacon renewal and cleanup until ctx is canceled.
// events is normally lifecycle.Manager.Events(). Every release, including
// one for a beacon still held when ctx ends, runs on its own context bounded
// by releaseTimeout and finishes before Run returns.
func (c *Coordinator) Run(ctx context.Context, events <-chan lifecycle.Event) error {
	s, _ := c.snapshot()
	pollTicker := time.NewTicker(pollInterval(s))
	defer pollTicker.Stop()

	var (
		renewTicker *time.Ticker
		renewC      <-chan time.Time
		current     *held
		polling     bool
		pollAgain   bool
	)
	stopRenew := func() {
		if renewTicker != nil {
			renewTicker.Stop()
			renewTicker, renewC = nil, nil
		}
	}
	defer stopRenew()

	mutations := make(chan mutation, 16)
	workerDone := make(chan struct{})
	go c.mutationWorker(mutations, workerDone)

	polls := make(chan Status, 1)
	startPoll := func() {
		if polling {
			logging.Debugf("poll skipped: previous poll still running")
			return
		}
		polling, pollAgain = true, false
		s, store := c.snapshot()
		go func() {
			polls <- c.poll(ctx, s, store)
		}()
	}
	// Releases outlive Run's ctx: a Disconnected followed at once by
	// shutdown must still delete the beacon.
	release := func() {
		stopRenew()
		if current == nil {
			return
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		mutations <- mutation{kind: opRelease, ctx: rctx, cancel: cancel, held: *current}
		current = nil
		c.publishConnected(false)
	}

	startPoll()
	for {
		select {
		case <-ctx.Done():
			release()
			close(mutations)
			<-workerDone
			return ctx.Err()

		case st := <-polls:
			polling = false
			st.Connected = current != nil
			c.setLast(st)
			c.publish(st)
			if pollAgain {
				startPoll()
			}

		case <-pollTicker.C:
			startPoll()

		case <-c.refresh:
			// Explicit requests are deferred, not dropped, while a poll
			// is in flight: its result may predate the change.
			pollAgain = true
			startPoll()

		case <-c.reconfigured:
			s, _ := c.snapshot()
			pollTicker.Reset(pollInterval(s))
			pollAgain = true
			startPoll()

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch ev.Kind {
			case lifecycle.EventConnected:
				s, store := c.snapshot()
				current = &held{settings: s, store: store}
				mutations <- mutation{kind: opClaim, ctx: ctx, held: *current}
				stopRenew()
				renewTicker = time.NewTicker(c.renewEvery)
				renewC = renewTicker.C
				c.publishConnected(true)
			case lifecycle.EventDisconnected:
				release()
			}

		case <-renewC:
			if c.active != nil && !c.active() {
				logging.Debugf("renewal tick with no active session; releasing beacon")
				release()
				continue
			}
			if current == nil {
				stopRenew()
				continue
			}
			if !c.renewing.CompareAndSwap(false, true) {
				logging.Debugf("renewal skipped: previous renewal still running")
				continue
			}
			mutations <- mutation{kind: opRenew, ctx: ctx, held: *current}
		}
	}
}

// mutationWorker applies beacon writes and deletes strictly in submission
// order, so a release can never be overtaken by an earlier claim.
func (c *Coordinator) mutationWorker(in <-chan mutation, done chan<- struct{}) {
	defer close(done)
	for m := range in {
		h := m.held
		switch m.kind {
		case opClaim, opRenew:
			res := h.store.Write(m.ctx, h.settings.Alias, h.settings.InstanceID)
			if res.OK {
				logging.Debugf("beacon written to %s", res.Dir)
			} else {
				logging.Debugf("beacon write failed: %v", res.Err)
			}
			if m.kind == opRenew {
				c.renewing.Store(false)
			} else {
				c.Refresh()
			}
		case opRelease:
			res := h.store.DeleteIfOwned(m.ctx, h.settings.InstanceID)
			if res.Err != nil {
				logging.Debugf("beacon release incomplete: %v", res.Err)
			}
			if len(res.Removed) > 0 {
				logging.Debugf("beacon released: %v", res.Removed)
			}
			c.Refresh()
		}
		if m.cancel != nil {
			m.cancel()
		}
	}
}

func (c *Coordinator) setLast(st Status) {
	c.mu.Lock()
	c.last = st
	c.mu.Unlock()
}

// publishConnected republishes the last status with a new Connected flag so
// the tray reacts before the next poll completes.
func (c *Coordinator) publishConnected(connected bool) {
	c.mu.Lock()
	st := c.last
	st.Connected = connected
	c.last = st
	c.mu.Unlock()
	c.publish(st)
	c.Refresh()
}

func (c *Coordinator) publish(st Status) {
	select {
	case c.updates <- st:
	default:
		select {
		case <-c.updates:
		default:
		}
		select {
		case c.updates <- st:
		default:
		}
	}
}

func pollInterval(s Settings) time.Duration {
	if s.Interval <= 0 {
		return config.DefaultIntervalSeconds * time.Second
	}
	return s.Interval
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
