package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/deskwatch/internal/config"
	"github.com/example/deskwatch/internal/control"
	"github.com/example/deskwatch/internal/credentials"
	"github.com/example/deskwatch/internal/ipc"
	"github.com/example/deskwatch/internal/lifecycle"
	"github.com/example/deskwatch/internal/logging"
	"github.com/example/deskwatch/internal/menu"
	"github.com/example/deskwatch/internal/presence"
	"github.com/example/deskwatch/internal/probe"
	"github.com/example/deskwatch/internal/protocol"
	"github.com/example/deskwatch/internal/relay"
	"github.com/example/deskwatch/internal/remote"
	"github.com/example/deskwatch/internal/security"
)

const cliTimeout = 15 * time.Second

func main() {
	log.SetFlags(0)

	args, debug, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		log.Fatalf("%v", err)
	}
	if debug {
		logging.EnableDebug()
	}

	secret := config.ResolveSecret()
	if secret == "" {
		log.Fatal("DESKWATCH_SECRET environment variable is required")
	}

	stored, err := loadConfig(secret)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if len(args) > 0 && normalizeCommand(args[0]) != "tray" {
		if err := handleCLI(stored, secret, args); err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	if err := runTray(*stored, secret); err != nil {
		if errors.Is(err, control.ErrAlreadyRunning) {
			log.Printf("%v", err)
			return
		}
		log.Fatalf("tray exited with error: %v", err)
	}
}

// loadConfig reads the stored configuration, seeding it from the installed
// template on first run and persisting a generated instance id.
func loadConfig(secret string) (*config.Config, error) {
	existed := config.Exists()
	cfg, err := config.Load(secret)
	if err != nil {
		return nil, err
	}

	if !existed {
		seeded, err := config.SeedFromInstalledTemplate(cfg)
		if err != nil {
			log.Printf("ignoring configuration template: %v", err)
		} else if seeded {
			log.Printf("deskwatch created a fresh configuration from %s", config.TemplateFileName)
		}
	}

	if changed := cfg.Normalize(); changed || !existed {
		if err := config.Save(cfg, secret); err != nil {
			return nil, fmt.Errorf("save configuration: %w", err)
		}
	}
	return cfg, nil
}

// effective layers the environment over a copy of stored.
func effective(stored config.Config) config.Config {
	cfg := stored
	config.ApplyEnv(&cfg)
	cfg.Normalize()
	return cfg
}

func runTray(stored config.Config, secret string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg := effective(stored)
	if !cfg.HasCredentials() {
		log.Printf("credentials are not configured yet; run 'deskwatch configure' or use the tray menu")
	}

	configPath, err := config.Path()
	if err != nil {
		return err
	}

	launcher := lifecycle.NewDesktopLauncher(cfg.Desktop.ClientPath)
	sessions := lifecycle.NewManager(launcher.Launch)
	coord := presence.New(probe.New(), presence.SettingsFromConfig(cfg), presence.WithSessionActive(sessions.Connected))

	var srv *control.Server
	endpoint, err := ipc.DefaultEndpoint()
	if err == nil {
		srv, err = control.Listen(ctx, endpoint, security.ResolveControlToken(secret), coord)
	}
	if errors.Is(err, control.ErrAlreadyRunning) {
		return err
	}
	if err != nil {
		log.Printf("control channel disabled: %v", err)
	}

	var prompter credentials.Prompter
	if tp := credentials.NewTerminalPrompter(); tp.Available() {
		prompter = credentials.NewGuarded(tp)
	}

	reloads := make(chan config.Config, 1)
	runner := menu.NewRunner(menu.Options{
		Config:      cfg,
		ConfigDir:   filepath.Dir(configPath),
		Coordinator: coord,
		Sessions:    sessions,
		Prompter:    prompter,
		Reloads:     reloads,
		Save: func(updated config.Config) error {
			// Only the credentials come from the tray; everything else is
			// whatever is on disk now, so CLI edits are not overwritten.
			next, err := config.Load(secret)
			if err != nil {
				return err
			}
			credentials.FromConfig(updated).Apply(next)
			return config.Save(next, secret)
		},
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer sessions.Detach()
		return ignoreCanceled(coord.Run(gctx, sessions.Events()))
	})
	if srv != nil {
		g.Go(func() error {
			return ignoreCanceled(srv.Serve(gctx))
		})
	}
	g.Go(func() error {
		err := config.Watch(gctx, configPath, func() {
			next, err := config.Load(secret)
			if err != nil {
				log.Printf("reload configuration: %v", err)
				return
			}
			select {
			case <-reloads:
			default:
			}
			reloads <- effective(*next)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("configuration changes will not be picked up: %v", err)
		}
		return nil
	})
	g.Go(func() error {
		err := runner.Start(gctx)
		sessions.Shutdown()
		cancel()
		return ignoreCanceled(err)
	})
	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func handleCLI(stored *config.Config, secret string, args []string) error {
	if len(args) == 0 {
		return errors.New("no command provided")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	command := normalizeCommand(args[0])
	switch command {
	case "status":
		return handleStatus(ctx, effective(*stored), secret, args[1:])
	case "occupant":
		return handleOccupant(ctx, effective(*stored), args[1:])
	case "release":
		return handleRelease(ctx, effective(*stored), args[1:])
	case "request":
		return handleRequest(ctx, effective(*stored), args[1:])
	case "configure":
		return handleConfigure(ctx, stored, secret, args[1:])
	case "import":
		return handleImport(stored, secret, args[1:])
	case "show":
		return handleShow(os.Stdout, *stored)
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func normalizeCommand(arg string) string {
	trimmed := strings.TrimLeft(arg, "-/")
	return strings.ToLower(trimmed)
}

// parseGlobalFlags strips --debug and --console from args wherever they
// appear and reports whether debug logging was requested.
func parseGlobalFlags(args []string) ([]string, bool, error) {
	filtered := make([]string, 0, len(args))
	debug := false
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") && !strings.HasPrefix(arg, "/") {
			filtered = append(filtered, arg)
			continue
		}
		name, value, hasValue := strings.Cut(normalizeCommand(arg), "=")
		switch name {
		case "debug":
			if !hasValue {
				debug = true
				continue
			}
			parsed, err := strconv.ParseBool(value)
			if err != nil {
				return nil, false, fmt.Errorf("invalid value for --debug: %q", value)
			}
			debug = parsed
			continue
		case "console":
			continue
		}
		filtered = append(filtered, arg)
	}
	return filtered, debug, nil
}

func handleStatus(ctx context.Context, cfg config.Config, secret string, args []string) error {
	fs := newFlagSet("status")
	asJSON := fs.Bool("json", false, "print the status as JSON")
	local := fs.Bool("local", false, "probe directly instead of asking the running tray")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var st *protocol.Status
	if !*local {
		endpoint, err := ipc.DefaultEndpoint()
		if err != nil {
			return err
		}
		qctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		remoteStatus, err := control.Query(qctx, endpoint, security.ResolveControlToken(secret), protocol.CommandStatusGet)
		cancel()
		if err != nil {
			logging.Debugf("running tray not reachable: %v", err)
		} else {
			st = remoteStatus
		}
	}
	if st == nil {
		pctx, cancel := context.WithTimeout(ctx, cliTimeout)
		defer cancel()
		coord := presence.New(probe.New(), presence.SettingsFromConfig(cfg))
		st = protocol.FromStatus(coord.PollOnce(pctx))
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	printStatus(os.Stdout, st)
	return nil
}

func printStatus(w io.Writer, st *protocol.Status) {
	fmt.Fprintf(w, "Status:          %s\n", st.Summary)
	fmt.Fprintf(w, "State:           %s\n", st.State)
	fmt.Fprintf(w, "Active sessions: %d\n", st.ActiveSessions)
	if st.Occupant != "" {
		owner := st.Occupant
		if st.Self {
			owner += " (this computer)"
		}
		fmt.Fprintf(w, "Occupant:        %s\n", owner)
	}
	if st.ProbeError != "" {
		fmt.Fprintf(w, "Probe error:     %s\n", st.ProbeError)
	}
	if st.BeaconError != "" {
		fmt.Fprintf(w, "Beacon error:    %s\n", st.BeaconError)
	}
	if len(st.Sessions) == 0 {
		return
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSER\tSTATE")
	for _, s := range st.Sessions {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", s.ID, s.User, s.State)
	}
	tw.Flush()
}

func handleOccupant(ctx context.Context, cfg config.Config, args []string) error {
	fs := newFlagSet("occupant")
	if err := fs.Parse(args); err != nil {
		return err
	}
	target := remote.TargetFromConfig(cfg)
	if err := target.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, cliTimeout)
	defer cancel()
	res := presence.SFTPStores(target).ReadFresh(ctx)
	if !res.Found {
		if res.Err != nil {
			return fmt.Errorf("read occupant: %w", res.Err)
		}
		fmt.Println("No occupant advertised")
		return nil
	}

	self := ""
	if res.Record.OwnedBy(cfg.Local.InstanceID) {
		self = " (this computer)"
	}
	fmt.Printf("Occupant:  %s%s\n", res.Record.Alias, self)
	fmt.Printf("Instance:  %s\n", res.Record.InstanceID)
	fmt.Printf("Last seen: %s\n", res.Record.LastSeenUTC.Format(time.RFC3339))
	fmt.Printf("Location:  %s\n", res.Dir)
	return nil
}

func handleRelease(ctx context.Context, cfg config.Config, args []string) error {
	fs := newFlagSet("release")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := remote.TargetFromConfig(cfg).Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, cliTimeout)
	defer cancel()
	coord := presence.New(probe.New(), presence.SettingsFromConfig(cfg))
	res := coord.Release(ctx)
	if len(res.Removed) == 0 {
		if res.Err != nil {
			return fmt.Errorf("release occupant record: %w", res.Err)
		}
		fmt.Println("No occupant record owned by this computer")
		return nil
	}
	for _, path := range res.Removed {
		fmt.Printf("Removed %s\n", path)
	}
	return nil
}

func handleRequest(ctx context.Context, cfg config.Config, args []string) error {
	fs := newFlagSet("request")
	message := fs.String("message", "", "message shown to the current user")
	user := fs.String("user", "", "message this user instead of every active session")
	if err := fs.Parse(args); err != nil {
		return err
	}
	text := strings.TrimSpace(*message)
	if text == "" {
		text = relay.RequestMessage(cfg.Local.Alias)
	}

	ctx, cancel := context.WithTimeout(ctx, cliTimeout)
	defer cancel()
	notifier := relay.NewSSHNotifier(remote.TargetFromConfig(cfg))

	if strings.TrimSpace(*user) != "" {
		if err := notifier.NotifyUser(ctx, *user, text); err != nil {
			return fmt.Errorf("notify %s: %w", *user, err)
		}
		fmt.Printf("Request sent to %s\n", strings.TrimSpace(*user))
		return nil
	}

	coord := presence.New(probe.New(), presence.SettingsFromConfig(cfg))
	st := coord.PollOnce(ctx)
	if !st.Probe.OK {
		return fmt.Errorf("probe failed: %s", st.Probe.Error)
	}
	if st.Occupant != nil && st.Occupant.Self {
		return errors.New("the desktop is held by this computer")
	}

	res := relay.Broadcast(ctx, notifier, st.Probe.Sessions, text)
	if !res.OK {
		return fmt.Errorf("request not delivered (sent=%d failed=%d)", res.Sent, res.Failed)
	}
	fmt.Printf("Request sent to %d session(s), %d failed\n", res.Sent, res.Failed)
	return nil
}

func handleConfigure(ctx context.Context, stored *config.Config, secret string, args []string) error {
	fs := newFlagSet("configure")
	alias := fs.String("alias", "", "name shown to other users")
	if err := fs.Parse(args); err != nil {
		return err
	}

	prompter := credentials.NewTerminalPrompter()
	if !prompter.Available() {
		return credentials.ErrNoTerminal
	}
	creds, err := prompter.Prompt(ctx, credentials.FromConfig(*stored))
	if err != nil {
		return err
	}
	creds.Apply(stored)
	if a := strings.TrimSpace(*alias); a != "" {
		stored.Local.Alias = a
	}
	stored.Normalize()
	if err := config.Save(stored, secret); err != nil {
		return err
	}
	fmt.Printf("Saved credentials for %s@%s\n", stored.Server.Username, stored.Server.Host)
	return nil
}

func handleImport(stored *config.Config, secret string, args []string) error {
	fs := newFlagSet("import")
	file := fs.String("file", "", "YAML template to import")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*file) == "" {
		return errors.New("missing --file for import")
	}

	tpl, err := config.LoadTemplate(*file)
	if err != nil {
		return err
	}
	tpl.Apply(stored)
	stored.Normalize()
	if err := config.Save(stored, secret); err != nil {
		return err
	}
	fmt.Printf("Imported settings from %s\n", *file)
	return nil
}

func handleShow(w io.Writer, cfg config.Config) error {
	password := "(not set)"
	if cfg.Server.Password != "" {
		password = "********"
	}
	client := cfg.Desktop.ClientPath
	if client == "" {
		client = "(auto)"
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Host\t%s\n", cfg.Server.Host)
	fmt.Fprintf(tw, "SSH port\t%d\n", cfg.Server.SSHPort)
	fmt.Fprintf(tw, "RDP port\t%d\n", cfg.Server.RDPPort)
	fmt.Fprintf(tw, "User\t%s\n", cfg.Server.Username)
	fmt.Fprintf(tw, "Password\t%s\n", password)
	fmt.Fprintf(tw, "Probe command\t%s\n", cfg.Probe.Command)
	fmt.Fprintf(tw, "Sessions command\t%s\n", cfg.Probe.SessionsCommand)
	fmt.Fprintf(tw, "Interval\t%ds\n", cfg.Probe.IntervalSeconds)
	fmt.Fprintf(tw, "Alias\t%s\n", cfg.Local.Alias)
	fmt.Fprintf(tw, "Instance\t%s\n", cfg.Local.InstanceID)
	fmt.Fprintf(tw, "Desktop client\t%s\n", client)
	return tw.Flush()
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	return fs
}
