package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/HerbHall/jump/internal/api"
	"github.com/HerbHall/jump/internal/config"
	"github.com/HerbHall/jump/internal/devices"
	"github.com/HerbHall/jump/internal/event"
	"github.com/HerbHall/jump/internal/notify"
	"github.com/HerbHall/jump/internal/query"
	"github.com/HerbHall/jump/internal/reach"
	"github.com/HerbHall/jump/internal/relay"
	"github.com/HerbHall/jump/internal/sched"
	"github.com/HerbHall/jump/internal/server"
	"github.com/HerbHall/jump/internal/version"
	"github.com/HerbHall/jump/internal/wake"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// settings is the decoded configuration file.
type settings struct {
	Client  api.Config       `mapstructure:"client"`
	Query   query.Config     `mapstructure:"query"`
	Wake    wake.Config      `mapstructure:"wake"`
	Bridge  server.Config    `mapstructure:"bridge"`
	Relay   relay.Config     `mapstructure:"relay"`
	Reach   reach.Config     `mapstructure:"reach"`
	Logging config.LogConfig `mapstructure:"logging"`
	Notify  struct {
		TTL time.Duration `mapstructure:"ttl"`
	} `mapstructure:"notify"`
}

// reportedError marks a failure the device service already pushed as a
// notification, so main does not print it twice.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }

func (e *reportedError) Unwrap() error { return e.err }

func reported(err error) error {
	if err == nil {
		return nil
	}
	return &reportedError{err: err}
}

// app is the client stack shared by every subcommand.
type app struct {
	cfg     settings
	logger  *zap.Logger
	client  *api.Client
	sched   *sched.Scheduler
	toasts  *notify.Queue
	devices *devices.Service
	bus     *event.Bus

	out    io.Writer
	errOut io.Writer

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	unsub     func()
}

type appOptions struct {
	// bus publishes state changes instead of printing notifications.
	bus bool
}

// quietLevel is the log level of one-shot commands unless configured.
const quietLevel = "warn"

// newApp loads configuration and wires the device service. The caller
// must call close.
func newApp(cmd *cobra.Command, opts appOptions) (*app, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if f := cmd.Flags().Lookup("service"); f != nil && f.Changed {
		cfg.Override("client.base_url", f.Value.String())
	}
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		cfg.Override("logging.level", f.Value.String())
	} else if !opts.bus && !cfg.Explicit("logging.level") {
		cfg.Override("logging.level", quietLevel)
	}

	var s settings
	if err := cfg.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if s.Wake.Contract, err = wake.ParseContract(string(s.Wake.Contract)); err != nil {
		return nil, err
	}

	logger, err := config.NewLogger(s.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Debug("jump starting",
		zap.String("version", version.Short()),
		zap.String("command", cmd.Name()),
		zap.String("service", s.Client.BaseURL),
	)
	if f := cfg.Source(); f != "" {
		logger.Debug("configuration loaded", zap.String("component", "config"), zap.String("source", f))
	}

	a := &app{
		cfg:    s,
		logger: logger,
		client: api.NewClient(s.Client),
		out:    cmd.OutOrStdout(),
		errOut: cmd.ErrOrStderr(),
		done:   make(chan struct{}),
	}
	a.sched = sched.New(clock.RealClock{}, logger.Named("sched"))
	a.toasts = notify.New(a.sched, s.Notify.TTL, logger.Named("notify"))

	var pub event.Publisher
	if opts.bus {
		a.bus = event.NewBus(logger.Named("event"))
		pub = a.bus
	} else {
		a.unsub = a.toasts.Subscribe(a.printToast)
	}
	a.devices = devices.New(a.client, a.sched, a.toasts, pub,
		devices.Config{Query: s.Query, Wake: s.Wake}, logger.Named("devices"))

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	go func() {
		defer close(a.done)
		if err := a.devices.Start(ctx); err != nil {
			logger.Error("scheduler stopped", zap.Error(err))
		}
	}()
	return a, nil
}

// printToast renders a pushed notification on the terminal.
func (a *app) printToast(ev notify.Event) {
	if ev.Kind != notify.EventPushed {
		return
	}
	if ev.Entry.Severity == notify.SeverityError {
		fmt.Fprintf(a.errOut, "error: %s\n", ev.Entry.Message)
		return
	}
	fmt.Fprintln(a.out, ev.Entry.Message)
}

// mute stops printing notifications.
func (a *app) mute() {
	if a.unsub != nil {
		a.unsub()
		a.unsub = nil
	}
}

func (a *app) close() {
	a.closeOnce.Do(func() {
		a.mute()
		a.cancel()
		<-a.done
		a.devices.Close()
		_ = a.logger.Sync()
	})
}

// withApp adapts a subcommand body that needs the client stack.
func withApp(opts appOptions, run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, opts)
		if err != nil {
			return err
		}
		defer a.close()
		return run(cmd, a, args)
	}
}
