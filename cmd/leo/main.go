// leo is the live-coding presenter.
//
// It loads a lesson, binds the typing hotkeys and types the lesson into
// the focused application one step per key press, while students follow
// along in a browser:
//
//	leo lesson.json                 present lesson.json
//	leo --mode auto-run lesson.json one key types a whole block
//	leo --no-view --listen :9000    no terminal view, students on :9000
//
// leoctl controls a running presenter over its unix socket.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"leo/internal/broadcast"
	"leo/internal/config"
	"leo/internal/health"
	"leo/internal/hotkey"
	"leo/internal/inject"
	"leo/internal/ipc"
	"leo/internal/logging"
	"leo/internal/metrics"
	"leo/internal/presenter"
	"leo/internal/store"
	"leo/internal/view"
)

// Version is set at build time.
var Version = "dev"

type flags struct {
	configPath  string
	listen      string
	mode        string
	backend     string
	logLevel    string
	noBroadcast bool
	noView      bool
	noIPC       bool
	watch       bool
	duration    int
	initConfig  bool
	version     bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "leo: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var f flags
	fs := pflag.NewFlagSet("leo", pflag.ContinueOnError)
	fs.StringVarP(&f.configPath, "config", "c", "", "path to config file (default: ~/.leo/config.toml)")
	fs.StringVar(&f.listen, "listen", "", "address of the student channel")
	fs.StringVarP(&f.mode, "mode", "m", "", "typing mode: single-key or auto-run")
	fs.StringVar(&f.backend, "injector", "", "keystroke backend: xdotool or log")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.BoolVar(&f.noBroadcast, "no-broadcast", false, "do not serve the student channel")
	fs.BoolVar(&f.noView, "no-view", false, "do not draw the lesson in the terminal")
	fs.BoolVar(&f.noIPC, "no-ipc", false, "do not accept leoctl connections")
	fs.BoolVarP(&f.watch, "watch", "w", false, "reload the lesson when the file changes")
	fs.IntVar(&f.duration, "duration", 0, "start a countdown of this many minutes")
	fs.BoolVar(&f.initConfig, "init-config", false, "write the default config file if missing and exit")
	fs.BoolVar(&f.version, "version", false, "print the version and exit")
	fs.Usage = func() { usage(fs) }

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if f.version {
		fmt.Println("leo", Version)
		return nil
	}
	if fs.NArg() > 1 {
		usage(fs)
		return fmt.Errorf("expected at most one lesson file, got %d", fs.NArg())
	}

	if f.initConfig {
		path := f.configPath
		if path == "" {
			path = config.ConfigPath()
		}
		_, created, err := config.LoadOrCreate(path)
		if err != nil {
			return err
		}
		if created {
			fmt.Println("wrote", path)
		} else {
			fmt.Println(path, "already exists")
		}
		return nil
	}

	loader := config.NewLoader(f.configPath)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config %s: %w", loader.Path(), err)
	}
	applyFlags(cfg, &f)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()
	logging.SetDefault(log)

	lessonPath := cfg.Presenter.LessonPath
	if fs.NArg() == 1 {
		lessonPath = fs.Arg(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, stop, cfg, loader, lessonPath, log)
}

func applyFlags(cfg *config.Config, f *flags) {
	if f.listen != "" {
		cfg.Broadcast.Listen = f.listen
	}
	if f.mode != "" {
		cfg.Typing.Mode = f.mode
	}
	if f.backend != "" {
		cfg.Injector.Backend = f.backend
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if f.noBroadcast {
		cfg.Broadcast.Enabled = false
	}
	if f.noView {
		cfg.Presenter.View = false
	}
	if f.noIPC {
		cfg.IPC.Enabled = false
	}
	if f.watch {
		cfg.Presenter.WatchLesson = true
	}
	if f.duration > 0 {
		cfg.Presenter.DurationMinutes = f.duration
	}
	// the live view owns the terminal
	if cfg.Presenter.View && term.IsTerminal(int(os.Stdout.Fd())) && cfg.Logging.Output == "stderr" {
		cfg.Logging.Output = "file"
	}
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	return logging.New(&logging.Config{
		Level:      level,
		Format:     format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    int64(cfg.Logging.MaxSizeMB),
		MaxBackups: cfg.Logging.MaxBackups,
	})
}

func newBackend(cfg *config.Config, log *logging.Logger) (inject.Backend, error) {
	switch cfg.Injector.Backend {
	case "xdotool":
		timeout := time.Duration(cfg.Injector.TimeoutMs) * time.Millisecond
		return inject.NewXdotoolBackend(cfg.Injector.XdotoolPath, timeout), nil
	case "log":
		return inject.NewLogBackend(log.WithComponent("inject")), nil
	}
	return nil, fmt.Errorf("unknown injector backend %q", cfg.Injector.Backend)
}

func newRegistrar(cfg *config.Config, log *logging.Logger, interrupt func()) (hotkey.Registrar, error) {
	switch cfg.Hotkeys.Registrar {
	case "terminal":
		reg := hotkey.NewTerminalRegistrar(os.Stdin, log.WithComponent("hotkey"))
		reg.OnInterrupt = interrupt
		if err := reg.Start(); err != nil {
			return nil, fmt.Errorf("start terminal hotkeys: %w", err)
		}
		return reg, nil
	case "none":
		// bindings are bookkeeping only; leoctl press drives the cursor
		return hotkey.NewMemoryRegistrar(), nil
	}
	return nil, fmt.Errorf("unknown hotkey registrar %q", cfg.Hotkeys.Registrar)
}

func serve(ctx context.Context, stop func(), cfg *config.Config, loader *config.Loader, lessonPath string, log *logging.Logger) error {
	backend, err := newBackend(cfg, log)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	reg, err := newRegistrar(cfg, log, stop)
	if err != nil {
		return err
	}
	defer reg.Close()

	registry := metrics.NewRegistry("leo")
	checker := health.NewChecker()
	checker.RegisterFunc("store", true, health.PingCheck("database", st.DB().PingContext))
	if x, ok := backend.(*inject.XdotoolBackend); ok {
		checker.RegisterFunc("injector", false, x.Check)
	}

	g, ctx := errgroup.WithContext(ctx)

	var hub *broadcast.Hub
	if cfg.Broadcast.Enabled {
		hub = broadcast.NewHub(log.WithComponent("broadcast"))
		registry.GaugeFunc("students", "Connected student browsers", func() int64 {
			return int64(hub.ClientCount())
		})
		if cfg.Broadcast.RedisURL != "" {
			relay, err := broadcast.NewRedisRelay(ctx, cfg.Broadcast.RedisURL, cfg.Broadcast.RedisChannel, log.WithComponent("redis"))
			if err != nil {
				return err
			}
			defer relay.Close()
			checker.RegisterFunc("redis", false, health.PingCheck("redis", relay.Ping))
			hub.SetRelay(relay.Publish)
			g.Go(func() error { return relay.Forward(ctx, hub) })
		}
		srv := broadcast.NewServer(hub, broadcast.Options{
			Listen:         cfg.Broadcast.Listen,
			AllowedOrigins: cfg.Broadcast.AllowedOrigins,
			Health:         checker,
			Metrics:        registry.HTTPHandler(),
			Logger:         log.WithComponent("http"),
		})
		g.Go(func() error { return srv.ListenAndServe(ctx) })
	}

	var renderer *view.Renderer
	if cfg.Presenter.View {
		renderer = view.New(os.Stdout, view.Options{
			Color:  term.IsTerminal(int(os.Stdout.Fd())),
			Live:   true,
			Logger: log.WithComponent("view"),
		})
	}

	// the handler is bound once the presenter exists, before Start
	var handler ipc.Handler
	var ipcServer *ipc.Server
	if cfg.IPC.Enabled {
		ipcServer = ipc.NewServer(ipc.ServerConfig{
			SocketPath: cfg.IPC.SocketPath,
			Version:    Version,
			VerifyPeer: true,
			Logger:     log.WithComponent("ipc"),
		}, ipc.HandlerFunc(func(ctx context.Context, sess *ipc.Session, m *ipc.Message) (*ipc.Message, error) {
			return handler.HandleMessage(ctx, sess, m)
		}))
	}

	opts := presenter.Options{
		Config:    cfg,
		Registrar: reg,
		Backend:   backend,
		Store:     st,
		Hub:       hub,
		View:      renderer,
		Metrics:   metrics.NewPresenterMetrics(registry),
		Version:   Version,
		Logger:    log,
	}
	if ipcServer != nil {
		opts.Events = ipcServer
	}
	p, err := presenter.New(opts)
	if err != nil {
		return err
	}
	p.RegisterHealth(checker)
	if err := p.OpenLesson(lessonPath); err != nil {
		return fmt.Errorf("open lesson: %w", err)
	}

	if ipcServer != nil {
		handler = ipc.NewPresenterHandler(p, log.WithComponent("ipc"))
		if err := ipcServer.Start(); err != nil {
			return fmt.Errorf("start ipc: %w", err)
		}
		defer ipcServer.Stop()
	}

	current := cfg
	loader.OnChange(func(next *config.Config) {
		if restart := restartSections(config.Changed(current, next)); len(restart) > 0 {
			log.Warn("config changes need a restart", "sections", restart)
		}
		current = next
		p.ApplyConfig(next)
	})
	if err := loader.Watch(); err != nil {
		log.Warn("config hot reload unavailable", "error", err)
	}
	defer loader.Close()
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case err, ok := <-loader.Errors():
				if !ok {
					return nil
				}
				log.Warn("config reload rejected", "error", err)
			}
		}
	})

	g.Go(func() error { return p.Run(ctx) })
	checker.SetReady(true)

	log.Info("leo ready", "version", Version, "lesson", lessonPath,
		"broadcast", cfg.Broadcast.Enabled, "ipc", cfg.IPC.Enabled)
	return g.Wait()
}

// restartSections keeps the sections ApplyConfig cannot change live.
func restartSections(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "typing", "version":
		default:
			out = append(out, s)
		}
	}
	return out
}

func usage(fs *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `leo - live-coding presenter

Usage:
  leo [flags] [lesson.json]

Toggle typing mode with the toggle shortcut (Ctrl+P by default), then
every typing hotkey types the next character of the lesson. leoctl
controls a running presenter.

Flags:
`)
	fs.SetOutput(os.Stderr)
	fs.PrintDefaults()
}
