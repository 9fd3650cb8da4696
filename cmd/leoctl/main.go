// leoctl controls a running leo presenter over its unix socket.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/pflag"

	"leo/internal/config"
	"leo/internal/ipc"
)

// Version is set at build time.
var Version = "dev"

var (
	dim    = lipgloss.NewStyle().Faint(true)
	bold   = lipgloss.NewStyle().Bold(true)
	green  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	yellow = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	red    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

// commands without arguments map straight to a message type
var simple = map[string]ipc.MessageType{
	"advance": ipc.MsgAdvance,
	"forward": ipc.MsgStepForward,
	"back":    ipc.MsgStepBackward,
	"reset":   ipc.MsgResetProgress,
	"toggle":  ipc.MsgToggleActive,
	"auto":    ipc.MsgStartAutoType,
	"stop":    ipc.MsgStopAutoType,
	"pause":   ipc.MsgPause,
	"resume":  ipc.MsgResume,
	"reload":  ipc.MsgReloadLesson,
}

type options struct {
	configPath string
	socketPath string
	asJSON     bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, red.Render("error:"), err)
		if errors.Is(err, ipc.ErrPresenterNotFound) {
			fmt.Fprintln(os.Stderr, dim.Render("  start the presenter with: leo lesson.json"))
		}
		os.Exit(1)
	}
}

func run() error {
	var opts options
	var showVersion bool
	fs := pflag.NewFlagSet("leoctl", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to config file (default: ~/.leo/config.toml)")
	fs.StringVarP(&opts.socketPath, "socket", "s", "", "presenter socket (default: from config)")
	fs.BoolVar(&opts.asJSON, "json", false, "print responses as JSON")
	fs.BoolVar(&showVersion, "version", false, "print the version and exit")
	fs.SetInterspersed(false)
	fs.Usage = func() { usage(fs) }

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Println("leoctl", Version)
		return nil
	}
	if fs.NArg() < 1 {
		usage(fs)
		return errors.New("missing command")
	}

	cmd, args := fs.Arg(0), fs.Args()[1:]
	if cmd == "help" {
		usage(fs)
		return nil
	}

	client, err := connect(&opts)
	if err != nil {
		return err
	}
	defer client.Close()

	switch cmd {
	case "status":
		return cmdStatus(client, &opts)
	case "watch":
		return cmdWatch(client, &opts)
	case "jump":
		if len(args) != 1 {
			return errors.New("usage: leoctl jump <index>")
		}
		index, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid index %q", args[0])
		}
		return report(client.Jump(index))(&opts)
	case "press":
		if len(args) != 1 {
			return errors.New("usage: leoctl press <key>")
		}
		return report(client.Press(args[0]))(&opts)
	}

	t, ok := simple[cmd]
	if !ok {
		usage(fs)
		return fmt.Errorf("unknown command %q", cmd)
	}
	return report(client.Command(t))(&opts)
}

func connect(opts *options) (*ipc.IPCClient, error) {
	socket := opts.socketPath
	if socket == "" {
		cfg, err := config.Load(opts.configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		socket = cfg.IPC.SocketPath
	}

	cfg := ipc.DefaultClientConfig(config.LeoDir())
	cfg.SocketPath = socket
	cfg.ClientVersion = Version

	client := ipc.NewClient(cfg)
	if err := client.Connect(); err != nil {
		return nil, err
	}
	return client, nil
}

func report(resp *ipc.CommandResponse, err error) func(*options) error {
	return func(opts *options) error {
		if err != nil {
			return err
		}
		if opts.asJSON {
			return printJSON(resp)
		}
		fmt.Printf("%s %d/%d  %s\n", dim.Render("cursor"), resp.Index, resp.Total, activeLabel(resp.Active))
		return nil
	}
}

func activeLabel(active bool) string {
	if active {
		return green.Render("LIVE")
	}
	return yellow.Render("EDIT")
}

func cmdStatus(client *ipc.IPCClient, opts *options) error {
	st, err := client.Status()
	if err != nil {
		return err
	}
	if opts.asJSON {
		return printJSON(st)
	}

	row := func(label, value string) {
		fmt.Printf("  %s %s\n", dim.Render(fmt.Sprintf("%-12s", label)), value)
	}
	fmt.Println(bold.Render("PRESENTER"))
	row("Version", st.Version)
	row("Uptime", st.Uptime.Round(time.Second).String())
	row("Mode", st.Mode)
	row("Typing", activeLabel(st.Active))
	if st.Paused {
		row("Hotkeys", yellow.Render("PAUSED"))
	}
	if st.AutoTyping {
		row("Auto-typing", green.Render("RUNNING"))
	}
	row("Students", strconv.Itoa(st.Students))
	fmt.Println()

	fmt.Println(bold.Render("LESSON"))
	row("Name", st.LessonName)
	if st.LessonPath != "" {
		row("File", st.LessonPath)
	}
	row("Blocks", strconv.Itoa(st.Blocks))
	row("Cursor", fmt.Sprintf("%d/%d (%.0f%%)", st.Index, st.Total, st.Progress))
	if st.Current != "" {
		row("Next", st.Current)
	}
	if st.SessionID != "" {
		row("Session", st.SessionID)
		row("Key presses", strconv.Itoa(st.KeyPresses))
	}
	return nil
}

func cmdWatch(client *ipc.IPCClient, opts *options) error {
	if err := client.Subscribe(ipc.AllEvents); err != nil {
		return err
	}
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	for {
		select {
		case <-sig:
			return nil
		case ev, ok := <-client.Events():
			if !ok {
				return ipc.ErrConnectionLost
			}
			if opts.asJSON {
				if err := printJSON(ev); err != nil {
					return err
				}
				continue
			}
			printEvent(ev)
			if ev.Type == ipc.EventShutdown {
				return nil
			}
		}
	}
}

func printEvent(ev *ipc.Event) {
	ts := dim.Render(ev.Timestamp.Format("15:04:05.000"))
	switch ev.Type {
	case ipc.EventCursor:
		fmt.Printf("%s cursor     %d/%d\n", ts, ev.Index, ev.Total)
	case ipc.EventActive:
		fmt.Printf("%s typing     %s\n", ts, activeLabel(ev.Active))
	case ipc.EventAutoTypeDone:
		state := green.Render("completed")
		if !ev.Completed {
			state = yellow.Render("stopped")
		}
		fmt.Printf("%s auto-type  %s after %d chars\n", ts, state, ev.Typed)
	case ipc.EventInjectionFailed:
		fmt.Printf("%s %s at %d: %s\n", ts, red.Render("injection failed"), ev.Index, ev.Error)
	case ipc.EventLessonLoaded:
		fmt.Printf("%s lesson     %s (%d steps)\n", ts, bold.Render(ev.Lesson), ev.Total)
	case ipc.EventShutdown:
		fmt.Printf("%s presenter stopped\n", ts)
	default:
		fmt.Printf("%s %s\n", ts, ev.Type)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usage(fs *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `leoctl - control a running leo presenter

Usage:
  leoctl [flags] <command> [args]

Commands:
  status        show presenter and lesson state
  advance       perform the next step, as a typing hotkey would
  press <key>   simulate the typing hotkey <key>
  jump <index>  move the cursor without typing
  forward       move the cursor one step ahead
  back          move the cursor one step back
  reset         return the cursor to the start
  toggle        switch typing mode on or off
  auto          type up to the next block boundary
  stop          stop auto-typing
  pause         ignore typing hotkeys
  resume        accept typing hotkeys again
  reload        re-read the lesson file
  watch         stream presenter events

Flags:
`)
	fs.SetOutput(os.Stderr)
	fs.PrintDefaults()
}
