// Package notify delivers bus notifications to the desktop.
//
// The engine decides that a notification should fire and with what text;
// this package only gets it in front of the user. On macOS it prefers
// terminal-notifier (custom icon support) and falls back to osascript. On
// Linux it uses notify-send.
package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/rs/zerolog"

	"github.com/roach88/agentbus/internal/engine"
)

// Backend names accepted by New.
const (
	BackendAuto             = "auto"
	BackendTerminalNotifier = "terminal-notifier"
	BackendOsascript        = "osascript"
	BackendNotifySend       = "notify-send"
	BackendLog              = "log"
)

// group collapses bus notifications together in Notification Center.
const group = "event-bus"

// ErrUnavailable is returned when no notification command exists on this
// platform.
var ErrUnavailable = errors.New("no notification command available")

// Command is one program invocation.
type Command struct {
	Name string
	Args []string
}

// String renders the command for logs.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner executes a Command. Tests replace it to avoid spawning processes.
type Runner func(ctx context.Context, cmd Command) error

// LookPath reports whether an executable exists. Tests replace it.
type LookPath func(name string) bool

// CommandNotifier shells out to the platform notification tool.
type CommandNotifier struct {
	backend  string
	goos     string
	icon     string
	sound    bool
	run      Runner
	lookPath LookPath
	logger   zerolog.Logger
}

// Option configures a CommandNotifier.
type Option func(*CommandNotifier)

// WithBackend forces a specific backend instead of auto-detection.
func WithBackend(name string) Option {
	return func(n *CommandNotifier) {
		if name != "" {
			n.backend = name
		}
	}
}

// WithIcon sets the terminal-notifier app icon. Ignored when the file does
// not exist.
func WithIcon(path string) Option {
	return func(n *CommandNotifier) { n.icon = path }
}

// WithSound plays the default sound for every notification, including
// direct messages that did not ask for one.
func WithSound(on bool) Option {
	return func(n *CommandNotifier) { n.sound = on }
}

// WithRunner replaces process execution.
func WithRunner(r Runner) Option {
	return func(n *CommandNotifier) { n.run = r }
}

// WithLookPath replaces executable lookup.
func WithLookPath(f LookPath) Option {
	return func(n *CommandNotifier) { n.lookPath = f }
}

// WithGOOS overrides the detected operating system.
func WithGOOS(goos string) Option {
	return func(n *CommandNotifier) { n.goos = goos }
}

// WithLogger sets the logger for command failures.
func WithLogger(l zerolog.Logger) Option {
	return func(n *CommandNotifier) { n.logger = l }
}

// New creates a CommandNotifier. The icon defaults to $EVENT_BUS_ICON.
func New(opts ...Option) *CommandNotifier {
	n := &CommandNotifier{
		backend:  BackendAuto,
		goos:     runtime.GOOS,
		icon:     os.Getenv("EVENT_BUS_ICON"),
		run:      execRunner,
		lookPath: hasExecutable,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify implements engine.Notifier.
func (n *CommandNotifier) Notify(ctx context.Context, note engine.Notification) error {
	cmd, err := n.Command(note)
	if err != nil {
		return err
	}

	if err := n.run(ctx, cmd); err != nil {
		n.logger.Error().
			Err(err).
			Str("command", cmd.Name).
			Msg("Notification command failed")
		return fmt.Errorf("notify: %s: %w", cmd.Name, err)
	}
	return nil
}

// Command builds the invocation for note without running it.
func (n *CommandNotifier) Command(note engine.Notification) (Command, error) {
	sound := note.Sound || n.sound

	switch n.resolve() {
	case BackendTerminalNotifier:
		args := []string{
			"-title", note.Title,
			"-message", note.Body,
			"-group", group,
			"-sender", "com.apple.Terminal",
		}
		if sound {
			args = append(args, "-sound", "default")
		}
		if n.icon != "" && fileExists(n.icon) {
			args = append(args, "-appIcon", n.icon)
		}
		return Command{Name: BackendTerminalNotifier, Args: args}, nil

	case BackendOsascript:
		script := fmt.Sprintf(`display notification "%s" with title "%s"`,
			EscapeAppleScript(note.Body), EscapeAppleScript(note.Title))
		if sound {
			script += ` sound name "default"`
		}
		return Command{Name: BackendOsascript, Args: []string{"-e", script}}, nil

	case BackendNotifySend:
		return Command{Name: BackendNotifySend, Args: []string{note.Title, note.Body}}, nil

	default:
		return Command{}, fmt.Errorf("%w on %s", ErrUnavailable, n.goos)
	}
}

// resolve picks the backend for this platform.
func (n *CommandNotifier) resolve() string {
	if n.backend != BackendAuto {
		return n.backend
	}

	switch n.goos {
	case "darwin":
		if n.lookPath(BackendTerminalNotifier) {
			return BackendTerminalNotifier
		}
		return BackendOsascript
	case "linux":
		if n.lookPath(BackendNotifySend) {
			return BackendNotifySend
		}
	}
	return ""
}

// EscapeAppleScript escapes s for a double-quoted AppleScript string, so
// payload text cannot break out of the literal.
func EscapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

func execRunner(ctx context.Context, c Command) error {
	out, err := exec.CommandContext(ctx, c.Name, c.Args...).CombinedOutput()
	if err != nil {
		if len(out) > 0 {
			return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
		}
		return err
	}
	return nil
}

func hasExecutable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// LogNotifier writes notifications to a logger instead of the desktop.
// It is used for headless servers and with `command = "log"`.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify implements engine.Notifier.
func (l LogNotifier) Notify(_ context.Context, note engine.Notification) error {
	l.Logger.Info().
		Str("title", note.Title).
		Str("body", note.Body).
		Str("target", note.TargetSessionID).
		Bool("sound", note.Sound).
		Msg("Notification")
	return nil
}

// FromConfig returns the notifier for a backend name, or nil when
// notifications are disabled.
func FromConfig(enabled bool, backend, icon string, sound bool, logger zerolog.Logger) engine.Notifier {
	if !enabled {
		return nil
	}
	if backend == BackendLog {
		return LogNotifier{Logger: logger}
	}
	return New(WithBackend(backend), WithIcon(icon), WithSound(sound), WithLogger(logger))
}
