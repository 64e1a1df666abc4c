package alerting

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/fatih/color"

	"marketwatch/internal/apperr"
	"marketwatch/internal/storage"
)

// TerminalNotifier prints notifications as highlighted lines.
type TerminalNotifier struct {
	mu    sync.Mutex
	out   io.Writer
	title *color.Color
	up    *color.Color
	down  *color.Color
}

// NewTerminalNotifier writes to out; colour codes are omitted when colorEnabled is false.
func NewTerminalNotifier(out io.Writer, colorEnabled bool) *TerminalNotifier {
	tn := &TerminalNotifier{
		out:   out,
		title: color.New(color.FgYellow, color.Bold),
		up:    color.New(color.FgGreen),
		down:  color.New(color.FgRed),
	}
	if !colorEnabled {
		tn.title.DisableColor()
		tn.up.DisableColor()
		tn.down.DisableColor()
	}
	return tn
}

// Name identifies the channel.
func (t *TerminalNotifier) Name() string {
	return "terminal"
}

// Notify writes one line per notification.
func (t *TerminalNotifier) Notify(_ context.Context, n Notification) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	body := t.up
	if n.Condition == storage.ConditionBelow {
		body = t.down
	}
	stamp := n.TriggeredAt
	if stamp.IsZero() {
		stamp = time.Now()
	}
	if _, err := fmt.Fprintf(t.out, "%s %s %s\n", stamp.Local().Format("15:04:05"), t.title.Sprint(n.Title), body.Sprint(n.Body)); err != nil {
		return fmt.Errorf("write terminal notification: %w", err)
	}
	return nil
}

// DesktopNotifier shells out to a platform notification command such as notify-send.
type DesktopNotifier struct {
	command  string
	lookPath func(string) (string, error)
	run      func(ctx context.Context, name string, args ...string) error
}

// NewDesktopNotifier uses command (default notify-send).
func NewDesktopNotifier(command string) *DesktopNotifier {
	if command == "" {
		command = "notify-send"
	}
	return &DesktopNotifier{
		command:  command,
		lookPath: exec.LookPath,
		run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
	}
}

// Name identifies the channel.
func (d *DesktopNotifier) Name() string {
	return "desktop"
}

// Notify reports PermissionError when the platform has no notification command.
func (d *DesktopNotifier) Notify(ctx context.Context, n Notification) error {
	path, err := d.lookPath(d.command)
	if err != nil {
		return &apperr.PermissionError{Channel: d.Name(), Reason: fmt.Sprintf("%s unavailable", d.command)}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := d.run(ctx, path, n.Title, n.Body); err != nil {
		return fmt.Errorf("run %s: %w", d.command, err)
	}
	return nil
}

var (
	_ Notifier = (*TerminalNotifier)(nil)
	_ Notifier = (*DesktopNotifier)(nil)
)
