// Package notify sends desktop notifications through the host OS.
package notify

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// ErrUnsupported is returned on platforms without a notification command
var ErrUnsupported = errors.New("desktop notifications are not supported on this platform")

// Runner executes an external command
type Runner func(ctx context.Context, name string, args ...string) error

// ExecRunner runs the command and includes its output in any error
func ExecRunner(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Notifier posts desktop alerts
type Notifier struct {
	GOOS  string
	Sound string // macOS sound name
	Run   Runner
}

// New creates a notifier for the current OS
func New(sound string) *Notifier {
	if sound == "" {
		sound = "default"
	}
	return &Notifier{GOOS: runtime.GOOS, Sound: sound, Run: ExecRunner}
}

// Notify shows a notification with title and message
func (n *Notifier) Notify(ctx context.Context, title, message string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch n.GOOS {
	case "darwin":
		return n.Run(ctx, "osascript", "-e", AppleScript(title, message, n.Sound))
	case "linux", "freebsd", "openbsd", "netbsd":
		return n.Run(ctx, "notify-send", title, message)
	default:
		return ErrUnsupported
	}
}

// AppleScript builds the display notification statement, escaping
// backslashes and double quotes in each string
func AppleScript(title, message, sound string) string {
	return fmt.Sprintf(`display notification "%s" with title "%s" sound name "%s"`,
		escape(message), escape(title), escape(sound))
}

func escape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
