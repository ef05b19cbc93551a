package notification

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// defaultAppleScriptTimeout bounds one osascript run. Messages can block on a
// modal dialog indefinitely.
const defaultAppleScriptTimeout = 30 * time.Second

// sendScript is run by osascript with the recipient and body as arguments so
// neither needs AppleScript escaping.
const sendScript = `on run argv
	set targetBuddy to item 1 of argv
	set messageBody to item 2 of argv
	tell application "Messages"
		set targetService to 1st account whose service type = iMessage
		send messageBody to participant targetBuddy of targetService
	end tell
end run`

// commandRunner executes a command and returns its combined output.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// AppleScriptNotifier sends iMessages through the local Messages app.
type AppleScriptNotifier struct {
	run     commandRunner
	timeout time.Duration
}

// NewAppleScriptNotifier builds a notifier that shells out to osascript and
// kills it after timeout.
func NewAppleScriptNotifier(timeout time.Duration) *AppleScriptNotifier {
	return &AppleScriptNotifier{run: execRunner, timeout: timeout}
}

// Send delivers the body to the destination handle.
func (n *AppleScriptNotifier) Send(ctx context.Context, message Message) error {
	if message.Destination == "" {
		return fmt.Errorf("%w: empty destination", ErrTransport)
	}
	timeout := n.timeout
	if timeout <= 0 {
		timeout = defaultAppleScriptTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := n.run(ctx, "osascript", "-e", sendScript, message.Destination, message.Body)
	if ctx.Err() != nil {
		return fmt.Errorf("%w: osascript did not finish within %s: %v", ErrTransport, timeout, ctx.Err())
	}
	if err != nil {
		return fmt.Errorf("%w: osascript: %v: %s", ErrTransport, err, strings.TrimSpace(string(out)))
	}
	return nil
}
