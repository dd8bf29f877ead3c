// Package tmux drives the tmux binary as a subprocess. All operations build
// an argv vector and never touch a shell; key text reaches tmux verbatim
// through send-keys -l, so no character filtering is applied.
package tmux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"pkt.systems/pslog"

	"sessioncast.io/agent/schema"
)

const (
	// DefaultBinary is the tmux executable resolved via PATH.
	DefaultBinary = "tmux"
	// DefaultCommandTimeout bounds every tmux invocation.
	DefaultCommandTimeout = 10 * time.Second
)

// streamPrefix clears the viewer's screen and homes the cursor so that every
// streamed frame is a complete repaint.
const streamPrefix = "\x1b[2J\x1b[H"

// Controller invokes tmux subcommands. The zero value is usable; Binary and
// Timeout fall back to the package defaults, the logger to the ambient one.
type Controller struct {
	Binary  string
	Timeout time.Duration
	Logger  pslog.Logger
}

// NewController returns a Controller with default binary and timeout.
func NewController(logger pslog.Logger) *Controller {
	return &Controller{Binary: DefaultBinary, Timeout: DefaultCommandTimeout, Logger: logger}
}

func (c *Controller) binary() string {
	if c.Binary != "" {
		return c.Binary
	}
	return DefaultBinary
}

func (c *Controller) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultCommandTimeout
}

func (c *Controller) log() pslog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return pslog.Ctx(context.Background())
}

// run executes one tmux subcommand with stderr merged into stdout and the
// configured wall-clock timeout. A non-zero exit still returns the combined
// output (has-session reports "can't find session" that way); the error is
// reserved for spawn failures and timeouts. On timeout the whole process
// group is killed.
func (c *Controller) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	cmd := exec.CommandContext(ctx, c.binary(), args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	// tmux can fork its server from this invocation; WaitDelay keeps Wait
	// from hanging on inherited pipe ends.
	cmd.WaitDelay = time.Second
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if ctx.Err() != nil {
		c.log().Warn("tmux command timed out", "args", strings.Join(args, " "))
		return "", fmt.Errorf("tmux %s: %w", args[0], ctx.Err())
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			c.log().Error("tmux command failed", "args", strings.Join(args, " "), "err", err)
			return "", fmt.Errorf("tmux %s: %w", args[0], err)
		}
		// Non-zero exit: callers inspect the output text.
	}
	return strings.TrimSpace(out.String()), nil
}

// ListSessions returns all sessions known to the tmux server. When the
// server is not running, the list is empty.
func (c *Controller) ListSessions(ctx context.Context) ([]schema.Session, error) {
	out, err := c.run(ctx, "ls")
	if err != nil {
		return nil, err
	}
	if out == "" || strings.Contains(out, "no server running") {
		return nil, nil
	}
	var sessions []schema.Session
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		sessions = append(sessions, ParseSessionLine(line))
	}
	return sessions, nil
}

// SessionExists reports whether the named session exists.
func (c *Controller) SessionExists(ctx context.Context, name string) bool {
	out, err := c.run(ctx, "has-session", "-t", name)
	if err != nil {
		return false
	}
	return !strings.Contains(out, "can't find session")
}

// CreateSession creates a detached session, optionally rooted at workDir.
// Creating a session that already exists is a warned no-op.
func (c *Controller) CreateSession(ctx context.Context, name, workDir string) error {
	if c.SessionExists(ctx, name) {
		c.log().Warn("session already exists", "session", name)
		return nil
	}
	args := []string{"new-session", "-d", "-s", name}
	if strings.TrimSpace(workDir) != "" {
		args = append(args, "-c", workDir)
	}
	if _, err := c.run(ctx, args...); err != nil {
		return err
	}
	c.log().Info("created session", "session", name)
	return nil
}

// KillSession kills the named session.
func (c *Controller) KillSession(ctx context.Context, name string) error {
	if _, err := c.run(ctx, "kill-session", "-t", name); err != nil {
		return err
	}
	c.log().Info("killed session", "session", name)
	return nil
}

// SendKeys sends key text to a target (session, session:window or
// session:window.pane). With literal set, tmux takes the text verbatim (-l)
// instead of interpreting key names.
func (c *Controller) SendKeys(ctx context.Context, target, keys string, literal bool) error {
	if keys == "" {
		return nil
	}
	args := []string{"send-keys", "-t", target}
	if literal {
		args = append(args, "-l")
	}
	args = append(args, keys)
	_, err := c.run(ctx, args...)
	return err
}

// SendKeysWithEnter sends literal key text followed by Enter.
func (c *Controller) SendKeysWithEnter(ctx context.Context, target, keys string) error {
	if err := c.SendKeys(ctx, target, keys, true); err != nil {
		return err
	}
	return c.SendSpecialKey(ctx, target, KeyEnter)
}

// SendSpecialKey sends one named key (Enter, C-c, Up, ...) to a target.
func (c *Controller) SendSpecialKey(ctx context.Context, target string, key SpecialKey) error {
	_, err := c.run(ctx, "send-keys", "-t", target, string(key))
	return err
}

// CapturePane captures the visible pane content of a session. With
// withEscapes, ANSI escape sequences and trailing spaces are preserved.
func (c *Controller) CapturePane(ctx context.Context, name string, withEscapes bool) (string, error) {
	args := []string{"capture-pane", "-t", name, "-p"}
	if withEscapes {
		args = append(args, "-e", "-N")
	}
	return c.run(ctx, args...)
}

// CapturePaneForStream captures the pane with escapes and prepends the
// clear-and-home prefix, making the result a self-contained repaint.
func (c *Controller) CapturePaneForStream(ctx context.Context, name string) (string, error) {
	content, err := c.CapturePane(ctx, name, true)
	if err != nil {
		return "", err
	}
	return streamPrefix + content, nil
}

// Resize resizes the session's window to cols by rows.
func (c *Controller) Resize(ctx context.Context, name string, cols, rows int) error {
	_, err := c.run(ctx, "resize-window", "-t", name,
		"-x", strconv.Itoa(cols), "-y", strconv.Itoa(rows))
	return err
}

// GetPaneWorkDir returns the current working directory of the session's
// active pane.
func (c *Controller) GetPaneWorkDir(ctx context.Context, name string) (string, error) {
	out, err := c.run(ctx, "display-message", "-t", name, "-p", "#{pane_current_path}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
