package pointer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/board"
)

const DefaultTool = "xdotool"

// Timing holds the pauses between drag steps. Board UIs drop drags that
// arrive faster than their pointer handlers run.
type Timing struct {
	Hover    time.Duration // after moving onto the source square
	Grab     time.Duration // after pressing
	Midpoint time.Duration // after passing the midpoint
	Arrive   time.Duration // after reaching the target square
	Release  time.Duration // after releasing
}

func DefaultTiming() Timing {
	return Timing{
		Hover:    250 * time.Millisecond,
		Grab:     350 * time.Millisecond,
		Midpoint: 100 * time.Millisecond,
		Arrive:   300 * time.Millisecond,
		Release:  200 * time.Millisecond,
	}
}

// Runner executes the helper binary and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Driver moves the system pointer through an xdotool-compatible helper.
type Driver struct {
	tool   string
	run    Runner
	timing Timing
	sleep  func(ctx context.Context, d time.Duration) error
	logger *zap.Logger
}

type Option func(*Driver)

func WithRunner(r Runner) Option { return func(d *Driver) { d.run = r } }

func WithTiming(t Timing) Option { return func(d *Driver) { d.timing = t } }

func WithSleep(s func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Driver) { d.sleep = s }
}

func WithLogger(l *zap.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

func New(tool string, opts ...Option) *Driver {
	if strings.TrimSpace(tool) == "" {
		tool = DefaultTool
	}
	d := &Driver{
		tool:   tool,
		run:    execRunner,
		timing: DefaultTiming(),
		sleep:  board.SleepContext,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("pointer")
	return d
}

// Drag presses on from, passes the midpoint, and releases on to.
// The button is released even if a later step fails.
func (d *Driver) Drag(ctx context.Context, from, to board.Point) error {
	if err := d.moveTo(ctx, from); err != nil {
		return err
	}
	if err := d.sleep(ctx, d.timing.Hover); err != nil {
		return err
	}
	if err := d.exec(ctx, "mousedown", "1"); err != nil {
		return fmt.Errorf("press: %w", err)
	}
	released := false
	defer func() {
		if released {
			return
		}
		if relErr := d.exec(context.WithoutCancel(ctx), "mouseup", "1"); relErr != nil {
			d.logger.Warn("pointer_release_failed", zap.Error(relErr))
		}
	}()

	if err := d.sleep(ctx, d.timing.Grab); err != nil {
		return err
	}
	mid := board.Point{X: (from.X + to.X) / 2, Y: (from.Y + to.Y) / 2}
	if err := d.moveTo(ctx, mid); err != nil {
		return err
	}
	if err := d.sleep(ctx, d.timing.Midpoint); err != nil {
		return err
	}
	if err := d.moveTo(ctx, to); err != nil {
		return err
	}
	if err := d.sleep(ctx, d.timing.Arrive); err != nil {
		return err
	}
	if err := d.exec(ctx, "mouseup", "1"); err != nil {
		return fmt.Errorf("release: %w", err)
	}
	released = true
	d.logger.Debug("pointer_drag", zap.Stringer("from", from), zap.Stringer("to", to))
	return d.sleep(ctx, d.timing.Release)
}

// Position reads the current pointer location.
func (d *Driver) Position(ctx context.Context) (board.Point, error) {
	out, err := d.run(ctx, d.tool, "getmouselocation", "--shell")
	if err != nil {
		return board.Point{}, fmt.Errorf("getmouselocation: %w", err)
	}
	return parseLocation(out)
}

func (d *Driver) moveTo(ctx context.Context, p board.Point) error {
	if err := d.exec(ctx, "mousemove", strconv.Itoa(p.X), strconv.Itoa(p.Y)); err != nil {
		return fmt.Errorf("move to %s: %w", p, err)
	}
	return nil
}

func (d *Driver) exec(ctx context.Context, args ...string) error {
	_, err := d.run(ctx, d.tool, args...)
	return err
}

// parseLocation reads the X= and Y= lines of `getmouselocation --shell`.
func parseLocation(out []byte) (board.Point, error) {
	var p board.Point
	var gotX, gotY bool
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		key, val, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			continue
		}
		switch key {
		case "X":
			p.X, gotX = n, true
		case "Y":
			p.Y, gotY = n, true
		}
	}
	if !gotX || !gotY {
		return board.Point{}, fmt.Errorf("unexpected pointer location output %q", strings.TrimSpace(string(out)))
	}
	return p, nil
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return out, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}
