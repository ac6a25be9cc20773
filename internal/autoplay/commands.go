package autoplay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/board"
	"github.com/park285/chess-autopilot/internal/capture"
	"github.com/park285/chess-autopilot/internal/chess"
	"github.com/park285/chess-autopilot/internal/domain"
	"github.com/park285/chess-autopilot/pkg/feedproto"
)

// Analysis is the result of a manual analysis pass.
type Analysis struct {
	FEN        string
	BestMove   string
	MoveSAN    string
	Evaluation float64
}

// Run restores persisted state, then ticks every PollInterval and applies
// commands until ctx is cancelled. In-flight work is awaited before returning.
func (c *Controller) Run(ctx context.Context, cmds <-chan feedproto.Command) error {
	if err := c.Restore(ctx); err != nil {
		c.logger.Warn("autoplay_restore_failed", zap.Error(err))
	}
	c.logger.Info("autoplay_started",
		zap.String("local_color", string(c.cfg.LocalColor)),
		zap.Duration("poll_interval", c.cfg.PollInterval),
		zap.Bool("auto_play", c.cfg.AutoPlay),
	)
	c.publish(c.text("state.idle", nil))

	t := time.NewTicker(c.cfg.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Wait()
			c.logger.Info("autoplay_stopped")
			return nil
		case <-t.C:
			c.Tick(ctx)
		case cmd, ok := <-cmds:
			if !ok {
				cmds = nil
				continue
			}
			c.Apply(ctx, cmd)
		}
	}
}

// Apply executes a feed command. Calibration and analysis run in the background
// and share the single-cycle slot with ticks. Commands that change calibration
// wait until the running cycle releases the slot.
func (c *Controller) Apply(ctx context.Context, cmd feedproto.Command) {
	c.logger.Info("autoplay_command", zap.String("type", cmd.Kind()))
	if changesCalibration(cmd.Kind()) && c.deferCommand(ctx, cmd) {
		c.logger.Debug("autoplay_command_deferred", zap.String("type", cmd.Kind()))
		return
	}
	c.apply(ctx, cmd)
}

func changesCalibration(kind string) bool {
	switch kind {
	case feedproto.CommandLock, feedproto.CommandUnlock, feedproto.CommandOrientation, feedproto.CommandAdjust:
		return true
	}
	return false
}

func (c *Controller) apply(ctx context.Context, cmd feedproto.Command) {
	switch cmd.Kind() {
	case feedproto.CommandAuto:
		if cmd.Enabled != nil {
			c.SetAutoPlay(*cmd.Enabled)
		}
	case feedproto.CommandRecognize:
		if cmd.Enabled != nil {
			c.SetAutoRecognize(*cmd.Enabled)
		}
	case feedproto.CommandLock:
		c.Lock(ctx)
	case feedproto.CommandUnlock:
		c.Unlock(ctx)
	case feedproto.CommandOrientation:
		if cmd.Flipped != nil {
			c.SetOrientation(ctx, *cmd.Flipped)
		}
	case feedproto.CommandAdjust:
		c.mu.Lock()
		adj := c.adjustment
		c.mu.Unlock()
		if cmd.OffsetX != nil {
			adj.OffsetX = *cmd.OffsetX
		}
		if cmd.OffsetY != nil {
			adj.OffsetY = *cmd.OffsetY
		}
		if cmd.Scale != nil {
			adj.Scale = *cmd.Scale
		}
		c.SetAdjustment(ctx, adj)
	case feedproto.CommandCalibrate:
		c.background(func() {
			if _, err := c.Calibrate(ctx); err != nil && !errors.Is(err, ErrBusy) {
				c.logger.Warn("autoplay_calibrate_failed", zap.Error(err))
			}
		})
	case feedproto.CommandAnalyze:
		c.background(func() {
			if _, err := c.AnalyzeOnce(ctx); err != nil && !errors.Is(err, ErrBusy) {
				c.logger.Warn("autoplay_analyze_failed", zap.Error(err))
			}
		})
	default:
		c.publish(c.text("command.unknown", map[string]any{"Type": cmd.Type}))
	}
}

func (c *Controller) background(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("autoplay_command_panic", zap.Any("panic", r))
			}
		}()
		fn()
	}()
}

// SetAutoPlay toggles move execution. An in-flight cycle is not cancelled.
func (c *Controller) SetAutoPlay(enabled bool) {
	c.mu.Lock()
	c.autoPlay = enabled
	c.mu.Unlock()
	key := "command.auto_off"
	if enabled {
		key = "command.auto_on"
	}
	c.publish(c.text(key, nil))
}

// SetAutoRecognize toggles periodic recognition ticks.
func (c *Controller) SetAutoRecognize(enabled bool) {
	c.mu.Lock()
	c.autoRecognize = enabled
	c.mu.Unlock()
	c.publish("")
}

func (c *Controller) Lock(ctx context.Context) {
	c.stab.Lock()
	c.persistCalibration(ctx)
	c.publish(c.text("command.locked", nil))
}

func (c *Controller) Unlock(ctx context.Context) {
	c.stab.Unlock()
	c.persistCalibration(ctx)
	c.publish(c.text("command.unlocked", nil))
}

func (c *Controller) SetOrientation(ctx context.Context, flipped bool) {
	c.mu.Lock()
	c.flipped = flipped
	c.mu.Unlock()
	c.persistCalibration(ctx)
	key := "command.unflipped"
	if flipped {
		key = "command.flipped"
	}
	c.publish(c.text(key, nil))
}

// SetAdjustment replaces the calibration adjustment. A non-positive scale means 1.
func (c *Controller) SetAdjustment(ctx context.Context, adj board.Adjustment) {
	if adj.Scale <= 0 {
		adj.Scale = 1
	}
	c.mu.Lock()
	c.adjustment = adj
	c.mu.Unlock()
	c.persistCalibration(ctx)
	c.publish(c.text("command.adjusted", adj))
	c.previewCalibration(ctx)
}

// Calibrate samples the pointer over two corners, accepts the resulting
// rectangle and locks it.
func (c *Controller) Calibrate(ctx context.Context) (rect board.Rect, err error) {
	if !c.acquire() {
		c.publish(c.text("command.busy", nil))
		return board.Rect{}, ErrBusy
	}
	defer c.release()
	defer func() {
		if r := recover(); r != nil {
			rect, err = board.Rect{}, fmt.Errorf("panic: %v", r)
			c.fault(c.logger, nil, err)
			c.enter(StateIdle, "")
		}
	}()

	cal := c.deps.Calibration
	cal.OnPrompt = func(corner string) {
		c.publish(c.text("calibrate."+corner, nil))
	}
	if cal.Sleep == nil {
		cal.Sleep = c.deps.Sleep
	}
	r, err := cal.Run(ctx, c.deps.Pointer)
	if err != nil {
		c.publish(c.text("calibrate.failed", map[string]any{"Error": err.Error()}))
		return board.Rect{}, err
	}
	c.stab.Set(r)
	c.stab.Lock()
	c.persistCalibration(ctx)
	c.logger.Info("autoplay_calibrated", zap.Stringer("board", r))
	c.publish(c.text("calibrate.done", map[string]any{"Board": r.String()}))
	c.previewCalibration(ctx)
	return r, nil
}

func (c *Controller) previewCalibration(ctx context.Context) {
	if c.cfg.PreviewDir == "" {
		return
	}
	eff, ok := c.EffectiveBoard()
	if !ok {
		return
	}
	raw, _ := c.stab.Accepted()
	var frame capture.Frame
	if c.deps.Capturer != nil {
		f, err := c.deps.Capturer.Capture(ctx, &raw)
		if err != nil {
			c.logger.Warn("autoplay_preview_capture_failed", zap.Error(err))
		} else {
			frame = f
		}
	}
	c.mu.Lock()
	flipped := c.flipped
	c.mu.Unlock()
	c.writePreview(c.logger, frame, eff, flipped, nil)
}

// AnalyzeOnce recognizes the board and asks the engine for its move without
// executing it, regardless of whose turn it is.
func (c *Controller) AnalyzeOnce(ctx context.Context) (result Analysis, err error) {
	if !c.acquire() {
		c.publish(c.text("command.busy", nil))
		return Analysis{}, ErrBusy
	}
	defer c.release()

	rec := domain.CycleRecord{LocalColor: string(c.cfg.LocalColor), StartedAt: c.deps.Now()}
	rec.ID = newCycleID()
	log := c.logger.With(zap.String("cycle_id", rec.ID), zap.Bool("manual", true))
	defer func() {
		if r := recover(); r != nil {
			result, err = Analysis{}, fmt.Errorf("panic: %v", r)
			c.fault(log, &rec, err)
		}
		c.record(ctx, rec)
		c.enter(StateIdle, "")
	}()

	c.enter(StateScanning, c.text("state.scanning", nil))
	var area *board.Rect
	if r, ok := c.stab.Accepted(); ok {
		area = &r
	}
	res, err := c.deps.Recognizer.Recognize(ctx, area)
	if err != nil {
		c.publish(c.text("analysis.unavailable", nil))
		return Analysis{}, err
	}
	c.observeBoard(ctx, log, res.BoardArea)

	side, _ := chess.SideToMove(res.FEN)
	fen := chess.Normalize(res.FEN)
	rec.FEN, rec.Placement, rec.SideToMove = fen, chess.Placement(fen), string(side)

	c.enter(StateAnalyzing, c.text("state.analyzing", map[string]any{"Depth": c.cfg.Depth}))
	move := c.deps.Engine.BestMove(ctx, fen, c.cfg.Depth)
	if move == "" {
		rec.Outcome = domain.OutcomeNoMove
		c.publish(c.text("analysis.unavailable", nil))
		return Analysis{FEN: fen}, nil
	}
	eval := c.deps.Engine.Evaluation(ctx, fen, c.cfg.Depth)
	san, _ := chess.MoveSAN(fen, move)
	rec.BestMove, rec.MoveSAN, rec.Evaluation, rec.Outcome = move, san, &eval, domain.OutcomeAnalyzed

	c.mu.Lock()
	c.display.fen = fen
	c.display.sideToMove = string(side)
	c.display.bestMove, c.display.moveSAN, c.display.evaluation = move, san, &eval
	c.display.cycleID = rec.ID
	c.mu.Unlock()
	log.Info("autoplay_analysis", zap.String("move", move), zap.Float64("evaluation", eval))
	c.publish(c.text("analysis.result", map[string]any{"Move": move, "Evaluation": eval}))
	return Analysis{FEN: fen, BestMove: move, MoveSAN: san, Evaluation: eval}, nil
}
