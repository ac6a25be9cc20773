package autoplay

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/board"
	"github.com/park285/chess-autopilot/internal/capture"
	"github.com/park285/chess-autopilot/internal/chess"
	"github.com/park285/chess-autopilot/internal/domain"
	"github.com/park285/chess-autopilot/internal/preview"
)

// enter moves to state and pushes a status snapshot.
func (c *Controller) enter(to State, message string) {
	c.transition(to)
	c.publish(message)
}

// Tick starts one cycle in the background unless auto recognition is off or
// a cycle is already in flight. Dropped ticks are not queued.
func (c *Controller) Tick(ctx context.Context) bool {
	c.mu.Lock()
	enabled := c.autoRecognize
	c.mu.Unlock()
	if !enabled {
		return false
	}
	if !c.acquire() {
		c.logger.Debug("autoplay_tick_dropped")
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.release()
		c.runCycle(ctx)
	}()
	return true
}

// Step runs one cycle on the caller's goroutine. It returns ErrBusy when another cycle holds the slot.
func (c *Controller) Step(ctx context.Context) error {
	if !c.acquire() {
		return ErrBusy
	}
	defer c.release()
	c.runCycle(ctx)
	return nil
}

func (c *Controller) runCycle(ctx context.Context) {
	rec := domain.CycleRecord{
		ID:         newCycleID(),
		LocalColor: string(c.cfg.LocalColor),
		StartedAt:  c.deps.Now(),
	}
	log := c.logger.With(zap.String("cycle_id", rec.ID))

	defer func() {
		if r := recover(); r != nil {
			c.fault(log, &rec, fmt.Errorf("panic: %v", r))
		}
		c.record(ctx, rec)
		if c.State() != StateIdle {
			c.enter(StateIdle, "")
		}
	}()

	if err := c.cycle(ctx, log, &rec); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Debug("autoplay_cycle_cancelled", zap.Error(err))
			rec.Outcome = ""
			return
		}
		c.fault(log, &rec, err)
	}
}

func (c *Controller) fault(log *zap.Logger, rec *domain.CycleRecord, err error) {
	if rec != nil {
		rec.Outcome = domain.OutcomeFaulted
		rec.Error = err.Error()
	}
	log.Error("autoplay_cycle_faulted", zap.Error(err))
	msg := c.text("state.faulted", map[string]any{"Error": err.Error()})
	if errors.Is(err, ErrNoBoard) {
		msg = c.text("cycle.no_board", nil)
	}
	c.enter(StateFaulted, msg)
}

// cycle runs Scanning through Cooldown. Returned errors fault the cycle.
func (c *Controller) cycle(ctx context.Context, log *zap.Logger, rec *domain.CycleRecord) error {
	// calibration is fixed for the whole cycle; commands that change it wait for release
	c.mu.Lock()
	c.display.cycleID = rec.ID
	flipped := c.flipped
	adj := c.adjustment
	c.mu.Unlock()
	rec.Flipped = flipped
	c.enter(StateScanning, c.text("state.scanning", nil))

	var area *board.Rect
	if r, ok := c.stab.Accepted(); ok {
		area = &r
	}
	res, err := c.deps.Recognizer.Recognize(ctx, area)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("autoplay_recognition_failed", zap.Error(err), zap.Duration("backoff", c.cfg.Backoff))
		c.publish(c.text("cycle.recognition_failed", map[string]any{"Backoff": c.cfg.Backoff}))
		return c.deps.Sleep(ctx, c.cfg.Backoff)
	}

	c.observeBoard(ctx, log, res.BoardArea)

	// side to move comes from the raw answer; Normalize would default it to white
	side, sideOK := chess.SideToMove(res.FEN)
	fen := chess.Normalize(res.FEN)
	placement := chess.Placement(fen)
	rec.FEN, rec.Placement, rec.SideToMove = fen, placement, string(side)

	c.mu.Lock()
	c.display.fen = fen
	c.display.sideToMove = string(side)
	changed := placement != c.accepted
	auto := c.autoPlay
	c.mu.Unlock()

	if !changed {
		log.Debug("autoplay_no_change")
		c.enter(StateIdle, c.text("cycle.no_change", nil))
		return nil
	}
	if !auto {
		log.Debug("autoplay_display_only", zap.String("placement", placement))
		c.enter(StateIdle, "")
		return nil
	}

	c.enter(StateAwaitingTurn, c.text("state.awaiting_turn", nil))
	if !sideOK || side != c.cfg.LocalColor {
		c.mu.Lock()
		repeat := c.waiting == placement
		c.waiting = placement
		c.mu.Unlock()
		key := "cycle.not_our_turn"
		if !sideOK {
			key = "cycle.side_unknown"
		}
		if repeat {
			log.Debug("autoplay_not_our_turn", zap.String("side_to_move", string(side)))
		} else {
			rec.Outcome = domain.OutcomeNotOurTurn
			log.Info("autoplay_not_our_turn", zap.String("side_to_move", string(side)), zap.Bool("side_known", sideOK))
		}
		c.enter(StateIdle, c.text(key, map[string]any{"SideToMove": string(side)}))
		return nil
	}

	c.enter(StateAnalyzing, c.text("state.analyzing", map[string]any{"Depth": c.cfg.Depth}))
	move := c.deps.Engine.BestMove(ctx, fen, c.cfg.Depth)
	if move == "" {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rec.Outcome = domain.OutcomeNoMove
		log.Warn("autoplay_no_move", zap.String("fen", fen))
		c.enter(StateIdle, c.text("cycle.no_move", nil))
		return nil
	}
	eval := c.deps.Engine.Evaluation(ctx, fen, c.cfg.Depth)
	san, _ := chess.MoveSAN(fen, move)
	rec.BestMove, rec.MoveSAN, rec.Evaluation = move, san, &eval

	c.mu.Lock()
	c.display.bestMove, c.display.moveSAN, c.display.evaluation = move, san, &eval
	c.mu.Unlock()
	log.Info("autoplay_best_move", zap.String("move", move), zap.String("san", san), zap.Float64("evaluation", eval))

	c.enter(StateExecuting, c.text("state.executing", map[string]any{"Move": move}))
	if err := c.deps.Sleep(ctx, chess.HumanDelay(c.cfg.HumanDelay, c.cfg.HumanJitter, c.deps.Rand)); err != nil {
		return err
	}
	mv, err := board.ParseMove(move)
	if err != nil {
		return fmt.Errorf("engine move %q: %w", move, err)
	}
	raw, ok := c.stab.Accepted()
	if !ok {
		return ErrNoBoard
	}
	eff := adj.Apply(raw)
	rec.Board = eff.String()
	from := c.deps.Mapper.SquareCenter(mv.From, eff, flipped)
	to := c.deps.Mapper.SquareCenter(mv.To, eff, flipped)
	log.Info("autoplay_drag", zap.String("move", move), zap.Stringer("from", from), zap.Stringer("to", to))
	if err := c.deps.Pointer.Drag(ctx, from, to); err != nil {
		return fmt.Errorf("drag %s: %w", move, err)
	}

	c.enter(StateCooldown, c.text("state.cooldown", nil))
	if err := c.deps.Sleep(ctx, c.cfg.Settle); err != nil {
		return err
	}

	next := placement
	if advanced, err := chess.Advance(fen, move); err != nil {
		log.Warn("autoplay_advance_failed", zap.String("move", move), zap.Error(err))
	} else {
		next = chess.Placement(advanced)
	}
	c.mu.Lock()
	c.accepted = next
	c.mu.Unlock()
	c.persistPlacement(ctx, next)
	c.writePreview(log, res.Frame, eff, flipped, &mv)

	rec.Outcome = domain.OutcomeExecuted
	c.enter(StateIdle, c.text("cycle.played", map[string]any{"Move": move, "Evaluation": eval}))
	return nil
}

// observeBoard feeds a detected rectangle through the stabilizer unless calibration is locked.
func (c *Controller) observeBoard(ctx context.Context, log *zap.Logger, det *board.Rect) {
	if det == nil || c.stab.Locked() {
		return
	}
	before, had := c.stab.Accepted()
	after, ok := c.stab.Observe(det)
	if ok && (!had || before != after) {
		log.Debug("autoplay_board_updated", zap.Stringer("board", after))
		if !had || !c.stab.Thresholds().Similar(before, after) {
			c.persistCalibration(ctx)
		}
	}
}

func (c *Controller) writePreview(log *zap.Logger, frame capture.Frame, eff board.Rect, flipped bool, mv *board.Move) {
	if c.cfg.PreviewDir == "" {
		return
	}
	name := preview.CalibrationFile
	if mv != nil {
		name = preview.MoveFile
	}
	data, err := preview.Render(frame, preview.Overlay{Board: eff, Flipped: flipped, Move: mv}, preview.DefaultMaxEdge)
	if err != nil {
		log.Warn("autoplay_preview_failed", zap.Error(err))
		return
	}
	if _, err := preview.WriteFile(c.cfg.PreviewDir, name, data); err != nil {
		log.Warn("autoplay_preview_failed", zap.Error(err))
	}
}
