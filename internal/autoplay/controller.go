package autoplay

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/board"
	"github.com/park285/chess-autopilot/internal/chess"
	"github.com/park285/chess-autopilot/internal/domain"
	"github.com/park285/chess-autopilot/internal/msgcat"
	"github.com/park285/chess-autopilot/internal/recognizer"
	"github.com/park285/chess-autopilot/internal/store"
	"github.com/park285/chess-autopilot/pkg/feedproto"
)

var (
	ErrBusy    = errors.New("another cycle is in flight")
	ErrNoBoard = errors.New("board rectangle not calibrated")
)

const (
	DefaultPollInterval = 2500 * time.Millisecond
	DefaultSettle       = time.Second
	DefaultBackoff      = 1500 * time.Millisecond
	persistTimeout      = 2 * time.Second
)

type Recognizer interface {
	Recognize(ctx context.Context, area *board.Rect) (recognizer.Result, error)
}

// Engine returns "" / 0 when it has no answer; the controller never treats that as an error.
type Engine interface {
	BestMove(ctx context.Context, fen string, depth int) string
	Evaluation(ctx context.Context, fen string, depth int) float64
}

type Pointer interface {
	Drag(ctx context.Context, from, to board.Point) error
	Position(ctx context.Context) (board.Point, error)
}

type SquareMapper interface {
	SquareCenter(sq board.Square, eff board.Rect, flipped bool) board.Point
}

type Journal interface {
	Record(ctx context.Context, rec domain.CycleRecord) error
}

type Publisher interface {
	Publish(ev feedproto.Event)
}

// Config is the controller's tuning and initial calibration.
type Config struct {
	LocalColor    chess.Color
	Depth         int
	PollInterval  time.Duration
	HumanDelay    time.Duration
	HumanJitter   float64
	Settle        time.Duration
	Backoff       time.Duration
	AutoRecognize bool
	AutoPlay      bool
	Flipped       bool
	Locked        bool
	Adjustment    board.Adjustment
	InitialBoard  *board.Rect
	Thresholds    board.Thresholds
	PreviewDir    string
}

// Deps are the collaborators. Recognizer, Engine and Pointer are required.
type Deps struct {
	Recognizer  Recognizer
	Capturer    recognizer.Capturer
	Engine      Engine
	Pointer     Pointer
	Mapper      SquareMapper
	Store       store.Store
	Journal     Journal
	Publisher   Publisher
	Catalog     *msgcat.Catalog
	Logger      *zap.Logger
	Calibration board.ManualCalibration
	Sleep       func(ctx context.Context, d time.Duration) error
	Now         func() time.Time
	Rand        *rand.Rand
}

// Controller drives the scan, decide and act loop.
// At most one cycle runs at a time; overlapping ticks are dropped.
type Controller struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
	stab   *board.Stabilizer

	inFlight atomic.Bool
	wg       sync.WaitGroup

	mu            sync.Mutex
	state         State
	accepted      string
	waiting       string // last placement seen while it was not our turn
	queued        []queuedCommand
	autoRecognize bool
	autoPlay      bool
	flipped       bool
	adjustment    board.Adjustment
	display       display

	onTransition func(from, to State)
}

type queuedCommand struct {
	ctx context.Context
	cmd feedproto.Command
}

// display is what the status feed shows; it is refreshed even when execution is off.
type display struct {
	fen        string
	sideToMove string
	bestMove   string
	moveSAN    string
	evaluation *float64
	message    string
	cycleID    string
}

func New(cfg Config, deps Deps) (*Controller, error) {
	if deps.Recognizer == nil || deps.Engine == nil || deps.Pointer == nil {
		return nil, errors.New("autoplay: recognizer, engine and pointer are required")
	}
	if cfg.LocalColor == "" {
		cfg.LocalColor = chess.White
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Settle <= 0 {
		cfg.Settle = DefaultSettle
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Adjustment.Scale <= 0 {
		cfg.Adjustment.Scale = 1
	}
	if deps.Mapper == nil {
		deps.Mapper = board.Mapper{}
	}
	if deps.Store == nil {
		deps.Store = store.NewMemoryStore()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Sleep == nil {
		deps.Sleep = board.SleepContext
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if deps.Calibration.FirstWait == 0 && deps.Calibration.SecondWait == 0 {
		deps.Calibration = board.DefaultManualCalibration()
	}

	c := &Controller{
		cfg:           cfg,
		deps:          deps,
		logger:        deps.Logger.Named("autoplay"),
		stab:          board.NewStabilizer(cfg.Thresholds),
		autoRecognize: cfg.AutoRecognize,
		autoPlay:      cfg.AutoPlay,
		flipped:       cfg.Flipped,
		adjustment:    cfg.Adjustment,
	}
	if cfg.InitialBoard != nil && cfg.InitialBoard.Normalize().Valid() {
		c.stab.Set(*cfg.InitialBoard)
	}
	if cfg.Locked {
		c.stab.Lock()
	}
	return c, nil
}

// OnTransition registers a hook called synchronously on every state change.
func (c *Controller) OnTransition(fn func(from, to State)) {
	c.mu.Lock()
	c.onTransition = fn
	c.mu.Unlock()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AcceptedPlacement is the placement the controller last acted on or restored.
func (c *Controller) AcceptedPlacement() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accepted
}

// Board returns the accepted rectangle before adjustment.
func (c *Controller) Board() (board.Rect, bool) { return c.stab.Accepted() }

// EffectiveBoard returns the accepted rectangle with the calibration adjustment applied.
func (c *Controller) EffectiveBoard() (board.Rect, bool) {
	r, ok := c.stab.Accepted()
	if !ok {
		return board.Rect{}, false
	}
	c.mu.Lock()
	adj := c.adjustment
	c.mu.Unlock()
	return adj.Apply(r), true
}

// Restore loads persisted calibration and the accepted placement.
// Explicit configuration still wins for the initial rectangle.
func (c *Controller) Restore(ctx context.Context) error {
	cal, err := c.deps.Store.LoadCalibration(ctx)
	if err != nil {
		return err
	}
	if cal != nil {
		if cal.Board != nil && c.cfg.InitialBoard == nil {
			c.stab.Set(*cal.Board)
		}
		if cal.Locked {
			c.stab.Lock()
		}
		c.mu.Lock()
		if cal.Adjustment.Scale > 0 {
			c.adjustment = cal.Adjustment
		}
		c.flipped = cal.Flipped
		c.mu.Unlock()
	}
	placement, err := c.deps.Store.LoadPlacement(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.accepted = placement
	c.mu.Unlock()
	c.logger.Info("autoplay_restored",
		zap.Bool("has_calibration", cal != nil),
		zap.Bool("has_placement", placement != ""),
	)
	return nil
}

func (c *Controller) transition(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	hook := c.onTransition
	c.mu.Unlock()
	if hook != nil {
		hook(from, to)
	}
	if from != to {
		c.logger.Debug("autoplay_state", zap.Stringer("from", from), zap.Stringer("to", to))
	}
}

func newCycleID() string { return uuid.NewString() }

// acquire takes the single-cycle slot.
func (c *Controller) acquire() bool { return c.inFlight.CompareAndSwap(false, true) }

// release applies commands queued while the slot was held, then frees it.
func (c *Controller) release() {
	for {
		c.mu.Lock()
		queued := c.queued
		c.queued = nil
		if len(queued) == 0 {
			c.inFlight.Store(false)
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		for _, q := range queued {
			c.apply(q.ctx, q.cmd)
		}
	}
}

// deferCommand queues cmd if a cycle holds the slot.
func (c *Controller) deferCommand(ctx context.Context, cmd feedproto.Command) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inFlight.Load() {
		return false
	}
	c.queued = append(c.queued, queuedCommand{ctx: ctx, cmd: cmd})
	return true
}

// Wait blocks until background cycles and commands finish.
func (c *Controller) Wait() { c.wg.Wait() }

func (c *Controller) persistCalibration(ctx context.Context) {
	cal := &store.Calibration{Locked: c.stab.Locked(), UpdatedAt: c.deps.Now()}
	if r, ok := c.stab.Accepted(); ok {
		cal.Board = &r
	}
	c.mu.Lock()
	cal.Adjustment = c.adjustment
	cal.Flipped = c.flipped
	c.mu.Unlock()

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := c.deps.Store.SaveCalibration(pctx, cal); err != nil {
		c.logger.Warn("autoplay_save_calibration_failed", zap.Error(err))
	}
}

func (c *Controller) persistPlacement(ctx context.Context, placement string) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := c.deps.Store.SavePlacement(pctx, placement); err != nil {
		c.logger.Warn("autoplay_save_placement_failed", zap.Error(err))
	}
}

func (c *Controller) record(ctx context.Context, rec domain.CycleRecord) {
	if c.deps.Journal == nil || rec.Outcome == "" {
		return
	}
	rec.EndedAt = c.deps.Now()
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := c.deps.Journal.Record(pctx, rec); err != nil {
		c.logger.Warn("autoplay_journal_failed", zap.String("cycle_id", rec.ID), zap.Error(err))
	}
}

func (c *Controller) text(key string, data any) string {
	return c.deps.Catalog.Text(key, data)
}

// publish pushes the current snapshot with an optional status line.
func (c *Controller) publish(message string) {
	if c.deps.Publisher == nil {
		return
	}
	c.mu.Lock()
	if message != "" {
		c.display.message = message
	}
	d := c.display
	ev := feedproto.Event{
		Type:       feedproto.EventTypeState,
		State:      c.state.String(),
		Message:    d.message,
		Placement:  chess.Placement(d.fen),
		SideToMove: d.sideToMove,
		LocalColor: string(c.cfg.LocalColor),
		BestMove:   d.bestMove,
		MoveSAN:    d.moveSAN,
		Evaluation: d.evaluation,
		Flipped:    c.flipped,
		AutoPlay:   c.autoPlay,
		Recognize:  c.autoRecognize,
		CycleID:    d.cycleID,
		At:         c.deps.Now(),
	}
	c.mu.Unlock()
	if r, ok := c.stab.Accepted(); ok {
		ev.Board = &feedproto.Rect{X1: r.TopLeft.X, Y1: r.TopLeft.Y, X2: r.BottomRight.X, Y2: r.BottomRight.Y}
	}
	ev.Locked = c.stab.Locked()
	c.deps.Publisher.Publish(ev)
}
