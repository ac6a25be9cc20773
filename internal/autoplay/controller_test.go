package autoplay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/park285/chess-autopilot/internal/board"
	"github.com/park285/chess-autopilot/internal/chess"
	"github.com/park285/chess-autopilot/internal/domain"
	"github.com/park285/chess-autopilot/internal/recognizer"
	"github.com/park285/chess-autopilot/internal/store"
	"github.com/park285/chess-autopilot/pkg/feedproto"
)

const (
	startFEN       = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
	afterE4FEN     = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1"
	startPlacement = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR"
	afterE4        = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR"
)

type fakeRecognizer struct {
	mu      sync.Mutex
	fens    []string
	area    *board.Rect
	err     error
	panics  bool
	calls   int
	started chan struct{}
	block   chan struct{}
	once    sync.Once
}

func (f *fakeRecognizer) Recognize(ctx context.Context, _ *board.Rect) (recognizer.Result, error) {
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return recognizer.Result{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panics {
		panic("capture exploded")
	}
	if f.err != nil {
		return recognizer.Result{}, f.err
	}
	fen := f.fens[0]
	if len(f.fens) > 1 {
		f.fens = f.fens[1:]
	}
	return recognizer.Result{Response: recognizer.Response{FEN: fen, BoardArea: f.area}}, nil
}

func (f *fakeRecognizer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeEngine struct {
	mu        sync.Mutex
	move      string
	eval      float64
	bestCalls int
	evalCalls int
}

func (f *fakeEngine) BestMove(context.Context, string, int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bestCalls++
	return f.move
}

func (f *fakeEngine) Evaluation(context.Context, string, int) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evalCalls++
	return f.eval
}

type fakePointer struct {
	mu        sync.Mutex
	drags     [][2]board.Point
	err       error
	positions []board.Point
	panics    bool
}

func (f *fakePointer) Drag(_ context.Context, from, to board.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drags = append(f.drags, [2]board.Point{from, to})
	return f.err
}

func (f *fakePointer) Position(context.Context) (board.Point, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics {
		panic("pointer helper crashed")
	}
	if len(f.positions) == 0 {
		return board.Point{}, errors.New("no position")
	}
	p := f.positions[0]
	f.positions = f.positions[1:]
	return p, nil
}

type recordingMapper struct {
	board.Mapper
	squares []string
}

func (m *recordingMapper) SquareCenter(sq board.Square, eff board.Rect, flipped bool) board.Point {
	m.squares = append(m.squares, sq.String())
	return m.Mapper.SquareCenter(sq, eff, flipped)
}

type fakeJournal struct {
	mu   sync.Mutex
	recs []domain.CycleRecord
}

func (j *fakeJournal) Record(_ context.Context, rec domain.CycleRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recs = append(j.recs, rec)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []feedproto.Event
}

func (p *fakePublisher) Publish(ev feedproto.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *fakePublisher) saw(state State, message string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ev := range p.events {
		if ev.State == state.String() && ev.Message == message {
			return true
		}
	}
	return false
}

func (p *fakePublisher) Last() feedproto.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

type harness struct {
	ctrl   *Controller
	rec    *fakeRecognizer
	engine *fakeEngine
	ptr    *fakePointer
	mapper *recordingMapper
	store  store.Store
	jrnl   *fakeJournal
	pub    *fakePublisher

	mu     sync.Mutex
	states []State
	sleeps []time.Duration
}

func newHarness(t *testing.T, cfg Config, rec *fakeRecognizer, st store.Store) *harness {
	t.Helper()
	if cfg.InitialBoard == nil {
		r := board.NewRect(0, 0, 800, 800)
		cfg.InitialBoard = &r
	}
	if st == nil {
		st = store.NewMemoryStore()
	}
	h := &harness{
		rec:    rec,
		engine: &fakeEngine{move: "e2e4", eval: 0.35},
		ptr:    &fakePointer{},
		mapper: &recordingMapper{},
		store:  st,
		jrnl:   &fakeJournal{},
		pub:    &fakePublisher{},
	}
	ctrl, err := New(cfg, Deps{
		Recognizer: rec,
		Engine:     h.engine,
		Pointer:    h.ptr,
		Mapper:     h.mapper,
		Store:      st,
		Journal:    h.jrnl,
		Publisher:  h.pub,
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.mu.Lock()
			h.sleeps = append(h.sleeps, d)
			h.mu.Unlock()
			return ctx.Err()
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctrl.OnTransition(func(_, to State) {
		h.mu.Lock()
		h.states = append(h.states, to)
		h.mu.Unlock()
	})
	h.ctrl = ctrl
	return h
}

func (h *harness) visited(s State) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, v := range h.states {
		if v == s {
			return true
		}
	}
	return false
}

func (h *harness) path() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	parts := make([]string, len(h.states))
	for i, s := range h.states {
		parts[i] = s.String()
	}
	return strings.Join(parts, ">")
}

func (h *harness) resetPath() {
	h.mu.Lock()
	h.states = nil
	h.mu.Unlock()
}

func autoConfig() Config {
	return Config{LocalColor: chess.White, Depth: 15, AutoRecognize: true, AutoPlay: true, HumanDelay: 200 * time.Millisecond}
}

func TestIdenticalPlacementNeverAnalyzes(t *testing.T) {
	st := store.NewMemoryStore()
	if err := st.SavePlacement(context.Background(), startPlacement); err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, autoConfig(), &fakeRecognizer{fens: []string{startFEN}}, st)
	ctx := context.Background()
	if err := h.ctrl.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := h.ctrl.Step(ctx); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	if h.visited(StateAnalyzing) || h.visited(StateAwaitingTurn) {
		t.Fatalf("unchanged placement reached %s", h.path())
	}
	if got := h.path(); got != "scanning>idle>scanning>idle" {
		t.Fatalf("path = %s", got)
	}
	if h.engine.bestCalls != 0 {
		t.Fatalf("engine called %d times", h.engine.bestCalls)
	}
}

func TestNotOurTurnSkipsEngine(t *testing.T) {
	h := newHarness(t, autoConfig(), &fakeRecognizer{fens: []string{afterE4FEN}}, nil)
	if err := h.ctrl.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := h.path(); got != "scanning>awaiting_turn>idle" {
		t.Fatalf("path = %s", got)
	}
	if h.engine.bestCalls != 0 || len(h.ptr.drags) != 0 {
		t.Fatalf("engine=%d drags=%d", h.engine.bestCalls, len(h.ptr.drags))
	}
	if h.ctrl.AcceptedPlacement() != "" {
		t.Fatalf("accepted placement moved to %q", h.ctrl.AcceptedPlacement())
	}
	if len(h.jrnl.recs) != 1 || h.jrnl.recs[0].Outcome != domain.OutcomeNotOurTurn {
		t.Fatalf("journal = %+v", h.jrnl.recs)
	}
}

func TestOurTurnExecutesAndAdvances(t *testing.T) {
	rec := &fakeRecognizer{fens: []string{startFEN, afterE4FEN}}
	h := newHarness(t, autoConfig(), rec, nil)
	ctx := context.Background()
	if err := h.ctrl.Step(ctx); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := h.path(); got != "scanning>awaiting_turn>analyzing>executing>cooldown>idle" {
		t.Fatalf("path = %s", got)
	}
	if strings.Join(h.mapper.squares, ",") != "e2,e4" {
		t.Fatalf("mapper squares = %v", h.mapper.squares)
	}
	want := [2]board.Point{{X: 450, Y: 650}, {X: 450, Y: 450}}
	if len(h.ptr.drags) != 1 || h.ptr.drags[0] != want {
		t.Fatalf("drags = %v", h.ptr.drags)
	}
	if h.ctrl.AcceptedPlacement() != afterE4 {
		t.Fatalf("accepted = %q", h.ctrl.AcceptedPlacement())
	}
	if saved, _ := h.store.LoadPlacement(ctx); saved != afterE4 {
		t.Fatalf("stored placement = %q", saved)
	}
	h.mu.Lock()
	sleeps := append([]time.Duration(nil), h.sleeps...)
	h.mu.Unlock()
	if len(sleeps) != 2 || sleeps[1] != DefaultSettle {
		t.Fatalf("sleeps = %v", sleeps)
	}
	if sleeps[0] < 150*time.Millisecond || sleeps[0] > 250*time.Millisecond {
		t.Fatalf("human delay = %v", sleeps[0])
	}
	if len(h.jrnl.recs) != 1 {
		t.Fatalf("journal = %+v", h.jrnl.recs)
	}
	r := h.jrnl.recs[0]
	if r.Outcome != domain.OutcomeExecuted || r.BestMove != "e2e4" || r.MoveSAN != "e4" || r.Evaluation == nil || *r.Evaluation != 0.35 {
		t.Fatalf("record = %+v", r)
	}
	if last := h.pub.Last(); last.BestMove != "e2e4" || last.State != "idle" {
		t.Fatalf("last event = %+v", last)
	}

	// The board now shows our own move: nothing to do.
	h.resetPath()
	if err := h.ctrl.Step(ctx); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := h.path(); got != "scanning>idle" {
		t.Fatalf("second path = %s", got)
	}
	if h.engine.bestCalls != 1 {
		t.Fatalf("engine calls = %d", h.engine.bestCalls)
	}
}

func TestFlippedBoardMapsMirrored(t *testing.T) {
	cfg := autoConfig()
	cfg.LocalColor = chess.Black
	cfg.Flipped = true
	h := newHarness(t, cfg, &fakeRecognizer{fens: []string{afterE4FEN}}, nil)
	h.engine.move = "e7e5"
	if err := h.ctrl.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	want := [2]board.Point{{X: 350, Y: 650}, {X: 350, Y: 450}}
	if len(h.ptr.drags) != 1 || h.ptr.drags[0] != want {
		t.Fatalf("drags = %v", h.ptr.drags)
	}
}

func TestEmptyMoveReturnsToIdle(t *testing.T) {
	h := newHarness(t, autoConfig(), &fakeRecognizer{fens: []string{startFEN}}, nil)
	h.engine.move = ""
	if err := h.ctrl.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := h.path(); got != "scanning>awaiting_turn>analyzing>idle" {
		t.Fatalf("path = %s", got)
	}
	if len(h.ptr.drags) != 0 || h.ctrl.AcceptedPlacement() != "" {
		t.Fatalf("empty move must not execute")
	}
}

func TestTickDropsOverlappingCycles(t *testing.T) {
	rec := &fakeRecognizer{fens: []string{afterE4FEN}, started: make(chan struct{}), block: make(chan struct{})}
	h := newHarness(t, autoConfig(), rec, nil)
	ctx := context.Background()
	if !h.ctrl.Tick(ctx) {
		t.Fatalf("first tick did not start")
	}
	<-rec.started
	if h.ctrl.Tick(ctx) {
		t.Fatalf("overlapping tick started")
	}
	if err := h.ctrl.Step(ctx); !errors.Is(err, ErrBusy) {
		t.Fatalf("Step = %v, want ErrBusy", err)
	}
	if _, err := h.ctrl.AnalyzeOnce(ctx); !errors.Is(err, ErrBusy) {
		t.Fatalf("AnalyzeOnce = %v, want ErrBusy", err)
	}
	close(rec.block)
	h.ctrl.Wait()
	if rec.Calls() != 1 {
		t.Fatalf("recognizer calls = %d", rec.Calls())
	}
	if !h.ctrl.Tick(ctx) {
		t.Fatalf("tick after completion did not start")
	}
	h.ctrl.Wait()
}

func TestTickRequiresAutoRecognize(t *testing.T) {
	cfg := autoConfig()
	cfg.AutoRecognize = false
	rec := &fakeRecognizer{fens: []string{startFEN}}
	h := newHarness(t, cfg, rec, nil)
	if h.ctrl.Tick(context.Background()) {
		t.Fatalf("tick started with recognition off")
	}
	h.ctrl.SetAutoRecognize(true)
	if !h.ctrl.Tick(context.Background()) {
		t.Fatalf("tick did not start")
	}
	h.ctrl.Wait()
	if rec.Calls() != 1 {
		t.Fatalf("calls = %d", rec.Calls())
	}
}

func TestRecognitionErrorBacksOff(t *testing.T) {
	cfg := autoConfig()
	cfg.Backoff = 1500 * time.Millisecond
	h := newHarness(t, cfg, &fakeRecognizer{err: errors.New("connection refused")}, nil)
	if err := h.ctrl.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if h.visited(StateFaulted) {
		t.Fatalf("recognition error faulted: %s", h.path())
	}
	if h.ctrl.State() != StateIdle {
		t.Fatalf("state = %s", h.ctrl.State())
	}
	if len(h.sleeps) != 1 || h.sleeps[0] != 1500*time.Millisecond {
		t.Fatalf("sleeps = %v", h.sleeps)
	}
	if len(h.jrnl.recs) != 0 {
		t.Fatalf("recognition failures are not journaled")
	}
}

func TestPanicFaultsThenIdle(t *testing.T) {
	h := newHarness(t, autoConfig(), &fakeRecognizer{panics: true}, nil)
	if err := h.ctrl.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := h.path(); got != "scanning>faulted>idle" {
		t.Fatalf("path = %s", got)
	}
	if len(h.jrnl.recs) != 1 || h.jrnl.recs[0].Outcome != domain.OutcomeFaulted || !strings.Contains(h.jrnl.recs[0].Error, "capture exploded") {
		t.Fatalf("journal = %+v", h.jrnl.recs)
	}
	// the loop keeps going
	if err := h.ctrl.Step(context.Background()); err != nil {
		t.Fatalf("Step after panic: %v", err)
	}
}

func TestDragFailureFaultsWithoutAdvancing(t *testing.T) {
	h := newHarness(t, autoConfig(), &fakeRecognizer{fens: []string{startFEN}}, nil)
	h.ptr.err = errors.New("xdotool missing")
	if err := h.ctrl.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := h.path(); got != "scanning>awaiting_turn>analyzing>executing>faulted>idle" {
		t.Fatalf("path = %s", got)
	}
	if h.ctrl.AcceptedPlacement() != "" {
		t.Fatalf("accepted advanced after failed drag")
	}
}

func TestMissingBoardFaults(t *testing.T) {
	h := newHarness(t, autoConfig(), &fakeRecognizer{fens: []string{startFEN}}, nil)
	h.ctrl.stab.Reset()
	if err := h.ctrl.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !h.visited(StateFaulted) || len(h.ptr.drags) != 0 {
		t.Fatalf("path = %s drags = %d", h.path(), len(h.ptr.drags))
	}
	if len(h.jrnl.recs) != 1 || !strings.Contains(h.jrnl.recs[0].Error, ErrNoBoard.Error()) {
		t.Fatalf("journal = %+v", h.jrnl.recs)
	}
	// nil catalog renders the key itself
	if !h.pub.saw(StateFaulted, "cycle.no_board") {
		t.Fatalf("missing board message not published")
	}
}

func TestAutoPlayDisabledUpdatesDisplayOnly(t *testing.T) {
	cfg := autoConfig()
	cfg.AutoPlay = false
	h := newHarness(t, cfg, &fakeRecognizer{fens: []string{startFEN}}, nil)
	if err := h.ctrl.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := h.path(); got != "scanning>idle" {
		t.Fatalf("path = %s", got)
	}
	last := h.pub.Last()
	if last.Placement != startPlacement || last.AutoPlay || last.SideToMove != "white" {
		t.Fatalf("display event = %+v", last)
	}
	if h.ctrl.AcceptedPlacement() != "" {
		t.Fatalf("display-only pass changed accepted placement")
	}
}

func TestDetectedBoardGoesThroughStabilizer(t *testing.T) {
	moved := board.NewRect(300, 300, 700, 700)
	rec := &fakeRecognizer{fens: []string{startFEN}, area: &moved}
	cfg := autoConfig()
	cfg.AutoPlay = false
	h := newHarness(t, cfg, rec, nil)
	ctx := context.Background()

	_ = h.ctrl.Step(ctx)
	if r, _ := h.ctrl.Board(); r == moved {
		t.Fatalf("dissimilar rectangle accepted on first sighting")
	}
	_ = h.ctrl.Step(ctx)
	if r, _ := h.ctrl.Board(); r != moved {
		t.Fatalf("rectangle not promoted after second sighting: %v", r)
	}

	h.ctrl.Lock(ctx)
	other := board.NewRect(0, 0, 200, 200)
	rec.area = &other
	_ = h.ctrl.Step(ctx)
	_ = h.ctrl.Step(ctx)
	if r, _ := h.ctrl.Board(); r != moved {
		t.Fatalf("locked board changed to %v", r)
	}
}

func TestCalibrateLocksAndPersists(t *testing.T) {
	h := newHarness(t, autoConfig(), &fakeRecognizer{fens: []string{startFEN}}, nil)
	h.ptr.positions = []board.Point{{X: 900, Y: 880}, {X: 100, Y: 80}}
	ctx := context.Background()
	r, err := h.ctrl.Calibrate(ctx)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if r != board.NewRect(100, 80, 900, 880) {
		t.Fatalf("rect = %v", r)
	}
	if got, _ := h.ctrl.Board(); got != r || !h.ctrl.stab.Locked() {
		t.Fatalf("board = %v locked = %v", got, h.ctrl.stab.Locked())
	}
	cal, err := h.store.LoadCalibration(ctx)
	if err != nil || cal == nil || cal.Board == nil || *cal.Board != r || !cal.Locked {
		t.Fatalf("stored calibration = %+v err = %v", cal, err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.sleeps) != 2 || h.sleeps[0] != time.Second || h.sleeps[1] != 2*time.Second {
		t.Fatalf("calibration waits = %v", h.sleeps)
	}
}

func TestAnalyzeOnceNeverExecutes(t *testing.T) {
	h := newHarness(t, autoConfig(), &fakeRecognizer{fens: []string{afterE4FEN}}, nil)
	h.engine.move = "e7e5"
	h.engine.eval = -0.2
	a, err := h.ctrl.AnalyzeOnce(context.Background())
	if err != nil {
		t.Fatalf("AnalyzeOnce: %v", err)
	}
	if a.BestMove != "e7e5" || a.MoveSAN != "e5" || a.Evaluation != -0.2 {
		t.Fatalf("analysis = %+v", a)
	}
	if len(h.ptr.drags) != 0 || h.ctrl.AcceptedPlacement() != "" {
		t.Fatalf("manual analysis executed a move")
	}
	if len(h.jrnl.recs) != 1 || h.jrnl.recs[0].Outcome != domain.OutcomeAnalyzed {
		t.Fatalf("journal = %+v", h.jrnl.recs)
	}
}

func TestApplyCommands(t *testing.T) {
	h := newHarness(t, autoConfig(), &fakeRecognizer{fens: []string{startFEN}}, nil)
	ctx := context.Background()
	off := false
	flipped := true
	dx, scale := 10.0, 0.5

	h.ctrl.Apply(ctx, feedproto.Command{Type: feedproto.CommandAuto, Enabled: &off})
	h.ctrl.Apply(ctx, feedproto.Command{Type: feedproto.CommandOrientation, Flipped: &flipped})
	h.ctrl.Apply(ctx, feedproto.Command{Type: feedproto.CommandAdjust, OffsetX: &dx, Scale: &scale})
	h.ctrl.Apply(ctx, feedproto.Command{Type: feedproto.CommandLock})

	eff, ok := h.ctrl.EffectiveBoard()
	if !ok || eff != board.NewRect(210, 200, 610, 600) {
		t.Fatalf("effective = %v", eff)
	}
	cal, _ := h.store.LoadCalibration(ctx)
	if cal == nil || !cal.Flipped || !cal.Locked || cal.Adjustment.OffsetX != 10 || cal.Adjustment.Scale != 0.5 {
		t.Fatalf("stored = %+v", cal)
	}
	last := h.pub.Last()
	if last.AutoPlay || !last.Flipped || !last.Locked {
		t.Fatalf("event = %+v", last)
	}

	h.ctrl.Apply(ctx, feedproto.Command{Type: feedproto.CommandAnalyze})
	h.ctrl.Wait()
	if h.engine.bestCalls != 1 {
		t.Fatalf("analyze command did not run: %d", h.engine.bestCalls)
	}
}

func TestRestoreFromRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.NewRedisStoreWithClient(rdb, "test")
	ctx := context.Background()

	saved := board.NewRect(50, 60, 850, 860)
	if err := st.SaveCalibration(ctx, &store.Calibration{Board: &saved, Locked: true, Adjustment: board.Adjustment{OffsetY: -4, Scale: 1}, Flipped: true}); err != nil {
		t.Fatal(err)
	}
	if err := st.SavePlacement(ctx, afterE4); err != nil {
		t.Fatal(err)
	}

	cfg := autoConfig()
	h := newHarness(t, cfg, &fakeRecognizer{fens: []string{afterE4FEN}}, st)
	// explicit BOARD_AREA wins over the stored rectangle
	if err := h.ctrl.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if r, _ := h.ctrl.Board(); r != board.NewRect(0, 0, 800, 800) {
		t.Fatalf("board = %v", r)
	}
	if !h.ctrl.stab.Locked() || h.ctrl.AcceptedPlacement() != afterE4 {
		t.Fatalf("lock/placement not restored")
	}

	c2, err := New(autoConfig(), Deps{Recognizer: h.rec, Engine: h.engine, Pointer: h.ptr, Store: st})
	if err != nil {
		t.Fatal(err)
	}
	if err := c2.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if r, _ := c2.Board(); r != saved {
		t.Fatalf("stored board not restored: %v", r)
	}
	if eff, _ := c2.EffectiveBoard(); eff != board.NewRect(50, 56, 850, 856) {
		t.Fatalf("effective = %v", eff)
	}
}

func TestRunTicksUntilCancelled(t *testing.T) {
	cfg := autoConfig()
	cfg.PollInterval = 5 * time.Millisecond
	rec := &fakeRecognizer{fens: []string{afterE4FEN}}
	h := newHarness(t, cfg, rec, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cmds := make(chan feedproto.Command, 1)
	done := make(chan error, 1)
	go func() { done <- h.ctrl.Run(ctx, cmds) }()

	deadline := time.Now().Add(2 * time.Second)
	for rec.Calls() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.Calls() < 2 {
		t.Fatalf("expected repeated ticks, got %d", rec.Calls())
	}
}

func TestUnknownSideToMoveNeverPlays(t *testing.T) {
	// placement only: nothing says whose turn it is
	h := newHarness(t, autoConfig(), &fakeRecognizer{fens: []string{afterE4}}, nil)
	if err := h.ctrl.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := h.path(); got != "scanning>awaiting_turn>idle" {
		t.Fatalf("path = %s", got)
	}
	if h.engine.bestCalls != 0 || len(h.ptr.drags) != 0 {
		t.Fatalf("engine=%d drags=%d", h.engine.bestCalls, len(h.ptr.drags))
	}
	if len(h.jrnl.recs) != 1 || h.jrnl.recs[0].Outcome != domain.OutcomeNotOurTurn || h.jrnl.recs[0].SideToMove != "" {
		t.Fatalf("journal = %+v", h.jrnl.recs)
	}
	if !h.pub.saw(StateIdle, "cycle.side_unknown") {
		t.Fatalf("unknown side message not published")
	}
}

func TestRepeatedNotOurTurnJournaledOnce(t *testing.T) {
	rec := &fakeRecognizer{fens: []string{afterE4FEN}}
	h := newHarness(t, autoConfig(), rec, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := h.ctrl.Step(ctx); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
	}
	if len(h.jrnl.recs) != 1 {
		t.Fatalf("journal rows = %d, want 1", len(h.jrnl.recs))
	}

	rec.mu.Lock()
	rec.fens = []string{"rnbqkbnr/pppppppp/8/8/3P4/8/PPP1PPPP/RNBQKBNR b KQkq - 0 1"}
	rec.mu.Unlock()
	if err := h.ctrl.Step(ctx); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if len(h.jrnl.recs) != 2 || h.engine.bestCalls != 0 {
		t.Fatalf("journal rows = %d engine = %d", len(h.jrnl.recs), h.engine.bestCalls)
	}
}

func TestCalibrationCommandWaitsForRunningCycle(t *testing.T) {
	rec := &fakeRecognizer{fens: []string{startFEN}, started: make(chan struct{}), block: make(chan struct{})}
	h := newHarness(t, autoConfig(), rec, nil)
	ctx := context.Background()
	if !h.ctrl.Tick(ctx) {
		t.Fatalf("tick did not start")
	}
	<-rec.started

	dx := 100.0
	h.ctrl.Apply(ctx, feedproto.Command{Type: feedproto.CommandAdjust, OffsetX: &dx})
	if eff, _ := h.ctrl.EffectiveBoard(); eff != board.NewRect(0, 0, 800, 800) {
		t.Fatalf("adjustment applied mid-cycle: %v", eff)
	}
	close(rec.block)
	h.ctrl.Wait()

	h.ptr.mu.Lock()
	drags := h.ptr.drags
	h.ptr.mu.Unlock()
	want := [2]board.Point{{X: 450, Y: 650}, {X: 450, Y: 450}}
	if len(drags) != 1 || drags[0] != want {
		t.Fatalf("drags = %v, want %v", drags, want)
	}
	if eff, _ := h.ctrl.EffectiveBoard(); eff != board.NewRect(100, 0, 900, 800) {
		t.Fatalf("queued adjustment not applied after the cycle: %v", eff)
	}
	cal, _ := h.store.LoadCalibration(ctx)
	if cal == nil || cal.Adjustment.OffsetX != 100 {
		t.Fatalf("stored = %+v", cal)
	}
}

func TestManualCommandsRecoverFromPanics(t *testing.T) {
	rec := &fakeRecognizer{panics: true}
	h := newHarness(t, autoConfig(), rec, nil)
	ctx := context.Background()

	if _, err := h.ctrl.AnalyzeOnce(ctx); err == nil || !strings.Contains(err.Error(), "capture exploded") {
		t.Fatalf("AnalyzeOnce err = %v", err)
	}
	if got := h.path(); got != "scanning>faulted>idle" {
		t.Fatalf("path = %s", got)
	}
	if len(h.jrnl.recs) != 1 || h.jrnl.recs[0].Outcome != domain.OutcomeFaulted {
		t.Fatalf("journal = %+v", h.jrnl.recs)
	}

	h.ctrl.Apply(ctx, feedproto.Command{Type: feedproto.CommandAnalyze})
	h.ctrl.Wait()
	if rec.Calls() != 2 {
		t.Fatalf("recognizer calls = %d", rec.Calls())
	}

	h.ptr.panics = true
	if _, err := h.ctrl.Calibrate(ctx); err == nil || !strings.Contains(err.Error(), "pointer helper crashed") {
		t.Fatalf("Calibrate err = %v", err)
	}
	if h.ctrl.State() != StateIdle {
		t.Fatalf("state = %s", h.ctrl.State())
	}
	// the slot was released
	if err := h.ctrl.Step(ctx); err != nil {
		t.Fatalf("Step after panics: %v", err)
	}
}
