package uci

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultDepth            = 15
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultSearchTimeout    = 30 * time.Second

	// MateScoreSentinel is the pawn value reported for a forced mate.
	MateScoreSentinel = 100.0

	handshakeAttempts = 2
)

// ErrEngineUnavailable means the engine could not be brought to a ready state.
var ErrEngineUnavailable = errors.New("engine unavailable")

var errSearchTimeout = errors.New("search timed out")

// State is the lifecycle of the client's engine session.
type State int32

const (
	StateUninitialized State = iota
	StateHandshakePending
	StateReady
	StateBusy
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateHandshakePending:
		return "handshake_pending"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

type Options struct {
	Threads int
	HashMB  int
	// Extra holds additional setoption pairs, applied in name order.
	Extra map[string]string
}

type Config struct {
	BinaryPath       string
	Options          Options
	HandshakeTimeout time.Duration
	SearchTimeout    time.Duration
	Logger           *zap.Logger
}

// Launcher starts a fresh engine session.
type Launcher func() (*Session, error)

// Analysis is the outcome of one search.
type Analysis struct {
	BestMove string
	Score    Score
	HasScore bool
}

// Evaluation returns the score in pawns, or 0 when none was reported.
func (a Analysis) Evaluation() float64 {
	if !a.HasScore {
		return 0
	}
	return a.Score.Pawns()
}

// Client owns a single engine session and serializes queries against it.
// A failed handshake relaunches the session once before giving up.
type Client struct {
	cfg    Config
	launch Launcher
	logger *zap.Logger

	mu          sync.Mutex
	session     *Session
	pendingStop bool
	state       atomic.Int32
}

// NewClient builds a client that launches cfg.BinaryPath on first use.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BinaryPath == "" {
		return nil, fmt.Errorf("binary path required")
	}
	c := NewClientWithLauncher(cfg, func() (*Session, error) {
		return StartProcess(cfg.BinaryPath)
	})
	if _, err := os.Stat(cfg.BinaryPath); err != nil {
		c.logger.Warn("engine_binary_missing", zap.String("path", cfg.BinaryPath), zap.Error(err))
	}
	return c, nil
}

// NewClientWithLauncher uses launch instead of spawning a process.
func NewClientWithLauncher(cfg Config, launch Launcher) *Client {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = DefaultSearchTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, launch: launch, logger: logger.Named("uci")}
}

func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev != s {
		c.logger.Debug("engine_state", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}

// Start performs the handshake eagerly.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handshakeWithRestart(ctx)
}

// BestMove returns the engine's move in coordinate notation, or "" when the
// engine is unavailable, the search times out, or no legal move exists.
func (c *Client) BestMove(ctx context.Context, fen string, depth int) string {
	a, err := c.Analyze(ctx, fen, depth)
	if err != nil {
		c.logger.Warn("engine_best_move_failed", zap.String("fen", fen), zap.Error(err))
		return ""
	}
	return a.BestMove
}

// Evaluation returns the score in pawns for the side to move, or 0 when unavailable.
func (c *Client) Evaluation(ctx context.Context, fen string, depth int) float64 {
	a, err := c.Analyze(ctx, fen, depth)
	if err != nil {
		c.logger.Warn("engine_evaluation_failed", zap.String("fen", fen), zap.Error(err))
		return 0
	}
	return a.Evaluation()
}

// Analyze runs one depth-limited search.
func (c *Client) Analyze(ctx context.Context, fen string, depth int) (Analysis, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureReady(ctx); err != nil {
		return Analysis{}, err
	}

	s := c.session
	c.setState(StateBusy)
	defer func() {
		if c.State() == StateBusy {
			c.setState(StateReady)
		}
	}()

	if err := s.Send(buildPositionCommand(fen)); err != nil {
		c.dropSession()
		return Analysis{}, fmt.Errorf("send position: %w", err)
	}
	goCmd := buildGoCommand(depth)
	if err := s.Send(goCmd); err != nil {
		c.dropSession()
		return Analysis{}, fmt.Errorf("send go: %w", err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, c.cfg.SearchTimeout)
	defer cancel()

	var result Analysis
	for {
		select {
		case <-searchCtx.Done():
			_ = s.Send("stop")
			c.pendingStop = true
			c.logger.Warn("engine_search_timeout", zap.String("go", goCmd), zap.Duration("timeout", c.cfg.SearchTimeout))
			if ctx.Err() != nil {
				return Analysis{}, ctx.Err()
			}
			return Analysis{}, errSearchTimeout
		case ev, ok := <-s.Events():
			if !ok {
				c.dropSession()
				return Analysis{}, errSessionClosed
			}
			switch ev.Kind {
			case EventEvaluation:
				result.Score = ev.Score
				result.HasScore = true
			case EventBestMove:
				result.BestMove = ev.Move
				if ev.HasScore {
					result.Score, result.HasScore = ev.Score, true
				}
				return result, nil
			}
		}
	}
}

// NewGame clears engine state between unrelated positions.
func (c *Client) NewGame(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureReady(ctx); err != nil {
		return err
	}
	if err := c.session.Send("ucinewgame"); err != nil {
		c.dropSession()
		return fmt.Errorf("send ucinewgame: %w", err)
	}
	return c.ping(ctx, c.session)
}

// Close asks the engine to quit and tears the session down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		c.setState(StateUninitialized)
		return nil
	}
	_ = c.session.Send("quit")
	err := c.session.Close()
	c.session = nil
	c.setState(StateUninitialized)
	return err
}

func (c *Client) ensureReady(ctx context.Context) error {
	if c.session != nil && c.State() == StateReady {
		err := c.settle(ctx, c.session)
		if err == nil {
			return nil
		}
		c.logger.Warn("engine_ready_check_failed", zap.Error(err))
		c.dropSession()
	}
	return c.handshakeWithRestart(ctx)
}

// settle drains a search abandoned by timeout, then confirms readiness.
func (c *Client) settle(ctx context.Context, s *Session) error {
	if c.pendingStop {
		waitCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
		_, err := await(waitCtx, s, EventBestMove)
		cancel()
		if err != nil {
			return fmt.Errorf("drain stopped search: %w", err)
		}
		c.pendingStop = false
	}
	return c.ping(ctx, s)
}

func (c *Client) handshakeWithRestart(ctx context.Context) error {
	c.setState(StateHandshakePending)
	var lastErr error
	for attempt := 1; attempt <= handshakeAttempts; attempt++ {
		if attempt > 1 {
			c.logger.Warn("engine_restart", zap.Int("attempt", attempt), zap.Error(lastErr))
		}
		if c.session == nil {
			s, err := c.launch()
			if err != nil {
				lastErr = err
				continue
			}
			c.session = s
			c.pendingStop = false
		}
		if err := c.handshake(ctx, c.session); err != nil {
			lastErr = err
			c.dropSession()
			if ctx.Err() != nil {
				break
			}
			continue
		}
		c.setState(StateReady)
		c.logger.Info("engine_ready", zap.Int("attempt", attempt))
		return nil
	}
	c.setState(StateFailed)
	c.logger.Error("engine_unavailable", zap.Error(lastErr))
	return fmt.Errorf("%w: %v", ErrEngineUnavailable, lastErr)
}

func (c *Client) handshake(ctx context.Context, s *Session) error {
	initCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	if err := s.Send("uci"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	if _, err := await(initCtx, s, EventIdentified); err != nil {
		return fmt.Errorf("wait uciok: %w", err)
	}
	for _, cmd := range optionCommands(c.cfg.Options) {
		if err := s.Send(cmd); err != nil {
			return fmt.Errorf("apply options: %w", err)
		}
	}
	if err := s.Send("isready"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if _, err := await(initCtx, s, EventHandshakeComplete); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

func (c *Client) ping(ctx context.Context, s *Session) error {
	readyCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()
	if err := s.Send("isready"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if _, err := await(readyCtx, s, EventHandshakeComplete); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

func (c *Client) dropSession() {
	if c.session != nil {
		_ = c.session.Close()
		c.session = nil
	}
	c.pendingStop = false
	c.setState(StateUninitialized)
}

func await(ctx context.Context, s *Session, kind EventKind) (Event, error) {
	for {
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case ev, ok := <-s.Events():
			if !ok {
				return Event{}, errSessionClosed
			}
			if ev.Kind == kind {
				return ev, nil
			}
		}
	}
}

func optionCommands(opt Options) []string {
	threads := opt.Threads
	if threads <= 0 {
		threads = 1
	}
	cmds := []string{"setoption name Threads value " + strconv.Itoa(threads)}
	if opt.HashMB > 0 {
		cmds = append(cmds, "setoption name Hash value "+strconv.Itoa(opt.HashMB))
	}
	names := make([]string, 0, len(opt.Extra))
	for name := range opt.Extra {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cmds = append(cmds, "setoption name "+name+" value "+opt.Extra[name])
	}
	return cmds
}
