package uci

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

const eventBuffer = 64

var errSessionClosed = errors.New("engine session closed")

// EventKind classifies a line read from the engine.
type EventKind int

const (
	// EventIdentified is the engine's uciok.
	EventIdentified EventKind = iota + 1
	// EventHandshakeComplete is readyok.
	EventHandshakeComplete
	// EventEvaluation is an info line carrying a score.
	EventEvaluation
	// EventBestMove terminates a search.
	EventBestMove
)

func (k EventKind) String() string {
	switch k {
	case EventIdentified:
		return "identified"
	case EventHandshakeComplete:
		return "handshake_complete"
	case EventEvaluation:
		return "evaluation"
	case EventBestMove:
		return "best_move"
	}
	return "unknown"
}

// Score is a search score from the side to move's point of view.
type Score struct {
	Centipawns int
	Mate       int
	IsMate     bool
}

// Pawns converts the score to pawn units; forced mates map to ±MateScoreSentinel.
func (s Score) Pawns() float64 {
	if s.IsMate {
		if s.Mate > 0 {
			return MateScoreSentinel
		}
		return -MateScoreSentinel
	}
	return float64(s.Centipawns) / 100
}

type Event struct {
	Kind  EventKind
	Move  string
	Score Score
	// HasScore marks a best-move event carrying the search's last reported score.
	HasScore bool
	Depth    int
	Line     string
}

// Session is one engine process (or any line-oriented peer) with its output
// decoded into typed events.
type Session struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	events chan Event

	mu        sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
}

// StartProcess launches the engine binary. The process lives until Close.
func StartProcess(binaryPath string) (*Session, error) {
	cmd := exec.Command(binaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutPipe.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	s := newSession(stdin, stdoutPipe)
	s.cmd = cmd
	go s.readLoop()
	return s, nil
}

// NewSession wraps an already connected engine transport.
func NewSession(stdin io.WriteCloser, stdout io.Reader) *Session {
	s := newSession(stdin, stdout)
	go s.readLoop()
	return s
}

func newSession(stdin io.WriteCloser, stdout io.Reader) *Session {
	return &Session{
		stdin:  stdin,
		stdout: stdout,
		events: make(chan Event, eventBuffer),
		closed: make(chan struct{}),
	}
}

// Events is closed once the engine output ends.
func (s *Session) Events() <-chan Event { return s.events }

func (s *Session) Send(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closed:
		return errSessionClosed
	default:
	}
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	_, err := io.WriteString(s.stdin, line)
	return err
}

func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.closed)
		if s.stdin != nil {
			s.stdin.Close()
		}
		s.mu.Unlock()

		if s.cmd == nil {
			if c, ok := s.stdout.(io.Closer); ok {
				c.Close()
			}
			return
		}
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		err = s.cmd.Wait()
	})
	return err
}

func (s *Session) readLoop() {
	defer close(s.events)
	sc := bufio.NewScanner(s.stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var last Score
	var hasLast bool
	for sc.Scan() {
		ev, ok := ParseLine(sc.Text())
		if !ok {
			continue
		}
		switch ev.Kind {
		case EventEvaluation:
			last, hasLast = ev.Score, true
		case EventBestMove:
			ev.Score, ev.HasScore = last, hasLast
			last, hasLast = Score{}, false
		}
		if ev.Kind == EventEvaluation {
			// info lines may be dropped when the buffer is full; bestmove repeats the last score
			select {
			case s.events <- ev:
			case <-s.closed:
				return
			default:
			}
			continue
		}
		select {
		case s.events <- ev:
		case <-s.closed:
			return
		}
	}
}

// ParseLine decodes one engine output line. Lines that carry nothing the
// client acts on report false.
func ParseLine(raw string) (Event, bool) {
	line := strings.TrimSpace(raw)
	switch {
	case line == "uciok":
		return Event{Kind: EventIdentified, Line: line}, true
	case line == "readyok":
		return Event{Kind: EventHandshakeComplete, Line: line}, true
	case strings.HasPrefix(line, "bestmove"):
		parts := strings.Fields(line)
		ev := Event{Kind: EventBestMove, Line: line}
		if len(parts) >= 2 && parts[1] != "(none)" && parts[1] != "0000" {
			ev.Move = parts[1]
		}
		return ev, true
	case strings.HasPrefix(line, "info "):
		return parseInfo(line)
	}
	return Event{}, false
}

func parseInfo(line string) (Event, bool) {
	parts := strings.Fields(line)
	ev := Event{Kind: EventEvaluation, Line: line}
	var scored bool
	for i := 1; i < len(parts); i++ {
		switch parts[i] {
		case "string":
			return Event{}, false
		case "multipv":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil && v != 1 {
					return Event{}, false
				}
				i++
			}
		case "depth":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil {
					ev.Depth = v
				}
				i++
			}
		case "score":
			if i+2 < len(parts) {
				v, err := strconv.Atoi(parts[i+2])
				if err == nil {
					switch parts[i+1] {
					case "cp":
						ev.Score = Score{Centipawns: v}
						scored = true
					case "mate":
						ev.Score = Score{Mate: v, IsMate: true}
						scored = true
					}
				}
				i += 2
			}
		case "pv":
			i = len(parts)
		}
	}
	return ev, scored
}

func buildPositionCommand(fen string) string {
	if strings.TrimSpace(fen) == "" || fen == "startpos" {
		return "position startpos"
	}
	return "position fen " + strings.TrimSpace(fen)
}

func buildGoCommand(depth int) string {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return "go depth " + strconv.Itoa(depth)
}
