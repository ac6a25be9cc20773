package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeEngine answers client commands over in-memory pipes.
type fakeEngine struct {
	mu       sync.Mutex
	commands []string
	handle   func(cmd string, w io.Writer)
}

func (f *fakeEngine) launch() (*Session, error) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	go func() {
		defer outW.Close()
		sc := bufio.NewScanner(inR)
		for sc.Scan() {
			cmd := sc.Text()
			f.mu.Lock()
			f.commands = append(f.commands, cmd)
			f.mu.Unlock()
			if f.handle != nil {
				f.handle(cmd, outW)
			}
		}
	}()
	return NewSession(inW, outR), nil
}

func (f *fakeEngine) seen(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.commands {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func standardHandler(goReply string) func(string, io.Writer) {
	return func(cmd string, w io.Writer) {
		switch {
		case cmd == "uci":
			io.WriteString(w, "id name Fake\nuciok\n")
		case cmd == "isready":
			io.WriteString(w, "readyok\n")
		case strings.HasPrefix(cmd, "go"):
			if goReply != "" {
				io.WriteString(w, goReply)
			}
		}
	}
}

func testConfig() Config {
	return Config{HandshakeTimeout: 100 * time.Millisecond, SearchTimeout: 150 * time.Millisecond}
}

func TestBestMoveAndEvaluation(t *testing.T) {
	fe := &fakeEngine{handle: standardHandler("info depth 12 score cp 35 pv e2e4 e7e5\nbestmove e2e4 ponder e7e5\n")}
	c := NewClientWithLauncher(testConfig(), fe.launch)
	defer c.Close()

	ctx := context.Background()
	fen := "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
	if got := c.BestMove(ctx, fen, 12); got != "e2e4" {
		t.Fatalf("best move = %q", got)
	}
	if got := c.Evaluation(ctx, fen, 12); got != 0.35 {
		t.Fatalf("evaluation = %v", got)
	}
	if c.State() != StateReady {
		t.Fatalf("state = %v", c.State())
	}
	if !fe.seen("position fen " + fen) {
		t.Fatalf("position command not sent")
	}
	if !fe.seen("go depth 12") {
		t.Fatalf("go command not sent")
	}
	if !fe.seen("setoption name Threads value 1") {
		t.Fatalf("threads option not applied")
	}
}

func TestEvaluationMateSentinel(t *testing.T) {
	cases := map[string]float64{
		"info depth 9 score mate 3 pv h5f7\nbestmove h5f7\n":  MateScoreSentinel,
		"info depth 9 score mate -2 pv g1h1\nbestmove g1h1\n": -MateScoreSentinel,
	}
	for reply, want := range cases {
		fe := &fakeEngine{handle: standardHandler(reply)}
		c := NewClientWithLauncher(testConfig(), fe.launch)
		if got := c.Evaluation(context.Background(), "startpos", 9); got != want {
			t.Fatalf("evaluation for %q = %v, want %v", reply, got, want)
		}
		c.Close()
	}
}

func TestNoLegalMoveYieldsEmpty(t *testing.T) {
	fe := &fakeEngine{handle: standardHandler("info depth 0 score mate 0\nbestmove (none)\n")}
	c := NewClientWithLauncher(testConfig(), fe.launch)
	defer c.Close()
	if got := c.BestMove(context.Background(), "startpos", 5); got != "" {
		t.Fatalf("best move = %q, want empty", got)
	}
}

func TestHandshakeFailsAfterOneRestart(t *testing.T) {
	var launches int
	fe := &fakeEngine{}
	launch := func() (*Session, error) {
		launches++
		return fe.launch()
	}
	c := NewClientWithLauncher(testConfig(), launch)

	err := c.Start(context.Background())
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
	if launches != 2 {
		t.Fatalf("launches = %d, want 2", launches)
	}
	if c.State() != StateFailed {
		t.Fatalf("state = %v, want failed", c.State())
	}
	if got := c.BestMove(context.Background(), "startpos", 5); got != "" {
		t.Fatalf("best move from failed engine = %q", got)
	}
}

func TestHandshakeRecoversOnRestart(t *testing.T) {
	var launches int
	silent := &fakeEngine{}
	healthy := &fakeEngine{handle: standardHandler("bestmove d2d4\n")}
	launch := func() (*Session, error) {
		launches++
		if launches == 1 {
			return silent.launch()
		}
		return healthy.launch()
	}
	c := NewClientWithLauncher(testConfig(), launch)
	defer c.Close()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if launches != 2 || c.State() != StateReady {
		t.Fatalf("launches=%d state=%v", launches, c.State())
	}
	if got := c.BestMove(context.Background(), "startpos", 3); got != "d2d4" {
		t.Fatalf("best move = %q", got)
	}
}

func TestLaunchErrorCountsAsAttempt(t *testing.T) {
	var launches int
	c := NewClientWithLauncher(testConfig(), func() (*Session, error) {
		launches++
		return nil, fmt.Errorf("exec: not found")
	})
	if err := c.Start(context.Background()); !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
	if launches != 2 {
		t.Fatalf("launches = %d", launches)
	}
}

func TestSearchTimeoutReturnsEmpty(t *testing.T) {
	fe := &fakeEngine{handle: standardHandler("")}
	c := NewClientWithLauncher(testConfig(), fe.launch)
	defer c.Close()

	start := time.Now()
	got := c.BestMove(context.Background(), "startpos", 30)
	elapsed := time.Since(start)
	if got != "" {
		t.Fatalf("best move = %q, want empty", got)
	}
	if elapsed < 150*time.Millisecond {
		t.Fatalf("returned before search timeout: %v", elapsed)
	}
	if !fe.seen("stop") {
		t.Fatalf("stop not sent after timeout")
	}
}

func TestNewGameResetsEngine(t *testing.T) {
	fe := &fakeEngine{handle: standardHandler("bestmove d2d4\n")}
	c := NewClientWithLauncher(testConfig(), fe.launch)
	defer c.Close()

	ctx := context.Background()
	if err := c.NewGame(ctx); err != nil {
		t.Fatalf("NewGame: %v", err)
	}
	if !fe.seen("ucinewgame") {
		t.Fatalf("ucinewgame not sent")
	}
	if c.State() != StateReady {
		t.Fatalf("state = %v", c.State())
	}
	if got := c.BestMove(ctx, "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1", 8); got != "d2d4" {
		t.Fatalf("best move after reset = %q", got)
	}
}

func TestBestMoveCarriesLatestScoreWhenInfoOverflows(t *testing.T) {
	inR, inW := io.Pipe()
	defer inR.Close()
	outR, outW := io.Pipe()
	s := NewSession(inW, outR)
	defer s.Close()

	// nobody reads while the engine floods info lines
	written := make(chan struct{})
	go func() {
		defer close(written)
		var b strings.Builder
		for i := 1; i <= eventBuffer*3; i++ {
			fmt.Fprintf(&b, "info depth %d score cp %d pv e2e4\n", i, i)
		}
		b.WriteString("bestmove e2e4\n")
		io.WriteString(outW, b.String())
	}()
	<-written
	defer outW.Close()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case <-timeout:
			t.Fatalf("no bestmove event")
		case ev, ok := <-s.Events():
			if !ok {
				t.Fatalf("events closed before bestmove")
			}
			if ev.Kind != EventBestMove {
				continue
			}
			if !ev.HasScore || ev.Score.Centipawns != eventBuffer*3 {
				t.Fatalf("bestmove score = %+v has=%v", ev.Score, ev.HasScore)
			}
			return
		}
	}
}

func TestParseLine(t *testing.T) {
	if ev, ok := ParseLine("info depth 20 seldepth 28 multipv 1 score cp -48 nodes 100 pv c7c5"); !ok || ev.Score.Centipawns != -48 || ev.Depth != 20 {
		t.Fatalf("unexpected info parse: %+v %v", ev, ok)
	}
	if _, ok := ParseLine("info depth 20 multipv 2 score cp 10 pv a2a3"); ok {
		t.Fatalf("secondary pv should be ignored")
	}
	if _, ok := ParseLine("info string NNUE enabled"); ok {
		t.Fatalf("info string should be ignored")
	}
	if ev, ok := ParseLine("bestmove e7e8q ponder a1a2"); !ok || ev.Move != "e7e8q" {
		t.Fatalf("unexpected bestmove parse: %+v", ev)
	}
	if _, ok := ParseLine("id author someone"); ok {
		t.Fatalf("id line should be ignored")
	}
}

func TestBuildCommands(t *testing.T) {
	if got := buildPositionCommand(""); got != "position startpos" {
		t.Fatalf("position = %q", got)
	}
	if got := buildGoCommand(0); got != "go depth 15" {
		t.Fatalf("go = %q", got)
	}
	cmds := optionCommands(Options{Threads: 2, HashMB: 64, Extra: map[string]string{"UCI_ShowWDL": "false", "MultiPV": "1"}})
	want := []string{
		"setoption name Threads value 2",
		"setoption name Hash value 64",
		"setoption name MultiPV value 1",
		"setoption name UCI_ShowWDL value false",
	}
	if strings.Join(cmds, "|") != strings.Join(want, "|") {
		t.Fatalf("options = %v", cmds)
	}
}
