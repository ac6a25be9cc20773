package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/park285/chess-autopilot/internal/chess"
	"github.com/park285/chess-autopilot/internal/chess/uci"
	"github.com/park285/chess-autopilot/internal/obslog"
	"github.com/park285/chess-autopilot/internal/recognizer"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func main() {
	fen := flag.String("fen", startFEN, "position to analyze")
	depth := flag.Int("depth", 12, "search depth")
	image := flag.String("image", "", "PNG screenshot to send to the recognition service")
	flag.Parse()

	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}

	failed := false
	path := os.Getenv("STOCKFISH_PATH")
	if path == "" {
		log.Println("STOCKFISH_PATH not set; skipping engine check")
	} else if !checkEngine(path, *fen, *depth) {
		failed = true
	}

	if *image != "" && !checkRecognizer(*image) {
		failed = true
	}
	if failed {
		os.Exit(1)
	}
}

func checkEngine(path, fen string, depth int) bool {
	client, err := uci.NewClient(uci.Config{BinaryPath: path, Logger: obslog.L()})
	if err != nil {
		log.Printf("engine config error: %v", err)
		return false
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Second)
	defer cancel()
	start := time.Now()
	if err := client.Start(ctx); err != nil {
		log.Printf("engine handshake error: %v (state=%s)", err, client.State())
		return false
	}
	log.Printf("engine ready in %s", time.Since(start).Round(time.Millisecond))

	a, err := client.Analyze(ctx, fen, depth)
	if err != nil {
		log.Printf("engine analyze error: %v", err)
		return false
	}
	san, _ := chess.MoveSAN(fen, a.BestMove)
	fmt.Printf("bestmove=%s san=%s eval=%+.2f depth=%d took=%s\n", a.BestMove, san, a.Evaluation(), depth, time.Since(start).Round(time.Millisecond))
	return a.BestMove != ""
}

func checkRecognizer(imagePath string) bool {
	raw, err := os.ReadFile(imagePath)
	if err != nil {
		log.Printf("read image: %v", err)
		return false
	}
	client := recognizer.NewClient(os.Getenv("FEN_API_URL"), recognizer.WithLogger(obslog.L()))
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	resp, err := client.Detect(ctx, recognizer.Request{ImageBase64: base64.StdEncoding.EncodeToString(raw)})
	if err != nil {
		log.Printf("%s error: %v", client.URL(), err)
		return false
	}
	side, _ := chess.SideToMove(resp.FEN)
	fmt.Printf("fen=%s side=%s\n", resp.FEN, side)
	if resp.BoardArea != nil {
		fmt.Printf("boardArea=%s\n", resp.BoardArea)
	}
	return true
}
