package recognizer

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/board"
	"github.com/park285/chess-autopilot/internal/capture"
)

const debugImageName = "recognizer-debug.png"

// Capturer grabs a screen region, or the whole desktop when area is nil.
type Capturer interface {
	Capture(ctx context.Context, area *board.Rect) (capture.Frame, error)
}

// Detector turns an encoded image into a position.
type Detector interface {
	Detect(ctx context.Context, req Request) (Response, error)
}

// Result is one recognition pass: the service answer plus the frame it saw.
type Result struct {
	Response
	Frame capture.Frame
}

// Recognizer captures the screen and asks the service what position it shows.
type Recognizer struct {
	capture  Capturer
	detector Detector
	debugDir string
	logger   *zap.Logger
}

func New(c Capturer, d Detector, debugDir string, logger *zap.Logger) *Recognizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recognizer{capture: c, detector: d, debugDir: strings.TrimSpace(debugDir), logger: logger.Named("recognizer")}
}

// Recognize captures area (the full screen when nil) and returns the snapshot.
// Board coordinates in the result are screen coordinates.
func (r *Recognizer) Recognize(ctx context.Context, area *board.Rect) (Result, error) {
	frame, err := r.capture.Capture(ctx, area)
	if err != nil {
		return Result{}, fmt.Errorf("capture: %w", err)
	}
	encoded, err := capture.EncodeBase64PNG(frame.Image)
	if err != nil {
		return Result{}, err
	}

	resp, err := r.detector.Detect(ctx, Request{ImageBase64: encoded, BoardArea: area})
	if err != nil {
		return Result{Frame: frame}, err
	}
	if resp.DebugImageBase64 != "" {
		r.writeDebugImage(resp.DebugImageBase64)
	}
	// the service reports the board in the captured image's pixels
	if resp.BoardArea != nil {
		abs := toScreen(*resp.BoardArea, frame.Origin)
		resp.BoardArea = &abs
	}
	return Result{Response: resp, Frame: frame}, nil
}

func toScreen(r board.Rect, origin board.Point) board.Rect {
	dx, dy := float64(origin.X), float64(origin.Y)
	return board.NewRect(r.TopLeft.X+dx, r.TopLeft.Y+dy, r.BottomRight.X+dx, r.BottomRight.Y+dy)
}

func (r *Recognizer) writeDebugImage(encoded string) {
	if r.debugDir == "" {
		return
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		r.logger.Debug("recognizer_debug_image_invalid", zap.Error(err))
		return
	}
	if err := os.MkdirAll(r.debugDir, 0o755); err != nil {
		r.logger.Warn("recognizer_debug_dir", zap.Error(err))
		return
	}
	path := filepath.Join(r.debugDir, debugImageName)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		r.logger.Warn("recognizer_debug_write", zap.String("path", path), zap.Error(err))
	}
}
