package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"

	"github.com/kbinani/screenshot"

	"github.com/park285/chess-autopilot/internal/board"
)

var errNoDisplay = errors.New("no active display")

// Frame is a captured screen region; Origin is the screen position of pixel (0,0).
type Frame struct {
	Image  image.Image
	Origin board.Point
}

// Bounds returns the frame's extent in screen coordinates.
func (f Frame) Bounds() board.Rect {
	if f.Image == nil {
		return board.Rect{}
	}
	b := f.Image.Bounds()
	return board.NewRect(
		float64(f.Origin.X), float64(f.Origin.Y),
		float64(f.Origin.X+b.Dx()), float64(f.Origin.Y+b.Dy()),
	)
}

// Screen grabs pixels from the attached displays.
type Screen struct {
	grab   func(image.Rectangle) (*image.RGBA, error)
	bounds func() (image.Rectangle, error)
}

func NewScreen() *Screen {
	return &Screen{grab: screenshot.CaptureRect, bounds: desktopBounds}
}

// Capture grabs area, or every display when area is nil.
func (s *Screen) Capture(ctx context.Context, area *board.Rect) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	desktop, err := s.bounds()
	if err != nil {
		return Frame{}, err
	}
	target := desktop
	if area != nil {
		target = pixelRect(*area).Intersect(desktop)
		if target.Empty() {
			return Frame{}, fmt.Errorf("%w: %s lies off screen", board.ErrInvalidRectangle, area)
		}
	}
	img, err := s.grab(target)
	if err != nil {
		return Frame{}, fmt.Errorf("capture %v: %w", target, err)
	}
	return Frame{Image: img, Origin: board.Point{X: target.Min.X, Y: target.Min.Y}}, nil
}

func desktopBounds() (image.Rectangle, error) {
	n := screenshot.NumActiveDisplays()
	if n <= 0 {
		return image.Rectangle{}, errNoDisplay
	}
	var all image.Rectangle
	for i := 0; i < n; i++ {
		all = all.Union(screenshot.GetDisplayBounds(i))
	}
	return all, nil
}

// pixelRect rounds outward so the whole board stays inside the capture.
func pixelRect(r board.Rect) image.Rectangle {
	return image.Rect(
		int(math.Floor(r.TopLeft.X)), int(math.Floor(r.TopLeft.Y)),
		int(math.Ceil(r.BottomRight.X)), int(math.Ceil(r.BottomRight.Y)),
	)
}

// EncodePNG returns the frame as PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeBase64PNG is EncodePNG wrapped for JSON transport.
func EncodeBase64PNG(img image.Image) (string, error) {
	raw, err := EncodePNG(img)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
