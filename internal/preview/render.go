package preview

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/park285/chess-autopilot/internal/board"
	"github.com/park285/chess-autopilot/internal/capture"
)

const (
	DefaultMaxEdge  = 800
	CalibrationFile = "calibration-preview.png"
	MoveFile        = "move-preview.png"

	gridColor      = "#00e676"
	highlightColor = "#ffd400"
)

var labelColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// Overlay describes what to draw over the captured frame.
type Overlay struct {
	Board   board.Rect
	Flipped bool
	// Move highlights its from and to squares when set.
	Move *board.Move
}

// Render draws the board grid, square labels and move highlight over the frame
// and returns PNG bytes. The frame is downscaled so its longer edge fits maxEdge.
func Render(frame capture.Frame, ov Overlay, maxEdge int) ([]byte, error) {
	if !ov.Board.Valid() {
		return nil, board.ErrInvalidRectangle
	}
	if maxEdge <= 0 {
		maxEdge = DefaultMaxEdge
	}
	if frame.Image == nil {
		frame = blankFrame(ov.Board)
	}

	src := frame.Image
	sb := src.Bounds()
	scale := math.Min(1, float64(maxEdge)/float64(max(sb.Dx(), sb.Dy())))
	w := max(1, int(math.Round(float64(sb.Dx())*scale)))
	h := max(1, int(math.Round(float64(sb.Dy())*scale)))

	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	if scale == 1 {
		draw.Draw(canvas, canvas.Bounds(), src, sb.Min, draw.Src)
	} else {
		xdraw.ApproxBiLinear.Scale(canvas, canvas.Bounds(), src, sb, xdraw.Src, nil)
	}

	local := toLocal(ov.Board, frame.Origin, scale)
	icon, err := oksvg.ReadIconStream(strings.NewReader(overlaySVG(w, h, local, ov)))
	if err != nil {
		return nil, fmt.Errorf("parse overlay svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(w), float64(h))
	scanner := rasterx.NewScannerGV(w, h, canvas, canvas.Bounds())
	raster := rasterx.NewDasher(w, h, scanner)
	icon.Draw(raster, 1.0)

	drawLabels(canvas, local, ov.Flipped)
	return capture.EncodePNG(canvas)
}

// WriteFile stores a rendered preview under dir and returns its path.
func WriteFile(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create preview dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write preview: %w", err)
	}
	return path, nil
}

func blankFrame(r board.Rect) capture.Frame {
	margin := 16.0
	x0, y0 := int(math.Floor(r.TopLeft.X-margin)), int(math.Floor(r.TopLeft.Y-margin))
	x1, y1 := int(math.Ceil(r.BottomRight.X+margin)), int(math.Ceil(r.BottomRight.Y+margin))
	img := image.NewRGBA(image.Rect(0, 0, x1-x0, y1-y0))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{R: 32, G: 32, B: 32, A: 255}), image.Point{}, draw.Src)
	return capture.Frame{Image: img, Origin: board.Point{X: x0, Y: y0}}
}

func toLocal(r board.Rect, origin board.Point, scale float64) board.Rect {
	return board.NewRect(
		(r.TopLeft.X-float64(origin.X))*scale,
		(r.TopLeft.Y-float64(origin.Y))*scale,
		(r.BottomRight.X-float64(origin.X))*scale,
		(r.BottomRight.Y-float64(origin.Y))*scale,
	)
}

func overlaySVG(w, h int, local board.Rect, ov Overlay) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`, w, h, w, h)

	sw := local.Width() / 8
	sh := local.Height() / 8
	if ov.Move != nil {
		var m board.Mapper
		for _, sq := range []board.Square{ov.Move.From, ov.Move.To} {
			c := m.SquareCenter(sq, local, ov.Flipped)
			fmt.Fprintf(&sb, `<rect x="%.2f" y="%.2f" width="%.2f" height="%.2f" fill="%s" fill-opacity="0.45"/>`,
				float64(c.X)-sw/2, float64(c.Y)-sh/2, sw, sh, highlightColor)
		}
	}

	for i := 0; i <= 8; i++ {
		x := local.TopLeft.X + float64(i)*sw
		y := local.TopLeft.Y + float64(i)*sh
		width := 1.5
		if i == 0 || i == 8 {
			width = 3
		}
		fmt.Fprintf(&sb, `<path d="M%.2f %.2f L%.2f %.2f" fill="none" stroke="%s" stroke-width="%.1f"/>`,
			x, local.TopLeft.Y, x, local.BottomRight.Y, gridColor, width)
		fmt.Fprintf(&sb, `<path d="M%.2f %.2f L%.2f %.2f" fill="none" stroke="%s" stroke-width="%.1f"/>`,
			local.TopLeft.X, y, local.BottomRight.X, y, gridColor, width)
	}
	sb.WriteString(`</svg>`)
	return sb.String()
}

// drawLabels writes file letters inside the bottom row and rank digits inside the left column.
func drawLabels(dst draw.Image, local board.Rect, flipped bool) {
	face := basicfont.Face7x13
	drawer := &font.Drawer{Dst: dst, Src: image.NewUniform(labelColor), Face: face}
	sw := local.Width() / 8
	sh := local.Height() / 8
	if sw < 14 || sh < 14 {
		return
	}
	ascent := face.Metrics().Ascent.Ceil()

	for col := 0; col < 8; col++ {
		file := col
		if flipped {
			file = 7 - col
		}
		x := int(local.TopLeft.X+float64(col+1)*sw) - 10
		y := int(local.BottomRight.Y) - 4
		drawer.Dot = fixed.P(x, y)
		drawer.DrawString(string(rune('a' + file)))
	}
	for row := 0; row < 8; row++ {
		rank := 8 - row
		if flipped {
			rank = row + 1
		}
		x := int(local.TopLeft.X) + 4
		y := int(local.TopLeft.Y+float64(row)*sh) + ascent + 3
		drawer.Dot = fixed.P(x, y)
		drawer.DrawString(string(rune('0' + rank)))
	}
}
