package board

import (
	"context"
	"fmt"
	"time"
)

// PointerReader reports the current mouse position.
type PointerReader interface {
	Position(ctx context.Context) (Point, error)
}

// ManualCalibration captures the board by sampling the pointer twice:
// first over the top-left corner, then over the bottom-right corner.
type ManualCalibration struct {
	FirstWait  time.Duration
	SecondWait time.Duration
	// OnPrompt is called before each wait with "top_left" or "bottom_right".
	OnPrompt func(corner string)
	Sleep    func(ctx context.Context, d time.Duration) error
}

func DefaultManualCalibration() ManualCalibration {
	return ManualCalibration{FirstWait: time.Second, SecondWait: 2 * time.Second}
}

// Run performs both samples and returns the normalized rectangle.
func (m ManualCalibration) Run(ctx context.Context, pr PointerReader) (Rect, error) {
	sleep := m.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	first, err := m.sample(ctx, pr, sleep, "top_left", m.FirstWait)
	if err != nil {
		return Rect{}, err
	}
	second, err := m.sample(ctx, pr, sleep, "bottom_right", m.SecondWait)
	if err != nil {
		return Rect{}, err
	}

	r := NewRect(float64(first.X), float64(first.Y), float64(second.X), float64(second.Y))
	if !r.Valid() {
		return Rect{}, fmt.Errorf("%w: corners %s and %s", ErrInvalidRectangle, first, second)
	}
	return r, nil
}

func (m ManualCalibration) sample(ctx context.Context, pr PointerReader, sleep func(context.Context, time.Duration) error, corner string, wait time.Duration) (Point, error) {
	if m.OnPrompt != nil {
		m.OnPrompt(corner)
	}
	if err := sleep(ctx, wait); err != nil {
		return Point{}, err
	}
	p, err := pr.Position(ctx)
	if err != nil {
		return Point{}, fmt.Errorf("read %s corner: %w", corner, err)
	}
	return p, nil
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
