package store

import (
    "context"
    "time"

    "github.com/park285/chess-autopilot/internal/board"
)

// Calibration is the persisted board geometry.
type Calibration struct {
    Board      *board.Rect      `json:"board,omitempty"`
    Locked     bool             `json:"locked"`
    Adjustment board.Adjustment `json:"adjustment"`
    Flipped    bool             `json:"flipped"`
    UpdatedAt  time.Time        `json:"updatedAt"`
}

// Store keeps calibration and the last accepted placement across restarts.
// Loads return nil / "" when nothing was saved.
type Store interface {
    LoadCalibration(ctx context.Context) (*Calibration, error)
    SaveCalibration(ctx context.Context, c *Calibration) error
    LoadPlacement(ctx context.Context) (string, error)
    SavePlacement(ctx context.Context, placement string) error
    Close() error
}
