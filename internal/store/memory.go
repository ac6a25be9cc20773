package store

import (
    "context"
    "sync"
)

// MemoryStore is used when no REDIS_URL is configured; state dies with the process.
type MemoryStore struct {
    mu          sync.RWMutex
    calibration *Calibration
    placement   string
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) LoadCalibration(ctx context.Context) (*Calibration, error) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if m.calibration == nil { return nil, nil }
    copy := *m.calibration
    if copy.Board != nil {
        b := *copy.Board
        copy.Board = &b
    }
    return &copy, nil
}

func (m *MemoryStore) SaveCalibration(ctx context.Context, c *Calibration) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if c == nil {
        m.calibration = nil
        return nil
    }
    copy := *c
    if copy.Board != nil {
        b := *copy.Board
        copy.Board = &b
    }
    m.calibration = &copy
    return nil
}

func (m *MemoryStore) LoadPlacement(ctx context.Context) (string, error) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    return m.placement, nil
}

func (m *MemoryStore) SavePlacement(ctx context.Context, placement string) error {
    m.mu.Lock()
    m.placement = placement
    m.mu.Unlock()
    return nil
}

func (m *MemoryStore) Close() error { return nil }
