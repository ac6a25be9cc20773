package board

import (
	"math"
	"sync"
)

// Thresholds tune when two detections count as the same board.
type Thresholds struct {
	// CenterRatio bounds center drift as a fraction of the larger side of the accepted rectangle.
	CenterRatio float64
	// AreaMin and AreaMax bound the area ratio new/accepted, both exclusive.
	AreaMin float64
	AreaMax float64
	// PromoteAfter is how many consecutive matching detections promote a candidate.
	PromoteAfter int
}

func DefaultThresholds() Thresholds {
	return Thresholds{CenterRatio: 0.15, AreaMin: 0.7, AreaMax: 1.4, PromoteAfter: 2}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.CenterRatio <= 0 {
		t.CenterRatio = d.CenterRatio
	}
	if t.AreaMin <= 0 {
		t.AreaMin = d.AreaMin
	}
	if t.AreaMax <= t.AreaMin {
		t.AreaMax = math.Max(d.AreaMax, t.AreaMin*2)
	}
	if t.PromoteAfter <= 0 {
		t.PromoteAfter = d.PromoteAfter
	}
	return t
}

// Similar reports whether b is close enough to a to be the same board.
func (t Thresholds) Similar(a, b Rect) bool {
	if !a.Valid() || !b.Valid() {
		return false
	}
	ca, cb := a.Center(), b.Center()
	dist := math.Hypot(cb.X-ca.X, cb.Y-ca.Y)
	if dist >= t.CenterRatio*math.Max(a.Width(), a.Height()) {
		return false
	}
	ratio := b.Area() / a.Area()
	return ratio > t.AreaMin && ratio < t.AreaMax
}

// Stabilizer filters noisy board detections into a single accepted rectangle.
// A detection that resembles the accepted rectangle refreshes it; a dissimilar
// one only replaces it after PromoteAfter consecutive consistent sightings.
type Stabilizer struct {
	th Thresholds

	mu        sync.RWMutex
	accepted  *Rect
	candidate *Rect
	matches   int
	locked    bool
}

func NewStabilizer(th Thresholds) *Stabilizer {
	return &Stabilizer{th: th.withDefaults()}
}

func (s *Stabilizer) Thresholds() Thresholds { return s.th }

// Observe feeds one detection and returns the rectangle accepted afterwards.
// A nil or degenerate detection leaves the state untouched.
func (s *Stabilizer) Observe(det *Rect) (Rect, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.locked || det == nil || !det.Valid() {
		return s.acceptedLocked()
	}
	r := *det

	switch {
	case s.accepted == nil:
		s.accept(r)
	case s.th.Similar(*s.accepted, r):
		s.accept(r)
	case s.candidate != nil && s.th.Similar(*s.candidate, r):
		s.candidate = &r
		s.matches++
		if s.matches >= s.th.PromoteAfter {
			s.accept(r)
		}
	default:
		s.candidate = &r
		s.matches = 1
		if s.matches >= s.th.PromoteAfter {
			s.accept(r)
		}
	}
	return s.acceptedLocked()
}

func (s *Stabilizer) accept(r Rect) {
	s.accepted = &r
	s.candidate = nil
	s.matches = 0
}

func (s *Stabilizer) acceptedLocked() (Rect, bool) {
	if s.accepted == nil {
		return Rect{}, false
	}
	return *s.accepted, true
}

// Accepted returns the current accepted rectangle.
func (s *Stabilizer) Accepted() (Rect, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.acceptedLocked()
}

// Set replaces the accepted rectangle directly, ignoring the lock.
func (s *Stabilizer) Set(r Rect) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accept(r.Normalize())
}

// Reset forgets everything, including the lock.
func (s *Stabilizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accepted = nil
	s.candidate = nil
	s.matches = 0
	s.locked = false
}

// Lock freezes the accepted rectangle against further detections.
func (s *Stabilizer) Lock() {
	s.mu.Lock()
	s.locked = true
	s.mu.Unlock()
}

func (s *Stabilizer) Unlock() {
	s.mu.Lock()
	s.locked = false
	s.mu.Unlock()
}

func (s *Stabilizer) Locked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locked
}
