package domain

import "time"

// CycleOutcome is how a controller cycle ended.
type CycleOutcome string

const (
	OutcomeExecuted   CycleOutcome = "executed"
	OutcomeNoMove     CycleOutcome = "no_move"
	OutcomeNotOurTurn CycleOutcome = "not_our_turn"
	OutcomeAnalyzed   CycleOutcome = "analyzed"
	OutcomeFaulted    CycleOutcome = "faulted"
)

// CycleRecord is the diagnostic trail of one cycle that got past change detection.
type CycleRecord struct {
	ID         string
	FEN        string
	Placement  string
	SideToMove string
	LocalColor string
	BestMove   string
	MoveSAN    string
	Evaluation *float64
	Board      string
	Flipped    bool
	Outcome    CycleOutcome
	Error      string
	StartedAt  time.Time
	EndedAt    time.Time
}

func (r CycleRecord) Duration() time.Duration {
	if r.EndedAt.Before(r.StartedAt) {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}
