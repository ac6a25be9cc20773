package autoplay

// State is the controller's position in the scan/decide/act cycle.
type State int32

const (
	StateIdle State = iota
	StateScanning
	StateAwaitingTurn
	StateAnalyzing
	StateExecuting
	StateCooldown
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateAwaitingTurn:
		return "awaiting_turn"
	case StateAnalyzing:
		return "analyzing"
	case StateExecuting:
		return "executing"
	case StateCooldown:
		return "cooldown"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// messageKey is the catalog key for the state's status line.
func (s State) messageKey() string { return "state." + s.String() }
