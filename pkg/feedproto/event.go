package feedproto

import "time"

// Rect mirrors board.Rect on the wire so feed clients need not import internal packages.
type Rect struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Event is one status snapshot pushed to every connected feed client.
type Event struct {
	Type       string    `json:"type"`
	State      string    `json:"state"`
	Message    string    `json:"message,omitempty"`
	Placement  string    `json:"placement,omitempty"`
	SideToMove string    `json:"sideToMove,omitempty"`
	LocalColor string    `json:"localColor,omitempty"`
	BestMove   string    `json:"bestMove,omitempty"`
	MoveSAN    string    `json:"moveSan,omitempty"`
	Evaluation *float64  `json:"evaluation,omitempty"`
	Board      *Rect     `json:"board,omitempty"`
	Locked     bool      `json:"locked"`
	Flipped    bool      `json:"flipped"`
	AutoPlay   bool      `json:"autoPlay"`
	Recognize  bool      `json:"recognize"`
	CycleID    string    `json:"cycleId,omitempty"`
	At         time.Time `json:"at"`
}

const EventTypeState = "state"
