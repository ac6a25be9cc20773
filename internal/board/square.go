package board

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSquare is returned for square or move tokens that do not name a board square.
var ErrInvalidSquare = errors.New("invalid square")

// Square is a board square; File is 0 (a) to 7 (h), Rank is 1 to 8.
type Square struct {
	File int
	Rank int
}

// ParseSquare parses algebraic names such as "e4".
func ParseSquare(name string) (Square, error) {
	s := strings.ToLower(strings.TrimSpace(name))
	if len(s) != 2 {
		return Square{}, fmt.Errorf("%w: %q", ErrInvalidSquare, name)
	}
	sq := Square{File: int(s[0] - 'a'), Rank: int(s[1] - '0')}
	if !sq.Valid() {
		return Square{}, fmt.Errorf("%w: %q", ErrInvalidSquare, name)
	}
	return sq, nil
}

func (s Square) Valid() bool {
	return s.File >= 0 && s.File < 8 && s.Rank >= 1 && s.Rank <= 8
}

func (s Square) String() string {
	if !s.Valid() {
		return "??"
	}
	return string([]byte{byte('a' + s.File), byte('0' + s.Rank)})
}

// Move is a move token split into its squares, e.g. "e7e8q".
type Move struct {
	From      Square
	To        Square
	Promotion byte
}

// ParseMove splits a coordinate-notation move token.
func ParseMove(token string) (Move, error) {
	t := strings.ToLower(strings.TrimSpace(token))
	if len(t) != 4 && len(t) != 5 {
		return Move{}, fmt.Errorf("%w: move %q", ErrInvalidSquare, token)
	}
	from, err := ParseSquare(t[0:2])
	if err != nil {
		return Move{}, err
	}
	to, err := ParseSquare(t[2:4])
	if err != nil {
		return Move{}, err
	}
	m := Move{From: from, To: to}
	if len(t) == 5 {
		switch t[4] {
		case 'q', 'r', 'b', 'n':
			m.Promotion = t[4]
		default:
			return Move{}, fmt.Errorf("%w: promotion %q", ErrInvalidSquare, token)
		}
	}
	return m, nil
}

// AllSquares lists a1..h8 file-major.
func AllSquares() []Square {
	out := make([]Square, 0, 64)
	for f := 0; f < 8; f++ {
		for r := 1; r <= 8; r++ {
			out = append(out, Square{File: f, Rank: r})
		}
	}
	return out
}
