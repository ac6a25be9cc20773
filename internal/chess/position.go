package chess

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// Color identifies chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// ParseColor accepts "white"/"w" and "black"/"b" in any case.
func ParseColor(raw string) (Color, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "white", "w":
		return White, nil
	case "black", "b":
		return Black, nil
	}
	return "", fmt.Errorf("unknown color %q", raw)
}

var errBadPlacement = errors.New("malformed piece placement")

// Placement returns the piece-placement field of a FEN snapshot.
func Placement(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// SideToMove reads the active-color field. A snapshot without one reports false.
func SideToMove(fen string) (Color, bool) {
	fields := strings.Fields(fen)
	if len(fields) < 2 {
		return "", false
	}
	switch fields[1] {
	case "w":
		return White, true
	case "b":
		return Black, true
	}
	return "", false
}

// Normalize fills in missing FEN fields so the snapshot is engine-loadable.
// Recognizers often report only placement and side to move.
func Normalize(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) == 0 {
		return ""
	}
	defaults := []string{"", "w", "-", "-", "0", "1"}
	for len(fields) < len(defaults) {
		fields = append(fields, defaults[len(fields)])
	}
	return strings.Join(fields[:6], " ")
}

// Advance applies a coordinate move to the snapshot and returns the resulting FEN.
// Recognized snapshots may carry wrong castling or en-passant fields, so a
// move the rules library rejects is still applied to the placement directly.
func Advance(fen, move string) (string, error) {
	full := Normalize(fen)
	if full == "" {
		return "", errBadPlacement
	}
	if next, err := advanceLegal(full, move); err == nil {
		return next, nil
	}
	return advanceRaw(full, move)
}

func advanceLegal(fen, move string) (string, error) {
	option, err := nchess.FEN(fen)
	if err != nil {
		return "", fmt.Errorf("parse fen %q: %w", fen, err)
	}
	game := nchess.NewGame(option)
	if err := game.PushNotationMove(strings.ToLower(move), nchess.UCINotation{}, nil); err != nil {
		return "", fmt.Errorf("apply move %q: %w", move, err)
	}
	return game.FEN(), nil
}

func advanceRaw(fen, move string) (string, error) {
	fields := strings.Fields(fen)
	grid, err := expandPlacement(fields[0])
	if err != nil {
		return "", err
	}
	mv := strings.ToLower(strings.TrimSpace(move))
	if len(mv) != 4 && len(mv) != 5 {
		return "", fmt.Errorf("apply move %q: bad token", move)
	}
	ff, fr, ok1 := squareIndex(mv[0:2])
	tf, tr, ok2 := squareIndex(mv[2:4])
	if !ok1 || !ok2 {
		return "", fmt.Errorf("apply move %q: bad square", move)
	}
	piece := grid[fr][ff]
	if piece == '.' {
		return "", fmt.Errorf("apply move %q: no piece on %s", move, mv[0:2])
	}

	lower := piece | 0x20
	switch {
	case lower == 'k' && abs(tf-ff) == 2:
		// castling: rook jumps over the king
		rookFrom, rookTo := 7, 5
		if tf < ff {
			rookFrom, rookTo = 0, 3
		}
		grid[fr][rookTo] = grid[fr][rookFrom]
		grid[fr][rookFrom] = '.'
	case lower == 'p' && tf != ff && grid[tr][tf] == '.':
		// en passant
		grid[fr][tf] = '.'
	}

	grid[fr][ff] = '.'
	if len(mv) == 5 {
		promo := mv[4]
		if piece >= 'A' && piece <= 'Z' {
			promo -= 0x20
		}
		piece = promo
	}
	grid[tr][tf] = piece

	fields[0] = collapsePlacement(grid)
	if fields[1] == "w" {
		fields[1] = "b"
	} else {
		fields[1] = "w"
	}
	fields[3] = "-"
	return strings.Join(fields, " "), nil
}

// grid[0] is rank 8.
func expandPlacement(placement string) ([8][8]byte, error) {
	var grid [8][8]byte
	rows := strings.Split(placement, "/")
	if len(rows) != 8 {
		return grid, errBadPlacement
	}
	for r, row := range rows {
		f := 0
		for i := 0; i < len(row); i++ {
			c := row[i]
			if c >= '1' && c <= '8' {
				for n := 0; n < int(c-'0'); n++ {
					if f >= 8 {
						return grid, errBadPlacement
					}
					grid[r][f] = '.'
					f++
				}
				continue
			}
			if !strings.ContainsRune("pnbrqkPNBRQK", rune(c)) || f >= 8 {
				return grid, errBadPlacement
			}
			grid[r][f] = c
			f++
		}
		if f != 8 {
			return grid, errBadPlacement
		}
	}
	return grid, nil
}

func collapsePlacement(grid [8][8]byte) string {
	var sb strings.Builder
	for r := 0; r < 8; r++ {
		if r > 0 {
			sb.WriteByte('/')
		}
		empty := 0
		for f := 0; f < 8; f++ {
			if grid[r][f] == '.' {
				empty++
				continue
			}
			if empty > 0 {
				sb.WriteByte(byte('0' + empty))
				empty = 0
			}
			sb.WriteByte(grid[r][f])
		}
		if empty > 0 {
			sb.WriteByte(byte('0' + empty))
		}
	}
	return sb.String()
}

// squareIndex returns file and grid row for an algebraic square.
func squareIndex(s string) (int, int, bool) {
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return 0, 0, false
	}
	return int(s[0] - 'a'), 8 - int(s[1]-'0'), true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// MoveSAN renders a coordinate move in algebraic notation for logs and the journal.
func MoveSAN(fen, move string) (string, error) {
	option, err := nchess.FEN(Normalize(fen))
	if err != nil {
		return "", fmt.Errorf("parse fen %q: %w", fen, err)
	}
	game := nchess.NewGame(option)
	pos := game.Position()
	mv, err := nchess.UCINotation{}.Decode(pos, strings.ToLower(move))
	if err != nil {
		return "", fmt.Errorf("decode move %q: %w", move, err)
	}
	return nchess.AlgebraicNotation{}.Encode(pos, mv), nil
}
