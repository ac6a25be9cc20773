package recognizer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/park285/chess-autopilot/internal/board"
)

type wirePayload struct {
	FEN              string          `json:"fen"`
	BoardArea        json.RawMessage `json:"boardArea"`
	DebugImageBase64 string          `json:"debugImageBase64"`
	DebugImagePath   string          `json:"debugImagePath"`
	DebugInfo        json.RawMessage `json:"debugInfo"`
	Data             *wirePayload    `json:"data"`
	Result           *wirePayload    `json:"result"`
}

// Normalize accepts the current response shape plus the legacy ones:
// fen nested under data or result, a bare JSON string, or plain text.
func Normalize(body []byte) (Response, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Response{}, ErrNoPosition
	}

	switch trimmed[0] {
	case '"':
		var fen string
		if err := json.Unmarshal(trimmed, &fen); err != nil {
			return Response{}, fmt.Errorf("decode response: %w", err)
		}
		return fromFEN(fen)
	case '{':
		var p wirePayload
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return Response{}, fmt.Errorf("decode response: %w", err)
		}
		return fromPayload(&p)
	default:
		// some service builds answer text/plain
		return fromFEN(string(trimmed))
	}
}

func fromFEN(fen string) (Response, error) {
	fen = strings.TrimSpace(fen)
	if !strings.Contains(fen, "/") {
		return Response{}, ErrNoPosition
	}
	return Response{FEN: fen}, nil
}

func fromPayload(p *wirePayload) (Response, error) {
	src := p
	for _, nested := range []*wirePayload{p.Data, p.Result} {
		if strings.TrimSpace(src.FEN) == "" && nested != nil {
			src = nested
		}
	}
	fen := strings.TrimSpace(src.FEN)
	if fen == "" {
		return Response{}, ErrNoPosition
	}

	out := Response{
		FEN:              fen,
		DebugImageBase64: firstNonEmpty(src.DebugImageBase64, p.DebugImageBase64),
		DebugImagePath:   firstNonEmpty(src.DebugImagePath, p.DebugImagePath),
		DebugInfo:        src.DebugInfo,
	}
	if len(out.DebugInfo) == 0 {
		out.DebugInfo = p.DebugInfo
	}
	raw := src.BoardArea
	if len(raw) == 0 {
		raw = p.BoardArea
	}
	out.BoardArea = decodeArea(raw)
	return out, nil
}

// decodeArea reads {topLeft,bottomRight} or [x1,y1,x2,y2]; anything else is dropped.
func decodeArea(raw json.RawMessage) *board.Rect {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var r board.Rect
	if raw[0] == '[' {
		var v []float64
		if err := json.Unmarshal(raw, &v); err != nil || len(v) != 4 {
			return nil
		}
		r = board.NewRect(v[0], v[1], v[2], v[3])
	} else {
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil
		}
		r = r.Normalize()
	}
	if !r.Valid() {
		return nil
	}
	return &r
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
