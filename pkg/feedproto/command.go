package feedproto

import "strings"

const (
	CommandAuto        = "auto"
	CommandRecognize   = "recognize"
	CommandLock        = "lock"
	CommandUnlock      = "unlock"
	CommandCalibrate   = "calibrate"
	CommandOrientation = "orientation"
	CommandAnalyze     = "analyze"
	CommandAdjust      = "adjust"
)

// Command is a control message sent by a feed client.
type Command struct {
	Type    string   `json:"type"`
	Enabled *bool    `json:"enabled,omitempty"`
	Flipped *bool    `json:"flipped,omitempty"`
	OffsetX *float64 `json:"offsetX,omitempty"`
	OffsetY *float64 `json:"offsetY,omitempty"`
	Scale   *float64 `json:"scale,omitempty"`
}

// Validate checks that Type is known and carries its required fields.
func (c Command) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Type)) {
	case CommandLock, CommandUnlock, CommandCalibrate, CommandAnalyze:
		return nil
	case CommandAuto, CommandRecognize:
		if c.Enabled == nil {
			return CommandError{Code: "missing_field", Message: c.Kind() + " requires enabled"}
		}
		return nil
	case CommandOrientation:
		if c.Flipped == nil {
			return CommandError{Code: "missing_field", Message: "orientation requires flipped"}
		}
		return nil
	case CommandAdjust:
		if c.OffsetX == nil && c.OffsetY == nil && c.Scale == nil {
			return CommandError{Code: "missing_field", Message: "adjust requires offsetX, offsetY or scale"}
		}
		return nil
	default:
		return CommandError{Code: "unknown_command", Message: "unknown command: " + c.Type}
	}
}

// Kind returns the normalized command type.
func (c Command) Kind() string {
	return strings.ToLower(strings.TrimSpace(c.Type))
}
