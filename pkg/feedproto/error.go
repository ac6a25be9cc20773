package feedproto

// CommandError is returned to a feed client whose command was rejected.
type CommandError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e CommandError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "feed command error"
}

// ErrorEvent wraps a CommandError for the wire.
type ErrorEvent struct {
	Type  string       `json:"type"`
	Error CommandError `json:"error"`
}

const EventTypeError = "error"
