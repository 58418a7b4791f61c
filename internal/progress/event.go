package progress

import (
	"bytes"
	"encoding/json"
	"errors"
)

const typeProgress = "progress"

var errNotProgress = errors.New("progress: not a progress message")

// Event is one inbound progress message for a bulk import.
type Event struct {
	Current   int
	Total     int
	HasCounts bool
	Completed bool
	Failed    bool
	Error     string
	Message   string
}

// Terminal reports whether the event ends the import job.
func (e Event) Terminal() bool { return e.Completed || e.Failed }

type wireEvent struct {
	Type      string          `json:"type"`
	Current   *int            `json:"current"`
	Total     *int            `json:"total"`
	Completed bool            `json:"completed"`
	Error     json.RawMessage `json:"error"`
	Message   string          `json:"message"`
}

// decodeEvent parses a progress message. The error field is accepted as a
// boolean flag or as a failure description.
func decodeEvent(b []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return Event{}, err
	}
	if w.Type != typeProgress {
		return Event{}, errNotProgress
	}

	ev := Event{Completed: w.Completed, Message: w.Message}
	if w.Current != nil {
		ev.Current = *w.Current
		ev.HasCounts = true
	}
	if w.Total != nil {
		ev.Total = *w.Total
		ev.HasCounts = true
	}

	raw := bytes.TrimSpace(w.Error)
	switch {
	case len(raw) == 0, bytes.Equal(raw, []byte("null")), bytes.Equal(raw, []byte("false")):
	case bytes.Equal(raw, []byte("true")):
		ev.Failed = true
		ev.Error = w.Message
	default:
		var msg string
		if err := json.Unmarshal(raw, &msg); err != nil {
			return Event{}, err
		}
		if msg != "" {
			ev.Failed = true
			ev.Error = msg
		}
	}
	if ev.Failed && ev.Error == "" {
		ev.Error = "import failed"
	}
	return ev, nil
}
