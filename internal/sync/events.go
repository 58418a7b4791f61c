package sync

import "time"

const (
	TypeWelcome    = "welcome"
	TypeProgress   = "progress"
	TypeListUpdate = "list.update"
	TypeListDelete = "list.delete"
)

type Welcome struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ProgressEvent is one import progress message. Current and Total are sent
// on every event so a late subscriber can render a bar straight away.
type ProgressEvent struct {
	Type      string `json:"type"`
	Current   int    `json:"current"`
	Total     int    `json:"total"`
	Completed bool   `json:"completed,omitempty"`
	Error     bool   `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ListEvent tells a user's other sessions that an entry changed.
type ListEvent struct {
	Type    string    `json:"type"`
	UserID  string    `json:"userId"`
	EntryID string    `json:"entryId"`
	Status  string    `json:"status,omitempty"`
	At      time.Time `json:"at"`
}
