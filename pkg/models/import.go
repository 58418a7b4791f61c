package models

// ImportMode selects whether an import replaces or merges into the existing list.
type ImportMode string

const (
	ImportReplace ImportMode = "replace"
	ImportMerge   ImportMode = "merge"
)

// ClearExisting reports whether the server should wipe the list before importing.
func (m ImportMode) ClearExisting() bool { return m == ImportReplace }

// PickedFile is what the file picker hands over for an import.
type PickedFile struct {
	URI      string `json:"uri"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
}

// ImportJobState is the transient, never persisted view of a running import.
type ImportJobState struct {
	FileRef   string     `json:"fileRef"`
	Mode      ImportMode `json:"mode"`
	Current   int        `json:"current"`
	Total     int        `json:"total"`
	Completed bool       `json:"completed"`
	Error     string     `json:"error,omitempty"`
}

// Terminal reports whether the job reached completion or failed.
func (s ImportJobState) Terminal() bool {
	return s.Completed || s.Error != ""
}
