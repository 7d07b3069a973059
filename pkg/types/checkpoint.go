package types

import "time"

// ExtractionCheckpoint records how far into a session transcript the
// extractor has already read. One checkpoint exists per session; re-saving
// updates the cursor in place.
type ExtractionCheckpoint struct {
	SessionID      string    `json:"session_id"`
	CursorPosition int64     `json:"cursor_position"` // Byte offset already processed
	ExtractedAt    time.Time `json:"extracted_at"`
}
