package core

// Attachment is a debug artifact captured during a test attempt.
type Attachment struct {
	Name        string `json:"name"`        // Report-safe name: screenshot-<millis>-tap.png
	ContentType string `json:"contentType"` // MIME type: image/png, video/mp4, text/plain
	Path        string `json:"path"`        // File path relative to the report directory
	Body        []byte `json:"-"`           // In-memory content (not serialized to JSON)
}

// Common content types.
const (
	ContentTypePNG  = "image/png"
	ContentTypeJSON = "application/json"
	ContentTypeText = "text/plain"
	ContentTypeMP4  = "video/mp4"
)
