package domain

import "time"

// Attachment is metadata for one stored attachment object. The object
// itself lives in blob storage under StoragePath.
type Attachment struct {
	ID          int64  `json:"id"`
	MessageID   int64  `json:"message_id"`
	Filename    string `json:"filename"`
	MimeType    string `json:"mime_type"`
	Size        int64  `json:"size"`
	StoragePath string `json:"storage_path"`

	CreatedAt time.Time `json:"created_at"`
}
