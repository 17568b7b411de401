package database

import "time"

// FileRecord is the metadata stored for one uploaded file. Values returned by
// a Repository are snapshots: changing a field does not change the store.
type FileRecord struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	MimeType   string    `json:"mime_type"`
	UploadDate time.Time `json:"upload_date"`
	DeleteDate time.Time `json:"delete_date"`
	Downloads  int64     `json:"downloads"`
}
