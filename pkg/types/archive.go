package types

import "time"

// ArchivedAnnotation is one annotation document as kept by the archive sinks.
type ArchivedAnnotation struct {
	DocumentID  string    `json:"document_id" bigquery:"document_id"`
	ImageURL    string    `json:"image_url" bigquery:"image_url"`
	Description string    `json:"description" bigquery:"description"`
	Confidence  float64   `json:"confidence" bigquery:"confidence"`
	UpdatedAt   time.Time `json:"updated_at" bigquery:"updated_at"`
	ArchivedAt  time.Time `json:"archived_at" bigquery:"archived_at"`
}

// GetBatchKey groups archived rows by the day they were archived, as YYYY/MM/DD.
func (a ArchivedAnnotation) GetBatchKey() string {
	return a.ArchivedAt.UTC().Format("2006/01/02")
}

// InsertID identifies one version of a document for streaming-insert deduplication.
func (a ArchivedAnnotation) InsertID() string {
	return a.DocumentID + "@" + a.UpdatedAt.UTC().Format(time.RFC3339Nano)
}
