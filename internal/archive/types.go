package archive

import (
	"encoding/json"
	"time"
)

// Kind is the exported artifact type.
type Kind string

const (
	KindBilan   Kind = "bilan"
	KindProgram Kind = "program"
)

// Snapshot is the exact content that was sent to the renderer, kept so an
// exported document can be traced back to the data it was produced from.
type Snapshot struct {
	Version        string          `json:"version"`
	Kind           Kind            `json:"kind"`
	ID             string          `json:"id"`
	PractitionerID string          `json:"practitioner_id"`
	DocumentURL    string          `json:"document_url"`
	ArchivedAt     time.Time       `json:"archived_at"`
	Payload        json.RawMessage `json:"payload"`
}

// ManifestEntry is one JSONL line in the monthly manifest file.
type ManifestEntry struct {
	Kind           Kind   `json:"kind"`
	ID             string `json:"id"`
	PractitionerID string `json:"practitioner_id"`
	S3Key          string `json:"s3_key"`
	ArchivedAt     string `json:"archived_at"`
}
