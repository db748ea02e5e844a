package models

import "time"

// Segment is one transcript segment with optional speaker attribution.
// Segments are ordered by start time; End >= Start and Text is trimmed.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}

// TimelineEntry is one entry of the merged timeline view: either a
// transcript paragraph or a vision caption, sorted by start time.
// Transcript entries precede vision entries at equal timestamps.
type TimelineEntry struct {
	Start   float64 `json:"start"`
	Kind    string  `json:"kind"` // "transcript" or "vision"
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}

// Timeline entry kinds.
const (
	TimelineKindTranscript = "transcript"
	TimelineKindVision     = "vision"
)

// Entity is one named entity extracted from the content.
type Entity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// EntityVector is one stored embedding for an entity mention within a
// content. Entity vectors are replaced wholesale whenever the parent
// content is rewritten.
type EntityVector struct {
	TenantID   string    `db:"tenant_id" json:"tenant_id"`
	ContentID  string    `db:"content_id" json:"content_id"`
	EntityName string    `db:"entity_name" json:"entity_name"`
	EntityType string    `db:"entity_type" json:"entity_type"`
	Embedding  []float32 `db:"-" json:"-"`
}

// ThumbnailEntry is one row of the thumbnail manifest attached to a
// content's metadata. The content exclusively owns its thumbnails.
type ThumbnailEntry struct {
	Timestamp float64 `json:"timestamp"`
	Filename  string  `json:"filename"`
	URL       string  `json:"url,omitempty"`
}

// Content is the persisted structured artifact produced from one
// successful ingestion job.
type Content struct {
	ID                string            `json:"id"`
	TenantID          string            `json:"tenant_id"`
	Title             string            `json:"title"`
	ContentType       string            `json:"content_type"`
	Mode              string            `json:"mode"`
	Summary           string            `json:"summary"`
	Topics            []string          `json:"topics,omitempty"`
	Tags              []string          `json:"tags,omitempty"`
	Collections       []string          `json:"collections,omitempty"`
	SourceURL         string            `json:"source_url,omitempty"`
	Transcript        string            `json:"transcript,omitempty"`
	Segments          []Segment         `json:"segments,omitempty"`
	FrameDescriptions map[string]string `json:"frame_descriptions,omitempty"`
	Timeline          []TimelineEntry   `json:"timeline,omitempty"`
	Entities          []Entity          `json:"entities,omitempty"`
	KeyPoints         []string          `json:"key_points,omitempty"`
	ActionItems       []string          `json:"action_items,omitempty"`
	Quotes            []string          `json:"quotes,omitempty"`
	Resources         []string          `json:"resources,omitempty"`
	ModePayload       map[string]any    `json:"mode_payload,omitempty"`
	Metadata          map[string]any    `json:"metadata,omitempty"`
	FileSizeBytes     int64             `json:"file_size_bytes"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// ContentSummary is the lightweight listing projection for contents.
type ContentSummary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	ContentType string    `json:"content_type"`
	Mode        string    `json:"mode"`
	SourceURL   string    `json:"source_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// SearchResult pairs a content with its cosine similarity to the query,
// in [-1, 1].
type SearchResult struct {
	Content    *Content `json:"content"`
	Similarity float64  `json:"similarity"`
}

// Collection is an opaque tenant-scoped grouping of contents used as a
// search filter.
type Collection struct {
	ID        string    `db:"id" json:"id"`
	TenantID  string    `db:"tenant_id" json:"tenant_id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
