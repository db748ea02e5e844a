package models

// MediaMetadata is the metadata bundle returned by the media acquirer.
// Description is truncated at acquisition time.
type MediaMetadata struct {
	Title           string   `json:"title"`
	DurationSeconds float64  `json:"duration_seconds"`
	Uploader        string   `json:"uploader,omitempty"`
	UploadDate      string   `json:"upload_date,omitempty"`
	ViewCount       int64    `json:"view_count,omitempty"`
	LikeCount       int64    `json:"like_count,omitempty"`
	Categories      []string `json:"categories,omitempty"`
	Description     string   `json:"description,omitempty"`
	WebpageURL      string   `json:"webpage_url,omitempty"`
}

// TranscriptionResult is the contract output of the transcription engine:
// full text, detected language, and contiguous ordered segments.
type TranscriptionResult struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

// FrameCaption is one vision caption keyed by the frame's timestamp.
type FrameCaption struct {
	Timestamp   float64 `json:"timestamp"`
	Description string  `json:"description"`
	Filename    string  `json:"filename,omitempty"`
}

// Extract is the structured output of the content extractor, absent
// embeddings and server-assigned identifiers. The general mode always
// populates the flat fields; other modes additionally fill ModePayload.
type Extract struct {
	Title       string         `json:"title"`
	Summary     string         `json:"summary"`
	ContentType string         `json:"content_type"`
	Topics      []string       `json:"topics,omitempty"`
	KeyPoints   []string       `json:"key_points,omitempty"`
	Entities    []Entity       `json:"entities,omitempty"`
	ActionItems []string       `json:"action_items,omitempty"`
	Quotes      []string       `json:"quotes,omitempty"`
	Resources   []string       `json:"resources,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	ModePayload map[string]any `json:"mode_payload,omitempty"`
}
