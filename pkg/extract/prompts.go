package extract

import (
	"fmt"
	"strings"

	"github.com/mediavault/mediavault/pkg/models"
)

// Processing modes. General is the default and its fields are always
// populated; the other modes add a mode-specific payload on top.
const (
	ModeGeneral = "general"
	ModeRecipe  = "recipe"
	ModeLearn   = "learn"
	ModeCreator = "creator"
	ModeMeeting = "meeting"
)

// ValidMode reports whether mode names a known processing mode.
func ValidMode(mode string) bool {
	switch mode {
	case "", ModeGeneral, ModeRecipe, ModeLearn, ModeCreator, ModeMeeting:
		return true
	}
	return false
}

const systemPrompt = `You are a meticulous content analyst. You receive the transcript of a media item, optionally with visual frame descriptions and source metadata. Respond with a single JSON object and nothing else.`

const baseSchema = `{
  "title": "concise descriptive title",
  "summary": "2-4 sentence summary",
  "content_type": "one of: tutorial, review, podcast, lecture, vlog, news, entertainment, interview, documentary, other",
  "topics": ["main topics"],
  "key_points": ["the most important points"],
  "entities": [{"name": "", "type": "person|organization|product|place|other", "description": ""}],
  "action_items": ["concrete follow-ups, if any"],
  "quotes": ["notable verbatim quotes, if any"],
  "resources": ["tools, links, books, or products mentioned"],
  "tags": ["short lowercase tags"]
}`

var modeSchemas = map[string]string{
	ModeRecipe: `"mode_payload": {
  "recipe_name": "",
  "servings": "",
  "prep_time": "",
  "cook_time": "",
  "ingredients": [{"item": "", "quantity": "", "notes": ""}],
  "steps": ["ordered preparation steps"],
  "equipment": ["required equipment"]
}`,
	ModeLearn: `"mode_payload": {
  "learning_objectives": ["what a learner should take away"],
  "concepts": [{"name": "", "explanation": ""}],
  "prerequisites": ["assumed knowledge"],
  "exercises": ["suggested practice"]
}`,
	ModeCreator: `"mode_payload": {
  "hook": "how the content opens",
  "format": "content format and structure",
  "audience": "who this is for",
  "repurposing_ideas": ["ways to reuse this content"],
  "title_suggestions": ["alternative titles"]
}`,
	ModeMeeting: `"mode_payload": {
  "attendees": ["participants, if identifiable"],
  "decisions": ["decisions made"],
  "action_items": [{"task": "", "owner": "", "due": ""}],
  "open_questions": ["unresolved items"]
}`,
}

// BuildPrompt assembles the extraction prompt for one item.
func BuildPrompt(mode string, meta *models.MediaMetadata, transcript string, captions []models.FrameCaption) (system, user string) {
	var b strings.Builder

	schema := baseSchema
	if extra, ok := modeSchemas[mode]; ok {
		schema = strings.TrimSuffix(strings.TrimSpace(baseSchema), "}") + ",\n  " + extra + "\n}"
	}
	b.WriteString("Analyze the following content and respond with a JSON object of this exact shape:\n")
	b.WriteString(schema)
	b.WriteString("\n\n")

	if meta != nil && (meta.Title != "" || meta.Uploader != "") {
		b.WriteString("Source metadata:\n")
		if meta.Title != "" {
			fmt.Fprintf(&b, "- Title: %s\n", meta.Title)
		}
		if meta.Uploader != "" {
			fmt.Fprintf(&b, "- Uploader: %s\n", meta.Uploader)
		}
		if meta.UploadDate != "" {
			fmt.Fprintf(&b, "- Upload date: %s\n", meta.UploadDate)
		}
		if len(meta.Categories) > 0 {
			fmt.Fprintf(&b, "- Categories: %s\n", strings.Join(meta.Categories, ", "))
		}
		if meta.Description != "" {
			fmt.Fprintf(&b, "- Description: %s\n", meta.Description)
		}
		b.WriteString("\n")
	}

	if len(captions) > 0 {
		b.WriteString("Visual frame descriptions:\n")
		for _, c := range captions {
			fmt.Fprintf(&b, "[%s] %s\n", formatTimestamp(c.Timestamp), c.Description)
		}
		b.WriteString("\n")
	}

	b.WriteString("Transcript:\n")
	b.WriteString(transcript)

	return systemPrompt, b.String()
}

func formatTimestamp(seconds float64) string {
	s := int(seconds)
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}
