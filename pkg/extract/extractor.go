// Package extract turns transcripts and frame captions into structured
// content via JSON-mode chat completions.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/mediavault/mediavault/pkg/models"
)

// ChatClient is the slice of the LLM client the extractor needs.
type ChatClient interface {
	Chat(ctx context.Context, system, user string) (string, error)
	ChatJSON(ctx context.Context, system, user string) (string, error)
}

// Extractor runs mode-aware extraction over a transcript.
type Extractor struct {
	client ChatClient
}

// NewExtractor creates an Extractor.
func NewExtractor(client ChatClient) *Extractor {
	return &Extractor{client: client}
}

// outermostJSON pulls the first { through the last } out of a response
// that wrapped its JSON in prose or a code fence.
var outermostJSON = regexp.MustCompile(`(?s)\{.*\}`)

// Extract analyzes the content and returns the structured result.
// A response that fails strict decoding gets one repair attempt that
// re-decodes only the outermost JSON object.
func (e *Extractor) Extract(ctx context.Context, mode string, meta *models.MediaMetadata, transcript string, captions []models.FrameCaption) (*models.Extract, error) {
	if !ValidMode(mode) {
		return nil, fmt.Errorf("unknown processing mode %q", mode)
	}
	if strings.TrimSpace(transcript) == "" && len(captions) == 0 {
		return nil, fmt.Errorf("nothing to extract: empty transcript and no captions")
	}

	system, user := BuildPrompt(mode, meta, transcript, captions)
	raw, err := e.client.ChatJSON(ctx, system, user)
	if err != nil {
		return nil, fmt.Errorf("extraction call failed: %w", err)
	}

	result, err := decodeExtract(raw)
	if err != nil {
		repaired := outermostJSON.FindString(raw)
		if repaired == "" {
			return nil, fmt.Errorf("extraction response is not JSON: %w", err)
		}
		slog.Warn("Extraction response needed JSON repair", "mode", mode)
		result, err = decodeExtract(repaired)
		if err != nil {
			return nil, fmt.Errorf("extraction response unparseable after repair: %w", err)
		}
	}

	if result.Title == "" {
		if meta != nil && meta.Title != "" {
			result.Title = meta.Title
		} else {
			result.Title = "Untitled content"
		}
	}
	if result.ContentType == "" {
		result.ContentType = "other"
	}
	return result, nil
}

func decodeExtract(raw string) (*models.Extract, error) {
	var out models.Extract
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return &out, nil
}
