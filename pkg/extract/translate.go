package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/mediavault/mediavault/pkg/models"
)

// translateChunkLimit bounds the characters per translation call so long
// transcripts fit in the model's context.
const translateChunkLimit = 10000

const translateSystem = `You translate transcripts. Preserve every [mm:ss] timestamp marker and every speaker label exactly as written. Translate only the spoken text. Respond with the translated transcript and nothing else.`

// Translate renders the transcript into targetLanguage, chunking long
// inputs at segment boundaries. When targetLanguage matches the detected
// language the input is returned unchanged.
func (e *Extractor) Translate(ctx context.Context, result *models.TranscriptionResult, targetLanguage string) (string, error) {
	if targetLanguage == "" || strings.EqualFold(targetLanguage, result.Language) {
		return FormatTranscript(result.Segments), nil
	}

	formatted := FormatTranscript(result.Segments)
	if formatted == "" {
		return "", nil
	}

	chunks := splitChunks(formatted, translateChunkLimit)
	var out []string
	for i, chunk := range chunks {
		user := fmt.Sprintf("Translate the following transcript to %s:\n\n%s", targetLanguage, chunk)
		translated, err := e.client.Chat(ctx, translateSystem, user)
		if err != nil {
			return "", fmt.Errorf("translation chunk %d/%d failed: %w", i+1, len(chunks), err)
		}
		out = append(out, strings.TrimSpace(translated))
	}
	return strings.Join(out, "\n"), nil
}

// FormatTranscript renders segments as one line each, with timestamp and
// optional speaker prefix.
func FormatTranscript(segments []models.Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		fmt.Fprintf(&b, "[%s]", formatTimestamp(seg.Start))
		if seg.Speaker != "" {
			fmt.Fprintf(&b, " %s:", seg.Speaker)
		}
		fmt.Fprintf(&b, " %s\n", seg.Text)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// splitChunks breaks text at line boundaries into pieces no longer than
// limit. A single oversized line becomes its own chunk.
func splitChunks(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var chunks []string
	var current strings.Builder
	for _, line := range strings.Split(text, "\n") {
		if current.Len() > 0 && current.Len()+len(line)+1 > limit {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
