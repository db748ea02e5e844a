package transcribe

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediavault/mediavault/pkg/config"
	"github.com/mediavault/mediavault/pkg/models"
)

type recordingClient struct {
	paths  []string
	result *models.TranscriptionResult
}

func (c *recordingClient) Transcribe(_ context.Context, audioPath, _ string) (*models.TranscriptionResult, error) {
	c.paths = append(c.paths, audioPath)
	return c.result, nil
}

func TestChunkCountFor(t *testing.T) {
	const mb = int64(1024 * 1024)

	// 55 MB against a 25 MB limit: a 22.5 MB per-chunk budget needs 3.
	assert.Equal(t, 3, chunkCountFor(55*mb, 25*mb))

	// Barely over the limit still splits in two.
	assert.Equal(t, 2, chunkCountFor(26*mb, 25*mb))

	assert.Equal(t, 5, chunkCountFor(100*mb, 25*mb))
}

func TestMergeChunksShiftsTimestamps(t *testing.T) {
	chunks := []chunkResult{
		{offset: 0, result: &models.TranscriptionResult{
			Text:     "part one.",
			Language: "en",
			Segments: []models.Segment{
				{Start: 0, End: 10, Text: "part"},
				{Start: 10, End: 20, Text: "one."},
			},
		}},
		{offset: 600, result: &models.TranscriptionResult{
			Text: "part two.",
			Segments: []models.Segment{
				{Start: 0, End: 12, Text: "part two."},
			},
		}},
		{offset: 1200, result: &models.TranscriptionResult{
			Text: "part three.",
			Segments: []models.Segment{
				{Start: 2, End: 14, Text: "part three."},
			},
		}},
	}

	merged := mergeChunks(chunks)

	assert.Equal(t, "part one. part two. part three.", merged.Text)
	assert.Equal(t, "en", merged.Language)
	require.Len(t, merged.Segments, 4)

	// Timestamps land in the original audio's timebase and stay
	// monotonically increasing across chunk boundaries.
	for i := 1; i < len(merged.Segments); i++ {
		assert.GreaterOrEqual(t, merged.Segments[i].Start, merged.Segments[i-1].Start)
	}
	assert.Equal(t, 612.0, merged.Segments[2].End)
	assert.Equal(t, 1202.0, merged.Segments[3].Start)
	assert.Equal(t, 1214.0, merged.Segments[3].End)
}

func TestMergeChunksSkipsEmptyText(t *testing.T) {
	merged := mergeChunks([]chunkResult{
		{offset: 0, result: &models.TranscriptionResult{Text: "hello."}},
		{offset: 300, result: &models.TranscriptionResult{Text: ""}},
		{offset: 600, result: &models.TranscriptionResult{Text: "goodbye."}},
	})
	assert.Equal(t, "hello. goodbye.", merged.Text)
}

func TestTranscribeDirectUpload(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "talk.mp3")
	require.NoError(t, os.WriteFile(audio, make([]byte, 1024), 0o644))

	client := &recordingClient{result: &models.TranscriptionResult{
		Text:     "short talk.",
		Language: "en",
		Segments: []models.Segment{{Start: 0, End: 5, Text: "short talk."}},
	}}
	svc := NewService(client, config.SpeechConfig{
		MaxUploadBytes:  25 * 1024 * 1024,
		AcceptedFormats: []string{"mp3", "m4a", "wav"},
	}, false)

	result, err := svc.Transcribe(context.Background(), audio, dir, "")
	require.NoError(t, err)

	// Accepted format under the limit goes up as-is, no extraction.
	require.Len(t, client.paths, 1)
	assert.Equal(t, audio, client.paths[0])
	assert.Equal(t, "short talk.", result.Text)
	assert.Empty(t, result.Segments[0].Speaker)
}

func TestTranscribeSpeakerDetection(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "interview.mp3")
	require.NoError(t, os.WriteFile(audio, make([]byte, 1024), 0o644))

	client := &recordingClient{result: &models.TranscriptionResult{
		Text: "q and a.",
		Segments: []models.Segment{
			{Start: 0, End: 4, Text: "How did it start?"},
			{Start: 6, End: 12, Text: "In a garage, like everyone."},
		},
	}}
	svc := NewService(client, config.SpeechConfig{
		MaxUploadBytes:  25 * 1024 * 1024,
		AcceptedFormats: []string{"mp3"},
	}, true)

	result, err := svc.Transcribe(context.Background(), audio, dir, "")
	require.NoError(t, err)
	assert.Equal(t, "Speaker 1", result.Segments[0].Speaker)
	assert.Equal(t, "Speaker 2", result.Segments[1].Speaker)
}
