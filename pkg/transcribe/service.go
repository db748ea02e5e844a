package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mediavault/mediavault/pkg/config"
	"github.com/mediavault/mediavault/pkg/media"
	"github.com/mediavault/mediavault/pkg/models"
)

// chunkFillRatio keeps each chunk safely under the service limit;
// equal-duration splitting makes chunk sizes approximate.
const chunkFillRatio = 0.9

// Service picks a submission strategy per file: direct upload when the
// format is accepted and under the size limit, audio extraction when the
// container is not accepted, and chunked submission when even the
// extracted audio is too large.
type Service struct {
	client         SpeechClient
	maxUploadBytes int64
	accepted       map[string]bool
	detectSpeakers bool
}

// NewService wires the speech client and limits.
func NewService(client SpeechClient, speech config.SpeechConfig, detectSpeakers bool) *Service {
	accepted := make(map[string]bool, len(speech.AcceptedFormats))
	for _, f := range speech.AcceptedFormats {
		accepted[strings.ToLower(strings.TrimPrefix(f, "."))] = true
	}
	return &Service{
		client:         client,
		maxUploadBytes: speech.MaxUploadBytes,
		accepted:       accepted,
		detectSpeakers: detectSpeakers,
	}
}

// Transcribe produces the transcript for a local media file. tempDir
// receives intermediate audio and chunk files; the caller owns cleanup.
func (s *Service) Transcribe(ctx context.Context, mediaPath, tempDir, language string) (*models.TranscriptionResult, error) {
	info, err := os.Stat(mediaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat media file: %w", err)
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(mediaPath), "."))
	audioPath := mediaPath
	size := info.Size()

	if !s.accepted[ext] || size > s.maxUploadBytes {
		audioPath, err = extractAudio(ctx, mediaPath, tempDir)
		if err != nil {
			return nil, err
		}
		audioInfo, err := os.Stat(audioPath)
		if err != nil {
			return nil, fmt.Errorf("failed to stat extracted audio: %w", err)
		}
		size = audioInfo.Size()
	}

	var result *models.TranscriptionResult
	if size <= s.maxUploadBytes {
		result, err = s.client.Transcribe(ctx, audioPath, language)
	} else {
		result, err = s.transcribeChunked(ctx, audioPath, tempDir, language, size)
	}
	if err != nil {
		return nil, err
	}

	if s.detectSpeakers {
		LabelSpeakers(result.Segments)
	}
	return result, nil
}

// transcribeChunked splits the audio into equal-duration chunks sized to
// fit under the limit, transcribes each, shifts timestamps by the chunk
// offset, and concatenates in order.
func (s *Service) transcribeChunked(ctx context.Context, audioPath, tempDir, language string, size int64) (*models.TranscriptionResult, error) {
	duration, err := media.ProbeDuration(ctx, audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to probe audio duration: %w", err)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("audio file has no measurable duration")
	}

	chunkCount := chunkCountFor(size, s.maxUploadBytes)
	chunkDuration := duration / float64(chunkCount)

	slog.Info("Chunking audio for transcription",
		"size_bytes", size, "chunks", chunkCount, "chunk_seconds", chunkDuration)

	chunks := make([]chunkResult, 0, chunkCount)
	for i := 0; i < chunkCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		offset := float64(i) * chunkDuration
		chunkPath := filepath.Join(tempDir, fmt.Sprintf("chunk_%03d.mp3", i))
		if err := cutChunk(ctx, audioPath, chunkPath, offset, chunkDuration); err != nil {
			return nil, err
		}

		part, err := s.client.Transcribe(ctx, chunkPath, language)
		os.Remove(chunkPath)
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d failed: %w", i+1, chunkCount, err)
		}
		chunks = append(chunks, chunkResult{offset: offset, result: part})
	}
	return mergeChunks(chunks), nil
}

// chunkCountFor sizes equal-duration chunks so each lands under the
// upload limit with headroom for bitrate variance. At least two chunks,
// since this path only runs for oversized files.
func chunkCountFor(size, maxUploadBytes int64) int {
	budget := float64(maxUploadBytes) * chunkFillRatio
	count := int(math.Ceil(float64(size) / budget))
	if count < 2 {
		count = 2
	}
	return count
}

// chunkResult is one transcribed chunk with its position in the original
// audio. Segment timestamps inside result are chunk-local.
type chunkResult struct {
	offset float64
	result *models.TranscriptionResult
}

// mergeChunks concatenates per-chunk transcripts in order, shifting
// segment timestamps into the original audio's timebase.
func mergeChunks(chunks []chunkResult) *models.TranscriptionResult {
	combined := &models.TranscriptionResult{}
	var parts []string
	for _, c := range chunks {
		if combined.Language == "" {
			combined.Language = c.result.Language
		}
		if c.result.Text != "" {
			parts = append(parts, c.result.Text)
		}
		for _, seg := range c.result.Segments {
			seg.Start += c.offset
			seg.End += c.offset
			combined.Segments = append(combined.Segments, seg)
		}
	}
	combined.Text = strings.Join(parts, " ")
	return combined
}

// extractAudio pulls the audio track into an mp3. Stream copy is tried
// first; sources whose audio codec cannot live in mp3 get re-encoded.
func extractAudio(ctx context.Context, mediaPath, tempDir string) (string, error) {
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		return "", fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	outPath := filepath.Join(tempDir, "extracted_audio.mp3")

	copyCmd := exec.CommandContext(ctx, ffmpeg,
		"-i", mediaPath, "-vn", "-acodec", "copy", "-y", outPath)
	if err := copyCmd.Run(); err == nil {
		return outPath, nil
	}

	var stderr bytes.Buffer
	encodeCmd := exec.CommandContext(ctx, ffmpeg,
		"-i", mediaPath, "-vn", "-acodec", "libmp3lame", "-b:a", "128k", "-y", outPath)
	encodeCmd.Stderr = &stderr
	if err := encodeCmd.Run(); err != nil {
		return "", fmt.Errorf("audio extraction failed: %w: %s", err, firstLine(stderr.String()))
	}
	return outPath, nil
}

func cutChunk(ctx context.Context, audioPath, chunkPath string, offset, duration float64) error {
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, ffmpeg,
		"-ss", fmt.Sprintf("%.2f", offset),
		"-t", fmt.Sprintf("%.2f", duration),
		"-i", audioPath,
		"-acodec", "copy", "-y", chunkPath)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to cut audio chunk at %.2fs: %w: %s", offset, err, firstLine(stderr.String()))
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
