package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"time"
)

// Frame is one sampled video frame on disk.
type Frame struct {
	Timestamp float64
	Path      string
}

// FrameSampler extracts JPEG frames from a video at a fixed cadence,
// widening the interval when the video is long enough that the base
// cadence would exceed the frame cap.
type FrameSampler struct {
	ffmpegPath   string
	baseInterval time.Duration
	maxFrames    int
}

// NewFrameSampler locates ffmpeg.
func NewFrameSampler(baseInterval time.Duration, maxFrames int) (*FrameSampler, error) {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	if maxFrames <= 0 {
		return nil, fmt.Errorf("maxFrames must be positive, got %d", maxFrames)
	}
	return &FrameSampler{ffmpegPath: path, baseInterval: baseInterval, maxFrames: maxFrames}, nil
}

// SampleTimestamps returns the capture points for a video of the given
// duration: base cadence, stretched so the count never exceeds the cap.
func (s *FrameSampler) SampleTimestamps(durationSeconds float64) []float64 {
	if durationSeconds <= 0 {
		return nil
	}
	interval := s.baseInterval.Seconds()
	if interval <= 0 {
		interval = 30
	}
	if durationSeconds/interval > float64(s.maxFrames) {
		interval = durationSeconds / float64(s.maxFrames)
	}

	timestamps := make([]float64, 0, s.maxFrames)
	for t := interval / 2; t < durationSeconds && len(timestamps) < s.maxFrames; t += interval {
		timestamps = append(timestamps, t)
	}
	if len(timestamps) == 0 {
		timestamps = append(timestamps, durationSeconds/2)
	}
	return timestamps
}

// Sample extracts one JPEG per sample timestamp into outDir. Frames are
// named thumb_<n>.jpg and returned ordered by timestamp.
func (s *FrameSampler) Sample(ctx context.Context, videoPath, outDir string, durationSeconds float64) ([]Frame, error) {
	timestamps := s.SampleTimestamps(durationSeconds)
	frames := make([]Frame, 0, len(timestamps))

	for i, ts := range timestamps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outPath := filepath.Join(outDir, fmt.Sprintf("thumb_%04d.jpg", i+1))
		cmd := exec.CommandContext(ctx, s.ffmpegPath,
			"-ss", fmt.Sprintf("%.2f", ts),
			"-i", videoPath,
			"-frames:v", "1",
			"-q:v", "4",
			"-vf", "scale=640:-2",
			"-y", outPath,
		)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("ffmpeg frame extraction at %.2fs failed: %w: %s",
				ts, err, truncate(stderr.String(), 300))
		}
		frames = append(frames, Frame{Timestamp: ts, Path: outPath})
	}

	sort.Slice(frames, func(i, j int) bool { return frames[i].Timestamp < frames[j].Timestamp })
	return frames, nil
}
