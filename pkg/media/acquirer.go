// Package media acquires source media and samples frames using the
// yt-dlp and ffmpeg binaries. All work happens under a per-job temp
// directory that the caller removes when the job ends.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/mediavault/mediavault/pkg/models"
)

const (
	descriptionMaxLen = 500
	acquireTimeout    = 15 * time.Minute
	probeTimeout      = 60 * time.Second
)

// ytDlpInfo mirrors the fields we read from yt-dlp's JSON output.
type ytDlpInfo struct {
	Title       string   `json:"title"`
	Duration    float64  `json:"duration"`
	Uploader    string   `json:"uploader"`
	UploadDate  string   `json:"upload_date"`
	ViewCount   int64    `json:"view_count"`
	LikeCount   int64    `json:"like_count"`
	Categories  []string `json:"categories"`
	Description string   `json:"description"`
	WebpageURL  string   `json:"webpage_url"`
}

// Acquirer downloads remote media via yt-dlp into a per-job working
// directory.
type Acquirer struct {
	ytDlpPath  string
	workDir    string
	cookieFile string
}

// NewAcquirer locates yt-dlp and prepares the working directory.
func NewAcquirer(dataDir, cookieFile string) (*Acquirer, error) {
	path, err := exec.LookPath("yt-dlp")
	if err != nil {
		return nil, fmt.Errorf("yt-dlp not found in PATH: %w", err)
	}
	workDir := filepath.Join(dataDir, "work")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	return &Acquirer{ytDlpPath: path, workDir: workDir, cookieFile: cookieFile}, nil
}

// JobDir returns (creating if needed) the job's working directory.
func (a *Acquirer) JobDir(jobID string) (string, error) {
	dir := filepath.Join(a.workDir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create job dir: %w", err)
	}
	return dir, nil
}

// Cleanup removes the job's working directory and everything in it.
func (a *Acquirer) Cleanup(jobID string) {
	if err := os.RemoveAll(filepath.Join(a.workDir, jobID)); err != nil {
		slog.Warn("Failed to clean job work dir", "job_id", jobID, "error", err)
	}
}

// Probe fetches metadata without downloading the media.
func (a *Acquirer) Probe(ctx context.Context, url string) (*models.MediaMetadata, error) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	args := append(a.commonArgs(), "--dump-json", "--no-download", url)
	cmd := exec.CommandContext(probeCtx, a.ytDlpPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("yt-dlp probe failed: %w: %s", err, truncate(stderr.String(), 300))
	}

	var info ytDlpInfo
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return nil, fmt.Errorf("failed to decode yt-dlp output: %w", err)
	}
	return infoToMeta(&info), nil
}

// AcquireAudio downloads the best audio track as mp3 into the job dir.
func (a *Acquirer) AcquireAudio(ctx context.Context, jobID, url string) (string, *models.MediaMetadata, error) {
	dir, err := a.JobDir(jobID)
	if err != nil {
		return "", nil, err
	}
	outTemplate := filepath.Join(dir, "audio.%(ext)s")
	args := append(a.commonArgs(),
		"-x", "--audio-format", "mp3", "--audio-quality", "5",
		"--write-info-json", "-o", outTemplate, url)

	info, err := a.run(ctx, dir, args)
	if err != nil {
		return "", nil, err
	}
	return filepath.Join(dir, "audio.mp3"), info, nil
}

// AcquireVideo downloads a video rendition capped at 720p, suitable for
// frame sampling, into the job dir.
func (a *Acquirer) AcquireVideo(ctx context.Context, jobID, url string) (string, *models.MediaMetadata, error) {
	dir, err := a.JobDir(jobID)
	if err != nil {
		return "", nil, err
	}
	outTemplate := filepath.Join(dir, "video.%(ext)s")
	args := append(a.commonArgs(),
		"-f", "best[height<=720]/best",
		"--merge-output-format", "mp4",
		"--write-info-json", "-o", outTemplate, url)

	info, err := a.run(ctx, dir, args)
	if err != nil {
		return "", nil, err
	}

	// The extension depends on the source; find what landed.
	matches, _ := filepath.Glob(filepath.Join(dir, "video.*"))
	for _, m := range matches {
		if filepath.Ext(m) != ".json" {
			return m, info, nil
		}
	}
	return "", nil, fmt.Errorf("yt-dlp reported success but no video file found in %s", dir)
}

func (a *Acquirer) run(ctx context.Context, dir string, args []string) (*models.MediaMetadata, error) {
	runCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, a.ytDlpPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("yt-dlp failed: %w: %s", err, truncate(stderr.String(), 300))
	}
	slog.Debug("Media acquired", "dir", dir, "elapsed", time.Since(start))

	return a.readInfoJSON(dir)
}

// readInfoJSON loads the sidecar metadata file yt-dlp wrote next to the
// media.
func (a *Acquirer) readInfoJSON(dir string) (*models.MediaMetadata, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.info.json"))
	if err != nil || len(matches) == 0 {
		return &models.MediaMetadata{}, nil
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		return &models.MediaMetadata{}, nil
	}
	var info ytDlpInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return &models.MediaMetadata{}, nil
	}
	return infoToMeta(&info), nil
}

func (a *Acquirer) commonArgs() []string {
	args := []string{"--no-playlist", "--no-progress", "--quiet"}
	if a.cookieFile != "" {
		args = append(args, "--cookies", a.cookieFile)
	}
	return args
}

func infoToMeta(info *ytDlpInfo) *models.MediaMetadata {
	return &models.MediaMetadata{
		Title:           info.Title,
		DurationSeconds: info.Duration,
		Uploader:        info.Uploader,
		UploadDate:      info.UploadDate,
		ViewCount:       info.ViewCount,
		LikeCount:       info.LikeCount,
		Categories:      info.Categories,
		Description:     truncate(info.Description, descriptionMaxLen),
		WebpageURL:      info.WebpageURL,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
