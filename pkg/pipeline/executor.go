// Package pipeline implements the ingestion executor: acquire, gate,
// debit, transcribe and caption in parallel, extract, assemble, and
// persist into the vector memory.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mediavault/mediavault/pkg/blob"
	"github.com/mediavault/mediavault/pkg/extract"
	"github.com/mediavault/mediavault/pkg/media"
	"github.com/mediavault/mediavault/pkg/metrics"
	"github.com/mediavault/mediavault/pkg/models"
	"github.com/mediavault/mediavault/pkg/queue"
	"github.com/mediavault/mediavault/pkg/services"
)

// MediaAcquirer obtains the media behind a job's source and a scratch
// directory for its artifacts.
type MediaAcquirer interface {
	JobDir(jobID string) (string, error)
	AcquireAudio(ctx context.Context, jobID, url string) (string, *models.MediaMetadata, error)
	AcquireVideo(ctx context.Context, jobID, url string) (string, *models.MediaMetadata, error)
	Cleanup(jobID string)
}

// FrameSampler extracts still frames from a video file.
type FrameSampler interface {
	Sample(ctx context.Context, videoPath, outDir string, durationSeconds float64) ([]media.Frame, error)
}

// Transcriber produces a transcript from an audio or video file.
type Transcriber interface {
	Transcribe(ctx context.Context, mediaPath, tempDir, language string) (*models.TranscriptionResult, error)
}

// FrameAnalyzer captions sampled frames.
type FrameAnalyzer interface {
	Describe(ctx context.Context, frames []media.Frame, onProgress func(done, total int)) ([]models.FrameCaption, error)
}

// ContentExtractor turns raw transcript and captions into structured
// content, and translates transcripts when a target language is set.
type ContentExtractor interface {
	Extract(ctx context.Context, mode string, meta *models.MediaMetadata, transcript string, captions []models.FrameCaption) (*models.Extract, error)
	Translate(ctx context.Context, result *models.TranscriptionResult, targetLanguage string) (string, error)
}

// Executor runs one ingestion job end to end. It satisfies
// queue.JobExecutor; the worker owns claiming and the terminal write.
type Executor struct {
	jobs        *services.JobService
	credits     *services.CreditService
	memory      *services.MemoryService
	collections *services.CollectionService
	acquirer    MediaAcquirer
	sampler     FrameSampler
	transcriber Transcriber
	analyzer    FrameAnalyzer
	extractor   ContentExtractor
	blobs       blob.Store
	metrics     *metrics.Metrics
}

// NewExecutor wires the pipeline dependencies. metrics may be nil.
func NewExecutor(
	jobs *services.JobService,
	credits *services.CreditService,
	memory *services.MemoryService,
	collections *services.CollectionService,
	acquirer MediaAcquirer,
	sampler FrameSampler,
	transcriber Transcriber,
	analyzer FrameAnalyzer,
	extractor ContentExtractor,
	blobs blob.Store,
	m *metrics.Metrics,
) *Executor {
	return &Executor{
		jobs:        jobs,
		credits:     credits,
		memory:      memory,
		collections: collections,
		acquirer:    acquirer,
		sampler:     sampler,
		transcriber: transcriber,
		analyzer:    analyzer,
		extractor:   extractor,
		blobs:       blobs,
		metrics:     m,
	}
}

// Execute runs the pipeline for one claimed job. Panics and errors both
// surface as a failed result; the worker's Fail write refunds whatever
// was deducted.
func (e *Executor) Execute(ctx context.Context, job *models.Job) (result *queue.ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Pipeline panic", "job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
			result = &queue.ExecutionResult{
				Status: models.JobStatusFailed,
				Error:  fmt.Errorf("internal error: %v", r),
			}
		}
	}()
	defer e.acquirer.Cleanup(job.ID)
	defer e.removeUploadedSource(job)

	progress := newProgressWriter(job.ID, e.jobs)
	defer progress.Close()

	content, err := e.run(ctx, job, progress)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, errJobCancelled) {
			return &queue.ExecutionResult{Status: models.JobStatusCancelled, Error: context.Canceled}
		}
		return &queue.ExecutionResult{Status: models.JobStatusFailed, Error: err}
	}
	return &queue.ExecutionResult{Status: models.JobStatusCompleted, Result: content}
}

// errJobCancelled signals that the cancellation checkpoint observed a
// cancelled status; the produced output is discarded.
var errJobCancelled = errors.New("job cancelled")

func (e *Executor) run(ctx context.Context, job *models.Job, progress *progressWriter) (*models.Content, error) {
	progress.Set(2, "Acquiring media")

	acq, err := e.acquire(ctx, job)
	if err != nil {
		return nil, err
	}

	durationMinutes := acq.meta.DurationSeconds / 60

	// Duration gate runs before any money moves.
	check, err := e.credits.CheckDuration(ctx, job.TenantID, int(math.Ceil(durationMinutes)))
	if err != nil {
		return nil, err
	}
	if !check.Allowed {
		return nil, fmt.Errorf("video is %.0f minutes; your tier allows up to %d minutes (requires %s tier)",
			math.Ceil(durationMinutes), check.MaxDurationMins, check.RequiredTier)
	}

	// Debit once. The charge and its record on the job row commit
	// together, so a retried job that already carries a deduction skips
	// this step instead of double-charging, and Fail always sees the
	// amount it must refund.
	cost := e.credits.VideoCost(durationMinutes, job.Settings.AnalyzeFrames)
	if job.CreditsDeducted == 0 {
		if err := e.jobs.DeductForJob(ctx, job.ID, job.TenantID, cost, "media ingestion"); err != nil {
			return nil, err
		}
		if e.metrics != nil {
			e.metrics.CreditsDeducted.Add(float64(cost))
		}
	}

	progress.Set(10, "Processing media")

	// Audio and vision tracks run in parallel; the first error cancels
	// the sibling.
	var transcription *models.TranscriptionResult
	var captions []models.FrameCaption
	var frames []media.Frame

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := e.transcriber.Transcribe(gctx, acq.audioSource, acq.dir, job.Settings.Language)
		if err != nil {
			return fmt.Errorf("transcription failed: %w", err)
		}
		transcription = t
		progress.Set(55, "Transcription complete")
		return nil
	})
	if job.Settings.AnalyzeFrames && acq.videoPath != "" {
		g.Go(func() error {
			sampled, err := e.sampler.Sample(gctx, acq.videoPath, acq.dir, acq.meta.DurationSeconds)
			if err != nil {
				return fmt.Errorf("frame sampling failed: %w", err)
			}
			described, err := e.analyzer.Describe(gctx, sampled, func(done, total int) {
				progress.Set(10+35*done/total, fmt.Sprintf("Analyzing frames (%d/%d)", done, total))
			})
			if err != nil {
				return fmt.Errorf("frame analysis failed: %w", err)
			}
			frames = sampled
			captions = described
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	progress.Set(65, "Extracting structured content")

	// The stored transcript always carries the [mm:ss] line format, with
	// or without translation.
	transcriptText := extract.FormatTranscript(transcription.Segments)
	if transcriptText == "" {
		transcriptText = transcription.Text
	}
	if job.Settings.Language != "" {
		translated, err := e.extractor.Translate(ctx, transcription, job.Settings.Language)
		if err != nil {
			return nil, err
		}
		transcriptText = translated
	}

	extracted, err := e.extractor.Extract(ctx, job.Mode, acq.meta, transcriptText, captions)
	if err != nil {
		return nil, err
	}

	progress.Set(85, "Assembling result")

	content := e.assembleContent(job, acq, transcription, transcriptText, captions, extracted)

	// Cancellation checkpoint: the last status read before any output
	// becomes externally visible.
	status, err := e.jobs.Status(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if status == models.JobStatusCancelled {
		return nil, errJobCancelled
	}

	// Storage gate. Denial fails the job, which refunds the deduction.
	thumbBytes := totalFileSize(frames)
	content.FileSizeBytes = thumbBytes + int64(len(content.Transcript))
	storage, err := e.credits.CheckStorage(ctx, job.TenantID, content.FileSizeBytes)
	if err != nil {
		return nil, err
	}
	if !storage.Allowed {
		return nil, fmt.Errorf("storage limit reached: %.0f of %.0f MB used", storage.UsedMB, storage.LimitMB)
	}

	// Re-ingesting a known source replaces the existing content in
	// place: same id, new artifacts.
	contentID := uuid.NewString()
	if job.SourceType == models.SourceTypeURL {
		existing, err := e.memory.FindBySourceURL(ctx, job.TenantID, job.Source)
		if err != nil {
			return nil, err
		}
		if existing != "" {
			contentID = existing
			slog.Info("Source already known; replacing content", "job_id", job.ID, "content_id", contentID)
		}
	}
	content.ID = contentID

	if err := e.storeThumbnails(job, frames, content); err != nil {
		return nil, err
	}

	progress.Set(95, "Saving")

	if err := e.memory.Add(ctx, content); err != nil {
		return nil, fmt.Errorf("failed to persist content: %w", err)
	}

	if job.Settings.CollectionID != "" {
		if err := e.collections.AddContent(ctx, job.TenantID, job.Settings.CollectionID, content.ID); err != nil {
			// Membership is best-effort; the content itself is saved.
			slog.Warn("Failed to add content to collection",
				"job_id", job.ID, "collection_id", job.Settings.CollectionID, "error", err)
		} else {
			content.Collections = []string{job.Settings.CollectionID}
		}
	}

	progress.Set(100, "")
	return content, nil
}

// removeUploadedSource deletes the staged upload once its job is done.
// Every Execute return is terminal for the job, so the file has no
// reader left either way.
func (e *Executor) removeUploadedSource(job *models.Job) {
	if job.SourceType != models.SourceTypeUpload {
		return
	}
	if err := os.Remove(job.Source); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove uploaded source file",
			"job_id", job.ID, "path", job.Source, "error", err)
	}
}

// acquisition is the local working state produced by the acquire stage.
type acquisition struct {
	dir         string
	audioSource string // file handed to the transcriber
	videoPath   string // non-empty when frames can be sampled
	meta        *models.MediaMetadata
}

func (e *Executor) acquire(ctx context.Context, job *models.Job) (*acquisition, error) {
	dir, err := e.acquirer.JobDir(job.ID)
	if err != nil {
		return nil, err
	}

	if job.SourceType == models.SourceTypeUpload {
		return e.acquireLocal(ctx, job, dir)
	}

	if job.Settings.AnalyzeFrames {
		videoPath, meta, err := e.acquirer.AcquireVideo(ctx, job.ID, job.Source)
		if err != nil {
			return nil, fmt.Errorf("media download failed: %w", err)
		}
		return &acquisition{dir: dir, audioSource: videoPath, videoPath: videoPath, meta: meta}, nil
	}

	audioPath, meta, err := e.acquirer.AcquireAudio(ctx, job.ID, job.Source)
	if err != nil {
		return nil, fmt.Errorf("media download failed: %w", err)
	}
	return &acquisition{dir: dir, audioSource: audioPath, meta: meta}, nil
}

func (e *Executor) acquireLocal(ctx context.Context, job *models.Job, dir string) (*acquisition, error) {
	if _, err := os.Stat(job.Source); err != nil {
		return nil, fmt.Errorf("uploaded file unavailable: %w", err)
	}
	duration, err := media.ProbeDuration(ctx, job.Source)
	if err != nil {
		return nil, fmt.Errorf("uploaded file is not valid media: %w", err)
	}
	meta := &models.MediaMetadata{
		Title:           filepath.Base(job.Source),
		DurationSeconds: duration,
	}

	acq := &acquisition{dir: dir, audioSource: job.Source, meta: meta}
	if job.Settings.AnalyzeFrames {
		hasVideo, err := media.HasVideoStream(ctx, job.Source)
		if err != nil {
			slog.Warn("Failed to probe for video stream", "job_id", job.ID, "error", err)
		} else if hasVideo {
			acq.videoPath = job.Source
		}
	}
	return acq, nil
}

func (e *Executor) assembleContent(job *models.Job, acq *acquisition, transcription *models.TranscriptionResult, transcriptText string, captions []models.FrameCaption, extracted *models.Extract) *models.Content {
	frameDescriptions := make(map[string]string, len(captions))
	for _, c := range captions {
		frameDescriptions[fmt.Sprintf("%.0f", c.Timestamp)] = c.Description
	}

	metadata := map[string]any{
		"duration_seconds": acq.meta.DurationSeconds,
		"language":         transcription.Language,
		"job_id":           job.ID,
	}
	if acq.meta.Uploader != "" {
		metadata["uploader"] = acq.meta.Uploader
	}
	if acq.meta.UploadDate != "" {
		metadata["upload_date"] = acq.meta.UploadDate
	}
	if acq.meta.ViewCount > 0 {
		metadata["view_count"] = acq.meta.ViewCount
	}
	if acq.meta.LikeCount > 0 {
		metadata["like_count"] = acq.meta.LikeCount
	}
	if len(acq.meta.Categories) > 0 {
		metadata["categories"] = acq.meta.Categories
	}

	sourceURL := ""
	if job.SourceType == models.SourceTypeURL {
		sourceURL = job.Source
		if acq.meta.WebpageURL != "" {
			sourceURL = acq.meta.WebpageURL
		}
	}

	now := time.Now().UTC()
	return &models.Content{
		TenantID:          job.TenantID,
		Title:             extracted.Title,
		ContentType:       extracted.ContentType,
		Mode:              job.Mode,
		Summary:           extracted.Summary,
		Topics:            extracted.Topics,
		Tags:              extracted.Tags,
		SourceURL:         sourceURL,
		Transcript:        transcriptText,
		Segments:          transcription.Segments,
		FrameDescriptions: frameDescriptions,
		Timeline:          BuildTimeline(transcription.Segments, captions),
		Entities:          extracted.Entities,
		KeyPoints:         extracted.KeyPoints,
		ActionItems:       extracted.ActionItems,
		Quotes:            extracted.Quotes,
		Resources:         extracted.Resources,
		ModePayload:       extracted.ModePayload,
		Metadata:          metadata,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// storeThumbnails publishes sampled frames into the blob store under the
// job id, then transfers ownership to the content id. The transfer
// replaces any artifacts a previous version of the content owned, and
// the manifest in content metadata is rewritten to match.
func (e *Executor) storeThumbnails(job *models.Job, frames []media.Frame, content *models.Content) error {
	if len(frames) == 0 {
		return nil
	}

	manifest := make([]models.ThumbnailEntry, 0, len(frames))
	for _, frame := range frames {
		f, err := os.Open(frame.Path)
		if err != nil {
			return fmt.Errorf("failed to read thumbnail: %w", err)
		}
		name := filepath.Base(frame.Path)
		_, err = e.blobs.Put(job.TenantID, job.ID, name, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to store thumbnail: %w", err)
		}
		// Manifest paths point at the content's directory, where the
		// ownership transfer below lands the files.
		manifest = append(manifest, models.ThumbnailEntry{
			Timestamp: frame.Timestamp,
			Filename:  name,
			URL:       filepath.ToSlash(filepath.Join(job.TenantID, content.ID, name)),
		})
	}

	if err := e.blobs.Move(job.TenantID, job.ID, content.ID); err != nil {
		return fmt.Errorf("failed to transfer thumbnails: %w", err)
	}

	if content.Metadata == nil {
		content.Metadata = map[string]any{}
	}
	content.Metadata["thumbnails"] = manifest
	return nil
}

func totalFileSize(frames []media.Frame) int64 {
	var total int64
	for _, f := range frames {
		if info, err := os.Stat(f.Path); err == nil {
			total += info.Size()
		}
	}
	return total
}

var _ queue.JobExecutor = (*Executor)(nil)
