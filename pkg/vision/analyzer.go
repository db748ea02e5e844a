// Package vision captions sampled video frames with a multi-modal model,
// bounding in-flight provider calls and failing the whole batch on the
// first error.
package vision

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/mediavault/mediavault/pkg/media"
	"github.com/mediavault/mediavault/pkg/models"
)

const captionPrompt = "Describe what is visible in this video frame in one or two sentences. " +
	"Mention any readable on-screen text. Be concrete and brief."

// Captioner is the slice of the LLM client the analyzer needs.
type Captioner interface {
	Caption(ctx context.Context, imageData []byte, mimeType, prompt string) (string, error)
}

// Analyzer captions frames with a bounded number of concurrent calls.
type Analyzer struct {
	captioner   Captioner
	maxInFlight int64
}

// NewAnalyzer creates an Analyzer with the given concurrency bound.
func NewAnalyzer(captioner Captioner, maxInFlight int) *Analyzer {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &Analyzer{captioner: captioner, maxInFlight: int64(maxInFlight)}
}

// Describe captions every frame. The first provider error cancels the
// remaining calls and fails the batch. onProgress, when non-nil, is
// called once per completed frame with the running completion count.
func (a *Analyzer) Describe(ctx context.Context, frames []media.Frame, onProgress func(done, total int)) ([]models.FrameCaption, error) {
	if len(frames) == 0 {
		return nil, nil
	}

	sem := semaphore.NewWeighted(a.maxInFlight)
	g, gctx := errgroup.WithContext(ctx)

	captions := make([]models.FrameCaption, len(frames))
	var mu sync.Mutex
	done := 0

	for i, frame := range frames {
		i, frame := i, frame
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			data, err := os.ReadFile(frame.Path)
			if err != nil {
				return fmt.Errorf("failed to read frame %s: %w", frame.Path, err)
			}

			text, err := a.captioner.Caption(gctx, data, "image/jpeg", captionPrompt)
			if err != nil {
				return fmt.Errorf("failed to caption frame at %.2fs: %w", frame.Timestamp, err)
			}

			captions[i] = models.FrameCaption{
				Timestamp:   frame.Timestamp,
				Description: text,
				Filename:    frame.Path,
			}

			mu.Lock()
			done++
			n := done
			mu.Unlock()
			if onProgress != nil {
				onProgress(n, len(frames))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(captions, func(i, j int) bool { return captions[i].Timestamp < captions[j].Timestamp })
	return captions, nil
}
