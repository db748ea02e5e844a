package vision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediavault/mediavault/pkg/media"
)

type fakeCaptioner struct {
	mu         sync.Mutex
	inFlight   int
	maxSeen    int
	calls      int
	failAtCall int
	delay      time.Duration
}

func (f *fakeCaptioner) Caption(ctx context.Context, _ []byte, _, _ string) (string, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.calls++
	call := f.calls
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.failAtCall > 0 && call == f.failAtCall {
		return "", errors.New("provider rejected the image")
	}
	return fmt.Sprintf("caption %d", call), nil
}

func testFrames(t *testing.T, n int) []media.Frame {
	t.Helper()
	dir := t.TempDir()
	frames := make([]media.Frame, n)
	for i := range frames {
		path := filepath.Join(dir, fmt.Sprintf("thumb_%04d.jpg", i+1))
		require.NoError(t, os.WriteFile(path, []byte("jpeg"), 0o644))
		frames[i] = media.Frame{Timestamp: float64(i * 30), Path: path}
	}
	return frames
}

func TestDescribeBoundsConcurrency(t *testing.T) {
	captioner := &fakeCaptioner{delay: 20 * time.Millisecond}
	analyzer := NewAnalyzer(captioner, 3)

	frames := testFrames(t, 10)
	captions, err := analyzer.Describe(context.Background(), frames, nil)
	require.NoError(t, err)

	assert.Len(t, captions, 10)
	assert.LessOrEqual(t, captioner.maxSeen, 3)
	for i := 1; i < len(captions); i++ {
		assert.Greater(t, captions[i].Timestamp, captions[i-1].Timestamp)
	}
}

func TestDescribeFailFast(t *testing.T) {
	captioner := &fakeCaptioner{failAtCall: 2, delay: 5 * time.Millisecond}
	analyzer := NewAnalyzer(captioner, 2)

	_, err := analyzer.Describe(context.Background(), testFrames(t, 8), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to caption frame")
}

func TestDescribeProgressCallback(t *testing.T) {
	captioner := &fakeCaptioner{}
	analyzer := NewAnalyzer(captioner, 2)

	var mu sync.Mutex
	var reported []int
	_, err := analyzer.Describe(context.Background(), testFrames(t, 4), func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, done)
		assert.Equal(t, 4, total)
	})
	require.NoError(t, err)
	assert.Len(t, reported, 4)
}

func TestDescribeNoFrames(t *testing.T) {
	analyzer := NewAnalyzer(&fakeCaptioner{}, 3)
	captions, err := analyzer.Describe(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Nil(t, captions)
}
