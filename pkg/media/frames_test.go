package media

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newSamplerForTest(t *testing.T, interval time.Duration, maxFrames int) *FrameSampler {
	t.Helper()
	// Bypass the ffmpeg lookup; timestamp planning is pure.
	return &FrameSampler{ffmpegPath: "ffmpeg", baseInterval: interval, maxFrames: maxFrames}
}

func TestSampleTimestampsBaseCadence(t *testing.T) {
	s := newSamplerForTest(t, 30*time.Second, 20)

	// 3 minutes at a 30s cadence: 6 frames, centered in their windows.
	ts := s.SampleTimestamps(180)
	assert.Len(t, ts, 6)
	assert.InDelta(t, 15, ts[0], 0.01)
	assert.InDelta(t, 45, ts[1], 0.01)
}

func TestSampleTimestampsAdaptiveInterval(t *testing.T) {
	s := newSamplerForTest(t, 30*time.Second, 20)

	// 2 hours at 30s would be 240 frames; the interval widens to hold 20.
	ts := s.SampleTimestamps(7200)
	assert.LessOrEqual(t, len(ts), 20)
	assert.Greater(t, len(ts), 15)

	for i := 1; i < len(ts); i++ {
		assert.Greater(t, ts[i], ts[i-1])
	}
	assert.Less(t, ts[len(ts)-1], 7200.0)
}

func TestSampleTimestampsShortVideo(t *testing.T) {
	s := newSamplerForTest(t, 30*time.Second, 20)

	// Shorter than one interval still yields a single midpoint frame.
	ts := s.SampleTimestamps(10)
	assert.Equal(t, []float64{5}, ts)
}

func TestSampleTimestampsZeroDuration(t *testing.T) {
	s := newSamplerForTest(t, 30*time.Second, 20)
	assert.Empty(t, s.SampleTimestamps(0))
}
