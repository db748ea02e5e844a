package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingSink struct {
	mu      sync.Mutex
	updates []int
}

func (r *recordingSink) Progress(_ context.Context, _ string, pct int, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, pct)
	return nil
}

func TestProgressWriterSerializesUpdates(t *testing.T) {
	sink := &recordingSink{}
	writer := newProgressWriter("job-1", sink)

	var wg sync.WaitGroup
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(pct int) {
			defer wg.Done()
			writer.Set(pct, "working")
		}(i * 10)
	}
	wg.Wait()
	writer.Close()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.NotEmpty(t, sink.updates)
	assert.LessOrEqual(t, len(sink.updates), 10)
}

func TestProgressWriterCloseIsIdempotent(t *testing.T) {
	writer := newProgressWriter("job-1", &recordingSink{})
	writer.Set(50, "halfway")
	writer.Close()
	writer.Close()
}
