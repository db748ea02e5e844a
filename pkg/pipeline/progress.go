package pipeline

import (
	"context"
	"log/slog"
	"sync"
)

// ProgressSink is where serialized progress updates land.
type ProgressSink interface {
	Progress(ctx context.Context, jobID string, pct int, statusText string) error
}

// progressWriter serializes progress updates from the parallel pipeline
// tracks through a single goroutine, so concurrent stages never race on
// the job row. The sink enforces terminal-state protection and
// monotonicity.
type progressWriter struct {
	jobID   string
	sink    ProgressSink
	updates chan progressUpdate
	done    chan struct{}
	once    sync.Once
}

type progressUpdate struct {
	pct  int
	text string
}

func newProgressWriter(jobID string, sink ProgressSink) *progressWriter {
	w := &progressWriter{
		jobID:   jobID,
		sink:    sink,
		updates: make(chan progressUpdate, 16),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *progressWriter) run() {
	defer close(w.done)
	for u := range w.updates {
		if err := w.sink.Progress(context.Background(), w.jobID, u.pct, u.text); err != nil {
			slog.Warn("Progress write failed", "job_id", w.jobID, "error", err)
		}
	}
}

// Set queues one progress update. Never blocks job execution: when the
// buffer is full the update is dropped, the next one carries the state.
func (w *progressWriter) Set(pct int, text string) {
	select {
	case w.updates <- progressUpdate{pct: pct, text: text}:
	default:
	}
}

// Close flushes queued updates and stops the writer goroutine.
func (w *progressWriter) Close() {
	w.once.Do(func() {
		close(w.updates)
		<-w.done
	})
}
