package pipeline

import (
	"sort"
	"strings"

	"github.com/mediavault/mediavault/pkg/models"
)

// Paragraph bucketing thresholds.
const (
	paragraphMaxSentences  = 5    // close after this many sentence endings
	paragraphSoftSentences = 3    // close early when long enough
	paragraphSoftSpan      = 25.0 // seconds; pairs with the soft sentence count
	paragraphGap           = 3.0  // seconds of silence that closes a multi-line paragraph
)

// BuildTimeline merges transcript paragraphs and vision captions into a
// single time-ordered view. Entries at the same timestamp keep transcript
// before vision.
func BuildTimeline(segments []models.Segment, captions []models.FrameCaption) []models.TimelineEntry {
	entries := make([]models.TimelineEntry, 0, len(segments)/2+len(captions))

	for _, p := range bucketParagraphs(segments) {
		entries = append(entries, models.TimelineEntry{
			Start:   p.start,
			Kind:    models.TimelineKindTranscript,
			Text:    p.text,
			Speaker: p.speaker,
		})
	}
	for _, c := range captions {
		entries = append(entries, models.TimelineEntry{
			Start: c.Timestamp,
			Kind:  models.TimelineKindVision,
			Text:  c.Description,
		})
	}

	// Stable sort, with transcript entries appended first, keeps
	// transcript before vision on equal timestamps.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Start < entries[j].Start
	})
	return entries
}

type paragraph struct {
	start   float64
	end     float64
	speaker string
	text    string
	lines   int
}

// bucketParagraphs groups contiguous segments into readable paragraphs.
// A paragraph closes when the speaker changes, when it accumulates five
// finished sentences, when it holds at least three finished sentences
// and spans more than 25 seconds, or when a gap of more than three
// seconds follows a paragraph that already has more than one line.
func bucketParagraphs(segments []models.Segment) []paragraph {
	var paragraphs []paragraph
	var current *paragraph
	sentences := 0

	flush := func() {
		if current != nil && current.text != "" {
			paragraphs = append(paragraphs, *current)
		}
		current = nil
		sentences = 0
	}

	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}

		if current != nil {
			gap := seg.Start - current.end
			switch {
			case seg.Speaker != current.speaker:
				flush()
			case sentences >= paragraphMaxSentences:
				flush()
			case sentences >= paragraphSoftSentences && seg.Start-current.start > paragraphSoftSpan:
				flush()
			case gap > paragraphGap && current.lines > 1:
				flush()
			}
		}

		if current == nil {
			current = &paragraph{start: seg.Start, speaker: seg.Speaker}
		}
		if current.text != "" {
			current.text += " "
		}
		current.text += text
		current.end = seg.End
		current.lines++
		sentences += countSentenceEndings(text)
	}
	flush()
	return paragraphs
}

func countSentenceEndings(text string) int {
	n := 0
	for _, r := range text {
		switch r {
		case '.', '!', '?':
			n++
		}
	}
	return n
}
