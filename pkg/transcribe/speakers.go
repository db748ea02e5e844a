package transcribe

import (
	"fmt"
	"strings"

	"github.com/mediavault/mediavault/pkg/models"
)

// speakerTurnGap is the silence length that suggests a turn change when
// the previous segment ended a sentence.
const speakerTurnGap = 1.5

// LabelSpeakers attaches heuristic speaker labels to segments in place.
// Without diarization data, a turn boundary is inferred from a pause of
// at least speakerTurnGap seconds following a sentence-ending segment.
// Labels alternate between two speakers; monologues that never pause
// keep a single label.
func LabelSpeakers(segments []models.Segment) {
	if len(segments) == 0 {
		return
	}

	speaker := 1
	turns := 1
	segments[0].Speaker = speakerLabel(speaker)
	for i := 1; i < len(segments); i++ {
		gap := segments[i].Start - segments[i-1].End
		if gap >= speakerTurnGap && endsSentence(segments[i-1].Text) {
			speaker = 3 - speaker
			turns++
		}
		segments[i].Speaker = speakerLabel(speaker)
	}

	// A single long turn is a monologue; drop the labels so the
	// transcript reads unattributed.
	if turns == 1 {
		for i := range segments {
			segments[i].Speaker = ""
		}
	}
}

func speakerLabel(n int) string {
	return fmt.Sprintf("Speaker %d", n)
}

func endsSentence(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	switch text[len(text)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}
