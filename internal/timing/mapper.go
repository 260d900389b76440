package timing

import (
	"errors"
	"fmt"

	"github.com/bobarin/cueframe/internal/models"
)

// ErrInvalidMapping is returned when cue positions cannot be placed on the video clock.
var ErrInvalidMapping = errors.New("invalid mapping")

// Timestamp approximates when the word at position is spoken: the share of words
// spoken before it, scaled to the narration duration. It never returns duration
// for a real word (position < wordCount); speech is assumed to be spread evenly.
func Timestamp(position, wordCount int, durationSeconds float64) float64 {
	return float64(position) / float64(wordCount) * durationSeconds
}

// Map places each annotation on the narration video's clock. Order is preserved, so
// timestamps are non-decreasing whenever positions are.
//
// A position equal to wordCount is a cue with no narration after it; it maps to
// exactly durationSeconds and is dropped later by the timeline builder.
func Map(annotations []models.Annotation, wordCount int, durationSeconds float64) ([]models.TimedCue, error) {
	if len(annotations) == 0 {
		return nil, nil
	}
	if wordCount <= 0 {
		return nil, fmt.Errorf("%w: %d annotations but no narration words", ErrInvalidMapping, len(annotations))
	}
	if durationSeconds < 0 {
		return nil, fmt.Errorf("%w: negative duration %.3fs", ErrInvalidMapping, durationSeconds)
	}

	timed := make([]models.TimedCue, len(annotations))
	for i, a := range annotations {
		if a.Position < 0 || a.Position > wordCount {
			return nil, fmt.Errorf("%w: annotation %d position %d outside [0, %d]", ErrInvalidMapping, i, a.Position, wordCount)
		}
		timed[i] = models.TimedCue{
			Annotation:       a,
			TimestampSeconds: Timestamp(a.Position, wordCount, durationSeconds),
		}
	}

	return timed, nil
}
