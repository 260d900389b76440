package timeline

import (
	"fmt"
	"sort"

	"github.com/bobarin/cueframe/internal/models"
)

// DefaultMaxOverlayDuration caps how long any overlay stays on screen.
const DefaultMaxOverlayDuration = 3.0

// Candidate is a timed cue paired with its resolved clip. Clip is nil on a miss;
// SkipReason, when set, marks a cue already dropped upstream (e.g. a failed fetch).
type Candidate struct {
	models.TimedCue
	Clip       *models.ClipRef
	SkipReason models.OutcomeReason
}

// Result holds the schedulable entries plus one outcome per candidate, in
// candidate order.
type Result struct {
	Entries  []models.TimelineEntry
	Outcomes []models.CueOutcome
}

// Builder turns candidates into an ordered overlay schedule.
type Builder struct {
	MaxOverlayDuration float64
}

func NewBuilder(maxOverlayDuration float64) (*Builder, error) {
	if maxOverlayDuration <= 0 {
		return nil, fmt.Errorf("max overlay duration must be positive, got %v", maxOverlayDuration)
	}
	return &Builder{MaxOverlayDuration: maxOverlayDuration}, nil
}

// Build drops candidates without a clip and candidates that start at or after the
// end of the base video, caps each overlay at MaxOverlayDuration, and orders the
// rest by timestamp. Ties keep candidate order. Overlapping windows are allowed.
func (b *Builder) Build(candidates []Candidate, base models.BaseVideo) *Result {
	maxDur := b.MaxOverlayDuration
	if maxDur <= 0 {
		maxDur = DefaultMaxOverlayDuration
	}

	res := &Result{
		Entries:  make([]models.TimelineEntry, 0, len(candidates)),
		Outcomes: make([]models.CueOutcome, len(candidates)),
	}

	for i, c := range candidates {
		outcome := models.CueOutcome{
			Index:            i,
			Position:         c.Position,
			CueText:          c.CueText,
			TimestampSeconds: c.TimestampSeconds,
			Status:           models.OutcomeSkipped,
		}

		switch {
		case c.SkipReason != models.ReasonNone:
			outcome.Reason = c.SkipReason
		case c.Clip == nil:
			outcome.Reason = models.ReasonResolutionMiss
		case c.TimestampSeconds >= base.DurationSeconds:
			outcome.Reason = models.ReasonScheduleSkipped
		}
		if c.Clip != nil {
			url := c.Clip.URL
			outcome.ClipURL = &url
		}

		if outcome.Reason == models.ReasonNone {
			effective := EffectiveDuration(maxDur, c.Clip.DurationSeconds)
			outcome.Status = models.OutcomeRealized
			outcome.EffectiveDurationSeconds = effective
			res.Entries = append(res.Entries, models.TimelineEntry{
				CueText:                  c.CueText,
				Position:                 c.Position,
				TimestampSeconds:         c.TimestampSeconds,
				Clip:                     *c.Clip,
				EffectiveDurationSeconds: effective,
			})
		}

		res.Outcomes[i] = outcome
	}

	sort.SliceStable(res.Entries, func(i, j int) bool {
		return res.Entries[i].TimestampSeconds < res.Entries[j].TimestampSeconds
	})

	return res
}

// EffectiveDuration is min(maxDur, clipDur). An unknown clip duration (0) uses maxDur.
func EffectiveDuration(maxDur, clipDur float64) float64 {
	if clipDur <= 0 || clipDur > maxDur {
		return maxDur
	}
	return clipDur
}
