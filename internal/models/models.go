package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Enums
type RenderStatus string

const (
	RenderStatusQueued       RenderStatus = "queued"
	RenderStatusScripting    RenderStatus = "scripting"
	RenderStatusSynthesizing RenderStatus = "synthesizing"
	RenderStatusCompositing  RenderStatus = "compositing"
	RenderStatusCompleted    RenderStatus = "completed"
	RenderStatusFailed       RenderStatus = "failed"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// OutcomeStatus records whether a cue made it into the composited video.
type OutcomeStatus string

const (
	OutcomeRealized OutcomeStatus = "realized"
	OutcomeSkipped  OutcomeStatus = "skipped"
)

// OutcomeReason explains a skipped cue. Empty for realized cues.
type OutcomeReason string

const (
	ReasonNone            OutcomeReason = ""
	ReasonResolutionMiss  OutcomeReason = "resolution_miss"
	ReasonFetchFailed     OutcomeReason = "fetch_failed"
	ReasonScheduleSkipped OutcomeReason = "schedule_skipped"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// ---------------------------------------------------------------------------
// Pipeline values
// ---------------------------------------------------------------------------

// Annotation is a cue excised from a narration script, anchored to the index of
// the cleaned-script word that followed it.
type Annotation struct {
	Position int    `json:"position"`
	CueText  string `json:"cue_text"`
}

// TimedCue is an annotation placed on the narration video's clock.
type TimedCue struct {
	Annotation
	TimestampSeconds float64 `json:"timestamp_seconds"`
}

// ClipRef points at a piece of supplementary footage. URL is where the provider
// serves it; Path is filled once the clip has been fetched locally.
type ClipRef struct {
	URL             string  `json:"url"`
	Path            string  `json:"path,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"` // 0 = unknown
	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
	RelevanceScore  float64 `json:"relevance_score,omitempty"`
	QualityScore    float64 `json:"quality_score,omitempty"`
	Source          string  `json:"source,omitempty"` // "scout", "manifest", "cache"
}

// TimelineEntry is one scheduled overlay.
type TimelineEntry struct {
	CueText                  string  `json:"cue_text"`
	Position                 int     `json:"position"`
	TimestampSeconds         float64 `json:"timestamp_seconds"`
	Clip                     ClipRef `json:"clip"`
	EffectiveDurationSeconds float64 `json:"effective_duration_seconds"`
}

// EndSeconds is the end of the entry's active window, before clipping to the base video.
func (e TimelineEntry) EndSeconds() float64 {
	return e.TimestampSeconds + e.EffectiveDurationSeconds
}

// BaseVideo is the rendered narration video every overlay is placed on.
type BaseVideo struct {
	Path            string  `json:"path"`
	DurationSeconds float64 `json:"duration_seconds"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	HasAudio        bool    `json:"has_audio"`
}

// MediaInfo is what ffprobe reports about a media file.
type MediaInfo struct {
	DurationSeconds float64 `json:"duration_seconds"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	VideoCodec      string  `json:"video_codec,omitempty"`
	HasVideo        bool    `json:"has_video"`
	HasAudio        bool    `json:"has_audio"`
}

// OverlayClip is a probed, locally available overlay input.
type OverlayClip struct {
	Path            string  `json:"path"`
	NaturalWidth    int     `json:"natural_width"`
	NaturalHeight   int     `json:"natural_height"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// CompositedVideo is the final render. DurationSeconds always equals the base video's.
type CompositedVideo struct {
	Path            string  `json:"path"`
	DurationSeconds float64 `json:"duration_seconds"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	OverlayCount    int     `json:"overlay_count"`
	ByteSize        int64   `json:"byte_size"`
}

// CueOutcome is the per-cue audit record returned to callers.
type CueOutcome struct {
	Index                    int           `json:"index"`
	Position                 int           `json:"position"`
	CueText                  string        `json:"cue_text"`
	TimestampSeconds         float64       `json:"timestamp_seconds"`
	Status                   OutcomeStatus `json:"status"`
	Reason                   OutcomeReason `json:"reason,omitempty"`
	ClipURL                  *string       `json:"clip_url,omitempty"`
	EffectiveDurationSeconds float64       `json:"effective_duration_seconds,omitempty"`
}

// ---------------------------------------------------------------------------
// Persistence models
// ---------------------------------------------------------------------------

type Render struct {
	ID              uuid.UUID    `json:"id"`
	Script          *string      `json:"script,omitempty"`         // Annotated script (nil until written)
	CleanedScript   *string      `json:"cleaned_script,omitempty"` // Narration text fed to synthesis
	Destination     *string      `json:"destination,omitempty"`    // Topic for script writing when no script is given
	Language        *string      `json:"language,omitempty"`
	BaseVideoURL    *string      `json:"base_video_url,omitempty"` // Existing narration video; nil = synthesize
	Status          RenderStatus `json:"status"`
	OutputPath      *string      `json:"output_path,omitempty"` // Storage path of the composited video
	DurationSeconds *float64     `json:"duration_seconds,omitempty"`
	OverlayCount    int          `json:"overlay_count"`
	Metadata        JSONB        `json:"metadata,omitempty"`
	ErrorCode       *string      `json:"error_code,omitempty"`
	ErrorMessage    *string      `json:"error_message,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

type Job struct {
	ID           uuid.UUID  `json:"id"`
	RenderID     uuid.UUID  `json:"render_id"`
	Type         string     `json:"type"`
	Status       JobStatus  `json:"status"`
	Attempts     int        `json:"attempts"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// DTOs for API requests and responses

type CreateRenderRequest struct {
	Script       *string `json:"script,omitempty"`         // Annotated narration; wins over destination
	Destination  *string `json:"destination,omitempty"`    // Write a script for this place
	Language     *string `json:"language,omitempty"`       // Default: "English"
	BaseVideoURL *string `json:"base_video_url,omitempty"` // Skip narration synthesis
}

type CreateRenderResponse struct {
	RenderID uuid.UUID    `json:"render_id"`
	Status   RenderStatus `json:"status"`
}

type RenderResponse struct {
	Render
	Cues     []CueOutcome `json:"cues,omitempty"`
	VideoURL *string      `json:"video_url,omitempty"`
}

type ListRendersResponse struct {
	Renders []Render `json:"renders"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

type PreviewRequest struct {
	Script          string   `json:"script"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"` // When set, cues are timed
	Strict          bool     `json:"strict,omitempty"`
}

type PreviewResponse struct {
	Cleaned     string       `json:"cleaned"`
	WordCount   int          `json:"word_count"`
	Annotations []Annotation `json:"annotations"`
	Timed       []TimedCue   `json:"timed,omitempty"`
}
