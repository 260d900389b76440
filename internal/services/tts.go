package services

import (
	"context"
	"strings"
)

// ---------------------------------------------------------------------------
// TTSService — common interface for text-to-speech providers.
// The speech narrator only needs audio bytes back, so any provider that can
// turn narration text into an audio file fits here.
// ---------------------------------------------------------------------------

// TTSResponse is the common response type from any TTS provider.
type TTSResponse struct {
	AudioData  []byte
	DurationMs int    // Estimated; probe the written file for the real length
	Format     string // "mp3", "wav", etc.
}

type TTSService interface {
	// GenerateSpeech converts text to audio. voiceStyle is a free-form delivery
	// hint (e.g. "warm, upbeat"); providers may ignore it.
	GenerateSpeech(ctx context.Context, text, voiceStyle string) (*TTSResponse, error)
}

// estimateAudioDuration estimates duration based on word count and speed.
// Narration pace is about 140 words per minute at speed 1.0.
func estimateAudioDuration(text string, speed float64) int {
	if speed <= 0 {
		speed = 1
	}
	words := len(strings.Fields(text))
	minutes := float64(words) / (140.0 * speed)
	return int(minutes * 60 * 1000)
}
