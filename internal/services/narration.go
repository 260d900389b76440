package services

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
)

// NarrationSynthesizer turns cleaned narration text into a local narration video,
// the base every footage overlay is composited onto. status receives provider
// progress messages and may be nil.
type NarrationSynthesizer interface {
	Synthesize(ctx context.Context, text string, status func(string)) (string, error)
}

// leadInSilenceMs pads the start of synthesized speech so the first word is not clipped.
const leadInSilenceMs = 500

// SpeechNarrator voices the text with a TTS provider and renders it over a solid
// background. Used when no avatar provider is configured.
type SpeechNarrator struct {
	tts       TTSService
	ffmpeg    *FFmpegService
	musicPath string
}

var _ NarrationSynthesizer = (*SpeechNarrator)(nil)

// NewSpeechNarrator creates a narrator. musicPath is optional background music.
func NewSpeechNarrator(tts TTSService, ffmpeg *FFmpegService, musicPath string) *SpeechNarrator {
	return &SpeechNarrator{tts: tts, ffmpeg: ffmpeg, musicPath: musicPath}
}

func (n *SpeechNarrator) Synthesize(ctx context.Context, text string, status func(string)) (string, error) {
	notify := func(msg string) {
		log.Printf("[Narration] %s", msg)
		if status != nil {
			status(msg)
		}
	}

	notify("generating speech")
	speech, err := n.tts.GenerateSpeech(ctx, text, "warm, upbeat travel vlogger")
	if err != nil {
		return "", fmt.Errorf("failed to generate speech: %w", err)
	}

	id := uuid.New().String()
	rawAudio := n.ffmpeg.CreateTempFile(fmt.Sprintf("speech_%s.%s", id, speech.Format))
	paddedAudio := n.ffmpeg.CreateTempFile(fmt.Sprintf("speech_%s_padded.m4a", id))
	narration := n.ffmpeg.CreateTempFile(fmt.Sprintf("narration_%s.mp4", id))
	mixed := n.ffmpeg.CreateTempFile(fmt.Sprintf("narration_%s_music.mp4", id))
	defer n.ffmpeg.Cleanup(rawAudio, paddedAudio)

	if err := os.WriteFile(rawAudio, speech.AudioData, 0644); err != nil {
		return "", fmt.Errorf("failed to write speech audio: %w", err)
	}

	if err := n.ffmpeg.PrependSilence(ctx, rawAudio, paddedAudio, leadInSilenceMs); err != nil {
		return "", err
	}

	notify("rendering narration video")
	if err := n.ffmpeg.RenderNarration(ctx, paddedAudio, narration); err != nil {
		n.ffmpeg.Cleanup(narration)
		return "", err
	}

	mixedOK, err := n.ffmpeg.MixBackgroundMusic(ctx, narration, n.musicPath, mixed)
	if err != nil {
		// Music is cosmetic; keep the plain narration.
		log.Printf("[Narration] Background music skipped: %v", err)
		n.ffmpeg.Cleanup(mixed)
		return narration, nil
	}
	if !mixedOK {
		notify("narration ready")
		return narration, nil
	}

	n.ffmpeg.Cleanup(narration)
	notify("narration ready with background music")
	return mixed, nil
}
