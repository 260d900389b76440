package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/bobarin/cueframe/internal/models"
)

// Narration render constants: landscape 720p at 30fps on a solid background.
const (
	narrationWidth  = 1280
	narrationHeight = 720
	narrationFPS    = 30
	narrationColor  = "0x10141c"

	// Background music sits well under the narration.
	musicVolume = 0.12
)

// ---------------------------------------------------------------------------
// FFmpegService
// ---------------------------------------------------------------------------

type FFmpegService struct {
	tempDir string
}

func NewFFmpegService(tempDir string) *FFmpegService {
	// Create temp directory if it doesn't exist
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		panic(fmt.Sprintf("failed to create temp dir: %v", err))
	}

	return &FFmpegService{
		tempDir: tempDir,
	}
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

type ffprobeStream struct {
	CodecName string `json:"codec_name"`
	CodecType string `json:"codec_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Duration  string `json:"duration"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

// Probe reads duration, frame size and stream presence with ffprobe.
func (s *FFmpegService) Probe(ctx context.Context, path string) (*models.MediaInfo, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_format",
		"-show_streams",
		"-of", "json",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s failed: %w", filepath.Base(path), err)
	}

	return parseProbeOutput(output)
}

func parseProbeOutput(output []byte) (*models.MediaInfo, error) {
	var ff ffprobeOutput
	if err := json.Unmarshal(output, &ff); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &models.MediaInfo{}
	if dur, err := strconv.ParseFloat(ff.Format.Duration, 64); err == nil {
		info.DurationSeconds = dur
	}

	for _, st := range ff.Streams {
		switch st.CodecType {
		case "video":
			if info.HasVideo {
				continue
			}
			info.HasVideo = true
			info.VideoCodec = st.CodecName
			info.Width = st.Width
			info.Height = st.Height
			// Some containers only report duration per stream.
			if info.DurationSeconds == 0 {
				if dur, err := strconv.ParseFloat(st.Duration, 64); err == nil {
					info.DurationSeconds = dur
				}
			}
		case "audio":
			info.HasAudio = true
		}
	}

	return info, nil
}

// PrependSilence adds a silence buffer at the start of an audio file so the first
// narrated word is not clipped.
func (s *FFmpegService) PrependSilence(ctx context.Context, inputAudioPath, outputAudioPath string, silenceMs int) error {
	delayFilter := fmt.Sprintf("adelay=%d|%d", silenceMs, silenceMs)

	args := []string{
		"-i", inputAudioPath,
		"-af", delayFilter,
		"-y",
		outputAudioPath,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg prepend silence failed: %w", err)
	}

	return nil
}

// RenderNarration turns a narration audio track into a video on a solid
// background. The video ends with the audio.
func (s *FFmpegService) RenderNarration(ctx context.Context, audioPath, outputPath string) error {
	args := buildNarrationArgs(audioPath, outputPath)
	log.Printf("[FFmpeg] Rendering narration video %s", filepath.Base(outputPath))

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg render narration failed: %w", err)
	}

	return nil
}

func buildNarrationArgs(audioPath, outputPath string) []string {
	background := fmt.Sprintf("color=c=%s:s=%dx%d:r=%d", narrationColor, narrationWidth, narrationHeight, narrationFPS)

	return []string{
		"-f", "lavfi",
		"-i", background, // Input 0: solid background, infinite
		"-i", audioPath, // Input 1: narration
		"-map", "0:v",
		"-map", "1:a",
		"-c:v", "libx264",
		"-tune", "stillimage",
		"-c:a", "aac",
		"-b:a", "192k",
		"-pix_fmt", "yuv420p",
		"-shortest", // End when the narration ends
		"-y",
		outputPath,
	}
}

// MixBackgroundMusic mixes looping background music under the existing narration
// audio. The music loops if shorter than the video and is cut when the video ends.
//
// Reports false when musicPath is empty or missing; the caller then keeps using videoPath.
func (s *FFmpegService) MixBackgroundMusic(ctx context.Context, videoPath, musicPath, outputPath string) (bool, error) {
	if musicPath == "" {
		return false, nil
	}

	if _, err := os.Stat(musicPath); os.IsNotExist(err) {
		log.Printf("[FFmpeg] Background music file not found at %s, skipping", musicPath)
		return false, nil
	}

	log.Printf("[FFmpeg] Mixing background music from %s", musicPath)

	// duration=first ends the mix with the narration; dropout_transition fades the tail.
	filterComplex := fmt.Sprintf("[0:a]volume=1.0[narration];[1:a]volume=%.2f[music];[narration][music]amix=inputs=2:duration=first:dropout_transition=3[aout]", musicVolume)

	args := []string{
		"-i", videoPath,
		"-stream_loop", "-1",
		"-i", musicPath,
		"-filter_complex", filterComplex,
		"-map", "0:v",
		"-map", "[aout]",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return false, fmt.Errorf("ffmpeg mix background music failed: %w", err)
	}

	return true, nil
}

// CreateTempFile creates a temporary file path in the service's temp directory
func (s *FFmpegService) CreateTempFile(filename string) string {
	return filepath.Join(s.tempDir, filename)
}

// TempDir is the directory CreateTempFile places files in.
func (s *FFmpegService) TempDir() string {
	return s.tempDir
}

// Cleanup removes temporary files
func (s *FFmpegService) Cleanup(paths ...string) {
	for _, path := range paths {
		os.Remove(path)
	}
}
