package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const ffprobeScript = `#!/bin/sh
cat <<'JSON'
{
  "streams": [
    {"index": 0, "codec_name": "h264", "codec_type": "video", "width": 1920, "height": 1080},
    {"index": 1, "codec_name": "aac", "codec_type": "audio"}
  ],
  "format": {"duration": "30.000000"}
}
JSON
`

const ffprobeSilentScript = `#!/bin/sh
cat <<'JSON'
{
  "streams": [
    {"index": 0, "codec_name": "vp9", "codec_type": "video", "width": 854, "height": 480, "duration": "6.5"}
  ],
  "format": {}
}
JSON
`

func installFakeTool(t *testing.T, name, script string) {
	t.Helper()
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, name), []byte(script), 0755); err != nil {
		t.Fatalf("failed to write fake %s: %v", name, err)
	}

	originalPath := os.Getenv("PATH")
	t.Cleanup(func() { _ = os.Setenv("PATH", originalPath) })
	if err := os.Setenv("PATH", tmpDir+string(os.PathListSeparator)+originalPath); err != nil {
		t.Fatalf("failed to update PATH: %v", err)
	}
}

func TestProbe(t *testing.T) {
	installFakeTool(t, "ffprobe", ffprobeScript)
	s := NewFFmpegService(t.TempDir())

	info, err := s.Probe(context.Background(), "/videos/base.mp4")
	if err != nil {
		t.Fatalf("probe returned error: %v", err)
	}
	if info.DurationSeconds != 30 {
		t.Errorf("unexpected duration: %v", info.DurationSeconds)
	}
	if !info.HasVideo || info.Width != 1920 || info.Height != 1080 || info.VideoCodec != "h264" {
		t.Errorf("unexpected video info: %#v", info)
	}
	if !info.HasAudio {
		t.Error("expected audio stream detected")
	}
}

func TestProbe_StreamDurationFallback(t *testing.T) {
	installFakeTool(t, "ffprobe", ffprobeSilentScript)
	s := NewFFmpegService(t.TempDir())

	info, err := s.Probe(context.Background(), "/clips/overlay.webm")
	if err != nil {
		t.Fatalf("probe returned error: %v", err)
	}
	if info.DurationSeconds != 6.5 {
		t.Errorf("expected stream duration fallback 6.5, got %v", info.DurationSeconds)
	}
	if info.HasAudio {
		t.Error("expected no audio stream")
	}
}

func TestProbe_Failure(t *testing.T) {
	installFakeTool(t, "ffprobe", "#!/bin/sh\necho 'Invalid data found when processing input' >&2\nexit 1\n")
	s := NewFFmpegService(t.TempDir())

	if _, err := s.Probe(context.Background(), "/clips/broken.mp4"); err == nil {
		t.Fatal("expected probe error")
	}
}

func TestParseProbeOutput_Garbage(t *testing.T) {
	if _, err := parseProbeOutput([]byte("not json")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestBuildNarrationArgs(t *testing.T) {
	args := strings.Join(buildNarrationArgs("/tmp/voice.mp3", "/tmp/narration.mp4"), " ")

	for _, want := range []string{
		"-f lavfi -i color=c=0x10141c:s=1280x720:r=30",
		"-i /tmp/voice.mp3",
		"-map 0:v -map 1:a",
		"-shortest",
		"/tmp/narration.mp4",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("expected args to contain %q, got %s", want, args)
		}
	}
}

func TestMixBackgroundMusicSkipsMissingTrack(t *testing.T) {
	s := NewFFmpegService(t.TempDir())

	mixed, err := s.MixBackgroundMusic(context.Background(), "in.mp4", "", "out.mp4")
	if err != nil || mixed {
		t.Errorf("expected no-op for empty music path, got %v, %v", mixed, err)
	}

	mixed, err = s.MixBackgroundMusic(context.Background(), "in.mp4", filepath.Join(t.TempDir(), "nope.mp3"), "out.mp4")
	if err != nil || mixed {
		t.Errorf("expected no-op for missing music, got %v, %v", mixed, err)
	}
}

func TestCreateTempFileAndCleanup(t *testing.T) {
	dir := t.TempDir()
	s := NewFFmpegService(dir)

	path := s.CreateTempFile("scratch.txt")
	if filepath.Dir(path) != dir {
		t.Fatalf("expected temp file under %s, got %s", dir, path)
	}
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	s.Cleanup(path, filepath.Join(dir, "never-created"))
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected %s removed", path)
	}
}
