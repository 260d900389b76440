package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bobarin/cueframe/internal/models"
	"github.com/bobarin/cueframe/internal/pipeline"
)

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		strictMode, manifestPath, redisCache = false, "", false
		timelineBase, timelineDuration, maxOverlay = "", 0, 0
	})

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestExtractCommand(t *testing.T) {
	out, err := runCLI(t, "[Show footage of the harbour] the boats come in [market] at dawn", "extract", "-")
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	var got extractOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid json %q: %v", out, err)
	}
	if got.Cleaned != "the boats come in at dawn" || got.WordCount != 6 {
		t.Errorf("unexpected cleaned text %q (%d words)", got.Cleaned, got.WordCount)
	}
	if len(got.Annotations) != 2 || got.Annotations[1].Position != 4 {
		t.Errorf("unexpected annotations %+v", got.Annotations)
	}
}

func TestExtractCommand_Strict(t *testing.T) {
	if _, err := runCLI(t, "hello [never closed", "extract", "--strict", "-"); err == nil {
		t.Error("strict extract should reject an unterminated cue")
	}
}

func TestTimelineCommand_Manifest(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "clips.yaml")
	os.WriteFile(manifest, []byte("clips:\n  - keywords: [harbour]\n    path: harbour.mp4\n    duration_s: 6\n"), 0644)
	t.Setenv("SCOUT_API_KEY", "")

	script := "[Show footage of the harbour] one two three four [Show footage of the market] five six seven eight"
	out, err := runCLI(t, script, "timeline", "-", "--duration", "8", "--manifest", manifest)
	if err != nil {
		t.Fatalf("timeline failed: %v", err)
	}

	var report pipeline.Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("invalid json %q: %v", out, err)
	}
	if len(report.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %+v", report.Outcomes)
	}
	if report.Outcomes[0].Status != models.OutcomeRealized || report.Outcomes[0].EffectiveDurationSeconds != 3 {
		t.Errorf("harbour cue should be realized for 3s, got %+v", report.Outcomes[0])
	}
	if report.Outcomes[1].Reason != models.ReasonResolutionMiss || report.Outcomes[1].TimestampSeconds != 4 {
		t.Errorf("market cue should miss at 4s, got %+v", report.Outcomes[1])
	}
	if len(report.Entries) != 1 || report.Entries[0].Clip.Path != filepath.Join(dir, "harbour.mp4") {
		t.Errorf("unexpected entries %+v", report.Entries)
	}
}

func TestTimelineCommand_RequiresOneDurationSource(t *testing.T) {
	if _, err := runCLI(t, "[a] hello", "timeline", "-"); err == nil {
		t.Error("expected an error without --base or --duration")
	}
	if _, err := runCLI(t, "[a] hello", "timeline", "-", "--duration", "4", "--base", "narration.mp4"); err == nil {
		t.Error("expected an error with both --base and --duration")
	}
}

func TestRenderCommand_RequiresFootageSource(t *testing.T) {
	t.Setenv("SCOUT_API_KEY", "")
	_, err := runCLI(t, "[a] hello", "render", "-", "--base", "narration.mp4")
	if err == nil || !strings.Contains(err.Error(), "no footage source") {
		t.Errorf("expected missing footage source error, got %v", err)
	}
}
