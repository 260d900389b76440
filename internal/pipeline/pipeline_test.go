package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bobarin/cueframe/internal/annotation"
	"github.com/bobarin/cueframe/internal/compositor"
	"github.com/bobarin/cueframe/internal/footage"
	"github.com/bobarin/cueframe/internal/models"
	"github.com/bobarin/cueframe/internal/timing"
)

const tourScript = "[opening aerial] one two three [market] four five [nothing here] six seven [broken link] eight nine ten [credits]"

type stubProber struct {
	info *models.MediaInfo
	err  error
}

func (p *stubProber) Probe(ctx context.Context, path string) (*models.MediaInfo, error) {
	return p.info, p.err
}

type stubFetcher struct {
	mu    sync.Mutex
	calls []string
}

func (f *stubFetcher) Localize(ctx context.Context, ref, dst string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, ref)
	f.mu.Unlock()

	if strings.Contains(ref, "broken") {
		return "", errors.New("fetch failed with status 500")
	}
	if err := os.WriteFile(dst, []byte("clip"), 0644); err != nil {
		return "", err
	}
	return dst, nil
}

type stubRenderer struct {
	called  bool
	entries []models.TimelineEntry
	existed []bool
	err     error
}

func (r *stubRenderer) Render(ctx context.Context, base models.BaseVideo, entries []models.TimelineEntry, outputPath string, obs compositor.Observer) (*models.CompositedVideo, error) {
	r.called = true
	r.entries = entries
	for _, e := range entries {
		_, err := os.Stat(e.Clip.Path)
		r.existed = append(r.existed, err == nil)
	}
	if r.err != nil {
		return nil, r.err
	}
	return &models.CompositedVideo{Path: outputPath, DurationSeconds: base.DurationSeconds, OverlayCount: len(entries)}, nil
}

var tourResolver = footage.ResolverFunc(func(ctx context.Context, q footage.Query) (*models.ClipRef, error) {
	if q.Text == "nothing here" {
		return nil, nil
	}
	return &models.ClipRef{URL: fmt.Sprintf("https://clips.test/%s.mp4", strings.ReplaceAll(q.Text, " ", "-")), DurationSeconds: 5}, nil
})

type fixture struct {
	base     string
	workDir  string
	prober   *stubProber
	fetcher  *stubFetcher
	renderer *stubRenderer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	base := filepath.Join(dir, "narration.mp4")
	if err := os.WriteFile(base, []byte("video"), 0644); err != nil {
		t.Fatal(err)
	}
	return &fixture{
		base:     base,
		workDir:  t.TempDir(),
		prober:   &stubProber{info: &models.MediaInfo{HasVideo: true, HasAudio: true, Width: 1280, Height: 720, DurationSeconds: 30}},
		fetcher:  &stubFetcher{},
		renderer: &stubRenderer{},
	}
}

func (f *fixture) pipeline(t *testing.T, mutate func(*Config)) *Pipeline {
	t.Helper()
	cfg := DefaultConfig()
	cfg.WorkDir = f.workDir
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := New(f.prober, tourResolver, f.fetcher, f.renderer, cfg)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p
}

func TestRun(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t, nil)

	report, err := p.Run(context.Background(), Request{Script: tourScript, BaseVideoPath: f.base, OutputPath: "/out/final.mp4"})
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if report.Cleaned != "one two three four five six seven eight nine ten" || report.WordCount != 10 {
		t.Errorf("unexpected cleaned script %q (%d words)", report.Cleaned, report.WordCount)
	}

	wantTimes := []float64{0, 9, 15, 21, 30}
	for i, tc := range report.Timed {
		if tc.TimestampSeconds != wantTimes[i] {
			t.Errorf("cue %d: expected %vs, got %v", i, wantTimes[i], tc.TimestampSeconds)
		}
	}

	wantReasons := []models.OutcomeReason{
		models.ReasonNone,
		models.ReasonNone,
		models.ReasonResolutionMiss,
		models.ReasonFetchFailed,
		models.ReasonScheduleSkipped,
	}
	if len(report.Outcomes) != len(wantReasons) {
		t.Fatalf("expected %d outcomes, got %d", len(wantReasons), len(report.Outcomes))
	}
	for i, o := range report.Outcomes {
		if o.Reason != wantReasons[i] {
			t.Errorf("outcome %d (%q): expected reason %q, got %q", i, o.CueText, wantReasons[i], o.Reason)
		}
		if (o.Reason == models.ReasonNone) != (o.Status == models.OutcomeRealized) {
			t.Errorf("outcome %d: status %q inconsistent with reason %q", i, o.Status, o.Reason)
		}
	}

	if len(f.renderer.entries) != 2 {
		t.Fatalf("expected 2 entries rendered, got %d", len(f.renderer.entries))
	}
	for i, ok := range f.renderer.existed {
		if !ok {
			t.Errorf("entry %d clip was not local at render time", i)
		}
	}
	if report.Output == nil || report.Output.DurationSeconds != 30 {
		t.Errorf("unexpected output %+v", report.Output)
	}

	if len(f.fetcher.calls) != 3 {
		t.Errorf("expected 3 fetches (trailing cue is never fetched), got %v", f.fetcher.calls)
	}
	left, _ := os.ReadDir(f.workDir)
	if len(left) != 0 {
		t.Errorf("downloaded clips left behind: %v", left)
	}
}

func TestRun_RenderErrorKeepsOutcomes(t *testing.T) {
	f := newFixture(t)
	f.renderer.err = fmt.Errorf("%w: ffmpeg exited 1", compositor.ErrRender)
	p := f.pipeline(t, nil)

	report, err := p.Run(context.Background(), Request{Script: tourScript, BaseVideoPath: f.base, OutputPath: "/out/final.mp4"})
	if !errors.Is(err, compositor.ErrRender) {
		t.Fatalf("expected ErrRender, got %v", err)
	}
	if report == nil || len(report.Outcomes) != 5 {
		t.Fatalf("expected outcomes alongside the error, got %+v", report)
	}
	if IsInputError(err) {
		t.Error("render failures are not input errors")
	}
}

func TestRun_MissingBase(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t, nil)

	_, err := p.Run(context.Background(), Request{Script: tourScript, BaseVideoPath: filepath.Join(f.workDir, "nope.mp4")})
	if !errors.Is(err, compositor.ErrResourceNotFound) {
		t.Fatalf("expected ErrResourceNotFound, got %v", err)
	}
	if !IsInputError(err) {
		t.Error("missing base should be an input error")
	}
	if f.renderer.called {
		t.Error("renderer should not run")
	}
}

func TestRun_UndecodableBase(t *testing.T) {
	f := newFixture(t)
	f.prober.err = errors.New("invalid data")
	p := f.pipeline(t, nil)

	_, err := p.Run(context.Background(), Request{Script: tourScript, BaseVideoPath: f.base})
	if !errors.Is(err, compositor.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestRun_StrictRejectsUnterminatedCue(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t, func(c *Config) { c.Mode = annotation.ModeStrict })

	_, err := p.Run(context.Background(), Request{Script: "hello [never closed", BaseVideoPath: f.base})
	if !errors.Is(err, annotation.ErrMalformedAnnotation) {
		t.Fatalf("expected ErrMalformedAnnotation, got %v", err)
	}
}

func TestRun_CuesWithoutNarration(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t, nil)

	_, err := p.Run(context.Background(), Request{Script: "[only a cue]", BaseVideoPath: f.base})
	if !errors.Is(err, timing.ErrInvalidMapping) {
		t.Fatalf("expected ErrInvalidMapping, got %v", err)
	}
}

func TestRun_NoCuesRendersBaseAlone(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t, nil)

	report, err := p.Run(context.Background(), Request{Script: "just narration here", BaseVideoPath: f.base, OutputPath: "/out/final.mp4"})
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if !f.renderer.called || len(f.renderer.entries) != 0 {
		t.Errorf("expected a render with no overlays, got called=%v entries=%d", f.renderer.called, len(f.renderer.entries))
	}
	if len(report.Outcomes) != 0 {
		t.Errorf("expected no outcomes, got %v", report.Outcomes)
	}
}

func TestRun_DryRun(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t, nil)

	report, err := p.Run(context.Background(), Request{Script: tourScript, BaseVideoPath: f.base, DryRun: true})
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if f.renderer.called || len(f.fetcher.calls) != 0 {
		t.Error("dry run should neither fetch nor render")
	}
	if len(report.Entries) != 3 {
		t.Errorf("expected 3 schedulable entries before fetching, got %d", len(report.Entries))
	}
	if report.Output != nil {
		t.Error("dry run should not report an output")
	}
}

func TestNewRejectsBadOverlayDuration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxOverlaySeconds = 0
	if _, err := New(&stubProber{}, tourResolver, &stubFetcher{}, &stubRenderer{}, cfg); err == nil {
		t.Error("expected error for zero max overlay duration")
	}
}

func TestClipExt(t *testing.T) {
	tests := map[string]string{
		"https://clips.test/a.webm?sig=1": ".webm",
		"https://clips.test/stream":       ".mp4",
		"file:///clips/b.mov":             ".mov",
	}
	for in, want := range tests {
		if got := clipExt(in); got != want {
			t.Errorf("clipExt(%q) = %q, want %q", in, got, want)
		}
	}
}
