package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/bobarin/cueframe/internal/annotation"
	"github.com/bobarin/cueframe/internal/compositor"
	"github.com/bobarin/cueframe/internal/footage"
	"github.com/bobarin/cueframe/internal/models"
	"github.com/bobarin/cueframe/internal/timeline"
	"github.com/bobarin/cueframe/internal/timing"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Fetcher makes a clip reference available locally. The returned path may be the
// source itself for local files, or dst after a download.
type Fetcher interface {
	Localize(ctx context.Context, ref, dst string) (string, error)
}

// Renderer composites a schedule onto a base video.
type Renderer interface {
	Render(ctx context.Context, base models.BaseVideo, entries []models.TimelineEntry, outputPath string, obs compositor.Observer) (*models.CompositedVideo, error)
}

type Config struct {
	Mode               annotation.Mode
	MaxOverlaySeconds  float64
	ResolveConcurrency int
	FetchConcurrency   int
	// WorkDir receives downloaded clips for the duration of a run.
	WorkDir string
}

func DefaultConfig() Config {
	return Config{
		Mode:               annotation.ModeLenient,
		MaxOverlaySeconds:  timeline.DefaultMaxOverlayDuration,
		ResolveConcurrency: 4,
		FetchConcurrency:   4,
		WorkDir:            os.TempDir(),
	}
}

// Pipeline runs script -> cues -> timestamps -> clips -> schedule -> video.
type Pipeline struct {
	prober   compositor.Prober
	resolver footage.Resolver
	fetcher  Fetcher
	renderer Renderer
	builder  *timeline.Builder
	cfg      Config
}

func New(prober compositor.Prober, resolver footage.Resolver, fetcher Fetcher, renderer Renderer, cfg Config) (*Pipeline, error) {
	builder, err := timeline.NewBuilder(cfg.MaxOverlaySeconds)
	if err != nil {
		return nil, err
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	return &Pipeline{
		prober:   prober,
		resolver: resolver,
		fetcher:  fetcher,
		renderer: renderer,
		builder:  builder,
		cfg:      cfg,
	}, nil
}

type Request struct {
	Script        string
	BaseVideoPath string
	OutputPath    string
	// DryRun stops after scheduling; nothing is fetched or rendered.
	DryRun   bool
	Observer compositor.Observer
}

// Report describes what happened to every cue. It is returned alongside render
// errors so callers can still record outcomes.
type Report struct {
	Cleaned   string                  `json:"cleaned"`
	WordCount int                     `json:"word_count"`
	Base      models.BaseVideo        `json:"base"`
	Timed     []models.TimedCue       `json:"timed"`
	Entries   []models.TimelineEntry  `json:"entries"`
	Outcomes  []models.CueOutcome     `json:"outcomes"`
	Output    *models.CompositedVideo `json:"output,omitempty"`
}

// Counts tallies outcomes by skip reason; realized cues count under ReasonNone.
func (r *Report) Counts() map[models.OutcomeReason]int {
	counts := map[models.OutcomeReason]int{}
	for _, o := range r.Outcomes {
		counts[o.Reason]++
	}
	return counts
}

func (p *Pipeline) Run(ctx context.Context, req Request) (*Report, error) {
	base, err := p.probeBase(ctx, req.BaseVideoPath)
	if err != nil {
		return nil, err
	}

	extracted, err := annotation.Extract(req.Script, p.cfg.Mode)
	if err != nil {
		return nil, fmt.Errorf("extract cues: %w", err)
	}

	timed, err := timing.Map(extracted.Annotations, extracted.WordCount, base.DurationSeconds)
	if err != nil {
		return nil, fmt.Errorf("map cues: %w", err)
	}

	report := &Report{
		Cleaned:   extracted.Cleaned,
		WordCount: extracted.WordCount,
		Base:      base,
		Timed:     timed,
	}
	log.Printf("[Pipeline] %d words, %d cues over %.2fs", extracted.WordCount, len(timed), base.DurationSeconds)

	refs := footage.ResolveAll(ctx, p.resolver, timed, p.cfg.ResolveConcurrency)

	candidates := make([]timeline.Candidate, len(timed))
	for i := range timed {
		candidates[i] = timeline.Candidate{TimedCue: timed[i], Clip: refs[i]}
	}

	var downloaded []string
	if !req.DryRun {
		downloaded = p.fetchClips(ctx, candidates, base.DurationSeconds)
		defer func() {
			for _, f := range downloaded {
				os.Remove(f)
			}
		}()
	}

	built := p.builder.Build(candidates, base)
	report.Entries = built.Entries
	report.Outcomes = built.Outcomes
	p.logOutcomes(report)

	if req.DryRun {
		return report, nil
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	out, err := p.renderer.Render(ctx, base, built.Entries, req.OutputPath, req.Observer)
	if err != nil {
		return report, fmt.Errorf("render: %w", err)
	}
	report.Output = out
	return report, nil
}

func (p *Pipeline) probeBase(ctx context.Context, basePath string) (models.BaseVideo, error) {
	if _, err := os.Stat(basePath); err != nil {
		if os.IsNotExist(err) {
			return models.BaseVideo{}, fmt.Errorf("base video: %w: %s", compositor.ErrResourceNotFound, basePath)
		}
		return models.BaseVideo{}, fmt.Errorf("base video: %w: %v", compositor.ErrResourceNotFound, err)
	}

	info, err := p.prober.Probe(ctx, basePath)
	if err != nil {
		return models.BaseVideo{}, fmt.Errorf("base video: %w: %v", compositor.ErrDecode, err)
	}
	if !info.HasVideo || info.DurationSeconds <= 0 {
		return models.BaseVideo{}, fmt.Errorf("base video: %w: %s has no playable video", compositor.ErrDecode, basePath)
	}

	return models.BaseVideo{
		Path:            basePath,
		DurationSeconds: info.DurationSeconds,
		Width:           info.Width,
		Height:          info.Height,
		HasAudio:        info.HasAudio,
	}, nil
}

// fetchClips localizes every resolved clip that can still be scheduled, marking
// failures as fetch_failed. It returns the files it downloaded so the caller can
// remove them.
func (p *Pipeline) fetchClips(ctx context.Context, candidates []timeline.Candidate, baseDuration float64) []string {
	limit := p.cfg.FetchConcurrency
	if limit <= 0 {
		limit = 1
	}

	downloads := make([]string, len(candidates))
	var g errgroup.Group
	g.SetLimit(limit)

	for i := range candidates {
		c := &candidates[i]
		if c.Clip == nil || c.TimestampSeconds >= baseDuration {
			continue
		}
		i := i
		g.Go(func() error {
			src := c.Clip.Path
			if src == "" {
				src = c.Clip.URL
			}
			dst := filepath.Join(p.cfg.WorkDir, fmt.Sprintf("clip_%03d_%s%s", i, uuid.New().String()[:8], clipExt(c.Clip.URL)))

			local, err := p.fetcher.Localize(ctx, src, dst)
			if err != nil {
				log.Printf("[Pipeline] Cue %d clip fetch failed: %v", i, err)
				c.SkipReason = models.ReasonFetchFailed
				return nil
			}

			clip := *c.Clip
			clip.Path = local
			c.Clip = &clip
			if local == dst {
				downloads[i] = dst
			}
			return nil
		})
	}
	_ = g.Wait()

	var files []string
	for _, f := range downloads {
		if f != "" {
			files = append(files, f)
		}
	}
	return files
}

func (p *Pipeline) logOutcomes(r *Report) {
	counts := r.Counts()
	log.Printf("[Pipeline] %d cues: %d realized, %d unresolved, %d fetch failed, %d past the end",
		len(r.Outcomes),
		counts[models.ReasonNone],
		counts[models.ReasonResolutionMiss],
		counts[models.ReasonFetchFailed],
		counts[models.ReasonScheduleSkipped],
	)
}

func clipExt(ref string) string {
	if u, err := url.Parse(ref); err == nil {
		if ext := path.Ext(u.Path); ext != "" && len(ext) <= 5 {
			return ext
		}
	}
	return ".mp4"
}

// IsInputError reports whether err came from bad input rather than a failed render.
func IsInputError(err error) bool {
	return errors.Is(err, annotation.ErrMalformedAnnotation) ||
		errors.Is(err, timing.ErrInvalidMapping) ||
		errors.Is(err, compositor.ErrResourceNotFound) ||
		errors.Is(err, compositor.ErrDecode)
}
