package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/bobarin/cueframe/internal/annotation"
	"github.com/bobarin/cueframe/internal/config"
	"github.com/bobarin/cueframe/internal/footage"
	"github.com/bobarin/cueframe/internal/models"
	"github.com/bobarin/cueframe/internal/pipeline"
	"github.com/bobarin/cueframe/internal/services"
	"github.com/bobarin/cueframe/internal/timeline"
	"github.com/bobarin/cueframe/internal/timing"
	"github.com/spf13/cobra"
)

var timelineCmd = &cobra.Command{
	Use:   "timeline <script-file|->",
	Short: "Resolve footage and print the overlay schedule without rendering",
	Long: `Map every cue to a timestamp, resolve footage and print the resulting schedule
with one outcome per cue. The narration length comes from --base (probed with
ffprobe) or --duration.`,
	Args: cobra.ExactArgs(1),
	RunE: runTimelineCommand,
}

var (
	timelineBase     string
	timelineDuration float64
	maxOverlay       float64
)

func init() {
	timelineCmd.Flags().StringVarP(&timelineBase, "base", "b", "", "Narration video to probe for its duration")
	timelineCmd.Flags().Float64VarP(&timelineDuration, "duration", "d", 0, "Narration duration in seconds")
	timelineCmd.Flags().Float64Var(&maxOverlay, "max-overlay", 0, "Longest overlay in seconds (default MAX_OVERLAY_SECONDS)")
	addFootageFlags(timelineCmd)
}

func runTimelineCommand(cmd *cobra.Command, args []string) error {
	if (timelineBase == "") == (timelineDuration <= 0) {
		return fmt.Errorf("exactly one of --base or --duration is required")
	}

	script, err := readScript(cmd, args[0])
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if maxOverlay > 0 {
		cfg.MaxOverlaySeconds = maxOverlay
	}

	resolver, release, err := buildResolver(cfg, false)
	if err != nil {
		return err
	}
	defer release()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var report *pipeline.Report
	if timelineBase != "" {
		report, err = probedTimeline(ctx, cfg, resolver, script)
	} else {
		report, err = durationTimeline(ctx, cfg, resolver, script, timelineDuration)
	}
	if err != nil {
		return err
	}
	return printJSON(cmd, report)
}

// probedTimeline runs the pipeline as a dry run against the --base video.
func probedTimeline(ctx context.Context, cfg *config.Config, resolver footage.Resolver, script string) (*pipeline.Report, error) {
	workDir, err := os.MkdirTemp(cfg.WorkDir, "cueframe-timeline-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(workDir)

	pcfg := pipeline.DefaultConfig()
	pcfg.Mode = mode()
	pcfg.MaxOverlaySeconds = cfg.MaxOverlaySeconds
	pcfg.ResolveConcurrency = cfg.ResolveConcurrency
	pcfg.WorkDir = workDir

	// A dry run never fetches or renders.
	p, err := pipeline.New(services.NewFFmpegService(workDir), resolver, nil, nil, pcfg)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, pipeline.Request{Script: script, BaseVideoPath: timelineBase, DryRun: true})
}

// durationTimeline schedules against a nominal duration with no video at hand.
func durationTimeline(ctx context.Context, cfg *config.Config, resolver footage.Resolver, script string, duration float64) (*pipeline.Report, error) {
	builder, err := timeline.NewBuilder(cfg.MaxOverlaySeconds)
	if err != nil {
		return nil, err
	}

	extracted, err := annotation.Extract(script, mode())
	if err != nil {
		return nil, err
	}
	timed, err := timing.Map(extracted.Annotations, extracted.WordCount, duration)
	if err != nil {
		return nil, err
	}

	refs := footage.ResolveAll(ctx, resolver, timed, cfg.ResolveConcurrency)
	candidates := make([]timeline.Candidate, len(timed))
	for i := range timed {
		candidates[i] = timeline.Candidate{TimedCue: timed[i], Clip: refs[i]}
	}

	base := models.BaseVideo{DurationSeconds: duration}
	built := builder.Build(candidates, base)
	return &pipeline.Report{
		Cleaned:   extracted.Cleaned,
		WordCount: extracted.WordCount,
		Base:      base,
		Timed:     timed,
		Entries:   built.Entries,
		Outcomes:  built.Outcomes,
	}, nil
}
