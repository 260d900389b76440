package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bobarin/cueframe/internal/compositor"
	"github.com/bobarin/cueframe/internal/config"
	"github.com/bobarin/cueframe/internal/models"
	"github.com/bobarin/cueframe/internal/pipeline"
	"github.com/bobarin/cueframe/internal/services"
	"github.com/bobarin/cueframe/internal/storage"
	"github.com/spf13/cobra"
)

var renderCmd = &cobra.Command{
	Use:   "render <script-file|->",
	Short: "Composite cue footage onto a narration video",
	Long: `Render the script's cues onto the --base narration video and write an mp4.
Clips come from --manifest or, without one, from scout search. The base video and
clips may be local paths, file:// URLs, http(s) URLs or storage:// objects.`,
	Args: cobra.ExactArgs(1),
	RunE: runRenderCommand,
}

var (
	renderBase   string
	renderOutput string
	reportPath   string
	fade         float64
	opacity      float64
)

func init() {
	renderCmd.Flags().StringVarP(&renderBase, "base", "b", "", "Narration video (required)")
	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "output.mp4", "Output file")
	renderCmd.Flags().StringVar(&reportPath, "report", "", "Write the cue report as JSON to this file")
	renderCmd.Flags().Float64Var(&maxOverlay, "max-overlay", 0, "Longest overlay in seconds (default MAX_OVERLAY_SECONDS)")
	renderCmd.Flags().Float64Var(&fade, "fade", -1, "Fade in/out seconds (default FADE_SECONDS)")
	renderCmd.Flags().Float64Var(&opacity, "opacity", -1, "Backdrop opacity in [0, 1] (default BACKDROP_OPACITY)")
	renderCmd.MarkFlagRequired("base")
	addFootageFlags(renderCmd)
}

func runRenderCommand(cmd *cobra.Command, args []string) error {
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
	if fade >= 0 {
		cfg.FadeSeconds = fade
	}
	if opacity >= 0 {
		cfg.BackdropOpacity = opacity
	}

	resolver, release, err := buildResolver(cfg, true)
	if err != nil {
		return err
	}
	defer release()

	workDir, err := os.MkdirTemp(cfg.WorkDir, "cueframe-render-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(workDir)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	stor := storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket)
	basePath, err := stor.Localize(ctx, renderBase, filepath.Join(workDir, "base.mp4"))
	if err != nil {
		return fmt.Errorf("failed to fetch base video: %w", err)
	}

	ffmpegSvc := services.NewFFmpegService(workDir)

	opts := compositor.DefaultOptions()
	opts.FadeSeconds = cfg.FadeSeconds
	opts.BackdropOpacity = cfg.BackdropOpacity
	opts.TempDir = workDir
	comp, err := compositor.New(ffmpegSvc, opts)
	if err != nil {
		return err
	}

	pcfg := pipeline.DefaultConfig()
	pcfg.Mode = mode()
	pcfg.MaxOverlaySeconds = cfg.MaxOverlaySeconds
	pcfg.ResolveConcurrency = cfg.ResolveConcurrency
	pcfg.WorkDir = workDir
	p, err := pipeline.New(ffmpegSvc, resolver, stor, comp, pcfg)
	if err != nil {
		return err
	}

	report, runErr := p.Run(ctx, pipeline.Request{
		Script:        script,
		BaseVideoPath: basePath,
		OutputPath:    renderOutput,
		Observer:      compositor.LogObserver(filepath.Base(renderOutput)),
	})
	if report != nil && reportPath != "" {
		if err := writeReport(reportPath, report); err != nil {
			return err
		}
	}
	if runErr != nil {
		if pipeline.IsInputError(runErr) {
			return fmt.Errorf("invalid input: %w", runErr)
		}
		return runErr
	}

	counts := report.Counts()
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%.2fs, %d overlays): %d/%d cues realized\n",
		report.Output.Path, report.Output.DurationSeconds, report.Output.OverlayCount,
		counts[models.ReasonNone], len(report.Outcomes))
	return nil
}

func writeReport(path string, report *pipeline.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	defer f.Close()

	enc := newIndentEncoder(f)
	return enc.Encode(report)
}
