package compositor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bobarin/cueframe/internal/models"
	"github.com/google/uuid"
)

// Prober reports stream information for a local media file.
type Prober interface {
	Probe(ctx context.Context, path string) (*models.MediaInfo, error)
}

// Options tune the look and encoding of the composited video.
type Options struct {
	FadeSeconds     float64
	BackdropOpacity float64

	VideoCodec   string
	Preset       string
	CRF          int
	AudioBitrate string

	// FFmpegPath is the ffmpeg binary; looked up on PATH when not absolute.
	FFmpegPath string
	// TempDir holds filter scripts. Defaults to the output directory.
	TempDir string
}

func DefaultOptions() Options {
	return Options{
		FadeSeconds:     0.5,
		BackdropOpacity: 0.3,
		VideoCodec:      "libx264",
		Preset:          "veryfast",
		CRF:             20,
		AudioBitrate:    "192k",
		FFmpegPath:      "ffmpeg",
	}
}

func (o Options) Validate() error {
	if o.FadeSeconds < 0 {
		return fmt.Errorf("fade must not be negative, got %v", o.FadeSeconds)
	}
	if o.BackdropOpacity < 0 || o.BackdropOpacity > 1 {
		return fmt.Errorf("backdrop opacity must be in [0, 1], got %v", o.BackdropOpacity)
	}
	if o.VideoCodec == "" || o.FFmpegPath == "" {
		return errors.New("video codec and ffmpeg path are required")
	}
	return nil
}

// Compositor renders timeline entries onto a base video with ffmpeg.
type Compositor struct {
	prober Prober
	opts   Options
}

func New(prober Prober, opts Options) (*Compositor, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid compositor options: %w", err)
	}
	return &Compositor{prober: prober, opts: opts}, nil
}

// Render composites entries onto base and writes an mp4 to outputPath. The output
// lasts exactly as long as base and carries only base's audio. With no entries the
// output is a re-encode of base.
//
// Nothing is left at outputPath unless Render succeeds; intermediate files are
// removed on every exit path.
func (c *Compositor) Render(ctx context.Context, base models.BaseVideo, entries []models.TimelineEntry, outputPath string, obs Observer) (*models.CompositedVideo, error) {
	m := &machine{state: StateIdle, obs: obs}
	rc := &renderContext{}
	defer rc.release()

	result, err := c.render(ctx, m, rc, base, entries, outputPath)
	if err != nil {
		m.to(StateFailed, err)
		return nil, err
	}
	m.to(StateRendered, nil)
	return result, nil
}

func (c *Compositor) render(ctx context.Context, m *machine, rc *renderContext, base models.BaseVideo, entries []models.TimelineEntry, outputPath string) (*models.CompositedVideo, error) {
	base, err := c.loadBase(ctx, base)
	if err != nil {
		return nil, err
	}

	overlays := make([]overlay, 0, len(entries))
	for i, e := range entries {
		clip, err := c.loadOverlay(ctx, e)
		if err != nil {
			return nil, fmt.Errorf("overlay %d (%q): %w", i, e.CueText, err)
		}
		overlays = append(overlays, placeOverlay(base, e, *clip))
	}
	m.to(StateLoaded, nil)

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return nil, fmt.Errorf("%w: create output dir: %v", ErrRender, err)
	}

	scriptPath, err := c.writeFilterScript(rc, outputPath, buildFilterGraph(overlays, c.opts))
	if err != nil {
		return nil, err
	}

	partial := partialPath(outputPath)
	rc.trackFile(partial)

	m.to(StateRendering, nil)
	log.Printf("[Compositor] Rendering %d overlays onto %s (%.2fs)", len(overlays), filepath.Base(base.Path), base.DurationSeconds)

	args := buildArgs(base, overlays, scriptPath, partial, c.opts)
	if err := c.run(ctx, m, rc, args, base.DurationSeconds); err != nil {
		return nil, err
	}

	if err := os.Rename(partial, outputPath); err != nil {
		return nil, fmt.Errorf("%w: finalize output: %v", ErrRender, err)
	}

	stat, err := os.Stat(outputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: stat output: %v", ErrRender, err)
	}

	return &models.CompositedVideo{
		Path:            outputPath,
		DurationSeconds: base.DurationSeconds,
		Width:           base.Width,
		Height:          base.Height,
		OverlayCount:    len(overlays),
		ByteSize:        stat.Size(),
	}, nil
}

// loadBase verifies the base video exists and decodes, filling any fields the
// caller left zero from the probe.
func (c *Compositor) loadBase(ctx context.Context, base models.BaseVideo) (models.BaseVideo, error) {
	if err := checkFile(base.Path); err != nil {
		return base, fmt.Errorf("base video: %w", err)
	}

	info, err := c.prober.Probe(ctx, base.Path)
	if err != nil {
		return base, fmt.Errorf("%w: base video %s: %v", ErrDecode, base.Path, err)
	}
	if !info.HasVideo {
		return base, fmt.Errorf("%w: base video %s has no video stream", ErrDecode, base.Path)
	}

	if base.DurationSeconds <= 0 {
		base.DurationSeconds = info.DurationSeconds
	}
	if base.Width == 0 || base.Height == 0 {
		base.Width, base.Height = info.Width, info.Height
	}
	if !base.HasAudio {
		base.HasAudio = info.HasAudio
	}

	if base.DurationSeconds <= 0 || base.Width <= 0 || base.Height <= 0 {
		return base, fmt.Errorf("%w: base video %s reports no duration or frame size", ErrDecode, base.Path)
	}
	return base, nil
}

func (c *Compositor) loadOverlay(ctx context.Context, e models.TimelineEntry) (*models.OverlayClip, error) {
	path := e.Clip.Path
	if path == "" {
		return nil, fmt.Errorf("%w: clip %s was never fetched", ErrResourceNotFound, e.Clip.URL)
	}
	if err := checkFile(path); err != nil {
		return nil, err
	}

	info, err := c.prober.Probe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}
	if !info.HasVideo || info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("%w: %s has no video stream", ErrDecode, path)
	}

	return &models.OverlayClip{
		Path:            path,
		NaturalWidth:    info.Width,
		NaturalHeight:   info.Height,
		DurationSeconds: info.DurationSeconds,
	}, nil
}

func (c *Compositor) writeFilterScript(rc *renderContext, outputPath, graph string) (string, error) {
	dir := c.opts.TempDir
	if dir == "" {
		dir = filepath.Dir(outputPath)
	}

	path := filepath.Join(dir, fmt.Sprintf("filter_%s.txt", uuid.New().String()))
	if err := os.WriteFile(path, []byte(graph), 0644); err != nil {
		return "", fmt.Errorf("%w: write filter script: %v", ErrRender, err)
	}
	rc.trackFile(path)
	return path, nil
}

// run starts ffmpeg, streams progress to the observer, and waits. The process is
// killed on release if it is still running.
func (c *Compositor) run(ctx context.Context, m *machine, rc *renderContext, args []string, total float64) error {
	cmd := exec.CommandContext(ctx, c.opts.FFmpegPath, args...)

	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = io.MultiWriter(os.Stderr, stderr)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRender, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start ffmpeg: %v", ErrRender, err)
	}

	var (
		once    sync.Once
		waitErr error
	)
	wait := func() error {
		once.Do(func() { waitErr = cmd.Wait() })
		return waitErr
	}
	rc.onRelease("ffmpeg", func() error {
		if cmd.ProcessState == nil {
			_ = cmd.Process.Kill()
			_ = wait()
		}
		return nil
	})

	readProgress(stdout, func(outTime float64) { m.progress(outTime, total) })

	if err := wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ErrRender, ctxErr)
		}
		msg := stderr.String()
		if i := strings.LastIndex(msg, "\n"); i >= 0 {
			msg = msg[i+1:]
		}
		return fmt.Errorf("%w: ffmpeg: %v: %s", ErrRender, err, msg)
	}
	return nil
}

// checkFile maps a missing input to ErrResourceNotFound.
func checkFile(path string) error {
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrResourceNotFound, path)
		}
		return fmt.Errorf("%w: %s: %v", ErrResourceNotFound, path, err)
	}
	if stat.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrResourceNotFound, path)
	}
	return nil
}

// partialPath is where ffmpeg writes before the output is renamed into place:
// out.mp4 -> out.partial.mp4.
func partialPath(outputPath string) string {
	ext := filepath.Ext(outputPath)
	return strings.TrimSuffix(outputPath, ext) + ".partial" + ext
}
