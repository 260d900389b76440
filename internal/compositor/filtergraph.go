package compositor

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/bobarin/cueframe/internal/models"
)

// overlay is a timeline entry after probing: where it sits, how big it is, and
// the window it is active in.
type overlay struct {
	Entry models.TimelineEntry
	Clip  models.OverlayClip

	Start    float64 // T
	Duration float64 // E, after clamping to the clip's probed length
	End      float64 // min(T+E, D)

	Width, Height int // scaled size
	X, Y          int // top-left on the base frame
}

// fitScale scales (cw, ch) uniformly so it fits inside (w, h), touching at least
// one edge. Sizes are rounded down to even numbers for yuv420p.
func fitScale(w, h, cw, ch int) (int, int) {
	if cw <= 0 || ch <= 0 {
		return even(w), even(h)
	}
	s := math.Min(float64(w)/float64(cw), float64(h)/float64(ch))
	sw := even(int(math.Floor(float64(cw) * s)))
	sh := even(int(math.Floor(float64(ch) * s)))
	if sw < 2 {
		sw = 2
	}
	if sh < 2 {
		sh = 2
	}
	return sw, sh
}

func even(n int) int {
	return n &^ 1
}

// placeOverlay computes the scaled size, centered position and active window.
func placeOverlay(base models.BaseVideo, entry models.TimelineEntry, clip models.OverlayClip) overlay {
	dur := entry.EffectiveDurationSeconds
	if clip.DurationSeconds > 0 && clip.DurationSeconds < dur {
		dur = clip.DurationSeconds
	}

	sw, sh := fitScale(base.Width, base.Height, clip.NaturalWidth, clip.NaturalHeight)

	return overlay{
		Entry:    entry,
		Clip:     clip,
		Start:    entry.TimestampSeconds,
		Duration: dur,
		End:      math.Min(entry.TimestampSeconds+dur, base.DurationSeconds),
		Width:    sw,
		Height:   sh,
		X:        (base.Width - sw) / 2,
		Y:        (base.Height - sh) / 2,
	}
}

// fadeDuration halves the configured fade when the window cannot fit a full fade
// in and out.
func fadeDuration(fade, window float64) float64 {
	if fade <= 0 {
		return 0
	}
	if window < 2*fade {
		return window / 2
	}
	return fade
}

// buildFilterGraph produces the filter_complex for the base video (input 0) and
// overlays (input i+1). Each overlay is stacked on the previous result as a
// backdrop then the clip, so later overlays land on top. The graph's output is [vout].
func buildFilterGraph(overlays []overlay, opts Options) string {
	if len(overlays) == 0 {
		return "[0:v]null[vout]"
	}

	var b strings.Builder
	prev := "0:v"

	for i, ov := range overlays {
		in := i + 1
		fade := fadeDuration(opts.FadeSeconds, ov.Duration)
		enable := fmt.Sprintf("enable='between(t,%s,%s)'", num(ov.Start), num(ov.End))

		// Clip: trimmed to its window, scaled, faded through alpha, shifted to T.
		fmt.Fprintf(&b, "[%d:v]trim=duration=%s,setpts=PTS-STARTPTS,scale=%d:%d,format=yuva420p",
			in, num(ov.Duration), ov.Width, ov.Height)
		if fade > 0 {
			fmt.Fprintf(&b, ",fade=t=in:st=0:d=%s:alpha=1,fade=t=out:st=%s:d=%s:alpha=1",
				num(fade), num(ov.Duration-fade), num(fade))
		}
		fmt.Fprintf(&b, ",setpts=PTS+%s/TB[ov%d];", num(ov.Start), i)

		// Backdrop: a translucent black box over the whole frame for the window.
		fmt.Fprintf(&b, "[%s]drawbox=x=0:y=0:w=iw:h=ih:color=black@%s:t=fill:%s[bg%d];",
			prev, num(opts.BackdropOpacity), enable, i)

		out := fmt.Sprintf("v%d", i)
		if i == len(overlays)-1 {
			out = "vout"
		}
		fmt.Fprintf(&b, "[bg%d][ov%d]overlay=x=%d:y=%d:%s:eof_action=pass[%s]",
			i, i, ov.X, ov.Y, enable, out)
		if i < len(overlays)-1 {
			b.WriteByte(';')
		}
		prev = out
	}

	return b.String()
}

// buildArgs assembles the ffmpeg command line. Only the base video's audio is
// mapped; overlay audio is discarded.
func buildArgs(base models.BaseVideo, overlays []overlay, filterScript, output string, opts Options) []string {
	args := []string{"-hide_banner", "-nostats", "-y", "-i", base.Path}
	for _, ov := range overlays {
		args = append(args, "-i", ov.Clip.Path)
	}

	args = append(args,
		"-filter_complex_script", filterScript,
		"-map", "[vout]",
	)
	if base.HasAudio {
		args = append(args, "-map", "0:a:0")
	}

	args = append(args,
		"-c:v", opts.VideoCodec,
		"-preset", opts.Preset,
		"-crf", strconv.Itoa(opts.CRF),
		"-pix_fmt", "yuv420p",
	)
	if base.HasAudio {
		args = append(args, "-c:a", "aac", "-b:a", opts.AudioBitrate)
	} else {
		args = append(args, "-an")
	}

	args = append(args,
		"-t", num(base.DurationSeconds),
		"-movflags", "+faststart",
		"-progress", "pipe:1",
		output,
	)
	return args
}

// num formats seconds with millisecond precision and no trailing zeros.
func num(v float64) string {
	return strconv.FormatFloat(math.Round(v*1000)/1000, 'f', -1, 64)
}
