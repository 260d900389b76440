package footage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bobarin/cueframe/internal/models"
	"gopkg.in/yaml.v3"
)

// Manifest maps cue text to local or remote clips.
//
//	clips:
//	  - cue: Show footage of Big Ben
//	    path: clips/big-ben.mp4
//	    duration_s: 6
//	  - keywords: [harbour, dusk]
//	    url: https://cdn.example.com/harbour.mp4
type Manifest struct {
	Clips []ManifestClip `yaml:"clips"`
}

// ManifestClip is one manifest entry. Cue matches the whole query text; Keywords
// match when every keyword appears in it. Matching ignores case.
type ManifestClip struct {
	Cue             string   `yaml:"cue,omitempty"`
	Keywords        []string `yaml:"keywords,omitempty"`
	Path            string   `yaml:"path,omitempty"`
	URL             string   `yaml:"url,omitempty"`
	DurationSeconds float64  `yaml:"duration_s,omitempty"`
	Width           int      `yaml:"width,omitempty"`
	Height          int      `yaml:"height,omitempty"`
}

// ManifestResolver serves clips from a Manifest. The first matching entry wins.
type ManifestResolver struct {
	manifest Manifest
	baseDir  string
}

// LoadManifest reads a YAML manifest. Relative clip paths resolve against the
// manifest's directory.
func LoadManifest(path string) (*ManifestResolver, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	r, err := ParseManifest(contents)
	if err != nil {
		return nil, err
	}
	r.baseDir = filepath.Dir(path)
	return r, nil
}

// ParseManifest decodes manifest YAML.
func ParseManifest(contents []byte) (*ManifestResolver, error) {
	var m Manifest
	if err := yaml.Unmarshal(contents, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}

	for i, c := range m.Clips {
		if c.Path == "" && c.URL == "" {
			return nil, fmt.Errorf("manifest clip %d: path or url is required", i)
		}
		if strings.TrimSpace(c.Cue) == "" && len(c.Keywords) == 0 {
			return nil, fmt.Errorf("manifest clip %d: cue or keywords is required", i)
		}
	}

	return &ManifestResolver{manifest: m}, nil
}

func (r *ManifestResolver) Resolve(ctx context.Context, q Query) (*models.ClipRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := normalize(q.Text)
	for _, c := range r.manifest.Clips {
		if !c.matches(text) {
			continue
		}
		if q.Filters.MinDurationSeconds > 0 && c.DurationSeconds > 0 && c.DurationSeconds < q.Filters.MinDurationSeconds {
			continue
		}
		return r.clipRef(c), nil
	}
	return nil, nil
}

func (c ManifestClip) matches(text string) bool {
	if c.Cue != "" {
		return normalize(c.Cue) == text
	}
	for _, kw := range c.Keywords {
		if !strings.Contains(text, normalize(kw)) {
			return false
		}
	}
	return true
}

func (r *ManifestResolver) clipRef(c ManifestClip) *models.ClipRef {
	ref := &models.ClipRef{
		URL:             c.URL,
		DurationSeconds: c.DurationSeconds,
		Width:           c.Width,
		Height:          c.Height,
		RelevanceScore:  1,
		QualityScore:    1,
		Source:          "manifest",
	}
	if c.Path != "" {
		ref.Path = c.Path
		if !filepath.IsAbs(ref.Path) && r.baseDir != "" {
			ref.Path = filepath.Join(r.baseDir, ref.Path)
		}
		if ref.URL == "" {
			ref.URL = "file://" + ref.Path
		}
	}
	return ref
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
