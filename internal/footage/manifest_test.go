package footage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const testManifest = `
clips:
  - cue: Show footage of Big Ben
    path: clips/big-ben.mp4
    duration_s: 6
    width: 1280
    height: 720
  - keywords: [harbour, dusk]
    url: https://cdn.example.com/harbour.mp4
  - cue: Show a two second flash
    path: /abs/flash.mp4
    duration_s: 2
`

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "footage.yaml")
	if err := os.WriteFile(path, []byte(testManifest), 0644); err != nil {
		t.Fatal(err)
	}

	r, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}

	ref, err := r.Resolve(context.Background(), NewQuery("[show footage of  BIG BEN]"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ref == nil {
		t.Fatal("expected a match")
	}
	wantPath := filepath.Join(dir, "clips", "big-ben.mp4")
	if ref.Path != wantPath {
		t.Errorf("expected path %s, got %s", wantPath, ref.Path)
	}
	if ref.URL != "file://"+wantPath {
		t.Errorf("expected file url, got %s", ref.URL)
	}
	if ref.DurationSeconds != 6 || ref.Width != 1280 || ref.Height != 720 {
		t.Errorf("clip metadata not carried: %+v", ref)
	}
	if ref.Source != "manifest" {
		t.Errorf("unexpected source %q", ref.Source)
	}
}

func TestManifestKeywords(t *testing.T) {
	r, err := ParseManifest([]byte(testManifest))
	if err != nil {
		t.Fatal(err)
	}

	ref, _ := r.Resolve(context.Background(), NewQuery("Show the harbour at dusk from above"))
	if ref == nil || ref.URL != "https://cdn.example.com/harbour.mp4" {
		t.Errorf("expected keyword match, got %+v", ref)
	}

	ref, _ = r.Resolve(context.Background(), NewQuery("Show the harbour at noon"))
	if ref != nil {
		t.Errorf("expected miss when a keyword is absent, got %+v", ref)
	}
}

func TestManifestMinDurationFilter(t *testing.T) {
	r, err := ParseManifest([]byte(testManifest))
	if err != nil {
		t.Fatal(err)
	}

	ref, _ := r.Resolve(context.Background(), NewQuery("Show a two second flash"))
	if ref != nil {
		t.Errorf("expected clip shorter than the minimum to be filtered, got %+v", ref)
	}

	q := NewQuery("Show a two second flash")
	q.Filters.MinDurationSeconds = 0
	ref, _ = r.Resolve(context.Background(), q)
	if ref == nil || ref.Path != "/abs/flash.mp4" {
		t.Errorf("expected absolute path untouched, got %+v", ref)
	}
}

func TestParseManifestValidation(t *testing.T) {
	cases := []string{
		"clips:\n  - cue: no source\n",
		"clips:\n  - path: a.mp4\n",
		"clips: [",
	}
	for _, c := range cases {
		if _, err := ParseManifest([]byte(c)); err == nil {
			t.Errorf("expected error for %q", c)
		}
	}
}
