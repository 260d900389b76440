package footage

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bobarin/cueframe/internal/models"
)

func timedCues(texts ...string) []models.TimedCue {
	cues := make([]models.TimedCue, len(texts))
	for i, text := range texts {
		cues[i] = models.TimedCue{
			Annotation:       models.Annotation{Position: i, CueText: text},
			TimestampSeconds: float64(i),
		}
	}
	return cues
}

func TestDefaultFilters(t *testing.T) {
	f := DefaultFilters()
	if f.Limit != 1 {
		t.Errorf("expected limit 1, got %d", f.Limit)
	}
	if f.MinRelevance != 0.7 || f.MinQuality != 0.8 {
		t.Errorf("unexpected score thresholds: %+v", f)
	}
	if f.MinDurationSeconds != 3 {
		t.Errorf("expected min duration 3, got %v", f.MinDurationSeconds)
	}
	if f.Format != "raw_video_480p" {
		t.Errorf("unexpected format %q", f.Format)
	}
	if len(f.Exclude) != 3 {
		t.Errorf("expected 3 exclusions, got %v", f.Exclude)
	}
}

func TestNewQueryStripsBrackets(t *testing.T) {
	q := NewQuery(" [Show Big Ben at night] ")
	if q.Text != "Show Big Ben at night" {
		t.Errorf("unexpected query text %q", q.Text)
	}
}

func TestResolveAllPreservesOrder(t *testing.T) {
	cues := timedCues("a", "b", "c", "d", "e", "f", "g", "h")

	r := ResolverFunc(func(ctx context.Context, q Query) (*models.ClipRef, error) {
		// Finish in scrambled order.
		time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
		return &models.ClipRef{URL: "https://clips.test/" + q.Text + ".mp4"}, nil
	})

	refs := ResolveAll(context.Background(), r, cues, 4)
	if len(refs) != len(cues) {
		t.Fatalf("expected %d results, got %d", len(cues), len(refs))
	}
	for i, ref := range refs {
		want := "https://clips.test/" + cues[i].CueText + ".mp4"
		if ref == nil || ref.URL != want {
			t.Errorf("slot %d: expected %s, got %+v", i, want, ref)
		}
	}
}

func TestResolveAllErrorsAndMissesLeaveNilSlots(t *testing.T) {
	cues := timedCues("hit", "boom", "miss", "empty")

	r := ResolverFunc(func(ctx context.Context, q Query) (*models.ClipRef, error) {
		switch q.Text {
		case "hit":
			return &models.ClipRef{URL: "https://clips.test/hit.mp4"}, nil
		case "boom":
			return nil, errors.New("provider down")
		case "empty":
			return &models.ClipRef{}, nil
		}
		return nil, nil
	})

	refs := ResolveAll(context.Background(), r, cues, 2)
	if refs[0] == nil {
		t.Error("expected slot 0 resolved")
	}
	for i := 1; i < len(refs); i++ {
		if refs[i] != nil {
			t.Errorf("expected slot %d to be a miss, got %+v", i, refs[i])
		}
	}
}

func TestResolveAllRespectsConcurrency(t *testing.T) {
	cues := timedCues("1", "2", "3", "4", "5", "6", "7", "8", "9", "10")

	var (
		inFlight int32
		peak     int32
		mu       sync.Mutex
	)
	r := ResolverFunc(func(ctx context.Context, q Query) (*models.ClipRef, error) {
		n := atomic.AddInt32(&inFlight, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return &models.ClipRef{URL: fmt.Sprintf("https://clips.test/%s.mp4", q.Text)}, nil
	})

	ResolveAll(context.Background(), r, cues, 3)
	if peak > 3 {
		t.Errorf("expected at most 3 lookups in flight, saw %d", peak)
	}
}

func TestResolveAllCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int32
	r := ResolverFunc(func(ctx context.Context, q Query) (*models.ClipRef, error) {
		atomic.AddInt32(&calls, 1)
		return &models.ClipRef{URL: "x"}, nil
	})

	refs := ResolveAll(ctx, r, timedCues("a", "b"), 2)
	for i, ref := range refs {
		if ref != nil {
			t.Errorf("slot %d resolved after cancellation", i)
		}
	}
	if calls != 0 {
		t.Errorf("expected no provider calls, got %d", calls)
	}
}

func TestResolveAllEmpty(t *testing.T) {
	refs := ResolveAll(context.Background(), ResolverFunc(func(context.Context, Query) (*models.ClipRef, error) {
		t.Fatal("resolver should not be called")
		return nil, nil
	}), nil, 4)
	if len(refs) != 0 {
		t.Errorf("expected empty result, got %v", refs)
	}
}
