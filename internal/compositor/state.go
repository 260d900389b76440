package compositor

import (
	"errors"
	"log"
)

var (
	// ErrResourceNotFound is returned when the base video or an overlay clip is missing.
	ErrResourceNotFound = errors.New("resource not found")
	// ErrDecode is returned when an input cannot be probed as video.
	ErrDecode = errors.New("decode failed")
	// ErrRender is returned when ffmpeg exits unsuccessfully or the output cannot be finalized.
	ErrRender = errors.New("render failed")
)

// State is the lifecycle of a single render.
type State int

const (
	StateIdle State = iota
	StateLoaded
	StateRendering
	StateRendered
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoaded:
		return "loaded"
	case StateRendering:
		return "rendering"
	case StateRendered:
		return "rendered"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transitions follow.
func (s State) Terminal() bool {
	return s == StateRendered || s == StateFailed
}

// Event is delivered to an Observer on every state transition and on each ffmpeg
// progress report while rendering.
type Event struct {
	State State
	// OutTimeSeconds is how far into the output ffmpeg has encoded.
	OutTimeSeconds float64
	// Fraction is OutTimeSeconds over the base duration, clamped to [0, 1].
	Fraction float64
	Err      error
}

// Observer receives render events. It is called from the rendering goroutine and
// must not block.
type Observer func(Event)

// LogObserver logs transitions and every 10% of progress.
func LogObserver(label string) Observer {
	lastDecile := -1
	return func(e Event) {
		if e.Err != nil {
			log.Printf("[Compositor] %s: %s (%v)", label, e.State, e.Err)
			return
		}
		if e.State != StateRendering || e.Fraction == 0 {
			log.Printf("[Compositor] %s: %s", label, e.State)
			return
		}
		if decile := int(e.Fraction * 10); decile > lastDecile {
			lastDecile = decile
			log.Printf("[Compositor] %s: %d%%", label, decile*10)
		}
	}
}

// machine tracks the current state and forwards transitions to the observer.
type machine struct {
	state State
	obs   Observer
}

func (m *machine) to(s State, err error) {
	m.state = s
	m.emit(Event{State: s, Err: err})
}

func (m *machine) progress(outTime, total float64) {
	frac := 0.0
	if total > 0 {
		frac = outTime / total
	}
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	m.emit(Event{State: m.state, OutTimeSeconds: outTime, Fraction: frac})
}

func (m *machine) emit(e Event) {
	if m.obs != nil {
		m.obs(e)
	}
}
