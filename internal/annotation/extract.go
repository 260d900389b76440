package annotation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bobarin/cueframe/internal/models"
)

// ---------------------------------------------------------------------------
// Cue extraction
//
// A narration script carries visual cues in square brackets:
//
//	"Welcome to Kyoto [Show footage of Kiyomizu-dera] where old meets new"
//
// Extract removes every cue span and anchors each cue to the index of the
// narration word that followed it in the cleaned text ("where" above, index 3).
// ---------------------------------------------------------------------------

// ErrMalformedAnnotation is returned in strict mode when a cue is opened but never closed.
var ErrMalformedAnnotation = errors.New("malformed annotation")

// Mode controls how an unterminated cue is handled.
type Mode int

const (
	// ModeLenient treats an unterminated cue as running to the end of the script.
	ModeLenient Mode = iota
	// ModeStrict rejects an unterminated cue with ErrMalformedAnnotation.
	ModeStrict
)

func (m Mode) String() string {
	if m == ModeStrict {
		return "strict"
	}
	return "lenient"
}

// Result is the output of Extract.
type Result struct {
	Cleaned     string
	WordCount   int
	Annotations []models.Annotation
}

// Words splits the cleaned text into the words positions index into.
func (r *Result) Words() []string {
	return strings.Fields(r.Cleaned)
}

// Extract scans raw once, token by token. Tokens from the one containing "[" up to
// and including the one containing "]" form a cue and never count as narration
// words. Two cues with no narration word between them share a position; the later
// one replaces the earlier.
func Extract(raw string, mode Mode) (*Result, error) {
	tokens := strings.Fields(raw)

	var (
		words       = make([]string, 0, len(tokens))
		annotations []models.Annotation
		run         []string
		inCue       bool
		cueStart    int
	)

	emit := func(cueTokens []string) {
		text := cueText(cueTokens)
		if text == "" {
			return
		}
		a := models.Annotation{Position: len(words), CueText: text}
		if n := len(annotations); n > 0 && annotations[n-1].Position == a.Position {
			annotations[n-1] = a
			return
		}
		annotations = append(annotations, a)
	}

	for i, tok := range tokens {
		if !inCue && strings.Contains(tok, "[") {
			inCue = true
			cueStart = i
			run = run[:0]
		}

		if !inCue {
			words = append(words, tok)
			continue
		}

		run = append(run, tok)
		if closesCue(tok, len(run) == 1) {
			emit(run)
			inCue = false
		}
	}

	if inCue {
		if mode == ModeStrict {
			return nil, fmt.Errorf("%w: cue opened at token %d is never closed", ErrMalformedAnnotation, cueStart)
		}
		emit(run)
	}

	return &Result{
		Cleaned:     strings.Join(words, " "),
		WordCount:   len(words),
		Annotations: annotations,
	}, nil
}

// closesCue reports whether tok ends the current cue. On the opening token only a
// "]" after the "[" counts, so "x][y" does not close itself.
func closesCue(tok string, opening bool) bool {
	if !opening {
		return strings.Contains(tok, "]")
	}
	open := strings.Index(tok, "[")
	return strings.Contains(tok[open+1:], "]")
}

// cueText joins the run with single spaces and keeps what sits between the first
// "[" and the last "]". Stray bracket characters inside are dropped.
func cueText(run []string) string {
	joined := strings.Join(run, " ")

	inner := joined[strings.Index(joined, "[")+1:]
	if end := strings.LastIndex(inner, "]"); end >= 0 {
		inner = inner[:end]
	}

	inner = strings.NewReplacer("[", "", "]", "").Replace(inner)
	return strings.Join(strings.Fields(inner), " ")
}

// StripBrackets normalizes cue text for a footage query: surrounding brackets
// removed and whitespace trimmed.
func StripBrackets(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "[]"))
}
