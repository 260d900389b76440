package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/bobarin/cueframe/internal/annotation"
)

// ---------------------------------------------------------------------------
// ScriptWriter is the common interface for the LLM providers that write narration
// scripts. Output is an annotated script: narration with bracketed footage cues.
// ---------------------------------------------------------------------------

type ScriptWriter interface {
	WriteScript(ctx context.Context, destination, language string) (string, error)
}

const (
	defaultScriptLanguage = "English"
	targetScriptWords     = 450 // About three minutes of narration
	minScriptCues         = 3
)

func buildScriptSystemPrompt(language string) string {
	return fmt.Sprintf(`You are an expert travel vlogger scriptwriter. You write narration that is read aloud over a presenter video, with short stock-footage overlays cut in at marked moments.

LANGUAGE: %s
Write the narration in %s. Footage cues stay in English so they can be searched.

FOOTAGE CUES - CRITICAL:
- Mark every moment that should cut to supplementary footage with a cue in square brackets, e.g. [Show footage of Kiyomizu-dera Temple] or [Close up of sizzling takoyaki].
- Place the cue immediately BEFORE the words it should play over.
- Each cue describes one short, concrete, filmable shot (a place, a dish, a street scene). No abstract ideas, no on-screen text, no people's names.
- Never nest brackets and never use square brackets for anything else.
- Use between %d and 12 cues, spread across the whole script.

CONTENT:
- Catchy introduction that hooks the viewer and names the destination.
- Popular landmarks and attractions.
- Local cuisine, specific dishes and where to eat them.
- Practical travel tips and lesser-known spots.
- A friendly outro.

STYLE:
- Enthusiastic, friendly and informative, like a popular travel vlogger.
- Short spoken sentences. No headings, no stage directions other than the footage cues, no markdown.
- Aim for about %d words of narration.

Return only the script.`, language, language, minScriptCues, targetScriptWords)
}

func buildScriptUserPrompt(destination string) string {
	return fmt.Sprintf("Write the travel guide narration script for: %q", destination)
}

// cleanScriptResponse strips the wrappers models add around a plain-text answer
// and checks the result carries at least one cue.
func cleanScriptResponse(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if nl := strings.Index(s, "\n"); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if s == "" {
		return "", fmt.Errorf("empty script")
	}

	res, err := annotation.Extract(s, annotation.ModeStrict)
	if err != nil {
		return "", fmt.Errorf("script has malformed cues: %w", err)
	}
	if len(res.Annotations) == 0 {
		return "", fmt.Errorf("script has no footage cues")
	}
	if res.WordCount == 0 {
		return "", fmt.Errorf("script has no narration")
	}
	return s, nil
}

func scriptLanguage(language string) string {
	if strings.TrimSpace(language) == "" {
		return defaultScriptLanguage
	}
	return strings.TrimSpace(language)
}
