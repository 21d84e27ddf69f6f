package photopick

import (
	"context"
	"fmt"
	"strings"
)

// BuildSummaryPrompt aggregates stored analyses into a prompt for a short
// event recap: unique emotions, average aesthetic and memorability, count.
func BuildSummaryPrompt(event EventInfo, analyses []AIAnalysis) string {
	seen := make(map[string]bool)
	var emotions []string
	var aesthetic, memorability float64
	for _, a := range analyses {
		aesthetic += a.AestheticScore
		memorability += a.Memorability
		for _, e := range a.Emotions {
			e = strings.ToLower(e)
			if !seen[e] {
				seen[e] = true
				emotions = append(emotions, e)
			}
		}
	}
	n := float64(max(len(analyses), 1))

	return fmt.Sprintf(`You are an event photography expert who writes warm, concise recaps.

Write a short, positive summary (at most 3 sentences) of the event "%s" (%s) based on:
- Emotions detected: %s
- Average aesthetic quality: %.1f/10
- Average memorability: %.1f/10
- Photos analyzed: %d

Capture the essence of the event.`,
		event.Name, event.Type.Label(), strings.Join(emotions, ", "), aesthetic/n, memorability/n, len(analyses))
}

// SummarizeEvent writes a recap from the event's stored AI analyses. It
// returns "" with no error when AI or the summarizer is unavailable or no
// analyses exist.
func (p *Pipeline) SummarizeEvent(ctx context.Context, event EventInfo) (string, error) {
	if !p.cfg.AIEnabled || p.cfg.Summarizer == nil {
		return "", nil
	}

	analyses, err := p.cfg.Store.EventAnalyses(ctx, event.ID)
	if err != nil {
		return "", storeError("event_analyses", "", err)
	}
	if len(analyses) == 0 {
		return "", nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.AITimeout)
	defer cancel()

	text, err := p.cfg.Summarizer.Summarize(ctx, BuildSummaryPrompt(event, analyses))
	if err != nil {
		return "", fmt.Errorf("photopick: summarize event %s: %w", event.ID, err)
	}
	return strings.TrimSpace(text), nil
}
