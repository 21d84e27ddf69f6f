package photopick

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Composition balance categories.
const (
	BalanceSymmetric  = "symmetric"
	BalanceAsymmetric = "asymmetric"
	BalanceUnbalanced = "unbalanced"
)

// Fallbacks used when the scorer omits a field or returns an unknown value.
const (
	fallbackScore        = 5.0
	fallbackBalance      = BalanceAsymmetric
	fallbackSharpness    = "acceptable"
	fallbackExposure     = "good"
	fallbackColorBalance = "natural"
	fallbackSceneType    = "general"
	maxSuggestions       = 2
)

var (
	balanceValues      = []string{BalanceSymmetric, BalanceAsymmetric, BalanceUnbalanced}
	sharpnessValues    = []string{"excellent", "good", "acceptable", "poor"}
	exposureValues     = []string{"perfect", "good", "overexposed", "underexposed"}
	colorBalanceValues = []string{"natural", "warm", "cool", "unbalanced"}
	sceneTypeValues    = []string{"portrait", "group", "landscape", "detail", "action", "ceremony", "general"}
)

// AdvisorSystemPrompt frames every scoring request.
const AdvisorSystemPrompt = `You are an expert event photographer selecting the best guest photos of social events. Always answer with valid JSON only.`

// Composition describes the framing of a photo.
type Composition struct {
	RuleOfThirds bool   `json:"ruleOfThirds"`
	Balance      string `json:"balance"`
	LeadingLines bool   `json:"leadingLines"`
}

// TechnicalQuality is the advisor's categorical view of technique.
type TechnicalQuality struct {
	Sharpness    string `json:"sharpness"`
	Exposure     string `json:"exposure"`
	ColorBalance string `json:"colorBalance"`
}

// AIAnalysis is the normalized advisor result. Numeric scores are on a 0-10
// scale; consumers divide by 10.
type AIAnalysis struct {
	AestheticScore   float64          `json:"aestheticScore"`
	ContextScore     float64          `json:"contextScore"`
	Composition      Composition      `json:"composition"`
	TechnicalQuality TechnicalQuality `json:"technicalQuality"`
	Emotions         []string         `json:"emotions"`
	SceneType        string           `json:"sceneType"`
	Memorability     float64          `json:"memorability"`
	Suggestions      []string         `json:"suggestions"`
	EventRelevance   float64          `json:"eventRelevance"`
	GroupPhoto       bool             `json:"groupPhoto"`
	Candid           bool             `json:"candid"`
}

// BuildAdvisorPrompt returns the user prompt sent with the preview image.
func BuildAdvisorPrompt(eventType EventType, eventName string) string {
	label := eventType.Label()
	name := strings.TrimSpace(strings.ReplaceAll(eventName, `"`, "'"))

	return fmt.Sprintf(`%s

Analyze this photo from the event "%s" (type: %s) and answer with a JSON object with these fields:

{
  "aestheticScore": number from 0 to 10 for overall aesthetic quality,
  "contextScore": number from 0 to 10 for relevance to the kind of event,
  "composition": {
    "ruleOfThirds": boolean, follows the rule of thirds,
    "balance": "symmetric", "asymmetric" or "unbalanced",
    "leadingLines": boolean, has leading lines
  },
  "technicalQuality": {
    "sharpness": "excellent", "good", "acceptable" or "poor",
    "exposure": "perfect", "good", "overexposed" or "underexposed",
    "colorBalance": "natural", "warm", "cool" or "unbalanced"
  },
  "emotions": array of detected emotions, e.g. ["joy", "excitement", "love"],
  "sceneType": one of "portrait", "group", "landscape", "detail", "action", "ceremony",
  "memorability": number from 0 to 10, how memorable the photo is,
  "eventRelevance": number from 0 to 10 for relevance to a %s,
  "groupPhoto": boolean, is a group photo,
  "candid": boolean, is spontaneous (not posed),
  "suggestions": array with at most 2 short improvement suggestions
}

Judge it as a %s photo and favour:
- genuine, emotional moments
- good composition and technique
- relevance to the event
- acceptable or better technical quality`, AdvisorSystemPrompt, name, label, label, label)
}

// ParseAnalysis decodes a scorer response and normalizes it. It fails only
// when the response is not a JSON object at all.
func ParseAnalysis(resp string) (*AIAnalysis, error) {
	body := stripCodeFence(resp)
	if body == "" {
		return nil, errors.New("photopick: empty advisor response")
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("photopick: advisor response is not a JSON object: %w", err)
	}
	a := NormalizeAnalysis(raw)
	return &a, nil
}

// NormalizeAnalysis builds a complete AIAnalysis from a loosely typed
// response. Missing or malformed numbers become 5, unknown categories fall
// back to a fixed default, and non-array lists become empty.
func NormalizeAnalysis(raw map[string]any) AIAnalysis {
	comp, _ := raw["composition"].(map[string]any)
	tech, _ := raw["technicalQuality"].(map[string]any)

	suggestions := stringList(raw["suggestions"])
	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}

	return AIAnalysis{
		AestheticScore: normalizeScore(raw["aestheticScore"]),
		ContextScore:   normalizeScore(raw["contextScore"]),
		Composition: Composition{
			RuleOfThirds: truthy(comp["ruleOfThirds"]),
			Balance:      enumValue(comp["balance"], balanceValues, fallbackBalance),
			LeadingLines: truthy(comp["leadingLines"]),
		},
		TechnicalQuality: TechnicalQuality{
			Sharpness:    enumValue(tech["sharpness"], sharpnessValues, fallbackSharpness),
			Exposure:     enumValue(tech["exposure"], exposureValues, fallbackExposure),
			ColorBalance: enumValue(tech["colorBalance"], colorBalanceValues, fallbackColorBalance),
		},
		Emotions:       stringList(raw["emotions"]),
		SceneType:      enumValue(raw["sceneType"], sceneTypeValues, fallbackSceneType),
		Memorability:   normalizeScore(raw["memorability"]),
		Suggestions:    suggestions,
		EventRelevance: normalizeScore(raw["eventRelevance"]),
		GroupPhoto:     truthy(raw["groupPhoto"]),
		Candid:         truthy(raw["candid"]),
	}
}

func normalizeScore(v any) float64 {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case json.Number:
		n, err := val.Float64()
		if err != nil {
			return fallbackScore
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return fallbackScore
		}
		f = n
	default:
		return fallbackScore
	}
	if math.IsNaN(f) {
		return fallbackScore
	}
	return math.Max(0, math.Min(10, f))
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		return err == nil && b
	case float64:
		return val != 0 && !math.IsNaN(val)
	default:
		return false
	}
}

func enumValue(v any, allowed []string, fallback string) string {
	s, ok := v.(string)
	if !ok {
		return fallback
	}
	s = strings.ToLower(strings.TrimSpace(s))
	for _, a := range allowed {
		if s == a {
			return s
		}
	}
	return fallback
}

// stringList keeps the non-empty strings of a JSON array. Anything that is not
// an array yields an empty, non-nil slice.
func stringList(v any) []string {
	out := []string{}
	items, ok := v.([]any)
	if !ok {
		return out
	}
	for _, item := range items {
		if s, ok := item.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// stripCodeFence removes a ```json fence some models wrap around JSON output.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Advise asks the scorer to rate a preview image. It returns (nil, false)
// when the advisor is unavailable: AI disabled, no scorer, scorer error,
// timeout or an unusable response. It never blocks the pipeline.
func (p *Pipeline) Advise(ctx context.Context, event EventInfo, preview []byte) (*AIAnalysis, bool) {
	if !p.cfg.AIEnabled || p.cfg.Scorer == nil || len(preview) == 0 {
		return nil, false
	}

	prompt := BuildAdvisorPrompt(event.Type, event.Name)

	var cacheKey string
	if p.cfg.Cache != nil {
		cacheKey = p.cfg.Cache.Key("photopick_ai", digest([]byte(prompt), preview))
		var cached AIAnalysis
		if p.cfg.Cache.Get(ctx, cacheKey, &cached) {
			return &cached, true
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.AITimeout)
	defer cancel()

	resp, err := p.cfg.Scorer.Score(callCtx, prompt, ImageInput{Data: preview, MIMEType: "image/jpeg"})
	if err != nil {
		p.logger.Warn("photopick: advisor unavailable", "event_id", event.ID, "error", err.Error())
		return nil, false
	}

	analysis, err := ParseAnalysis(resp)
	if err != nil {
		p.logger.Warn("photopick: advisor response rejected", "event_id", event.ID, "error", err.Error())
		return nil, false
	}

	if p.cfg.Cache != nil {
		p.cfg.Cache.Set(ctx, cacheKey, analysis)
	}
	return analysis, true
}

// AdviceRequest is one item of an AdviseBatch call.
type AdviceRequest struct {
	PhotoID string
	Event   EventInfo
	Preview []byte
}

// AdviseBatch scores items in chunks of Config.AIConcurrency, pausing
// Config.AIBatchPause between chunks. The result has an entry for every
// photo id; nil means the advisor was unavailable for that photo.
// Cancelling ctx stops scheduling new chunks.
func (p *Pipeline) AdviseBatch(ctx context.Context, items []AdviceRequest) map[string]*AIAnalysis {
	results := make(map[string]*AIAnalysis, len(items))
	for _, it := range items {
		results[it.PhotoID] = nil
	}

	limit := p.cfg.AIConcurrency
	var mu sync.Mutex

	for start := 0; start < len(items); start += limit {
		if start > 0 && !p.pause(ctx) {
			p.logger.Warn("photopick: advisor batch cancelled", "remaining", len(items)-start)
			break
		}

		end := min(start+limit, len(items))
		var wg sync.WaitGroup
		for _, it := range items[start:end] {
			wg.Add(1)
			go func(req AdviceRequest) {
				defer wg.Done()
				defer p.recoverPanic("adviseBatch")

				analysis, ok := p.Advise(ctx, req.Event, req.Preview)
				if !ok {
					return
				}
				mu.Lock()
				results[req.PhotoID] = analysis
				mu.Unlock()
			}(it)
		}
		wg.Wait()
	}

	return results
}

// pause waits AIBatchPause, returning false if ctx ends first.
func (p *Pipeline) pause(ctx context.Context) bool {
	if p.cfg.AIBatchPause <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(p.cfg.AIBatchPause)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
