package photopick

import "math"

// Fusion weights applied when an AI analysis is available.
const (
	weightTechnical      = 0.25
	weightAesthetic      = 0.20
	weightContext        = 0.15
	weightMemorability   = 0.15
	weightComposition    = 0.10
	weightEmotion        = 0.10
	weightEventRelevance = 0.05

	bonusCandid = 0.05
	bonusGroup  = 0.05

	groupAestheticFloor = 7.0
	emotionPerItem      = 2.5
)

// ScoreSignal is one contribution to a fused score.
type ScoreSignal struct {
	Name   string  // e.g. "technical", "aesthetic", "candid_bonus"
	Value  float64 // normalized input in [0,1]; 1 for bonuses
	Weight float64
}

// Contribution is Value*Weight.
func (s ScoreSignal) Contribution() float64 { return s.Value * s.Weight }

// ScoreAssessment is a fused score with the signals that produced it.
type ScoreAssessment struct {
	Score   float64
	AIUsed  bool
	Signals []ScoreSignal // never nil
}

// Fuse combines the basic analysis with an optional AI analysis into one
// score in [0,1]. Without AI the basic quality score is returned unchanged.
func Fuse(basic BasicAnalysis, ai *AIAnalysis) float64 {
	return AssessScore(basic, ai).Score
}

// AssessScore is Fuse with a per-signal breakdown for diagnostics.
func AssessScore(basic BasicAnalysis, ai *AIAnalysis) ScoreAssessment {
	if ai == nil {
		return ScoreAssessment{
			Score:   basic.QualityScore,
			Signals: []ScoreSignal{{Name: "basic", Value: basic.QualityScore, Weight: 1}},
		}
	}

	signals := make([]ScoreSignal, 0, 9) //nolint:mnd // 7 weighted signals + 2 bonuses
	signals = append(signals,
		ScoreSignal{Name: "technical", Value: basic.QualityScore, Weight: weightTechnical},
		ScoreSignal{Name: "aesthetic", Value: ai.AestheticScore / 10, Weight: weightAesthetic},
		ScoreSignal{Name: "context", Value: ai.ContextScore / 10, Weight: weightContext},
		ScoreSignal{Name: "memorability", Value: ai.Memorability / 10, Weight: weightMemorability},
		ScoreSignal{Name: "composition", Value: compositionScore(ai.Composition), Weight: weightComposition},
		ScoreSignal{Name: "emotion", Value: emotionRichness(ai.Emotions), Weight: weightEmotion},
		ScoreSignal{Name: "event_relevance", Value: ai.EventRelevance / 10, Weight: weightEventRelevance},
	)
	if ai.Candid {
		signals = append(signals, ScoreSignal{Name: "candid_bonus", Value: 1, Weight: bonusCandid})
	}
	if ai.GroupPhoto && ai.AestheticScore > groupAestheticFloor {
		signals = append(signals, ScoreSignal{Name: "group_bonus", Value: 1, Weight: bonusGroup})
	}

	var total float64
	for _, s := range signals {
		total += s.Contribution()
	}

	return ScoreAssessment{
		Score:   clamp01(total),
		AIUsed:  true,
		Signals: signals,
	}
}

func compositionScore(c Composition) float64 {
	var pts float64
	if c.RuleOfThirds {
		pts += 3
	}
	if c.Balance != BalanceUnbalanced {
		pts += 3
	}
	if c.LeadingLines {
		pts += 4
	}
	return pts / 10
}

func emotionRichness(emotions []string) float64 {
	return math.Min(10, float64(len(emotions))*emotionPerItem) / 10
}
