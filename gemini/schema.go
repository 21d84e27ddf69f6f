package gemini

import "github.com/google/generative-ai-go/genai"

func enumSchema(description string, values ...string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: description, Enum: values}
}

func numberSchema(description string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeNumber, Description: description}
}

func boolSchema(description string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeBoolean, Description: description}
}

func stringListSchema(description string) *genai.Schema {
	return &genai.Schema{
		Type:        genai.TypeArray,
		Description: description,
		Items:       &genai.Schema{Type: genai.TypeString},
	}
}

// analysisSchema mirrors photopick.AIAnalysis so the model answers in JSON mode.
func analysisSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"aestheticScore": numberSchema("overall aesthetic quality, 0 to 10"),
			"contextScore":   numberSchema("relevance to the kind of event, 0 to 10"),
			"composition": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"ruleOfThirds": boolSchema("follows the rule of thirds"),
					"balance":      enumSchema("visual balance", "symmetric", "asymmetric", "unbalanced"),
					"leadingLines": boolSchema("has leading lines"),
				},
				Required: []string{"ruleOfThirds", "balance", "leadingLines"},
			},
			"technicalQuality": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"sharpness":    enumSchema("focus quality", "excellent", "good", "acceptable", "poor"),
					"exposure":     enumSchema("exposure quality", "perfect", "good", "overexposed", "underexposed"),
					"colorBalance": enumSchema("color balance", "natural", "warm", "cool", "unbalanced"),
				},
				Required: []string{"sharpness", "exposure", "colorBalance"},
			},
			"emotions":       stringListSchema("detected emotions"),
			"sceneType":      enumSchema("scene category", "portrait", "group", "landscape", "detail", "action", "ceremony"),
			"memorability":   numberSchema("how memorable the photo is, 0 to 10"),
			"eventRelevance": numberSchema("relevance to this specific event, 0 to 10"),
			"groupPhoto":     boolSchema("is a group photo"),
			"candid":         boolSchema("is spontaneous rather than posed"),
			"suggestions":    stringListSchema("at most two short improvement suggestions"),
		},
		Required: []string{
			"aestheticScore", "contextScore", "composition", "technicalQuality", "emotions",
			"sceneType", "memorability", "eventRelevance", "groupPhoto", "candid", "suggestions",
		},
	}
}
