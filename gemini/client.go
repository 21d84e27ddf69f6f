// Package gemini adapts the Google Gemini API to the photopick Scorer and
// Summarizer interfaces.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	photopick "github.com/anatolykoptev/go-photopick"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-1.5-flash"

const (
	scoreTemperature   = 0.3
	summaryTemperature = 0.7
	maxOutputTokens    = 1024
	summaryMaxTokens   = 256
)

var errEmptyResponse = errors.New("gemini: empty response")

// Client implements photopick.Scorer and photopick.Summarizer.
type Client struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

var (
	_ photopick.Scorer     = (*Client)(nil)
	_ photopick.Summarizer = (*Client)(nil)
)

// NewClient connects to Gemini with an API key. An empty model selects DefaultModel.
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	return &Client{
		client: client,
		model:  model,
		logger: slog.Default().With("component", "gemini"),
	}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Score sends the preview and prompt in JSON mode and returns the raw JSON text.
func (c *Client) Score(ctx context.Context, prompt string, image photopick.ImageInput) (string, error) {
	model := c.client.GenerativeModel(c.model)
	configureScoring(model)

	mime := image.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}

	resp, err := model.GenerateContent(ctx,
		genai.Blob{MIMEType: mime, Data: image.Data},
		genai.Text(prompt),
	)
	if err != nil {
		return "", fmt.Errorf("gemini: generate: %w", err)
	}

	text, err := extractText(resp)
	if err != nil {
		return "", err
	}
	c.logger.Debug("gemini: scored", "model", c.model, "bytes", len(text))
	return text, nil
}

// Summarize runs a plain-text completion for the event summary.
func (c *Client) Summarize(ctx context.Context, prompt string) (string, error) {
	model := c.client.GenerativeModel(c.model)
	model.Temperature = toPtr(float32(summaryTemperature))
	model.MaxOutputTokens = toPtr(int32(summaryMaxTokens))

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini: generate summary: %w", err)
	}
	return extractText(resp)
}

func configureScoring(model *genai.GenerativeModel) {
	model.SystemInstruction = genai.NewUserContent(genai.Text(photopick.AdvisorSystemPrompt))
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = analysisSchema()
	model.Temperature = toPtr(float32(scoreTemperature))
	model.MaxOutputTokens = toPtr(int32(maxOutputTokens))
}

// extractText concatenates the text parts of the first candidate.
func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errEmptyResponse
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("%w (finish reason %v)", errEmptyResponse, candidate.FinishReason)
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("gemini: unexpected response part %T", candidate.Content.Parts[0])
	}
	return sb.String(), nil
}

func toPtr[T any](v T) *T {
	return &v
}
