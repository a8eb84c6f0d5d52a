// Package gemini implements receipt.Extractor with the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"

	"fintrack/internal/core"
	"fintrack/internal/receipt"

	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

const prompt = `Analyze this receipt image and extract the following information in a structured JSON format:

{
  "merchant_name": "string",
  "date": "YYYY-MM-DD format",
  "time": "HH:MM format (24-hour)",
  "total_amount": "number (decimal)",
  "currency": "string (3-letter code if visible)",
  "tax_amount": "number (if available)",
  "items": [
    {
      "name": "string",
      "quantity": "number",
      "unit_price": "number",
      "total_price": "number"
    }
  ],
  "payment_method": "string (if visible)",
  "receipt_number": "string (if visible)",
  "category": "string (food, groceries, transport, entertainment, etc.)"
}

Please ensure:
- All monetary values are numbers without currency symbols
- Dates are in YYYY-MM-DD format
- Times are in 24-hour HH:MM format
- If any information is not clearly visible, use null for that field
- Categorize the expense based on the merchant type and items
- Return only the JSON object, no additional text`

var errEmptyResponse = errors.New("empty response from model")

type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Extractor struct {
	models generator
	model  string
}

var _ receipt.Extractor = (*Extractor)(nil)

// New creates an extractor backed by the Gemini Developer API.
func New(ctx context.Context, apiKey, model string) (*Extractor, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newExtractor(client.Models, model), nil
}

func newExtractor(models generator, model string) *Extractor {
	if model == "" {
		model = DefaultModel
	}
	return &Extractor{models: models, model: model}
}

// Extract sends the prompt and the image inline and returns the model text.
func (e *Extractor) Extract(ctx context.Context, img receipt.Image) (string, error) {
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: prompt},
				{
					InlineData: &genai.Blob{
						MIMEType: img.MIMEType,
						Data:     img.Data,
					},
				},
			},
		},
	}

	resp, err := e.models.GenerateContent(ctx, e.model, contents, nil)
	if err != nil {
		return "", core.ExternalService("gemini", err)
	}
	text := resp.Text()
	if text == "" {
		return "", core.ExternalService("gemini", errEmptyResponse)
	}
	return text, nil
}
