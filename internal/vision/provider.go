package vision

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Jekudy/nutrition-bot/internal/config"
)

// Provider is the contract with the external inference service: one photo plus
// a prompt template in, one raw response out. The pipeline depends only on
// this interface, never on a specific vendor.
type Provider interface {
	Send(ctx context.Context, image []byte, prompt string) (string, error)
}

// FoodPrompt instructs the model to answer in the strict numeric schema the
// parser expects. When uncertain the model should overestimate calories rather
// than underestimate.
const FoodPrompt = `Analyze this photograph of food and estimate its total nutrition.

Identify every visible dish, estimate portion weights, and account for cooking
method, sauces, and hidden ingredients such as oil or sugar. When uncertain,
prefer the higher calorie estimate.

Respond with a single JSON object and nothing else:
{
  "calories": number,
  "protein_g": number,
  "fat_g": number,
  "carbs_g": number
}
All four fields are required and must be numbers.`

// imageMIME sniffs the image content type so providers declare what was
// actually uploaded; ingestion admits JPEG, PNG, and WebP alike.
func imageMIME(image []byte) string {
	sniff := image
	if len(sniff) > 512 {
		sniff = sniff[:512]
	}
	return http.DetectContentType(sniff)
}

// NewProvider builds the configured provider implementation.
func NewProvider(cfg *config.Config) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is not set")
		}
		return NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL), nil
	case "vertex":
		if cfg.VertexProjectID == "" {
			return nil, fmt.Errorf("GOOGLE_PROJECT_ID is not set")
		}
		return NewVertexProvider(cfg.VertexProjectID, cfg.VertexLocation, cfg.VertexCredsFile, cfg.VertexModel), nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cfg.Provider)
	}
}
