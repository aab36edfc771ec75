package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// OpenAIProvider speaks the chat-completions REST API directly. The image is
// embedded as a base64 data URL and the response format is pinned to a JSON
// object so the model cannot ramble.
type OpenAIProvider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewOpenAIProvider constructs the provider. Per-call timeouts come from the
// caller's context, so the embedded http.Client carries none of its own.
func NewOpenAIProvider(apiKey, model, baseURL string) *OpenAIProvider {
	return &OpenAIProvider{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Send submits the photo and prompt and returns the raw model output.
func (p *OpenAIProvider) Send(ctx context.Context, image []byte, prompt string) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(image)
	payload := chatRequest{
		Model: p.model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &imageURL{
					URL: "data:" + imageMIME(image) + ";base64," + encoded,
				}},
			},
		}},
	}
	payload.ResponseFormat.Type = "json_object"
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if err := classifyStatus(resp.StatusCode, data); err != nil {
		return "", err
	}
	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", &AnalysisError{Kind: KindMalformed, Err: fmt.Errorf("decode completion: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return "", &AnalysisError{Kind: KindMalformed, Err: fmt.Errorf("no choices in completion")}
	}
	return parsed.Choices[0].Message.Content, nil
}

// classifyStatus maps HTTP status codes onto the error taxonomy: 429 is rate
// limiting, 5xx is a provider fault, any other non-2xx is treated as final.
func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return &AnalysisError{Kind: KindRateLimited, Err: fmt.Errorf("status %d", status)}
	case status >= 500:
		return &AnalysisError{Kind: KindProvider, Err: fmt.Errorf("status %d", status)}
	default:
		return &AnalysisError{Kind: KindMalformed, Err: fmt.Errorf("status %d: %s", status, truncate(body, 200))}
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
