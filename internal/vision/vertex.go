package vision

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"
)

// VertexProvider is the alternate inference backend on Vertex AI. It satisfies
// the same Provider contract as the OpenAI implementation.
type VertexProvider struct {
	projectID string
	location  string
	credsFile string
	modelName string

	mu     sync.Mutex
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewVertexProvider constructs the provider. The underlying client is created
// lazily on first Send because it needs a context.
func NewVertexProvider(projectID, location, credsFile, modelName string) *VertexProvider {
	return &VertexProvider{
		projectID: projectID,
		location:  location,
		credsFile: credsFile,
		modelName: modelName,
	}
}

func (p *VertexProvider) load(ctx context.Context) (*genai.GenerativeModel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model != nil {
		return p.model, nil
	}
	opts := []option.ClientOption{}
	if p.credsFile != "" {
		opts = append(opts, option.WithCredentialsFile(p.credsFile))
	}
	client, err := genai.NewClient(ctx, p.projectID, p.location, opts...)
	if err != nil {
		return nil, fmt.Errorf("create vertex client: %w", err)
	}
	p.client = client
	p.model = client.GenerativeModel(p.modelName)
	return p.model, nil
}

// Send submits the photo and prompt and returns the raw model output.
func (p *VertexProvider) Send(ctx context.Context, image []byte, prompt string) (string, error) {
	gm, err := p.load(ctx)
	if err != nil {
		return "", &AnalysisError{Kind: KindProvider, Err: err}
	}
	img := genai.ImageData(strings.TrimPrefix(imageMIME(image), "image/"), image)
	resp, err := gm.GenerateContent(ctx, genai.Text(prompt), img)
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 {
		return "", &AnalysisError{Kind: KindMalformed, Err: fmt.Errorf("no candidates generated")}
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", &AnalysisError{Kind: KindMalformed, Err: fmt.Errorf("no content in candidate")}
	}
	return fmt.Sprintf("%v", candidate.Content.Parts[0]), nil
}

// Close releases the underlying client, if one was created.
func (p *VertexProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
