package textgen

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/julianstephens/guardian/internal/config"
)

const systemPrompt = `You are a calm, brief work-session coach.
Speak directly to the user in one or two short sentences.
Offer exactly the intervention you are asked to offer and nothing else.
Never give medical advice.`

// Client generates text with Gemini, on Vertex AI or the Gemini API.
type Client struct {
	client *genai.Client
	model  string
}

// NewVertex uses application default credentials with cfg.Project and
// cfg.Region.
func NewVertex(ctx context.Context, cfg config.TextgenConfig) (*Client, error) {
	if cfg.Project == "" || cfg.Region == "" {
		return nil, fmt.Errorf("vertex provider needs textgen.project and textgen.region")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  cfg.Project,
		Location: cfg.Region,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Vertex AI client: %w", err)
	}
	return &Client{client: c, model: cfg.Model}, nil
}

// NewGemini uses the Gemini API with an API key.
func NewGemini(ctx context.Context, cfg config.TextgenConfig, apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is empty")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}
	return &Client{client: c, model: cfg.Model}, nil
}

func (c *Client) Generate(ctx context.Context, prompt string, data map[string]any) (string, error) {
	user := prompt
	if len(data) > 0 {
		user += "\n\nContext:\n" + renderData(data)
	}

	temp := float32(0.6)
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       &temp,
		MaxOutputTokens:   256,
	}
	contents := []*genai.Content{genai.NewContentFromText(user, genai.RoleUser)}

	res, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	text := res.Text()
	if text == "" {
		return "", fmt.Errorf("model returned empty text")
	}
	return text, nil
}
