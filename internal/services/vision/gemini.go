package vision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/common"
	"github.com/ternarybob/verso/internal/models"
	"google.golang.org/genai"
)

// GeminiProvider summarizes figures via the Google Gemini API.
type GeminiProvider struct {
	config  *common.VisionConfig
	logger  arbor.ILogger
	client  *genai.Client
	timeout time.Duration
	model   string
}

// NewGeminiProvider creates a Gemini-backed vision provider.
func NewGeminiProvider(cfg *common.VisionConfig, logger arbor.ILogger) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required for the gemini provider (set GEMINI_API_KEY or vision.api_key)")
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	logger.Debug().Str("model", model).Msg("Gemini vision provider initialized")
	return &GeminiProvider{
		config:  cfg,
		logger:  logger,
		client:  client,
		timeout: common.Duration(cfg.Timeout),
		model:   model,
	}, nil
}

// Name returns the provider identifier.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Enabled reports true; construction already required an API key.
func (p *GeminiProvider) Enabled() bool {
	return true
}

// Summarize sends the image and prompt to Gemini and parses the reply.
func (p *GeminiProvider) Summarize(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	prompt := req.Prompt
	if prompt == "" {
		prompt = defaultPrompt
	}

	contents := []*genai.Content{
		{
			Role: genai.RoleUser,
			Parts: []*genai.Part{
				genai.NewPartFromBytes(req.Image, req.MediaType),
				genai.NewPartFromText(prompt),
			},
		},
	}

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(p.config.Temperature),
		MaxOutputTokens: int32(p.config.MaxTokens),
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return nil, &models.TransientServiceError{Service: "gemini", Err: err}
	}

	var text strings.Builder
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				text.WriteString(part.Text)
			}
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("gemini returned no text content")
	}

	summary, data := parseResponse(text.String())
	return &Result{Summary: summary, Data: data}, nil
}

// Close releases the client. genai.Client has no explicit shutdown.
func (p *GeminiProvider) Close() error {
	p.client = nil
	return nil
}
