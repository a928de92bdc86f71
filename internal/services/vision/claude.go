package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/common"
	"github.com/ternarybob/verso/internal/models"
)

// ClaudeProvider summarizes figures via the Anthropic API.
type ClaudeProvider struct {
	config  *common.VisionConfig
	logger  arbor.ILogger
	client  *anthropic.Client
	timeout time.Duration
	model   string
}

// NewClaudeProvider creates a Claude-backed vision provider.
func NewClaudeProvider(cfg *common.VisionConfig, logger arbor.ILogger) (*ClaudeProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required for the claude provider (set ANTHROPIC_API_KEY or vision.api_key)")
	}

	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))

	logger.Debug().Str("model", model).Msg("Claude vision provider initialized")
	return &ClaudeProvider{
		config:  cfg,
		logger:  logger,
		client:  &client,
		timeout: common.Duration(cfg.Timeout),
		model:   model,
	}, nil
}

// Name returns the provider identifier.
func (p *ClaudeProvider) Name() string {
	return "claude"
}

// Enabled reports true; construction already required an API key.
func (p *ClaudeProvider) Enabled() bool {
	return true
}

// Summarize sends the image and prompt to Claude and parses the reply.
func (p *ClaudeProvider) Summarize(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	prompt := req.Prompt
	if prompt == "" {
		prompt = defaultPrompt
	}

	encoded := base64.StdEncoding.EncodeToString(req.Image)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(p.config.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(req.MediaType, encoded),
				anthropic.NewTextBlock(prompt),
			),
		},
	}
	if p.config.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(p.config.Temperature))
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, &models.TransientServiceError{Service: "claude", Err: err}
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("claude returned no text content")
	}

	summary, data := parseResponse(text.String())
	return &Result{Summary: summary, Data: data}, nil
}

// Close releases the client.
func (p *ClaudeProvider) Close() error {
	p.client = nil
	return nil
}
