package vision

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/common"
)

// NewProvider creates the configured vision provider. "disabled" is a
// valid choice and yields the sentinel provider rather than an error.
func NewProvider(cfg *common.VisionConfig, logger arbor.ILogger) (Provider, error) {
	logger.Info().Str("provider", cfg.Provider).Msg("Initializing vision provider")

	switch cfg.Provider {
	case "claude":
		return NewClaudeProvider(cfg, logger)
	case "gemini":
		return NewGeminiProvider(cfg, logger)
	case "disabled", "":
		return NewDisabledProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported vision provider %q: must be 'claude', 'gemini' or 'disabled'", cfg.Provider)
	}
}
