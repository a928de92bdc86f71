// -----------------------------------------------------------------------
// Vision Provider - Abstract image-understanding collaborator
// -----------------------------------------------------------------------

package vision

import (
	"context"
	"strings"
)

// Request is one figure or whole-page image to summarize.
type Request struct {
	Image     []byte // PNG or JPEG bytes
	MediaType string // e.g. "image/png"
	Prompt    string
}

// Result is a provider's answer. Skipped marks the sentinel result of a
// provider that is configured off; consumers treat it identically to an
// empty annotation set.
type Result struct {
	Summary string
	Data    []string
	Skipped bool
}

// Provider summarizes images. Implementations: Claude, Gemini, and the
// Disabled sentinel. Absence of a real provider is a valid runtime
// configuration, not an error: Enabled reports false and consumers
// short-circuit to the skipped sentinel without any image work.
type Provider interface {
	Summarize(ctx context.Context, req Request) (*Result, error)
	Name() string
	Enabled() bool
	Close() error
}

// defaultPrompt asks for prose plus extractable data points as list items,
// which parseResponse splits back apart.
const defaultPrompt = `Describe this figure from a document in one or two sentences. ` +
	`If it contains readable data points (chart values, axis labels, legend entries), ` +
	`list each one on its own line starting with "- ". Respond with the description first, then the list.`

// parseResponse splits a provider's text into the prose summary and any
// "- " data lines it emitted.
func parseResponse(text string) (string, []string) {
	var summary []string
	var data []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "- ") {
			data = append(data, strings.TrimSpace(trimmed[2:]))
			continue
		}
		summary = append(summary, trimmed)
	}
	return strings.Join(summary, " "), data
}
