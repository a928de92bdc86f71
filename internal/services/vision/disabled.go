package vision

import "context"

// DisabledProvider is the sentinel for an absent annotation service. It
// always answers with the skipped result, so downstream code has a single
// path instead of configuration branches.
type DisabledProvider struct{}

// NewDisabledProvider creates the disabled sentinel.
func NewDisabledProvider() *DisabledProvider {
	return &DisabledProvider{}
}

// Name returns the provider identifier.
func (p *DisabledProvider) Name() string {
	return "disabled"
}

// Enabled reports false: this provider exists to decline work.
func (p *DisabledProvider) Enabled() bool {
	return false
}

// Summarize always reports skipped, never an error.
func (p *DisabledProvider) Summarize(_ context.Context, _ Request) (*Result, error) {
	return &Result{Skipped: true}, nil
}

// Close is a no-op.
func (p *DisabledProvider) Close() error {
	return nil
}
