package prepare

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
)

// ExecRenderer renders office documents to PDF by invoking an external
// office suite in headless mode.
type ExecRenderer struct {
	binary  string
	timeout time.Duration
	logger  arbor.ILogger
}

// NewExecRenderer creates a renderer around the given binary (typically
// soffice).
func NewExecRenderer(binary string, timeout time.Duration, logger arbor.ILogger) *ExecRenderer {
	return &ExecRenderer{binary: binary, timeout: timeout, logger: logger}
}

// RenderPDF converts inputPath to a PDF inside outDir and returns the
// rendered file's path. The office suite names the output after the input
// basename, so the result path is deterministic.
func (r *ExecRenderer) RenderPDF(ctx context.Context, inputPath, outDir string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.binary,
		"--headless",
		"--convert-to", "pdf",
		"--outdir", outDir,
		inputPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s failed: %w: %s", r.binary, err, strings.TrimSpace(string(output)))
	}

	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	rendered := filepath.Join(outDir, base+".pdf")
	if _, err := os.Stat(rendered); err != nil {
		return "", fmt.Errorf("renderer produced no output at %s", rendered)
	}

	r.logger.Debug().Str("input", inputPath).Str("output", rendered).Msg("Office document rendered")
	return rendered, nil
}
