// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

const binPdftotext = "pdftotext"

// runFunc runs a command with stdin and returns its stdout.
type runFunc func(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, error)

func runCommand(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

// PdftotextConverter runs the poppler pdftotext binary.
type PdftotextConverter struct {
	bin string
	run runFunc
}

// NewPdftotextConverter fails when pdftotext is not on PATH.
func NewPdftotextConverter() (*PdftotextConverter, error) {
	bin, err := exec.LookPath(binPdftotext)
	if err != nil {
		return nil, fmt.Errorf("%s not found: %w", binPdftotext, err)
	}
	return &PdftotextConverter{bin: bin, run: runCommand}, nil
}

// Convert reads the PDF from stdin and returns its UTF-8 text.
func (p *PdftotextConverter) Convert(ctx context.Context, pdf io.Reader) (string, error) {
	out, err := p.run(ctx, p.bin, []string{"-enc", "UTF-8", "-q", "-", "-"}, pdf)
	if err != nil {
		return "", fmt.Errorf("converting with pdftotext: %w", err)
	}
	if len(bytes.TrimSpace(out)) == 0 {
		return "", fmt.Errorf("pdftotext: %w", ErrEmpty)
	}
	return string(out), nil
}
