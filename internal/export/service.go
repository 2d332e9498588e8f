// Package export renders a workspace as Markdown, HTML or PDF.
package export

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"canvas/api/internal/workspace"
)

// Format represents the export output format
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatPDF      Format = "pdf"
)

// ParseFormat accepts the query-string spelling of a format. Empty means
// Markdown.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatMarkdown, "md":
		return FormatMarkdown, nil
	case FormatHTML:
		return FormatHTML, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, s)
	}
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrUnsupportedFormat is returned for an unknown format name.
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFUnavailable indicates the PDF runtime (Chromium) is not installed.
	ErrPDFUnavailable = errors.New("pdf export unavailable")
)

// PDFRenderer turns a standalone HTML page into PDF bytes.
type PDFRenderer func(ctx context.Context, html string) ([]byte, error)

// Service provides workspace export functionality
type Service struct {
	pdf PDFRenderer
}

// NewService creates an export service backed by headless Chromium.
func NewService() *Service {
	return &Service{pdf: renderPDF}
}

// NewServiceWithRenderer swaps the PDF renderer, mainly for tests.
func NewServiceWithRenderer(pdf PDFRenderer) *Service {
	return &Service{pdf: pdf}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, ws workspace.Workspace, format Format) (*Result, error) {
	base := sanitizeFilename(ws.Name)
	switch format {
	case FormatMarkdown:
		return &Result{
			Data:     []byte(RenderMarkdown(ws)),
			Filename: base + ".md",
			MimeType: "text/markdown; charset=utf-8",
		}, nil
	case FormatHTML:
		page, err := RenderHTML(ws)
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		return &Result{
			Data:     []byte(page),
			Filename: base + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		page, err := RenderHTML(ws)
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		data, err := s.pdf(ctx, page)
		if err != nil {
			return nil, err
		}
		return &Result{
			Data:     data,
			Filename: base + ".pdf",
			MimeType: "application/pdf",
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// sanitizeFilename creates a safe filename from a title
func sanitizeFilename(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		case r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	result := b.String()
	if len(result) > 50 {
		result = result[:50]
	}
	if result == "" {
		result = "workspace"
	}
	return result
}
