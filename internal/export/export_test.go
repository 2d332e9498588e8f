package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"canvas/api/internal/workspace"
)

func sampleWorkspace() workspace.Workspace {
	ws := workspace.New("ws_1", "u1", "Q3 Planning / Draft", "", time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC))
	ws.Blocks = []workspace.Block{
		workspace.NewTextBlock("b1", "Goals", "Ship <the> thing"),
		workspace.NewImageBlock("b2", "", "data:image/png;base64,AAAA", "image/png"),
		workspace.NewDatasetBlock("b3", "Sales", "sales.csv", 42, []string{"region", "total"}, "Totals by region"),
	}
	ws.Breakdown = &workspace.Breakdown{
		Summary:   "A plan",
		KeyPoints: []string{"focus"},
		Tags:      []string{"q3", "plan"},
	}
	ws.Flashcards = []workspace.Flashcard{{ID: "f1", Front: "What?", Back: "The plan"}}
	return ws
}

func TestRenderMarkdown(t *testing.T) {
	md := RenderMarkdown(sampleWorkspace())

	for _, want := range []string{
		"# Q3 Planning / Draft\n",
		"## Goals\n\nShip <the> thing\n",
		"## Image\n\n_Embedded image_\n",
		"Dataset `sales.csv`: 42 rows",
		"Columns: region, total",
		"## Breakdown\n\nA plan\n",
		"### Key points\n\n- focus\n",
		"Tags: q3, plan",
		"1. **What?**\n   The plan",
	} {
		if !strings.Contains(md, want) {
			t.Fatalf("markdown missing %q:\n%s", want, md)
		}
	}
	if strings.Contains(md, "Action items") {
		t.Fatal("empty list should be omitted")
	}
}

func TestRenderHTMLEscapesContent(t *testing.T) {
	html, err := RenderHTML(sampleWorkspace())
	if err != nil {
		t.Fatalf("RenderHTML() error = %v", err)
	}
	if !strings.Contains(html, "Ship &lt;the&gt; thing") {
		t.Fatal("expected escaped text content")
	}
	if !strings.Contains(html, `src="data:image/png;base64,AAAA"`) {
		t.Fatalf("expected inline image source in:\n%s", html)
	}
	if !strings.Contains(html, "Mar 4, 2026") {
		t.Fatal("expected last-active date")
	}
}

func TestImageSrcRejectsScripts(t *testing.T) {
	if got := imageSrc("javascript:alert(1)"); got != "" {
		t.Fatalf("imageSrc() = %q, want empty", got)
	}
	if got := imageSrc("https://example.com/a.png"); got != "https://example.com/a.png" {
		t.Fatalf("imageSrc() = %q", got)
	}
}

func TestExportFormats(t *testing.T) {
	var rendered string
	svc := NewServiceWithRenderer(func(_ context.Context, html string) ([]byte, error) {
		rendered = html
		return []byte("%PDF-1.7"), nil
	})
	ws := sampleWorkspace()

	tests := []struct {
		format   Format
		filename string
		mime     string
	}{
		{FormatMarkdown, "Q3-Planning--Draft.md", "text/markdown; charset=utf-8"},
		{FormatHTML, "Q3-Planning--Draft.html", "text/html; charset=utf-8"},
		{FormatPDF, "Q3-Planning--Draft.pdf", "application/pdf"},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			res, err := svc.Export(context.Background(), ws, tt.format)
			if err != nil {
				t.Fatalf("Export() error = %v", err)
			}
			if res.Filename != tt.filename || res.MimeType != tt.mime {
				t.Fatalf("unexpected result %q %q", res.Filename, res.MimeType)
			}
			if len(res.Data) == 0 {
				t.Fatal("expected data")
			}
		})
	}
	if !strings.Contains(rendered, "<h1>Q3 Planning / Draft</h1>") {
		t.Fatal("pdf renderer should receive the HTML page")
	}

	if _, err := svc.Export(context.Background(), ws, Format("docx")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestExportPropagatesPDFUnavailable(t *testing.T) {
	svc := NewServiceWithRenderer(func(context.Context, string) ([]byte, error) {
		return nil, ErrPDFUnavailable
	})
	if _, err := svc.Export(context.Background(), sampleWorkspace(), FormatPDF); !errors.Is(err, ErrPDFUnavailable) {
		t.Fatalf("expected ErrPDFUnavailable, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{"": FormatMarkdown, "md": FormatMarkdown, "HTML": FormatHTML, " pdf ": FormatPDF}
	for in, want := range tests {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("docx"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"My Notes":              "My-Notes",
		"../../etc/passwd":      "etcpasswd",
		"":                      "workspace",
		"***":                   "workspace",
		strings.Repeat("a", 80): strings.Repeat("a", 50),
	}
	for in, want := range tests {
		if got := sanitizeFilename(in); got != want {
			t.Fatalf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRenderPDFWithoutBrowser(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	if chromiumAvailable() {
		t.Fatal("expected no browser on an empty PATH")
	}
	if _, err := renderPDF(context.Background(), "<html><body>x</body></html>"); !errors.Is(err, ErrPDFUnavailable) {
		t.Fatalf("renderPDF() error = %v, want ErrPDFUnavailable", err)
	}
}
