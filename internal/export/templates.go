package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"

	"canvas/api/internal/workspace"
)

//go:embed templates/*.html
var templateFS embed.FS

var workspaceTemplate = template.Must(template.New("workspace.html").Funcs(template.FuncMap{
	"heading":  blockHeading,
	"imageSrc": imageSrc,
	"join":     strings.Join,
}).ParseFS(templateFS, "templates/workspace.html"))

// templateBlock flattens the Block union for the template.
type templateBlock struct {
	Block   workspace.Block
	Text    *workspace.Text
	Image   *workspace.Image
	Dataset *workspace.Dataset
}

type templateData struct {
	Workspace workspace.Workspace
	Blocks    []templateBlock
}

// RenderHTML renders the workspace as a standalone HTML page.
func RenderHTML(ws workspace.Workspace) (string, error) {
	data := templateData{Workspace: ws}
	for _, block := range ws.Blocks {
		tb := templateBlock{Block: block}
		switch c := block.Content.(type) {
		case workspace.Text:
			tb.Text = &c
		case workspace.Image:
			tb.Image = &c
		case workspace.Dataset:
			tb.Dataset = &c
		}
		data.Blocks = append(data.Blocks, tb)
	}

	var buf bytes.Buffer
	if err := workspaceTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// imageSrc admits inline image data and http(s) URLs. Anything else renders
// as an empty source.
func imageSrc(src string) template.URL {
	lower := strings.ToLower(src)
	if strings.HasPrefix(lower, "data:image/") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://") {
		return template.URL(src)
	}
	return ""
}
