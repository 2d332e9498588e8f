package export

import (
	"fmt"
	"strings"

	"canvas/api/internal/workspace"
)

// RenderMarkdown writes the workspace as a single Markdown document: a name
// heading, one section per block, then the breakdown and flashcards.
func RenderMarkdown(ws workspace.Workspace) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", ws.Name)

	for _, block := range ws.Blocks {
		b.WriteString("\n## ")
		b.WriteString(blockHeading(block))
		b.WriteString("\n\n")
		switch c := block.Content.(type) {
		case workspace.Text:
			b.WriteString(strings.TrimSpace(c.Content))
			b.WriteString("\n")
		case workspace.Image:
			if !strings.HasPrefix(c.Src, "data:") {
				fmt.Fprintf(&b, "![%s](%s)\n", block.Title, c.Src)
			} else {
				b.WriteString("_Embedded image_\n")
			}
			if c.Analysis != "" {
				b.WriteString("\n")
				b.WriteString(c.Analysis)
				b.WriteString("\n")
			}
		case workspace.Dataset:
			fmt.Fprintf(&b, "Dataset `%s`: %d rows\n", c.FileName, c.RowCount)
			if len(c.Columns) > 0 {
				fmt.Fprintf(&b, "\nColumns: %s\n", strings.Join(c.Columns, ", "))
			}
			if c.Description != "" {
				b.WriteString("\n")
				b.WriteString(c.Description)
				b.WriteString("\n")
			}
		}
	}

	if bd := ws.Breakdown; bd != nil {
		b.WriteString("\n## Breakdown\n\n")
		if bd.Summary != "" {
			b.WriteString(bd.Summary)
			b.WriteString("\n")
		}
		writeList(&b, "Key points", bd.KeyPoints)
		writeList(&b, "Action items", bd.ActionItems)
		if len(bd.Tags) > 0 {
			fmt.Fprintf(&b, "\nTags: %s\n", strings.Join(bd.Tags, ", "))
		}
	}

	if len(ws.Flashcards) > 0 {
		b.WriteString("\n## Flashcards\n")
		for i, card := range ws.Flashcards {
			fmt.Fprintf(&b, "\n%d. **%s**\n   %s\n", i+1, card.Front, card.Back)
		}
	}
	return b.String()
}

func blockHeading(block workspace.Block) string {
	if strings.TrimSpace(block.Title) != "" {
		return block.Title
	}
	switch block.Kind() {
	case workspace.KindImage:
		return "Image"
	case workspace.KindDataset:
		return "Dataset"
	default:
		return "Note"
	}
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n### %s\n\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}
