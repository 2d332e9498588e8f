// Package search indexes workspace content and answers owner-scoped queries.
package search

import (
	"context"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"canvas/api/internal/workspace"
)

// Result is a single search hit returned to the caller.
type Result struct {
	WorkspaceID string `json:"workspaceId"`
	Name        string `json:"name"`
	Snippet     string `json:"snippet"`
}

// Query describes a search request. UserID is mandatory.
type Query struct {
	UserID string
	Text   string
	Limit  int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, error)
	Healthy() bool
}

// Record is the document we index for one workspace.
type Record struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Body   string `json:"body"`
}

var strip = bluemonday.StrictPolicy()

// RecordFor flattens the searchable text of ws. Markup is stripped so
// highlight tags are the only HTML in a snippet.
func RecordFor(ws workspace.Workspace) Record {
	parts := make([]string, 0, len(ws.Blocks)*2)
	for _, block := range ws.Blocks {
		if block.Title != "" {
			parts = append(parts, block.Title)
		}
		switch c := block.Content.(type) {
		case workspace.Text:
			parts = append(parts, c.Content)
		case workspace.Image:
			if c.Analysis != "" {
				parts = append(parts, c.Analysis)
			}
		case workspace.Dataset:
			parts = append(parts, c.FileName, strings.Join(c.Columns, " "), c.Description)
		}
	}
	return Record{
		ID:     ws.ID,
		UserID: ws.UserID,
		Name:   ws.Name,
		Body:   plainText(strings.Join(parts, "\n")),
	}
}

func plainText(s string) string {
	return strings.TrimSpace(html.UnescapeString(strip.Sanitize(s)))
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
