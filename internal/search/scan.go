package search

import (
	"context"
	"strings"
	"unicode/utf8"

	"canvas/api/internal/workspace"
)

// Lister returns every workspace owned by a user.
type Lister interface {
	ListWorkspaces(ctx context.Context, userID string) ([]workspace.Workspace, error)
}

// Scan is a case-insensitive substring searcher that walks the owner's
// workspaces. It serves the in-memory store where no index exists.
type Scan struct {
	lister Lister
}

// NewScan creates a scanning searcher.
func NewScan(lister Lister) *Scan {
	return &Scan{lister: lister}
}

func (s *Scan) Healthy() bool { return true }

func (s *Scan) Search(ctx context.Context, q Query) ([]Result, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" {
		return nil, nil
	}
	workspaces, err := s.lister.ListWorkspaces(ctx, q.UserID)
	if err != nil {
		return nil, err
	}

	limit := normalizeLimit(q.Limit)
	var results []Result
	for _, ws := range workspaces {
		record := RecordFor(ws)
		body := strings.ToLower(record.Body)
		idx := strings.Index(body, needle)
		if idx < 0 && !strings.Contains(strings.ToLower(record.Name), needle) {
			continue
		}
		if len(body) != len(record.Body) {
			idx = -1
		}
		results = append(results, Result{
			WorkspaceID: ws.ID,
			Name:        ws.Name,
			Snippet:     excerpt(record.Body, idx, len(needle)),
		})
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

const excerptRadius = 60

// excerpt cuts a window around a match, wrapping it in mark tags. A negative
// idx yields the head of the text.
func excerpt(body string, idx, n int) string {
	if idx < 0 || idx+n > len(body) {
		return truncate(body, 2*excerptRadius)
	}
	start := max(0, idx-excerptRadius)
	end := min(len(body), idx+n+excerptRadius)
	for start > 0 && !utf8.RuneStart(body[start]) {
		start--
	}
	for end < len(body) && !utf8.RuneStart(body[end]) {
		end++
	}
	return body[start:idx] + "<mark>" + body[idx:idx+n] + "</mark>" + body[idx+n:end]
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
