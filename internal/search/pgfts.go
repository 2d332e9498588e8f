package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search over the
// workspace document. It relies on workspace_search_text from the migrations.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

const pgftsQuery = `
	SELECT w.id, w.name,
		ts_headline('english', workspace_search_text(w.document), q, 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>') AS snippet
	FROM workspaces w, plainto_tsquery('english', $2) q
	WHERE w.user_id = $1
		AND (to_tsvector('english', workspace_search_text(w.document)) @@ q OR w.name ILIKE '%' || $2 || '%')
	ORDER BY ts_rank(to_tsvector('english', workspace_search_text(w.document)), q) DESC, w.last_active DESC
	LIMIT $3`

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, nil
	}
	if strings.TrimSpace(q.UserID) == "" {
		return nil, fmt.Errorf("search requires a user")
	}

	rows, err := p.db.QueryContext(ctx, pgftsQuery, q.UserID, q.Text, normalizeLimit(q.Limit))
	if err != nil {
		return nil, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.WorkspaceID, &r.Name, &r.Snippet); err != nil {
			return nil, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
