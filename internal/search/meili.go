package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog"
)

const idxWorkspaces = "canvas_workspaces"

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
	log     zerolog.Logger
}

// NewMeili creates a Meilisearch client and configures the index. An
// unreachable server leaves it unhealthy; the health loop recovers it.
func NewMeili(url, apiKey string, log zerolog.Logger) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
		log:    log.With().Str("component", "meilisearch").Logger(),
	}

	if _, err := client.Health(); err != nil {
		m.log.Warn().Err(err).Str("url", url).Msg("meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxWorkspaces,
		PrimaryKey: "id",
	}); err != nil {
		m.log.Debug().Err(err).Msg("create index (may already exist)")
	}

	index := m.client.Index(idxWorkspaces)
	filterable := []interface{}{"userId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.Warn().Err(err).Msg("update filterable attributes")
	}
	searchable := []string{"name", "body"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.Warn().Err(err).Msg("update searchable attributes")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Info().Msg("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(_ context.Context, q Query) ([]Result, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}
	if strings.TrimSpace(q.UserID) == "" {
		return nil, fmt.Errorf("search requires a user")
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID:              idxWorkspaces,
			Query:                 q.Text,
			Limit:                 int64(normalizeLimit(q.Limit)),
			Filter:                fmt.Sprintf("userId = %q", q.UserID),
			AttributesToHighlight: []string{"body"},
			AttributesToCrop:      []string{"body"},
			CropLength:            30,
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	for _, sr := range resp.Results {
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, nil
}

func hitToResult(hit meili.Hit) Result {
	return Result{
		WorkspaceID: decodeString(hit, "id"),
		Name:        decodeString(hit, "name"),
		Snippet:     firstNonBlank(decodeFormattedString(hit, "body"), decodeString(hit, "body")),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	s, _ := formatted[key].(string)
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// Index adds or replaces a workspace record.
func (m *Meili) Index(record Record) error {
	_, err := m.client.Index(idxWorkspaces).AddDocuments([]Record{record}, nil)
	return err
}

// Delete removes a workspace record.
func (m *Meili) Delete(id string) error {
	_, err := m.client.Index(idxWorkspaces).DeleteDocument(id, nil)
	return err
}
