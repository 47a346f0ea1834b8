package search

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"

	"github.com/FleetAI/fleet-console/pkg/types"
)

const (
	KindDashboard = "dashboard"
	KindReport    = "report"

	defaultLimit = 20
)

type document struct {
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Dataset     string `json:"dataset,omitempty"`
}

// Hit is one search result.
type Hit struct {
	Kind        string  `json:"kind"`
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Score       float64 `json:"score"`
}

// Index is an in-memory full-text index over dashboard and report names and
// descriptions.
type Index struct {
	logger *zap.Logger

	mu  sync.RWMutex
	idx bleve.Index
}

func New(log *zap.Logger) (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create search index: %w", err)
	}
	return &Index{logger: log, idx: idx}, nil
}

// Reindex replaces the indexed content with the given lists.
func (i *Index) Reindex(dashboards []types.Dashboard, reports []types.Report) error {
	next, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return fmt.Errorf("failed to create search index: %w", err)
	}

	batch := next.NewBatch()
	for _, d := range dashboards {
		if err := batch.Index(docID(KindDashboard, d.ID), document{Kind: KindDashboard, Name: d.Name, Description: d.Description}); err != nil {
			_ = next.Close()
			return fmt.Errorf("failed to index dashboard %d: %w", d.ID, err)
		}
	}
	for _, r := range reports {
		if err := batch.Index(docID(KindReport, r.ID), document{Kind: KindReport, Name: r.Name, Description: r.Description, Dataset: r.Dataset}); err != nil {
			_ = next.Close()
			return fmt.Errorf("failed to index report %d: %w", r.ID, err)
		}
	}
	if err := next.Batch(batch); err != nil {
		_ = next.Close()
		return fmt.Errorf("failed to build search index: %w", err)
	}

	i.mu.Lock()
	prev := i.idx
	i.idx = next
	i.mu.Unlock()

	if err := prev.Close(); err != nil {
		i.logger.Warn("Failed to close previous search index", zap.Error(err))
	}
	i.logger.Debug("Search index rebuilt", zap.Int("dashboards", len(dashboards)), zap.Int("reports", len(reports)))
	return nil
}

// Search matches text against names and descriptions. kind optionally limits
// results to dashboards or reports.
func (i *Index) Search(text, kind string, limit int) ([]Hit, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("search text is required")
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	match := bleve.NewMatchQuery(text)
	match.SetFuzziness(1)
	prefix := bleve.NewPrefixQuery(strings.ToLower(text))
	prefix.SetField("name")
	var q query.Query = bleve.NewDisjunctionQuery(match, prefix)
	if kind != "" {
		k := bleve.NewTermQuery(kind)
		k.SetField("kind")
		q = bleve.NewConjunctionQuery(q, k)
	}

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{"kind", "name", "description"}

	i.mu.RLock()
	res, err := i.idx.Search(req)
	i.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		k, id, ok := parseDocID(h.ID)
		if !ok {
			continue
		}
		hit := Hit{Kind: k, ID: id, Score: h.Score}
		hit.Name, _ = h.Fields["name"].(string)
		hit.Description, _ = h.Fields["description"].(string)
		hits = append(hits, hit)
	}
	return hits, nil
}

func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.idx.Close()
}

func docID(kind string, id int64) string {
	return kind + "/" + strconv.FormatInt(id, 10)
}

func parseDocID(s string) (string, int64, bool) {
	kind, rawID, ok := strings.Cut(s, "/")
	if !ok {
		return "", 0, false
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	return kind, id, err == nil
}
