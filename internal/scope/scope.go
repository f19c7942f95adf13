// internal/scope/scope.go
package scope

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"cardtrade-workers/internal/common/logger"
	"cardtrade-workers/internal/models"
)

// Params is the resolved scope a run filters candidates against. The
// engine resolves precedence (request scope over profile radius over the
// configured default) before calling Apply; this package only executes.
type Params struct {
	Center      *models.Coordinates
	RadiusKM    *float64
	Community   *string
	ActiveSince time.Time
}

// Filter narrows a candidate user list through the user search index
// before any scoring happens. Geo distance, community membership and
// recency all run as a single bool query so a large candidate union is
// cut down in one round trip.
type Filter struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewFilter(client *elasticsearch.Client, index string, log logger.Logger) *Filter {
	return &Filter{
		client: client,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "scope-filter"}),
	}
}

// Apply returns the subset of candidateIDs inside the scope, preserving
// input order. An empty candidate list short-circuits without a query.
func (f *Filter) Apply(ctx context.Context, candidateIDs []string, p Params) ([]string, error) {
	if len(candidateIDs) == 0 {
		return nil, nil
	}

	req, err := buildScopeQuery(f.index, candidateIDs, p)
	if err != nil {
		return nil, err
	}

	res, err := req.Do(ctx, f.client)
	if err != nil {
		return nil, fmt.Errorf("scope query: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("scope query failed: %s", res.String())
	}

	var r struct {
		Hits struct {
			Hits []struct {
				Source struct {
					UserID string `json:"user_id"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode scope response: %w", err)
	}

	matched := make(map[string]bool, len(r.Hits.Hits))
	for _, hit := range r.Hits.Hits {
		matched[hit.Source.UserID] = true
	}

	var out []string
	for _, id := range candidateIDs {
		if matched[id] {
			out = append(out, id)
		}
	}

	f.logger.Debug("scope applied", map[string]interface{}{
		"in":  len(candidateIDs),
		"out": len(out),
	})
	return out, nil
}

func buildScopeQuery(index string, candidateIDs []string, p Params) (*esapi.SearchRequest, error) {
	filterClauses := []interface{}{
		map[string]interface{}{
			"terms": map[string]interface{}{"user_id": candidateIDs},
		},
	}

	if p.RadiusKM != nil && p.Center != nil {
		filterClauses = append(filterClauses, map[string]interface{}{
			"geo_distance": map[string]interface{}{
				"distance": fmt.Sprintf("%.0fkm", *p.RadiusKM),
				"location": map[string]interface{}{
					"lat": p.Center.Lat,
					"lon": p.Center.Lon,
				},
			},
		})
	}

	if p.Community != nil && *p.Community != "" {
		filterClauses = append(filterClauses, map[string]interface{}{
			"term": map[string]interface{}{"communities": *p.Community},
		})
	}

	if !p.ActiveSince.IsZero() {
		filterClauses = append(filterClauses, map[string]interface{}{
			"range": map[string]interface{}{
				"last_active_at": map[string]interface{}{"gte": p.ActiveSince.Format(time.RFC3339)},
			},
		})
	}

	queryBody := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"filter": filterClauses},
		},
		"_source": []string{"user_id"},
	}

	body, err := json.Marshal(queryBody)
	if err != nil {
		return nil, fmt.Errorf("build scope query: %w", err)
	}

	size := len(candidateIDs)
	return &esapi.SearchRequest{
		Index: []string{index},
		Body:  strings.NewReader(string(body)),
		Size:  &size,
	}, nil
}
