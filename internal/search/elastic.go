package search

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"maritime-query-engine/internal/models"

	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var (
	ErrElasticQueryFailed = stderrors.New("ELASTIC_QUERY_FAILED")
	ErrElasticDecode      = stderrors.New("ELASTIC_DECODE_FAILED")
)

// ElasticBackend serves fuzzy and free-text sources from search indices.
type ElasticBackend struct {
	client esapi.Transport
}

func NewElasticBackend(client esapi.Transport) *ElasticBackend {
	return &ElasticBackend{client: client}
}

type esSearchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string                 `json:"_id"`
			Source map[string]interface{} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// buildElasticQuery wraps the match clause in a bool query with a tenant
// term filter.
func buildElasticQuery(scope models.TenantScope, src models.SearchSource, value string, limit int) map[string]interface{} {
	var clause map[string]interface{}
	switch src.MatchType {
	case models.MatchExact:
		clause = map[string]interface{}{
			"term": map[string]interface{}{src.Column: value},
		}
	case models.MatchPrefix:
		clause = map[string]interface{}{
			"prefix": map[string]interface{}{
				src.Column: map[string]interface{}{"value": strings.ToLower(value)},
			},
		}
	default:
		clause = map[string]interface{}{
			"match": map[string]interface{}{
				src.Column: map[string]interface{}{
					"query":     value,
					"fuzziness": "AUTO",
				},
			},
		}
	}

	return map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": []interface{}{clause},
				"filter": []interface{}{
					map[string]interface{}{
						"term": map[string]interface{}{"tenant_id": scope.TenantID},
					},
				},
			},
		},
	}
}

func (b *ElasticBackend) Lookup(ctx context.Context, scope models.TenantScope, src models.SearchSource, value string, limit int) ([]models.SearchHit, error) {
	body, err := json.Marshal(buildElasticQuery(scope, src, value, limit))
	if err != nil {
		return nil, err
	}

	req := esapi.SearchRequest{
		Index: []string{src.Table},
		Body:  strings.NewReader(string(body)),
	}
	res, err := req.Do(ctx, b.client)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrElasticQueryFailed, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("%w: %s", ErrElasticQueryFailed, res.Status())
	}

	var decoded esSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrElasticDecode, err)
	}

	hits := make([]models.SearchHit, 0, len(decoded.Hits.Hits))
	for _, h := range decoded.Hits.Hits {
		// Documents indexed without tenant_id are skipped too.
		if tenant, _ := h.Source["tenant_id"].(string); tenant != scope.TenantID {
			continue
		}
		hits = append(hits, models.SearchHit{
			ID:     h.ID,
			Table:  src.Table,
			Column: src.Column,
			Wave:   src.Wave,
			Fields: h.Source,
		})
	}
	return hits, nil
}
