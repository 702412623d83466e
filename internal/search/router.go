package search

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"maritime-query-engine/internal/common/errors"
	"maritime-query-engine/internal/common/logger"
	"maritime-query-engine/internal/common/metrics"
	"maritime-query-engine/internal/models"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultSufficientResults = 5
	DefaultPerSourceLimit    = 20
	maxParallelSources       = 8
)

var ErrBackendMissing = stderrors.New("SEARCH_BACKEND_MISSING")

type Config struct {
	SufficientResults int
	PerSourceLimit    int
	Timeout           time.Duration
}

// Router runs the waved lookup for extracted entities.
type Router struct {
	config   *Config
	sources  *SourceTable
	backends map[models.Backend]Backend
	cache    *Cache
	logger   logger.Logger
}

// NewRouter builds a router. cache may be nil.
func NewRouter(config *Config, sources *SourceTable, backends map[models.Backend]Backend, cache *Cache, log logger.Logger) *Router {
	if config.SufficientResults <= 0 {
		config.SufficientResults = DefaultSufficientResults
	}
	if config.PerSourceLimit <= 0 {
		config.PerSourceLimit = DefaultPerSourceLimit
	}
	r := &Router{
		config:   config,
		sources:  sources,
		backends: backends,
		cache:    cache,
		logger:   log.WithFields(map[string]interface{}{"component": "search-router", "sourcesVersion": sources.Version}),
	}
	for _, d := range sources.Dropped() {
		r.logger.Warn("Search source is unverified and will not be queried", map[string]interface{}{
			"entityType": d.EntityType,
			"table":      d.Source.Table,
			"column":     d.Source.Column,
		})
	}
	return r
}

// Sources exposes the routing table.
func (r *Router) Sources() *SourceTable {
	return r.sources
}

type sourceOutcome struct {
	hits []models.SearchHit
	err  error
}

// Search resolves one entity. Waves run in ascending order; the sources of
// a wave run concurrently and are joined before the next wave starts. The
// search stops after the first wave that brings the distinct hit count to
// SufficientResults. A source failure is logged and skipped; the search
// only fails when every source it ran failed.
func (r *Router) Search(ctx context.Context, scope models.TenantScope, entity models.Entity) (*models.ResultSet, error) {
	if err := scope.Validate(); err != nil {
		return nil, errors.NewAccessDeniedError(err.Error())
	}
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	var generation int64
	if r.cache != nil {
		cached, gen, ok, err := r.cache.lookup(ctx, scope.TenantID, entity)
		if err != nil {
			r.logger.Warn("Search cache lookup failed", map[string]interface{}{"error": err.Error()})
		}
		if ok {
			return cached, nil
		}
		generation = gen
	}

	rs := &models.ResultSet{
		EntityType:     entity.Type,
		CanonicalLabel: entity.CanonicalLabel,
		Hits:           []models.SearchHit{},
	}
	seen := make(map[string]struct{})
	ran, failed := 0, 0
	var lastErr error

	for _, wave := range r.sources.Waves(entity.Type) {
		start := time.Now()
		outcomes := r.runWave(ctx, scope, entity, wave)
		metrics.SearchWaveDuration.WithLabelValues(strconv.Itoa(wave[0].Wave)).Observe(time.Since(start).Seconds())
		rs.WavesRun++

		for i, out := range outcomes {
			ran++
			if out.err != nil {
				failed++
				lastErr = out.err
				src := wave[i]
				metrics.SearchSourceErrors.WithLabelValues(string(src.Backend), src.Table).Inc()
				r.logger.Warn("Search source failed", map[string]interface{}{
					"table":  src.Table,
					"column": src.Column,
					"wave":   src.Wave,
					"error":  out.err.Error(),
				})
				continue
			}
			for _, h := range out.hits {
				if _, dup := seen[h.Key()]; dup {
					continue
				}
				seen[h.Key()] = struct{}{}
				rs.Hits = append(rs.Hits, h)
			}
		}

		if len(rs.Hits) >= r.config.SufficientResults {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	if ran > 0 && failed == ran {
		return nil, errors.NewSearchQueryFailedError(string(entity.Type), lastErr)
	}

	if r.cache != nil && failed == 0 {
		if err := r.cache.store(ctx, scope.TenantID, generation, entity, rs); err != nil {
			r.logger.Warn("Search cache store failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return rs, nil
}

// runWave queries every source in the wave. Outcomes are positional and each
// source's hits are ordered by id.
func (r *Router) runWave(ctx context.Context, scope models.TenantScope, entity models.Entity, wave []models.SearchSource) []sourceOutcome {
	outcomes := make([]sourceOutcome, len(wave))

	var g errgroup.Group
	g.SetLimit(maxParallelSources)
	for i, src := range wave {
		i, src := i, src
		g.Go(func() error {
			backend, ok := r.backends[src.Backend]
			if !ok {
				outcomes[i].err = fmt.Errorf("%w: %s", ErrBackendMissing, src.Backend)
				return nil
			}
			value := entity.RawSpan
			if src.MatchType == models.MatchExact {
				value = entity.CanonicalLabel
			}
			hits, err := backend.Lookup(ctx, scope, src, value, r.config.PerSourceLimit)
			if err != nil {
				outcomes[i].err = err
				return nil
			}
			sort.SliceStable(hits, func(a, b int) bool { return hits[a].ID < hits[b].ID })
			outcomes[i].hits = hits
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// SearchAll resolves each entity concurrently and groups the result sets by
// entity type, keeping the input order within a group.
func (r *Router) SearchAll(ctx context.Context, scope models.TenantScope, entities []models.Entity) (models.GroupedResults, error) {
	sets := make([]*models.ResultSet, len(entities))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelSources)
	for i, e := range entities {
		i, e := i, e
		g.Go(func() error {
			rs, err := r.Search(gctx, scope, e)
			if err != nil {
				return err
			}
			sets[i] = rs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	grouped := make(models.GroupedResults)
	for _, rs := range sets {
		grouped[rs.EntityType] = append(grouped[rs.EntityType], *rs)
	}
	return grouped, nil
}

// ExactID returns the id of the first exact-wave hit in table for entity.
// Used to resolve identifier fields of an action payload.
func (r *Router) ExactID(ctx context.Context, scope models.TenantScope, entity models.Entity, table string) (string, bool, error) {
	if err := scope.Validate(); err != nil {
		return "", false, errors.NewAccessDeniedError(err.Error())
	}
	for _, wave := range r.sources.Waves(entity.Type) {
		for _, src := range wave {
			if src.MatchType != models.MatchExact || src.Table != table {
				continue
			}
			backend, ok := r.backends[src.Backend]
			if !ok {
				continue
			}
			hits, err := backend.Lookup(ctx, scope, src, entity.CanonicalLabel, 1)
			if err != nil {
				return "", false, errors.NewSearchQueryFailedError(src.Table, err)
			}
			if len(hits) > 0 {
				return hits[0].ID, true, nil
			}
		}
	}
	return "", false, nil
}
