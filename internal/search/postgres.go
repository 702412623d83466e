package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"maritime-query-engine/internal/common/database"
	"maritime-query-engine/internal/models"
)

// Backend runs one source lookup. Every implementation must restrict
// results to scope.TenantID.
type Backend interface {
	Lookup(ctx context.Context, scope models.TenantScope, src models.SearchSource, value string, limit int) ([]models.SearchHit, error)
}

// PostgresBackend looks values up in operational tables.
type PostgresBackend struct {
	db *sql.DB
}

func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// buildSourceQuery renders the lookup for src. Identifiers come from the
// validated source table, values are always bound.
func buildSourceQuery(src models.SearchSource) (string, error) {
	table := database.QuoteIdentifier(src.Table)
	column := database.QuoteIdentifier(src.Column)

	var predicate string
	switch src.MatchType {
	case models.MatchExact:
		predicate = fmt.Sprintf("%s = $2", column)
	case models.MatchPrefix:
		predicate = fmt.Sprintf("%s ILIKE $2 || '%%'", column)
	default:
		return "", fmt.Errorf("match type %q is not supported by postgres", src.MatchType)
	}

	return fmt.Sprintf(
		"SELECT id::text, %s::text FROM %s WHERE tenant_id = $1 AND %s ORDER BY id LIMIT $3",
		column, table, predicate,
	), nil
}

func (b *PostgresBackend) Lookup(ctx context.Context, scope models.TenantScope, src models.SearchSource, value string, limit int) ([]models.SearchHit, error) {
	query, err := buildSourceQuery(src)
	if err != nil {
		return nil, err
	}
	if src.MatchType == models.MatchPrefix {
		value = likeEscaper.Replace(value)
	}

	rows, err := b.db.QueryContext(ctx, query, scope.TenantID, value, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []models.SearchHit
	for rows.Next() {
		var id string
		var matched sql.NullString
		if err := rows.Scan(&id, &matched); err != nil {
			return nil, err
		}
		hits = append(hits, models.SearchHit{
			ID:     id,
			Table:  src.Table,
			Column: src.Column,
			Wave:   src.Wave,
			Fields: map[string]interface{}{src.Column: matched.String},
		})
	}
	return hits, rows.Err()
}
