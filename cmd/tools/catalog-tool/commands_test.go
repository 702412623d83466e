package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maritime-query-engine/internal/models"
	"maritime-query-engine/internal/search"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidate_EmbeddedTables(t *testing.T) {
	out, err := run(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "actions")
	assert.Contains(t, out, "OK")
}

func TestValidate_BrokenCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: \"x\"\nactions:\n  - id: \"\"\n"), 0o600))

	_, err := run(t, "validate", "--catalog", path)
	require.Error(t, err)
}

func TestList(t *testing.T) {
	out, err := run(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "create_work_order")
	assert.Contains(t, out, "view_audit_trail")

	out, err = run(t, "list", "--kind", "read")
	require.NoError(t, err)
	assert.NotContains(t, out, "create_work_order")
	assert.Contains(t, out, "view_audit_trail")
}

func TestVerifySources(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sources := []search.TypedSource{
		{EntityType: models.EntityPart, Source: models.SearchSource{Backend: models.BackendPostgres, Table: "parts", Column: "part_number"}},
		{EntityType: models.EntityPart, Source: models.SearchSource{Backend: models.BackendPostgres, Table: "parts", Column: "legacy_code"}},
		{EntityType: models.EntityPart, Source: models.SearchSource{Backend: models.BackendPostgres, Table: "parts", Column: "manufacturer"}},
		{EntityType: models.EntityDocument, Source: models.SearchSource{Backend: models.BackendElasticsearch, Table: "documents", Column: "title"}},
	}
	mock.ExpectQuery("information_schema.columns").WithArgs("parts", "part_number").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`FROM "parts" WHERE "part_number" IS NOT NULL`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("information_schema.columns").WithArgs("parts", "legacy_code").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("information_schema.columns").WithArgs("parts", "manufacturer").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`FROM "parts" WHERE "manufacturer" IS NOT NULL`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	var checked []string
	indexExists := func(_ context.Context, index string) (bool, error) {
		checked = append(checked, index)
		return true, nil
	}

	var out bytes.Buffer
	missing, err := verifySources(context.Background(), &out, sources, db, indexExists)
	require.NoError(t, err)
	assert.Equal(t, 2, missing)
	assert.Equal(t, []string{"documents"}, checked)
	assert.Contains(t, out.String(), "MISSING")
	assert.Contains(t, out.String(), "parts.legacy_code")
	assert.Contains(t, out.String(), "EMPTY")
	assert.NoError(t, mock.ExpectationsWereMet())
}
