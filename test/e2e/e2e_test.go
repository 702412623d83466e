package e2e

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maritime-query-engine/internal/actions"
	"maritime-query-engine/internal/commit"
	"maritime-query-engine/internal/common/config"
	"maritime-query-engine/internal/common/database"
	"maritime-query-engine/internal/common/logger"
	"maritime-query-engine/internal/engine"
	"maritime-query-engine/internal/models"
	"maritime-query-engine/internal/query/extract"
	"maritime-query-engine/internal/query/gazetteer"
	"maritime-query-engine/internal/query/intent"
	"maritime-query-engine/internal/query/lane"
	"maritime-query-engine/internal/search"
	"maritime-query-engine/internal/security"
	classifyquery "maritime-query-engine/internal/workers/query/classify-query"
)

const tenant = "e2e-vessel"

var (
	cfg *config.Config
	pg  *database.PostgresClient
	rdb *database.RedisClient
	es  *database.ElasticsearchClient
)

// The suite runs against live PostgreSQL, Redis and Elasticsearch and is
// skipped unless E2E_TESTS=1.
func TestMain(m *testing.M) {
	if os.Getenv("E2E_TESTS") != "1" {
		fmt.Println("skipping e2e suite: set E2E_TESTS=1 to run against live services")
		os.Exit(0)
	}

	var err error
	cfg, _, err = config.Load()
	if err != nil {
		panic(fmt.Sprintf("load config: %v", err))
	}

	pg, err = database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		panic(fmt.Sprintf("postgres: %v", err))
	}
	rdb, err = database.NewRedis(cfg.Database.Redis)
	if err != nil {
		panic(fmt.Sprintf("redis: %v", err))
	}
	es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
	if err != nil {
		panic(fmt.Sprintf("elasticsearch: %v", err))
	}

	code := m.Run()

	pg.Close()
	rdb.Close()
	os.Exit(code)
}

func TestFullE2E(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	assertServicesReachable(t, ctx)
	createTables(t, ctx, pg.DB)
	seed(t, ctx, pg.DB)

	eng, svc := buildEngine(t)
	engineer := models.TenantScope{TenantID: tenant, ActorID: "e2e-engineer", Role: models.RoleEngineer}
	chief := models.TenantScope{TenantID: tenant, ActorID: "e2e-chief", Role: models.RoleChiefEngineer}

	t.Run("location lookup", func(t *testing.T) {
		out, err := eng.Search(ctx, engineer, "inventory box 3d")
		require.NoError(t, err)
		require.Empty(t, out.NoResult)
		sets := out.Results[models.EntityLocation]
		require.NotEmpty(t, sets)
		require.NotEmpty(t, sets[0].Hits)
		assert.Equal(t, "e2e-part-1", sets[0].Hits[0].ID)
	})

	t.Run("other tenants see nothing", func(t *testing.T) {
		other := models.TenantScope{TenantID: "e2e-other", ActorID: "e2e-engineer", Role: models.RoleEngineer}
		out, err := eng.Search(ctx, other, "inventory box 3d")
		require.NoError(t, err)
		assert.Equal(t, engine.NoResultNoMatches, out.NoResult)
	})

	t.Run("injection is refused", func(t *testing.T) {
		_, err := eng.Search(ctx, engineer, "'; DROP TABLE work_orders; --")
		require.Error(t, err)
		assertTableExists(t, ctx, pg.DB, "work_orders")
	})

	var workOrderID string
	t.Run("create work order is staged then committed", func(t *testing.T) {
		out, err := eng.Query(ctx, engineer, "create work order for main engine")
		require.NoError(t, err)
		require.NotNil(t, out.Action)
		require.NotNil(t, out.Action.Pending)
		assert.Equal(t, "create_work_order", out.Action.Pending.ActionID)

		var before int
		require.NoError(t, pg.DB.QueryRowContext(ctx,
			`SELECT count(*) FROM work_orders WHERE tenant_id = $1`, tenant).Scan(&before))

		result, err := svc.Confirm(ctx, out.Action.Pending.Token, engineer)
		require.NoError(t, err)
		assert.Equal(t, models.StateCommitted, result.State)
		assert.NotEmpty(t, result.LedgerEventID)
		workOrderID = result.EntityID

		var status, equipmentID string
		require.NoError(t, pg.DB.QueryRowContext(ctx,
			`SELECT status, equipment_id FROM work_orders WHERE id = $1 AND tenant_id = $2`,
			workOrderID, tenant).Scan(&status, &equipmentID))
		assert.Equal(t, "open", status)
		assert.Equal(t, "e2e-eq-1", equipmentID)

		_, err = svc.Confirm(ctx, out.Action.Pending.Token, engineer)
		require.Error(t, err)
	})

	t.Run("audit trail shows the commit", func(t *testing.T) {
		require.NotEmpty(t, workOrderID)
		res, err := svc.Execute(ctx, "view_audit_trail", chief, map[string]interface{}{"entity_id": workOrderID})
		require.NoError(t, err)
		trail, ok := res.Data.(*models.AuditTrail)
		require.True(t, ok)
		require.Len(t, trail.Ledger, 1)
		assert.Equal(t, "create_work_order", trail.Ledger[0].ActionID)
	})

	t.Run("classify worker", func(t *testing.T) {
		h := classifyquery.NewHandler(classifyquery.DefaultConfig(), eng, logger.NewTestLogger(t))
		out, err := h.Execute(ctx, &classifyquery.Input{Query: "log running hours main engine 12500"})
		require.NoError(t, err)
		assert.False(t, out.Blocked)
		assert.Equal(t, "log_running_hours", out.ActionID)
	})
}

func assertServicesReachable(t *testing.T, ctx context.Context) {
	t.Helper()
	require.NoError(t, pg.Ping(ctx), "postgres ping failed")
	require.NoError(t, rdb.Ping(ctx), "redis ping failed")
	require.NoError(t, es.Ping(ctx), "elasticsearch ping failed")
}

func buildEngine(t *testing.T) (*engine.Engine, *actions.Service) {
	t.Helper()
	log := logger.NewTestLogger(t)

	registry, err := actions.LoadRegistry("")
	require.NoError(t, err)
	gaz, err := gazetteer.Default()
	require.NoError(t, err)
	classifier, err := intent.Default()
	require.NoError(t, err)
	lanes, err := lane.NewRouter(lane.DefaultConfig(), registry)
	require.NoError(t, err)
	sources, err := search.DefaultSources()
	require.NoError(t, err)

	cache := search.NewCache(rdb.Client, time.Minute)
	require.NoError(t, cache.Invalidate(context.Background(), tenant))
	router := search.NewRouter(&search.Config{Timeout: 5 * time.Second}, sources, map[models.Backend]search.Backend{
		models.BackendPostgres:      search.NewPostgresBackend(pg.DB),
		models.BackendElasticsearch: search.NewElasticBackend(es.Client),
	}, cache, log)

	coordinator := commit.NewCoordinator(&commit.Config{Timeout: 5 * time.Second}, pg.DB, registry, cache, nil, log)
	svc, err := actions.NewService(&actions.Config{ConfirmationWindow: time.Minute, Retention: time.Minute},
		registry, pg.DB, actions.NewRedisPendingStore(rdb.Client), coordinator, log)
	require.NoError(t, err)

	eng, err := engine.New(security.NewScreener(0), extract.New(gaz, 0), classifier, lanes, router, svc, nil, nil, log)
	require.NoError(t, err)
	return eng, svc
}

// ==========================
// Schema and fixtures
// ==========================

var schema = []string{
	`CREATE TABLE IF NOT EXISTS equipment (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		canonical_code TEXT,
		name TEXT NOT NULL,
		legacy_tag TEXT,
		location_code TEXT,
		manufacturer_code TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		running_hours BIGINT NOT NULL DEFAULT 0,
		hours_logged_at TIMESTAMPTZ,
		decommission_reason TEXT,
		decommissioned_at TIMESTAMPTZ,
		version BIGINT NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS parts (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		part_number TEXT,
		canonical_code TEXT,
		name TEXT NOT NULL,
		manufacturer TEXT,
		location TEXT,
		stock_qty BIGINT NOT NULL DEFAULT 0,
		version BIGINT NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS work_orders (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		equipment_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		priority TEXT NOT NULL DEFAULT 'normal',
		status TEXT NOT NULL,
		created_by TEXT NOT NULL,
		resolution TEXT,
		closed_by TEXT,
		closed_at TIMESTAMPTZ,
		sign_off_remarks TEXT,
		signed_off_by TEXT,
		signed_off_at TIMESTAMPTZ,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS faults (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		equipment_id TEXT NOT NULL,
		fault_code TEXT,
		description TEXT NOT NULL,
		severity TEXT NOT NULL,
		status TEXT NOT NULL,
		reported_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS part_orders (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		part_id TEXT NOT NULL,
		quantity BIGINT NOT NULL,
		notes TEXT,
		status TEXT NOT NULL,
		requested_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS handover_notes (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		equipment_id TEXT,
		note TEXT NOT NULL,
		author_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		doc_type TEXT,
		title TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS maintenance_ledger (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		mutation_id TEXT NOT NULL,
		action_id TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		summary TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit_records (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		mutation_id TEXT NOT NULL,
		action_id TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		before_state JSONB,
		after_state JSONB,
		payload_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

func createTables(t *testing.T, ctx context.Context, db *sql.DB) {
	t.Helper()
	for _, stmt := range schema {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}
}

func seed(t *testing.T, ctx context.Context, db *sql.DB) {
	t.Helper()
	for _, table := range []string{"maintenance_ledger", "audit_records", "work_orders", "faults", "part_orders", "handover_notes", "parts", "equipment", "documents"} {
		_, err := db.ExecContext(ctx, `DELETE FROM `+database.QuoteIdentifier(table)+` WHERE tenant_id = $1`, tenant)
		require.NoError(t, err)
	}

	fixtures := []struct {
		query string
		args  []interface{}
	}{
		{
			`INSERT INTO equipment (id, tenant_id, canonical_code, name, location_code, manufacturer_code, running_hours)
			 VALUES ($1, $2, 'MAIN_ENGINE', 'Main Engine', 'ENGINE_ROOM', 'MAN', 12000)`,
			[]interface{}{"e2e-eq-1", tenant},
		},
		{
			`INSERT INTO parts (id, tenant_id, part_number, canonical_code, name, location, stock_qty)
			 VALUES ($1, $2, 'P-1001', 'LUBE_OIL_FILTER', 'Lube oil filter', 'BOX_3D', 4)`,
			[]interface{}{"e2e-part-1", tenant},
		},
	}
	for _, f := range fixtures {
		_, err := db.ExecContext(ctx, f.query, f.args...)
		require.NoError(t, err)
	}
}

func assertTableExists(t *testing.T, ctx context.Context, db *sql.DB, table string) {
	t.Helper()
	var exists bool
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table).Scan(&exists))
	assert.True(t, exists)
}
