package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/spf13/cobra"

	"maritime-query-engine/internal/actions"
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
	"maritime-query-engine/pkg/registry"
)

type tablePaths struct {
	catalog   string
	sources   string
	gazetteer string
	intents   string
}

func newRootCmd() *cobra.Command {
	paths := &tablePaths{}
	root := &cobra.Command{
		Use:           "catalog-tool",
		Short:         "Inspect and verify the engine's rule tables",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&paths.catalog, "catalog", "", "action catalog YAML (default: embedded)")
	root.PersistentFlags().StringVar(&paths.sources, "sources", "", "search sources YAML (default: embedded)")
	root.PersistentFlags().StringVar(&paths.gazetteer, "gazetteer", "", "gazetteer YAML (default: embedded)")
	root.PersistentFlags().StringVar(&paths.intents, "intents", "", "intent rules YAML (default: embedded)")

	root.AddCommand(newValidateCmd(paths), newListCmd(paths), newVerifySourcesCmd(paths))
	return root
}

func newValidateCmd(paths *tablePaths) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load every rule table and check they agree with each other",
		Long: `Load the action catalog, search sources, gazetteer and intent rules
exactly as the engine does at start-up and report any inconsistency,
such as an intent rule naming an unknown action or a mutate action
without a commit writer.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateTables(cmd.OutOrStdout(), paths)
		},
	}
}

func newListCmd(paths *tablePaths) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := registry.LoadCatalog(paths.catalog)
			if err != nil {
				return err
			}
			printActions(cmd.OutOrStdout(), cat, kind)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only list actions of this kind (read or mutate)")
	return cmd
}

func newVerifySourcesCmd(paths *tablePaths) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "verify-sources",
		Short: "Check every search source against the live schema",
		Long: `Connect to PostgreSQL and Elasticsearch using the engine configuration
and confirm that each configured source table, column and index exists.
Exits non-zero when any source is missing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			sources, err := search.LoadSources(paths.sources)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			pg, err := database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			defer pg.Close()

			es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}

			missing, err := verifySources(ctx, cmd.OutOrStdout(), sources.Sources(), pg.DB, esIndexChecker(es))
			if err != nil {
				return err
			}
			if missing > 0 {
				return fmt.Errorf("%d search source(s) missing from the live schema", missing)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "config file (default: configs/config.yaml lookup)")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	cfg, _, err := config.Load()
	return cfg, err
}

// catalogRunner satisfies the engine's action runner for a dry wiring check.
type catalogRunner struct {
	registry *actions.Registry
}

func (r catalogRunner) Registry() *actions.Registry { return r.registry }

func (r catalogRunner) Execute(context.Context, string, models.TenantScope, map[string]interface{}) (*actions.ExecuteResult, error) {
	return nil, fmt.Errorf("catalog-tool does not execute actions")
}

func validateTables(out io.Writer, paths *tablePaths) error {
	cat, err := registry.LoadCatalog(paths.catalog)
	if err != nil {
		return err
	}
	reg, err := actions.LoadRegistry(paths.catalog)
	if err != nil {
		return err
	}
	sources, err := search.LoadSources(paths.sources)
	if err != nil {
		return fmt.Errorf("search sources: %w", err)
	}
	gaz, err := gazetteer.LoadFile(paths.gazetteer)
	if err != nil {
		return err
	}
	classifier, err := intent.LoadFile(paths.intents)
	if err != nil {
		return err
	}
	lanes, err := lane.NewRouter(lane.DefaultConfig(), reg)
	if err != nil {
		return err
	}

	if _, err := engine.New(security.NewScreener(0), extract.New(gaz, 0), classifier, lanes,
		nil, catalogRunner{reg}, nil, nil, logger.NewNoOpLogger()); err != nil {
		return err
	}

	fmt.Fprintf(out, "catalog %s: %d actions\n", cat.Version, len(cat.Actions))
	fmt.Fprintf(out, "sources %s: %d routed, %d unverified\n", sources.Version, len(sources.Sources()), len(sources.Dropped()))
	for _, d := range sources.Dropped() {
		fmt.Fprintf(out, "  unverified: %s %s.%s\n", d.EntityType, d.Source.Table, d.Source.Column)
	}
	fmt.Fprintf(out, "gazetteer %s\n", gaz.Version)
	fmt.Fprintln(out, "OK")
	return nil
}

func printActions(out io.Writer, cat *registry.ActionCatalog, kind string) {
	list := make([]registry.Action, 0, len(cat.Actions))
	for _, a := range cat.Actions {
		if kind == "" || a.Kind == kind {
			list = append(list, a)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	fmt.Fprintf(out, "%-26s %-7s %-5s %s\n", "ID", "KIND", "RISK", "ROLES")
	for _, a := range list {
		risk := "-"
		if a.HighRisk {
			risk = "high"
		}
		fmt.Fprintf(out, "%-26s %-7s %-5s %s\n", a.ID, a.Kind, risk, strings.Join(a.AllowedRoles, ","))
	}
}

const columnExistsQuery = `SELECT EXISTS (
	SELECT 1 FROM information_schema.columns
	WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2
)`

// populatedQuery asks whether a source column holds any value at all. A
// column that is always NULL cannot answer a lookup and is reported EMPTY.
func populatedQuery(table, column string) string {
	return fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s IS NOT NULL)",
		pq.QuoteIdentifier(table), pq.QuoteIdentifier(column))
}

type indexChecker func(ctx context.Context, index string) (bool, error)

func esIndexChecker(es *database.ElasticsearchClient) indexChecker {
	return func(ctx context.Context, index string) (bool, error) {
		res, err := es.Client.Indices.Exists([]string{index}, es.Client.Indices.Exists.WithContext(ctx))
		if err != nil {
			return false, err
		}
		defer res.Body.Close()
		return res.StatusCode == 200, nil
	}
}

// verifySources reports each source and returns how many are missing or
// hold no values.
func verifySources(ctx context.Context, out io.Writer, sources []search.TypedSource, db *sql.DB, indexExists indexChecker) (int, error) {
	missing := 0
	for _, ts := range sources {
		src := ts.Source
		var ok bool
		status := "MISSING"
		switch src.Backend {
		case models.BackendPostgres:
			if err := db.QueryRowContext(ctx, columnExistsQuery, src.Table, src.Column).Scan(&ok); err != nil {
				return missing, fmt.Errorf("check %s.%s: %w", src.Table, src.Column, err)
			}
			if ok {
				if err := db.QueryRowContext(ctx, populatedQuery(src.Table, src.Column)).Scan(&ok); err != nil {
					return missing, fmt.Errorf("check %s.%s values: %w", src.Table, src.Column, err)
				}
				status = "EMPTY"
			}
		case models.BackendElasticsearch:
			exists, err := indexExists(ctx, src.Table)
			if err != nil {
				return missing, fmt.Errorf("check index %s: %w", src.Table, err)
			}
			ok = exists
		}

		if ok {
			status = "ok"
		} else {
			missing++
		}
		fmt.Fprintf(out, "%-8s %-10s %-13s %s.%s\n", status, ts.EntityType, src.Backend, src.Table, src.Column)
	}
	return missing, nil
}
