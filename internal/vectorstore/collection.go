package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"

	"github.com/angelmaroco/spark-tunning-ml/internal/config"
	"github.com/angelmaroco/spark-tunning-ml/internal/record"
)

// dbInfo mirrors the INFO FOR DB response fields we care about.
type dbInfo struct {
	Tables map[string]string `json:"tables"`
}

// tableInfo mirrors the INFO FOR TABLE response fields we care about.
type tableInfo struct {
	Fields  map[string]string `json:"fields"`
	Indexes map[string]string `json:"indexes"`
}

// hasTable reports whether a table exists in the active database.
func (c *Client) hasTable(ctx context.Context, name string) (bool, error) {
	results, err := surrealdb.Query[dbInfo](ctx, c.db, "INFO FOR DB", nil)
	if err != nil {
		return false, fmt.Errorf("info for db: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return false, nil
	}
	_, ok := (*results)[0].Result.Tables[name]
	return ok, nil
}

// existingFields returns the declared kind of every field on an
// existing table, parsed from its field definitions.
func (c *Client) existingFields(ctx context.Context, name string) (map[string]config.FieldKind, error) {
	results, err := surrealdb.Query[tableInfo](ctx, c.db, fmt.Sprintf("INFO FOR TABLE %s", name), nil)
	if err != nil {
		return nil, fmt.Errorf("info for table %s: %w", name, wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrCollectionMissing, name)
	}

	fields := make(map[string]config.FieldKind)
	for fieldName, ddl := range (*results)[0].Result.Fields {
		if kind, ok := kindFromDDL(ddl); ok {
			fields[fieldName] = kind
		}
	}
	return fields, nil
}

// kindFromDDL extracts the field kind from a DEFINE FIELD statement.
func kindFromDDL(ddl string) (config.FieldKind, bool) {
	tokens := strings.Fields(ddl)
	for i, tok := range tokens {
		if strings.EqualFold(tok, "TYPE") && i+1 < len(tokens) {
			return kindFromType(tokens[i+1])
		}
	}
	return "", false
}

// EnsureCollection makes the collection table match the declared
// schema. Absent tables are created. Existing tables are validated for
// compatibility, or dropped and recreated when forceRebuild is set.
// forceRebuild is destructive and must come from explicit
// configuration, never be implied.
func (c *Client) EnsureCollection(ctx context.Context, schema record.Schema, forceRebuild bool) error {
	exists, err := c.hasTable(ctx, schema.Name)
	if err != nil {
		return err
	}

	if exists {
		if forceRebuild {
			c.logger.Info("force rebuild requested, dropping collection", "collection", schema.Name)
			if _, err := surrealdb.Query[any](ctx, c.db, fmt.Sprintf("REMOVE TABLE IF EXISTS %s", schema.Name), nil); err != nil {
				return fmt.Errorf("drop collection %s: %w", schema.Name, wrapQueryError(err))
			}
		} else {
			existing, err := c.existingFields(ctx, schema.Name)
			if err != nil {
				return err
			}
			if err := schema.Compatible(existing); err != nil {
				return fmt.Errorf("%w: %v", ErrSchemaIncompatible, err)
			}
			c.logger.Info("collection schema validated", "collection", schema.Name)
		}
	}

	c.logger.Info("ensuring collection schema", "collection", schema.Name, "fields", len(schema.Fields), "dimension", schema.Dimension())
	if _, err := surrealdb.Query[any](ctx, c.db, collectionDDL(schema), nil); err != nil {
		return fmt.Errorf("define collection %s: %w", schema.Name, wrapQueryError(err))
	}
	if _, err := surrealdb.Query[any](ctx, c.db, processedDDL(c.cfg.ProcessedTable), nil); err != nil {
		return fmt.Errorf("define processed table %s: %w", c.cfg.ProcessedTable, wrapQueryError(err))
	}
	return nil
}

// LoadCollection brings the collection into queryable state: rebuilds
// the vector index and probes the entity count. Startup-time only.
func (c *Client) LoadCollection(ctx context.Context) error {
	tbl := c.cfg.Collection

	exists, err := c.hasTable(ctx, tbl)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrCollectionMissing, tbl)
	}

	sql := fmt.Sprintf("REBUILD INDEX IF EXISTS %s_vector ON %s", tbl, tbl)
	if _, err := surrealdb.Query[any](ctx, c.db, sql, nil); err != nil {
		return fmt.Errorf("rebuild vector index on %s: %w", tbl, wrapQueryError(err))
	}

	count, err := c.Count(ctx)
	if err != nil {
		return err
	}
	c.logger.Info("collection loaded", "collection", tbl, "entities", count)
	return nil
}

// countRow is the shape of a grouped count() result.
type countRow struct {
	Count int64 `json:"count"`
}

// Count returns the number of entities in the collection.
func (c *Client) Count(ctx context.Context) (int64, error) {
	sql := fmt.Sprintf("SELECT count() FROM %s GROUP ALL", c.cfg.Collection)
	results, err := surrealdb.Query[[]countRow](ctx, c.db, sql, nil)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", c.cfg.Collection, wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].Count, nil
}
