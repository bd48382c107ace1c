package vectorstore

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"

	"github.com/angelmaroco/spark-tunning-ml/internal/record"
)

// Insert bulk-loads a batch of vector records into the collection.
// Record ids are store-assigned.
func (c *Client) Insert(ctx context.Context, records []*record.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := make([]map[string]any, len(records))
	for i, r := range records {
		batch[i] = r.Fields
	}

	sql := fmt.Sprintf("INSERT INTO %s $batch", c.cfg.Collection)
	if _, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{"batch": batch}); err != nil {
		return fmt.Errorf("insert %d records into %s: %w", len(records), c.cfg.Collection, wrapQueryError(err))
	}
	return nil
}

// DeleteApplication removes every record of one application from the
// collection. Forced reprocessing deletes before reinserting so an
// application never keeps two live record sets.
func (c *Client) DeleteApplication(ctx context.Context, appID string) error {
	sql := fmt.Sprintf("DELETE %s WHERE %s = $app", c.cfg.Collection, record.FieldAppID)
	if _, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{"app": appID}); err != nil {
		return fmt.Errorf("delete records of %s: %w", appID, wrapQueryError(err))
	}
	return nil
}

// processedRow is one row of the processed-applications table.
type processedRow struct {
	AppID   string `json:"app_id"`
	Stages  int    `json:"stages"`
	Records int    `json:"records"`
}

// ListProcessed returns the ids of applications already indexed for
// this collection. Called at startup so the in-memory processed set is
// rebuilt from the store's authoritative state, not trusted local
// state.
func (c *Client) ListProcessed(ctx context.Context) ([]string, error) {
	sql := fmt.Sprintf("SELECT app_id, stages, records FROM %s", c.cfg.ProcessedTable)
	results, err := surrealdb.Query[[]processedRow](ctx, c.db, sql, nil)
	if err != nil {
		return nil, fmt.Errorf("list processed applications: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}

	rows := (*results)[0].Result
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.AppID)
	}
	return ids, nil
}

// MarkProcessed durably records that an application is fully indexed.
// Called only after the application's batches all succeeded.
func (c *Client) MarkProcessed(ctx context.Context, appID string, stages, records int) error {
	sql := fmt.Sprintf(`
		INSERT INTO %s { app_id: $app, stages: $stages, records: $records }
		ON DUPLICATE KEY UPDATE stages = $stages, records = $records
	`, c.cfg.ProcessedTable)
	vars := map[string]any{"app": appID, "stages": stages, "records": records}
	if _, err := surrealdb.Query[any](ctx, c.db, sql, vars); err != nil {
		return fmt.Errorf("mark %s processed: %w", appID, wrapQueryError(err))
	}
	return nil
}

// ClearProcessed removes an application from the processed table,
// re-enabling indexing under forced reprocess.
func (c *Client) ClearProcessed(ctx context.Context, appID string) error {
	sql := fmt.Sprintf("DELETE %s WHERE app_id = $app", c.cfg.ProcessedTable)
	if _, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{"app": appID}); err != nil {
		return fmt.Errorf("clear processed mark for %s: %w", appID, wrapQueryError(err))
	}
	return nil
}
