package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/angelmaroco/spark-tunning-ml/internal/record"
	"github.com/angelmaroco/spark-tunning-ml/internal/vectorstore"
)

var collectionCmd = &cobra.Command{
	Use:   "collection",
	Short: "Manage the vector collection",
}

var collectionLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Rebuild the vector index and report the record count",
	RunE:  runCollectionLoad,
}

var collectionInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the collection and processed-apps table from the configured schema",
	RunE:  runCollectionInit,
}

func init() {
	collectionCmd.AddCommand(collectionLoadCmd)
	collectionCmd.AddCommand(collectionInitCmd)
}

// connectStore opens a vector store client from the loaded config.
func connectStore(ctx context.Context) (*vectorstore.Client, error) {
	store, err := vectorstore.NewClient(ctx, vectorstore.Config{
		URL:            cfg.Store.URL,
		Namespace:      cfg.Store.Namespace,
		Database:       cfg.Store.Database,
		Username:       cfg.Store.User,
		Password:       cfg.Store.Pass,
		Collection:     cfg.CollectionName(),
		ProcessedTable: cfg.ProcessedTableName(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to vector store: %w", err)
	}
	return store, nil
}

func runCollectionLoad(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := connectStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	if err := store.LoadCollection(ctx); err != nil {
		return err
	}
	count, err := store.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Collection %s loaded: %d records\n", store.Collection(), count)
	return nil
}

func runCollectionInit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	schema, err := record.ResolveSchema(cfg.CollectionName(), cfg.Store.Fields)
	if err != nil {
		return err
	}

	store, err := connectStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	if err := store.EnsureCollection(ctx, schema, cfg.Store.ForceRebuildSchema); err != nil {
		return err
	}
	fmt.Printf("Collection %s ready (%d fields, dimension %d)\n", schema.Name, len(schema.Fields), schema.Dimension())
	return nil
}
