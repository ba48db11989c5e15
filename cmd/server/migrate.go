package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/surveyledger/internal/api"
	"github.com/soaringjerry/surveyledger/internal/config"
)

func migrateCommand() *cobra.Command {
	var snapshotPath string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations and import a memory snapshot into SQL storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				return errors.New("no config found in context")
			}
			if cfg.Storage == config.StorageMemory {
				return errors.New("migrate needs sqlite or postgres storage")
			}
			if snapshotPath != "" {
				cfg.SnapshotPath = snapshotPath
			}
			logger := commonRun(cfg)
			store, _, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()
			return importSnapshotIfEmpty(cmd.Context(), cfg.SnapshotPath, store, logger)
		},
	}
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "memory snapshot to import (default: snapshotPath from config)")
	return cmd
}

// importSnapshotIfEmpty copies a memory-backend snapshot into dst the first
// time dst is used. A target that already holds accounts is left alone.
func importSnapshotIfEmpty(ctx context.Context, snapshotPath string, dst api.Store, logger *slog.Logger) error {
	if snapshotPath == "" {
		return nil
	}
	existing, err := dst.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("check target: %w", err)
	}
	if len(existing) > 0 {
		logger.Debug("target already populated, skipping snapshot import", "component", "migrate")
		return nil
	}
	legacy, err := api.NewMemoryStoreFromPath(snapshotPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load snapshot: %w", err)
	}
	snap := api.MemoryStoreSnapshot(legacy)
	if snap == nil || (len(snap.Accounts) == 0 && len(snap.Surveys) == 0) {
		return nil
	}
	logger.Info("importing memory snapshot", "component", "migrate", "path", snapshotPath,
		"surveys", len(snap.Surveys), "responses", len(snap.Responses), "accounts", len(snap.Accounts))
	if err := api.ImportSnapshot(ctx, snap, dst); err != nil {
		return fmt.Errorf("copy data: %w", err)
	}
	logger.Info("snapshot import completed", "component", "migrate")
	return nil
}
