package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/screentask/screentask/internal/backup"
	"github.com/screentask/screentask/internal/config"
	"github.com/screentask/screentask/internal/kv"
	"github.com/screentask/screentask/internal/models"
)

// NewBackupsCmd creates the backups command for inspecting a partition's
// local backup history.
func NewBackupsCmd() *cobra.Command {
	var userFlag string
	var spaceFlag string

	cmd := &cobra.Command{
		Use:   "backups",
		Short: "Show a partition's backup history",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userFlag == "" {
				return fmt.Errorf("--user is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			ctx := context.Background()
			kvStore, err := kv.NewRedisStore(ctx, cfg.RedisURL)
			if err != nil {
				return fmt.Errorf("failed to connect to redis: %w", err)
			}

			guard := backup.NewWithOptions(
				kvStore,
				time.Duration(cfg.BackupWindowMinutes)*time.Minute,
				cfg.BackupHistoryCap,
				time.Now,
			)
			part := models.Partition{UserID: userFlag, SpaceID: spaceFlag}
			entries, err := guard.History(ctx, part)
			if err != nil {
				return fmt.Errorf("failed to read backup history: %w", err)
			}
			if len(entries) == 0 {
				fmt.Println("No backups recorded")
				return nil
			}

			label := userFlag
			if spaceFlag != "" {
				label += "/" + spaceFlag
			}
			fmt.Printf("Backup history for %s (newest first):\n", label)
			for i := len(entries) - 1; i >= 0; i-- {
				entry := entries[i]
				taken := time.UnixMilli(entry.Timestamp).UTC()
				fmt.Printf("  %2d. %s  %d task(s)  age %s\n",
					len(entries)-i,
					taken.Format(time.RFC3339),
					len(entry.Tasks),
					time.Since(taken).Round(time.Second),
				)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userFlag, "user", "", "User id to inspect (required)")
	cmd.Flags().StringVar(&spaceFlag, "space", "", "Space id to inspect (empty for the unscoped slot)")
	return cmd
}
