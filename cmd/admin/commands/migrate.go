package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/screentask/screentask/internal/models"
	"github.com/screentask/screentask/internal/store"
)

// NewMigrateOrphansCmd creates the migrate-orphans command. Tasks without a
// space assignment are claimed for the user's default space.
func NewMigrateOrphansCmd() *cobra.Command {
	var userFlag string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "migrate-orphans",
		Short: "Assign tasks without a space to the default space",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, cleanup, err := openStore()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := context.Background()
			users, err := targetUsers(ctx, st, userFlag)
			if err != nil {
				return err
			}

			total := 0
			for _, userID := range users {
				moved, err := migrateUser(ctx, st, userID, dryRun)
				if err != nil {
					return fmt.Errorf("user %s: %w", userID, err)
				}
				if moved > 0 {
					fmt.Printf("%s: %d orphaned task(s)\n", userID, moved)
				}
				total += moved
			}
			if dryRun {
				fmt.Printf("Dry run: %d orphaned task(s) would be migrated\n", total)
			} else {
				fmt.Printf("Migrated %d orphaned task(s)\n", total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userFlag, "user", "", "Limit to one user id")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report without writing")
	return cmd
}

func migrateUser(ctx context.Context, st *store.Postgres, userID string, dryRun bool) (int, error) {
	spaces, err := st.QuerySpaces(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("querying spaces: %w", err)
	}
	target := defaultSpace(spaces)
	if target == "" {
		// No spaces to migrate into; the live session seeds one on next use.
		return 0, nil
	}

	tasks, err := st.QueryTasks(ctx, models.Partition{UserID: userID})
	if err != nil {
		return 0, fmt.Errorf("querying tasks: %w", err)
	}

	var ops []store.Op
	for _, task := range tasks {
		if task.SpaceID != "" {
			continue
		}
		moved := task
		moved.SpaceID = target
		ops = append(ops, store.Op{UpsertTask: &moved})
	}
	if len(ops) == 0 || dryRun {
		return len(ops), nil
	}
	if err := st.Batch(ctx, userID, ops); err != nil {
		return 0, fmt.Errorf("writing migrated tasks: %w", err)
	}
	return len(ops), nil
}

// defaultSpace picks the space named like the seeded default, falling back to
// the first space in display order.
func defaultSpace(spaces []models.Space) string {
	if len(spaces) == 0 {
		return ""
	}
	best := spaces[0]
	for _, s := range spaces[1:] {
		if s.Order < best.Order || (s.Order == best.Order && s.CreatedAt < best.CreatedAt) {
			best = s
		}
	}
	for _, s := range spaces {
		if s.Name == models.DefaultSpaceName {
			return s.ID
		}
	}
	return best.ID
}
