package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/screentask/screentask/internal/models"
	"github.com/screentask/screentask/internal/sweep"
)

// NewSweepCmd creates the sweep command: one staleness pass over every
// partition, clearing schedule dates that have already passed.
func NewSweepCmd() *cobra.Command {
	var userFlag string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Clear stale scheduled dates on incomplete tasks",
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
				// Fresh sweeper per user: the once-per-day latch is
				// process-local and must not skip later users.
				sweeper := sweep.New()

				tasks, err := st.QueryTasks(ctx, models.Partition{UserID: userID})
				if err != nil {
					return fmt.Errorf("user %s: querying tasks: %w", userID, err)
				}
				_, changes, ran := sweeper.Run(tasks)
				if !ran || len(changes.Upserts) == 0 {
					continue
				}
				if !dryRun {
					for _, task := range changes.Upserts {
						if err := st.UpsertTask(ctx, task); err != nil {
							return fmt.Errorf("user %s: writing swept task %s: %w", userID, task.ID, err)
						}
					}
				}
				fmt.Printf("%s: %d stale date(s)\n", userID, len(changes.Upserts))
				total += len(changes.Upserts)
			}
			if dryRun {
				fmt.Printf("Dry run: %d stale date(s) would be cleared\n", total)
			} else {
				fmt.Printf("Cleared %d stale date(s)\n", total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userFlag, "user", "", "Limit to one user id")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report without writing")
	return cmd
}
