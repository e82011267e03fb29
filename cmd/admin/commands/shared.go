package commands

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/screentask/screentask/internal/config"
	"github.com/screentask/screentask/internal/store"
)

// openStore loads configuration and connects to the document store. The
// returned cleanup closes the connection.
func openStore() (*store.Postgres, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	st, err := store.NewPostgres(cfg.DatabaseURL, zap.NewNop())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	cleanup := func() {
		if err := st.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
		}
	}
	return st, cleanup, nil
}

// targetUsers resolves the user set for a command: the explicit --user flag
// when given, otherwise every user with documents in the store.
func targetUsers(ctx context.Context, st *store.Postgres, userFlag string) ([]string, error) {
	if userFlag != "" {
		return []string{userFlag}, nil
	}
	users, err := st.ListUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}
