// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/mobiletoly/go-offlinepos/localstore"
	"github.com/mobiletoly/go-offlinepos/posdata"
)

// TableCheck compares the rows of one kind held locally with the rows the
// remote database holds for the same user.
type TableCheck struct {
	Kind     posdata.Kind `json:"kind"`
	Local    int          `json:"local"`
	Unsynced int          `json:"unsynced"`
	Remote   int          `json:"remote"`
}

// Consistent reports whether every synced local row has a remote twin.
// Push-only kinds are purged locally by retention, so only pulled kinds are
// expected to match exactly.
func (c TableCheck) Consistent() bool {
	synced := c.Local - c.Unsynced
	if c.Kind.Pulled() {
		return synced == c.Remote
	}
	return synced <= c.Remote
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Compare local row counts with the remote database",
		Long: `Count the signed-in user's rows directly in the remote Postgres database
(database_url / POS_DATABASE_URL) and compare them with the local store.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
	}
	cmd.RunE = withEngine(opts, func(cmd *cobra.Command, e *engine, p *printer) error {
		if opts.config.DatabaseURL == "" {
			return fmt.Errorf("database_url is not configured")
		}
		userID, err := e.userID(cmd.Context())
		if err != nil {
			return err
		}
		db, err := sql.Open("postgres", opts.config.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(cmd.Context()); err != nil {
			return fmt.Errorf("failed to ping database: %w", err)
		}

		checks, err := verifyCounts(cmd.Context(), e.store, db, userID)
		if err != nil {
			return err
		}
		ok := true
		for _, c := range checks {
			ok = ok && c.Consistent()
		}
		err = p.result(map[string]any{"consistent": ok, "tables": checks}, func(w io.Writer) {
			for _, c := range checks {
				mark := "ok"
				if !c.Consistent() {
					mark = "MISMATCH"
				}
				fmt.Fprintf(w, "%-18s local=%d unsynced=%d remote=%d %s\n", c.Kind, c.Local, c.Unsynced, c.Remote, mark)
			}
		})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("local and remote data differ")
		}
		return nil
	})
	return cmd
}

// remoteCountQuery counts a user's rows of kind. Sale items carry no user
// column and are counted through their sale.
func remoteCountQuery(kind posdata.Kind) string {
	switch kind {
	case posdata.KindSaleItem:
		return `SELECT COUNT(*) FROM sale_items si JOIN sales s ON s.id = si.sale_id WHERE s.user_id = $1`
	default:
		return fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE user_id = $1`, kind.RemoteTable())
	}
}

func verifyCounts(ctx context.Context, store *localstore.Store, db *sql.DB, userID string) ([]TableCheck, error) {
	stats, err := store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	checks := make([]TableCheck, 0, len(posdata.Kinds))
	for _, kind := range posdata.Kinds {
		c := TableCheck{Kind: kind, Local: stats.Rows[kind], Unsynced: stats.Unsynced[kind]}
		if err := db.QueryRowContext(ctx, remoteCountQuery(kind), userID).Scan(&c.Remote); err != nil {
			return nil, fmt.Errorf("failed to count remote %s: %w", kind.RemoteTable(), err)
		}
		checks = append(checks, c)
	}
	return checks, nil
}
