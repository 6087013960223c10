// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/spf13/cobra"

	"github.com/mobiletoly/go-offlinepos/posdata"
	"github.com/mobiletoly/go-offlinepos/repo"
)

// seedBatch is the number of products queued per transaction.
const seedBatch = 500

// seedProductID names the n-th generated product, P00001 onwards.
func seedProductID(n int) string { return fmt.Sprintf("P%05d", n) }

// NewSeedCommand creates the seed command.
func NewSeedCommand(opts *RootOptions) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Queue generated test products for load testing",
		Long: `Create --count products named "Test Product N" with ids P00001 onwards
for the signed-in user. They go through the operation queue and are pushed
by the next sync. Seeding is skipped when P00001 already exists.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
	}
	cmd.RunE = withEngine(opts, func(cmd *cobra.Command, e *engine, p *printer) error {
		if count < 1 {
			return fmt.Errorf("--count must be positive")
		}
		ctx := cmd.Context()
		userID, err := e.userID(ctx)
		if err != nil {
			return err
		}
		if _, err := e.repos.Products.Get(ctx, seedProductID(1)); err == nil {
			return p.result(map[string]int{"seeded": 0}, func(w io.Writer) {
				fmt.Fprintln(w, "Test products already present (found P00001), skipping")
			})
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}

		start := time.Now()
		batch := make([]*posdata.Product, 0, seedBatch)
		for i := 1; i <= count; i++ {
			batch = append(batch, &posdata.Product{
				Envelope:          posdata.Envelope{ID: seedProductID(i)},
				Name:              fmt.Sprintf("Test Product %d", i),
				RetailPrice:       posdata.MoneyFromInt(int64(rand.IntN(500) + 10)),
				CostPrice:         posdata.MoneyFromInt(int64(rand.IntN(400) + 5)),
				StockQuantity:     int64(rand.IntN(1000)),
				LowStockThreshold: int64(rand.IntN(50)),
				UserID:            userID,
			})
			if len(batch) == seedBatch || i == count {
				if err := e.repos.Products.CreateMany(ctx, batch); err != nil {
					return fmt.Errorf("failed to seed products: %w", err)
				}
				batch = batch[:0]
			}
		}
		opts.logger.Info("Seeded test products", "count", count, "elapsed", time.Since(start))
		return p.result(map[string]int{"seeded": count}, func(w io.Writer) {
			fmt.Fprintf(w, "Queued %d test products\n", count)
		})
	})
	cmd.Flags().IntVar(&count, "count", 20000, "number of products to create")
	return cmd
}
