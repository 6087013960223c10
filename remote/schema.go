// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// EnsureSchema creates the POS tables, their references and the updated_at
// triggers when they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, stmt := range schemaStatements {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to execute %q: %w", firstLine(stmt), err)
			}
		}
		return nil
	}); err != nil {
		return err
	}

	// Rediscover after DDL so new columns are accepted.
	return s.discoverColumns(ctx)
}

var schemaStatements = []string{
	/*language=postgresql*/ `CREATE OR REPLACE FUNCTION pos_touch_updated_at() RETURNS trigger AS $$
	BEGIN
		NEW.updated_at = clock_timestamp();
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,

	/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS categories (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		name        TEXT NOT NULL,
		description TEXT,
		color       TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS customers (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		name       TEXT NOT NULL,
		email      TEXT,
		phone      TEXT,
		address    TEXT,
		notes      TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS products (
		id                  TEXT PRIMARY KEY,
		user_id             TEXT NOT NULL,
		name                TEXT NOT NULL,
		description         TEXT,
		barcode             TEXT,
		retail_price        NUMERIC(12,2) NOT NULL DEFAULT 0,
		cost_price          NUMERIC(12,2),
		stock_quantity      INTEGER NOT NULL DEFAULT 0,
		low_stock_threshold INTEGER NOT NULL DEFAULT 0,
		category_id         TEXT REFERENCES categories(id),
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS product_variants (
		id               TEXT PRIMARY KEY,
		user_id          TEXT NOT NULL,
		product_id       TEXT NOT NULL REFERENCES products(id),
		variant_name     TEXT NOT NULL,
		sku              TEXT,
		price_adjustment NUMERIC(12,2) NOT NULL DEFAULT 0,
		stock_quantity   INTEGER NOT NULL DEFAULT 0,
		is_active        BOOLEAN NOT NULL DEFAULT TRUE,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS sales (
		id              TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL,
		customer_id     TEXT REFERENCES customers(id),
		total_amount    NUMERIC(12,2) NOT NULL,
		subtotal        NUMERIC(12,2) NOT NULL,
		tax_amount      NUMERIC(12,2) NOT NULL DEFAULT 0,
		discount_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
		amount_paid     NUMERIC(12,2) NOT NULL DEFAULT 0,
		change_amount   NUMERIC(12,2) NOT NULL DEFAULT 0,
		payment_method  TEXT NOT NULL,
		receipt_number  TEXT NOT NULL,
		notes           TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS sale_items (
		id           TEXT PRIMARY KEY,
		user_id      TEXT,
		sale_id      TEXT NOT NULL REFERENCES sales(id),
		product_id   TEXT REFERENCES products(id),
		product_name TEXT NOT NULL,
		quantity     INTEGER NOT NULL,
		unit_price   NUMERIC(12,2) NOT NULL,
		total_price  NUMERIC(12,2) NOT NULL,
		variant_id   TEXT,
		variant_name TEXT,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS customer_loans (
		id                TEXT PRIMARY KEY,
		user_id           TEXT NOT NULL,
		customer_id       TEXT NOT NULL REFERENCES customers(id),
		product_id        TEXT,
		variant_id        TEXT,
		loan_amount       NUMERIC(12,2) NOT NULL,
		amount_paid       NUMERIC(12,2) NOT NULL DEFAULT 0,
		remaining_balance NUMERIC(12,2) GENERATED ALWAYS AS (loan_amount - amount_paid) STORED,
		loan_date         TIMESTAMPTZ NOT NULL DEFAULT now(),
		due_date          TIMESTAMPTZ,
		status            TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active','paid','overdue')),
		notes             TEXT,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS settings (
		id              TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL UNIQUE,
		business_name   TEXT,
		logo_url        TEXT,
		tax_rate        NUMERIC(6,3) DEFAULT 0,
		currency_symbol TEXT,
		receipt_footer  TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS held_carts (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		cart_name  TEXT NOT NULL,
		cart_data  JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS products_user_updated_idx ON products(user_id, updated_at)`,
	`CREATE INDEX IF NOT EXISTS categories_user_updated_idx ON categories(user_id, updated_at)`,
	`CREATE INDEX IF NOT EXISTS customers_user_updated_idx ON customers(user_id, updated_at)`,
	`CREATE INDEX IF NOT EXISTS product_variants_user_updated_idx ON product_variants(user_id, updated_at)`,
	`CREATE INDEX IF NOT EXISTS customer_loans_user_updated_idx ON customer_loans(user_id, updated_at)`,
	`CREATE INDEX IF NOT EXISTS sale_items_sale_idx ON sale_items(sale_id)`,
	`CREATE INDEX IF NOT EXISTS sales_user_created_idx ON sales(user_id, created_at)`,
}

func init() {
	for _, t := range []string{"categories", "customers", "products", "product_variants", "sales",
		"sale_items", "customer_loans", "settings", "held_carts"} {
		schemaStatements = append(schemaStatements,
			fmt.Sprintf(`DROP TRIGGER IF EXISTS %s_touch_updated_at ON %s`, t, t),
			fmt.Sprintf(`CREATE TRIGGER %s_touch_updated_at BEFORE INSERT OR UPDATE ON %s
				FOR EACH ROW EXECUTE FUNCTION pos_touch_updated_at()`, t, t),
		)
	}
}

// column describes one discovered table column.
type column struct {
	dataType  string
	generated bool
}

// discoverColumns loads the writable columns of every POS table from
// information_schema.
func (s *PostgresStore) discoverColumns(ctx context.Context) error {
	rows, err := s.pool.Query(ctx, `
		SELECT table_name, column_name, data_type, is_generated
		FROM information_schema.columns
		WHERE table_schema = current_schema()`)
	if err != nil {
		return fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	cols := make(map[string]map[string]column)
	for rows.Next() {
		var table, name, dataType, generated string
		if err := rows.Scan(&table, &name, &dataType, &generated); err != nil {
			return fmt.Errorf("failed to scan column: %w", err)
		}
		if cols[table] == nil {
			cols[table] = make(map[string]column)
		}
		cols[table][name] = column{dataType: dataType, generated: generated == "ALWAYS"}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate columns: %w", err)
	}

	s.colsMu.Lock()
	s.cols = cols
	s.colsMu.Unlock()
	s.logger.Debug("Discovered remote columns", "tables", len(cols))
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
