package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSource reads the combo catalog from PostgreSQL.
type PostgresSource struct {
	pool *pgxpool.Pool
}

func NewPostgresSource(ctx context.Context, databaseURL string) (*PostgresSource, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initCatalogSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresSource{pool: pool}, nil
}

func initCatalogSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS combos (
			shop_id TEXT NOT NULL,
			combo_id TEXT NOT NULL,
			products JSONB NOT NULL DEFAULT '[]',
			stock INT NOT NULL DEFAULT 0,
			price DOUBLE PRECISION NOT NULL DEFAULT 0,
			PRIMARY KEY (shop_id, combo_id)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init catalog schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresSource) ListCombos(ctx context.Context, shopID string) ([]Combo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT combo_id, products, stock, price FROM combos WHERE shop_id = $1 ORDER BY combo_id`,
		shopID)
	if err != nil {
		return nil, fmt.Errorf("list combos: %w", err)
	}
	defer rows.Close()

	var out []Combo
	for rows.Next() {
		var c Combo
		if err := rows.Scan(&c.ID, &c.Products, &c.Stock, &c.Price); err != nil {
			return nil, fmt.Errorf("scan combo: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SeedDemo inserts the demo catalog for a shop if it has no combos yet.
func (s *PostgresSource) SeedDemo(ctx context.Context, shopID string) error {
	for _, c := range DemoCombos() {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO combos (shop_id, combo_id, products, stock, price)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (shop_id, combo_id) DO NOTHING`,
			shopID, c.ID, c.Products, c.Stock, c.Price)
		if err != nil {
			return fmt.Errorf("seed combo %s: %w", c.ID, err)
		}
	}
	return nil
}

func (s *PostgresSource) Close() error {
	s.pool.Close()
	return nil
}
