// Package postgres provides the Postgres-backed product store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mfukuda/fleawatch/internal/tracker"
)

const uniqueViolationCode = "23505"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// ProductStore persists tracked products and their price history. Price
// history rows are append-only; deleting a product cascades to its history
// in one statement.
type ProductStore struct {
	pool pool
}

// New creates a ProductStore backed by a new connection pool.
func New(ctx context.Context, cfg Config) (*ProductStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ProductStore{pool: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for tests).
func NewWithPool(p pool) (*ProductStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ProductStore{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *ProductStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates the schema when it does not exist yet.
func (s *ProductStore) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id BIGSERIAL PRIMARY KEY,
			item_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			url TEXT NOT NULL,
			image_url TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS price_histories (
			id BIGSERIAL PRIMARY KEY,
			product_id BIGINT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
			price BIGINT NOT NULL,
			scraped_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_price_histories_product_scraped
			ON price_histories (product_id, scraped_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}

// Create inserts a new product. A unique-constraint violation on item_id is
// reported as tracker.ErrDuplicateItem so callers can recover by re-reading.
func (s *ProductStore) Create(ctx context.Context, p tracker.Product) (tracker.Product, error) {
	query := `
		INSERT INTO products (item_id, name, url, image_url, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	err := s.pool.QueryRow(ctx, query, p.ItemID, p.Name, p.URL, p.ImageURL, p.CreatedAt).Scan(&p.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return tracker.Product{}, tracker.ErrDuplicateItem
		}
		return tracker.Product{}, fmt.Errorf("insert product: %w", err)
	}
	return p, nil
}

// GetByItemID looks up a product by its stable marketplace identity.
func (s *ProductStore) GetByItemID(ctx context.Context, itemID string) (tracker.Product, error) {
	query := `
		SELECT id, item_id, name, url, image_url, created_at
		FROM products
		WHERE item_id = $1`
	var p tracker.Product
	err := s.pool.QueryRow(ctx, query, itemID).
		Scan(&p.ID, &p.ItemID, &p.Name, &p.URL, &p.ImageURL, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return tracker.Product{}, tracker.ErrNotFound
	}
	if err != nil {
		return tracker.Product{}, fmt.Errorf("select product: %w", err)
	}
	return p, nil
}

// UpdateMeta refreshes the latest known display metadata.
func (s *ProductStore) UpdateMeta(ctx context.Context, id int64, name, imageURL string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE products SET name = $1, image_url = $2 WHERE id = $3`,
		name, imageURL, id,
	)
	if err != nil {
		return fmt.Errorf("update product metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tracker.ErrNotFound
	}
	return nil
}

// ListAll returns every tracked product, newest first.
func (s *ProductStore) ListAll(ctx context.Context) ([]tracker.Product, error) {
	query := `
		SELECT id, item_id, name, url, image_url, created_at
		FROM products
		ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []tracker.Product
	for rows.Next() {
		var p tracker.Product
		if err := rows.Scan(&p.ID, &p.ItemID, &p.Name, &p.URL, &p.ImageURL, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}
	return products, nil
}

// ListSummaries returns every product joined with its latest price point.
// Products without history report a NULL current price.
func (s *ProductStore) ListSummaries(ctx context.Context) ([]tracker.ProductSummary, error) {
	query := `
		SELECT p.id, p.item_id, p.name, p.url, p.image_url, p.created_at, ph.price
		FROM products p
		LEFT JOIN LATERAL (
			SELECT price FROM price_histories
			WHERE product_id = p.id
			ORDER BY scraped_at DESC
			LIMIT 1
		) ph ON TRUE
		ORDER BY p.created_at DESC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list product summaries: %w", err)
	}
	defer rows.Close()

	var summaries []tracker.ProductSummary
	for rows.Next() {
		var sum tracker.ProductSummary
		err := rows.Scan(
			&sum.ID, &sum.ItemID, &sum.Name, &sum.URL, &sum.ImageURL, &sum.CreatedAt,
			&sum.CurrentPrice,
		)
		if err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary rows: %w", err)
	}
	return summaries, nil
}

// History returns a product's price points in chronological order.
func (s *ProductStore) History(ctx context.Context, productID int64) ([]tracker.PricePoint, error) {
	query := `
		SELECT id, product_id, price, scraped_at
		FROM price_histories
		WHERE product_id = $1
		ORDER BY scraped_at ASC`
	rows, err := s.pool.Query(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("list price history: %w", err)
	}
	defer rows.Close()

	var points []tracker.PricePoint
	for rows.Next() {
		var pt tracker.PricePoint
		if err := rows.Scan(&pt.ID, &pt.ProductID, &pt.Price, &pt.ScrapedAt); err != nil {
			return nil, fmt.Errorf("scan price point row: %w", err)
		}
		points = append(points, pt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price point rows: %w", err)
	}
	return points, nil
}

// LatestPrice returns the authoritative current price: the newest price
// point by observation time. tracker.ErrNoPricePoints when none exist.
func (s *ProductStore) LatestPrice(ctx context.Context, productID int64) (int, error) {
	query := `
		SELECT price FROM price_histories
		WHERE product_id = $1
		ORDER BY scraped_at DESC
		LIMIT 1`
	var price int
	err := s.pool.QueryRow(ctx, query, productID).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, tracker.ErrNoPricePoints
	}
	if err != nil {
		return 0, fmt.Errorf("select latest price: %w", err)
	}
	return price, nil
}

// InsertPricePoint appends one observation. Rows are never updated.
func (s *ProductStore) InsertPricePoint(ctx context.Context, productID int64, price int, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_histories (product_id, price, scraped_at) VALUES ($1, $2, $3)`,
		productID, price, at,
	)
	if err != nil {
		return fmt.Errorf("insert price point: %w", err)
	}
	return nil
}

// Delete removes a product; the foreign key cascades to its price history
// atomically within the single statement.
func (s *ProductStore) Delete(ctx context.Context, productID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, productID)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tracker.ErrNotFound
	}
	return nil
}
