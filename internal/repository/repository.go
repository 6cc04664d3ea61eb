// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with SQLite, PostgreSQL and MySQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	case "mysql":
		db, err = openMySQL(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas(r.driver) {
		if _, err := r.db.Exec(schema); err != nil {
			if r.driver == "mysql" && isDuplicateIndex(err) {
				continue
			}
			return err
		}
	}
	return nil
}

// SaveCustomer inserts or updates a customer.
func (r *SQLRepository) SaveCustomer(ctx context.Context, c *domain.Customer) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	}

	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := r.upsert("customers",
		[]string{"id", "name", "email", "company", "created_at"},
		[]string{"id"},
	)

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		c.ID, c.Name, c.Email, nullString(c.Company), createdAt.UTC(),
	)
	return err
}

// SaveProduct inserts or updates a product.
func (r *SQLRepository) SaveProduct(ctx context.Context, p *domain.Product) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("%w: product id is required", ErrInvalidInput)
	}

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := r.upsert("products",
		[]string{"id", "name", "category", "price", "created_at"},
		[]string{"id"},
	)

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		p.ID, p.Name, nullString(p.Category), p.Price, createdAt.UTC(),
	)
	return err
}

// SaveOrder inserts or updates an order and replaces its items atomically.
func (r *SQLRepository) SaveOrder(ctx context.Context, o *domain.Order) error {
	if o == nil {
		return fmt.Errorf("%w: order is required", ErrInvalidInput)
	}
	if err := o.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	status := o.Status
	if status == "" {
		status = domain.OrderStatusCompleted
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := r.upsert("orders",
		[]string{"id", "customer_id", "status", "total", "ordered_at"},
		[]string{"id"},
	)
	if _, err := tx.ExecContext(ctx, r.rebind(query),
		o.ID, o.CustomerID, status, o.Total, o.OrderedAt.Unix(),
	); err != nil {
		return fmt.Errorf("failed to save order %s: %w", o.ID, err)
	}

	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM order_items WHERE order_id = ?`), o.ID); err != nil {
		return fmt.Errorf("failed to clear items for order %s: %w", o.ID, err)
	}

	for _, item := range o.MergedItems() {
		if _, err := tx.ExecContext(ctx,
			r.rebind(`INSERT INTO order_items (order_id, product_id, quantity, unit_price) VALUES (?, ?, ?, ?)`),
			o.ID, item.ProductID, item.Quantity, item.UnitPrice,
		); err != nil {
			return fmt.Errorf("failed to save item %s for order %s: %w", item.ProductID, o.ID, err)
		}
	}

	return tx.Commit()
}

// ListPurchaseAggregates returns per-customer completed order aggregates,
// ordered by customer id.
func (r *SQLRepository) ListPurchaseAggregates(ctx context.Context, asOf time.Time) ([]domain.PurchaseAggregate, error) {
	query := `
		SELECT c.id, c.name, c.email, c.company,
			   COUNT(o.id), COALESCE(SUM(o.total), 0.0),
			   MIN(o.ordered_at), MAX(o.ordered_at)
		FROM customers c
		JOIN orders o ON o.customer_id = c.id
		WHERE o.status = ?
		GROUP BY c.id, c.name, c.email, c.company
		ORDER BY c.id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), domain.OrderStatusCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var aggs []domain.PurchaseAggregate
	for rows.Next() {
		var a domain.PurchaseAggregate
		var company sql.NullString
		var count int64
		var first, last int64

		if err := rows.Scan(
			&a.CustomerID, &a.Name, &a.Email, &company,
			&count, &a.Monetary, &first, &last,
		); err != nil {
			return nil, err
		}

		a.Company = company.String
		a.Frequency = int(count)
		if count > 0 {
			a.AverageOrderValue = a.Monetary / float64(count)
		}
		a.CustomerSince = time.Unix(first, 0).UTC()
		a.LastPurchase = time.Unix(last, 0).UTC()
		a.RecencyDays = domain.RecencyDays(a.LastPurchase, asOf)

		aggs = append(aggs, a)
	}

	return aggs, rows.Err()
}

// ProductAnalytics returns sales statistics per product over completed
// orders, highest revenue first.
func (r *SQLRepository) ProductAnalytics(ctx context.Context, limit int) ([]domain.ProductStats, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidInput)
	}

	query := `
		SELECT p.id, p.name, p.category,
			   COALESCE(SUM(s.quantity), 0),
			   COALESCE(SUM(s.quantity * s.unit_price), 0.0) AS revenue,
			   COUNT(DISTINCT s.order_id),
			   COUNT(DISTINCT s.customer_id)
		FROM products p
		LEFT JOIN (
			SELECT oi.product_id, oi.order_id, oi.quantity, oi.unit_price, o.customer_id
			FROM order_items oi
			JOIN orders o ON o.id = oi.order_id
			WHERE o.status = ?
		) s ON s.product_id = p.id
		GROUP BY p.id, p.name, p.category
		ORDER BY revenue DESC, p.id
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), domain.OrderStatusCompleted, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []domain.ProductStats
	for rows.Next() {
		var s domain.ProductStats
		var category sql.NullString

		if err := rows.Scan(
			&s.ProductID, &s.Name, &category,
			&s.UnitsSold, &s.Revenue, &s.OrderCount, &s.UniqueCustomers,
		); err != nil {
			return nil, err
		}

		s.Category = category.String
		stats = append(stats, s)
	}

	return stats, rows.Err()
}

// SalesOverview returns store-wide totals.
func (r *SQLRepository) SalesOverview(ctx context.Context) (*domain.SalesOverview, error) {
	var o domain.SalesOverview

	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM customers`).Scan(&o.TotalCustomers); err != nil {
		return nil, fmt.Errorf("failed to count customers: %w", err)
	}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&o.TotalProducts); err != nil {
		return nil, fmt.Errorf("failed to count products: %w", err)
	}

	query := `
		SELECT COUNT(*), COALESCE(SUM(total), 0.0), COUNT(DISTINCT customer_id)
		FROM orders
		WHERE status = ?
	`
	if err := r.db.QueryRowContext(ctx, r.rebind(query), domain.OrderStatusCompleted).Scan(
		&o.CompletedOrders, &o.TotalRevenue, &o.ActiveCustomers,
	); err != nil {
		return nil, fmt.Errorf("failed to aggregate orders: %w", err)
	}

	if o.CompletedOrders > 0 {
		o.AverageOrderValue = o.TotalRevenue / float64(o.CompletedOrders)
	}

	return &o, nil
}

// SaveAudience inserts or updates an audience.
func (r *SQLRepository) SaveAudience(ctx context.Context, a *domain.Audience) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("%w: audience id is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	query := r.upsert("audiences",
		[]string{"id", "name", "description", "expression", "enabled", "deleted", "created_at", "updated_at"},
		[]string{"id"},
	)

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.Name, a.Description, a.Expression, boolInt(a.Enabled), 0,
		a.CreatedAt, a.UpdatedAt,
	)
	return err
}

// GetAudience retrieves an audience that has not been deleted.
func (r *SQLRepository) GetAudience(ctx context.Context, id string) (*domain.Audience, error) {
	query := `
		SELECT id, name, description, expression, enabled, created_at, updated_at
		FROM audiences
		WHERE id = ? AND deleted = 0
	`

	a, err := scanAudience(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// ListAudiences retrieves all audiences that have not been deleted, by name.
func (r *SQLRepository) ListAudiences(ctx context.Context) ([]*domain.Audience, error) {
	query := `
		SELECT id, name, description, expression, enabled, created_at, updated_at
		FROM audiences
		WHERE deleted = 0
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var audiences []*domain.Audience
	for rows.Next() {
		a, err := scanAudience(rows)
		if err != nil {
			return nil, err
		}
		audiences = append(audiences, a)
	}

	return audiences, rows.Err()
}

// DeleteAudience soft-deletes an audience.
func (r *SQLRepository) DeleteAudience(ctx context.Context, id string) error {
	query := `
		UPDATE audiences
		SET deleted = 1, updated_at = ?
		WHERE id = ? AND deleted = 0
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveSyncRun inserts or updates a sync run.
func (r *SQLRepository) SaveSyncRun(ctx context.Context, run *domain.SyncRun) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: sync run id is required", ErrInvalidInput)
	}

	var finished sql.NullTime
	if run.FinishedAt != nil {
		finished = sql.NullTime{Time: run.FinishedAt.UTC(), Valid: true}
	}

	query := r.upsert("sync_runs",
		[]string{"id", "source", "status", "records", "error", "started_at", "finished_at"},
		[]string{"id"},
	)

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		run.ID, run.Source, run.Status, run.Records, nullString(run.Error),
		run.StartedAt.UTC(), finished,
	)
	return err
}

// LatestSyncRun returns the most recently started sync run.
func (r *SQLRepository) LatestSyncRun(ctx context.Context) (*domain.SyncRun, error) {
	query := `
		SELECT id, source, status, records, error, started_at, finished_at
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT 1
	`

	var run domain.SyncRun
	var errText sql.NullString
	var finished sql.NullTime

	err := r.db.QueryRowContext(ctx, query).Scan(
		&run.ID, &run.Source, &run.Status, &run.Records, &errText,
		&run.StartedAt, &finished,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	run.Error = errText.String
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}

	return &run, nil
}

// CountSyncRuns returns the number of recorded sync runs.
func (r *SQLRepository) CountSyncRuns(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_runs`).Scan(&n)
	return n, err
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAudience(row rowScanner) (*domain.Audience, error) {
	var a domain.Audience
	var description sql.NullString
	var enabled int

	if err := row.Scan(
		&a.ID, &a.Name, &description, &a.Expression, &enabled,
		&a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}

	a.Description = description.String
	a.Enabled = enabled == 1
	return &a, nil
}

// upsert builds an INSERT that updates every non-key column on conflict,
// in the dialect of the configured driver.
func (r *SQLRepository) upsert(table string, columns, keys []string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")

	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}

	var sets []string
	for _, c := range columns {
		if isKey[c] || c == "created_at" {
			continue
		}
		if r.driver == "mysql" {
			sets = append(sets, c+" = VALUES("+c+")")
		} else {
			sets = append(sets, c+" = excluded."+c)
		}
	}

	query := "INSERT INTO " + table + " (" + strings.Join(columns, ", ") + ") VALUES (" + placeholders + ")"
	if r.driver == "mysql" {
		return query + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	}
	return query + " ON CONFLICT(" + strings.Join(keys, ", ") + ") DO UPDATE SET " + strings.Join(sets, ", ")
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
