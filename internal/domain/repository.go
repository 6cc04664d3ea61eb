// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// CRM records
	SaveCustomer(ctx context.Context, c *Customer) error
	SaveProduct(ctx context.Context, p *Product) error
	SaveOrder(ctx context.Context, o *Order) error

	// ListPurchaseAggregates returns one aggregate per customer with at
	// least one completed order, with recency measured against asOf.
	ListPurchaseAggregates(ctx context.Context, asOf time.Time) ([]PurchaseAggregate, error)

	// Analytics
	ProductAnalytics(ctx context.Context, limit int) ([]ProductStats, error)
	SalesOverview(ctx context.Context) (*SalesOverview, error)

	// Audience operations
	SaveAudience(ctx context.Context, a *Audience) error
	GetAudience(ctx context.Context, id string) (*Audience, error)
	ListAudiences(ctx context.Context) ([]*Audience, error)
	DeleteAudience(ctx context.Context, id string) error

	// Sync bookkeeping
	SaveSyncRun(ctx context.Context, run *SyncRun) error
	LatestSyncRun(ctx context.Context) (*SyncRun, error)
	CountSyncRuns(ctx context.Context) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite", "postgres" or "mysql"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// MySQL / MariaDB specific, either mysql:// URL or native DSN
	MySQLDSN string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
