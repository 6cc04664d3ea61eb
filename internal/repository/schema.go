package repository

// Schema definitions for the Kestrel database.
// Table DDL is shared by SQLite, PostgreSQL and MySQL; indexes are
// rendered per driver because MySQL has no CREATE INDEX IF NOT EXISTS.

const schemaCustomers = `
CREATE TABLE IF NOT EXISTS customers (
    id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    email VARCHAR(255) NOT NULL,
    company VARCHAR(255),
    created_at TIMESTAMP NOT NULL
)`

const schemaProducts = `
CREATE TABLE IF NOT EXISTS products (
    id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    category VARCHAR(128),
    price DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
)`

// Order times are unix seconds so MIN/MAX aggregates scan the same way on
// every driver.
const schemaOrders = `
CREATE TABLE IF NOT EXISTS orders (
    id VARCHAR(64) PRIMARY KEY,
    customer_id VARCHAR(64) NOT NULL,
    status VARCHAR(32) NOT NULL,
    total DOUBLE PRECISION NOT NULL,
    ordered_at BIGINT NOT NULL
)`

const schemaOrderItems = `
CREATE TABLE IF NOT EXISTS order_items (
    order_id VARCHAR(64) NOT NULL,
    product_id VARCHAR(64) NOT NULL,
    quantity INTEGER NOT NULL,
    unit_price DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (order_id, product_id)
)`

const schemaAudiences = `
CREATE TABLE IF NOT EXISTS audiences (
    id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    deleted INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

const schemaSyncRuns = `
CREATE TABLE IF NOT EXISTS sync_runs (
    id VARCHAR(64) PRIMARY KEY,
    source VARCHAR(128) NOT NULL,
    status VARCHAR(32) NOT NULL,
    records INTEGER NOT NULL DEFAULT 0,
    error TEXT,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NULL
)`

type index struct {
	name    string
	table   string
	columns string
}

var indexes = []index{
	{"idx_orders_customer", "orders", "customer_id"},
	{"idx_orders_status", "orders", "status, customer_id"},
	{"idx_order_items_product", "order_items", "product_id"},
	{"idx_sync_runs_started", "sync_runs", "started_at"},
}

// AllSchemas returns all schema statements for the driver, in order.
func AllSchemas(driver string) []string {
	stmts := []string{
		schemaCustomers,
		schemaProducts,
		schemaOrders,
		schemaOrderItems,
		schemaAudiences,
		schemaSyncRuns,
	}

	for _, idx := range indexes {
		if driver == "mysql" {
			stmts = append(stmts, "CREATE INDEX "+idx.name+" ON "+idx.table+"("+idx.columns+")")
			continue
		}
		stmts = append(stmts, "CREATE INDEX IF NOT EXISTS "+idx.name+" ON "+idx.table+"("+idx.columns+")")
	}

	return stmts
}
