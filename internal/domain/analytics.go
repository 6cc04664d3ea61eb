package domain

import "time"

// ProductStats holds sales analytics for a single product.
type ProductStats struct {
	ProductID       string  `json:"product_id"`
	Name            string  `json:"name"`
	Category        string  `json:"category,omitempty"`
	UnitsSold       int64   `json:"units_sold"`
	Revenue         float64 `json:"revenue"`
	OrderCount      int64   `json:"order_count"`
	UniqueCustomers int64   `json:"unique_customers"`
}

// SalesOverview holds store-wide totals for the dashboard.
type SalesOverview struct {
	TotalCustomers    int64   `json:"total_customers"`
	ActiveCustomers   int64   `json:"active_customers"`
	TotalProducts     int64   `json:"total_products"`
	CompletedOrders   int64   `json:"completed_orders"`
	TotalRevenue      float64 `json:"total_revenue"`
	AverageOrderValue float64 `json:"average_order_value"`
}

// SyncRun records one ingestion of a batch pushed by an external CRM.
type SyncRun struct {
	ID         string     `json:"id"`
	Source     string     `json:"source"`
	Status     string     `json:"status"`
	Records    int        `json:"records"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Sync run status values
const (
	SyncStatusPending   = "pending"
	SyncStatusCompleted = "completed"
	SyncStatusFailed    = "failed"
)

// SyncBatch is the payload of a CRM sync event.
type SyncBatch struct {
	RunID      string     `json:"runId"`
	Source     string     `json:"source"`
	ReceivedAt time.Time  `json:"receivedAt"`
	Customers  []Customer `json:"customers,omitempty"`
	Products   []Product  `json:"products,omitempty"`
	Orders     []Order    `json:"orders,omitempty"`
}

// Size returns the number of records in the batch.
func (b *SyncBatch) Size() int {
	return len(b.Customers) + len(b.Products) + len(b.Orders)
}
