package domain

import (
	"errors"
	"fmt"
	"time"
)

// Customer is a CRM contact that may place orders.
type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Company   string    `json:"company,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Product is a sellable catalog item.
type Product struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category,omitempty"`
	Price     float64   `json:"price"`
	CreatedAt time.Time `json:"createdAt"`
}

// Order is a customer purchase. Only completed orders count towards
// purchase aggregates.
type Order struct {
	ID         string      `json:"id"`
	CustomerID string      `json:"customerId"`
	Status     string      `json:"status"`
	Total      float64     `json:"total"`
	OrderedAt  time.Time   `json:"orderedAt"`
	Items      []OrderItem `json:"items,omitempty"`
}

// OrderItem is a single product line on an order.
type OrderItem struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

// Validate reports the first field that would corrupt purchase aggregates.
func (o *Order) Validate() error {
	switch {
	case o.ID == "" || o.CustomerID == "":
		return errors.New("order id and customer id are required")
	case o.OrderedAt.IsZero():
		return fmt.Errorf("order %s: orderedAt is required", o.ID)
	case o.Total < 0:
		return fmt.Errorf("order %s: total must not be negative", o.ID)
	}
	for _, item := range o.Items {
		if item.ProductID == "" {
			return fmt.Errorf("order %s: item product id is required", o.ID)
		}
		if item.Quantity <= 0 || item.UnitPrice < 0 {
			return fmt.Errorf("order %s: item %s needs a positive quantity and a non-negative unit price", o.ID, item.ProductID)
		}
	}
	return nil
}

// MergedItems returns the order lines with repeated products combined.
// Quantities are summed and the unit price becomes the quantity-weighted
// average, so line revenue is unchanged. First-seen order is kept.
func (o *Order) MergedItems() []OrderItem {
	merged := make([]OrderItem, 0, len(o.Items))
	index := make(map[string]int, len(o.Items))
	for _, item := range o.Items {
		i, ok := index[item.ProductID]
		if !ok {
			index[item.ProductID] = len(merged)
			merged = append(merged, item)
			continue
		}
		m := &merged[i]
		revenue := float64(m.Quantity)*m.UnitPrice + float64(item.Quantity)*item.UnitPrice
		m.Quantity += item.Quantity
		m.UnitPrice = revenue / float64(m.Quantity)
	}
	return merged
}

// Order status values
const (
	OrderStatusCompleted = "completed"
	OrderStatusPending   = "pending"
	OrderStatusCancelled = "cancelled"
)

// PurchaseAggregate is the per-customer purchase history summary fed into
// RFM segmentation. Only customers with at least one completed order have
// an aggregate, so Frequency is always >= 1.
type PurchaseAggregate struct {
	CustomerID        string    `json:"customer_id"`
	Name              string    `json:"name"`
	Email             string    `json:"email"`
	Company           string    `json:"company,omitempty"`
	RecencyDays       int       `json:"recency_days"`
	Frequency         int       `json:"frequency"`
	Monetary          float64   `json:"monetary_value"`
	AverageOrderValue float64   `json:"average_order_value"`
	LastPurchase      time.Time `json:"last_purchase_date"`
	CustomerSince     time.Time `json:"customer_since"`
}

// RecencyDays returns the whole days elapsed between last and asOf.
// A last purchase after asOf yields 0.
func RecencyDays(last, asOf time.Time) int {
	d := asOf.Sub(last)
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}
