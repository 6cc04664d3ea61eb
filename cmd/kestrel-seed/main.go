// Seed tool for loading synthetic CRM data into a Kestrel database.
//
// Usage:
//
//	go run ./cmd/kestrel-seed -customers 500 -products 40 -orders 3000
//
// This tool:
//  1. Opens the repository configured through KESTREL_* environment variables
//  2. Creates customers and a product catalog
//  3. Spreads orders over the last year with a skewed purchase distribution
//     so every RFM segment is populated
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/schollz/progressbar/v3"
)

var categories = []string{"Software", "Hardware", "Services", "Training", "Support"}

func main() {
	customers := flag.Int("customers", 200, "Number of customers to create")
	products := flag.Int("products", 25, "Number of products to create")
	orders := flag.Int("orders", 1500, "Number of orders to create")
	days := flag.Int("days", 365, "Spread orders over this many days")
	seed := flag.Uint64("seed", 42, "Random seed")
	flag.Parse()

	if *customers <= 0 || *products <= 0 || *orders < 0 || *days <= 0 {
		fmt.Fprintln(os.Stderr, "customers, products and days must be positive, orders non-negative")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg := domain.DefaultConfig()
	domain.ApplyEnv(cfg)

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to open repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	g := &generator{
		rng: rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15)),
		now: time.Now().UTC(),
	}

	ctx := context.Background()
	start := time.Now()

	if err := g.run(ctx, repo, *customers, *products, *orders, *days); err != nil {
		slog.Error("seeding failed", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Printf("Seeded %d customers, %d products and %d orders into %s in %s\n",
		*customers, *products, *orders, cfg.Repository.Driver, time.Since(start).Round(time.Millisecond))
}

type generator struct {
	rng *rand.Rand
	now time.Time
}

func (g *generator) run(ctx context.Context, repo *repository.SQLRepository, numCustomers, numProducts, numOrders, days int) error {
	bar := progressbar.Default(int64(numCustomers+numProducts+numOrders), "seeding")

	customerIDs := make([]string, numCustomers)
	for i := range customerIDs {
		c := g.customer(i, days)
		if err := repo.SaveCustomer(ctx, c); err != nil {
			return fmt.Errorf("save customer %s: %w", c.ID, err)
		}
		customerIDs[i] = c.ID
		_ = bar.Add(1)
	}

	catalog := make([]*domain.Product, numProducts)
	for i := range catalog {
		p := g.product(i)
		if err := repo.SaveProduct(ctx, p); err != nil {
			return fmt.Errorf("save product %s: %w", p.ID, err)
		}
		catalog[i] = p
		_ = bar.Add(1)
	}

	for range numOrders {
		o := g.order(customerIDs, catalog, days)
		if err := repo.SaveOrder(ctx, o); err != nil {
			return fmt.Errorf("save order %s: %w", o.ID, err)
		}
		_ = bar.Add(1)
	}

	return bar.Finish()
}

func (g *generator) customer(i, days int) *domain.Customer {
	return &domain.Customer{
		ID:        fmt.Sprintf("cust-%05d", i+1),
		Name:      fmt.Sprintf("Customer %d", i+1),
		Email:     fmt.Sprintf("customer%d@example.com", i+1),
		Company:   fmt.Sprintf("Company %c", 'A'+rune(i%26)),
		CreatedAt: g.now.AddDate(0, 0, -days-g.rng.IntN(days)),
	}
}

func (g *generator) product(i int) *domain.Product {
	return &domain.Product{
		ID:        fmt.Sprintf("prod-%03d", i+1),
		Name:      fmt.Sprintf("Product %d", i+1),
		Category:  categories[i%len(categories)],
		Price:     float64(10+g.rng.IntN(490)) + 0.99,
		CreatedAt: g.now.AddDate(-1, 0, 0),
	}
}

// order picks a customer with a squared distribution so low indexes buy far
// more often, and biases their purchases towards recent days.
func (g *generator) order(customerIDs []string, catalog []*domain.Product, days int) *domain.Order {
	u := g.rng.Float64()
	idx := int(u * u * float64(len(customerIDs)))

	recency := g.rng.Float64()
	if idx < len(customerIDs)/5 {
		recency *= recency
	}
	orderedAt := g.now.Add(-time.Duration(recency * float64(days) * float64(24*time.Hour)))

	status := domain.OrderStatusCompleted
	switch n := g.rng.IntN(20); {
	case n == 0:
		status = domain.OrderStatusCancelled
	case n == 1:
		status = domain.OrderStatusPending
	}

	lines := min(1+g.rng.IntN(3), len(catalog))
	items := make([]domain.OrderItem, 0, lines)
	var total float64
	for _, pi := range g.rng.Perm(len(catalog))[:lines] {
		p := catalog[pi]
		qty := 1 + g.rng.IntN(4)
		items = append(items, domain.OrderItem{
			ProductID: p.ID,
			Quantity:  qty,
			UnitPrice: p.Price,
		})
		total += float64(qty) * p.Price
	}

	return &domain.Order{
		ID:         uuid.New().String(),
		CustomerID: customerIDs[idx],
		Status:     status,
		Total:      total,
		OrderedAt:  orderedAt,
		Items:      items,
	}
}
