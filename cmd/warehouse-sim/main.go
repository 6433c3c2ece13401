package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"

	"bitbucket.org/mmdatafocus/fulfillment_backend/config"
	"bitbucket.org/mmdatafocus/fulfillment_backend/models"
	"bitbucket.org/mmdatafocus/fulfillment_backend/workflow"
	"github.com/shopspring/decimal"
)

// warehouse-sim seeds a small catalog, runs random stock intakes and order
// allocations against a live database, and prints the resulting state.
// Intended for demos and manual smoke checks, not production.
//
// Example:
//   go run ./cmd/warehouse-sim --orders=10 --seed=42
func main() {
	orderCount := flag.Int("orders", 10, "number of random orders to create and allocate")
	seed := flag.Int64("seed", 0, "random seed (0 = nondeterministic)")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	if *seed == 0 {
		rng = rand.New(rand.NewSource(int64(os.Getpid())))
	}

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	models.MigrateTable()

	ctx := context.Background()

	warehouses := seedWarehouses(ctx)
	products := seedProducts(ctx)
	customers := seedCustomers(ctx)

	fmt.Println("== stock intake ==")
	for _, wh := range warehouses {
		for _, p := range products {
			qty := 5 + rng.Intn(16)
			if err := workflow.IntakeStock(ctx, wh.ID, p.ID, qty); err != nil {
				fmt.Printf("  intake %s x%d -> %s: %v\n", p.Name, qty, wh.Name, err)
				continue
			}
			fmt.Printf("  intake %s x%d -> %s\n", p.Name, qty, wh.Name)
		}
	}

	// Deliberate overfill to exercise the capacity guard.
	fmt.Println("== capacity guard ==")
	err := workflow.IntakeStock(ctx, warehouses[0].ID, products[0].ID, 100000)
	var capErr *models.CapacityExceededError
	if errors.As(err, &capErr) {
		fmt.Printf("  rejected as expected: %v\n", capErr)
	} else {
		fmt.Printf("  UNEXPECTED result: %v\n", err)
	}

	fmt.Println("== orders ==")
	for i := 0; i < *orderCount; i++ {
		customer := customers[rng.Intn(len(customers))]
		itemCount := 2 + rng.Intn(4)
		input := models.NewOrder{CustomerId: &customer.ID}
		seen := map[int]bool{}
		for len(input.Items) < itemCount {
			p := products[rng.Intn(len(products))]
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			input.Items = append(input.Items, models.NewOrderItem{
				ProductId: p.ID,
				Quantity:  1 + rng.Intn(5),
			})
		}
		order, err := models.CreateOrder(ctx, &input)
		if err != nil {
			fmt.Printf("  create order for %s: %v\n", customer.Name, err)
			continue
		}
		warehouseId, err := workflow.AllocateOrder(ctx, order.ID)
		if err != nil {
			fmt.Printf("  order #%d (%s, total %s): %v\n",
				order.ID, customer.Name, order.TotalAmount.StringFixed(2), err)
			continue
		}
		fmt.Printf("  order #%d (%s, total %s) allocated to warehouse %d\n",
			order.ID, customer.Name, order.TotalAmount.StringFixed(2), warehouseId)
	}

	fmt.Println("== final stock ==")
	for _, wh := range warehouses {
		rows, err := models.ListWarehouseInventory(ctx, wh.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list inventory for %s: %v\n", wh.Name, err)
			continue
		}
		fmt.Printf("  %s (%s):\n", wh.Name, wh.City)
		for _, row := range rows {
			fmt.Printf("    %-12s qty=%-4d volume=%s\n", row.ProductName, row.Quantity, row.Volume.StringFixed(2))
		}
	}

	fmt.Println("== orders summary ==")
	orders, err := models.ListOrders(ctx, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list orders: %v\n", err)
		os.Exit(1)
	}
	for _, o := range orders {
		name := "(walk-in)"
		if o.CustomerName != nil {
			name = *o.CustomerName
		}
		fmt.Printf("  #%-4d %-12s %-10s total=%s\n", o.ID, name, o.Status, o.TotalAmount.StringFixed(2))
	}
}

func seedWarehouses(ctx context.Context) []*models.Warehouse {
	specs := []models.NewWarehouse{
		{Name: "WH_A", City: "Almaty", Capacity: decimal.NewFromInt(5000)},
		{Name: "WH_B", City: "Astana", Capacity: decimal.NewFromInt(4000)},
		{Name: "WH_C", City: "Shymkent", Capacity: decimal.NewFromInt(6000)},
	}
	var out []*models.Warehouse
	for i := range specs {
		wh, err := models.CreateWarehouse(ctx, &specs[i])
		if err != nil {
			// Probably seeded already; reuse the existing row.
			existing, lookupErr := models.ListWarehouse(ctx, &specs[i].Name)
			if lookupErr != nil || len(existing) == 0 {
				fmt.Fprintf(os.Stderr, "seed warehouse %s: %v\n", specs[i].Name, err)
				os.Exit(1)
			}
			wh = existing[0]
		}
		out = append(out, wh)
	}
	return out
}

func seedProducts(ctx context.Context) []*models.Product {
	var out []*models.Product
	for i := 1; i <= 10; i++ {
		input := models.NewProduct{
			Name:       fmt.Sprintf("Widget-%02d", i),
			Price:      decimal.NewFromFloat(4.5).Add(decimal.NewFromInt(int64(i * 3))),
			UnitVolume: decimal.NewFromInt(int64(1 + i%5)),
		}
		p, err := models.CreateProduct(ctx, &input)
		if err != nil {
			existing, lookupErr := models.ListProduct(ctx, &input.Name)
			if lookupErr != nil || len(existing) == 0 {
				fmt.Fprintf(os.Stderr, "seed product %s: %v\n", input.Name, err)
				os.Exit(1)
			}
			p = existing[0]
		}
		out = append(out, p)
	}
	return out
}

func seedCustomers(ctx context.Context) []*models.Customer {
	names := []string{"Alice", "Bob", "Charlie", "Diana"}
	var out []*models.Customer
	for _, name := range names {
		c, err := models.CreateCustomer(ctx, &models.NewCustomer{Name: name})
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed customer %s: %v\n", name, err)
			os.Exit(1)
		}
		out = append(out, c)
	}
	return out
}
