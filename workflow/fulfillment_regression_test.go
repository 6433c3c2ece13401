package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/fulfillment_backend/config"
	"bitbucket.org/mmdatafocus/fulfillment_backend/models"
	"bitbucket.org/mmdatafocus/fulfillment_backend/utils"
	"bitbucket.org/mmdatafocus/fulfillment_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// setupIntegration boots MySQL + Redis in docker, wires the env the
// config.Connect* helpers read, connects and migrates. One call per test
// gives every test a fresh database.
func setupIntegration(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "fulfillment_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	return context.Background()
}

func mustWarehouse(t *testing.T, ctx context.Context, name string, capacity int64) *models.Warehouse {
	t.Helper()
	wh, err := models.CreateWarehouse(ctx, &models.NewWarehouse{
		Name:     name,
		City:     "Testville",
		Capacity: decimal.NewFromInt(capacity),
	})
	if err != nil {
		t.Fatalf("CreateWarehouse(%s): %v", name, err)
	}
	return wh
}

func mustProduct(t *testing.T, ctx context.Context, name string, price string, unitVolume int64) *models.Product {
	t.Helper()
	p, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:       name,
		Price:      decimal.RequireFromString(price),
		UnitVolume: decimal.NewFromInt(unitVolume),
	})
	if err != nil {
		t.Fatalf("CreateProduct(%s): %v", name, err)
	}
	return p
}

func inventoryQty(t *testing.T, ctx context.Context, warehouseId, productId int) int {
	t.Helper()
	rows, err := models.ListWarehouseInventory(ctx, warehouseId)
	if err != nil {
		t.Fatalf("ListWarehouseInventory: %v", err)
	}
	for _, r := range rows {
		if r.ProductId == productId {
			return r.Quantity
		}
	}
	return 0
}

func TestIntakeRespectsCapacity(t *testing.T) {
	ctx := setupIntegration(t)

	wh := mustWarehouse(t, ctx, "Compact", 100)
	bulky := mustProduct(t, ctx, "Bulky", "25.50", 10)

	// 5 units at volume 10 fill half the warehouse.
	if err := workflow.IntakeStock(ctx, wh.ID, bulky.ID, 5); err != nil {
		t.Fatalf("IntakeStock(5): %v", err)
	}
	if got := inventoryQty(t, ctx, wh.ID, bulky.ID); got != 5 {
		t.Fatalf("expected qty 5 after intake; got %d", got)
	}

	// 6 more would need 110 total against capacity 100.
	err := workflow.IntakeStock(ctx, wh.ID, bulky.ID, 6)
	if err == nil {
		t.Fatalf("expected capacity error")
	}
	want := fmt.Sprintf("not enough capacity on warehouse %d: need 10 but have 50 free", wh.ID)
	if err.Error() != want {
		t.Fatalf("got %q; want %q", err.Error(), want)
	}

	// The failed intake must leave no trace: no stock change, no movement.
	if got := inventoryQty(t, ctx, wh.ID, bulky.ID); got != 5 {
		t.Fatalf("expected qty unchanged at 5; got %d", got)
	}
	movements, err := models.ListMovements(ctx, models.MovementFilter{WarehouseId: &wh.ID})
	if err != nil {
		t.Fatalf("ListMovements: %v", err)
	}
	if len(movements) != 1 {
		t.Fatalf("expected exactly 1 movement; got %d", len(movements))
	}
	if movements[0].QuantityChange != 5 || movements[0].Reason != models.MovementReasonAddStockSafe {
		t.Fatalf("unexpected movement: %+v", movements[0])
	}
}

func TestIntakeRejectsNonPositiveQuantity(t *testing.T) {
	ctx := setupIntegration(t)

	wh := mustWarehouse(t, ctx, "Main", 1000)
	p := mustProduct(t, ctx, "Widget", "9.99", 1)

	for _, qty := range []int{0, -3} {
		if err := workflow.IntakeStock(ctx, wh.ID, p.ID, qty); !errors.Is(err, models.ErrorInvalidQuantity) {
			t.Fatalf("qty=%d: expected ErrorInvalidQuantity; got %v", qty, err)
		}
	}
}

func TestAllocateOrderDeductsFromSingleWarehouse(t *testing.T) {
	ctx := setupIntegration(t)

	// Two warehouses; only the second covers both lines in full.
	small := mustWarehouse(t, ctx, "Small", 10000)
	big := mustWarehouse(t, ctx, "Big", 10000)
	widget := mustProduct(t, ctx, "Widget", "10.00", 1)
	gadget := mustProduct(t, ctx, "Gadget", "4.00", 1)

	if err := workflow.IntakeStock(ctx, small.ID, widget.ID, 50); err != nil {
		t.Fatalf("intake: %v", err)
	}
	if err := workflow.IntakeStock(ctx, big.ID, widget.ID, 20); err != nil {
		t.Fatalf("intake: %v", err)
	}
	if err := workflow.IntakeStock(ctx, big.ID, gadget.ID, 20); err != nil {
		t.Fatalf("intake: %v", err)
	}

	order, err := models.CreateOrder(ctx, &models.NewOrder{
		Items: []models.NewOrderItem{
			{ProductId: widget.ID, Quantity: 3},
			{ProductId: gadget.ID, Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.TotalAmount.Cmp(decimal.RequireFromString("38.00")) != 0 {
		t.Fatalf("expected total 38.00; got %s", order.TotalAmount.String())
	}

	warehouseId, err := workflow.AllocateOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("AllocateOrder: %v", err)
	}
	if warehouseId != big.ID {
		t.Fatalf("expected allocation to warehouse %d; got %d", big.ID, warehouseId)
	}

	after, err := models.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if after.Status != models.OrderStatusProcessing {
		t.Fatalf("expected status processing; got %s", after.Status)
	}
	if after.AllocatedWarehouseId == nil || *after.AllocatedWarehouseId != big.ID {
		t.Fatalf("expected allocated_warehouse_id=%d; got %v", big.ID, after.AllocatedWarehouseId)
	}

	// Stock deducted only at the chosen warehouse.
	if got := inventoryQty(t, ctx, big.ID, widget.ID); got != 17 {
		t.Fatalf("big/widget: expected 17; got %d", got)
	}
	if got := inventoryQty(t, ctx, big.ID, gadget.ID); got != 18 {
		t.Fatalf("big/gadget: expected 18; got %d", got)
	}
	if got := inventoryQty(t, ctx, small.ID, widget.ID); got != 50 {
		t.Fatalf("small/widget: expected untouched 50; got %d", got)
	}

	// One negative movement per order line.
	reason := models.MovementReasonAllocateOrder
	movements, err := models.ListMovements(ctx, models.MovementFilter{Reason: &reason})
	if err != nil {
		t.Fatalf("ListMovements: %v", err)
	}
	if len(movements) != 2 {
		t.Fatalf("expected 2 allocation movements; got %d", len(movements))
	}
	for _, m := range movements {
		if m.WarehouseId != big.ID || m.QuantityChange >= 0 {
			t.Fatalf("unexpected movement: %+v", m)
		}
	}
}

func TestAllocateOrderTwiceDeductsOnce(t *testing.T) {
	ctx := setupIntegration(t)

	wh := mustWarehouse(t, ctx, "Main", 10000)
	widget := mustProduct(t, ctx, "Widget", "10.00", 1)

	// Enough stock that a second, unfenced deduction would also succeed.
	if err := workflow.IntakeStock(ctx, wh.ID, widget.ID, 100); err != nil {
		t.Fatalf("intake: %v", err)
	}

	order, err := models.CreateOrder(ctx, &models.NewOrder{
		Items: []models.NewOrderItem{{ProductId: widget.ID, Quantity: 10}},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if _, err := workflow.AllocateOrder(ctx, order.ID); err != nil {
		t.Fatalf("AllocateOrder: %v", err)
	}

	// A repeated request must be rejected, not applied again and not
	// treated as a failed allocation that cancels the order.
	if _, err := workflow.AllocateOrder(ctx, order.ID); !errors.Is(err, models.ErrorOrderNotAllocatable) {
		t.Fatalf("expected ErrorOrderNotAllocatable; got %v", err)
	}

	after, err := models.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if after.Status != models.OrderStatusProcessing {
		t.Fatalf("expected status processing after repeat request; got %s", after.Status)
	}
	if got := inventoryQty(t, ctx, wh.ID, widget.ID); got != 90 {
		t.Fatalf("expected single deduction leaving 90; got %d", got)
	}
	reason := models.MovementReasonAllocateOrder
	movements, err := models.ListMovements(ctx, models.MovementFilter{Reason: &reason})
	if err != nil {
		t.Fatalf("ListMovements: %v", err)
	}
	if len(movements) != 1 {
		t.Fatalf("expected 1 allocation movement; got %d", len(movements))
	}
}

func TestIntakeDuplicateCorrelationIdRejected(t *testing.T) {
	ctx := setupIntegration(t)

	wh := mustWarehouse(t, ctx, "Main", 100)
	bulky := mustProduct(t, ctx, "Bulky", "25.50", 10)

	// A caller-supplied correlation id makes intake at-most-once.
	replayCtx := utils.SetCorrelationIdInContext(ctx, "delivery-42")
	if err := workflow.IntakeStock(replayCtx, wh.ID, bulky.ID, 5); err != nil {
		t.Fatalf("IntakeStock: %v", err)
	}
	if err := workflow.IntakeStock(replayCtx, wh.ID, bulky.ID, 5); !errors.Is(err, models.ErrorDuplicateIntake) {
		t.Fatalf("expected ErrorDuplicateIntake; got %v", err)
	}
	if got := inventoryQty(t, ctx, wh.ID, bulky.ID); got != 5 {
		t.Fatalf("expected qty 5 after replay; got %d", got)
	}

	// A failed posting releases its correlation id for retry.
	retryCtx := utils.SetCorrelationIdInContext(ctx, "delivery-43")
	if err := workflow.IntakeStock(retryCtx, wh.ID, bulky.ID, 6); err == nil {
		t.Fatalf("expected capacity error")
	}
	if err := workflow.IntakeStock(retryCtx, wh.ID, bulky.ID, 5); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if got := inventoryQty(t, ctx, wh.ID, bulky.ID); got != 10 {
		t.Fatalf("expected qty 10 after retry; got %d", got)
	}
}

func TestAllocateOrderCancelsWithoutCoverage(t *testing.T) {
	ctx := setupIntegration(t)

	whA := mustWarehouse(t, ctx, "A", 10000)
	whB := mustWarehouse(t, ctx, "B", 10000)
	widget := mustProduct(t, ctx, "Widget", "10.00", 1)
	gadget := mustProduct(t, ctx, "Gadget", "4.00", 1)

	// Coverage is split: neither warehouse holds both products.
	if err := workflow.IntakeStock(ctx, whA.ID, widget.ID, 50); err != nil {
		t.Fatalf("intake: %v", err)
	}
	if err := workflow.IntakeStock(ctx, whB.ID, gadget.ID, 50); err != nil {
		t.Fatalf("intake: %v", err)
	}

	order, err := models.CreateOrder(ctx, &models.NewOrder{
		Items: []models.NewOrderItem{
			{ProductId: widget.ID, Quantity: 1},
			{ProductId: gadget.ID, Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if _, err := workflow.AllocateOrder(ctx, order.ID); !errors.Is(err, models.ErrorNoWarehouseAvailable) {
		t.Fatalf("expected ErrorNoWarehouseAvailable; got %v", err)
	}

	// Cancellation survives the rolled-back allocation attempt.
	after, err := models.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if after.Status != models.OrderStatusCancelled {
		t.Fatalf("expected status cancelled; got %s", after.Status)
	}
	if after.AllocatedWarehouseId != nil {
		t.Fatalf("expected no allocated warehouse; got %d", *after.AllocatedWarehouseId)
	}

	// Inventory untouched everywhere.
	if got := inventoryQty(t, ctx, whA.ID, widget.ID); got != 50 {
		t.Fatalf("whA/widget: expected 50; got %d", got)
	}
	if got := inventoryQty(t, ctx, whB.ID, gadget.ID); got != 50 {
		t.Fatalf("whB/gadget: expected 50; got %d", got)
	}
	reason := models.MovementReasonAllocateOrder
	movements, err := models.ListMovements(ctx, models.MovementFilter{Reason: &reason})
	if err != nil {
		t.Fatalf("ListMovements: %v", err)
	}
	if len(movements) != 0 {
		t.Fatalf("expected no allocation movements; got %d", len(movements))
	}
}

func TestAllocateEmptyOrderCancels(t *testing.T) {
	ctx := setupIntegration(t)

	order, err := models.CreateOrder(ctx, &models.NewOrder{})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if _, err := workflow.AllocateOrder(ctx, order.ID); !errors.Is(err, models.ErrorEmptyOrder) {
		t.Fatalf("expected ErrorEmptyOrder; got %v", err)
	}
	after, err := models.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if after.Status != models.OrderStatusCancelled {
		t.Fatalf("expected status cancelled; got %s", after.Status)
	}

	// A cancelled order is terminal.
	if _, err := workflow.AllocateOrder(ctx, order.ID); err == nil {
		t.Fatalf("expected error re-allocating a cancelled order")
	}
}

func TestOrderItemEditsRecomputeTotal(t *testing.T) {
	ctx := setupIntegration(t)

	widget := mustProduct(t, ctx, "Widget", "25.50", 1)
	gadget := mustProduct(t, ctx, "Gadget", "3.10", 1)

	order, err := models.CreateOrder(ctx, &models.NewOrder{
		Items: []models.NewOrderItem{{ProductId: widget.ID, Quantity: 4}},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.TotalAmount.Cmp(decimal.RequireFromString("102.00")) != 0 {
		t.Fatalf("expected 102.00; got %s", order.TotalAmount.String())
	}

	item, err := models.AddOrderItem(ctx, order.ID, &models.NewOrderItem{ProductId: gadget.ID, Quantity: 3})
	if err != nil {
		t.Fatalf("AddOrderItem: %v", err)
	}
	after, err := models.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if after.TotalAmount.Cmp(decimal.RequireFromString("111.30")) != 0 {
		t.Fatalf("expected 111.30 after add; got %s", after.TotalAmount.String())
	}

	if _, err := models.UpdateOrderItem(ctx, item.ID, &models.NewOrderItem{ProductId: gadget.ID, Quantity: 1}); err != nil {
		t.Fatalf("UpdateOrderItem: %v", err)
	}
	after, err = models.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if after.TotalAmount.Cmp(decimal.RequireFromString("105.10")) != 0 {
		t.Fatalf("expected 105.10 after update; got %s", after.TotalAmount.String())
	}

	if _, err := models.DeleteOrderItem(ctx, item.ID); err != nil {
		t.Fatalf("DeleteOrderItem: %v", err)
	}
	after, err = models.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if after.TotalAmount.Cmp(decimal.RequireFromString("102.00")) != 0 {
		t.Fatalf("expected 102.00 after delete; got %s", after.TotalAmount.String())
	}

	// Zero quantity is rejected on every edit path.
	if _, err := models.AddOrderItem(ctx, order.ID, &models.NewOrderItem{ProductId: gadget.ID, Quantity: 0}); !errors.Is(err, models.ErrorInvalidQuantity) {
		t.Fatalf("expected ErrorInvalidQuantity; got %v", err)
	}
}

func TestRebuildDetectsAndRepairsDrift(t *testing.T) {
	ctx := setupIntegration(t)

	wh := mustWarehouse(t, ctx, "Main", 10000)
	p := mustProduct(t, ctx, "Widget", "10.00", 1)

	if err := workflow.IntakeStock(ctx, wh.ID, p.ID, 40); err != nil {
		t.Fatalf("intake: %v", err)
	}

	// Corrupt the cached quantity behind the ledger's back.
	db := config.GetDB()
	if err := db.Exec("UPDATE inventory_entries SET quantity = 7 WHERE warehouse_id = ? AND product_id = ?", wh.ID, p.ID).Error; err != nil {
		t.Fatalf("corrupt entry: %v", err)
	}

	tx := db.Begin()
	drifts, err := workflow.RebuildInventoryForWarehouse(tx, testLogger(), wh.ID, true)
	if err != nil {
		tx.Rollback()
		t.Fatalf("RebuildInventoryForWarehouse: %v", err)
	}
	if err := tx.Commit().Error; err != nil {
		t.Fatalf("commit: %v", err)
	}

	if len(drifts) != 1 {
		t.Fatalf("expected 1 drift; got %d", len(drifts))
	}
	if drifts[0].EntryQty != 7 || drifts[0].LedgerQty != 40 {
		t.Fatalf("unexpected drift: %+v", drifts[0])
	}
	if got := inventoryQty(t, ctx, wh.ID, p.ID); got != 40 {
		t.Fatalf("expected repaired qty 40; got %d", got)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("fulfillment-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("fulfillment-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=fulfillment_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
