package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/fulfillment_backend/config"
	"bitbucket.org/mmdatafocus/fulfillment_backend/models"
	"bitbucket.org/mmdatafocus/fulfillment_backend/utils"
	"github.com/bsm/redislock"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// orderRequirement is one line of demand: the order wants Quantity of ProductId.
type orderRequirement struct {
	ProductId int
	Quantity  int
}

// warehouseCandidate aggregates one warehouse's stock against an order's
// requirements. OkCount is how many requirements the warehouse covers in
// full; TotalAvailable is its headroom, the total on-hand quantity across
// the order's products.
type warehouseCandidate struct {
	WarehouseId    int
	OkCount        int
	TotalAvailable int
}

// pickCandidateWarehouse returns the warehouse covering every requirement
// with the largest headroom. Ties break on the lowest warehouse id so
// repeated runs against identical stock pick the same warehouse.
func pickCandidateWarehouse(candidates []warehouseCandidate, requiredCount int) (int, bool) {
	best := -1
	bestAvailable := 0
	for _, c := range candidates {
		if c.OkCount < requiredCount {
			continue
		}
		if best == -1 ||
			c.TotalAvailable > bestAvailable ||
			(c.TotalAvailable == bestAvailable && c.WarehouseId < best) {
			best = c.WarehouseId
			bestAvailable = c.TotalAvailable
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

func buildCandidates(entries []models.InventoryEntry, requirements []orderRequirement) []warehouseCandidate {
	byWarehouse := make(map[int]*warehouseCandidate)
	order := make([]int, 0)
	for _, e := range entries {
		for _, r := range requirements {
			if r.ProductId != e.ProductId {
				continue
			}
			c := byWarehouse[e.WarehouseId]
			if c == nil {
				c = &warehouseCandidate{WarehouseId: e.WarehouseId}
				byWarehouse[e.WarehouseId] = c
				order = append(order, e.WarehouseId)
			}
			c.TotalAvailable += e.Quantity
			if e.Quantity >= r.Quantity {
				c.OkCount++
			}
		}
	}

	candidates := make([]warehouseCandidate, 0, len(order))
	for _, id := range order {
		candidates = append(candidates, *byWarehouse[id])
	}
	return candidates
}

// AllocateOrder assigns a single warehouse able to satisfy every line item
// of the order in full, deducts the stock there and logs one movement per
// line; or cancels the order when no warehouse covers it. The deduction runs
// as one atomic unit: either the order ends allocated with stock deducted,
// or the inventory is untouched.
//
// Returns the chosen warehouse id on success. ErrorEmptyOrder and
// ErrorNoWarehouseAvailable cancel the order (status only; the ledger is
// never touched on failure).
func AllocateOrder(ctx context.Context, orderId int) (int, error) {
	db := config.GetDB()
	logger := config.GetLogger()
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)

	// Fence duplicate allocation requests for the same order. A held lock
	// means another caller is mid-allocation; reject instead of queueing
	// behind it. Correctness does not depend on Redis: the in-transaction
	// status re-check below catches races even when Redis is down.
	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, fmt.Sprintf("allocate_order:%d", orderId), 30*time.Second, nil)
		switch {
		case err == nil:
			defer lock.Release(context.WithoutCancel(ctx))
		case errors.Is(err, redislock.ErrNotObtained):
			return 0, models.ErrorAllocationInProgress
		default:
			config.LogError(logger, "allocation.go", "AllocateOrder", "redislock.Obtain", orderId, err)
		}
	}

	order, err := utils.FetchModel[models.Order](ctx, orderId)
	if err != nil {
		return 0, err
	}
	if order.Status != models.OrderStatusNew {
		return 0, models.ErrorOrderNotAllocatable
	}

	tx := db.WithContext(ctx).Begin()
	if err := tx.Error; err != nil {
		return 0, err
	}
	if err := AcquireStockPostingLock(tx); err != nil {
		tx.Rollback()
		return 0, err
	}

	warehouseId, err := allocateOrderTx(tx, orderId, correlationId)
	if err != nil {
		ReleaseStockPostingLock(tx)
		tx.Rollback()
		// Terminal outcomes cancel the order, but only the status field
		// changes; the rollback above guarantees the ledger is untouched.
		if errors.Is(err, models.ErrorEmptyOrder) || errors.Is(err, models.ErrorNoWarehouseAvailable) {
			// Guarded on status so a caller that won the race to allocate
			// concurrently can never be flipped back to cancelled.
			if cancelErr := db.WithContext(ctx).Model(&models.Order{}).
				Where("id = ? AND status = ?", orderId, models.OrderStatusNew).
				Update("status", models.OrderStatusCancelled).Error; cancelErr != nil {
				config.LogError(logger, "allocation.go", "AllocateOrder", "cancel order", orderId, cancelErr)
			}
		}
		return 0, err
	}
	ReleaseStockPostingLock(tx)
	if err := tx.Commit().Error; err != nil {
		return 0, err
	}
	return warehouseId, nil
}

func allocateOrderTx(tx *gorm.DB, orderId int, correlationId string) (int, error) {
	// Re-verify the status on the locked row: the pre-check ran outside
	// this transaction, and a concurrent caller may have allocated or
	// cancelled the order since.
	var order models.Order
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&order, orderId).Error; err != nil {
		return 0, utils.ErrorRecordNotFound
	}
	if order.Status != models.OrderStatusNew {
		return 0, models.ErrorOrderNotAllocatable
	}

	var items []models.OrderItem
	if err := tx.Where("order_id = ?", orderId).Order("id").Find(&items).Error; err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, models.ErrorEmptyOrder
	}

	requirements := make([]orderRequirement, 0, len(items))
	productIds := make([]int, 0, len(items))
	for _, item := range items {
		requirements = append(requirements, orderRequirement{
			ProductId: item.ProductId,
			Quantity:  item.Quantity,
		})
		productIds = append(productIds, item.ProductId)
	}

	// Lock every inventory row for the order's products across warehouses:
	// the coverage snapshot must hold until the deduction commits.
	var entries []models.InventoryEntry
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("product_id IN ?", productIds).
		Find(&entries).Error; err != nil {
		return 0, err
	}

	candidates := buildCandidates(entries, requirements)
	warehouseId, found := pickCandidateWarehouse(candidates, len(requirements))
	if !found {
		return 0, models.ErrorNoWarehouseAvailable
	}

	for _, req := range requirements {
		result := tx.Model(&models.InventoryEntry{}).
			Where("warehouse_id = ? AND product_id = ? AND quantity >= ?",
				warehouseId, req.ProductId, req.Quantity).
			Update("quantity", gorm.Expr("quantity - ?", req.Quantity))
		if result.Error != nil {
			return 0, result.Error
		}
		// Coverage was checked on locked rows; a miss here means the
		// snapshot was violated and the whole unit must roll back.
		if result.RowsAffected == 0 {
			return 0, models.ErrorNoWarehouseAvailable
		}
		if err := models.AppendMovement(tx, warehouseId, req.ProductId, -req.Quantity,
			models.MovementReasonAllocateOrder, correlationId); err != nil {
			return 0, err
		}
	}

	if err := tx.Model(&models.Order{}).Where("id = ?", orderId).Updates(map[string]interface{}{
		"status":                 models.OrderStatusProcessing,
		"allocated_warehouse_id": warehouseId,
	}).Error; err != nil {
		return 0, err
	}

	return warehouseId, nil
}
