package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/fulfillment_backend/config"
	"bitbucket.org/mmdatafocus/fulfillment_backend/models"
	"bitbucket.org/mmdatafocus/fulfillment_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AddStockSafe validates and applies an incoming stock delivery inside the
// caller's transaction. The warehouse row is locked FOR UPDATE so the
// capacity check and the inventory write form one unit against concurrent
// posting on the same warehouse.
//
// Failure modes: ErrorInvalidQuantity, ErrorRecordNotFound (warehouse or
// product), *CapacityExceededError.
func AddStockSafe(tx *gorm.DB, logger *logrus.Logger, warehouseId int, productId int, quantity int, correlationId string) error {
	if quantity <= 0 {
		return models.ErrorInvalidQuantity
	}

	var product models.Product
	if err := tx.First(&product, productId).Error; err != nil {
		return utils.ErrorRecordNotFound
	}

	var warehouse models.Warehouse
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&warehouse, warehouseId).Error; err != nil {
		return utils.ErrorRecordNotFound
	}

	incomingVolume := product.UnitVolume.Mul(decimal.NewFromInt(int64(quantity)))
	currentVolume, err := models.WarehouseUsedVolume(tx, warehouseId)
	if err != nil {
		config.LogError(logger, "stockIntake.go", "AddStockSafe", "WarehouseUsedVolume", warehouseId, err)
		return err
	}

	if currentVolume.Add(incomingVolume).GreaterThan(warehouse.Capacity) {
		return &models.CapacityExceededError{
			WarehouseId: warehouseId,
			Overflow:    currentVolume.Add(incomingVolume).Sub(warehouse.Capacity),
			FreeVolume:  warehouse.Capacity.Sub(currentVolume),
		}
	}

	entry, err := models.FirstOrCreateInventoryEntry(tx, warehouseId, productId)
	if err != nil {
		config.LogError(logger, "stockIntake.go", "AddStockSafe", "FirstOrCreateInventoryEntry", warehouseId, err)
		return err
	}
	if err := tx.Model(&models.InventoryEntry{}).
		Where("warehouse_id = ? AND product_id = ?", entry.WarehouseId, entry.ProductId).
		Update("quantity", gorm.Expr("quantity + ?", quantity)).Error; err != nil {
		config.LogError(logger, "stockIntake.go", "AddStockSafe", "update inventory entry", entry, err)
		return err
	}

	if err := models.AppendMovement(tx, warehouseId, productId, quantity, models.MovementReasonAddStockSafe, correlationId); err != nil {
		config.LogError(logger, "stockIntake.go", "AddStockSafe", "AppendMovement", nil, err)
		return err
	}

	return nil
}

// IntakeStock is the external intake operation: one transaction wrapping
// AddStockSafe under the stock posting lock. On any failure the transaction
// is rolled back before the error is surfaced.
//
// Callers that supply a correlation id get at-most-once delivery: a replay
// carrying an already-posted correlation id is rejected with
// ErrorDuplicateIntake instead of posting the stock twice.
func IntakeStock(ctx context.Context, warehouseId int, productId int, quantity int) error {
	db := config.GetDB()
	logger := config.GetLogger()
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)

	dedupeKey := ""
	if correlationId != "" {
		dedupeKey = "stock_intake:" + correlationId
		if _, seen, err := config.GetRedisValue(dedupeKey); err == nil && seen {
			return models.ErrorDuplicateIntake
		}
		// Mark before posting so a concurrent replay is fenced out; the
		// marker is removed again on any failure below.
		if err := config.SetRedisValue(dedupeKey, "1", time.Hour); err != nil {
			config.LogError(logger, "stockIntake.go", "IntakeStock", "SetRedisValue", dedupeKey, err)
		}
	}

	tx := db.WithContext(ctx).Begin()
	if err := tx.Error; err != nil {
		removeIntakeMarker(dedupeKey)
		return err
	}
	if err := AcquireStockPostingLock(tx); err != nil {
		tx.Rollback()
		removeIntakeMarker(dedupeKey)
		return err
	}

	if err := AddStockSafe(tx, logger, warehouseId, productId, quantity, correlationId); err != nil {
		// GET_LOCK is connection-scoped and survives rollback; release explicitly.
		ReleaseStockPostingLock(tx)
		tx.Rollback()
		removeIntakeMarker(dedupeKey)
		return err
	}
	// Row locks taken inside the transaction still serialize readers until commit.
	ReleaseStockPostingLock(tx)
	if err := tx.Commit().Error; err != nil {
		removeIntakeMarker(dedupeKey)
		return err
	}
	return nil
}

func removeIntakeMarker(dedupeKey string) {
	if dedupeKey == "" {
		return
	}
	_ = config.RemoveRedisKey(dedupeKey)
}
