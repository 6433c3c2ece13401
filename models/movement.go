package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/fulfillment_backend/config"
	"bitbucket.org/mmdatafocus/fulfillment_backend/utils"
	"gorm.io/gorm"
)

// Movement is the append-only audit trail of signed quantity changes.
// Rows are never updated or deleted by normal operation; the inventory
// entries can always be rebuilt from them (see cmd/inventory-rebuild).
type Movement struct {
	ID             int            `gorm:"primary_key" json:"id"`
	WarehouseId    int            `gorm:"index;not null" json:"warehouse_id"`
	ProductId      int            `gorm:"index;not null" json:"product_id"`
	QuantityChange int            `gorm:"not null" json:"quantity_change"`
	Reason         MovementReason `gorm:"size:100;not null" json:"reason"`
	CorrelationId  string         `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// AppendMovement writes one audit row inside the caller's transaction.
func AppendMovement(tx *gorm.DB, warehouseId int, productId int, quantityChange int, reason MovementReason, correlationId string) error {
	movement := Movement{
		WarehouseId:    warehouseId,
		ProductId:      productId,
		QuantityChange: quantityChange,
		Reason:         reason,
		CorrelationId:  correlationId,
	}
	return tx.Create(&movement).Error
}

type MovementFilter struct {
	WarehouseId *int
	ProductId   *int
	Reason      *MovementReason
	Limit       int
}

func ListMovements(ctx context.Context, filter MovementFilter) ([]*Movement, error) {
	db := config.GetDB()

	dbCtx := db.WithContext(ctx)
	if filter.WarehouseId != nil {
		if err := utils.ValidateResourceId[Warehouse](ctx, *filter.WarehouseId); err != nil {
			return nil, err
		}
		dbCtx = dbCtx.Where("warehouse_id = ?", *filter.WarehouseId)
	}
	if filter.ProductId != nil {
		dbCtx = dbCtx.Where("product_id = ?", *filter.ProductId)
	}
	if filter.Reason != nil {
		dbCtx = dbCtx.Where("reason = ?", *filter.Reason)
	}
	if filter.Limit > 0 {
		dbCtx = dbCtx.Limit(filter.Limit)
	}

	var results []*Movement
	err := dbCtx.Order("id DESC").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
