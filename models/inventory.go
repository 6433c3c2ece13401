package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/fulfillment_backend/config"
	"bitbucket.org/mmdatafocus/fulfillment_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InventoryEntry is the per-(warehouse, product) quantity of record.
// Rows are created on first intake and updated in place afterwards; they are
// only removed when their warehouse or product is removed.
type InventoryEntry struct {
	WarehouseId int       `gorm:"primary_key;autoIncrement:false" json:"warehouse_id"`
	ProductId   int       `gorm:"primary_key;autoIncrement:false" json:"product_id"`
	Quantity    int       `gorm:"not null;default:0" json:"quantity"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// FirstOrCreateInventoryEntry finds or creates the entry for a
// (warehouse, product) pair, locking the row FOR UPDATE so concurrent
// intakes and allocations on the same pair serialize.
func FirstOrCreateInventoryEntry(tx *gorm.DB, warehouseId int, productId int) (*InventoryEntry, error) {
	entry := InventoryEntry{
		WarehouseId: warehouseId,
		ProductId:   productId,
	}
	result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("warehouse_id = ? AND product_id = ?", warehouseId, productId).
		FirstOrCreate(&entry)
	if result.Error != nil {
		return nil, result.Error
	}
	return &entry, nil
}

type WarehouseInventoryRow struct {
	WarehouseId   int             `json:"warehouse_id"`
	WarehouseName string          `json:"warehouse_name"`
	ProductId     int             `json:"product_id"`
	ProductName   string          `json:"product_name"`
	Quantity      int             `json:"quantity"`
	UnitVolume    decimal.Decimal `json:"unit_volume"`
	Volume        decimal.Decimal `json:"volume"`
}

// ListWarehouseInventory returns the current stock held by one warehouse,
// with per-row volume (quantity * unit volume).
func ListWarehouseInventory(ctx context.Context, warehouseId int) ([]*WarehouseInventoryRow, error) {
	if err := utils.ValidateResourceId[Warehouse](ctx, warehouseId); err != nil {
		return nil, err
	}

	db := config.GetDB()
	var results []*WarehouseInventoryRow
	err := db.WithContext(ctx).Model(&InventoryEntry{}).
		Select(`inventory_entries.warehouse_id,
			warehouses.name AS warehouse_name,
			inventory_entries.product_id,
			products.name AS product_name,
			inventory_entries.quantity,
			products.unit_volume,
			inventory_entries.quantity * products.unit_volume AS volume`).
		Joins("JOIN warehouses ON warehouses.id = inventory_entries.warehouse_id").
		Joins("JOIN products ON products.id = inventory_entries.product_id").
		Where("inventory_entries.warehouse_id = ?", warehouseId).
		Order("inventory_entries.product_id").
		Scan(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
