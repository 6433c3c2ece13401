package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/fulfillment_backend/config"
	"bitbucket.org/mmdatafocus/fulfillment_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Warehouse struct {
	ID        int             `gorm:"primary_key" json:"id"`
	Name      string          `gorm:"size:100;not null" json:"name" binding:"required"`
	City      string          `gorm:"size:100" json:"city"`
	Capacity  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"capacity"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewWarehouse struct {
	Name     string          `json:"name" binding:"required"`
	City     string          `json:"city"`
	Capacity decimal.Decimal `json:"capacity" binding:"required"`
}

// validate input for both create & update. (id = 0 for create)

func (input *NewWarehouse) validate(ctx context.Context, id int) error {
	// name
	if err := utils.ValidateUnique[Warehouse](ctx, "name", input.Name, id); err != nil {
		return err
	}
	// capacity is a volume budget, zero makes the warehouse unusable
	if !input.Capacity.IsPositive() {
		return errors.New("capacity must be positive")
	}
	return nil
}

func CreateWarehouse(ctx context.Context, input *NewWarehouse) (*Warehouse, error) {

	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	warehouse := Warehouse{
		Name:     input.Name,
		City:     input.City,
		Capacity: input.Capacity,
	}

	// db action
	db := config.GetDB()
	err := db.WithContext(ctx).Create(&warehouse).Error
	if err != nil {
		return nil, err
	}
	return &warehouse, nil
}

func UpdateWarehouse(ctx context.Context, id int, input *NewWarehouse) (*Warehouse, error) {

	if err := input.validate(ctx, id); err != nil {
		return nil, err
	}

	warehouse, err := utils.FetchModel[Warehouse](ctx, id)
	if err != nil {
		return nil, err
	}

	// shrinking capacity below the currently stored volume would break the
	// capacity invariant retroactively
	db := config.GetDB()
	used, err := WarehouseUsedVolume(db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	if input.Capacity.LessThan(used) {
		return nil, errors.New("capacity cannot be lower than currently stored volume")
	}

	err = db.WithContext(ctx).Model(&warehouse).Updates(map[string]interface{}{
		"Name":     input.Name,
		"City":     input.City,
		"Capacity": input.Capacity,
	}).Error
	if err != nil {
		return nil, err
	}

	return warehouse, nil
}

// DeleteWarehouse removes the warehouse and cascades its inventory entries.
// The movement log keeps its rows (append-only audit trail).
func DeleteWarehouse(ctx context.Context, id int) (*Warehouse, error) {

	warehouse, err := utils.FetchModel[Warehouse](ctx, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).
		Where("warehouse_id = ?", id).
		Delete(&InventoryEntry{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.WithContext(ctx).Delete(&warehouse).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return warehouse, nil
}

func GetWarehouse(ctx context.Context, id int) (*Warehouse, error) {
	return utils.FetchModel[Warehouse](ctx, id)
}

func ListWarehouse(ctx context.Context, name *string) ([]*Warehouse, error) {
	db := config.GetDB()
	var results []*Warehouse

	dbCtx := db.WithContext(ctx)
	if name != nil && len(*name) > 0 {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	// db query
	err := dbCtx.Order("name").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// WarehouseUsedVolume returns the total volume currently stored in a
// warehouse: sum over inventory entries of quantity * product unit volume.
func WarehouseUsedVolume(tx *gorm.DB, warehouseId int) (decimal.Decimal, error) {
	var used decimal.NullDecimal
	err := tx.Model(&InventoryEntry{}).
		Select("SUM(inventory_entries.quantity * products.unit_volume)").
		Joins("JOIN products ON products.id = inventory_entries.product_id").
		Where("inventory_entries.warehouse_id = ?", warehouseId).
		Scan(&used).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !used.Valid {
		return decimal.Zero, nil
	}
	return used.Decimal, nil
}
