package workflow

import (
	"bitbucket.org/mmdatafocus/fulfillment_backend/models"
	"bitbucket.org/mmdatafocus/fulfillment_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RebuildDrift is one (warehouse, product) pair whose inventory entry
// disagrees with the movement log.
type RebuildDrift struct {
	WarehouseId int
	ProductId   int
	LedgerQty   int
	EntryQty    int
}

// RebuildInventoryForWarehouse replays the append-only movement log for one
// warehouse and compares it against the inventory entries. The movement log
// is the ledger of record: with apply=true drifted entries are rewritten to
// the replayed quantities.
func RebuildInventoryForWarehouse(tx *gorm.DB, logger *logrus.Logger, warehouseId int, apply bool) ([]RebuildDrift, error) {
	type ledgerRow struct {
		ProductId int
		LedgerQty int
	}
	var ledger []ledgerRow
	if err := tx.Model(&models.Movement{}).
		Select("product_id, COALESCE(SUM(quantity_change),0) AS ledger_qty").
		Where("warehouse_id = ?", warehouseId).
		Group("product_id").
		Scan(&ledger).Error; err != nil {
		return nil, err
	}

	var entries []models.InventoryEntry
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("warehouse_id = ?", warehouseId).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	entryQty := make(map[int]int, len(entries))
	for _, e := range entries {
		entryQty[e.ProductId] = e.Quantity
	}

	var drifts []RebuildDrift
	seen := make(map[int]bool, len(ledger))
	for _, row := range ledger {
		seen[row.ProductId] = true
		if entryQty[row.ProductId] == row.LedgerQty {
			continue
		}
		drifts = append(drifts, RebuildDrift{
			WarehouseId: warehouseId,
			ProductId:   row.ProductId,
			LedgerQty:   row.LedgerQty,
			EntryQty:    entryQty[row.ProductId],
		})
	}
	// Entries with no movements at all are drift too (ledger says zero).
	for _, e := range entries {
		if !seen[e.ProductId] && e.Quantity != 0 {
			drifts = append(drifts, RebuildDrift{
				WarehouseId: warehouseId,
				ProductId:   e.ProductId,
				LedgerQty:   0,
				EntryQty:    e.Quantity,
			})
		}
	}

	if !apply {
		return drifts, nil
	}

	for _, d := range drifts {
		logger.WithFields(logrus.Fields{
			"module":       "rebuild.go",
			"warehouse_id": d.WarehouseId,
			"product_id":   d.ProductId,
			"ledger_qty":   d.LedgerQty,
			"entry_qty":    d.EntryQty,
		}).Warn("rewriting drifted inventory entry from movement log")

		entry, err := models.FirstOrCreateInventoryEntry(tx, d.WarehouseId, d.ProductId)
		if err != nil {
			return nil, err
		}
		if err := tx.Model(&models.InventoryEntry{}).
			Where("warehouse_id = ? AND product_id = ?", entry.WarehouseId, entry.ProductId).
			Update("quantity", d.LedgerQty).Error; err != nil {
			return nil, err
		}
	}
	return drifts, nil
}

// DiscoverWarehousesWithStock returns every warehouse id present in either
// the movement log or the inventory entries.
func DiscoverWarehousesWithStock(db *gorm.DB) ([]int, error) {
	var fromMovements []int
	if err := db.Model(&models.Movement{}).
		Distinct("warehouse_id").
		Pluck("warehouse_id", &fromMovements).Error; err != nil {
		return nil, err
	}
	var fromEntries []int
	if err := db.Model(&models.InventoryEntry{}).
		Distinct("warehouse_id").
		Pluck("warehouse_id", &fromEntries).Error; err != nil {
		return nil, err
	}
	return utils.MergeIntSlices(fromMovements, fromEntries), nil
}
