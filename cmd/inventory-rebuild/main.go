package main

import (
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/fulfillment_backend/config"
	"bitbucket.org/mmdatafocus/fulfillment_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func main() {
	warehouseID := flag.Int("warehouse-id", 0, "Optional: warehouse id (default: every warehouse with stock activity)")
	apply := flag.Bool("apply", false, "Rewrite drifted inventory rows (default: report only)")
	continueOnError := flag.Bool("continue-on-error", false, "Skip failing warehouses and continue rebuilding others")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := logrus.New()

	var warehouseIds []int
	if *warehouseID > 0 {
		warehouseIds = []int{*warehouseID}
	} else {
		ids, err := workflow.DiscoverWarehousesWithStock(db)
		if err != nil {
			fmt.Fprintf(os.Stderr, "discover warehouses: %v\n", err)
			os.Exit(1)
		}
		warehouseIds = ids
	}

	driftTotal := 0
	for _, id := range warehouseIds {
		fmt.Printf("Rebuilding warehouse=%d apply=%v\n", id, *apply)
		var drifts []workflow.RebuildDrift
		if err := db.Transaction(func(tx *gorm.DB) error {
			var err error
			drifts, err = workflow.RebuildInventoryForWarehouse(tx, logger, id, *apply)
			return err
		}); err != nil {
			if *continueOnError {
				fmt.Fprintf(os.Stderr, "rebuild failed (skipping): %v\n", err)
				continue
			}
			fmt.Fprintf(os.Stderr, "rebuild failed: %v\n", err)
			os.Exit(1)
		}
		for _, d := range drifts {
			fmt.Printf("  drift warehouse=%d product=%d stored=%d derived=%d\n",
				d.WarehouseId, d.ProductId, d.EntryQty, d.LedgerQty)
		}
		driftTotal += len(drifts)
	}

	fmt.Printf("inventory rebuild complete: %d drifted row(s)\n", driftTotal)
}
