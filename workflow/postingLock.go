package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquireStockPostingLock serializes ledger posting across instances using a
// MySQL advisory lock. Intake and allocation both post through this lock, so
// their read-then-write sequences never interleave on the same inventory.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same
// *gorm.DB that will do the posting transaction.
func AcquireStockPostingLock(tx *gorm.DB) error {
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", stockPostingLockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire stock posting lock")
	}
	return nil
}

func ReleaseStockPostingLock(tx *gorm.DB) {
	var ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", stockPostingLockName).Scan(&ok).Error
}

const stockPostingLockName = "stock_posting"
