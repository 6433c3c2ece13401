package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrorInvalidQuantity      = errors.New("quantity must be positive")
	ErrorEmptyOrder           = errors.New("order has no items")
	ErrorNoWarehouseAvailable = errors.New("no single warehouse can fulfill order")
	ErrorOrderNotAllocatable  = errors.New("order is not allocatable")
	ErrorAllocationInProgress = errors.New("order allocation is already in progress")
	ErrorDuplicateIntake      = errors.New("duplicate stock intake request")
)

// CapacityExceededError reports an intake that would overflow a warehouse.
// Overflow is how much the intake exceeds capacity; FreeVolume is how much
// volume the warehouse had left before the intake.
type CapacityExceededError struct {
	WarehouseId int
	Overflow    decimal.Decimal
	FreeVolume  decimal.Decimal
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("not enough capacity on warehouse %d: need %s but have %s free",
		e.WarehouseId, e.Overflow.String(), e.FreeVolume.String())
}
