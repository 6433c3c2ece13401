package models

import "errors"

type OrderStatus string

const (
	OrderStatusNew        OrderStatus = "new"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusNew, OrderStatusProcessing, OrderStatusShipped, OrderStatusCancelled:
		return true
	}
	return false
}

// convert input to enum type
func ParseOrderStatus(str string) (OrderStatus, error) {
	s := OrderStatus(str)
	if !s.IsValid() {
		return "", errors.New("invalid order status")
	}
	return s, nil
}

type MovementReason string

const (
	MovementReasonAddStockSafe  MovementReason = "add_stock_safe"
	MovementReasonAllocateOrder MovementReason = "allocate_order"
	MovementReasonRebuild       MovementReason = "inventory_rebuild"
)
