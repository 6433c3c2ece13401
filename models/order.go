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

type Order struct {
	ID                   int             `gorm:"primary_key" json:"id"`
	CustomerId           *int            `gorm:"index" json:"customer_id"`
	Status               OrderStatus     `gorm:"type:enum('new','processing','shipped','cancelled');not null;default:'new'" json:"status"`
	TotalAmount          decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"total_amount"`
	AllocatedWarehouseId *int            `gorm:"index" json:"allocated_warehouse_id"`
	CreatedAt            time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	Items                []OrderItem     `gorm:"foreignKey:OrderId" json:"items"`
}

type OrderItem struct {
	ID        int `gorm:"primary_key" json:"id"`
	OrderId   int `gorm:"index;not null" json:"order_id"`
	ProductId int `gorm:"index;not null" json:"product_id"`
	Quantity  int `gorm:"not null" json:"quantity"`
}

type NewOrder struct {
	CustomerId *int           `json:"customer_id"`
	Items      []NewOrderItem `json:"items"`
}

type NewOrderItem struct {
	ProductId int `json:"product_id" binding:"required"`
	Quantity  int `json:"quantity" binding:"required"`
}

func (input *NewOrderItem) validate(ctx context.Context) error {
	if input.Quantity <= 0 {
		return ErrorInvalidQuantity
	}
	if err := utils.ValidateResourceId[Product](ctx, input.ProductId); err != nil {
		return errors.New("product not found")
	}
	return nil
}

// CreateOrder opens a new order (status "new"). Initial line items are
// optional; when present the derived total is computed before commit so no
// caller ever observes a stale total.
func CreateOrder(ctx context.Context, input *NewOrder) (*Order, error) {

	if input.CustomerId != nil {
		if err := utils.ValidateResourceId[Customer](ctx, *input.CustomerId); err != nil {
			return nil, errors.New("customer not found")
		}
	}
	for i := range input.Items {
		if err := input.Items[i].validate(ctx); err != nil {
			return nil, err
		}
	}

	order := Order{
		CustomerId: input.CustomerId,
		Status:     OrderStatusNew,
	}
	for _, item := range input.Items {
		order.Items = append(order.Items, OrderItem{
			ProductId: item.ProductId,
			Quantity:  item.Quantity,
		})
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Create(&order).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if len(order.Items) > 0 {
		total, err := RecalcOrderTotal(tx.WithContext(ctx), order.ID)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		order.TotalAmount = total
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// AddOrderItem appends a line item and recomputes the parent total inside
// the same transaction. Only "new" orders can be edited; allocated orders
// have already committed their stock deduction.
func AddOrderItem(ctx context.Context, orderId int, input *NewOrderItem) (*OrderItem, error) {

	if err := input.validate(ctx); err != nil {
		return nil, err
	}
	order, err := utils.FetchModel[Order](ctx, orderId)
	if err != nil {
		return nil, err
	}
	if order.Status != OrderStatusNew {
		return nil, errors.New("order is not editable")
	}

	item := OrderItem{
		OrderId:   orderId,
		ProductId: input.ProductId,
		Quantity:  input.Quantity,
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Create(&item).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if _, err := RecalcOrderTotal(tx.WithContext(ctx), orderId); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func UpdateOrderItem(ctx context.Context, itemId int, input *NewOrderItem) (*OrderItem, error) {

	if err := input.validate(ctx); err != nil {
		return nil, err
	}
	item, err := utils.FetchModel[OrderItem](ctx, itemId)
	if err != nil {
		return nil, err
	}
	order, err := utils.FetchModel[Order](ctx, item.OrderId)
	if err != nil {
		return nil, err
	}
	if order.Status != OrderStatusNew {
		return nil, errors.New("order is not editable")
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Model(&item).Updates(map[string]interface{}{
		"ProductId": input.ProductId,
		"Quantity":  input.Quantity,
	}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if _, err := RecalcOrderTotal(tx.WithContext(ctx), item.OrderId); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return item, nil
}

func DeleteOrderItem(ctx context.Context, itemId int) (*OrderItem, error) {

	item, err := utils.FetchModel[OrderItem](ctx, itemId)
	if err != nil {
		return nil, err
	}
	order, err := utils.FetchModel[Order](ctx, item.OrderId)
	if err != nil {
		return nil, err
	}
	if order.Status != OrderStatusNew {
		return nil, errors.New("order is not editable")
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Delete(&item).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if _, err := RecalcOrderTotal(tx.WithContext(ctx), item.OrderId); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return item, nil
}

// ComputeOrderTotal derives an order total from its current items and the
// current product prices. The total is always re-derived from the full item
// set, never patched incrementally, so it stays correct under edits and
// deletions.
func ComputeOrderTotal(items []OrderItem, priceByProduct map[int]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		price := priceByProduct[item.ProductId]
		total = total.Add(price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

// RecalcOrderTotal recomputes and stores total_amount for an order. Must run
// inside the same transaction as the item change that triggered it.
func RecalcOrderTotal(tx *gorm.DB, orderId int) (decimal.Decimal, error) {
	var items []OrderItem
	if err := tx.Where("order_id = ?", orderId).Find(&items).Error; err != nil {
		return decimal.Zero, err
	}

	priceByProduct := make(map[int]decimal.Decimal, len(items))
	if len(items) > 0 {
		productIds := make([]int, 0, len(items))
		for _, item := range items {
			productIds = append(productIds, item.ProductId)
		}
		var products []Product
		if err := tx.Where("id IN ?", productIds).Find(&products).Error; err != nil {
			return decimal.Zero, err
		}
		for _, p := range products {
			priceByProduct[p.ID] = p.Price
		}
	}

	total := ComputeOrderTotal(items, priceByProduct)
	if err := tx.Model(&Order{}).Where("id = ?", orderId).
		Update("total_amount", total).Error; err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

func GetOrder(ctx context.Context, id int) (*Order, error) {
	return utils.FetchModel[Order](ctx, id, "Items")
}

// DeleteOrder removes an order together with its items (items are owned
// exclusively by their order).
func DeleteOrder(ctx context.Context, id int) (*Order, error) {
	order, err := utils.FetchModel[Order](ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status == OrderStatusProcessing {
		return nil, errors.New("order has allocated stock")
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Where("order_id = ?", id).Delete(&OrderItem{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.WithContext(ctx).Delete(&order).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return order, nil
}

// MarkOrderShipped completes the lifecycle of an allocated order.
func MarkOrderShipped(ctx context.Context, id int) (*Order, error) {
	order, err := utils.FetchModel[Order](ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status != OrderStatusProcessing {
		return nil, errors.New("only processing orders can be shipped")
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&order).
		Update("Status", OrderStatusShipped).Error; err != nil {
		return nil, err
	}
	order.Status = OrderStatusShipped
	return order, nil
}

type OrderSummaryRow struct {
	ID                   int             `json:"id"`
	CustomerName         *string         `json:"customer_name"`
	Status               OrderStatus     `json:"status"`
	AllocatedWarehouseId *int            `json:"allocated_warehouse_id"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	CreatedAt            time.Time       `json:"created_at"`
}

// ListOrders returns the orders summary: customer (may be gone), status,
// allocated warehouse and derived total.
func ListOrders(ctx context.Context, status *OrderStatus) ([]*OrderSummaryRow, error) {
	db := config.GetDB()

	dbCtx := db.WithContext(ctx).Model(&Order{}).
		Select(`orders.id,
			customers.name AS customer_name,
			orders.status,
			orders.allocated_warehouse_id,
			orders.total_amount,
			orders.created_at`).
		Joins("LEFT JOIN customers ON customers.id = orders.customer_id")
	if status != nil {
		dbCtx = dbCtx.Where("orders.status = ?", *status)
	}

	var results []*OrderSummaryRow
	err := dbCtx.Order("orders.id").Scan(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
