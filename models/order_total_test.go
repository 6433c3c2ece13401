package models_test

import (
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/fulfillment_backend/models"
	"github.com/shopspring/decimal"
)

func TestComputeOrderTotal(t *testing.T) {
	prices := map[int]decimal.Decimal{
		1: decimal.RequireFromString("25.50"),
		2: decimal.RequireFromString("3.10"),
	}

	items := []models.OrderItem{
		{ProductId: 1, Quantity: 4},
	}
	total := models.ComputeOrderTotal(items, prices)
	if total.Cmp(decimal.RequireFromString("102.00")) != 0 {
		t.Fatalf("expected 102.00; got %s", total.String())
	}

	items = append(items, models.OrderItem{ProductId: 2, Quantity: 3})
	total = models.ComputeOrderTotal(items, prices)
	if total.Cmp(decimal.RequireFromString("111.30")) != 0 {
		t.Fatalf("expected 111.30; got %s", total.String())
	}
}

func TestComputeOrderTotalEmpty(t *testing.T) {
	total := models.ComputeOrderTotal(nil, nil)
	if !total.IsZero() {
		t.Fatalf("expected zero total for an empty order; got %s", total.String())
	}
}

func TestComputeOrderTotalDuplicateProductLines(t *testing.T) {
	prices := map[int]decimal.Decimal{1: decimal.NewFromInt(10)}
	items := []models.OrderItem{
		{ProductId: 1, Quantity: 2},
		{ProductId: 1, Quantity: 5},
	}
	total := models.ComputeOrderTotal(items, prices)
	if total.Cmp(decimal.NewFromInt(70)) != 0 {
		t.Fatalf("expected 70; got %s", total.String())
	}
}

func TestCapacityExceededErrorMessage(t *testing.T) {
	err := &models.CapacityExceededError{
		WarehouseId: 3,
		Overflow:    decimal.NewFromInt(10),
		FreeVolume:  decimal.NewFromInt(50),
	}
	want := "not enough capacity on warehouse 3: need 10 but have 50 free"
	if err.Error() != want {
		t.Fatalf("got %q; want %q", err.Error(), want)
	}

	// errors.As must unwrap it through fmt wrapping.
	var capErr *models.CapacityExceededError
	wrapped := error(err)
	if !errors.As(wrapped, &capErr) {
		t.Fatalf("errors.As failed")
	}
	if capErr.WarehouseId != 3 {
		t.Fatalf("unexpected warehouse id %d", capErr.WarehouseId)
	}
}

func TestParseOrderStatus(t *testing.T) {
	status, err := models.ParseOrderStatus("processing")
	if err != nil {
		t.Fatalf("ParseOrderStatus: %v", err)
	}
	if status != models.OrderStatusProcessing {
		t.Fatalf("got %s", status)
	}
	if _, err := models.ParseOrderStatus("bogus"); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}
