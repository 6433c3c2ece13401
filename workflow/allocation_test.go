package workflow

import (
	"testing"

	"bitbucket.org/mmdatafocus/fulfillment_backend/models"
)

// NOTE: These tests are intentionally DB-free. They validate candidate
// ranking semantics in isolation; the full intake/allocate path is covered
// by the docker-gated regression tests.

func TestPickCandidateWarehousePrefersLargestHeadroom(t *testing.T) {
	candidates := []warehouseCandidate{
		{WarehouseId: 1, OkCount: 2, TotalAvailable: 40},
		{WarehouseId: 2, OkCount: 2, TotalAvailable: 90},
		{WarehouseId: 3, OkCount: 2, TotalAvailable: 55},
	}
	got, ok := pickCandidateWarehouse(candidates, 2)
	if !ok {
		t.Fatalf("expected a candidate")
	}
	if got != 2 {
		t.Fatalf("expected warehouse 2 (largest headroom); got %d", got)
	}
}

func TestPickCandidateWarehouseSkipsPartialCoverage(t *testing.T) {
	// Warehouse 9 has the most stock overall but covers only one of the
	// two requirements in full; it must not win.
	candidates := []warehouseCandidate{
		{WarehouseId: 9, OkCount: 1, TotalAvailable: 500},
		{WarehouseId: 4, OkCount: 2, TotalAvailable: 30},
	}
	got, ok := pickCandidateWarehouse(candidates, 2)
	if !ok {
		t.Fatalf("expected a candidate")
	}
	if got != 4 {
		t.Fatalf("expected warehouse 4; got %d", got)
	}
}

func TestPickCandidateWarehouseTieBreaksOnLowestId(t *testing.T) {
	candidates := []warehouseCandidate{
		{WarehouseId: 7, OkCount: 1, TotalAvailable: 25},
		{WarehouseId: 3, OkCount: 1, TotalAvailable: 25},
		{WarehouseId: 5, OkCount: 1, TotalAvailable: 25},
	}
	got, ok := pickCandidateWarehouse(candidates, 1)
	if !ok {
		t.Fatalf("expected a candidate")
	}
	if got != 3 {
		t.Fatalf("expected the lowest warehouse id on ties; got %d", got)
	}
}

func TestPickCandidateWarehouseNoCoverage(t *testing.T) {
	candidates := []warehouseCandidate{
		{WarehouseId: 1, OkCount: 0, TotalAvailable: 10},
		{WarehouseId: 2, OkCount: 1, TotalAvailable: 10},
	}
	if _, ok := pickCandidateWarehouse(candidates, 2); ok {
		t.Fatalf("expected no candidate when nothing covers every line")
	}
	if _, ok := pickCandidateWarehouse(nil, 1); ok {
		t.Fatalf("expected no candidate for empty input")
	}
}

func TestBuildCandidatesAggregatesPerWarehouse(t *testing.T) {
	entries := []models.InventoryEntry{
		{WarehouseId: 1, ProductId: 10, Quantity: 8},
		{WarehouseId: 1, ProductId: 11, Quantity: 2},
		{WarehouseId: 2, ProductId: 10, Quantity: 5},
	}
	requirements := []orderRequirement{
		{ProductId: 10, Quantity: 5},
		{ProductId: 11, Quantity: 3},
	}
	candidates := buildCandidates(entries, requirements)
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates; got %d", len(candidates))
	}
	byId := map[int]warehouseCandidate{}
	for _, c := range candidates {
		byId[c.WarehouseId] = c
	}
	// Warehouse 1 covers product 10 (8>=5) but not 11 (2<3).
	if c := byId[1]; c.OkCount != 1 || c.TotalAvailable != 10 {
		t.Fatalf("warehouse 1: got ok=%d avail=%d", c.OkCount, c.TotalAvailable)
	}
	// Warehouse 2 has no row for product 11 at all.
	if c := byId[2]; c.OkCount != 1 || c.TotalAvailable != 5 {
		t.Fatalf("warehouse 2: got ok=%d avail=%d", c.OkCount, c.TotalAvailable)
	}
	if _, ok := pickCandidateWarehouse(candidates, len(requirements)); ok {
		t.Fatalf("neither warehouse covers both lines; expected no pick")
	}
}

func TestBuildCandidatesDuplicateProductLines(t *testing.T) {
	// An order may carry the same product on two lines; each line is
	// matched against the stock row independently.
	entries := []models.InventoryEntry{
		{WarehouseId: 1, ProductId: 10, Quantity: 6},
	}
	requirements := []orderRequirement{
		{ProductId: 10, Quantity: 4},
		{ProductId: 10, Quantity: 9},
	}
	candidates := buildCandidates(entries, requirements)
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate; got %d", len(candidates))
	}
	c := candidates[0]
	// The stock row counts once per matching line.
	if c.OkCount != 1 || c.TotalAvailable != 12 {
		t.Fatalf("got ok=%d avail=%d", c.OkCount, c.TotalAvailable)
	}
}
