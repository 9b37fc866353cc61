package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/hanko-field/orderdesk/internal/domain"
	pconfig "github.com/hanko-field/orderdesk/internal/platform/config"
	pfirestore "github.com/hanko-field/orderdesk/internal/platform/firestore"
	"github.com/hanko-field/orderdesk/internal/repositories"
)

// newEmulatorRegistry connects to FIRESTORE_EMULATOR_HOST using a project unique to the
// test, so runs never see each other's documents.
func newEmulatorRegistry(t *testing.T) *Registry {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	project := fmt.Sprintf("orderdesk-%d", time.Now().UnixNano())
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: project, EmulatorHost: host})
	registry, err := NewRegistry(provider)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(func() {
		_ = registry.Close(context.Background())
	})
	return registry
}

const emulatorSeed = `{
	"products": [
		{"id": "desk", "name": "Desk", "unitPrice": "400.00", "stock": 5},
		{"id": "lamp", "name": "Lamp", "unitPrice": "25.00", "stock": 1}
	],
	"clients": [{"id": "c-gold", "name": "Gold Client", "tier": "GOLD"}],
	"promotions": [
		{"id": "promo-save", "code": "SAVE10", "discountPercent": "12.5", "expiresAt": "2030-01-01T00:00:00Z"},
		{"id": "promo-old", "code": "OLD", "discountPercent": "5", "expiresAt": "2020-01-01T00:00:00Z"}
	]
}`

func TestRegistryEmulatorSeedAndLookups(t *testing.T) {
	registry := newEmulatorRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	if err := repositories.LoadSeed(ctx, registry, strings.NewReader(emulatorSeed), now); err != nil {
		t.Fatalf("seed: %v", err)
	}

	product, err := registry.Catalog().GetProduct(ctx, "desk")
	if err != nil || product.UnitPrice != domain.MustParseMoney("400.00") {
		t.Fatalf("unexpected product %+v %v", product, err)
	}
	products, err := registry.Catalog().ListProducts(ctx, []string{"desk", "missing", "lamp"})
	if err != nil || len(products) != 2 {
		t.Fatalf("unexpected product list %+v %v", products, err)
	}

	client, err := registry.Clients().FindByID(ctx, "c-gold")
	if err != nil || client.Tier != domain.ClientTierGold {
		t.Fatalf("unexpected client %+v %v", client, err)
	}
	if _, err := registry.Clients().FindByID(ctx, "nobody"); !isNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	promo, err := registry.Promotions().FindByCode(ctx, "SAVE10")
	if err != nil || promo.DiscountPercent.String() != "12.5" {
		t.Fatalf("unexpected promotion %+v %v", promo, err)
	}
	if _, err := registry.Promotions().FindByCode(ctx, "save10"); !isNotFound(err) {
		t.Fatalf("expected case-sensitive miss, got %v", err)
	}
	active, err := registry.Promotions().ListActive(ctx, now)
	if err != nil || len(active) != 1 || active[0].Code != "SAVE10" {
		t.Fatalf("unexpected active promotions %+v %v", active, err)
	}
}

func TestRegistryEmulatorReservationLifecycle(t *testing.T) {
	registry := newEmulatorRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	if err := repositories.LoadSeed(ctx, registry, strings.NewReader(emulatorSeed), now); err != nil {
		t.Fatalf("seed: %v", err)
	}
	inventory := registry.Inventory()

	_, err := inventory.Reserve(ctx, repositories.InventoryReserveRequest{
		Reservation: domain.StockReservation{OrderID: "ord-short", Lines: []domain.StockReservationLine{
			{ProductID: "desk", Quantity: 1},
			{ProductID: "lamp", Quantity: 2},
		}},
		Now: now,
	})
	var invErr *repositories.InventoryError
	if !errors.As(err, &invErr) || invErr.Code != repositories.InventoryErrorInsufficientStock || invErr.ProductID != "lamp" {
		t.Fatalf("expected insufficient stock on lamp, got %v", err)
	}
	if stock, _ := inventory.GetStock(ctx, "desk"); stock.Reserved != 0 {
		t.Fatalf("expected no partial reservation, got %+v", stock)
	}

	if _, err := inventory.Reserve(ctx, repositories.InventoryReserveRequest{
		Reservation: domain.StockReservation{OrderID: "ord-1", Lines: []domain.StockReservationLine{{ProductID: "desk", Quantity: 2}}},
		Now:         now,
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	result, err := inventory.Commit(ctx, repositories.InventoryCommitRequest{OrderID: "ord-1", Now: now})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if stock := result.Stocks["desk"]; stock.OnHand != 3 || stock.Reserved != 0 {
		t.Fatalf("unexpected stock after commit %+v", stock)
	}
	if _, err := inventory.Release(ctx, repositories.InventoryReleaseRequest{OrderID: "ord-1", Now: now}); !errors.As(err, &invErr) || invErr.Code != repositories.InventoryErrorInvalidReservationState {
		t.Fatalf("expected invalid state after commit, got %v", err)
	}
}

func TestRegistryEmulatorConcurrentReserve(t *testing.T) {
	registry := newEmulatorRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	if err := repositories.LoadSeed(ctx, registry, strings.NewReader(emulatorSeed), now); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := registry.Inventory().Reserve(ctx, repositories.InventoryReserveRequest{
				Reservation: domain.StockReservation{OrderID: fmt.Sprintf("ord-%d", i), Lines: []domain.StockReservationLine{{ProductID: "desk", Quantity: 1}}},
				Now:         now,
			})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	// Contended transactions may give up after their retry budget, so only overselling
	// is a failure here.
	if successes == 0 || successes > 5 {
		t.Fatalf("expected between 1 and 5 reservations against 5 units, got %d", successes)
	}
	stock, err := registry.Inventory().GetStock(ctx, "desk")
	if err != nil || stock.Reserved != successes || stock.OnHand != 5 {
		t.Fatalf("unexpected stock %+v (successes %d) %v", stock, successes, err)
	}
}

func TestRegistryEmulatorOrders(t *testing.T) {
	registry := newEmulatorRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	orders := registry.Orders()
	for i, name := range []string{"Alice Martin", "Bob Stone", "alice cooper"} {
		order := domain.Order{
			ID:         fmt.Sprintf("ord_%02d", i),
			ClientID:   fmt.Sprintf("c-%d", i),
			ClientName: name,
			Items:      []domain.OrderLineItem{{ProductID: "desk", ProductName: "Desk", UnitPrice: 40000, Quantity: 1, Total: 40000}},
			Quote:      domain.PriceQuote{Subtotal: 40000, Total: 48000},
			Status:     domain.OrderStatusPending,
			AmountDue:  48000,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
			UpdatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := orders.Insert(ctx, order); err != nil {
			t.Fatalf("insert %s: %v", order.ID, err)
		}
	}
	if err := orders.Insert(ctx, domain.Order{ID: "ord_00", CreatedAt: base}); !isConflict(err) {
		t.Fatalf("expected conflict on duplicate insert, got %v", err)
	}
	if err := orders.Update(ctx, domain.Order{ID: "ord_missing"}); !isNotFound(err) {
		t.Fatalf("expected not found on update, got %v", err)
	}

	page, err := orders.List(ctx, repositories.OrderListFilter{ClientName: "ALICE", Pagination: domain.Pagination{PageSize: 1}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "ord_02" || page.NextPageToken == "" || page.TotalCount != 2 {
		t.Fatalf("unexpected first page %+v", page)
	}
	page, err = orders.List(ctx, repositories.OrderListFilter{ClientName: "alice", Pagination: domain.Pagination{PageSize: 1, PageToken: page.NextPageToken}})
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "ord_00" || page.NextPageToken != "" {
		t.Fatalf("unexpected second page %+v", page)
	}
	page, err = orders.List(ctx, repositories.OrderListFilter{Status: []domain.OrderStatus{domain.OrderStatusPending}, Pagination: domain.Pagination{PageSize: 2}})
	if err != nil || len(page.Items) != 2 || page.TotalCount != 3 {
		t.Fatalf("expected aggregated total of 3 pending orders, got %+v %v", page, err)
	}

	got, err := orders.FindByID(ctx, "ord_01")
	if err != nil || got.AmountDue != 48000 || got.ClientName != "Bob Stone" {
		t.Fatalf("unexpected order %+v %v", got, err)
	}
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
