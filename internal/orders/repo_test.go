package orders

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/greenmile-app/greenmile-backend/pkg/db/models"
	"github.com/greenmile-app/greenmile-backend/pkg/enums"
	"github.com/greenmile-app/greenmile-backend/pkg/pagination"
)

func setupOrdersTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:orders_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	orders := `
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  customer_id TEXT NOT NULL,
  vendor_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  payment_status TEXT NOT NULL DEFAULT 'pending',
  subtotal_cents INTEGER NOT NULL,
  delivery_fee_cents INTEGER NOT NULL DEFAULT 0,
  total_cents INTEGER NOT NULL,
  payment_ref TEXT,
  pickup_address TEXT NOT NULL DEFAULT '',
  delivery_address TEXT NOT NULL,
  delivery_distance_km TEXT NOT NULL DEFAULT '0',
  carbon_credits_earned INTEGER NOT NULL DEFAULT 0,
  cancellation_reason TEXT,
  cancelled_by_role TEXT,
  confirmed_at DATETIME,
  ready_at DATETIME,
  delivered_at DATETIME,
  cancelled_at DATETIME,
  refunded_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	orderItems := `
CREATE TABLE IF NOT EXISTS order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  product_name TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  unit_price_cents INTEGER NOT NULL,
  total_cents INTEGER NOT NULL,
  carbon_impact INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME
);`
	require.NoError(t, db.Exec(orders).Error)
	require.NoError(t, db.Exec(orderItems).Error)
	return db
}

func seedOrder(t *testing.T, db *gorm.DB, customerID, vendorID uuid.UUID, status enums.OrderStatus, created time.Time) *models.Order {
	t.Helper()

	order := &models.Order{
		ID:              uuid.New(),
		CustomerID:      customerID,
		VendorID:        vendorID,
		Status:          status,
		PaymentStatus:   enums.PaymentStatusPaid,
		SubtotalCents:   10000,
		TotalCents:      11000,
		DeliveryAddress: "12 Kale St",
		CreatedAt:       created,
		UpdatedAt:       created,
	}
	require.NoError(t, db.Create(order).Error)

	item := &models.OrderItem{
		ID:             uuid.New(),
		OrderID:        order.ID,
		ProductName:    "Veggie bowl",
		Quantity:       2,
		UnitPriceCents: 5000,
		TotalCents:     10000,
		CreatedAt:      created,
	}
	require.NoError(t, db.Create(item).Error)
	return order
}

func TestUpdateOrderStatusIfGuardsExpectedState(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	order := seedOrder(t, db, uuid.New(), uuid.New(), enums.OrderStatusProcessing, time.Now())

	moved, err := repo.UpdateOrderStatusIf(ctx, order.ID, enums.OrderStatusProcessing, enums.OrderStatusConfirmed, nil)
	require.NoError(t, err)
	assert.True(t, moved)

	// The expected-state guard no longer matches.
	moved, err = repo.UpdateOrderStatusIf(ctx, order.ID, enums.OrderStatusProcessing, enums.OrderStatusConfirmed, nil)
	require.NoError(t, err)
	assert.False(t, moved)

	reloaded, err := repo.FindOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusConfirmed, reloaded.Status)
}

func TestUpdateOrderStatusIfAppliesExtraUpdates(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	order := seedOrder(t, db, uuid.New(), uuid.New(), enums.OrderStatusPending, time.Now())

	now := time.Now()
	moved, err := repo.UpdateOrderStatusIf(ctx, order.ID, enums.OrderStatusPending, enums.OrderStatusProcessing, map[string]any{
		"payment_status": enums.PaymentStatusPaid,
		"payment_ref":    "pay_123",
		"confirmed_at":   now,
	})
	require.NoError(t, err)
	require.True(t, moved)

	reloaded, err := repo.FindOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusProcessing, reloaded.Status)
	assert.Equal(t, enums.PaymentStatusPaid, reloaded.PaymentStatus)
	require.NotNil(t, reloaded.PaymentRef)
	assert.Equal(t, "pay_123", *reloaded.PaymentRef)
	assert.NotNil(t, reloaded.ConfirmedAt)
}

func TestForceDeliveredTxSettlesRemainingEdges(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	ready := seedOrder(t, db, uuid.New(), uuid.New(), enums.OrderStatusReady, time.Now())
	require.NoError(t, repo.ForceDeliveredTx(ctx, nil, ready.ID, time.Now()))
	reloaded, err := repo.FindOrder(ctx, ready.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDelivered, reloaded.Status)

	// Replay finds nothing to move.
	require.NoError(t, repo.ForceDeliveredTx(ctx, nil, ready.ID, time.Now()))

	// Orders outside the in-flight states are untouched.
	cancelled := seedOrder(t, db, uuid.New(), uuid.New(), enums.OrderStatusCancelled, time.Now())
	require.NoError(t, repo.ForceDeliveredTx(ctx, nil, cancelled.ID, time.Now()))
	reloaded, err = repo.FindOrder(ctx, cancelled.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, reloaded.Status)
}

func TestUpdateOrderStatusIfSingleWinner(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	order := seedOrder(t, db, uuid.New(), uuid.New(), enums.OrderStatusProcessing, time.Now())

	const attempts = 8
	var wg sync.WaitGroup
	wins := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			moved, err := repo.UpdateOrderStatusIf(ctx, order.ID, enums.OrderStatusProcessing, enums.OrderStatusConfirmed, nil)
			if err == nil && moved {
				wins <- true
			}
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for range wins {
		winners++
	}
	assert.Equal(t, 1, winners)
}

func TestListCustomerOrdersPaginates(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	customerID := uuid.New()
	vendorID := uuid.New()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		seedOrder(t, db, customerID, vendorID, enums.OrderStatusProcessing, base.Add(time.Duration(i)*time.Minute))
	}
	// Orders for another customer stay invisible.
	seedOrder(t, db, uuid.New(), vendorID, enums.OrderStatusProcessing, base)

	page, err := repo.ListCustomerOrders(ctx, customerID, pagination.Params{Limit: 3}, OrderFilters{})
	require.NoError(t, err)
	require.Len(t, page.Orders, 3)
	require.NotEmpty(t, page.NextCursor)
	assert.Equal(t, 1, page.Orders[0].TotalItems)

	rest, err := repo.ListCustomerOrders(ctx, customerID, pagination.Params{Limit: 3, Cursor: page.NextCursor}, OrderFilters{})
	require.NoError(t, err)
	assert.Len(t, rest.Orders, 2)
	assert.Empty(t, rest.NextCursor)

	// Newest first.
	assert.True(t, page.Orders[0].CreatedAt.After(page.Orders[1].CreatedAt))
}

func TestListVendorOrdersFiltersByStatus(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	vendorID := uuid.New()
	seedOrder(t, db, uuid.New(), vendorID, enums.OrderStatusProcessing, time.Now())
	seedOrder(t, db, uuid.New(), vendorID, enums.OrderStatusReady, time.Now())

	status := enums.OrderStatusReady
	page, err := repo.ListVendorOrders(ctx, vendorID, pagination.Params{}, OrderFilters{Status: &status})
	require.NoError(t, err)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, enums.OrderStatusReady, page.Orders[0].Status)
}
