package ticketstore_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"

	"ms-ragers/internal/models"
	"ms-ragers/internal/ticketerr"
	"ms-ragers/internal/ticketstore"
)

func setupTestDB(t *testing.T) (*ticketstore.Store, *bun.DB) {
	// Connect to an in-memory SQLite DB for testing
	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	// A second connection would see its own empty :memory: database
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = bunDB.NewCreateTable().Model((*models.TicketUnit)(nil)).Exec(context.Background())
	if err != nil {
		t.Fatalf("Failed to create ticket_units table: %v", err)
	}

	return ticketstore.New(bunDB), bunDB
}

func insertUnit(t *testing.T, bunDB *bun.DB, unit *models.TicketUnit) {
	if unit.ID == "" {
		unit.ID = uuid.New().String()
	}
	if unit.CreatedAt.IsZero() {
		unit.CreatedAt = time.Now()
	}
	_, err := bunDB.NewInsert().Model(unit).Exec(context.Background())
	require.NoError(t, err)
}

func TestGet(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	unit := &models.TicketUnit{
		EventID:     "event456",
		OwnerUserID: "user123",
		Quantity:    2,
		Active:      true,
	}
	insertUnit(t, bunDB, unit)

	got, err := store.Get(context.Background(), unit.ID)
	assert.NoError(t, err)
	assert.Equal(t, unit.ID, got.ID)
	assert.Equal(t, "user123", got.OwnerUserID)
	assert.Equal(t, 2, got.Remaining())

	got, err = store.Get(context.Background(), "non-existent")
	assert.Nil(t, got)
	assert.ErrorIs(t, err, ticketerr.ErrNotFound)
}

func TestListForOwner(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	now := time.Now()
	insertUnit(t, bunDB, &models.TicketUnit{EventID: "e1", OwnerUserID: "user123", Quantity: 1, Active: true, CreatedAt: now.Add(-2 * time.Hour)})
	insertUnit(t, bunDB, &models.TicketUnit{EventID: "e2", OwnerUserID: "user123", Quantity: 1, Active: false, CreatedAt: now.Add(-1 * time.Hour)})
	insertUnit(t, bunDB, &models.TicketUnit{EventID: "e3", OwnerUserID: "user123", Quantity: 1, Active: true, CreatedAt: now})
	insertUnit(t, bunDB, &models.TicketUnit{EventID: "e4", OwnerUserID: "other", Quantity: 1, Active: true, CreatedAt: now})

	units, err := store.ListForOwner(context.Background(), "user123")
	require.NoError(t, err)
	require.Len(t, units, 3)

	// Active units first, newest first, the disabled one last
	assert.Equal(t, "e3", units[0].EventID)
	assert.Equal(t, "e1", units[1].EventID)
	assert.Equal(t, "e2", units[2].EventID)
	assert.False(t, units[2].Active)
}

func TestIncrementUsed(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	unit := &models.TicketUnit{EventID: "event456", OwnerUserID: "user123", Quantity: 2, Active: true}
	insertUnit(t, bunDB, unit)

	ctx := context.Background()

	used, err := store.IncrementUsed(ctx, unit.ID, 1)
	assert.NoError(t, err)
	assert.Equal(t, 1, used)

	used, err = store.IncrementUsed(ctx, unit.ID, 1)
	assert.NoError(t, err)
	assert.Equal(t, 2, used)

	// Third entry on a quantity-2 unit must fail without mutating the count
	used, err = store.IncrementUsed(ctx, unit.ID, 1)
	assert.ErrorIs(t, err, ticketerr.ErrExhausted)
	assert.Equal(t, 2, used)

	got, err := store.Get(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.UsedCount)
	assert.True(t, got.Exhausted())
}

func TestIncrementUsedValidation(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	_, err := store.IncrementUsed(context.Background(), "whatever", 0)
	assert.True(t, ticketerr.IsValidation(err))

	_, err = store.IncrementUsed(context.Background(), "non-existent", 1)
	assert.ErrorIs(t, err, ticketerr.ErrNotFound)
}

func TestIncrementUsedConcurrent(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	unit := &models.TicketUnit{EventID: "event456", OwnerUserID: "user123", Quantity: 5, Active: true}
	insertUnit(t, bunDB, unit)

	const attempts = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	exhausted := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.IncrementUsed(context.Background(), unit.ID, 1)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ticketerr.ErrExhausted):
				exhausted++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 5, exhausted)

	got, err := store.Get(context.Background(), unit.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.UsedCount)
}

func TestSetPending(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	unit := &models.TicketUnit{EventID: "event456", OwnerUserID: "user123", Quantity: 1, Active: true}
	insertUnit(t, bunDB, unit)

	ctx := context.Background()
	transferID := uuid.New().String()

	err := store.SetPending(ctx, unit.ID, transferID, "@bob")
	assert.NoError(t, err)

	got, err := store.Get(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, transferID, got.PendingTransferID)
	assert.Equal(t, "@bob", got.PendingTransferTo)

	// A second transfer on the same unit loses
	err = store.SetPending(ctx, unit.ID, uuid.New().String(), "@carol")
	assert.ErrorIs(t, err, ticketerr.ErrConflict)

	err = store.SetPending(ctx, "non-existent", transferID, "@bob")
	assert.ErrorIs(t, err, ticketerr.ErrNotFound)
}

func TestSetPendingUsedUnit(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	unit := &models.TicketUnit{EventID: "event456", OwnerUserID: "user123", Quantity: 2, UsedCount: 1, Active: true}
	insertUnit(t, bunDB, unit)

	err := store.SetPending(context.Background(), unit.ID, uuid.New().String(), "@bob")
	assert.ErrorIs(t, err, ticketerr.ErrConflict)
}

func TestClearPending(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	ctx := context.Background()
	transferID := uuid.New().String()
	unit := &models.TicketUnit{EventID: "event456", OwnerUserID: "user123", Quantity: 1, Active: true, PendingTransferID: transferID, PendingTransferTo: "@bob"}
	insertUnit(t, bunDB, unit)

	err := store.ClearPending(ctx, unit.ID, transferID)
	assert.NoError(t, err)

	got, err := store.Get(ctx, unit.ID)
	require.NoError(t, err)
	assert.False(t, got.HasPendingTransfer())
	assert.Empty(t, got.PendingTransferTo)

	// Clearing again is a no-op, not an error
	err = store.ClearPending(ctx, unit.ID, transferID)
	assert.NoError(t, err)

	err = store.ClearPending(ctx, "non-existent", transferID)
	assert.ErrorIs(t, err, ticketerr.ErrNotFound)
}

func TestReassignOwner(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	ctx := context.Background()
	transferID := uuid.New().String()
	unit := &models.TicketUnit{EventID: "event456", OwnerUserID: "user123", Quantity: 1, Active: true, PendingTransferID: transferID, PendingTransferTo: "@bob"}
	insertUnit(t, bunDB, unit)

	err := store.ReassignOwner(ctx, unit.ID, transferID, "user789")
	assert.NoError(t, err)

	got, err := store.Get(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, "user789", got.OwnerUserID)
	assert.False(t, got.HasPendingTransfer())

	// The pending link is gone, so a replay of the same transfer loses
	err = store.ReassignOwner(ctx, unit.ID, transferID, "user999")
	assert.ErrorIs(t, err, ticketerr.ErrConflict)

	got, err = store.Get(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, "user789", got.OwnerUserID)
}

func TestReassignOwnerWrongTransfer(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	unit := &models.TicketUnit{EventID: "event456", OwnerUserID: "user123", Quantity: 1, Active: true, PendingTransferID: uuid.New().String()}
	insertUnit(t, bunDB, unit)

	err := store.ReassignOwner(context.Background(), unit.ID, "some-other-transfer", "user789")
	assert.ErrorIs(t, err, ticketerr.ErrConflict)
}

func TestRecordScan(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	unit := &models.TicketUnit{EventID: "event456", OwnerUserID: "user123", Quantity: 1, Active: true}
	insertUnit(t, bunDB, unit)

	at := time.Now().Truncate(time.Second)
	err := store.RecordScan(context.Background(), unit.ID, "door-7", at)
	assert.NoError(t, err)

	got, err := store.Get(context.Background(), unit.ID)
	require.NoError(t, err)
	assert.Equal(t, "door-7", got.LastScannerID)
	assert.WithinDuration(t, at, got.LastScanAt, time.Second)
}
