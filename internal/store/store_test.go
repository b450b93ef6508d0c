package store

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/prestapp/internal/lending"
	sqlite "github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func openTestDatabase(testContext *testing.T, path string) *gorm.DB {
	testContext.Helper()
	database, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	testContext.Cleanup(func() { _ = sqlDB.Close() })
	if err := database.AutoMigrate(Models()...); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	return database
}

func newTestStore(testContext *testing.T) *Store {
	testContext.Helper()
	database := openTestDatabase(testContext, filepath.Join(testContext.TempDir(), "store.db"))
	localStore, err := New(database, nil)
	if err != nil {
		testContext.Fatalf("failed to build store: %v", err)
	}
	return localStore
}

func pendingRoute(id int64, name string) RouteRecord {
	return RouteRecord{
		Route:     lending.Route{ID: id, Name: name},
		SyncState: SyncState{LocalKey: name, IsPending: true},
	}
}

func TestAllocateTempIDSurvivesReopen(testContext *testing.T) {
	ctx := context.Background()
	path := filepath.Join(testContext.TempDir(), "sequence.db")

	first, err := New(openTestDatabase(testContext, path), nil)
	if err != nil {
		testContext.Fatalf("failed to build store: %v", err)
	}
	for _, want := range []int64{-1, -2} {
		got, err := first.Routes.AllocateTempID(ctx)
		if err != nil {
			testContext.Fatalf("allocate failed: %v", err)
		}
		if got != want {
			testContext.Fatalf("expected %d, got %d", want, got)
		}
	}
	paymentID, err := first.Payments.AllocateTempID(ctx)
	if err != nil || paymentID != -1 {
		testContext.Fatalf("expected independent payment sequence, got %d (%v)", paymentID, err)
	}

	reopened, err := New(openTestDatabase(testContext, path), nil)
	if err != nil {
		testContext.Fatalf("failed to rebuild store: %v", err)
	}
	got, err := reopened.Routes.AllocateTempID(ctx)
	if err != nil {
		testContext.Fatalf("allocate after reopen failed: %v", err)
	}
	if got != -3 {
		testContext.Fatalf("expected -3 after reopen, got %d", got)
	}
}

func TestAllocateTempIDStartsBelowStoredRows(testContext *testing.T) {
	ctx := context.Background()
	localStore := newTestStore(testContext)
	if err := localStore.Routes.Insert(ctx, pendingRoute(-5, "legacy")); err != nil {
		testContext.Fatalf("insert failed: %v", err)
	}
	got, err := localStore.Routes.AllocateTempID(ctx)
	if err != nil {
		testContext.Fatalf("allocate failed: %v", err)
	}
	if got != -6 {
		testContext.Fatalf("expected -6, got %d", got)
	}
}

func TestRewriteIDRepointsDependents(testContext *testing.T) {
	ctx := context.Background()
	localStore := newTestStore(testContext)

	if err := localStore.Routes.Insert(ctx, pendingRoute(-1, "North")); err != nil {
		testContext.Fatalf("insert route failed: %v", err)
	}
	loan := LoanRecord{
		Loan: lending.Loan{
			ID:           -1,
			ClientID:     -4,
			Cedula:       "001",
			RouteID:      -1,
			Principal:    decimal.NewFromInt(1000),
			InterestRate: decimal.RequireFromString("0.30"),
			Installments: 3,
			IssuedAt:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		SyncState: SyncState{LocalKey: "loan", IsPending: true},
	}
	if err := localStore.Loans.Insert(ctx, loan); err != nil {
		testContext.Fatalf("insert loan failed: %v", err)
	}
	payment := PaymentRecord{
		Payment:   lending.Payment{ID: -1, LoanID: -1, Amount: decimal.NewFromInt(10)},
		SyncState: SyncState{LocalKey: "payment", IsPending: true},
	}
	if err := localStore.Payments.Insert(ctx, payment); err != nil {
		testContext.Fatalf("insert payment failed: %v", err)
	}

	if err := localStore.Routes.RewriteID(ctx, -1, 7); err != nil {
		testContext.Fatalf("rewrite route failed: %v", err)
	}
	if err := localStore.Loans.RewriteID(ctx, -1, 3); err != nil {
		testContext.Fatalf("rewrite loan failed: %v", err)
	}

	if _, err := localStore.Routes.Get(ctx, -1); !errors.Is(err, ErrNotFound) {
		testContext.Fatalf("expected temporary route id to be gone, got %v", err)
	}
	route, err := localStore.Routes.Get(ctx, 7)
	if err != nil {
		testContext.Fatalf("expected route under server id: %v", err)
	}
	if !route.IsPending {
		testContext.Fatalf("rewrite must not clear the pending flag")
	}
	storedLoan, err := localStore.Loans.Get(ctx, 3)
	if err != nil {
		testContext.Fatalf("expected loan under server id: %v", err)
	}
	if storedLoan.RouteID != 7 {
		testContext.Fatalf("expected loan route 7, got %d", storedLoan.RouteID)
	}
	if !storedLoan.Principal.Equal(decimal.NewFromInt(1000)) {
		testContext.Fatalf("unexpected principal %s", storedLoan.Principal)
	}
	storedPayment, err := localStore.Payments.Get(ctx, -1)
	if err != nil {
		testContext.Fatalf("expected payment: %v", err)
	}
	if storedPayment.LoanID != 3 {
		testContext.Fatalf("expected payment loan 3, got %d", storedPayment.LoanID)
	}
}

func TestRewriteIDRejectsTakenID(testContext *testing.T) {
	ctx := context.Background()
	localStore := newTestStore(testContext)
	if err := localStore.Routes.Insert(ctx, pendingRoute(-1, "a")); err != nil {
		testContext.Fatalf("insert failed: %v", err)
	}
	if err := localStore.Routes.Insert(ctx, pendingRoute(9, "b")); err != nil {
		testContext.Fatalf("insert failed: %v", err)
	}
	if err := localStore.Routes.RewriteID(ctx, -1, 9); !errors.Is(err, ErrIDInUse) {
		testContext.Fatalf("expected ErrIDInUse, got %v", err)
	}
	if err := localStore.Routes.RewriteID(ctx, -8, 10); !errors.Is(err, ErrNotFound) {
		testContext.Fatalf("expected ErrNotFound for missing row, got %v", err)
	}
}

func TestTombstonesAreHiddenFromActiveReads(testContext *testing.T) {
	ctx := context.Background()
	localStore := newTestStore(testContext)
	for _, record := range []RouteRecord{pendingRoute(-1, "kept"), pendingRoute(-2, "gone")} {
		if err := localStore.Routes.Insert(ctx, record); err != nil {
			testContext.Fatalf("insert failed: %v", err)
		}
	}
	if err := localStore.Routes.MarkDeleted(ctx, -2); err != nil {
		testContext.Fatalf("mark deleted failed: %v", err)
	}

	active, err := localStore.Routes.ListActive(ctx)
	if err != nil {
		testContext.Fatalf("list failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != -1 {
		testContext.Fatalf("expected only the live route, got %+v", active)
	}
	if _, err := localStore.Routes.GetActive(ctx, -2); !errors.Is(err, ErrNotFound) {
		testContext.Fatalf("expected tombstone to be hidden, got %v", err)
	}
	pending, err := localStore.Routes.Pending(ctx)
	if err != nil {
		testContext.Fatalf("pending failed: %v", err)
	}
	if len(pending) != 2 {
		testContext.Fatalf("expected both rows pending, got %d", len(pending))
	}
}

func TestPaymentPendingSkipsTombstonesThatAreNotPending(testContext *testing.T) {
	ctx := context.Background()
	localStore := newTestStore(testContext)
	payment := PaymentRecord{
		Payment:   lending.Payment{ID: 4, LoanID: 2, Amount: decimal.NewFromInt(5)},
		SyncState: SyncState{LocalKey: "p", IsDeleted: true},
	}
	if err := localStore.Payments.Insert(ctx, payment); err != nil {
		testContext.Fatalf("insert failed: %v", err)
	}
	pending, err := localStore.Payments.Pending(ctx)
	if err != nil {
		testContext.Fatalf("pending failed: %v", err)
	}
	if len(pending) != 0 {
		testContext.Fatalf("expected no pending payments, got %+v", pending)
	}
}

func TestSaveWritesFalseFlags(testContext *testing.T) {
	ctx := context.Background()
	localStore := newTestStore(testContext)
	if err := localStore.Routes.Insert(ctx, pendingRoute(3, "East")); err != nil {
		testContext.Fatalf("insert failed: %v", err)
	}
	stored, err := localStore.Routes.Get(ctx, 3)
	if err != nil {
		testContext.Fatalf("get failed: %v", err)
	}
	stored.Name = "East 2"
	stored.IsPending = false
	if err := localStore.Routes.Save(ctx, stored); err != nil {
		testContext.Fatalf("save failed: %v", err)
	}
	reloaded, err := localStore.Routes.Get(ctx, 3)
	if err != nil {
		testContext.Fatalf("reload failed: %v", err)
	}
	if reloaded.IsPending || reloaded.Name != "East 2" {
		testContext.Fatalf("unexpected row after save: %+v", reloaded)
	}
	if err := localStore.Routes.Save(ctx, pendingRoute(44, "missing")); !errors.Is(err, ErrNotFound) {
		testContext.Fatalf("expected ErrNotFound saving a missing row, got %v", err)
	}
}

func TestClearPendingRequiresUnchangedRevision(testContext *testing.T) {
	ctx := context.Background()
	localStore := newTestStore(testContext)
	if err := localStore.Routes.Insert(ctx, pendingRoute(5, "North")); err != nil {
		testContext.Fatalf("insert failed: %v", err)
	}
	sent, err := localStore.Routes.Get(ctx, 5)
	if err != nil {
		testContext.Fatalf("get failed: %v", err)
	}

	edited := sent
	edited.Name = "North 2"
	edited.Revision = 40
	if err := localStore.Routes.Save(ctx, edited); err != nil {
		testContext.Fatalf("save failed: %v", err)
	}
	reloaded, err := localStore.Routes.Get(ctx, 5)
	if err != nil {
		testContext.Fatalf("reload failed: %v", err)
	}
	if reloaded.Revision != sent.Revision+1 {
		testContext.Fatalf("expected revision %d, got %d", sent.Revision+1, reloaded.Revision)
	}

	if err := localStore.Routes.ClearPending(ctx, 5, sent.Revision); !errors.Is(err, ErrStale) {
		testContext.Fatalf("expected ErrStale, got %v", err)
	}
	stillPending, err := localStore.Routes.Get(ctx, 5)
	if err != nil {
		testContext.Fatalf("reload failed: %v", err)
	}
	if !stillPending.IsPending {
		testContext.Fatalf("expected the edited row to stay pending")
	}

	if err := localStore.Routes.ClearPending(ctx, 5, reloaded.Revision); err != nil {
		testContext.Fatalf("clear pending failed: %v", err)
	}
	if err := localStore.Routes.ClearPending(ctx, 77, 0); !errors.Is(err, ErrNotFound) {
		testContext.Fatalf("expected ErrNotFound for a missing row, got %v", err)
	}

	if err := localStore.Routes.MarkDeleted(ctx, 5); err != nil {
		testContext.Fatalf("mark deleted failed: %v", err)
	}
	tombstone, err := localStore.Routes.Get(ctx, 5)
	if err != nil {
		testContext.Fatalf("reload failed: %v", err)
	}
	if tombstone.Revision != reloaded.Revision+1 {
		testContext.Fatalf("expected tombstoning to bump the revision, got %d", tombstone.Revision)
	}
}

func TestSubscriptionCleanupReleasesWatcher(testContext *testing.T) {
	feed := NewChangeFeed()
	baseline := runtime.NumGoroutine()
	for range 50 {
		_, cleanup := feed.Subscribe(context.Background(), "rutas")
		cleanup()
	}
	deadline := time.Now().Add(time.Second)
	for runtime.NumGoroutine() > baseline {
		if time.Now().After(deadline) {
			testContext.Fatalf("expected watchers to exit after cleanup, %d goroutines remain over %d", runtime.NumGoroutine(), baseline)
		}
		time.Sleep(5 * time.Millisecond)
	}
	feed.Publish(Change{Table: "rutas"})
}

func TestTransactionPublishesOnlyAfterCommit(testContext *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	localStore := newTestStore(testContext)
	changes, cleanup := localStore.Changes().Subscribe(ctx, "rutas")
	defer cleanup()

	rollback := errors.New("rollback")
	err := localStore.Transaction(ctx, func(tx *Store) error {
		if err := tx.Routes.Insert(ctx, pendingRoute(-1, "rolled back")); err != nil {
			return err
		}
		return rollback
	})
	if !errors.Is(err, rollback) {
		testContext.Fatalf("expected rollback error, got %v", err)
	}
	select {
	case change := <-changes:
		testContext.Fatalf("unexpected change after rollback: %+v", change)
	default:
	}

	err = localStore.Transaction(ctx, func(tx *Store) error {
		return tx.Routes.Insert(ctx, pendingRoute(-1, "committed"))
	})
	if err != nil {
		testContext.Fatalf("transaction failed: %v", err)
	}
	select {
	case change := <-changes:
		if len(change.IDs) != 1 || change.IDs[0] != -1 {
			testContext.Fatalf("unexpected change ids %v", change.IDs)
		}
	case <-time.After(time.Second):
		testContext.Fatalf("expected a change notification")
	}
}

func TestUUIDProviderIssuesDistinctKeys(testContext *testing.T) {
	provider := NewUUIDProvider()
	first, err := provider.NewKey()
	if err != nil {
		testContext.Fatalf("key failed: %v", err)
	}
	second, err := provider.NewKey()
	if err != nil {
		testContext.Fatalf("key failed: %v", err)
	}
	if first == "" || first == second {
		testContext.Fatalf("expected distinct keys, got %q and %q", first, second)
	}
}
