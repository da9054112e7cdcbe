package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"washpoint/backend/internal/domain"
	"washpoint/backend/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("WASHPOINT_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set WASHPOINT_TEST_DATABASE_URL to run postgres integration test")
	}

	s, err := New(context.Background(), databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func stockOf(t *testing.T, s *Store, branchID, productID string) int {
	t.Helper()
	var stock int
	if err := s.db.QueryRowContext(context.Background(), `
		SELECT stok FROM branch_stocks WHERE branch_id = $1 AND product_id = $2
	`, branchID, productID).Scan(&stock); err != nil {
		t.Fatalf("read stock: %v", err)
	}
	return stock
}

func TestTransactionLifecycleMovesStock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	branchID := fmt.Sprintf("cabang-it-%d", stamp)
	customerID := fmt.Sprintf("cust-it-%d", stamp)
	txID := fmt.Sprintf("trx-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM loyalty_redemptions WHERE customer_id = $1`, customerID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, txID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, customerID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM branch_stocks WHERE branch_id = $1`, branchID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM branches WHERE id = $1`, branchID)
	})

	if _, err := s.db.ExecContext(ctx, `INSERT INTO branches (id, name) VALUES ($1, 'Cabang IT')`, branchID); err != nil {
		t.Fatalf("insert branch: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO branch_stocks (branch_id, product_id, stok) VALUES ($1, 'prod-softener', 5)
	`, branchID); err != nil {
		t.Fatalf("seed stock: %v", err)
	}

	if _, err := s.CreateCustomer(ctx, domain.Customer{
		ID:       customerID,
		Name:     "Integrasi",
		Phone:    fmt.Sprintf("08%010d", stamp%10000000000),
		BranchID: branchID,
	}); err != nil {
		t.Fatalf("create customer: %v", err)
	}

	now := time.Now().UTC()
	tx := domain.Transaction{
		ID:         txID,
		CustomerID: customerID,
		BranchID:   branchID,
		Status:     domain.TxStatusDraft,
		Total:      20000,
		CreatedBy:  "it",
		CreatedAt:  now,
		UpdatedAt:  now,
		Services: []domain.TransactionServiceRow{
			{ServiceID: "svc-cuci", ServiceName: "Cuci", Quantity: 1, UnitPrice: 10000, Subtotal: 0, IsFree: true, FreeQuantity: 1},
			{ServiceID: "svc-cuci", ServiceName: "Cuci", Quantity: 2, UnitPrice: 10000, Subtotal: 20000},
		},
		Products: []domain.TransactionProductRow{
			{ProductID: "prod-softener", ProductName: "Softener Sachet", Quantity: 3, UnitPrice: 5000, IsFree: true, FreeQuantity: 3},
		},
	}
	if _, err := s.CreateTransaction(ctx, tx); err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	if got := stockOf(t, s, branchID, "prod-softener"); got != 2 {
		t.Fatalf("expected stock 2 after create, got %d", got)
	}

	loaded, err := s.FindTransactionByID(ctx, txID)
	if err != nil {
		t.Fatalf("find transaction: %v", err)
	}
	if len(loaded.Services) != 2 || !loaded.Services[0].IsFree || loaded.Services[1].Subtotal != 20000 {
		t.Fatalf("unexpected service rows: %+v", loaded.Services)
	}
	if loaded.PaymentMethod != nil {
		t.Fatalf("expected draft without payment method")
	}

	draft, err := s.FindOpenDraft(ctx, customerID)
	if err != nil || draft.ID != txID {
		t.Fatalf("expected open draft %s, got %+v err=%v", txID, draft, err)
	}

	cash := "cash"
	tx.PaymentMethod = &cash
	tx.Status = domain.TxStatusPaid
	tx.Products[0].Quantity = 1
	tx.Products[0].FreeQuantity = 1
	tx.UpdatedAt = time.Now().UTC()
	if _, err := s.UpdateTransaction(ctx, tx, domain.LoyaltyRedemption{}); err != nil {
		t.Fatalf("update transaction: %v", err)
	}
	if got := stockOf(t, s, branchID, "prod-softener"); got != 4 {
		t.Fatalf("expected stock 4 after update, got %d", got)
	}

	tx.Products[0].Quantity = 10
	if _, err := s.UpdateTransaction(ctx, tx, domain.LoyaltyRedemption{}); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if got := stockOf(t, s, branchID, "prod-softener"); got != 4 {
		t.Fatalf("expected failed update to keep stock 4, got %d", got)
	}

	paid, err := s.ListCustomerTransactions(ctx, customerID, domain.TxStatusPaid)
	if err != nil || len(paid) != 1 {
		t.Fatalf("expected one paid transaction, got %d err=%v", len(paid), err)
	}

	if err := s.CreateLoyaltyRedemption(ctx, domain.LoyaltyRedemption{
		ID: fmt.Sprintf("red-it-%d", stamp), CustomerID: customerID, TransactionID: txID, Washes: 1,
	}); err != nil {
		t.Fatalf("create redemption: %v", err)
	}
	redeemed, err := s.CountRedeemedWashes(ctx, customerID)
	if err != nil || redeemed != 1 {
		t.Fatalf("expected 1 redeemed wash, got %d err=%v", redeemed, err)
	}

	tx.Products[0].Quantity = 1
	if _, err := s.UpdateTransaction(ctx, tx, domain.LoyaltyRedemption{}); err != nil {
		t.Fatalf("update releasing redemption: %v", err)
	}
	held, err := s.RedeemedForTransaction(ctx, customerID, txID)
	if err != nil || held != 0 {
		t.Fatalf("expected redemption released, got %d err=%v", held, err)
	}
	redeemed, err = s.CountRedeemedWashes(ctx, customerID)
	if err != nil || redeemed != 0 {
		t.Fatalf("expected no redeemed washes after release, got %d err=%v", redeemed, err)
	}
}
