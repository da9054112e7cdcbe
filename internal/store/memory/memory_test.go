package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"washpoint/backend/internal/domain"
	"washpoint/backend/internal/store"
)

func softenerStock(t *testing.T, s *Store) int {
	t.Helper()
	products, err := s.ListProducts(context.Background(), SeedBranchID)
	require.NoError(t, err)
	for _, p := range products {
		if p.ID == "prod-softener" {
			return p.Stock
		}
	}
	t.Fatalf("softener missing from catalog")
	return 0
}

func draft(id string, softeners int) domain.Transaction {
	now := time.Now().UTC()
	return domain.Transaction{
		ID:         id,
		CustomerID: "cust-budi",
		BranchID:   SeedBranchID,
		Status:     domain.TxStatusDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
		Services: []domain.TransactionServiceRow{
			{ServiceID: "svc-cuci", ServiceName: "Cuci", Quantity: 1, UnitPrice: 10000, Subtotal: 10000},
		},
		Products: []domain.TransactionProductRow{
			{ProductID: "prod-softener", ProductName: "Softener Sachet", Quantity: softeners, UnitPrice: 5000, IsFree: true, FreeQuantity: 1},
		},
	}
}

func TestCreateAndUpdateTransactionMoveStock(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	_, err := s.CreateTransaction(ctx, draft("trx-1", 3))
	require.NoError(t, err)
	assert.Equal(t, 97, softenerStock(t, s))

	_, err = s.UpdateTransaction(ctx, draft("trx-1", 1), domain.LoyaltyRedemption{})
	require.NoError(t, err)
	assert.Equal(t, 99, softenerStock(t, s))

	_, err = s.UpdateTransaction(ctx, draft("trx-1", 500), domain.LoyaltyRedemption{})
	assert.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Equal(t, 99, softenerStock(t, s), "failed update must keep stock")

	_, err = s.CreateTransaction(ctx, draft("trx-1", 1))
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestCreateTransactionRejectsUnknownCustomerAndBranch(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	tx := draft("trx-2", 1)
	tx.CustomerID = "cust-missing"
	_, err := s.CreateTransaction(ctx, tx)
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)

	tx = draft("trx-3", 1)
	tx.BranchID = "cabang-x"
	_, err = s.CreateTransaction(ctx, tx)
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, err = s.UpdateTransaction(ctx, draft("trx-404", 1), domain.LoyaltyRedemption{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFindOpenDraftAndListByStatus(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	first := draft("trx-a", 1)
	first.CreatedAt = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	second := draft("trx-b", 1)
	second.CreatedAt = time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)
	cash := "cash"
	second.PaymentMethod = &cash
	second.Status = domain.TxStatusPaid

	_, err := s.CreateTransaction(ctx, second)
	require.NoError(t, err)
	_, err = s.CreateTransaction(ctx, first)
	require.NoError(t, err)

	open, err := s.FindOpenDraft(ctx, "cust-budi")
	require.NoError(t, err)
	assert.Equal(t, "trx-a", open.ID)

	all, err := s.ListCustomerTransactions(ctx, "cust-budi", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "trx-a", all[0].ID)

	paid, err := s.ListCustomerTransactions(ctx, "cust-budi", domain.TxStatusPaid)
	require.NoError(t, err)
	require.Len(t, paid, 1)
	assert.Equal(t, "trx-b", paid[0].ID)

	paid[0].Services[0].Quantity = 99
	again, err := s.FindTransactionByID(ctx, "trx-b")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Services[0].Quantity, "returned rows must be copies")
}

func TestCustomersAndRedemptions(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	_, err := s.CreateCustomer(ctx, domain.Customer{ID: "cust-2", Name: "Sari", Phone: "081234567890"})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	created, err := s.CreateCustomer(ctx, domain.Customer{ID: "cust-2", Name: "Sari", Phone: "081298765432"})
	require.NoError(t, err)
	found, err := s.FindCustomerByPhone(ctx, "081298765432")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	require.NoError(t, s.CreateLoyaltyRedemption(ctx, domain.LoyaltyRedemption{ID: "r1", CustomerID: "cust-2", Washes: 2}))
	require.NoError(t, s.CreateLoyaltyRedemption(ctx, domain.LoyaltyRedemption{ID: "r2", CustomerID: "cust-2", Washes: 1}))
	assert.ErrorIs(t, s.CreateLoyaltyRedemption(ctx, domain.LoyaltyRedemption{ID: "r3", CustomerID: "cust-2"}), store.ErrInvalidTransaction)

	redeemed, err := s.CountRedeemedWashes(ctx, "cust-2")
	require.NoError(t, err)
	assert.Equal(t, 3, redeemed)
}

func TestMachinesRequireKnownBranch(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	machines, err := s.ListMachines(ctx, SeedBranchID)
	require.NoError(t, err)
	assert.Len(t, machines, 8)

	_, err = s.ListMachines(ctx, "cabang-x")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateTransactionReplacesRedemption(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	_, err := s.CreateTransaction(ctx, draft("trx-r", 1))
	require.NoError(t, err)
	require.NoError(t, s.CreateLoyaltyRedemption(ctx, domain.LoyaltyRedemption{ID: "r1", CustomerID: "cust-budi", TransactionID: "trx-r", Washes: 1}))
	require.NoError(t, s.CreateLoyaltyRedemption(ctx, domain.LoyaltyRedemption{ID: "r2", CustomerID: "cust-budi", TransactionID: "trx-other", Washes: 1}))

	_, err = s.UpdateTransaction(ctx, draft("trx-r", 1), domain.LoyaltyRedemption{ID: "r3", CustomerID: "cust-budi", Washes: 2})
	require.NoError(t, err)
	held, err := s.RedeemedForTransaction(ctx, "cust-budi", "trx-r")
	require.NoError(t, err)
	assert.Equal(t, 2, held)

	_, err = s.UpdateTransaction(ctx, draft("trx-r", 1), domain.LoyaltyRedemption{})
	require.NoError(t, err)
	held, err = s.RedeemedForTransaction(ctx, "cust-budi", "trx-r")
	require.NoError(t, err)
	assert.Equal(t, 0, held)

	redeemed, err := s.CountRedeemedWashes(ctx, "cust-budi")
	require.NoError(t, err)
	assert.Equal(t, 1, redeemed, "redemptions of other transactions stay")

	_, err = s.UpdateTransaction(ctx, draft("trx-r", 500), domain.LoyaltyRedemption{ID: "r4", CustomerID: "cust-budi", Washes: 1})
	assert.ErrorIs(t, err, store.ErrInsufficientStock)
	held, err = s.RedeemedForTransaction(ctx, "cust-budi", "trx-r")
	require.NoError(t, err)
	assert.Equal(t, 0, held, "failed update must keep redemptions")
}
