package store

import (
	"context"
	"errors"

	"washpoint/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrDuplicate          = errors.New("already exists")
)

type Repository interface {
	ListServices(ctx context.Context) ([]domain.CatalogService, error)
	ListProducts(ctx context.Context, branchID string) ([]domain.CatalogProduct, error)
	ListMachines(ctx context.Context, branchID string) ([]domain.MachineStatus, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	FindCustomerByPhone(ctx context.Context, phone string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	// CreateTransaction persists the rows and deducts product stock of the
	// branch atomically.
	CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	// UpdateTransaction restores the stock held by the previous rows before
	// deducting the new ones. The loyalty redemptions recorded against tx.ID
	// are replaced by redemption in the same unit of work; zero washes
	// releases them.
	UpdateTransaction(ctx context.Context, tx domain.Transaction, redemption domain.LoyaltyRedemption) (*domain.Transaction, error)
	FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error)
	FindOpenDraft(ctx context.Context, customerID string) (*domain.Transaction, error)
	ListCustomerTransactions(ctx context.Context, customerID string, status string) ([]domain.Transaction, error)
	CountRedeemedWashes(ctx context.Context, customerID string) (int, error)
	RedeemedForTransaction(ctx context.Context, customerID string, transactionID string) (int, error)
	CreateLoyaltyRedemption(ctx context.Context, redemption domain.LoyaltyRedemption) error
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
