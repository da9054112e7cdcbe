package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"washpoint/backend/internal/domain"
	"washpoint/backend/internal/store"
)

const SeedBranchID = "cabang-1"

type Store struct {
	mu               sync.RWMutex
	services         []domain.CatalogService
	products         map[string]domain.CatalogProduct
	productOrder     []string
	inventory        map[string]map[string]int
	machines         map[string][]domain.MachineStatus
	customersByID    map[string]domain.Customer
	customerByPhone  map[string]string
	transactionsByID map[string]*domain.Transaction
	redemptions      []domain.LoyaltyRedemption
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning. These credentials are never used in production (the backend uses
// PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with one branch, the standard laundry catalog
// and a single known customer.
func NewSeeded() *Store {
	services := []domain.CatalogService{
		{ID: "svc-cuci", Name: "Cuci", Price: 10000, DurationMinutes: 30, Category: domain.CategoryPlainWash},
		{ID: "svc-kering", Name: "Kering", Price: 10000, DurationMinutes: 40, Category: domain.CategoryDry},
		{ID: "svc-bilas", Name: "Bilas", Price: 5000, DurationMinutes: 15, Category: domain.CategoryRinse},
		{ID: "svc-ckl", Name: "CKL (Cuci Kering Lipat)", Price: 25000, DurationMinutes: 90, Category: domain.CategoryCombined},
		{ID: "svc-setrika", Name: "Setrika", Price: 7000, DurationMinutes: 20, Category: domain.CategoryOther},
	}
	products := []domain.CatalogProduct{
		{ID: "prod-softener", Name: "Softener Sachet", Price: 5000, Unit: "sachet", Category: "perawatan"},
		{ID: "prod-deterjen", Name: "Deterjen Sachet", Price: 4000, Unit: "sachet", Category: "perawatan"},
		{ID: "prod-plastik", Name: "Plastik Laundry", Price: 2000, Unit: "pcs", Category: "kemasan"},
	}

	s := &Store{
		services:         services,
		products:         make(map[string]domain.CatalogProduct, len(products)),
		inventory:        map[string]map[string]int{SeedBranchID: {}},
		machines:         map[string][]domain.MachineStatus{},
		customersByID:    make(map[string]domain.Customer),
		customerByPhone:  make(map[string]string),
		transactionsByID: make(map[string]*domain.Transaction),
		redemptions:      make([]domain.LoyaltyRedemption, 0, 16),
		auditLogs:        make([]domain.AuditLog, 0, 128),
		usersByUsername:  seedUsers(),
	}
	for _, p := range products {
		s.products[p.ID] = p
		s.productOrder = append(s.productOrder, p.ID)
		s.inventory[SeedBranchID][p.ID] = 100
	}
	s.machines[SeedBranchID] = []domain.MachineStatus{
		{Type: "cuci", Status: "tersedia"},
		{Type: "cuci", Status: "tersedia"},
		{Type: "cuci", Status: "tersedia"},
		{Type: "cuci", Status: "digunakan"},
		{Type: "pengering", Status: "tersedia"},
		{Type: "pengering", Status: "tersedia"},
		{Type: "pengering", Status: "digunakan"},
		{Type: "pengering", Status: "perbaikan"},
	}

	seedCustomer := domain.Customer{
		ID:        "cust-budi",
		Name:      "Budi",
		Phone:     "081234567890",
		BranchID:  SeedBranchID,
		CreatedAt: time.Now().UTC(),
	}
	s.customersByID[seedCustomer.ID] = seedCustomer
	s.customerByPhone[seedCustomer.Phone] = seedCustomer.ID
	return s
}

// SetMachines replaces the machine statuses of a branch.
func (s *Store) SetMachines(branchID string, machines []domain.MachineStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.machines[branchID] = slices.Clone(machines)
}

// SetStock overrides the stock of one product in a branch.
func (s *Store) SetStock(branchID, productID string, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inventory[branchID]; !ok {
		s.inventory[branchID] = map[string]int{}
	}
	s.inventory[branchID][productID] = qty
}

func (s *Store) ListServices(_ context.Context) ([]domain.CatalogService, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.services), nil
}

func (s *Store) ListProducts(_ context.Context, branchID string) ([]domain.CatalogProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stock, ok := s.inventory[branchID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := make([]domain.CatalogProduct, 0, len(stock))
	for _, id := range s.productOrder {
		qty, stocked := stock[id]
		if !stocked {
			continue
		}
		product := s.products[id]
		product.Stock = qty
		out = append(out, product)
	}
	return out, nil
}

func (s *Store) ListMachines(_ context.Context, branchID string) ([]domain.MachineStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.inventory[branchID]; !ok {
		return nil, store.ErrNotFound
	}
	return slices.Clone(s.machines[branchID]), nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	customer, ok := s.customersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) FindCustomerByPhone(_ context.Context, phone string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.customerByPhone[phone]
	if !ok {
		return nil, store.ErrNotFound
	}
	customer := s.customersByID[id]
	return &customer, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if customer.ID == "" || customer.Name == "" || customer.Phone == "" {
		return nil, store.ErrInvalidTransaction
	}
	if _, exists := s.customerByPhone[customer.Phone]; exists {
		return nil, store.ErrDuplicate
	}
	s.customersByID[customer.ID] = customer
	s.customerByPhone[customer.Phone] = customer.ID
	created := customer
	return &created, nil
}

func (s *Store) CreateTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateTransaction(tx); err != nil {
		return nil, err
	}
	if _, exists := s.transactionsByID[tx.ID]; exists {
		return nil, store.ErrDuplicate
	}

	stock, err := s.applyStock(tx.BranchID, nil, tx.Products)
	if err != nil {
		return nil, err
	}
	s.inventory[tx.BranchID] = stock
	s.transactionsByID[tx.ID] = cloneTransaction(&tx)
	return cloneTransaction(&tx), nil
}

func (s *Store) UpdateTransaction(_ context.Context, tx domain.Transaction, redemption domain.LoyaltyRedemption) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.transactionsByID[tx.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := s.validateTransaction(tx); err != nil {
		return nil, err
	}
	if existing.BranchID != tx.BranchID {
		return nil, fmt.Errorf("%w: branch cannot change", store.ErrInvalidTransaction)
	}

	if redemption.Washes < 0 || (redemption.Washes > 0 && redemption.CustomerID == "") {
		return nil, store.ErrInvalidTransaction
	}

	stock, err := s.applyStock(tx.BranchID, existing.Products, tx.Products)
	if err != nil {
		return nil, err
	}
	s.inventory[tx.BranchID] = stock

	s.redemptions = slices.DeleteFunc(s.redemptions, func(r domain.LoyaltyRedemption) bool {
		return r.TransactionID == tx.ID
	})
	if redemption.Washes > 0 {
		redemption.TransactionID = tx.ID
		s.redemptions = append(s.redemptions, redemption)
	}

	tx.CreatedAt = existing.CreatedAt
	tx.CreatedBy = existing.CreatedBy
	s.transactionsByID[tx.ID] = cloneTransaction(&tx)
	return cloneTransaction(&tx), nil
}

func (s *Store) validateTransaction(tx domain.Transaction) error {
	if tx.ID == "" || tx.CustomerID == "" || tx.BranchID == "" {
		return store.ErrInvalidTransaction
	}
	if len(tx.Services) == 0 && len(tx.Products) == 0 {
		return store.ErrInvalidTransaction
	}
	if _, ok := s.customersByID[tx.CustomerID]; !ok {
		return fmt.Errorf("%w: customer %s unknown", store.ErrInvalidTransaction, tx.CustomerID)
	}
	if _, ok := s.inventory[tx.BranchID]; !ok {
		return fmt.Errorf("%w: branch %s unknown", store.ErrInvalidTransaction, tx.BranchID)
	}
	return nil
}

// applyStock returns the branch stock after giving back previous and taking
// next. The live map is left untouched so a failure needs no rollback.
func (s *Store) applyStock(branchID string, previous, next []domain.TransactionProductRow) (map[string]int, error) {
	current := s.inventory[branchID]
	stock := make(map[string]int, len(current))
	for id, qty := range current {
		stock[id] = qty
	}
	for _, row := range previous {
		stock[row.ProductID] += row.Quantity
	}
	for _, row := range next {
		if row.Quantity < 1 {
			return nil, store.ErrInvalidTransaction
		}
		if _, stocked := stock[row.ProductID]; !stocked {
			return nil, fmt.Errorf("%w: product %s unavailable", store.ErrInvalidTransaction, row.ProductID)
		}
		stock[row.ProductID] -= row.Quantity
		if stock[row.ProductID] < 0 {
			return nil, store.ErrInsufficientStock
		}
	}
	return stock, nil
}

func (s *Store) FindTransactionByID(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.transactionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (s *Store) FindOpenDraft(_ context.Context, customerID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *domain.Transaction
	for _, tx := range s.transactionsByID {
		if tx.CustomerID != customerID || tx.Status != domain.TxStatusDraft {
			continue
		}
		if latest == nil || tx.CreatedAt.After(latest.CreatedAt) {
			latest = tx
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(latest), nil
}

func (s *Store) ListCustomerTransactions(_ context.Context, customerID string, status string) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Transaction, 0, 8)
	for _, tx := range s.transactionsByID {
		if tx.CustomerID != customerID {
			continue
		}
		if status != "" && tx.Status != status {
			continue
		}
		out = append(out, *cloneTransaction(tx))
	}
	slices.SortFunc(out, func(a, b domain.Transaction) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (s *Store) CountRedeemedWashes(_ context.Context, customerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, r := range s.redemptions {
		if r.CustomerID == customerID {
			total += r.Washes
		}
	}
	return total, nil
}

func (s *Store) RedeemedForTransaction(_ context.Context, customerID string, transactionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, r := range s.redemptions {
		if r.CustomerID == customerID && r.TransactionID == transactionID {
			total += r.Washes
		}
	}
	return total, nil
}

func (s *Store) CreateLoyaltyRedemption(_ context.Context, redemption domain.LoyaltyRedemption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if redemption.CustomerID == "" || redemption.Washes < 1 {
		return store.ErrInvalidTransaction
	}
	s.redemptions = append(s.redemptions, redemption)
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

// AuditLogs returns a copy of every recorded audit entry, oldest first.
func (s *Store) AuditLogs() []domain.AuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.auditLogs)
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrDuplicate
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneTransaction(src *domain.Transaction) *domain.Transaction {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Services = slices.Clone(src.Services)
	dst.Products = slices.Clone(src.Products)
	if src.PaymentMethod != nil {
		method := *src.PaymentMethod
		dst.PaymentMethod = &method
	}
	return &dst
}
