package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"washpoint/backend/internal/domain"
	"washpoint/backend/internal/money"
	"washpoint/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListServices(ctx context.Context) ([]domain.CatalogService, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, nama_layanan, harga, durasi_menit, kategori
		FROM services
		WHERE active = true
		ORDER BY nama_layanan
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	services := make([]domain.CatalogService, 0, 16)
	for rows.Next() {
		var (
			svc      domain.CatalogService
			price    decimal.Decimal
			category sql.NullString
		)
		if err := rows.Scan(&svc.ID, &svc.Name, &price, &svc.DurationMinutes, &category); err != nil {
			return nil, err
		}
		svc.Price = money.FromDecimal(price)
		svc.Category = domain.ServiceCategory(category.String)
		services = append(services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return services, nil
}

func (s *Store) ListProducts(ctx context.Context, branchID string) ([]domain.CatalogProduct, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.nama_produk, p.harga, p.satuan, p.kategori_produk, bs.stok
		FROM branch_stocks bs
		JOIN products p ON p.id = bs.product_id
		WHERE bs.branch_id = $1 AND p.active = true
		ORDER BY p.kategori_produk, p.nama_produk
	`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.CatalogProduct, 0, 32)
	for rows.Next() {
		var (
			product domain.CatalogProduct
			price   decimal.Decimal
		)
		if err := rows.Scan(&product.ID, &product.Name, &price, &product.Unit, &product.Category, &product.Stock); err != nil {
			return nil, err
		}
		product.Price = money.FromDecimal(price)
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) ListMachines(ctx context.Context, branchID string) ([]domain.MachineStatus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT jenis_mesin, status_mesin
		FROM machines
		WHERE branch_id = $1
		ORDER BY id
	`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	machines := make([]domain.MachineStatus, 0, 16)
	for rows.Next() {
		var m domain.MachineStatus
		if err := rows.Scan(&m.Type, &m.Status); err != nil {
			return nil, err
		}
		machines = append(machines, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return machines, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return s.scanCustomer(s.db.QueryRowContext(ctx, `
		SELECT id, nama, no_telepon, COALESCE(branch_id, ''), created_at
		FROM customers
		WHERE id = $1
	`, id))
}

func (s *Store) FindCustomerByPhone(ctx context.Context, phone string) (*domain.Customer, error) {
	return s.scanCustomer(s.db.QueryRowContext(ctx, `
		SELECT id, nama, no_telepon, COALESCE(branch_id, ''), created_at
		FROM customers
		WHERE no_telepon = $1
	`, phone))
}

func (s *Store) scanCustomer(row *sql.Row) (*domain.Customer, error) {
	var c domain.Customer
	if err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.BranchID, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" || customer.Name == "" || customer.Phone == "" {
		return nil, store.ErrInvalidTransaction
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, nama, no_telepon, branch_id, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, customer.ID, customer.Name, customer.Phone, nullIfEmpty(customer.BranchID), customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: branch %s unknown", store.ErrInvalidTransaction, customer.BranchID)
		}
		return nil, err
	}
	created := customer
	return &created, nil
}

func (s *Store) CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if err := validateTransaction(tx); err != nil {
		return nil, err
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := adjustStock(ctx, pgTx, tx.BranchID, nil, tx.Products); err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO transactions (
			id, customer_id, branch_id, shift_id, metode_pembayaran, status,
			catatan, total_harga, created_by, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, tx.ID, tx.CustomerID, tx.BranchID, nullIfEmpty(tx.ShiftID), nullString(tx.PaymentMethod), tx.Status,
		tx.Notes, money.ToDecimal(tx.Total), tx.CreatedBy, tx.CreatedAt, tx.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: unknown customer or branch", store.ErrInvalidTransaction)
		}
		return nil, err
	}

	if err := insertRows(ctx, pgTx, tx); err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *Store) UpdateTransaction(ctx context.Context, tx domain.Transaction, redemption domain.LoyaltyRedemption) (*domain.Transaction, error) {
	if err := validateTransaction(tx); err != nil {
		return nil, err
	}
	if redemption.Washes < 0 || (redemption.Washes > 0 && (redemption.ID == "" || redemption.CustomerID == "")) {
		return nil, store.ErrInvalidTransaction
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var (
		branchID  string
		createdBy string
		createdAt time.Time
	)
	err = pgTx.QueryRowContext(ctx, `
		SELECT branch_id, created_by, created_at
		FROM transactions
		WHERE id = $1
		FOR UPDATE
	`, tx.ID).Scan(&branchID, &createdBy, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if branchID != tx.BranchID {
		return nil, fmt.Errorf("%w: branch cannot change", store.ErrInvalidTransaction)
	}

	previous, err := loadProductRows(ctx, pgTx, []string{tx.ID})
	if err != nil {
		return nil, err
	}
	if err := adjustStock(ctx, pgTx, tx.BranchID, previous[tx.ID], tx.Products); err != nil {
		return nil, err
	}

	if _, err := pgTx.ExecContext(ctx, `
		UPDATE transactions
		SET customer_id = $2, shift_id = $3, metode_pembayaran = $4, status = $5,
			catatan = $6, total_harga = $7, updated_at = $8
		WHERE id = $1
	`, tx.ID, tx.CustomerID, nullIfEmpty(tx.ShiftID), nullString(tx.PaymentMethod), tx.Status,
		tx.Notes, money.ToDecimal(tx.Total), tx.UpdatedAt); err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: unknown customer", store.ErrInvalidTransaction)
		}
		return nil, err
	}
	if _, err := pgTx.ExecContext(ctx, `DELETE FROM transaction_services WHERE transaction_id = $1`, tx.ID); err != nil {
		return nil, err
	}
	if _, err := pgTx.ExecContext(ctx, `DELETE FROM transaction_products WHERE transaction_id = $1`, tx.ID); err != nil {
		return nil, err
	}
	if err := insertRows(ctx, pgTx, tx); err != nil {
		return nil, err
	}
	if err := replaceRedemption(ctx, pgTx, tx.ID, redemption); err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	tx.CreatedBy = createdBy
	tx.CreatedAt = createdAt.UTC()
	return &tx, nil
}

func validateTransaction(tx domain.Transaction) error {
	if tx.ID == "" || tx.CustomerID == "" || tx.BranchID == "" {
		return store.ErrInvalidTransaction
	}
	if len(tx.Services) == 0 && len(tx.Products) == 0 {
		return store.ErrInvalidTransaction
	}
	for _, row := range tx.Products {
		if row.Quantity < 1 || row.ProductID == "" {
			return store.ErrInvalidTransaction
		}
	}
	for _, row := range tx.Services {
		if row.Quantity < 1 || row.ServiceID == "" {
			return store.ErrInvalidTransaction
		}
	}
	return nil
}

// adjustStock gives back the quantities of previous and takes those of next,
// locking each touched stock row.
func adjustStock(ctx context.Context, pgTx *sql.Tx, branchID string, previous, next []domain.TransactionProductRow) error {
	delta := make(map[string]int)
	for _, row := range previous {
		delta[row.ProductID] -= row.Quantity
	}
	for _, row := range next {
		delta[row.ProductID] += row.Quantity
	}

	productIDs := make([]string, 0, len(delta))
	for id, qty := range delta {
		if qty != 0 {
			productIDs = append(productIDs, id)
		}
	}
	sort.Strings(productIDs)

	for _, productID := range productIDs {
		var stock int
		err := pgTx.QueryRowContext(ctx, `
			SELECT stok
			FROM branch_stocks
			WHERE branch_id = $1 AND product_id = $2
			FOR UPDATE
		`, branchID, productID).Scan(&stock)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: product %s unavailable", store.ErrInvalidTransaction, productID)
			}
			return err
		}
		remaining := stock - delta[productID]
		if remaining < 0 {
			return store.ErrInsufficientStock
		}
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE branch_stocks
			SET stok = $3, updated_at = now()
			WHERE branch_id = $1 AND product_id = $2
		`, branchID, productID, remaining); err != nil {
			return err
		}
	}
	return nil
}

func insertRows(ctx context.Context, pgTx *sql.Tx, tx domain.Transaction) error {
	for i, row := range tx.Services {
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO transaction_services (
				transaction_id, position, service_id, nama_layanan, quantity,
				harga_satuan, subtotal, is_free, free_quantity
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, tx.ID, i, row.ServiceID, row.ServiceName, row.Quantity,
			money.ToDecimal(row.UnitPrice), money.ToDecimal(row.Subtotal), row.IsFree, row.FreeQuantity); err != nil {
			return err
		}
	}
	for i, row := range tx.Products {
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO transaction_products (
				transaction_id, position, product_id, nama_produk, quantity,
				harga_satuan, subtotal, is_free, free_quantity
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, tx.ID, i, row.ProductID, row.ProductName, row.Quantity,
			money.ToDecimal(row.UnitPrice), money.ToDecimal(row.Subtotal), row.IsFree, row.FreeQuantity); err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: product %s unknown", store.ErrInvalidTransaction, row.ProductID)
			}
			return err
		}
	}
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadServiceRows(ctx context.Context, q querier, txIDs []string) (map[string][]domain.TransactionServiceRow, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT transaction_id, service_id, nama_layanan, quantity, harga_satuan, subtotal, is_free, free_quantity
		FROM transaction_services
		WHERE transaction_id = ANY($1)
		ORDER BY transaction_id, position
	`, txIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]domain.TransactionServiceRow, len(txIDs))
	for rows.Next() {
		var (
			txID            string
			row             domain.TransactionServiceRow
			price, subtotal decimal.Decimal
		)
		if err := rows.Scan(&txID, &row.ServiceID, &row.ServiceName, &row.Quantity, &price, &subtotal, &row.IsFree, &row.FreeQuantity); err != nil {
			return nil, err
		}
		row.UnitPrice = money.FromDecimal(price)
		row.Subtotal = money.FromDecimal(subtotal)
		out[txID] = append(out[txID], row)
	}
	return out, rows.Err()
}

func loadProductRows(ctx context.Context, q querier, txIDs []string) (map[string][]domain.TransactionProductRow, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT transaction_id, product_id, nama_produk, quantity, harga_satuan, subtotal, is_free, free_quantity
		FROM transaction_products
		WHERE transaction_id = ANY($1)
		ORDER BY transaction_id, position
	`, txIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]domain.TransactionProductRow, len(txIDs))
	for rows.Next() {
		var (
			txID            string
			row             domain.TransactionProductRow
			price, subtotal decimal.Decimal
		)
		if err := rows.Scan(&txID, &row.ProductID, &row.ProductName, &row.Quantity, &price, &subtotal, &row.IsFree, &row.FreeQuantity); err != nil {
			return nil, err
		}
		row.UnitPrice = money.FromDecimal(price)
		row.Subtotal = money.FromDecimal(subtotal)
		out[txID] = append(out[txID], row)
	}
	return out, rows.Err()
}

const transactionColumns = `
	id, customer_id, branch_id, COALESCE(shift_id, ''), metode_pembayaran, status,
	catatan, total_harga, created_by, created_at, updated_at
`

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Transaction, 0, 8)
	for rows.Next() {
		var (
			tx      domain.Transaction
			payment sql.NullString
			total   decimal.Decimal
		)
		if err := rows.Scan(&tx.ID, &tx.CustomerID, &tx.BranchID, &tx.ShiftID, &payment, &tx.Status,
			&tx.Notes, &total, &tx.CreatedBy, &tx.CreatedAt, &tx.UpdatedAt); err != nil {
			return nil, err
		}
		if payment.Valid {
			method := payment.String
			tx.PaymentMethod = &method
		}
		tx.Total = money.FromDecimal(total)
		tx.CreatedAt = tx.CreatedAt.UTC()
		tx.UpdatedAt = tx.UpdatedAt.UTC()
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	txIDs := make([]string, len(out))
	for i, tx := range out {
		txIDs[i] = tx.ID
	}
	services, err := loadServiceRows(ctx, s.db, txIDs)
	if err != nil {
		return nil, err
	}
	products, err := loadProductRows(ctx, s.db, txIDs)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Services = services[out[i].ID]
		out[i].Products = products[out[i].ID]
	}
	return out, nil
}

func (s *Store) FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error) {
	txs, err := s.queryTransactions(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, store.ErrNotFound
	}
	return &txs[0], nil
}

func (s *Store) FindOpenDraft(ctx context.Context, customerID string) (*domain.Transaction, error) {
	txs, err := s.queryTransactions(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE customer_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, customerID, domain.TxStatusDraft)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, store.ErrNotFound
	}
	return &txs[0], nil
}

func (s *Store) ListCustomerTransactions(ctx context.Context, customerID string, status string) ([]domain.Transaction, error) {
	return s.queryTransactions(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE customer_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at ASC
	`, customerID, status)
}

func (s *Store) CountRedeemedWashes(ctx context.Context, customerID string) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(washes), 0)
		FROM loyalty_redemptions
		WHERE customer_id = $1
	`, customerID).Scan(&total)
	return total, err
}

func (s *Store) RedeemedForTransaction(ctx context.Context, customerID string, transactionID string) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(washes), 0)
		FROM loyalty_redemptions
		WHERE customer_id = $1 AND transaction_id = $2
	`, customerID, transactionID).Scan(&total)
	return total, err
}

// replaceRedemption rewrites the redemptions held by one transaction.
func replaceRedemption(ctx context.Context, pgTx *sql.Tx, transactionID string, redemption domain.LoyaltyRedemption) error {
	if _, err := pgTx.ExecContext(ctx, `DELETE FROM loyalty_redemptions WHERE transaction_id = $1`, transactionID); err != nil {
		return err
	}
	if redemption.Washes == 0 {
		return nil
	}
	if redemption.CreatedAt.IsZero() {
		redemption.CreatedAt = time.Now().UTC()
	}
	_, err := pgTx.ExecContext(ctx, `
		INSERT INTO loyalty_redemptions (id, customer_id, transaction_id, washes, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, redemption.ID, redemption.CustomerID, transactionID, redemption.Washes, redemption.CreatedAt)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("%w: customer %s unknown", store.ErrInvalidTransaction, redemption.CustomerID)
	}
	return err
}

func (s *Store) CreateLoyaltyRedemption(ctx context.Context, redemption domain.LoyaltyRedemption) error {
	if redemption.ID == "" || redemption.CustomerID == "" || redemption.Washes < 1 {
		return store.ErrInvalidTransaction
	}
	if redemption.CreatedAt.IsZero() {
		redemption.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO loyalty_redemptions (id, customer_id, transaction_id, washes, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, redemption.ID, redemption.CustomerID, nullIfEmpty(redemption.TransactionID), redemption.Washes, redemption.CreatedAt)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("%w: customer %s unknown", store.ErrInvalidTransaction, redemption.CustomerID)
	}
	return err
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.BranchID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullString(val *string) any {
	if val == nil {
		return nil
	}
	return *val
}
