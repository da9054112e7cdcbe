package domain

import (
	"encoding/json"
	"time"
)

type ServiceCategory string

const (
	CategoryPlainWash ServiceCategory = "plain_wash"
	CategoryDry       ServiceCategory = "dry"
	CategoryRinse     ServiceCategory = "rinse"
	CategoryCombined  ServiceCategory = "combined"
	CategoryOther     ServiceCategory = "other"
)

// Redeemable reports whether a free wash from the loyalty balance may be
// spent on a service of this category.
func (c ServiceCategory) Redeemable() bool {
	return c == CategoryPlainWash
}

// QualifiesFreeProducts reports whether selecting this category can attach
// complimentary softener or detergent.
func (c ServiceCategory) QualifiesFreeProducts() bool {
	return c == CategoryPlainWash || c == CategoryCombined
}

func (c ServiceCategory) Valid() bool {
	switch c {
	case CategoryPlainWash, CategoryDry, CategoryRinse, CategoryCombined, CategoryOther:
		return true
	default:
		return false
	}
}

type ProductRole string

const (
	RoleNone      ProductRole = ""
	RoleSoftener  ProductRole = "softener"
	RoleDetergent ProductRole = "detergent"
)

type CatalogService struct {
	ID              string          `json:"id"`
	Name            string          `json:"nama_layanan"`
	Price           int64           `json:"harga"`
	DurationMinutes int             `json:"durasi_menit"`
	Category        ServiceCategory `json:"kategori"`
}

type CatalogProduct struct {
	ID       string      `json:"id_produk"`
	Name     string      `json:"nama_produk"`
	Price    int64       `json:"harga"`
	Unit     string      `json:"satuan"`
	Stock    int         `json:"stok_tersedia"`
	Category string      `json:"kategori_produk"`
	Role     ProductRole `json:"peran,omitempty"`
}

type MachineStatus struct {
	Type   string `json:"jenis_mesin"`
	Status string `json:"status_mesin"`
}

type MachineCount struct {
	Available int `json:"available"`
	Total     int `json:"total"`
}

type MachineAvailability struct {
	Washer MachineCount `json:"washer"`
	Dryer  MachineCount `json:"dryer"`
}

// FeatureFlags are process-wide switches for the automatic free-product rules.
type FeatureFlags struct {
	CuciFreeProducts bool `json:"enable_cuci_free_products"`
	CKLFreeProducts  bool `json:"enable_ckl_free_products"`
}

// ServiceLine is one selected catalog service. When Split is set the line
// carries a free/paid decomposition and FreeCount+PaidCount == Quantity.
type ServiceLine struct {
	ServiceID string          `json:"service_id"`
	Name      string          `json:"name"`
	Category  ServiceCategory `json:"category"`
	UnitPrice int64           `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Split     bool            `json:"split"`
	FreeCount int             `json:"free_count"`
	PaidCount int             `json:"paid_count"`
}

func (l ServiceLine) IsFree() bool {
	return l.Split && l.Quantity > 0 && l.FreeCount >= l.Quantity
}

func (l ServiceLine) MarshalJSON() ([]byte, error) {
	type alias ServiceLine
	return json.Marshal(struct {
		alias
		IsFree bool `json:"is_free"`
	}{alias: alias(l), IsFree: l.IsFree()})
}

type ProductLine struct {
	ProductID    string      `json:"product_id"`
	Name         string      `json:"name"`
	Role         ProductRole `json:"role,omitempty"`
	UnitPrice    int64       `json:"unit_price"`
	Quantity     int         `json:"quantity"`
	Stock        int         `json:"stock"`
	IsFree       bool        `json:"is_free"`
	FreeQuantity int         `json:"free_quantity"`
	PaidQuantity int         `json:"paid_quantity"`
	FreeReason   string      `json:"free_reason,omitempty"`
}

// TransactionServiceRow is the persisted one-row-per-pricing-tier shape.
type TransactionServiceRow struct {
	ServiceID    string `json:"id_layanan"`
	ServiceName  string `json:"nama_layanan,omitempty"`
	Quantity     int    `json:"quantity"`
	UnitPrice    int64  `json:"harga_satuan"`
	Subtotal     int64  `json:"subtotal"`
	IsFree       bool   `json:"is_free"`
	FreeQuantity int    `json:"free_quantity"`
}

type TransactionProductRow struct {
	ProductID    string `json:"id_produk"`
	ProductName  string `json:"nama_produk,omitempty"`
	Quantity     int    `json:"quantity"`
	UnitPrice    int64  `json:"harga_satuan"`
	Subtotal     int64  `json:"subtotal"`
	IsFree       bool   `json:"is_free"`
	FreeQuantity int    `json:"free_quantity"`
}

// TransactionRequest creates or updates a transaction. A nil PaymentMethod
// saves the transaction as a draft.
type TransactionRequest struct {
	CustomerID    string                  `json:"customer_id"`
	BranchID      string                  `json:"id_cabang"`
	ShiftID       string                  `json:"id_shift"`
	PaymentMethod *string                 `json:"metode_pembayaran"`
	Notes         string                  `json:"catatan"`
	Services      []TransactionServiceRow `json:"services"`
	Products      []TransactionProductRow `json:"products"`
}

type Transaction struct {
	ID            string                  `json:"id"`
	CustomerID    string                  `json:"customer_id"`
	BranchID      string                  `json:"id_cabang"`
	ShiftID       string                  `json:"id_shift,omitempty"`
	PaymentMethod *string                 `json:"metode_pembayaran"`
	Status        string                  `json:"status"`
	Notes         string                  `json:"catatan,omitempty"`
	Total         int64                   `json:"total_harga"`
	CreatedBy     string                  `json:"created_by,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
	Services      []TransactionServiceRow `json:"services"`
	Products      []TransactionProductRow `json:"products"`
}

type LoyaltyAchievement struct {
	NewFreeWashes       int    `json:"new_free_washes"`
	RemainingFreeWashes int    `json:"remaining_free_washes"`
	TotalCuci           int    `json:"total_cuci"`
	Message             string `json:"message"`
}

type TransactionResult struct {
	Transaction        Transaction         `json:"transaction"`
	LoyaltyAchievement *LoyaltyAchievement `json:"loyaltyAchievement,omitempty"`
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"nama"`
	Phone     string    `json:"no_telepon"`
	BranchID  string    `json:"id_cabang,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name     string `json:"nama"`
	Phone    string `json:"no_telepon"`
	BranchID string `json:"id_cabang"`
}

type LoyaltyState struct {
	RemainingFreeWashes int `json:"remaining_free_washes"`
	TotalCuci           int `json:"total_cuci"`
	NextFreeIn          int `json:"next_free_in"`
	ProgressToNextFree  int `json:"progress_to_next_free"`
}

type LoyaltyQuery struct {
	CustomerID string
	Phone      string
	BranchID   string
}

type LoyaltyFinancial struct {
	TotalSpent   int64 `json:"total_spent"`
	Transactions int   `json:"total_transactions"`
}

type LoyaltyHistoryEntry struct {
	TransactionID string    `json:"id_transaksi"`
	Date          time.Time `json:"tanggal"`
	WashCount     int       `json:"jumlah_cuci"`
	FreeWashes    int       `json:"cuci_gratis"`
	Total         int64     `json:"total"`
}

type LoyaltyResponse struct {
	Loyalty   LoyaltyState          `json:"loyalty"`
	Customer  Customer              `json:"customer"`
	Financial LoyaltyFinancial      `json:"financial"`
	History   []LoyaltyHistoryEntry `json:"history"`
}

type ClaimedService struct {
	ServiceID   string `json:"id_layanan"`
	ServiceName string `json:"nama_layanan,omitempty"`
	Quantity    int    `json:"quantity"`
	FreeCount   int    `json:"free_count"`
}

type LoyaltyClaimRequest struct {
	Phone         string           `json:"phone"`
	TransactionID string           `json:"transaction_id,omitempty"`
	ServicesUsed  []ClaimedService `json:"services_used"`
}

type LoyaltyClaimResponse struct {
	Loyalty  LoyaltyState `json:"loyalty"`
	Redeemed int          `json:"redeemed"`
}

// WashTotals is the per-customer aggregate the loyalty figures derive from.
type WashTotals struct {
	TotalCuci    int
	PaidCuci     int
	Redeemed     int
	TotalSpent   int64
	Transactions int
}

type LoyaltyRedemption struct {
	ID            string
	CustomerID    string
	TransactionID string
	Washes        int
	CreatedAt     time.Time
}

// FormOpenRequest opens a form. With TransactionID the form edits that
// transaction; CustomerID and rows, when the caller already holds them,
// seed the form without a detail fetch.
type FormOpenRequest struct {
	BranchID      string                  `json:"id_cabang"`
	ShiftID       string                  `json:"id_shift"`
	TransactionID string                  `json:"transaction_id,omitempty"`
	CustomerID    string                  `json:"customer_id,omitempty"`
	Services      []TransactionServiceRow `json:"services,omitempty"`
	Products      []TransactionProductRow `json:"products,omitempty"`
}

type FormActionRequest struct {
	Type       string `json:"type"`
	ServiceID  string `json:"service_id,omitempty"`
	ProductID  string `json:"product_id,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
	Quantity   int    `json:"quantity,omitempty"`
	Step       string `json:"step,omitempty"`
}

type FormSubmitRequest struct {
	PaymentMethod *string `json:"metode_pembayaran"`
	Notes         string  `json:"catatan"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type ReceiptResponse struct {
	TransactionID string   `json:"transaction_id"`
	Lines         []string `json:"lines"`
	EscposBase64  string   `json:"escpos_base64"`
	FileName      string   `json:"file_name"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	BranchID      string    `json:"id_cabang"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	TxStatusDraft = "draft"
	TxStatusPaid  = "paid"
)
