package form

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"washpoint/backend/internal/catalog"
	"washpoint/backend/internal/domain"
	"washpoint/backend/internal/logging"
	"washpoint/backend/internal/metrics"
	"washpoint/backend/internal/money"
	"washpoint/backend/internal/pricing"
	"washpoint/backend/internal/store"
)

const DefaultConflictClearAfter = 5 * time.Second

type Step string

const (
	StepCustomer Step = "customer"
	StepServices Step = "services"
	StepProducts Step = "products"
	StepReview   Step = "review"
)

var stepOrder = []Step{StepCustomer, StepServices, StepProducts, StepReview}

func (s Step) index() int {
	return slices.Index(stepOrder, s)
}

type CatalogLoader interface {
	Load(ctx context.Context, branchID string) (catalog.Snapshot, error)
	Refresh(ctx context.Context, branchID string) (domain.MachineAvailability, error)
}

type LoyaltySource interface {
	Loyalty(ctx context.Context, query domain.LoyaltyQuery) (domain.LoyaltyResponse, error)
}

type LoyaltyClaimer interface {
	ClaimLoyalty(ctx context.Context, req domain.LoyaltyClaimRequest) (domain.LoyaltyClaimResponse, error)
}

type CustomerDirectory interface {
	GetCustomer(ctx context.Context, id string) (domain.Customer, error)
}

type TransactionWriter interface {
	CreateTransaction(ctx context.Context, req domain.TransactionRequest) (domain.TransactionResult, error)
	UpdateTransaction(ctx context.Context, id string, req domain.TransactionRequest) (domain.TransactionResult, error)
	GetTransaction(ctx context.Context, id string) (domain.Transaction, error)
	OpenDraftForCustomer(ctx context.Context, customerID string) (domain.Transaction, error)
}

type Deps struct {
	Catalog            CatalogLoader
	Loyalty            LoyaltySource
	Claims             LoyaltyClaimer
	Customers          CustomerDirectory
	Transactions       TransactionWriter
	Flags              domain.FeatureFlags
	ConflictClearAfter time.Duration
}

type Offer struct {
	Visible   bool `json:"visible"`
	Available int  `json:"remaining_free_washes"`
}

// View is the resolved state a client renders after every action.
type View struct {
	ID                string                     `json:"id"`
	Mode              string                     `json:"mode"`
	TransactionID     string                     `json:"transaction_id,omitempty"`
	BranchID          string                     `json:"id_cabang"`
	Step              Step                       `json:"step"`
	Customer          *domain.Customer           `json:"customer,omitempty"`
	Loyalty           *domain.LoyaltyState       `json:"loyalty,omitempty"`
	Offer             Offer                      `json:"offer"`
	RedemptionApplied bool                       `json:"redemption_applied"`
	Services          []domain.ServiceLine       `json:"services"`
	Products          []domain.ProductLine       `json:"products"`
	Total             int64                      `json:"total"`
	TotalDisplay      string                     `json:"total_display"`
	Machines          domain.MachineAvailability `json:"machines"`
	Warnings          []string                   `json:"warnings,omitempty"`
	Busy              bool                       `json:"busy"`
	Submitted         bool                       `json:"submitted"`
}

type Result struct {
	Transaction        domain.Transaction           `json:"transaction"`
	LoyaltyAchievement *domain.LoyaltyAchievement   `json:"loyaltyAchievement,omitempty"`
	Claim              *domain.LoyaltyClaimResponse `json:"claim,omitempty"`
	ClaimError         string                       `json:"claim_error,omitempty"`
	Notices            []string                     `json:"notices"`
}

// Controller holds the state of one open transaction form. Every mutating
// action re-runs free-product reconciliation (once the product step is
// showing) and recomputes the total.
type Controller struct {
	id   string
	deps Deps

	loading atomic.Bool

	mu        sync.Mutex
	loaded    bool
	busy      bool
	submitted bool
	branchID  string
	shiftID   string
	snapshot  catalog.Snapshot
	step      Step
	customer  *domain.Customer
	loyalty   *domain.LoyaltyState
	services  []domain.ServiceLine
	products  []domain.ProductLine
	total     int64
	warnings  []string

	redemptionActive bool
	offerDismissed   bool

	editID             string
	originalCustomerID string
	originalFree       int
	heldStock          map[string]int
}

func New(id string, deps Deps) *Controller {
	if deps.ConflictClearAfter <= 0 {
		deps.ConflictClearAfter = DefaultConflictClearAfter
	}
	return &Controller{
		id:        id,
		deps:      deps,
		step:      StepCustomer,
		heldStock: map[string]int{},
	}
}

func (c *Controller) ID() string {
	return c.id
}

// Load fetches the catalog for the branch. A second Load while one is in
// flight fails with ErrLoadInProgress.
func (c *Controller) Load(ctx context.Context, branchID string, shiftID string) error {
	if !c.loading.CompareAndSwap(false, true) {
		return ErrLoadInProgress
	}
	defer c.loading.Store(false)

	snapshot, err := c.deps.Catalog.Load(ctx, branchID)
	if err != nil {
		return &CollaboratorError{Op: "load catalog", Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = snapshot
	c.branchID = branchID
	c.shiftID = strings.TrimSpace(shiftID)
	c.loaded = true
	c.recompute(false)
	return nil
}

// OpenForEdit rebuilds the form from a saved transaction. Rows are fetched
// when seed carries none. An unknown transaction leaves the form untouched
// and returns store.ErrNotFound; any other fetch failure keeps only the seed
// customer and returns a CollaboratorError alongside a usable controller.
func (c *Controller) OpenForEdit(ctx context.Context, seed domain.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(); err != nil {
		return err
	}

	tx := seed
	var fetchErr error
	if len(seed.Services) == 0 && len(seed.Products) == 0 {
		full, err := c.deps.Transactions.GetTransaction(ctx, seed.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("transaction %s: %w", seed.ID, err)
		case err != nil:
			fetchErr = &CollaboratorError{Op: "load transaction", Err: err}
			c.warnings = append(c.warnings, "Detail transaksi gagal dimuat; hanya pelanggan yang terisi")
		default:
			tx = full
		}
	}

	c.editID = tx.ID
	c.originalCustomerID = tx.CustomerID
	if tx.CustomerID != "" {
		c.setCustomer(ctx, tx.CustomerID)
	}
	if fetchErr != nil {
		c.step = StepCustomer
		c.recompute(false)
		return fetchErr
	}

	c.services = pricing.ConsolidateServiceRows(tx.Services, catalog.ServiceIndex(c.snapshot.Services))
	c.products = pricing.ConsolidateProductRows(tx.Products, c.snapshot.Products)
	c.originalFree = pricing.FreeWashesUsed(c.services)
	c.redemptionActive = c.originalFree > 0
	for _, row := range tx.Products {
		c.heldStock[row.ProductID] += row.Quantity
	}
	c.step = StepServices
	c.recompute(false)
	return nil
}

// SelectCustomer sets the customer and fetches the loyalty balance. A
// customer with an unpaid draft is refused with a ConflictError.
func (c *Controller) SelectCustomer(ctx context.Context, customerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(); err != nil {
		return err
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return invalid("customer", "pilih pelanggan terlebih dahulu")
	}

	customer, err := c.deps.Customers.GetCustomer(ctx, customerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return invalid("customer", "pelanggan %s tidak ditemukan", customerID)
		}
		return &CollaboratorError{Op: "load customer", Err: err}
	}

	draft, err := c.deps.Transactions.OpenDraftForCustomer(ctx, customer.ID)
	switch {
	case err == nil && draft.ID != c.editID:
		return &ConflictError{
			Message:       fmt.Sprintf("%s masih memiliki transaksi draft %s yang belum dibayar", customer.Name, draft.ID),
			TransactionID: draft.ID,
			ClearAfter:    c.deps.ConflictClearAfter,
		}
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return &CollaboratorError{Op: "check draft", Err: err}
	}

	changed := c.customer == nil || c.customer.ID != customer.ID
	c.customer = &customer
	if changed {
		c.services = pricing.ClearRedemption(c.services)
		c.redemptionActive = false
		c.offerDismissed = false
	}
	c.fetchLoyalty(ctx)
	if c.step == StepCustomer {
		c.step = StepServices
	}
	c.recompute(false)
	return nil
}

func (c *Controller) setCustomer(ctx context.Context, customerID string) {
	customer, err := c.deps.Customers.GetCustomer(ctx, customerID)
	if err != nil {
		slog.WarnContext(ctx, "form customer lookup failed", "form", c.id, "customer", customerID, "error", err)
		c.customer = &domain.Customer{ID: customerID}
		return
	}
	c.customer = &customer
	c.fetchLoyalty(ctx)
}

// fetchLoyalty degrades to "no offer" when the lookup fails.
func (c *Controller) fetchLoyalty(ctx context.Context) {
	c.loyalty = nil
	resp, err := c.deps.Loyalty.Loyalty(ctx, domain.LoyaltyQuery{CustomerID: c.customer.ID, BranchID: c.branchID})
	if err != nil {
		slog.WarnContext(ctx, "loyalty lookup failed", "form", c.id, "customer", c.customer.ID, "error", err)
		c.warnings = append(c.warnings, "Data loyalitas tidak tersedia")
		return
	}
	state := resp.Loyalty
	c.loyalty = &state
}

// ToggleService adds the service at quantity 1, or removes it when it is
// already selected.
func (c *Controller) ToggleService(serviceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(); err != nil {
		return err
	}

	if i := c.serviceAt(serviceID); i >= 0 {
		c.services = slices.Delete(c.services, i, i+1)
		c.recompute(false)
		return nil
	}

	svc, ok := c.snapshot.ServiceByID(serviceID)
	if !ok {
		return invalid("services", "layanan %s tidak dikenal", serviceID)
	}
	added := domain.ServiceLine{
		ServiceID: svc.ID,
		Name:      svc.Name,
		Category:  svc.Category,
		UnitPrice: svc.Price,
		Quantity:  1,
	}
	if err := c.checkMachines(append(slices.Clone(c.services), added)); err != nil {
		return err
	}
	c.services = append(c.services, added)
	if c.redemptionActive && svc.Category.Redeemable() {
		c.services = pricing.Resplit(c.services, len(c.services)-1, c.ceiling())
	}
	c.recompute(false)
	return nil
}

// SetServiceQuantity changes a selected line. Zero removes it. Only
// increases are checked against free machines.
func (c *Controller) SetServiceQuantity(serviceID string, quantity int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(); err != nil {
		return err
	}

	i := c.serviceAt(serviceID)
	if i < 0 {
		return invalid("services", "layanan %s belum dipilih", serviceID)
	}
	if quantity <= 0 {
		c.services = slices.Delete(c.services, i, i+1)
		c.recompute(false)
		return nil
	}

	line := c.services[i]
	if quantity > line.Quantity {
		proposed := slices.Clone(c.services)
		proposed[i].Quantity = quantity
		if err := c.checkMachines(proposed); err != nil {
			return err
		}
	}
	if line.UnitPrice == 0 {
		if svc, ok := c.snapshot.ServiceByID(line.ServiceID); ok {
			line.UnitPrice = svc.Price
		}
	}
	line.Quantity = quantity

	switch {
	case line.Category.Redeemable() && c.redemptionActive:
		c.services[i] = line
		c.services = pricing.Resplit(c.services, i, c.ceiling())
	case line.Split:
		line.FreeCount = min(line.FreeCount, quantity)
		line.PaidCount = quantity - line.FreeCount
		c.services[i] = line
	default:
		c.services[i] = line
	}
	c.recompute(false)
	return nil
}

// ApplyFreeWash spends the loyalty balance on the selected plain washes,
// adding one at quantity 1 when none is selected.
func (c *Controller) ApplyFreeWash() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(); err != nil {
		return err
	}
	ceiling := c.ceiling()
	if ceiling <= 0 {
		return invalid("loyalty", "pelanggan tidak memiliki cuci gratis")
	}

	if !slices.ContainsFunc(c.services, func(l domain.ServiceLine) bool { return l.Category.Redeemable() }) {
		svc, ok := c.firstRedeemableService()
		if !ok {
			return invalid("services", "tidak ada layanan cuci di katalog")
		}
		added := domain.ServiceLine{
			ServiceID: svc.ID,
			Name:      svc.Name,
			Category:  svc.Category,
			UnitPrice: svc.Price,
			Quantity:  1,
		}
		if err := c.checkMachines(append(slices.Clone(c.services), added)); err != nil {
			return err
		}
		c.services = append(c.services, added)
	}

	c.services = pricing.ApplyRedemption(c.services, ceiling)
	c.redemptionActive = true
	c.recompute(false)
	return nil
}

// CancelFreeWash collapses every split wash line back to a plain quantity.
// The offer shows again if balance remains.
func (c *Controller) CancelFreeWash() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(); err != nil {
		return err
	}
	c.services = pricing.ClearRedemption(c.services)
	c.redemptionActive = false
	c.offerDismissed = false
	c.recompute(false)
	return nil
}

func (c *Controller) DismissOffer() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(); err != nil {
		return err
	}
	c.offerDismissed = true
	return nil
}

// SetProductQuantity sets the total quantity of a product line. A free
// line cannot drop below its free quantity.
func (c *Controller) SetProductQuantity(productID string, quantity int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(); err != nil {
		return err
	}

	product, ok := c.snapshot.ProductByID(productID)
	if !ok {
		return invalid("products", "produk %s tidak tersedia", productID)
	}
	if quantity < 0 {
		return invalid("products", "jumlah tidak boleh negatif")
	}
	if limit := product.Stock + c.heldStock[product.ID]; quantity > limit {
		return &ValidationError{Field: "products", Message: fmt.Sprintf("stok %s hanya %d", product.Name, limit), Err: store.ErrInsufficientStock}
	}

	i := c.productAt(productID)
	if i < 0 {
		if quantity == 0 {
			return nil
		}
		c.products = append(c.products, domain.ProductLine{
			ProductID:    product.ID,
			Name:         product.Name,
			Role:         product.Role,
			UnitPrice:    product.Price,
			Quantity:     quantity,
			Stock:        product.Stock,
			PaidQuantity: quantity,
		})
		c.recompute(false)
		return nil
	}

	line := c.products[i]
	free := 0
	if line.IsFree {
		free = line.FreeQuantity
	}
	if quantity < free {
		return invalid("products", "%s memiliki %d unit gratis", line.Name, free)
	}
	if quantity == 0 {
		c.products = slices.Delete(c.products, i, i+1)
	} else {
		line.Quantity = quantity
		line.PaidQuantity = quantity - free
		c.products[i] = line
	}
	c.recompute(false)
	return nil
}

// RemoveProduct drops a paid line, or the paid part of a free line.
func (c *Controller) RemoveProduct(productID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(); err != nil {
		return err
	}

	i := c.productAt(productID)
	if i < 0 {
		return nil
	}
	line := c.products[i]
	if line.IsFree && line.FreeQuantity > 0 {
		if line.PaidQuantity == 0 {
			return invalid("products", "%s gratis diatur otomatis oleh layanan", line.Name)
		}
		line.Quantity = line.FreeQuantity
		line.PaidQuantity = 0
		c.products[i] = line
	} else {
		c.products = slices.Delete(c.products, i, i+1)
	}
	c.recompute(false)
	return nil
}

// GoTo moves between steps. Moving forward checks what the skipped steps
// require; moving back is always allowed.
func (c *Controller) GoTo(step Step) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(); err != nil {
		return err
	}
	target := step.index()
	if target < 0 {
		return invalid("step", "langkah %s tidak dikenal", step)
	}
	if target > StepCustomer.index() && c.customer == nil {
		return invalid("customer", "pilih pelanggan terlebih dahulu")
	}
	if target > StepServices.index() && len(c.services) == 0 && len(c.products) == 0 {
		return invalid("services", "pilih minimal satu layanan atau produk")
	}
	c.step = step
	c.recompute(false)
	return nil
}

// RefreshMachines re-reads machine statuses bypassing the cache.
func (c *Controller) RefreshMachines(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(); err != nil {
		return err
	}
	availability, err := c.deps.Catalog.Refresh(ctx, c.branchID)
	if err != nil {
		return &CollaboratorError{Op: "refresh machines", Err: err}
	}
	c.snapshot.Machines = availability
	return nil
}

// Apply dispatches a client action by name.
func (c *Controller) Apply(ctx context.Context, action domain.FormActionRequest) error {
	switch action.Type {
	case "select_customer":
		return c.SelectCustomer(ctx, action.CustomerID)
	case "toggle_service":
		return c.ToggleService(action.ServiceID)
	case "set_service_quantity":
		return c.SetServiceQuantity(action.ServiceID, action.Quantity)
	case "apply_free_wash":
		return c.ApplyFreeWash()
	case "cancel_free_wash":
		return c.CancelFreeWash()
	case "dismiss_offer":
		return c.DismissOffer()
	case "set_product_quantity":
		return c.SetProductQuantity(action.ProductID, action.Quantity)
	case "remove_product":
		return c.RemoveProduct(action.ProductID)
	case "go_to":
		return c.GoTo(Step(action.Step))
	case "refresh_machines":
		return c.RefreshMachines(ctx)
	default:
		return invalid("type", "aksi %q tidak dikenal", action.Type)
	}
}

// Submit saves the form. A brand-new transaction that spent free washes
// for a customer with a phone also claims them; a failed claim is logged
// and reported on the result but never undoes the save.
func (c *Controller) Submit(ctx context.Context, req domain.FormSubmitRequest) (Result, error) {
	c.mu.Lock()
	if err := c.ready(); err != nil {
		c.mu.Unlock()
		return Result{}, err
	}
	if err := c.validateSubmit(); err != nil {
		c.mu.Unlock()
		return Result{}, err
	}
	c.recompute(true)

	txReq := domain.TransactionRequest{
		CustomerID:    c.customer.ID,
		BranchID:      c.branchID,
		ShiftID:       c.shiftID,
		PaymentMethod: req.PaymentMethod,
		Notes:         req.Notes,
		Services:      pricing.SerializeServiceLines(c.services),
		Products:      pricing.SerializeProductLines(c.products),
	}
	editID := c.editID
	claim := editID == "" && pricing.RedemptionApplied(c.services) && c.customer.Phone != ""
	phone := c.customer.Phone
	used := claimedServices(c.services)
	c.busy = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
	}()

	var (
		saved domain.TransactionResult
		err   error
	)
	if editID == "" {
		saved, err = c.deps.Transactions.CreateTransaction(ctx, txReq)
	} else {
		saved, err = c.deps.Transactions.UpdateTransaction(ctx, editID, txReq)
	}
	if err != nil {
		return Result{}, submitError(err)
	}

	result := Result{
		Transaction:        saved.Transaction,
		LoyaltyAchievement: saved.LoyaltyAchievement,
	}
	if claim {
		resp, err := c.deps.Claims.ClaimLoyalty(ctx, domain.LoyaltyClaimRequest{
			Phone:         phone,
			TransactionID: saved.Transaction.ID,
			ServicesUsed:  used,
		})
		if err != nil {
			slog.WarnContext(ctx, "loyalty claim failed after save",
				"form", c.id, "transaction", saved.Transaction.ID, logging.PhoneAttr(phone), "error", err)
			metrics.POS().ClaimFailed()
			result.ClaimError = err.Error()
		} else {
			result.Claim = &resp
		}
	}

	if result.LoyaltyAchievement != nil && result.LoyaltyAchievement.Message != "" {
		result.Notices = append(result.Notices, result.LoyaltyAchievement.Message)
	}
	result.Notices = append(result.Notices, "Transaksi berhasil disimpan")

	c.mu.Lock()
	c.submitted = true
	c.mu.Unlock()
	return result, nil
}

func (c *Controller) validateSubmit() error {
	if c.customer == nil {
		return invalid("customer", "pilih pelanggan terlebih dahulu")
	}
	if len(c.services) == 0 && len(c.products) == 0 {
		return invalid("services", "pilih minimal satu layanan atau produk")
	}
	products := pricing.ReconcileFreeProducts(c.services, c.products, c.deps.Flags, c.snapshot.Products)
	for _, line := range products {
		stock := line.Stock
		if product, ok := c.snapshot.ProductByID(line.ProductID); ok {
			stock = product.Stock
		}
		if limit := stock + c.heldStock[line.ProductID]; line.Quantity > limit {
			return &ValidationError{Field: "products", Message: fmt.Sprintf("stok %s hanya %d", line.Name, limit), Err: store.ErrInsufficientStock}
		}
	}
	return nil
}

func submitError(err error) error {
	switch {
	case errors.Is(err, store.ErrInsufficientStock):
		return &ValidationError{Field: "products", Message: "stok tidak mencukupi", Err: err}
	case errors.Is(err, store.ErrInvalidTransaction):
		return &ValidationError{Field: "transaction", Message: err.Error(), Err: err}
	default:
		return &CollaboratorError{Op: "save transaction", Err: err}
	}
}

// View returns a copy of the current state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	view := View{
		ID:                c.id,
		Mode:              "create",
		TransactionID:     c.editID,
		BranchID:          c.branchID,
		Step:              c.step,
		Offer:             Offer{Visible: c.offerVisible(), Available: c.ceiling()},
		RedemptionApplied: c.redemptionActive && pricing.RedemptionApplied(c.services),
		Services:          slices.Clone(c.services),
		Products:          slices.Clone(c.products),
		Total:             c.total,
		TotalDisplay:      money.FormatRupiah(c.total),
		Machines:          c.snapshot.Machines,
		Warnings:          slices.Clone(c.warnings),
		Busy:              c.busy,
		Submitted:         c.submitted,
	}
	if c.editID != "" {
		view.Mode = "edit"
	}
	if c.customer != nil {
		customer := *c.customer
		view.Customer = &customer
	}
	if c.loyalty != nil {
		loyalty := *c.loyalty
		view.Loyalty = &loyalty
	}
	if view.Services == nil {
		view.Services = []domain.ServiceLine{}
	}
	if view.Products == nil {
		view.Products = []domain.ProductLine{}
	}
	return view
}

func (c *Controller) ready() error {
	switch {
	case c.busy:
		return ErrBusy
	case c.submitted:
		return ErrSubmitted
	case !c.loaded:
		return ErrNotLoaded
	}
	return nil
}

// ceiling is the free-wash budget of this form. In edit mode the washes the
// saved transaction already consumed are added back.
func (c *Controller) ceiling() int {
	if c.loyalty == nil {
		return 0
	}
	ceiling := c.loyalty.RemainingFreeWashes
	if c.customer != nil && c.customer.ID == c.originalCustomerID {
		ceiling += c.originalFree
	}
	return max(ceiling, 0)
}

func (c *Controller) offerVisible() bool {
	hasWash := slices.ContainsFunc(c.services, func(l domain.ServiceLine) bool { return l.Category.Redeemable() })
	return hasWash &&
		c.ceiling() > 0 &&
		!c.redemptionActive &&
		!pricing.RedemptionApplied(c.services) &&
		!c.offerDismissed
}

func (c *Controller) recompute(force bool) {
	if c.redemptionActive && !pricing.RedemptionApplied(c.services) {
		c.services = pricing.ClearRedemption(c.services)
		c.redemptionActive = false
	}
	if force || c.step.index() >= StepProducts.index() {
		c.products = pricing.ReconcileFreeProducts(c.services, c.products, c.deps.Flags, c.snapshot.Products)
	}
	c.total = pricing.CalculateTotal(c.services, c.products, pricing.Redemption{
		Active:    c.redemptionActive,
		Remaining: c.ceiling(),
	})
}

// checkMachines gates a proposed service selection on the washers and dryers
// it needs across every line.
func (c *Controller) checkMachines(proposed []domain.ServiceLine) error {
	if err := pricing.CheckMachineCapacity(proposed, c.snapshot.Machines); err != nil {
		return &ValidationError{Field: "services", Message: err.Error(), Err: err}
	}
	return nil
}

func (c *Controller) firstRedeemableService() (domain.CatalogService, bool) {
	for _, svc := range c.snapshot.Services {
		if svc.Category.Redeemable() {
			return svc, true
		}
	}
	return domain.CatalogService{}, false
}

func (c *Controller) serviceAt(serviceID string) int {
	return slices.IndexFunc(c.services, func(l domain.ServiceLine) bool { return l.ServiceID == serviceID })
}

func (c *Controller) productAt(productID string) int {
	return slices.IndexFunc(c.products, func(l domain.ProductLine) bool { return l.ProductID == productID })
}

func claimedServices(lines []domain.ServiceLine) []domain.ClaimedService {
	used := make([]domain.ClaimedService, 0, len(lines))
	for _, line := range lines {
		if !line.Category.Redeemable() || !line.Split || line.FreeCount <= 0 {
			continue
		}
		used = append(used, domain.ClaimedService{
			ServiceID:   line.ServiceID,
			ServiceName: line.Name,
			Quantity:    line.Quantity,
			FreeCount:   line.FreeCount,
		})
	}
	return used
}
