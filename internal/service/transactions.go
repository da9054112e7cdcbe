package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"washpoint/backend/internal/domain"
	"washpoint/backend/internal/ids"
	"washpoint/backend/internal/metrics"
	"washpoint/backend/internal/pricing"
	"washpoint/backend/internal/store"
)

// priced is a transaction request after server-side pricing.
type priced struct {
	services   []domain.TransactionServiceRow
	products   []domain.TransactionProductRow
	total      int64
	freeWashes int
}

func (s *Service) CreateTransaction(ctx context.Context, req domain.TransactionRequest) (domain.TransactionResult, error) {
	branchID := s.branch(req.BranchID)
	customer, err := s.transactionCustomer(ctx, req.CustomerID)
	if err != nil {
		return domain.TransactionResult{}, err
	}
	method, status, err := paymentStatus(req.PaymentMethod)
	if err != nil {
		return domain.TransactionResult{}, err
	}

	index, err := s.serviceIndex(ctx)
	if err != nil {
		return domain.TransactionResult{}, err
	}
	p, err := s.price(ctx, branchID, index, req)
	if err != nil {
		return domain.TransactionResult{}, err
	}

	before, err := s.customerTotals(ctx, customer.ID, index)
	if err != nil {
		return domain.TransactionResult{}, err
	}
	if remaining := s.loyaltyState(before).RemainingFreeWashes; p.freeWashes > remaining {
		return domain.TransactionResult{}, fmt.Errorf("%w: only %d free wash(es) available", store.ErrInvalidTransaction, remaining)
	}

	actor, _ := ActorFromContext(ctx)
	now := s.now()
	created, err := s.repo.CreateTransaction(ctx, domain.Transaction{
		ID:            ids.New("trx"),
		CustomerID:    customer.ID,
		BranchID:      branchID,
		ShiftID:       strings.TrimSpace(req.ShiftID),
		PaymentMethod: method,
		Status:        status,
		Notes:         strings.TrimSpace(req.Notes),
		Total:         p.total,
		CreatedBy:     defaultString(actor.Username, "system"),
		CreatedAt:     now,
		UpdatedAt:     now,
		Services:      p.services,
		Products:      p.products,
	})
	if err != nil {
		return domain.TransactionResult{}, err
	}

	recordSaved("create", created)
	s.logAudit(ctx, branchID, "transaction_create", "transaction", created.ID,
		fmt.Sprintf("total=%d,status=%s,free_washes=%d", created.Total, created.Status, p.freeWashes))

	result := domain.TransactionResult{Transaction: *created}
	if status == domain.TxStatusPaid {
		result.LoyaltyAchievement = s.achievement(ctx, customer, before, index, p.freeWashes)
	}
	return result, nil
}

// UpdateTransaction re-prices an existing transaction and rewrites the free
// washes redeemed against it to the free count of the new rows, so an edit
// both redeems extra washes and gives dropped ones back. A paid transaction
// saved without a payment method keeps the method it had.
func (s *Service) UpdateTransaction(ctx context.Context, id string, req domain.TransactionRequest) (domain.TransactionResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.TransactionResult{}, store.ErrInvalidTransaction
	}
	existing, err := s.repo.FindTransactionByID(ctx, id)
	if err != nil {
		return domain.TransactionResult{}, err
	}
	if req.BranchID != "" && req.BranchID != existing.BranchID {
		return domain.TransactionResult{}, fmt.Errorf("%w: branch cannot change", store.ErrInvalidTransaction)
	}

	customer, err := s.transactionCustomer(ctx, defaultString(req.CustomerID, existing.CustomerID))
	if err != nil {
		return domain.TransactionResult{}, err
	}
	if req.PaymentMethod == nil && existing.Status == domain.TxStatusPaid {
		req.PaymentMethod = existing.PaymentMethod
	}
	method, status, err := paymentStatus(req.PaymentMethod)
	if err != nil {
		return domain.TransactionResult{}, err
	}

	index, err := s.serviceIndex(ctx)
	if err != nil {
		return domain.TransactionResult{}, err
	}
	p, err := s.price(ctx, existing.BranchID, index, req)
	if err != nil {
		return domain.TransactionResult{}, err
	}

	// Washes already redeemed against this transaction count toward the
	// ceiling only while the customer stays the same.
	held := 0
	if customer.ID == existing.CustomerID {
		if held, err = s.repo.RedeemedForTransaction(ctx, customer.ID, existing.ID); err != nil {
			return domain.TransactionResult{}, err
		}
	}
	before, err := s.customerTotals(ctx, customer.ID, index)
	if err != nil {
		return domain.TransactionResult{}, err
	}
	ceiling := s.loyaltyState(before).RemainingFreeWashes + held
	if p.freeWashes > ceiling {
		return domain.TransactionResult{}, fmt.Errorf("%w: only %d free wash(es) available", store.ErrInvalidTransaction, ceiling)
	}

	tx := *existing
	tx.CustomerID = customer.ID
	tx.ShiftID = defaultString(strings.TrimSpace(req.ShiftID), existing.ShiftID)
	tx.PaymentMethod = method
	tx.Status = status
	tx.Notes = strings.TrimSpace(req.Notes)
	tx.Total = p.total
	tx.UpdatedAt = s.now()
	tx.Services = p.services
	tx.Products = p.products

	updated, err := s.repo.UpdateTransaction(ctx, tx, domain.LoyaltyRedemption{
		ID:            ids.New("red"),
		CustomerID:    customer.ID,
		TransactionID: tx.ID,
		Washes:        p.freeWashes,
		CreatedAt:     tx.UpdatedAt,
	})
	if err != nil {
		return domain.TransactionResult{}, err
	}
	switch delta := p.freeWashes - held; {
	case delta > 0:
		metrics.POS().FreeWashesRedeemed(delta)
	case delta < 0:
		log.Printf("[loyalty] released %d free wash(es) customer=%s transaction=%s", -delta, customer.ID, updated.ID)
	}

	recordSaved("update", updated)
	s.logAudit(ctx, updated.BranchID, "transaction_update", "transaction", updated.ID,
		fmt.Sprintf("total=%d,status=%s,free_washes=%d", updated.Total, updated.Status, p.freeWashes))

	result := domain.TransactionResult{Transaction: *updated}
	if status == domain.TxStatusPaid {
		result.LoyaltyAchievement = s.achievement(ctx, customer, before, index, 0)
	}
	return result, nil
}

func (s *Service) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Transaction{}, store.ErrInvalidTransaction
	}
	tx, err := s.repo.FindTransactionByID(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

// OpenDraftForCustomer returns the customer's unpaid draft, or
// store.ErrNotFound when there is none.
func (s *Service) OpenDraftForCustomer(ctx context.Context, customerID string) (domain.Transaction, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.Transaction{}, store.ErrInvalidTransaction
	}
	tx, err := s.repo.FindOpenDraft(ctx, customerID)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

func (s *Service) transactionCustomer(ctx context.Context, customerID string) (domain.Customer, error) {
	customer, err := s.GetCustomer(ctx, customerID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Customer{}, fmt.Errorf("%w: customer %s not found", store.ErrInvalidTransaction, customerID)
	}
	return customer, err
}

// price rebuilds the rows from the catalog. Client prices and subtotals are
// ignored. Free product units beyond what the selected services grant are
// charged.
func (s *Service) price(ctx context.Context, branchID string, index map[string]domain.CatalogService, req domain.TransactionRequest) (priced, error) {
	if len(req.Services) == 0 && len(req.Products) == 0 {
		return priced{}, fmt.Errorf("%w: at least one service or product is required", store.ErrInvalidTransaction)
	}

	serviceLines := make([]domain.ServiceLine, 0, len(req.Services))
	serviceAt := make(map[string]int, len(req.Services))
	for _, row := range req.Services {
		svc, ok := index[strings.TrimSpace(row.ServiceID)]
		if !ok {
			return priced{}, fmt.Errorf("%w: unknown service %s", store.ErrInvalidTransaction, row.ServiceID)
		}
		if row.Quantity < 1 {
			return priced{}, fmt.Errorf("%w: quantity of %s must be positive", store.ErrInvalidTransaction, svc.Name)
		}
		free := freeQuantity(row)
		if free > 0 && !svc.Category.Redeemable() {
			return priced{}, fmt.Errorf("%w: %s cannot be redeemed as a free wash", store.ErrInvalidTransaction, svc.Name)
		}

		i, seen := serviceAt[svc.ID]
		if !seen {
			i = len(serviceLines)
			serviceAt[svc.ID] = i
			serviceLines = append(serviceLines, domain.ServiceLine{
				ServiceID: svc.ID,
				Name:      svc.Name,
				Category:  svc.Category,
				UnitPrice: svc.Price,
				Split:     true,
			})
		}
		line := &serviceLines[i]
		line.Quantity += row.Quantity
		line.FreeCount += free
		line.PaidCount += row.Quantity - free
	}

	catalogProducts, err := s.ListProducts(ctx, branchID)
	if err != nil {
		return priced{}, err
	}
	byID := make(map[string]domain.CatalogProduct, len(catalogProducts))
	for _, product := range catalogProducts {
		byID[product.ID] = product
	}

	demand := pricing.FreeProductDemand(serviceLines, s.flags)
	grant := map[domain.ProductRole]int{
		domain.RoleSoftener:  demand.Softener,
		domain.RoleDetergent: demand.Detergent,
	}

	productLines := make([]domain.ProductLine, 0, len(req.Products))
	productAt := make(map[string]int, len(req.Products))
	for _, row := range req.Products {
		product, ok := byID[strings.TrimSpace(row.ProductID)]
		if !ok {
			return priced{}, fmt.Errorf("%w: product %s unavailable in branch %s", store.ErrInvalidTransaction, row.ProductID, branchID)
		}
		if row.Quantity < 1 {
			return priced{}, fmt.Errorf("%w: quantity of %s must be positive", store.ErrInvalidTransaction, product.Name)
		}
		free := 0
		if row.IsFree {
			free = min(max(row.FreeQuantity, 0), row.Quantity)
		}
		if granted := min(free, grant[product.Role]); granted < free {
			log.Printf("[service] WARN: charging %d ungranted free unit(s) of %s", free-granted, product.ID)
			free = granted
		}
		grant[product.Role] -= free

		i, seen := productAt[product.ID]
		if !seen {
			i = len(productLines)
			productAt[product.ID] = i
			productLines = append(productLines, domain.ProductLine{
				ProductID: product.ID,
				Name:      product.Name,
				Role:      product.Role,
				UnitPrice: product.Price,
				Stock:     product.Stock,
			})
		}
		line := &productLines[i]
		line.Quantity += row.Quantity
		line.FreeQuantity += free
		line.PaidQuantity = line.Quantity - line.FreeQuantity
		line.IsFree = line.FreeQuantity > 0
		if line.IsFree {
			line.FreeReason = demand.Reason(product.Role)
		}
	}

	return priced{
		services:   pricing.SerializeServiceLines(serviceLines),
		products:   pricing.SerializeProductLines(productLines),
		total:      pricing.CalculateTotal(serviceLines, productLines, pricing.Redemption{}),
		freeWashes: pricing.FreeWashesUsed(serviceLines),
	}, nil
}

// achievement reports the free washes a save unlocked. spent is the number
// of free washes this save consumes and has not yet been redeemed.
func (s *Service) achievement(ctx context.Context, customer domain.Customer, before domain.WashTotals, index map[string]domain.CatalogService, spent int) *domain.LoyaltyAchievement {
	after, err := s.customerTotals(ctx, customer.ID, index)
	if err != nil {
		log.Printf("[loyalty] WARN: failed to compute achievement customer=%s: %v", customer.ID, err)
		return nil
	}
	earned := after.PaidCuci/s.washesPerFree - before.PaidCuci/s.washesPerFree
	if earned <= 0 {
		return nil
	}

	state := s.loyaltyState(after)
	remaining := max(state.RemainingFreeWashes-spent, 0)
	return &domain.LoyaltyAchievement{
		NewFreeWashes:       earned,
		RemainingFreeWashes: remaining,
		TotalCuci:           state.TotalCuci,
		Message:             fmt.Sprintf("Selamat! %s mendapatkan %d cuci gratis", customer.Name, earned),
	}
}

func recordSaved(mode string, tx *domain.Transaction) {
	m := metrics.POS()
	m.TransactionSaved(mode, tx.Status)
	for _, row := range tx.Products {
		if row.IsFree {
			m.FreeProductsGranted(row.ProductID, row.FreeQuantity)
		}
	}
}

// paymentStatus maps a nullable payment method to the stored method and
// status. No method means a draft.
func paymentStatus(method *string) (*string, string, error) {
	if method == nil {
		return nil, domain.TxStatusDraft, nil
	}
	normalized := strings.ToLower(strings.TrimSpace(*method))
	if normalized == "" {
		return nil, domain.TxStatusDraft, nil
	}
	if !isSupportedPaymentMethod(normalized) {
		return nil, "", fmt.Errorf("%w: unsupported payment method %s", store.ErrInvalidTransaction, normalized)
	}
	return &normalized, domain.TxStatusPaid, nil
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case "cash", "transfer", "qris", "ewallet", "card":
		return true
	default:
		return false
	}
}
