package service

import (
	"context"
	"fmt"
	"log"
	"slices"
	"strings"

	"washpoint/backend/internal/catalog"
	"washpoint/backend/internal/domain"
	"washpoint/backend/internal/ids"
	"washpoint/backend/internal/logging"
	"washpoint/backend/internal/metrics"
	"washpoint/backend/internal/store"
)

const loyaltyHistoryLimit = 20

// Loyalty looks the customer up by id or phone and derives the free-wash
// balance from the paid transactions on record. The balance is chain wide;
// BranchID is accepted but does not filter.
func (s *Service) Loyalty(ctx context.Context, query domain.LoyaltyQuery) (domain.LoyaltyResponse, error) {
	customer, err := s.resolveCustomer(ctx, query.CustomerID, query.Phone)
	if err != nil {
		return domain.LoyaltyResponse{}, err
	}
	index, err := s.serviceIndex(ctx)
	if err != nil {
		return domain.LoyaltyResponse{}, err
	}

	txs, err := s.repo.ListCustomerTransactions(ctx, customer.ID, domain.TxStatusPaid)
	if err != nil {
		return domain.LoyaltyResponse{}, err
	}
	totals, history := s.washTotals(txs, index)
	if totals.Redeemed, err = s.repo.CountRedeemedWashes(ctx, customer.ID); err != nil {
		return domain.LoyaltyResponse{}, err
	}

	return domain.LoyaltyResponse{
		Loyalty:  s.loyaltyState(totals),
		Customer: customer,
		Financial: domain.LoyaltyFinancial{
			TotalSpent:   totals.TotalSpent,
			Transactions: totals.Transactions,
		},
		History: history,
	}, nil
}

// ClaimLoyalty spends free washes for the redeemable services used. The
// amount is clamped to the balance; claiming with nothing left fails.
func (s *Service) ClaimLoyalty(ctx context.Context, req domain.LoyaltyClaimRequest) (domain.LoyaltyClaimResponse, error) {
	customer, err := s.resolveCustomer(ctx, "", req.Phone)
	if err != nil {
		return domain.LoyaltyClaimResponse{}, err
	}
	index, err := s.serviceIndex(ctx)
	if err != nil {
		return domain.LoyaltyClaimResponse{}, err
	}

	requested := 0
	for _, used := range req.ServicesUsed {
		if categoryOf(index, used.ServiceID, used.ServiceName).Redeemable() {
			requested += max(used.FreeCount, 0)
		}
	}
	if requested == 0 {
		return domain.LoyaltyClaimResponse{}, fmt.Errorf("%w: no free wash to claim", store.ErrInvalidTransaction)
	}

	totals, err := s.customerTotals(ctx, customer.ID, index)
	if err != nil {
		return domain.LoyaltyClaimResponse{}, err
	}
	state := s.loyaltyState(totals)
	if state.RemainingFreeWashes == 0 {
		return domain.LoyaltyClaimResponse{}, fmt.Errorf("%w: no free wash balance", store.ErrInvalidTransaction)
	}

	redeemed := min(requested, state.RemainingFreeWashes)
	redemption := domain.LoyaltyRedemption{
		ID:            ids.New("red"),
		CustomerID:    customer.ID,
		TransactionID: strings.TrimSpace(req.TransactionID),
		Washes:        redeemed,
		CreatedAt:     s.now(),
	}
	if err := s.repo.CreateLoyaltyRedemption(ctx, redemption); err != nil {
		return domain.LoyaltyClaimResponse{}, err
	}
	metrics.POS().FreeWashesRedeemed(redeemed)
	if redeemed < requested {
		log.Printf("[loyalty] WARN: claim clamped customer=%s phone=%s requested=%d redeemed=%d",
			customer.ID, logging.MaskPhone(customer.Phone), requested, redeemed)
	}

	s.logAudit(ctx, customer.BranchID, "loyalty_claim", "customer", customer.ID,
		fmt.Sprintf("washes=%d,transaction=%s", redeemed, redemption.TransactionID))

	totals.Redeemed += redeemed
	return domain.LoyaltyClaimResponse{
		Loyalty:  s.loyaltyState(totals),
		Redeemed: redeemed,
	}, nil
}

func (s *Service) resolveCustomer(ctx context.Context, customerID string, phone string) (domain.Customer, error) {
	if customerID = strings.TrimSpace(customerID); customerID != "" {
		return s.GetCustomer(ctx, customerID)
	}
	if strings.TrimSpace(phone) == "" {
		return domain.Customer{}, fmt.Errorf("%w: customer_id or phone is required", store.ErrInvalidTransaction)
	}
	return s.FindCustomerByPhone(ctx, phone)
}

func (s *Service) customerTotals(ctx context.Context, customerID string, index map[string]domain.CatalogService) (domain.WashTotals, error) {
	txs, err := s.repo.ListCustomerTransactions(ctx, customerID, domain.TxStatusPaid)
	if err != nil {
		return domain.WashTotals{}, err
	}
	totals, _ := s.washTotals(txs, index)
	totals.Redeemed, err = s.repo.CountRedeemedWashes(ctx, customerID)
	if err != nil {
		return domain.WashTotals{}, err
	}
	return totals, nil
}

// washTotals aggregates plain wash counts over paid transactions. History is
// newest first.
func (s *Service) washTotals(txs []domain.Transaction, index map[string]domain.CatalogService) (domain.WashTotals, []domain.LoyaltyHistoryEntry) {
	var totals domain.WashTotals
	history := make([]domain.LoyaltyHistoryEntry, 0, len(txs))
	for _, tx := range txs {
		washes, free := washCounts(tx.Services, index)
		totals.TotalCuci += washes
		totals.PaidCuci += washes - free
		totals.TotalSpent += tx.Total
		totals.Transactions++
		history = append(history, domain.LoyaltyHistoryEntry{
			TransactionID: tx.ID,
			Date:          tx.CreatedAt,
			WashCount:     washes,
			FreeWashes:    free,
			Total:         tx.Total,
		})
	}
	slices.Reverse(history)
	if len(history) > loyaltyHistoryLimit {
		history = history[:loyaltyHistoryLimit]
	}
	return totals, history
}

func (s *Service) loyaltyState(totals domain.WashTotals) domain.LoyaltyState {
	earned := totals.PaidCuci / s.washesPerFree
	progress := totals.PaidCuci % s.washesPerFree
	return domain.LoyaltyState{
		RemainingFreeWashes: max(earned-totals.Redeemed, 0),
		TotalCuci:           totals.TotalCuci,
		NextFreeIn:          s.washesPerFree - progress,
		ProgressToNextFree:  progress,
	}
}

// washCounts returns the plain wash quantity of the rows and how much of it
// was free.
func washCounts(rows []domain.TransactionServiceRow, index map[string]domain.CatalogService) (washes int, free int) {
	for _, row := range rows {
		if row.Quantity <= 0 || !categoryOf(index, row.ServiceID, row.ServiceName).Redeemable() {
			continue
		}
		washes += row.Quantity
		if row.IsFree {
			free += freeQuantity(row)
		}
	}
	return washes, free
}

func freeQuantity(row domain.TransactionServiceRow) int {
	if !row.IsFree {
		return 0
	}
	if row.FreeQuantity > 0 {
		return min(row.FreeQuantity, row.Quantity)
	}
	return row.Quantity
}

func categoryOf(index map[string]domain.CatalogService, serviceID string, name string) domain.ServiceCategory {
	if svc, ok := index[serviceID]; ok {
		return svc.Category
	}
	return catalog.ClassifyService(domain.CatalogService{Name: name})
}
