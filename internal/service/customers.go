package service

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"washpoint/backend/internal/domain"
	"washpoint/backend/internal/ids"
	"washpoint/backend/internal/store"
)

var ErrInvalidPhone = fmt.Errorf("%w: phone must look like 08xx, 628xx or +628xx with 10-15 digits", store.ErrInvalidTransaction)

// NormalizePhone converts an Indonesian mobile number to its 08… form.
// Spaces, dashes and dots are ignored.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r == ' ' || r == '-' || r == '.':
			continue
		case r == '+' && i == 0:
			b.WriteRune(r)
		case unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			return "", ErrInvalidPhone
		}
	}

	phone := b.String()
	switch {
	case strings.HasPrefix(phone, "+628"):
		phone = "0" + phone[3:]
	case strings.HasPrefix(phone, "628"):
		phone = "0" + phone[2:]
	case strings.HasPrefix(phone, "08"):
	default:
		return "", ErrInvalidPhone
	}
	if len(phone) < 10 || len(phone) > 15 {
		return "", ErrInvalidPhone
	}
	return phone, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Customer{}, fmt.Errorf("%w: nama is required", store.ErrInvalidTransaction)
	}
	phone, err := NormalizePhone(req.Phone)
	if err != nil {
		return domain.Customer{}, err
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ID:        ids.New("cust"),
		Name:      name,
		Phone:     phone,
		BranchID:  s.branch(req.BranchID),
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, created.BranchID, "customer_create", "customer", created.ID, fmt.Sprintf("name=%s", created.Name))
	return *created, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Customer{}, store.ErrInvalidTransaction
	}
	customer, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) FindCustomerByPhone(ctx context.Context, raw string) (domain.Customer, error) {
	phone, err := NormalizePhone(raw)
	if err != nil {
		return domain.Customer{}, err
	}
	customer, err := s.repo.FindCustomerByPhone(ctx, phone)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}
