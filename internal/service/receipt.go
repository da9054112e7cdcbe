package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strings"
	"time"

	"washpoint/backend/internal/domain"
	"washpoint/backend/internal/money"
)

const receiptRule = "================================"

// BuildReceipt formats the transaction for the thermal printer. Free rows
// print GRATIS instead of an amount.
func (s *Service) BuildReceipt(ctx context.Context, id string) (domain.ReceiptResponse, error) {
	tx, err := s.GetTransaction(ctx, id)
	if err != nil {
		return domain.ReceiptResponse{}, err
	}

	customerName := tx.CustomerID
	if customer, err := s.repo.GetCustomer(ctx, tx.CustomerID); err == nil {
		customerName = customer.Name
	} else {
		log.Printf("[service] WARN: receipt without customer name tx=%s: %v", tx.ID, err)
	}

	lines := []string{
		"WashPoint Laundry",
		receiptRule,
		"No       : " + tx.ID,
		"Cabang   : " + tx.BranchID,
		"Tanggal  : " + money.FormatDateTime(tx.CreatedAt),
		"Pelanggan: " + customerName,
	}
	if ready, ok := s.readyAt(ctx, tx); ok {
		lines = append(lines, "Ambil    : "+money.FormatDate(ready))
	}
	lines = append(lines, strings.Repeat("-", len(receiptRule)))
	for _, row := range tx.Services {
		lines = append(lines, fmt.Sprintf("%s x%d", defaultString(row.ServiceName, row.ServiceID), row.Quantity))
		if row.IsFree {
			lines = append(lines, "  GRATIS")
			continue
		}
		lines = append(lines, fmt.Sprintf("  %s @ %s", money.FormatRupiah(row.Subtotal), money.FormatRupiah(row.UnitPrice)))
	}
	for _, row := range tx.Products {
		lines = append(lines, fmt.Sprintf("%s x%d", defaultString(row.ProductName, row.ProductID), row.Quantity))
		switch {
		case row.IsFree && row.FreeQuantity >= row.Quantity:
			lines = append(lines, "  GRATIS")
		case row.IsFree:
			lines = append(lines, fmt.Sprintf("  %s (%d GRATIS)", money.FormatRupiah(row.Subtotal), row.FreeQuantity))
		default:
			lines = append(lines, "  "+money.FormatRupiah(row.Subtotal))
		}
	}

	payment := "BELUM DIBAYAR"
	if tx.PaymentMethod != nil {
		payment = strings.ToUpper(*tx.PaymentMethod)
	}
	lines = append(lines,
		strings.Repeat("-", len(receiptRule)),
		"Total    : "+money.FormatRupiah(tx.Total),
		"Bayar    : "+payment,
	)
	if tx.Notes != "" {
		lines = append(lines, "Catatan  : "+tx.Notes)
	}
	lines = append(lines, receiptRule, "Terima kasih", "")

	escpos := []byte{0x1b, 0x40}
	for _, line := range lines {
		escpos = append(escpos, []byte(line)...)
		escpos = append(escpos, '\n')
	}
	escpos = append(escpos, []byte{0x1d, 0x56, 0x41, 0x10}...)

	return domain.ReceiptResponse{
		TransactionID: tx.ID,
		Lines:         lines,
		EscposBase64:  base64.StdEncoding.EncodeToString(escpos),
		FileName:      fmt.Sprintf("receipt-%s.bin", tx.ID),
	}, nil
}

// readyAt estimates pickup by running every service unit back to back.
func (s *Service) readyAt(ctx context.Context, tx domain.Transaction) (time.Time, bool) {
	index, err := s.serviceIndex(ctx)
	if err != nil {
		log.Printf("[service] WARN: receipt without pickup date tx=%s: %v", tx.ID, err)
		return time.Time{}, false
	}
	minutes := 0
	for _, row := range tx.Services {
		minutes += index[row.ServiceID].DurationMinutes * max(row.Quantity, 0)
	}
	if minutes == 0 {
		return time.Time{}, false
	}
	return tx.CreatedAt.Add(time.Duration(minutes) * time.Minute), true
}
