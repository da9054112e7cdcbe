package pricing

import "washpoint/backend/internal/domain"

// SerializeServiceLines expands split lines into one row per pricing tier.
// Free rows keep the unit price so consolidation can recover it.
func SerializeServiceLines(lines []domain.ServiceLine) []domain.TransactionServiceRow {
	rows := make([]domain.TransactionServiceRow, 0, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		price := unitPrice(line.UnitPrice)
		base := domain.TransactionServiceRow{
			ServiceID:   line.ServiceID,
			ServiceName: line.Name,
			UnitPrice:   price,
		}

		if !line.Split {
			row := base
			row.Quantity = line.Quantity
			row.Subtotal = price * int64(line.Quantity)
			rows = append(rows, row)
			continue
		}

		free := min(max(line.FreeCount, 0), line.Quantity)
		paid := line.Quantity - free
		if free > 0 {
			row := base
			row.Quantity = free
			row.IsFree = true
			row.FreeQuantity = free
			rows = append(rows, row)
		}
		if paid > 0 {
			row := base
			row.Quantity = paid
			row.Subtotal = price * int64(paid)
			rows = append(rows, row)
		}
	}
	return rows
}

// SerializeProductLines emits exactly one row per product line.
func SerializeProductLines(lines []domain.ProductLine) []domain.TransactionProductRow {
	rows := make([]domain.TransactionProductRow, 0, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		price := unitPrice(line.UnitPrice)
		row := domain.TransactionProductRow{
			ProductID:   line.ProductID,
			ProductName: line.Name,
			Quantity:    line.Quantity,
			UnitPrice:   price,
			Subtotal:    price * int64(line.Quantity),
		}
		if line.IsFree {
			free := min(max(line.FreeQuantity, 0), line.Quantity)
			row.IsFree = free > 0
			if row.IsFree {
				row.FreeQuantity = free
				row.Subtotal = price * int64(line.Quantity-free)
			}
		}
		rows = append(rows, row)
	}
	return rows
}
