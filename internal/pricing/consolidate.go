package pricing

import "washpoint/backend/internal/domain"

// StoredFreeReason marks product lines whose free portion came from a saved
// transaction rather than from the rule engine.
const StoredFreeReason = "Gratis (tersimpan)"

// ConsolidateServiceRows folds one-row-per-tier persisted rows back into one
// split line per service. Rows with a zero subtotal count as free. The unit
// price is recovered from a paid row first, then from any row carrying a
// price, then from the catalog.
func ConsolidateServiceRows(rows []domain.TransactionServiceRow, catalog map[string]domain.CatalogService) []domain.ServiceLine {
	order := make([]string, 0, len(rows))
	grouped := make(map[string][]domain.TransactionServiceRow)
	for _, row := range rows {
		if row.ServiceID == "" || row.Quantity <= 0 {
			continue
		}
		if _, seen := grouped[row.ServiceID]; !seen {
			order = append(order, row.ServiceID)
		}
		grouped[row.ServiceID] = append(grouped[row.ServiceID], row)
	}

	lines := make([]domain.ServiceLine, 0, len(order))
	for _, serviceID := range order {
		group := grouped[serviceID]
		entry, known := catalog[serviceID]

		line := domain.ServiceLine{
			ServiceID: serviceID,
			Category:  domain.CategoryOther,
			Split:     true,
		}
		if known {
			line.Name = entry.Name
			line.Category = entry.Category
		}
		for _, row := range group {
			if line.Name == "" && row.ServiceName != "" {
				line.Name = row.ServiceName
			}
			line.Quantity += row.Quantity
			if row.Subtotal == 0 {
				line.FreeCount += row.Quantity
			} else {
				line.PaidCount += row.Quantity
			}
		}
		line.UnitPrice = recoverServicePrice(group)
		if line.UnitPrice == 0 && known {
			line.UnitPrice = entry.Price
		}
		lines = append(lines, line)
	}
	return lines
}

func recoverServicePrice(rows []domain.TransactionServiceRow) int64 {
	for _, row := range rows {
		if row.Subtotal <= 0 {
			continue
		}
		if row.UnitPrice > 0 {
			return row.UnitPrice
		}
		return row.Subtotal / int64(row.Quantity)
	}
	for _, row := range rows {
		if row.UnitPrice > 0 {
			return row.UnitPrice
		}
	}
	return 0
}

// ConsolidateProductRows maps persisted product rows onto selection lines.
// The stored is_free and free_quantity columns are authoritative; duplicate
// rows for one product are merged.
func ConsolidateProductRows(rows []domain.TransactionProductRow, catalog []domain.CatalogProduct) []domain.ProductLine {
	byID := make(map[string]domain.CatalogProduct, len(catalog))
	for _, product := range catalog {
		byID[product.ID] = product
	}

	index := make(map[string]int, len(rows))
	lines := make([]domain.ProductLine, 0, len(rows))
	for _, row := range rows {
		if row.ProductID == "" || row.Quantity <= 0 {
			continue
		}
		free := 0
		if row.IsFree {
			free = min(max(row.FreeQuantity, 0), row.Quantity)
		}

		if i, ok := index[row.ProductID]; ok {
			line := &lines[i]
			line.Quantity += row.Quantity
			line.FreeQuantity += free
			line.PaidQuantity = line.Quantity - line.FreeQuantity
			if row.IsFree {
				line.IsFree = true
				line.FreeReason = StoredFreeReason
			}
			if line.UnitPrice == 0 && row.UnitPrice > 0 {
				line.UnitPrice = row.UnitPrice
			}
			continue
		}

		line := domain.ProductLine{
			ProductID:    row.ProductID,
			Name:         row.ProductName,
			UnitPrice:    row.UnitPrice,
			Quantity:     row.Quantity,
			IsFree:       row.IsFree,
			FreeQuantity: free,
			PaidQuantity: row.Quantity - free,
		}
		if row.IsFree {
			line.FreeReason = StoredFreeReason
		}
		if product, ok := byID[row.ProductID]; ok {
			if line.Name == "" {
				line.Name = product.Name
			}
			if line.UnitPrice == 0 {
				line.UnitPrice = product.Price
			}
			line.Role = product.Role
			line.Stock = product.Stock
		}
		index[row.ProductID] = len(lines)
		lines = append(lines, line)
	}
	return lines
}
