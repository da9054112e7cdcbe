package pricing

import "washpoint/backend/internal/domain"

// CalculateTotal sums the charges of every line. Only paid quantities
// contribute. A product flagged free is charged in full unless a wash or
// combined service is still selected.
func CalculateTotal(services []domain.ServiceLine, products []domain.ProductLine, redemption Redemption) int64 {
	budget := 0
	if redemption.Active {
		budget = max(redemption.Remaining, 0) - FreeWashesUsed(services)
	}

	var total int64
	for _, line := range services {
		if line.Quantity <= 0 {
			continue
		}
		if !line.Split && redemption.Active && line.Category.Redeemable() {
			alloc := Allocate(line.Quantity, budget)
			budget -= alloc.FreeCount
			total += unitPrice(line.UnitPrice) * int64(alloc.PaidCount)
			continue
		}
		total += ServiceSubtotal(line)
	}

	qualifying := HasQualifyingService(services)
	for _, line := range products {
		total += ProductSubtotal(line, qualifying)
	}
	return total
}

// ServiceSubtotal is the charge of one line on its own, without any
// redemption computed on the fly.
func ServiceSubtotal(line domain.ServiceLine) int64 {
	if line.Quantity <= 0 {
		return 0
	}
	price := unitPrice(line.UnitPrice)
	if line.Split {
		paid := min(max(line.PaidCount, 0), line.Quantity)
		return price * int64(paid)
	}
	return price * int64(line.Quantity)
}

// ProductSubtotal charges the paid portion of a free line only while a
// qualifying service is selected.
func ProductSubtotal(line domain.ProductLine, qualifying bool) int64 {
	if line.Quantity <= 0 {
		return 0
	}
	price := unitPrice(line.UnitPrice)
	if line.IsFree && qualifying {
		paid := max(line.Quantity-max(line.FreeQuantity, 0), 0)
		return price * int64(paid)
	}
	return price * int64(line.Quantity)
}

func unitPrice(price int64) int64 {
	if price < 0 {
		return 0
	}
	return price
}
