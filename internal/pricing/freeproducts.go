package pricing

import (
	"fmt"
	"slices"
	"strings"

	"washpoint/backend/internal/domain"
)

const (
	softenerPerWash      = 1
	softenerPerCombined  = 2
	detergentPerCombined = 1
)

// Demand is the complimentary product quantity the current services call for.
type Demand struct {
	WashQty     int
	CombinedQty int
	Softener    int
	Detergent   int
}

func FreeProductDemand(services []domain.ServiceLine, flags domain.FeatureFlags) Demand {
	var d Demand
	for _, line := range services {
		qty := max(line.Quantity, 0)
		switch line.Category {
		case domain.CategoryPlainWash:
			if flags.CuciFreeProducts {
				d.WashQty += qty
			}
		case domain.CategoryCombined:
			if flags.CKLFreeProducts {
				d.CombinedQty += qty
			}
		}
	}
	d.Softener = d.WashQty*softenerPerWash + d.CombinedQty*softenerPerCombined
	d.Detergent = d.CombinedQty * detergentPerCombined
	return d
}

func (d Demand) expected(role domain.ProductRole) int {
	switch role {
	case domain.RoleSoftener:
		return d.Softener
	case domain.RoleDetergent:
		return d.Detergent
	default:
		return 0
	}
}

// Reason describes the services a free product line was granted for,
// e.g. "Gratis (2 Cuci + 1 CKL)".
func (d Demand) Reason(role domain.ProductRole) string {
	parts := make([]string, 0, 2)
	if role == domain.RoleSoftener && d.WashQty > 0 {
		parts = append(parts, fmt.Sprintf("%d Cuci", d.WashQty))
	}
	if d.CombinedQty > 0 {
		parts = append(parts, fmt.Sprintf("%d CKL", d.CombinedQty))
	}
	if len(parts) == 0 {
		return ""
	}
	return "Gratis (" + strings.Join(parts, " + ") + ")"
}

// HasQualifyingService reports whether any wash or combined service with a
// positive quantity is selected, regardless of feature flags.
func HasQualifyingService(services []domain.ServiceLine) bool {
	for _, line := range services {
		if line.Quantity > 0 && line.Category.QualifiesFreeProducts() {
			return true
		}
	}
	return false
}

// ReconcileFreeProducts synchronises the complimentary softener and
// detergent lines with the current services. Paid quantity a cashier added
// on top of the free portion is preserved. Running it twice with the same
// inputs yields the same lines.
func ReconcileFreeProducts(
	services []domain.ServiceLine,
	products []domain.ProductLine,
	flags domain.FeatureFlags,
	catalog []domain.CatalogProduct,
) []domain.ProductLine {
	out := normalizeProductLines(products)

	if !HasQualifyingService(services) {
		kept := out[:0]
		for _, line := range out {
			if !line.IsFree {
				kept = append(kept, line)
				continue
			}
			if line.PaidQuantity > 0 {
				kept = append(kept, toPaidLine(line))
			}
		}
		return kept
	}

	demand := FreeProductDemand(services, flags)
	for _, role := range []domain.ProductRole{domain.RoleSoftener, domain.RoleDetergent} {
		out = syncFreeProduct(out, role, demand, catalog)
	}
	return out
}

// syncFreeProduct keeps the grant of one role on a single line. An existing
// free line of the role wins, whatever brand it is; other free lines of the
// role keep only their paid quantity.
func syncFreeProduct(
	lines []domain.ProductLine,
	role domain.ProductRole,
	demand Demand,
	catalog []domain.CatalogProduct,
) []domain.ProductLine {
	expected := demand.expected(role)
	product, inCatalog := catalogProductFor(role, catalog)
	holdsGrant := func(line domain.ProductLine) bool {
		return line.IsFree && (line.Role == role || (inCatalog && line.ProductID == product.ID))
	}

	target := slices.IndexFunc(lines, holdsGrant)
	if target < 0 && inCatalog {
		target = slices.IndexFunc(lines, func(line domain.ProductLine) bool { return line.ProductID == product.ID })
	}

	out := make([]domain.ProductLine, 0, len(lines)+1)
	for i, line := range lines {
		switch {
		case i == target && expected > 0:
			line.Quantity = expected + line.PaidQuantity
			line.FreeQuantity = expected
			line.IsFree = true
			line.FreeReason = demand.Reason(role)
			if line.Role == domain.RoleNone {
				line.Role = role
			}
			out = append(out, line)
		case i == target || holdsGrant(line):
			if line.PaidQuantity > 0 {
				out = append(out, toPaidLine(line))
			}
		default:
			out = append(out, line)
		}
	}

	if target >= 0 || expected == 0 || !inCatalog {
		return out
	}
	return append(out, domain.ProductLine{
		ProductID:    product.ID,
		Name:         product.Name,
		Role:         role,
		UnitPrice:    product.Price,
		Quantity:     expected,
		Stock:        product.Stock,
		IsFree:       true,
		FreeQuantity: expected,
		PaidQuantity: 0,
		FreeReason:   demand.Reason(role),
	})
}

func catalogProductFor(role domain.ProductRole, catalog []domain.CatalogProduct) (domain.CatalogProduct, bool) {
	for _, product := range catalog {
		if product.Role == role {
			return product, true
		}
	}
	return domain.CatalogProduct{}, false
}

func toPaidLine(line domain.ProductLine) domain.ProductLine {
	line.IsFree = false
	line.Quantity = line.PaidQuantity
	line.FreeQuantity = 0
	line.FreeReason = ""
	return line
}

// normalizeProductLines copies the lines, drops empty ones and restores
// FreeQuantity+PaidQuantity == Quantity.
func normalizeProductLines(lines []domain.ProductLine) []domain.ProductLine {
	out := make([]domain.ProductLine, 0, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		line.FreeQuantity = min(max(line.FreeQuantity, 0), line.Quantity)
		if !line.IsFree {
			line.FreeQuantity = 0
		}
		line.PaidQuantity = line.Quantity - line.FreeQuantity
		out = append(out, line)
	}
	return out
}
