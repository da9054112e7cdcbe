package catalog

import (
	"strings"

	"washpoint/backend/internal/domain"
)

// ClassifyService resolves the category of a catalog service. A stored
// category wins; otherwise the name decides.
func ClassifyService(svc domain.CatalogService) domain.ServiceCategory {
	if svc.Category.Valid() {
		return svc.Category
	}
	name := strings.ToLower(svc.Name)
	switch {
	case strings.Contains(name, "ckl"),
		strings.Contains(name, "cuci") && strings.Contains(name, "kering"):
		return domain.CategoryCombined
	case strings.Contains(name, "cuci"):
		return domain.CategoryPlainWash
	case strings.Contains(name, "kering"), strings.Contains(name, "pengering"):
		return domain.CategoryDry
	case strings.Contains(name, "bilas"):
		return domain.CategoryRinse
	default:
		return domain.CategoryOther
	}
}

// RoleIDs pins the complimentary products to explicit catalog ids.
type RoleIDs struct {
	Softener  string
	Detergent string
}

func ClassifyProduct(product domain.CatalogProduct, ids RoleIDs) domain.ProductRole {
	switch {
	case ids.Softener != "" && product.ID == ids.Softener:
		return domain.RoleSoftener
	case ids.Detergent != "" && product.ID == ids.Detergent:
		return domain.RoleDetergent
	}
	if ids.Softener != "" && ids.Detergent != "" {
		return domain.RoleNone
	}

	name := strings.ToLower(product.Name)
	switch {
	case ids.Softener == "" && (strings.Contains(name, "softener") || strings.Contains(name, "pewangi")):
		return domain.RoleSoftener
	case ids.Detergent == "" && (strings.Contains(name, "deterjen") || strings.Contains(name, "detergent")):
		return domain.RoleDetergent
	default:
		return domain.RoleNone
	}
}

func ClassifyServices(services []domain.CatalogService) []domain.CatalogService {
	out := make([]domain.CatalogService, len(services))
	for i, svc := range services {
		svc.Category = ClassifyService(svc)
		out[i] = svc
	}
	return out
}

func ClassifyProducts(products []domain.CatalogProduct, ids RoleIDs) []domain.CatalogProduct {
	out := make([]domain.CatalogProduct, len(products))
	for i, product := range products {
		product.Role = ClassifyProduct(product, ids)
		out[i] = product
	}
	return out
}

// ReduceMachines counts free and total machines per type. Unknown machine
// types are ignored.
func ReduceMachines(statuses []domain.MachineStatus) domain.MachineAvailability {
	var availability domain.MachineAvailability
	for _, status := range statuses {
		var count *domain.MachineCount
		switch strings.ToLower(strings.TrimSpace(status.Type)) {
		case "cuci", "washer", "pencuci":
			count = &availability.Washer
		case "kering", "pengering", "dryer":
			count = &availability.Dryer
		default:
			continue
		}
		count.Total++
		if machineFree(status.Status) {
			count.Available++
		}
	}
	return availability
}

func machineFree(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "tersedia", "available", "idle":
		return true
	default:
		return false
	}
}

func ServiceIndex(services []domain.CatalogService) map[string]domain.CatalogService {
	index := make(map[string]domain.CatalogService, len(services))
	for _, svc := range services {
		index[svc.ID] = svc
	}
	return index
}
