package pricing

import (
	"encoding/json"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"washpoint/backend/internal/domain"
)

var testCatalog = []domain.CatalogProduct{
	{ID: "prod-softener", Name: "Softener Sachet", Price: 5000, Stock: 50, Role: domain.RoleSoftener},
	{ID: "prod-deterjen", Name: "Deterjen Sachet", Price: 4000, Stock: 50, Role: domain.RoleDetergent},
	{ID: "prod-plastik", Name: "Plastik", Price: 2000, Stock: 50},
}

func cuci(qty int) domain.ServiceLine {
	return domain.ServiceLine{ServiceID: "svc-cuci", Name: "Cuci", Category: domain.CategoryPlainWash, UnitPrice: 10000, Quantity: qty}
}

func ckl(qty int) domain.ServiceLine {
	return domain.ServiceLine{ServiceID: "svc-ckl", Name: "CKL", Category: domain.CategoryCombined, UnitPrice: 25000, Quantity: qty}
}

func findProduct(t *testing.T, lines []domain.ProductLine, id string) domain.ProductLine {
	t.Helper()
	for _, line := range lines {
		if line.ProductID == id {
			return line
		}
	}
	t.Fatalf("product %s not found in %+v", id, lines)
	return domain.ProductLine{}
}

func TestAllocateBoundsFreeCount(t *testing.T) {
	for quantity := 0; quantity <= 8; quantity++ {
		for remaining := 0; remaining <= 8; remaining++ {
			alloc := Allocate(quantity, remaining)
			if alloc.FreeCount != min(quantity, remaining) {
				t.Fatalf("allocate(%d,%d) free=%d", quantity, remaining, alloc.FreeCount)
			}
			if alloc.FreeCount+alloc.PaidCount != quantity {
				t.Fatalf("allocate(%d,%d) free+paid=%d", quantity, remaining, alloc.FreeCount+alloc.PaidCount)
			}
		}
	}
}

func TestAllocateClampsNegativeInputs(t *testing.T) {
	assert.Equal(t, Allocation{}, Allocate(-3, 2))
	assert.Equal(t, Allocation{FreeCount: 0, PaidCount: 4}, Allocate(4, -1))
}

func TestApplyRedemptionSharesBudgetInLineOrder(t *testing.T) {
	lines := []domain.ServiceLine{
		cuci(2),
		{ServiceID: "svc-kering", Category: domain.CategoryDry, UnitPrice: 10000, Quantity: 1},
		{ServiceID: "svc-cuci-express", Category: domain.CategoryPlainWash, UnitPrice: 15000, Quantity: 2},
	}

	out := ApplyRedemption(lines, 3)

	assert.Equal(t, 2, out[0].FreeCount)
	assert.Equal(t, 0, out[0].PaidCount)
	assert.False(t, out[1].Split)
	assert.Equal(t, 1, out[2].FreeCount)
	assert.Equal(t, 1, out[2].PaidCount)
	assert.False(t, lines[0].Split, "input must not be mutated")
	assert.Equal(t, 3, FreeWashesUsed(out))
}

func TestClearRedemptionRestoresPlainQuantity(t *testing.T) {
	out := ClearRedemption(ApplyRedemption([]domain.ServiceLine{cuci(3)}, 1))

	require.Len(t, out, 1)
	assert.Equal(t, 3, out[0].Quantity)
	assert.False(t, out[0].Split)
	assert.False(t, out[0].IsFree())
	assert.False(t, RedemptionApplied(out))
}

// Scenario A
func TestFreeWashFollowsQuantityChange(t *testing.T) {
	lines := ApplyRedemption([]domain.ServiceLine{cuci(1)}, 1)
	require.Equal(t, 1, lines[0].FreeCount)
	require.Equal(t, 0, lines[0].PaidCount)
	assert.True(t, lines[0].IsFree())
	assert.Equal(t, int64(0), CalculateTotal(lines, nil, Redemption{Active: true, Remaining: 1}))

	lines[0].Quantity = 3
	lines = Resplit(lines, 0, 1)

	assert.Equal(t, 1, lines[0].FreeCount)
	assert.Equal(t, 2, lines[0].PaidCount)
	assert.Equal(t, int64(20000), CalculateTotal(lines, nil, Redemption{Active: true, Remaining: 1}))
}

func TestResplitOnDecreaseNeverGoesNegative(t *testing.T) {
	lines := ApplyRedemption([]domain.ServiceLine{cuci(3)}, 3)
	lines[0].Quantity = 1
	lines = Resplit(lines, 0, 3)

	assert.Equal(t, 1, lines[0].FreeCount)
	assert.Equal(t, 0, lines[0].PaidCount)
	assert.Equal(t, int64(10000), lines[0].UnitPrice)
}

func TestTotalNonIncreasingAsBalanceGrows(t *testing.T) {
	const quantity = 4
	previous := int64(-1)
	for remaining := 0; remaining <= quantity+2; remaining++ {
		total := CalculateTotal([]domain.ServiceLine{cuci(quantity)}, nil, Redemption{Active: true, Remaining: remaining})
		if previous >= 0 && total > previous {
			t.Fatalf("total increased from %d to %d at remaining=%d", previous, total, remaining)
		}
		if remaining >= quantity && total != 0 {
			t.Fatalf("expected zero total at remaining=%d, got %d", remaining, total)
		}
		previous = total
	}
}

func TestCalculateTotalWithoutRedemptionChargesFullQuantity(t *testing.T) {
	services := []domain.ServiceLine{cuci(2), ckl(1)}
	products := []domain.ProductLine{{ProductID: "prod-plastik", UnitPrice: 2000, Quantity: 3}}

	assert.Equal(t, int64(2*10000+25000+3*2000), CalculateTotal(services, products, Redemption{}))
}

func TestFreeProductChargedWhenNoQualifyingService(t *testing.T) {
	products := []domain.ProductLine{{ProductID: "prod-softener", UnitPrice: 5000, Quantity: 2, IsFree: true, FreeQuantity: 2}}
	services := []domain.ServiceLine{{ServiceID: "svc-kering", Category: domain.CategoryDry, UnitPrice: 10000, Quantity: 1}}

	assert.Equal(t, int64(10000+10000), CalculateTotal(services, products, Redemption{}))
	assert.Equal(t, int64(10000), CalculateTotal([]domain.ServiceLine{cuci(1)}, products, Redemption{}))
}

// Scenario B
func TestWashGrantsOneSoftenerPerUnit(t *testing.T) {
	flags := domain.FeatureFlags{CuciFreeProducts: true}
	services := []domain.ServiceLine{cuci(2)}

	products := ReconcileFreeProducts(services, nil, flags, testCatalog)

	require.Len(t, products, 1)
	softener := products[0]
	assert.Equal(t, "prod-softener", softener.ProductID)
	assert.Equal(t, 2, softener.Quantity)
	assert.Equal(t, 2, softener.FreeQuantity)
	assert.Equal(t, 0, softener.PaidQuantity)
	assert.True(t, softener.IsFree)
	assert.Equal(t, "Gratis (2 Cuci)", softener.FreeReason)
	assert.Equal(t, int64(20000), CalculateTotal(services, products, Redemption{}))
}

// Scenario C
func TestPaidSoftenerSurvivesWashRemoval(t *testing.T) {
	flags := domain.FeatureFlags{CuciFreeProducts: true}
	services := []domain.ServiceLine{cuci(2)}
	products := ReconcileFreeProducts(services, nil, flags, testCatalog)

	products[0].Quantity = 5
	products = ReconcileFreeProducts(services, products, flags, testCatalog)
	softener := findProduct(t, products, "prod-softener")
	assert.Equal(t, 3, softener.PaidQuantity)
	assert.Equal(t, 5, softener.Quantity)
	assert.Equal(t, int64(15000), ProductSubtotal(softener, true))

	products = ReconcileFreeProducts(nil, products, flags, testCatalog)
	require.Len(t, products, 1)
	assert.False(t, products[0].IsFree)
	assert.Equal(t, 3, products[0].Quantity)
	assert.Equal(t, 0, products[0].FreeQuantity)
	assert.Empty(t, products[0].FreeReason)
}

func TestFreeOnlyLinesRemovedWhenNoWashSelected(t *testing.T) {
	flags := domain.FeatureFlags{CuciFreeProducts: true, CKLFreeProducts: true}
	products := ReconcileFreeProducts([]domain.ServiceLine{ckl(1)}, []domain.ProductLine{
		{ProductID: "prod-plastik", UnitPrice: 2000, Quantity: 1},
	}, flags, testCatalog)
	require.Len(t, products, 3)

	products = ReconcileFreeProducts(nil, products, flags, testCatalog)
	require.Len(t, products, 1)
	assert.Equal(t, "prod-plastik", products[0].ProductID)
}

// Scenario D
func TestCombinedGrantsSoftenerAndDetergent(t *testing.T) {
	flags := domain.FeatureFlags{CKLFreeProducts: true}

	products := ReconcileFreeProducts([]domain.ServiceLine{ckl(1)}, nil, flags, testCatalog)

	softener := findProduct(t, products, "prod-softener")
	detergent := findProduct(t, products, "prod-deterjen")
	assert.Equal(t, 2, softener.FreeQuantity)
	assert.Equal(t, 0, softener.PaidQuantity)
	assert.Equal(t, 1, detergent.FreeQuantity)
	assert.Equal(t, 0, detergent.PaidQuantity)
	assert.Equal(t, "Gratis (1 CKL)", detergent.FreeReason)
}

func TestMixedServicesReason(t *testing.T) {
	flags := domain.FeatureFlags{CuciFreeProducts: true, CKLFreeProducts: true}

	products := ReconcileFreeProducts([]domain.ServiceLine{cuci(2), ckl(1)}, nil, flags, testCatalog)

	softener := findProduct(t, products, "prod-softener")
	assert.Equal(t, 4, softener.FreeQuantity)
	assert.Equal(t, "Gratis (2 Cuci + 1 CKL)", softener.FreeReason)
}

func TestDisabledFlagsGrantNothing(t *testing.T) {
	products := ReconcileFreeProducts([]domain.ServiceLine{cuci(2), ckl(1)}, nil, domain.FeatureFlags{}, testCatalog)
	assert.Empty(t, products)
}

func TestReconcileIsIdempotent(t *testing.T) {
	flags := domain.FeatureFlags{CuciFreeProducts: true, CKLFreeProducts: true}
	services := []domain.ServiceLine{cuci(3), ckl(2)}
	start := []domain.ProductLine{
		{ProductID: "prod-softener", Name: "Softener Sachet", Role: domain.RoleSoftener, UnitPrice: 5000, Quantity: 2},
		{ProductID: "prod-plastik", UnitPrice: 2000, Quantity: 1},
	}

	first := ReconcileFreeProducts(services, start, flags, testCatalog)
	second := ReconcileFreeProducts(services, first, flags, testCatalog)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
}

func TestSecondSoftenerBrandKeepsSingleGrant(t *testing.T) {
	flags := domain.FeatureFlags{CuciFreeProducts: true}
	catalog := []domain.CatalogProduct{
		{ID: "prod-downy", Name: "Softener Downy", Price: 5000, Stock: 50, Role: domain.RoleSoftener},
		{ID: "prod-molto", Name: "Pewangi Molto", Price: 6000, Stock: 50, Role: domain.RoleSoftener},
	}
	services := []domain.ServiceLine{cuci(2)}
	saved := []domain.ProductLine{
		{ProductID: "prod-molto", Name: "Pewangi Molto", Role: domain.RoleSoftener, UnitPrice: 6000, Quantity: 2, IsFree: true, FreeQuantity: 2},
	}

	products := ReconcileFreeProducts(services, saved, flags, catalog)
	require.Len(t, products, 1, "no second free line for another brand")
	assert.Equal(t, "prod-molto", products[0].ProductID)
	assert.Equal(t, 2, products[0].FreeQuantity)
	assert.Equal(t, int64(20000), CalculateTotal(services, products, Redemption{}))

	// A duplicate grant spread over two brands collapses onto the first.
	doubled := append(slices.Clone(saved), domain.ProductLine{
		ProductID: "prod-downy", Name: "Softener Downy", Role: domain.RoleSoftener, UnitPrice: 5000, Quantity: 3, IsFree: true, FreeQuantity: 2,
	})
	products = ReconcileFreeProducts(services, doubled, flags, catalog)
	free := 0
	for _, line := range products {
		free += line.FreeQuantity
	}
	assert.Equal(t, 2, free)
	downy := findProduct(t, products, "prod-downy")
	assert.False(t, downy.IsFree)
	assert.Equal(t, 1, downy.Quantity, "paid units of the other brand stay")
	assert.Equal(t, int64(20000+5000), CalculateTotal(services, products, Redemption{}))
}

func TestPaidSoftenerTracksExpectedQuantity(t *testing.T) {
	flags := domain.FeatureFlags{CuciFreeProducts: true, CKLFreeProducts: true}
	products := []domain.ProductLine{
		{ProductID: "prod-softener", Role: domain.RoleSoftener, UnitPrice: 5000, Quantity: 2},
	}

	for _, services := range [][]domain.ServiceLine{
		{cuci(1)},
		{cuci(4)},
		{cuci(2), ckl(2)},
		{ckl(1)},
		{cuci(1)},
	} {
		products = ReconcileFreeProducts(services, products, flags, testCatalog)
		softener := findProduct(t, products, "prod-softener")
		expected := FreeProductDemand(services, flags).Softener
		if softener.Quantity != expected+2 {
			t.Fatalf("expected quantity %d, got %d", expected+2, softener.Quantity)
		}
		if softener.PaidQuantity != 2 {
			t.Fatalf("expected paid quantity 2, got %d", softener.PaidQuantity)
		}
	}
}

// Scenario E
func TestConsolidateRecoversPriceFromPaidRow(t *testing.T) {
	rows := []domain.TransactionServiceRow{
		{ServiceID: "svc-cuci", Quantity: 1, UnitPrice: 0, Subtotal: 0, IsFree: true, FreeQuantity: 1},
		{ServiceID: "svc-cuci", Quantity: 2, UnitPrice: 10000, Subtotal: 20000},
	}
	catalog := map[string]domain.CatalogService{
		"svc-cuci": {ID: "svc-cuci", Name: "Cuci", Price: 12000, Category: domain.CategoryPlainWash},
	}

	lines := ConsolidateServiceRows(rows, catalog)

	require.Len(t, lines, 1)
	assert.Equal(t, 3, lines[0].Quantity)
	assert.Equal(t, 1, lines[0].FreeCount)
	assert.Equal(t, 2, lines[0].PaidCount)
	assert.Equal(t, int64(10000), lines[0].UnitPrice)
	assert.True(t, RedemptionApplied(lines))
}

func TestConsolidateFallsBackToCatalogPrice(t *testing.T) {
	rows := []domain.TransactionServiceRow{{ServiceID: "svc-cuci", Quantity: 1, Subtotal: 0, IsFree: true, FreeQuantity: 1}}
	catalog := map[string]domain.CatalogService{
		"svc-cuci": {ID: "svc-cuci", Name: "Cuci", Price: 10000, Category: domain.CategoryPlainWash},
	}

	lines := ConsolidateServiceRows(rows, catalog)

	require.Len(t, lines, 1)
	assert.Equal(t, int64(10000), lines[0].UnitPrice)
	assert.True(t, lines[0].IsFree())
}

func TestSerializeConsolidateRoundTrip(t *testing.T) {
	catalog := map[string]domain.CatalogService{
		"svc-cuci":   {ID: "svc-cuci", Name: "Cuci", Price: 10000, Category: domain.CategoryPlainWash},
		"svc-cuci-x": {ID: "svc-cuci-x", Name: "Cuci Express", Price: 15000, Category: domain.CategoryPlainWash},
		"svc-bilas":  {ID: "svc-bilas", Name: "Bilas", Price: 5000, Category: domain.CategoryRinse},
	}
	cases := [][]domain.ServiceLine{
		{{ServiceID: "svc-cuci", Category: domain.CategoryPlainWash, UnitPrice: 9000, Quantity: 3, Split: true, FreeCount: 1, PaidCount: 2}},
		{{ServiceID: "svc-cuci", Category: domain.CategoryPlainWash, UnitPrice: 9000, Quantity: 2, Split: true, FreeCount: 2, PaidCount: 0}},
		{
			{ServiceID: "svc-cuci-x", Category: domain.CategoryPlainWash, UnitPrice: 15000, Quantity: 2, Split: true, FreeCount: 0, PaidCount: 2},
			{ServiceID: "svc-bilas", Category: domain.CategoryRinse, UnitPrice: 5000, Quantity: 1, Split: true, FreeCount: 0, PaidCount: 1},
		},
	}

	for _, lines := range cases {
		rows := SerializeServiceLines(lines)
		// free tier first so price recovery cannot rely on row order
		back := ConsolidateServiceRows(rows, catalog)
		require.Len(t, back, len(lines))
		for i := range lines {
			assert.Equal(t, lines[i].FreeCount, back[i].FreeCount)
			assert.Equal(t, lines[i].PaidCount, back[i].PaidCount)
			assert.Equal(t, lines[i].UnitPrice, back[i].UnitPrice)
		}
	}
}

func TestSerializeServiceLinesTiers(t *testing.T) {
	rows := SerializeServiceLines([]domain.ServiceLine{
		{ServiceID: "svc-cuci", UnitPrice: 10000, Quantity: 3, Split: true, FreeCount: 1, PaidCount: 2},
		{ServiceID: "svc-kering", UnitPrice: 10000, Quantity: 1},
		{ServiceID: "svc-bilas", UnitPrice: 5000, Quantity: 0},
	})

	require.Len(t, rows, 3)
	assert.Equal(t, domain.TransactionServiceRow{ServiceID: "svc-cuci", Quantity: 1, UnitPrice: 10000, IsFree: true, FreeQuantity: 1}, rows[0])
	assert.Equal(t, domain.TransactionServiceRow{ServiceID: "svc-cuci", Quantity: 2, UnitPrice: 10000, Subtotal: 20000}, rows[1])
	assert.False(t, rows[2].IsFree)
	assert.Equal(t, int64(10000), rows[2].Subtotal)
}

func TestSerializeProductLinesOneRowEach(t *testing.T) {
	rows := SerializeProductLines([]domain.ProductLine{
		{ProductID: "prod-softener", UnitPrice: 5000, Quantity: 5, IsFree: true, FreeQuantity: 2, PaidQuantity: 3},
		{ProductID: "prod-plastik", UnitPrice: 2000, Quantity: 1},
	})

	require.Len(t, rows, 2)
	assert.True(t, rows[0].IsFree)
	assert.Equal(t, 2, rows[0].FreeQuantity)
	assert.Equal(t, int64(15000), rows[0].Subtotal)
	assert.False(t, rows[1].IsFree)
	assert.Equal(t, 0, rows[1].FreeQuantity)
}

func TestConsolidateProductRowsUsesStoredFlags(t *testing.T) {
	lines := ConsolidateProductRows([]domain.TransactionProductRow{
		{ProductID: "prod-softener", Quantity: 5, UnitPrice: 5000, IsFree: true, FreeQuantity: 2},
		{ProductID: "prod-plastik", Quantity: 1, UnitPrice: 2000},
	}, testCatalog)

	require.Len(t, lines, 2)
	assert.Equal(t, 3, lines[0].PaidQuantity)
	assert.Equal(t, domain.RoleSoftener, lines[0].Role)
	assert.Equal(t, StoredFreeReason, lines[0].FreeReason)
	assert.False(t, lines[1].IsFree)
	assert.Equal(t, 1, lines[1].PaidQuantity)
}

func TestMachineCapacity(t *testing.T) {
	availability := domain.MachineAvailability{
		Washer: domain.MachineCount{Available: 3, Total: 4},
		Dryer:  domain.MachineCount{Available: 1, Total: 4},
	}
	line := func(category domain.ServiceCategory, qty int) domain.ServiceLine {
		return domain.ServiceLine{Category: category, Quantity: qty}
	}

	assert.NoError(t, CheckMachineCapacity([]domain.ServiceLine{line(domain.CategoryPlainWash, 3)}, availability))
	assert.Error(t, CheckMachineCapacity([]domain.ServiceLine{line(domain.CategoryRinse, 4)}, availability))
	assert.NoError(t, CheckMachineCapacity([]domain.ServiceLine{line(domain.CategoryOther, 50)}, availability))

	err := CheckMachineCapacity([]domain.ServiceLine{line(domain.CategoryCombined, 2)}, availability)
	var capErr *CapacityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, MachineDryer, capErr.Machine)
	assert.Equal(t, 1, capErr.Available)
	assert.Equal(t, 2, capErr.Requested)
}

func TestMachineCapacitySumsAcrossLines(t *testing.T) {
	oneEach := domain.MachineAvailability{
		Washer: domain.MachineCount{Available: 1, Total: 2},
		Dryer:  domain.MachineCount{Available: 1, Total: 2},
	}
	lines := []domain.ServiceLine{
		{ServiceID: "svc-cuci", Category: domain.CategoryPlainWash, Quantity: 1},
		{ServiceID: "svc-ckl", Category: domain.CategoryCombined, Quantity: 1},
	}

	washers, dryers := MachineDemand(lines)
	assert.Equal(t, 2, washers)
	assert.Equal(t, 1, dryers)

	err := CheckMachineCapacity(lines, oneEach)
	var capErr *CapacityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, MachineWasher, capErr.Machine)
	assert.Equal(t, 2, capErr.Requested)
	assert.Equal(t, 1, capErr.Available)

	assert.NoError(t, CheckMachineCapacity(lines[1:], oneEach))
}
