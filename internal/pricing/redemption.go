package pricing

import "washpoint/backend/internal/domain"

type Allocation struct {
	FreeCount int
	PaidCount int
}

// Allocate splits quantity into a free portion bounded by remaining and the
// paid rest. Negative inputs are treated as zero.
func Allocate(quantity, remaining int) Allocation {
	quantity = max(quantity, 0)
	remaining = max(remaining, 0)
	free := min(quantity, remaining)
	return Allocation{FreeCount: free, PaidCount: quantity - free}
}

// Redemption describes whether a loyalty balance is being spent on the
// current selection and how much of it is available.
type Redemption struct {
	Active    bool
	Remaining int
}

// ApplyRedemption splits every redeemable line against a shared budget, in
// line order. Other lines are returned untouched.
func ApplyRedemption(lines []domain.ServiceLine, remaining int) []domain.ServiceLine {
	out := cloneServiceLines(lines)
	budget := max(remaining, 0)
	for i := range out {
		line := &out[i]
		if !line.Category.Redeemable() {
			continue
		}
		alloc := Allocate(line.Quantity, budget)
		line.Split = true
		line.FreeCount = alloc.FreeCount
		line.PaidCount = alloc.PaidCount
		budget -= alloc.FreeCount
	}
	return out
}

func ClearRedemption(lines []domain.ServiceLine) []domain.ServiceLine {
	out := cloneServiceLines(lines)
	for i := range out {
		if !out[i].Category.Redeemable() {
			continue
		}
		out[i].Split = false
		out[i].FreeCount = 0
		out[i].PaidCount = 0
	}
	return out
}

func RedemptionApplied(lines []domain.ServiceLine) bool {
	return FreeWashesUsed(lines) > 0
}

// FreeWashesUsed sums the free counts of redeemable lines.
func FreeWashesUsed(lines []domain.ServiceLine) int {
	total := 0
	for _, line := range lines {
		if line.Category.Redeemable() && line.Split && line.FreeCount > 0 {
			total += line.FreeCount
		}
	}
	return total
}

// Resplit recomputes the split of one redeemable line after its quantity
// changed. The budget is the ceiling minus what the other lines already hold.
func Resplit(lines []domain.ServiceLine, index, ceiling int) []domain.ServiceLine {
	out := cloneServiceLines(lines)
	if index < 0 || index >= len(out) {
		return out
	}
	budget := max(ceiling, 0)
	for i, line := range out {
		if i != index && line.Category.Redeemable() && line.Split {
			budget -= max(line.FreeCount, 0)
		}
	}
	alloc := Allocate(out[index].Quantity, budget)
	out[index].Split = true
	out[index].FreeCount = alloc.FreeCount
	out[index].PaidCount = alloc.PaidCount
	return out
}

func cloneServiceLines(lines []domain.ServiceLine) []domain.ServiceLine {
	if lines == nil {
		return nil
	}
	out := make([]domain.ServiceLine, len(lines))
	copy(out, lines)
	return out
}

func cloneProductLines(lines []domain.ProductLine) []domain.ProductLine {
	if lines == nil {
		return nil
	}
	out := make([]domain.ProductLine, len(lines))
	copy(out, lines)
	return out
}
