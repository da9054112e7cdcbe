package pricing

import (
	"fmt"

	"washpoint/backend/internal/domain"
)

const (
	MachineWasher = "washer"
	MachineDryer  = "dryer"
)

// CapacityError reports the machine type a service selection runs short of.
type CapacityError struct {
	Machine   string
	Requested int
	Available int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("only %d %s(s) available, requested %d", e.Available, e.Machine, e.Requested)
}

// machineUse is the number of washers and dryers one unit of a category takes.
func machineUse(category domain.ServiceCategory) (washers, dryers int) {
	switch category {
	case domain.CategoryPlainWash, domain.CategoryRinse:
		return 1, 0
	case domain.CategoryDry:
		return 0, 1
	case domain.CategoryCombined:
		return 1, 1
	default:
		return 0, 0
	}
}

// MachineDemand counts the washers and dryers all lines need together.
func MachineDemand(lines []domain.ServiceLine) (washers, dryers int) {
	for _, line := range lines {
		w, d := machineUse(line.Category)
		washers += w * line.Quantity
		dryers += d * line.Quantity
	}
	return washers, dryers
}

// CheckMachineCapacity rejects a service selection whose combined washer or
// dryer demand exceeds the free machines.
func CheckMachineCapacity(lines []domain.ServiceLine, availability domain.MachineAvailability) error {
	washers, dryers := MachineDemand(lines)
	if free := max(availability.Washer.Available, 0); washers > free {
		return &CapacityError{Machine: MachineWasher, Requested: washers, Available: free}
	}
	if free := max(availability.Dryer.Available, 0); dryers > free {
		return &CapacityError{Machine: MachineDryer, Requested: dryers, Available: free}
	}
	return nil
}
