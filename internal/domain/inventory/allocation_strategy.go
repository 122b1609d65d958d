package inventory

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AllocationMethod selects how lots are chosen for an issue
type AllocationMethod string

const (
	// AllocationMethodFEFO picks earliest-expiring lots first
	AllocationMethodFEFO AllocationMethod = "FEFO"
	// AllocationMethodSpecified uses the caller-selected lot only
	AllocationMethodSpecified AllocationMethod = "SPECIFIED"
)

// IsValid returns true if the allocation method is valid
func (m AllocationMethod) IsValid() bool {
	return m == AllocationMethodFEFO || m == AllocationMethodSpecified
}

// LotAvailability pairs a lot with its derived available quantity at planning
// time. The quantity comes from ledger aggregation, not from the lot itself.
type LotAvailability struct {
	Lot       *InventoryLot
	Available decimal.Decimal
}

// LotAllocation is one line of an allocation plan: take Quantity from LotID.
// The plan is advisory until the ledger entries that realize it are committed.
type LotAllocation struct {
	LotID      uuid.UUID
	LotNumber  string
	Quantity   decimal.Decimal
	UnitCost   decimal.Decimal
	ExpiryDate *time.Time
}

// AllocationStrategy plans which lots satisfy a requested quantity.
// Implementations are pure: they never touch storage.
type AllocationStrategy interface {
	// Allocate returns a plan covering exactly the requested quantity, or an
	// InsufficientStockError when the usable lots cannot cover it.
	Allocate(now time.Time, itemID uuid.UUID, requested decimal.Decimal, lots []LotAvailability) ([]LotAllocation, error)
}

// FEFOStrategy allocates from the earliest-expiring usable lots first.
// Lots without an expiry date are treated as never expiring and drained last.
// Lots with equal expiry are ordered by receipt time, oldest first.
type FEFOStrategy struct{}

var _ AllocationStrategy = (*FEFOStrategy)(nil)

// NewFEFOStrategy creates a FEFO allocation strategy
func NewFEFOStrategy() *FEFOStrategy {
	return &FEFOStrategy{}
}

// Allocate plans a FEFO allocation across the given lots
func (s *FEFOStrategy) Allocate(now time.Time, itemID uuid.UUID, requested decimal.Decimal, lots []LotAvailability) ([]LotAllocation, error) {
	candidates := usableLots(now, lots)
	sortFEFO(candidates)
	return fill(itemID, requested, candidates)
}

// SpecifiedLotStrategy allocates from a single caller-selected lot. The lot
// must be usable and hold enough quantity; there is no spill-over.
type SpecifiedLotStrategy struct {
	LotNumber string
}

var _ AllocationStrategy = (*SpecifiedLotStrategy)(nil)

// NewSpecifiedLotStrategy creates a strategy pinned to one lot number
func NewSpecifiedLotStrategy(lotNumber string) *SpecifiedLotStrategy {
	return &SpecifiedLotStrategy{LotNumber: lotNumber}
}

// Allocate plans an allocation against the pinned lot only
func (s *SpecifiedLotStrategy) Allocate(now time.Time, itemID uuid.UUID, requested decimal.Decimal, lots []LotAvailability) ([]LotAllocation, error) {
	for _, la := range lots {
		if la.Lot.LotNumber != s.LotNumber {
			continue
		}
		if la.Lot.IsExpired(now) {
			expiry := ""
			if la.Lot.ExpiryDate != nil {
				expiry = la.Lot.ExpiryDate.Format("2006-01-02")
			}
			return nil, &BatchExpiredError{LotNumber: s.LotNumber, ExpiryDate: expiry}
		}
		if !la.Lot.IsUsable(now) || la.Available.LessThan(requested) {
			lotID := la.Lot.ID
			return nil, &InsufficientStockError{
				ItemID:    itemID,
				LotID:     &lotID,
				Requested: requested,
				Available: la.Available,
			}
		}
		return []LotAllocation{{
			LotID:      la.Lot.ID,
			LotNumber:  la.Lot.LotNumber,
			Quantity:   requested,
			UnitCost:   la.Lot.UnitCost,
			ExpiryDate: la.Lot.ExpiryDate,
		}}, nil
	}
	return nil, &BatchNotFoundError{LotNumber: s.LotNumber, ItemID: itemID}
}

// NewAllocationStrategy builds the strategy for the given method. A specified
// method needs the lot number; FEFO ignores it.
func NewAllocationStrategy(method AllocationMethod, lotNumber string) AllocationStrategy {
	if method == AllocationMethodSpecified && lotNumber != "" {
		return NewSpecifiedLotStrategy(lotNumber)
	}
	return NewFEFOStrategy()
}

func usableLots(now time.Time, lots []LotAvailability) []LotAvailability {
	out := make([]LotAvailability, 0, len(lots))
	for _, la := range lots {
		if la.Lot.IsUsable(now) && la.Available.GreaterThan(decimal.Zero) {
			out = append(out, la)
		}
	}
	return out
}

func sortFEFO(lots []LotAvailability) {
	sort.SliceStable(lots, func(i, j int) bool {
		ei, ej := lots[i].Lot.ExpiryDate, lots[j].Lot.ExpiryDate
		switch {
		case ei == nil && ej == nil:
			return lots[i].Lot.CreatedAt.Before(lots[j].Lot.CreatedAt)
		case ei == nil:
			return false
		case ej == nil:
			return true
		case !ei.Equal(*ej):
			return ei.Before(*ej)
		default:
			return lots[i].Lot.CreatedAt.Before(lots[j].Lot.CreatedAt)
		}
	})
}

func fill(itemID uuid.UUID, requested decimal.Decimal, candidates []LotAvailability) ([]LotAllocation, error) {
	remaining := requested
	plan := make([]LotAllocation, 0, len(candidates))
	for _, la := range candidates {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		take := decimal.Min(remaining, la.Available)
		plan = append(plan, LotAllocation{
			LotID:      la.Lot.ID,
			LotNumber:  la.Lot.LotNumber,
			Quantity:   take,
			UnitCost:   la.Lot.UnitCost,
			ExpiryDate: la.Lot.ExpiryDate,
		})
		remaining = remaining.Sub(take)
	}
	if remaining.GreaterThan(decimal.Zero) {
		return nil, &InsufficientStockError{
			ItemID:    itemID,
			Requested: requested,
			Available: requested.Sub(remaining),
		}
	}
	return plan, nil
}
