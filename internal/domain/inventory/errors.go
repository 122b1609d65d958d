package inventory

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// The validation error taxonomy carries the offending identifier and quantity
// so callers (billing, returns, GRN) can surface precise rejections. All types
// are matched with errors.As.

// ItemNotFoundError indicates the referenced item does not exist for the distributor
type ItemNotFoundError struct {
	ItemID uuid.UUID
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("item %s not found", e.ItemID)
}

// InsufficientStockError indicates the requested quantity exceeds what is
// available. LotID is set when the shortage is lot-level rather than item-level.
type InsufficientStockError struct {
	ItemID    uuid.UUID
	LotID     *uuid.UUID
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	if e.LotID != nil {
		return fmt.Sprintf("insufficient stock in lot %s for item %s: requested %s, available %s",
			e.LotID, e.ItemID, e.Requested, e.Available)
	}
	return fmt.Sprintf("insufficient stock for item %s: requested %s, available %s",
		e.ItemID, e.Requested, e.Available)
}

// SerialRequiredError indicates a serial-tracked item was requested without a serial number
type SerialRequiredError struct {
	ItemID uuid.UUID
}

func (e *SerialRequiredError) Error() string {
	return fmt.Sprintf("item %s is serial tracked: a serial number is required", e.ItemID)
}

// SerialNotFoundError indicates the referenced serial number does not exist
type SerialNotFoundError struct {
	SerialNumber string
	ItemID       uuid.UUID
}

func (e *SerialNotFoundError) Error() string {
	return fmt.Sprintf("serial %q not found for item %s", e.SerialNumber, e.ItemID)
}

// SerialNotAvailableError indicates a sale was attempted on a serial that is
// not in AVAILABLE status (already sold, reserved, or damaged)
type SerialNotAvailableError struct {
	SerialNumber string
	Status       SerialStatus
}

func (e *SerialNotAvailableError) Error() string {
	return fmt.Sprintf("serial %q is not available for sale (status %s)", e.SerialNumber, e.Status)
}

// BatchNotFoundError indicates the referenced lot/batch number does not exist
type BatchNotFoundError struct {
	LotNumber string
	ItemID    uuid.UUID
}

func (e *BatchNotFoundError) Error() string {
	return fmt.Sprintf("batch %q not found for item %s", e.LotNumber, e.ItemID)
}

// BatchExpiredError indicates an explicitly selected lot has already expired
type BatchExpiredError struct {
	LotNumber  string
	ExpiryDate string
}

func (e *BatchExpiredError) Error() string {
	return fmt.Sprintf("batch %q expired on %s and cannot be issued", e.LotNumber, e.ExpiryDate)
}

// InvalidStateTransitionError indicates a serial status transition that the
// state machine does not permit
type InvalidStateTransitionError struct {
	SerialNumber string
	From         SerialStatus
	To           SerialStatus
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("serial %q cannot transition from %s to %s", e.SerialNumber, e.From, e.To)
}

// InternalConsistencyError indicates the derived ledger balance violated an
// invariant (e.g. a negative aggregate). This is a bug signal, never a
// user-facing rejection.
type InternalConsistencyError struct {
	ItemID  uuid.UUID
	Balance decimal.Decimal
	Detail  string
}

func (e *InternalConsistencyError) Error() string {
	return fmt.Sprintf("inventory consistency violation for item %s (balance %s): %s",
		e.ItemID, e.Balance, e.Detail)
}
