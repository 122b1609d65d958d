package inventory

import (
	"fmt"
	"strings"

	"github.com/dms/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// WarehouseType classifies a warehouse within a distributor's network
type WarehouseType string

const (
	// WarehouseTypeMain is the default stock location; exactly one per distributor
	WarehouseTypeMain WarehouseType = "MAIN"
	// WarehouseTypeTransit holds stock moving between locations
	WarehouseTypeTransit WarehouseType = "TRANSIT"
	// WarehouseTypeVirtual holds non-physical stock (e.g. in-service units)
	WarehouseTypeVirtual WarehouseType = "VIRTUAL"
)

// IsValid returns true if the warehouse type is valid
func (t WarehouseType) IsValid() bool {
	switch t {
	case WarehouseTypeMain, WarehouseTypeTransit, WarehouseTypeVirtual:
		return true
	}
	return false
}

// String returns the string representation
func (t WarehouseType) String() string {
	return string(t)
}

// Warehouse is the stock partition for a distributor. The MAIN warehouse is
// created lazily on the first inventory operation and is immutable afterwards
// except for the active flag.
type Warehouse struct {
	shared.BaseEntity
	Code          string        `gorm:"type:varchar(50);not null;uniqueIndex:idx_warehouse_dist_code,priority:2"`
	Name          string        `gorm:"type:varchar(255);not null"`
	Type          WarehouseType `gorm:"type:varchar(20);not null;uniqueIndex:idx_warehouse_dist_type,priority:2"`
	DistributorID uuid.UUID     `gorm:"type:uuid;not null;uniqueIndex:idx_warehouse_dist_code,priority:1;uniqueIndex:idx_warehouse_dist_type,priority:1"`
	Active        bool          `gorm:"not null;default:true"`
}

// TableName returns the table name for GORM
func (Warehouse) TableName() string {
	return "warehouses"
}

// NewDefaultWarehouse creates the MAIN warehouse for a distributor
func NewDefaultWarehouse(distributorID uuid.UUID) (*Warehouse, error) {
	if distributorID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_DISTRIBUTOR", "Distributor ID cannot be empty")
	}

	prefix := strings.ToUpper(strings.ReplaceAll(distributorID.String(), "-", ""))[:8]
	return &Warehouse{
		BaseEntity:    shared.NewBaseEntity(),
		Code:          fmt.Sprintf("MAIN-%s", prefix),
		Name:          "Main Warehouse",
		Type:          WarehouseTypeMain,
		DistributorID: distributorID,
		Active:        true,
	}, nil
}

// Deactivate marks the warehouse inactive. Stock records are retained.
func (w *Warehouse) Deactivate() {
	w.Active = false
	w.Touch()
}

// Activate marks the warehouse active
func (w *Warehouse) Activate() {
	w.Active = true
	w.Touch()
}
