package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Product is the master-data view of a sellable item the transaction
// pipeline depends on. CRUD over products is owned elsewhere; the core only
// reads this contract.
type Product struct {
	ID           int64
	CompanyID    int64
	SKU          string
	Name         string
	CostPrice    decimal.Decimal
	SellingUnits []SellingUnit
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SellingUnit is a packaging granularity a product can be transacted in.
// Exactly one unit per product is the base unit; UnitsPerParent states how
// many base units one selling unit contains.
type SellingUnit struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	NameEn         string          `json:"name_en"`
	UnitsPerParent decimal.Decimal `json:"units_per_parent"`
	Price          decimal.Decimal `json:"price"`
	IsBase         bool            `json:"is_base"`
}

var (
	// ErrUnitNotFound indicates the selected selling unit does not belong to the product.
	ErrUnitNotFound = errors.New("catalog: selling unit not found")
	// ErrProductNotFound indicates a missing product.
	ErrProductNotFound = errors.New("catalog: product not found")
	// ErrNoBaseUnit indicates a product definition without a base unit.
	ErrNoBaseUnit = errors.New("catalog: product has no base unit")
)

// BaseUnit returns the indivisible stock unit of the product.
func (p Product) BaseUnit() (SellingUnit, error) {
	for _, u := range p.SellingUnits {
		if u.IsBase {
			return u, nil
		}
	}
	return SellingUnit{}, ErrNoBaseUnit
}

// Unit looks up a selling unit by id.
func (p Product) Unit(unitID string) (SellingUnit, error) {
	for _, u := range p.SellingUnits {
		if u.ID == unitID {
			return u, nil
		}
	}
	return SellingUnit{}, fmt.Errorf("%w: %q on product %s", ErrUnitNotFound, unitID, p.SKU)
}

// ValidateUnits checks the structural invariants of a unit list: exactly one
// base unit and strictly positive conversion factors.
func ValidateUnits(units []SellingUnit) error {
	base := 0
	for _, u := range units {
		if u.UnitsPerParent.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("catalog: unit %q has non-positive conversion factor", u.ID)
		}
		if u.IsBase {
			base++
		}
	}
	if base != 1 {
		return fmt.Errorf("catalog: product requires exactly one base unit, found %d", base)
	}
	return nil
}
