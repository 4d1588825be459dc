package catalog

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ToBaseQuantity converts a quantity expressed in the selected selling unit
// into the product's base stock unit. Pure; callers validate qty > 0 upstream.
func ToBaseQuantity(qty decimal.Decimal, unitID string, units []SellingUnit) (decimal.Decimal, error) {
	for _, u := range units {
		if u.ID == unitID {
			return qty.Mul(u.UnitsPerParent), nil
		}
	}
	return decimal.Zero, fmt.Errorf("%w: %q", ErrUnitNotFound, unitID)
}
