package utils

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MinOrderPaise is the gateway's minimum order amount (1 INR).
const MinOrderPaise int64 = 100

// MaxOrderAmount is the largest amount the NUMERIC(12,2) ledger columns hold.
var MaxOrderAmount = decimal.RequireFromString("9999999999.99")

var hundred = decimal.NewFromInt(100)

// ToMinorUnits converts a rupee amount to paise, rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits converts paise back to rupees.
func FromMinorUnits(paise int64) decimal.Decimal {
	return decimal.New(paise, -2)
}

// ValidateOrderAmount checks that amount is positive, at least the gateway
// minimum once converted and small enough for the ledger. It must pass
// before ToMinorUnits is trusted.
func ValidateOrderAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be greater than 0")
	}
	if amount.Round(2).GreaterThan(MaxOrderAmount) {
		return fmt.Errorf("amount must not exceed %s INR", MaxOrderAmount.StringFixed(2))
	}
	if ToMinorUnits(amount) < MinOrderPaise {
		return fmt.Errorf("amount must be at least %s INR", FromMinorUnits(MinOrderPaise).StringFixed(2))
	}
	return nil
}
