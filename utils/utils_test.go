package utils

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMinorUnits_RoundTrip(t *testing.T) {
	for _, s := range []string{"499.50", "500", "0.01", "1.10", "12345678.99", "0.29", "1.005"} {
		amount := decimal.RequireFromString(s)
		paise := ToMinorUnits(amount)
		if amount.Exponent() >= -2 {
			assert.True(t, FromMinorUnits(paise).Equal(amount), s)
		}
	}

	assert.Equal(t, int64(49950), ToMinorUnits(decimal.RequireFromString("499.50")))
	assert.Equal(t, int64(29), ToMinorUnits(decimal.RequireFromString("0.29")))
	assert.Equal(t, int64(101), ToMinorUnits(decimal.RequireFromString("1.005")))
	assert.Equal(t, "499.5", FromMinorUnits(49950).String())
}

func TestValidateOrderAmount(t *testing.T) {
	assert.NoError(t, ValidateOrderAmount(decimal.NewFromInt(1)))
	assert.Error(t, ValidateOrderAmount(decimal.Zero))
	assert.Error(t, ValidateOrderAmount(decimal.NewFromInt(-5)))
	assert.EqualError(t, ValidateOrderAmount(decimal.RequireFromString("0.99")), "amount must be at least 1.00 INR")
}

func TestValidateOrderAmountUpperBound(t *testing.T) {
	assert.NoError(t, ValidateOrderAmount(MaxOrderAmount))
	assert.Equal(t, int64(999999999999), ToMinorUnits(MaxOrderAmount))

	for _, s := range []string{"10000000000", "9999999999.996", "184467440737096016.16"} {
		assert.EqualError(t, ValidateOrderAmount(decimal.RequireFromString(s)),
			"amount must not exceed 9999999999.99 INR", s)
	}
}

func TestNewPaymentReference(t *testing.T) {
	// 20:00 UTC is already the next day in IST.
	now := time.Date(2025, 3, 9, 20, 0, 0, 0, time.UTC)

	ref := NewPaymentReference(now)

	assert.True(t, strings.HasPrefix(ref, "PAY-20250310-"), ref)
	assert.True(t, IsPaymentReference(ref), ref)
	assert.NotEqual(t, ref, NewPaymentReference(now))
	assert.False(t, IsPaymentReference("PAY-2025031-ABCDEF12"))
	assert.False(t, IsPaymentReference("pay-20250310-abcdef12"))
}

type donorForm struct {
	Name  string `validate:"required,max=10"`
	Email string `validate:"required,email"`
	Kind  string `validate:"required,oneof=donation membership"`
}

func TestValidateStruct(t *testing.T) {
	require.NoError(t, ValidateStruct(donorForm{Name: "Asha", Email: "asha@example.org", Kind: "donation"}))

	err := ValidateStruct(donorForm{Email: "nope", Kind: "gift"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Name is required")
	assert.Contains(t, err.Error(), "invalid email format")
	assert.Contains(t, err.Error(), "Kind must be one of: donation membership")
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	assert.Equal(t, "", BearerToken(r))

	r.Header.Set("Authorization", "Bearer abc.def")
	assert.Equal(t, "abc.def", BearerToken(r))

	r.Header.Set("Authorization", "Basic xyz")
	assert.Equal(t, "", BearerToken(r))
}
