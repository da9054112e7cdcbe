package money

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFormatRupiah(t *testing.T) {
	assert.Equal(t, "Rp10.000", FormatRupiah(10000))
	assert.Equal(t, "Rp0", FormatRupiah(0))
	assert.Equal(t, "Rp1.250.000", FormatRupiah(1250000))
	assert.Equal(t, "-Rp5.000", FormatRupiah(-5000))
}

func TestFromDecimalRounds(t *testing.T) {
	assert.Equal(t, int64(10000), FromDecimal(decimal.RequireFromString("10000.00")))
	assert.Equal(t, int64(2501), FromDecimal(decimal.RequireFromString("2500.5")))
}

func TestFormatDateTimeUsesJakartaTime(t *testing.T) {
	ts := time.Date(2024, 3, 1, 3, 30, 0, 0, time.UTC)
	assert.Equal(t, "01/03/2024 10:30", FormatDateTime(ts))
	assert.Equal(t, "01/03/2024", FormatDate(ts))
}
