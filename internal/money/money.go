package money

import (
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.Indonesian)

// FormatRupiah renders a whole-rupiah amount with Indonesian thousands
// separators, e.g. Rp10.000.
func FormatRupiah(amount int64) string {
	if amount < 0 {
		return "-" + printer.Sprintf("Rp%d", -amount)
	}
	return printer.Sprintf("Rp%d", amount)
}

// FromDecimal rounds a stored decimal amount to whole rupiah.
func FromDecimal(value decimal.Decimal) int64 {
	return value.Round(0).IntPart()
}

func ToDecimal(amount int64) decimal.Decimal {
	return decimal.NewFromInt(amount)
}

var jakarta = loadJakarta()

func loadJakarta() *time.Location {
	loc, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		return time.FixedZone("WIB", 7*60*60)
	}
	return loc
}

// FormatDateTime renders a timestamp in Western Indonesia time for receipts.
func FormatDateTime(t time.Time) string {
	return t.In(jakarta).Format("02/01/2006 15:04")
}

// FormatDate renders the calendar day in Western Indonesia time.
func FormatDate(t time.Time) string {
	return t.In(jakarta).Format("02/01/2006")
}
