package reports

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var brPrinter = message.NewPrinter(language.BrazilianPortuguese)

// FormatBRL renders cents as a pt-BR currency string, e.g. 1234567 ->
// "R$ 12.345,67".
func FormatBRL(cents int64) string {
	value := float64(cents) / 100
	return brPrinter.Sprintf("R$ %v", number.Decimal(value,
		number.MinFractionDigits(2),
		number.MaxFractionDigits(2)))
}
