package view

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var printer = message.NewPrinter(language.BrazilianPortuguese)

// Money formats d as Brazilian reais, e.g. "R$ 1.234,56".
func Money(d decimal.Decimal) string {
	rounded := d.Round(2)
	sign := ""
	if rounded.IsNegative() {
		sign = "-"
		rounded = rounded.Abs()
	}
	return sign + "R$ " + printer.Sprint(number.Decimal(rounded.InexactFloat64(), number.Scale(2)))
}

// Percent formats a percentage with up to four decimals, e.g. "12,5%".
func Percent(d decimal.Decimal) string {
	return printer.Sprint(number.Decimal(d.InexactFloat64(), number.MaxFractionDigits(4))) + "%"
}
