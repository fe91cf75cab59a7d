package notification

import (
	"strings"

	"github.com/shopspring/decimal"
)

var currencySymbols = map[string]string{
	"usd": "$",
	"eur": "€",
	"gbp": "£",
	"jpy": "¥",
	"idr": "Rp",
}

var zeroDecimalCurrencies = map[string]bool{
	"jpy": true,
	"krw": true,
	"vnd": true,
}

// FormatMoney renders an amount in minor units, e.g. 1250 usd -> "$12.50".
func FormatMoney(amount int64, currency string) string {
	currency = strings.ToLower(strings.TrimSpace(currency))
	places := int32(2)
	if zeroDecimalCurrencies[currency] {
		places = 0
	}
	value := decimal.New(amount, -places).StringFixed(places)
	if symbol, ok := currencySymbols[currency]; ok {
		if strings.HasPrefix(value, "-") {
			return "-" + symbol + value[1:]
		}
		return symbol + value
	}
	return value + " " + strings.ToUpper(currency)
}
