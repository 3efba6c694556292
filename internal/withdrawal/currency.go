package withdrawal

// countryCurrency maps ISO 3166 alpha-2 codes of supported payout countries to their currency
var countryCurrency = map[string]string{
	"AT": "EUR", "BE": "EUR", "CY": "EUR", "DE": "EUR", "EE": "EUR", "ES": "EUR",
	"FI": "EUR", "FR": "EUR", "GR": "EUR", "HR": "EUR", "IE": "EUR", "IT": "EUR",
	"LT": "EUR", "LU": "EUR", "LV": "EUR", "MT": "EUR", "NL": "EUR", "PT": "EUR",
	"SI": "EUR", "SK": "EUR",
	"GB": "GBP",
	"CH": "CHF", "LI": "CHF",
	"SE": "SEK",
	"NO": "NOK",
	"DK": "DKK",
	"PL": "PLN",
	"CZ": "CZK",
	"HU": "HUF",
	"RO": "RON",
	"BG": "BGN",
	"US": "USD",
	"CA": "CAD",
	"AU": "AUD",
	"NZ": "NZD",
	"SG": "SGD",
	"HK": "HKD",
	"JP": "JPY",
	"MA": "MAD",
}

// CurrencyForCountry returns the payout currency of a country
func CurrencyForCountry(country string) (string, bool) {
	c, ok := countryCurrency[country]
	return c, ok
}
