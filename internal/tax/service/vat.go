package service

import (
	"regexp"
	"strings"
)

// euBloc is the economic bloc for which the reverse-charge mechanism
// applies. Membership drives tax liability, not currency.
var euBloc = map[string]struct{}{
	"AT": {}, "BE": {}, "BG": {}, "HR": {}, "CY": {}, "CZ": {}, "DK": {},
	"EE": {}, "FI": {}, "FR": {}, "DE": {}, "GR": {}, "HU": {}, "IE": {},
	"IT": {}, "LV": {}, "LT": {}, "LU": {}, "MT": {}, "NL": {}, "PL": {},
	"PT": {}, "RO": {}, "SK": {}, "SI": {}, "ES": {}, "SE": {},
}

// vatFormat validates the general shape of an EU VAT number: a two
// letter country prefix followed by 2-12 alphanumerics. The network
// VIES check is an external collaborator; only the format is verified
// here.
var vatFormat = regexp.MustCompile(`^[A-Z]{2}[0-9A-Z]{2,12}$`)

func inEUBloc(country string) bool {
	_, ok := euBloc[country]
	return ok
}

// ValidVATFormat reports whether the VAT number is well formed and its
// prefix names a bloc member.
func ValidVATFormat(vat string) bool {
	vat = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(vat), " ", ""))
	if !vatFormat.MatchString(vat) {
		return false
	}
	return inEUBloc(vat[:2])
}
