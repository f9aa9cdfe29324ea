// Package money converts decimal monetary amounts to and from the integer
// minor units payment providers expect. All arithmetic is fixed-point; float
// rounding here would break the tamper check downstream.
package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

var ErrUnknownCurrency = errors.New("unknown currency code")

// iso4217Decimals lists the currencies that deviate from the two-decimal
// default. Everything else is assumed to be 2.
var iso4217Decimals = map[string]int{
	"BHD": 3, "BIF": 0, "CLF": 4, "CLP": 0, "DJF": 0, "GNF": 0,
	"IQD": 3, "ISK": 0, "JOD": 3, "JPY": 0, "KMF": 0, "KRW": 0,
	"KWD": 3, "LYD": 3, "OMR": 3, "PYG": 0, "RWF": 0, "TND": 3,
	"UGX": 0, "UYI": 0, "VND": 0, "VUV": 0, "XAF": 0, "XOF": 0,
	"XPF": 0,
}

var knownCurrencies = map[string]struct{}{
	"AED": {}, "AUD": {}, "BHD": {}, "BIF": {}, "BRL": {}, "CAD": {},
	"CHF": {}, "CLF": {}, "CLP": {}, "CNY": {}, "CZK": {}, "DJF": {},
	"DKK": {}, "EUR": {}, "GBP": {}, "GNF": {}, "HKD": {}, "HUF": {},
	"IDR": {}, "ILS": {}, "INR": {}, "IQD": {}, "ISK": {}, "JOD": {},
	"JPY": {}, "KMF": {}, "KRW": {}, "KWD": {}, "LYD": {}, "MXN": {},
	"MYR": {}, "NOK": {}, "NZD": {}, "OMR": {}, "PHP": {}, "PLN": {},
	"PYG": {}, "RON": {}, "RWF": {}, "SEK": {}, "SGD": {}, "THB": {},
	"TND": {}, "TRY": {}, "UGX": {}, "USD": {}, "UYI": {}, "VND": {},
	"VUV": {}, "XAF": {}, "XOF": {}, "XPF": {}, "ZAR": {},
}

// Decimals returns the number of decimal places for a currency, letting a
// provider-specific exception table take precedence over ISO 4217.
func Decimals(currency string, overrides map[string]int) (int, error) {
	if _, ok := knownCurrencies[currency]; !ok {
		return 0, ErrUnknownCurrency
	}
	if overrides != nil {
		if k, ok := overrides[currency]; ok {
			return k, nil
		}
	}
	if k, ok := iso4217Decimals[currency]; ok {
		return k, nil
	}
	return 2, nil
}

// ToMinorUnits converts a decimal amount to the provider's integer minor
// units, e.g. 49.99 EUR -> 4999, 500 JPY -> 500.
func ToMinorUnits(amount decimal.Decimal, currency string, overrides map[string]int) (int64, error) {
	k, err := Decimals(currency, overrides)
	if err != nil {
		return 0, err
	}
	return amount.Round(int32(k)).Shift(int32(k)).IntPart(), nil
}

// FromMinorUnits is the inverse of ToMinorUnits.
func FromMinorUnits(minor int64, currency string, overrides map[string]int) (decimal.Decimal, error) {
	k, err := Decimals(currency, overrides)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromInt(minor).Shift(int32(-k)), nil
}
