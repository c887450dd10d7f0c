package order

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("taxid", func(fl validator.FieldLevel) bool {
		return ValidTaxID(fl.Field().String())
	})
	_ = v.RegisterValidation("zipcode", func(fl validator.FieldLevel) bool {
		return len(digits(fl.Field().String())) == 8
	})
	return v
}

// NormalizeTaxID strips punctuation from a CPF, e.g. "123.456.789-09"
// becomes "12345678909".
func NormalizeTaxID(s string) string {
	return digits(s)
}

// ValidTaxID reports whether s is a well-formed CPF: eleven digits, not all
// equal, with both check digits matching.
func ValidTaxID(s string) bool {
	d := digits(s)
	if len(d) != 11 || strings.Count(d, d[:1]) == 11 {
		return false
	}
	return checkDigit(d[:9]) == d[9] && checkDigit(d[:10]) == d[10]
}

func checkDigit(prefix string) byte {
	sum := 0
	weight := len(prefix) + 1
	for i := range len(prefix) {
		sum += int(prefix[i]-'0') * (weight - i)
	}
	r := sum * 10 % 11
	if r == 10 {
		r = 0
	}
	return byte('0' + r)
}

func digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
