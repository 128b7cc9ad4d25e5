// Package validation содержит функции валидации входных данных.
package validation

import "unicode"

// IsValidBarcode проверяет штрихкод EAN-13 (а также EAN-8 и UPC-A) по контрольной цифре.
func IsValidBarcode(code string) bool {
	switch len(code) {
	case 8, 12, 13:
	default:
		return false
	}

	sum := 0
	triple := true

	for i := len(code) - 2; i >= 0; i-- {
		ch := rune(code[i])
		if !unicode.IsDigit(ch) {
			return false
		}
		digit := int(ch - '0')
		if triple {
			digit *= 3
		}
		sum += digit
		triple = !triple
	}

	last := rune(code[len(code)-1])
	if !unicode.IsDigit(last) {
		return false
	}

	return (10-sum%10)%10 == int(last-'0')
}
