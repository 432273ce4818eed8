package normalize

import "strconv"

var numUnits = []string{
	"cero", "uno", "dos", "tres", "cuatro", "cinco", "seis", "siete", "ocho",
	"nueve", "diez", "once", "doce", "trece", "catorce", "quince", "dieciséis",
	"diecisiete", "dieciocho", "diecinueve", "veinte", "veintiuno", "veintidós",
	"veintitrés", "veinticuatro", "veinticinco", "veintiséis", "veintisiete",
	"veintiocho", "veintinueve",
}

var numTens = []string{
	"", "", "", "treinta", "cuarenta", "cincuenta", "sesenta", "setenta",
	"ochenta", "noventa",
}

var numHundreds = []string{
	"", "ciento", "doscientos", "trescientos", "cuatrocientos", "quinientos",
	"seiscientos", "setecientos", "ochocientos", "novecientos",
}

// NumberToWords converts an integer in [0, 9999] to its Spanish cardinal
// form. Values outside that range are returned as digits.
func NumberToWords(n int) string {
	if n < 0 || n > 9999 {
		return strconv.Itoa(n)
	}
	return numberToWords(n)
}

func numberToWords(n int) string {
	switch {
	case n < 30:
		return numUnits[n]
	case n < 100:
		if n%10 == 0 {
			return numTens[n/10]
		}
		return numTens[n/10] + " y " + numUnits[n%10]
	case n == 100:
		return "cien"
	case n < 1000:
		if n%100 == 0 {
			return numHundreds[n/100]
		}
		return numHundreds[n/100] + " " + numberToWords(n%100)
	default:
		prefix := "mil"
		if n >= 2000 {
			prefix = numUnits[n/1000] + " mil"
		}
		if n%1000 == 0 {
			return prefix
		}
		return prefix + " " + numberToWords(n%1000)
	}
}

var romanValues = map[byte]int{
	'I': 1, 'V': 5, 'X': 10, 'L': 50,
	'C': 100, 'D': 500, 'M': 1000,
}

// romanToInt parses an uppercase Roman numeral, returning 0 for invalid input.
func romanToInt(s string) int {
	result := 0
	for i := 0; i < len(s); i++ {
		val, ok := romanValues[s[i]]
		if !ok {
			return 0
		}
		if i+1 < len(s) && romanValues[s[i+1]] > val {
			result -= val
		} else {
			result += val
		}
	}
	return result
}
