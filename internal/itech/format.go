package itech

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatNumber renders v without a trailing ".0" for whole numbers.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FormatFrequency renders MHz with a decimal comma, padded to seven
// characters when the value has exactly six (499,65 -> 499,650).
func FormatFrequency(mhz float64) string {
	s := strings.ReplaceAll(FormatNumber(mhz), ".", ",")
	if len(s) == 6 {
		s += "0"
	}
	return s
}

// ParseUnitValue parses replies such as "499,655 MHz" or "-20 dBm" into the
// number, accepting a decimal comma.
func ParseUnitValue(reply string) (float64, error) {
	fields := strings.Fields(reply)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty value")
	}
	num := strings.ReplaceAll(fields[0], ",", ".")
	num = strings.TrimRight(num, "%")
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", reply, err)
	}
	return v, nil
}
