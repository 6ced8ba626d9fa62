// Package instrument holds the argument checks and sentinel errors shared
// by the bench instrument drivers.
package instrument

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrOutOfRange reports a numeric argument outside the accepted range.
	ErrOutOfRange = errors.New("value out of range")
	// ErrInvalidValue reports an argument that is not a finite number.
	ErrInvalidValue = errors.New("invalid value")
	// ErrWrongDevice reports an identity reply from an unexpected instrument.
	ErrWrongDevice = errors.New("wrong hardware device connected")
)

// CheckFinite rejects NaN and infinities.
func CheckFinite(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s %v: %w", name, v, ErrInvalidValue)
	}
	return nil
}

// CheckRange rejects non-finite values and values outside [lo, hi].
func CheckRange(name string, v, lo, hi float64) error {
	if err := CheckFinite(name, v); err != nil {
		return err
	}
	if v < lo || v > hi {
		return fmt.Errorf("%s %v outside [%v, %v]: %w", name, v, lo, hi, ErrOutOfRange)
	}
	return nil
}

// CheckMin rejects non-finite values and values below lo.
func CheckMin(name string, v, lo float64) error {
	if err := CheckFinite(name, v); err != nil {
		return err
	}
	if v < lo {
		return fmt.Errorf("%s %v below %v: %w", name, v, lo, ErrOutOfRange)
	}
	return nil
}
