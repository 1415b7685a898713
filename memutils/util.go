package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

type Number interface {
	constraints.Integer
}

// CheckPow2 returns PowerOfTwoError, annotated with name, if number is zero or not a power of two
func CheckPow2[T Number](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// CheckAligned returns AlignmentError if offset is not a multiple of alignment. alignment must be a power of two.
func CheckAligned(offset int, alignment uint, name string) error {
	if AlignDown(offset, alignment) != offset {
		return cerrors.Wrapf(AlignmentError, "%s is %d, alignment is %d", name, offset, alignment)
	}
	return nil
}

func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}
