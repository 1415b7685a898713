package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is returned from CheckPow2 when the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// AlignmentError is returned from CheckAligned when an offset does not sit on the required boundary
var AlignmentError error = errors.New("offset is not aligned")
