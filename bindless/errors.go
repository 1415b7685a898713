package bindless

import "github.com/cockroachdb/errors"

var (
	// ErrTableExhausted is returned from AcquireSlot when every slot of the class is live
	ErrTableExhausted = errors.New("descriptor table class is full")
	// ErrSlotNotLive is returned when releasing or writing a slot that was never acquired
	ErrSlotNotLive = errors.New("descriptor slot is not live")
	// ErrCapacityExceedsLimit is returned from New when the configured capacities do not fit within
	// the device's update-after-bind descriptor limits
	ErrCapacityExceedsLimit = errors.New("descriptor table capacity exceeds device limit")
)
