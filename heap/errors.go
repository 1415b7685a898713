package heap

import "github.com/cockroachdb/errors"

var (
	// ErrMissingMandatoryHeap is returned from New when the device exposes no memory type for a
	// mandatory intent (device-local or host-visible). It cannot be recovered from.
	ErrMissingMandatoryHeap = errors.New("device has no memory type for a mandatory heap intent")
	// ErrDeviceMemoryExhausted marks allocation failures caused by the device heap running out, either
	// because the driver said so or because a configured heap size limit was reached
	ErrDeviceMemoryExhausted = errors.New("device memory exhausted")
	// ErrHostMemoryExhausted marks allocation failures caused by the driver running out of host memory.
	// Releasing host-side caches may allow a retry to succeed.
	ErrHostMemoryExhausted = errors.New("host memory exhausted")
	// ErrAlreadyMapped is returned from Block.Map when the block already has a live host mapping
	ErrAlreadyMapped = errors.New("memory block is already mapped")
)
