// Package uniform implements the per-frame bump allocator for transient uniform data. The backing
// memory is split into one region per frame in flight; recording goroutines push into the current
// region without locking and the region is reset when its turn comes around again.
package uniform

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/framecore/memutils"
)

const (
	DefaultFrameCapacity = 1024 * 1024
	DefaultAlignment     = 256
	DefaultPadding       = 256
)

// CreateOptions describes the layout of the backing memory
type CreateOptions struct {
	// FrameCapacity is the number of bytes each frame may push
	FrameCapacity int
	// Alignment is the offset alignment of every push, normally the device's
	// minUniformBufferOffsetAlignment. It must be a power of two.
	Alignment int
	// Padding trails each region so that a binding range that starts at the last push of a frame
	// never extends past the end of the buffer
	Padding int
	// Frames is the number of frames in flight
	Frames int
}

func (o *CreateOptions) setDefaults() {
	if o.FrameCapacity == 0 {
		o.FrameCapacity = DefaultFrameCapacity
	}
	if o.Alignment == 0 {
		o.Alignment = DefaultAlignment
	}
	if o.Padding == 0 {
		o.Padding = DefaultPadding
	}
}

func (o CreateOptions) validate() error {
	if o.Frames <= 0 {
		return errors.Newf("uniform.CreateOptions.Frames must be positive, but was %d", o.Frames)
	}
	if o.FrameCapacity < 0 || o.Padding < 0 {
		return errors.Newf("uniform.CreateOptions sizes must be positive: FrameCapacity %d, Padding %d", o.FrameCapacity, o.Padding)
	}
	return memutils.CheckPow2(o.Alignment, "uniform.CreateOptions.Alignment")
}

func (o CreateOptions) capacity() int {
	return memutils.AlignUp(o.FrameCapacity, uint(o.Alignment))
}

func (o CreateOptions) stride() int {
	return o.capacity() + memutils.AlignUp(o.Padding, uint(o.Alignment))
}

// RequiredSize returns the number of bytes of backing memory an Allocator with these options needs
func RequiredSize(options CreateOptions) (int, error) {
	options.setDefaults()
	err := options.validate()
	if err != nil {
		return 0, err
	}

	return options.Frames * options.stride(), nil
}

type region struct {
	base   int
	cursor atomic.Int64
}

// Allocator is the frame uniform bump allocator. TryPush and TryAllocate are safe for concurrent use;
// BeginFrame must only be called by the frame orchestrator once the region it is about to reuse is
// no longer read by the GPU.
type Allocator struct {
	memory    []byte
	alignment uint
	capacity  int
	padding   int

	regions []region
	current atomic.Int32
}

// New lays the regions out over memory, which must be at least RequiredSize bytes long
func New(memory []byte, options CreateOptions) (*Allocator, error) {
	required, err := RequiredSize(options)
	if err != nil {
		return nil, err
	}
	options.setDefaults()

	if len(memory) < required {
		return nil, errors.Newf("uniform memory is %d bytes, but %d are required", len(memory), required)
	}

	allocator := &Allocator{
		memory:    memory,
		alignment: uint(options.Alignment),
		capacity:  options.capacity(),
		padding:   options.stride() - options.capacity(),
		regions:   make([]region, options.Frames),
	}

	for i := range allocator.regions {
		allocator.regions[i].base = i * options.stride()
	}

	return allocator, nil
}

// BeginFrame advances to the next region and resets its cursor
func (a *Allocator) BeginFrame() {
	next := (int(a.current.Load()) + 1) % len(a.regions)
	a.regions[next].cursor.Store(0)
	a.current.Store(int32(next))

	memutils.DebugValidate(a)
}

// FrameIndex returns the index of the current region
func (a *Allocator) FrameIndex() int {
	return int(a.current.Load())
}

// TryAllocate reserves size bytes in the current region and returns the offset of the reservation
// from the start of the backing memory along with the reserved bytes. ok is false when the
// reservation would cross the frame's capacity; the caller should treat that as the frame being
// out of uniform space, not retry.
func (a *Allocator) TryAllocate(size int) (offset int, data []byte, ok bool) {
	// Oversized requests never touch the cursor, so AlignUp cannot overflow
	if size <= 0 || size > a.capacity {
		return 0, nil, false
	}

	aligned := memutils.AlignUp(size, a.alignment)
	r := &a.regions[a.current.Load()]

	end := int(r.cursor.Add(int64(aligned)))
	if end > a.capacity {
		return 0, nil, false
	}

	start := r.base + end - aligned
	return start, a.memory[start : start+size : start+size], true
}

// TryPush copies data into the current region and returns its offset from the start of the
// backing memory. ok is false when the push would cross the frame's capacity.
func (a *Allocator) TryPush(data []byte) (offset int, ok bool) {
	offset, dest, ok := a.TryAllocate(len(data))
	if !ok {
		return 0, false
	}

	copy(dest, data)
	return offset, true
}

// Used returns the number of bytes reserved in the current region, capped at the capacity
func (a *Allocator) Used() int {
	used := int(a.regions[a.current.Load()].cursor.Load())
	if used > a.capacity {
		return a.capacity
	}
	return used
}

// Capacity returns the number of bytes each frame may push
func (a *Allocator) Capacity() int {
	return a.capacity
}

// RegionOffset returns the offset of the current region from the start of the backing memory
func (a *Allocator) RegionOffset() int {
	return a.regions[a.current.Load()].base
}

// Validate checks that every region starts on the push alignment and that no cursor has gone negative
func (a *Allocator) Validate() error {
	for i := range a.regions {
		err := memutils.CheckAligned(a.regions[i].base, a.alignment, "region base")
		if err != nil {
			return errors.Wrapf(err, "region %d", i)
		}
		if a.regions[i].cursor.Load() < 0 {
			return errors.Newf("region %d cursor is negative", i)
		}
	}
	return nil
}

// BindingRange returns the largest descriptor range that stays inside the backing memory when bound
// at any push offset. Pushes larger than this must be bound with their own size.
func (a *Allocator) BindingRange() int {
	return a.padding
}
