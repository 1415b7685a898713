// Package bindless manages the renderer's single persistent descriptor set. Resources are bound by
// acquiring an integer slot in one of five fixed-capacity arrays and writing the resource into it;
// shaders index the arrays with the slot number.
package bindless

import (
	"log/slog"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/framecore/gpu"
	"github.com/vkngwrapper/framecore/memutils"
)

const (
	DefaultSamplerCapacity            = 8192
	DefaultStorageImageCapacity       = 128
	DefaultStorageBufferCapacity      = 512
	DefaultUniformTexelBufferCapacity = 128
	DefaultStorageTexelBufferCapacity = 128
)

// CreateOptions sets the capacity of every class. Zero fields use the defaults.
type CreateOptions struct {
	Samplers            int
	StorageImages       int
	StorageBuffers      int
	UniformTexelBuffers int
	StorageTexelBuffers int
}

func (o CreateOptions) capacities() [classCount]int {
	capacities := [classCount]int{
		ClassSampler:            o.Samplers,
		ClassStorageImage:       o.StorageImages,
		ClassStorageBuffer:      o.StorageBuffers,
		ClassUniformTexelBuffer: o.UniformTexelBuffers,
		ClassStorageTexelBuffer: o.StorageTexelBuffers,
	}
	defaults := [classCount]int{
		DefaultSamplerCapacity,
		DefaultStorageImageCapacity,
		DefaultStorageBufferCapacity,
		DefaultUniformTexelBufferCapacity,
		DefaultStorageTexelBufferCapacity,
	}

	for class := range capacities {
		if capacities[class] == 0 {
			capacities[class] = defaults[class]
		}
	}

	return capacities
}

// Resource is the view written into a slot. Only the fields used by the slot's class are read:
// Sampler and ImageView for ClassSampler, ImageView for ClassStorageImage, Buffer for
// ClassStorageBuffer and TexelBufferView for the texel buffer classes.
type Resource struct {
	Sampler   gpu.Sampler
	ImageView gpu.ImageView
	// ImageLayout defaults to shader-read-only-optimal for samplers and general for storage images
	ImageLayout core1_0.ImageLayout

	Buffer gpu.Buffer
	Offset int
	// Range of 0 covers the buffer from Offset to its end
	Range int

	TexelBufferView gpu.BufferView
}

// Table is the bindless descriptor table. Slot bookkeeping is safe for concurrent use.
type Table struct {
	logger *slog.Logger
	set    gpu.DescriptorSet

	capacities [classCount]int

	slotMutex sync.Mutex
	slots     [classCount]*bitset.BitSet

	writeMutex sync.Mutex
}

// New validates the capacities against the device's update-after-bind limits and creates the
// partially-bound descriptor set. Capacities that do not fit are a startup configuration error
// marked with ErrCapacityExceedsLimit.
func New(logger *slog.Logger, device gpu.Device, options CreateOptions) (*Table, error) {
	if logger == nil {
		panic("attempted to create a descriptor table with a nil logger")
	}

	capacities := options.capacities()
	for _, class := range Classes() {
		if capacities[class] < 0 {
			return nil, errors.Newf("%s capacity must be positive, but was %d", class, capacities[class])
		}
	}

	err := checkLimits(capacities, device.DescriptorLimits())
	if err != nil {
		return nil, err
	}

	bindings := make([]gpu.DescriptorBinding, 0, classCount)
	for _, class := range Classes() {
		bindings = append(bindings, gpu.DescriptorBinding{
			Binding: int(class),
			Type:    class.DescriptorType(),
			Count:   capacities[class],
		})
	}

	set, res, err := device.CreateDescriptorSet(bindings)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create bindless descriptor set: %s", res)
	}

	table := &Table{
		logger:     logger,
		set:        set,
		capacities: capacities,
	}
	for _, class := range Classes() {
		table.slots[class] = bitset.New(uint(capacities[class]))
	}

	logger.Debug("Table::New",
		slog.Int("Samplers", capacities[ClassSampler]),
		slog.Int("StorageImages", capacities[ClassStorageImage]),
		slog.Int("StorageBuffers", capacities[ClassStorageBuffer]),
		slog.Int("UniformTexelBuffers", capacities[ClassUniformTexelBuffer]),
		slog.Int("StorageTexelBuffers", capacities[ClassStorageTexelBuffer]),
	)

	return table, nil
}

// checkLimits compares the capacities against the device limits. Combined image samplers count
// against both the sampler and sampled image limits, and texel buffers count against the sampled
// and storage image limits.
func checkLimits(capacities [classCount]int, limits gpu.DescriptorLimits) error {
	checks := []struct {
		name  string
		used  int
		limit int
	}{
		{"samplers", capacities[ClassSampler], limits.Samplers},
		{"sampled images", capacities[ClassSampler] + capacities[ClassUniformTexelBuffer], limits.SampledImages},
		{"storage images", capacities[ClassStorageImage] + capacities[ClassStorageTexelBuffer], limits.StorageImages},
		{"storage buffers", capacities[ClassStorageBuffer], limits.StorageBuffers},
	}

	for _, check := range checks {
		if check.used > check.limit {
			return errors.Wrapf(ErrCapacityExceedsLimit, "%d %s requested, device allows %d", check.used, check.name, check.limit)
		}
	}

	return nil
}

func (t *Table) DescriptorSet() gpu.DescriptorSet {
	return t.set
}

// AcquireSlot marks the lowest free slot of the class live and returns its index. It fails with
// ErrTableExhausted when every slot is live.
func (t *Table) AcquireSlot(class Class) (int, error) {
	if !class.valid() {
		return -1, errors.Newf("unknown descriptor class %s", class)
	}

	t.slotMutex.Lock()
	defer t.slotMutex.Unlock()

	index, ok := t.slots[class].NextClear(0)
	if !ok || int(index) >= t.capacities[class] {
		return -1, errors.Wrapf(ErrTableExhausted, "%s has %d live slots", class, t.capacities[class])
	}

	t.slots[class].Set(index)
	return int(index), nil
}

// ReleaseSlot returns a slot to the free pool. The caller must guarantee that no submitted work
// still reads the slot; the frame engine defers this call until the GPU has finished with it.
func (t *Table) ReleaseSlot(class Class, index int) error {
	if !class.valid() {
		return errors.Newf("unknown descriptor class %s", class)
	}

	t.slotMutex.Lock()
	defer t.slotMutex.Unlock()

	if index < 0 || index >= t.capacities[class] || !t.slots[class].Test(uint(index)) {
		return errors.Wrapf(ErrSlotNotLive, "%s slot %d", class, index)
	}

	t.slots[class].Clear(uint(index))
	return nil
}

// IsLive reports whether the slot is currently acquired
func (t *Table) IsLive(class Class, index int) bool {
	if !class.valid() || index < 0 || index >= t.capacities[class] {
		return false
	}

	t.slotMutex.Lock()
	defer t.slotMutex.Unlock()

	return t.slots[class].Test(uint(index))
}

// WriteBinding writes the resource into a live slot. The set is update-after-bind, so this is legal
// while earlier submissions that use the set are still executing; only work recorded after the
// write observes the new resource.
func (t *Table) WriteBinding(class Class, index int, resource Resource) error {
	if !t.IsLive(class, index) {
		return errors.Wrapf(ErrSlotNotLive, "%s slot %d", class, index)
	}

	write, err := buildWrite(class, index, resource)
	if err != nil {
		return err
	}

	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	return t.set.Write([]gpu.DescriptorWrite{write})
}

func buildWrite(class Class, index int, resource Resource) (gpu.DescriptorWrite, error) {
	write := gpu.DescriptorWrite{
		Binding:      int(class),
		ArrayElement: index,
		Type:         class.DescriptorType(),
	}

	switch class {
	case ClassSampler:
		if resource.Sampler == nil || resource.ImageView == nil {
			return write, errors.Newf("%s requires both a sampler and an image view", class)
		}
		write.Sampler = resource.Sampler
		write.ImageView = resource.ImageView
		write.ImageLayout = resource.ImageLayout
		if write.ImageLayout == core1_0.ImageLayoutUndefined {
			write.ImageLayout = core1_0.ImageLayoutShaderReadOnlyOptimal
		}
	case ClassStorageImage:
		if resource.ImageView == nil {
			return write, errors.Newf("%s requires an image view", class)
		}
		write.ImageView = resource.ImageView
		write.ImageLayout = resource.ImageLayout
		if write.ImageLayout == core1_0.ImageLayoutUndefined {
			write.ImageLayout = core1_0.ImageLayoutGeneral
		}
	case ClassStorageBuffer:
		if resource.Buffer == nil {
			return write, errors.Newf("%s requires a buffer", class)
		}
		size := resource.Buffer.Size()
		write.Buffer = resource.Buffer
		write.Offset = resource.Offset
		write.Range = resource.Range
		if write.Range == 0 {
			write.Range = size - resource.Offset
		}
		if resource.Offset < 0 || write.Range <= 0 || resource.Offset+write.Range > size {
			return write, errors.Newf("range [%d, %d) is outside the buffer, which is size %d", resource.Offset, resource.Offset+write.Range, size)
		}
	case ClassUniformTexelBuffer, ClassStorageTexelBuffer:
		if resource.TexelBufferView == nil {
			return write, errors.Newf("%s requires a buffer view", class)
		}
		write.TexelBufferView = resource.TexelBufferView
	}

	return write, nil
}

func (t *Table) Capacity(class Class) int {
	return t.capacities[class]
}

// Live returns the number of acquired slots in the class
func (t *Table) Live(class Class) int {
	t.slotMutex.Lock()
	defer t.slotMutex.Unlock()

	return int(t.slots[class].Count())
}

func (t *Table) Validate() error {
	t.slotMutex.Lock()
	defer t.slotMutex.Unlock()

	for _, class := range Classes() {
		slots := t.slots[class]
		if int(slots.Len()) != t.capacities[class] {
			return errors.Newf("%s bitset has length %d but capacity %d", class, slots.Len(), t.capacities[class])
		}
		if int(slots.Count()) > t.capacities[class] {
			return errors.Newf("%s has %d live slots but capacity %d", class, slots.Count(), t.capacities[class])
		}
	}

	return nil
}

func (t *Table) BuildStatsString() string {
	memutils.DebugValidate(t)

	writer := jwriter.NewWriter()
	obj := writer.Object()

	t.slotMutex.Lock()
	for _, class := range Classes() {
		classObj := obj.Name(class.String()).Object()
		classObj.Name("Binding").Int(int(class))
		classObj.Name("Capacity").Int(t.capacities[class])
		classObj.Name("Live").Int(int(t.slots[class].Count()))
		classObj.End()
	}
	t.slotMutex.Unlock()

	obj.End()
	return string(writer.Bytes())
}

// Destroy destroys the descriptor set. The device must be idle.
func (t *Table) Destroy() {
	for _, class := range Classes() {
		if live := t.Live(class); live > 0 {
			t.logger.Warn("descriptor slots were still live when the table was destroyed",
				slog.String("Class", class.String()),
				slog.Int("Live", live),
			)
		}
	}

	t.set.Destroy()
}
