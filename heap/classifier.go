// Package heap picks a memory type for each of the renderer's memory intents once per device and
// allocates driver memory blocks for individual resources from those choices.
package heap

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/framecore/gpu"
	"github.com/vkngwrapper/framecore/internal/utils"
	"github.com/vkngwrapper/framecore/memutils"
)

// CreateFlags indicate specific classifier behaviors to activate or deactivate
type CreateFlags int32

var classifierCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	classifierCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return classifierCreateFlagsMapping.FlagsToString(f)
}

const (
	// CreateExternallySynchronized ensures that the classifier and the blocks it creates will not be
	// synchronized internally. The consumer must guarantee they are used from only one goroutine at a time.
	CreateExternallySynchronized CreateFlags = 1 << iota
)

func init() {
	CreateExternallySynchronized.Register("CreateExternallySynchronized")
}

// CreateOptions contains optional settings when creating a Classifier
type CreateOptions struct {
	Flags CreateFlags

	// MemoryCallbackOptions is an optional set of callbacks that will be executed when driver memory
	// is allocated or freed by this classifier
	MemoryCallbackOptions *MemoryCallbackOptions

	// HeapSizeLimits can be left empty. If it is provided, it must have one entry per memory heap of
	// the device. Each entry is either the maximum number of bytes that may be allocated from the
	// heap, or 0 or -1 for no limit. Allocations beyond the limit fail with ErrDeviceMemoryExhausted
	// without calling the driver.
	HeapSizeLimits []int
}

// Classifier owns the per-intent memory type Selection for a device and allocates Blocks from it
type Classifier struct {
	useMutex bool
	logger   *slog.Logger
	device   gpu.Device

	memoryProperties *core1_0.PhysicalDeviceMemoryProperties
	selection        *Selection
	heapLimits       []int
	callbacks        memoryCallbacks

	blockCount [common.MaxMemoryHeaps]uint32
	blockBytes [common.MaxMemoryHeaps]uint64

	blocks blockList
}

// New classifies the device's memory types and returns a Classifier ready to allocate. It fails
// with ErrMissingMandatoryHeap if the device has no device-local or no host-visible memory type.
func New(logger *slog.Logger, device gpu.Device, options CreateOptions) (*Classifier, error) {
	if logger == nil {
		panic("attempted to create a heap classifier with a nil logger")
	}
	if device == nil {
		panic("attempted to create a heap classifier with a nil device")
	}

	memoryProperties := device.MemoryProperties()
	selection, err := Classify(memoryProperties)
	if err != nil {
		return nil, err
	}

	heapCount := len(memoryProperties.MemoryHeaps)
	heapLimitCount := len(options.HeapSizeLimits)
	if heapLimitCount > 0 && heapLimitCount != heapCount {
		return nil, errors.Newf("heap.CreateOptions.HeapSizeLimits was provided with %d entries, but the device has %d memory heaps", heapLimitCount, heapCount)
	}

	heapLimits := make([]int, heapCount)
	copy(heapLimits, options.HeapSizeLimits)

	classifier := &Classifier{
		useMutex:         options.Flags&CreateExternallySynchronized == 0,
		logger:           logger,
		device:           device,
		memoryProperties: memoryProperties,
		selection:        selection,
		heapLimits:       heapLimits,
	}
	classifier.callbacks = memoryCallbacks{
		Callbacks:  options.MemoryCallbackOptions,
		Classifier: classifier,
	}
	classifier.blocks.Init(classifier.useMutex)

	for _, intent := range Intents() {
		choice := selection.Choice(intent)
		logger.Debug("Classifier::New",
			slog.String("Intent", intent.String()),
			slog.Int("MemoryTypeIndex", choice.MemoryTypeIndex),
			slog.Int("HeapIndex", choice.HeapIndex),
			slog.String("Flags", choice.PropertyFlags.String()),
			slog.Bool("Fallback", choice.Fallback),
		)
		if choice.Fallback {
			logger.Warn("memory intent is using a fallback memory type", slog.String("Intent", intent.String()))
		}
	}

	return classifier, nil
}

func (c *Classifier) Selection() *Selection {
	return c.selection
}

// Allocate allocates a block of driver memory for a resource with the provided requirements from
// the memory type chosen for intent. If the resource's memory type bits exclude that memory type,
// Allocate returns a nil block and a nil error: the caller may retry with a different intent.
//
// Driver out-of-memory failures are marked with ErrDeviceMemoryExhausted or ErrHostMemoryExhausted.
func (c *Classifier) Allocate(requirements core1_0.MemoryRequirements, intent Intent) (*Block, error) {
	c.logger.Debug("Classifier::Allocate", slog.String("Intent", intent.String()), slog.Int("Size", requirements.Size))

	if intent < 0 || intent >= intentCount {
		return nil, errors.Newf("unknown memory intent %s", intent)
	}

	if requirements.Size <= 0 {
		return nil, errors.Newf("attempted to allocate a memory block of size %d", requirements.Size)
	}

	choice := c.selection.Choice(intent)
	if requirements.MemoryTypeBits&(1<<uint32(choice.MemoryTypeIndex)) == 0 {
		c.logger.Debug("  Resource is incompatible with memory type",
			slog.Int("MemoryTypeIndex", choice.MemoryTypeIndex),
			slog.Uint64("MemoryTypeBits", uint64(requirements.MemoryTypeBits)),
		)
		return nil, nil
	}

	memory, res, err := c.allocateDeviceMemory(choice.MemoryTypeIndex, requirements.Size)
	if err != nil {
		return nil, classifyAllocationError(res, err)
	}

	block := &Block{
		id:              uuid.New(),
		classifier:      c,
		intent:          intent,
		heapIndex:       choice.HeapIndex,
		memoryTypeIndex: choice.MemoryTypeIndex,
		size:            requirements.Size,
		flags:           choice.PropertyFlags,
		memory:          memory,
		mapMutex:        utils.OptionalMutex{UseMutex: c.useMutex},
	}
	c.blocks.Register(block)
	memutils.DebugValidate(&c.blocks)

	return block, nil
}

// AllocateForBuffer allocates a block for the buffer and binds it. A nil block with a nil error
// means the buffer cannot live in the intent's memory type.
func (c *Classifier) AllocateForBuffer(buffer gpu.Buffer, intent Intent) (*Block, error) {
	c.logger.Debug("Classifier::AllocateForBuffer")

	block, err := c.Allocate(buffer.MemoryRequirements(), intent)
	if block == nil || err != nil {
		return nil, err
	}

	res, err := buffer.BindMemory(block.memory, block.offset)
	if err != nil {
		block.Free()
		return nil, errors.Wrapf(err, "failed to bind buffer memory: %s", res)
	}

	return block, nil
}

// AllocateForImage allocates a block for the image and binds it. A nil block with a nil error
// means the image cannot live in the intent's memory type.
func (c *Classifier) AllocateForImage(image gpu.Image, intent Intent) (*Block, error) {
	c.logger.Debug("Classifier::AllocateForImage")

	block, err := c.Allocate(image.MemoryRequirements(), intent)
	if block == nil || err != nil {
		return nil, err
	}

	res, err := image.BindMemory(block.memory, block.offset)
	if err != nil {
		block.Free()
		return nil, errors.Wrapf(err, "failed to bind image memory: %s", res)
	}

	return block, nil
}

func classifyAllocationError(res common.VkResult, err error) error {
	switch res {
	case core1_0.VKErrorOutOfDeviceMemory:
		return errors.Mark(err, ErrDeviceMemoryExhausted)
	case core1_0.VKErrorOutOfHostMemory:
		return errors.Mark(err, ErrHostMemoryExhausted)
	}
	return err
}

func (c *Classifier) addBlockAllocationWithBudget(heapIndex, allocationSize, maxAllocatable int) (common.VkResult, error) {
	for {
		currentVal := atomic.LoadUint64(&c.blockBytes[heapIndex])
		targetVal := currentVal + uint64(allocationSize)

		if targetVal > uint64(maxAllocatable) {
			return core1_0.VKErrorOutOfDeviceMemory, errors.Wrapf(core1_0.VKErrorOutOfDeviceMemory.ToError(),
				"heap %d limit of %d bytes would be exceeded", heapIndex, maxAllocatable)
		}

		if atomic.CompareAndSwapUint64(&c.blockBytes[heapIndex], currentVal, targetVal) {
			break
		}
	}

	atomic.AddUint32(&c.blockCount[heapIndex], 1)
	return core1_0.VKSuccess, nil
}

func (c *Classifier) removeBlockAllocation(heapIndex, allocationSize int) {
	if atomic.LoadUint64(&c.blockBytes[heapIndex]) < uint64(allocationSize) {
		panic(fmt.Sprintf("block bytes for heapIndex %d went negative", heapIndex))
	}
	atomic.AddUint64(&c.blockBytes[heapIndex], uint64(-allocationSize))

	if atomic.LoadUint32(&c.blockCount[heapIndex]) == 0 {
		panic(fmt.Sprintf("block count for heapIndex %d went negative", heapIndex))
	}
	atomic.AddUint32(&c.blockCount[heapIndex], ^uint32(0))
}

func (c *Classifier) allocateDeviceMemory(memoryTypeIndex, size int) (memory gpu.DeviceMemory, res common.VkResult, err error) {
	heapIndex := c.memoryProperties.MemoryTypes[memoryTypeIndex].HeapIndex

	heapLimit := c.heapLimits[heapIndex]
	if heapLimit <= 0 {
		atomic.AddUint64(&c.blockBytes[heapIndex], uint64(size))
		atomic.AddUint32(&c.blockCount[heapIndex], 1)
	} else {
		maxSize := heapLimit
		heapSize := c.memoryProperties.MemoryHeaps[heapIndex].Size
		if heapSize > 0 && heapSize < maxSize {
			maxSize = heapSize
		}
		res, err = c.addBlockAllocationWithBudget(heapIndex, size, maxSize)
		if err != nil {
			return nil, res, err
		}
	}
	defer func() {
		// If we failed out, roll back the block allocation
		if err != nil {
			c.removeBlockAllocation(heapIndex, size)
		}
	}()

	memory, res, err = c.device.AllocateMemory(memoryTypeIndex, size)
	if err != nil {
		return nil, res, err
	}

	c.callbacks.Allocate(memoryTypeIndex, memory, size)
	return memory, res, nil
}

func (c *Classifier) freeBlock(block *Block) {
	c.blocks.Unregister(block)

	c.callbacks.Free(block.memoryTypeIndex, block.memory, block.size)
	block.memory.Free()

	c.removeBlockAllocation(block.heapIndex, block.size)
	memutils.DebugValidate(&c.blocks)
}

// HeapStatistics returns the number of live blocks and the bytes they hold for every heap
func (c *Classifier) HeapStatistics() []memutils.Statistics {
	stats := make([]memutils.Statistics, len(c.memoryProperties.MemoryHeaps))
	for heapIndex := range stats {
		stats[heapIndex].BlockCount = int(atomic.LoadUint32(&c.blockCount[heapIndex]))
		stats[heapIndex].BlockBytes = int(atomic.LoadUint64(&c.blockBytes[heapIndex]))
	}
	return stats
}

// LiveBlocks returns the number of blocks that have been allocated and not yet freed
func (c *Classifier) LiveBlocks() int {
	return c.blocks.Count()
}

// Validate checks the classifier's live block bookkeeping against the per-heap counters
func (c *Classifier) Validate() error {
	err := c.blocks.Validate()
	if err != nil {
		return err
	}

	for heapIndex, stats := range c.HeapStatistics() {
		var detailed memutils.DetailedStatistics
		detailed.Clear()
		c.blocks.AddDetailedStatistics(heapIndex, &detailed)

		if detailed.BlockCount != stats.BlockCount || detailed.BlockBytes != stats.BlockBytes {
			return errors.Newf("heap %d counts %d blocks / %d bytes but the live list holds %d blocks / %d bytes",
				heapIndex, stats.BlockCount, stats.BlockBytes, detailed.BlockCount, detailed.BlockBytes)
		}
	}

	return nil
}

// BuildStatsString returns a JSON document describing the device's heaps, the intent selection
// and, when detailedMap is true, every live block
func (c *Classifier) BuildStatsString(detailedMap bool) string {
	writer := jwriter.NewWriter()

	root := writer.Object()

	heapsArray := root.Name("Heaps").Array()
	for heapIndex, heap := range c.memoryProperties.MemoryHeaps {
		var stats memutils.DetailedStatistics
		stats.Clear()
		c.blocks.AddDetailedStatistics(heapIndex, &stats)

		heapObj := heapsArray.Object()
		heapObj.Name("Index").Int(heapIndex)
		heapObj.Name("Size").Int(heap.Size)
		heapObj.Name("Flags").String(heap.Flags.String())
		heapObj.Name("Limit").Int(c.heapLimits[heapIndex])
		stats.PrintJSON(heapObj.Name("Stats"))
		heapObj.End()
	}
	heapsArray.End()

	intentsObj := root.Name("Intents").Object()
	for _, intent := range Intents() {
		choice := c.selection.Choice(intent)

		choiceObj := intentsObj.Name(intent.String()).Object()
		choiceObj.Name("MemoryTypeIndex").Int(choice.MemoryTypeIndex)
		choiceObj.Name("HeapIndex").Int(choice.HeapIndex)
		choiceObj.Name("Flags").String(choice.PropertyFlags.String())
		choiceObj.Name("Fallback").Bool(choice.Fallback)
		choiceObj.End()
	}
	intentsObj.End()

	if detailedMap {
		c.blocks.BuildStatsString(root.Name("Blocks"))
	}

	root.End()

	return string(writer.Bytes())
}

// Destroy reports blocks that were never freed. The classifier owns no driver objects of its own,
// so leaked blocks are logged and returned as an error rather than freed.
func (c *Classifier) Destroy() error {
	leaked := c.blocks.Count()
	if leaked == 0 {
		return nil
	}

	c.blocks.Each(func(block *Block) {
		c.logger.Error("memory block was not freed before the classifier was destroyed",
			slog.String("ID", block.id.String()),
			slog.String("Intent", block.intent.String()),
			slog.Int("Size", block.size),
		)
	})

	return errors.Newf("%d memory blocks were not freed", leaked)
}
