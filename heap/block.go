package heap

import (
	"log/slog"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/framecore/gpu"
	"github.com/vkngwrapper/framecore/internal/utils"
)

// Block is a single driver allocation backing exactly one resource. The block must be freed when
// the resource it backs is destroyed, and never before.
type Block struct {
	id         uuid.UUID
	classifier *Classifier

	intent          Intent
	heapIndex       int
	memoryTypeIndex int
	offset          int
	size            int
	flags           core1_0.MemoryPropertyFlags
	memory          gpu.DeviceMemory

	mapMutex utils.OptionalMutex
	mapped   unsafe.Pointer
	freed    bool

	prev *Block
	next *Block
}

func (b *Block) ID() uuid.UUID                              { return b.id }
func (b *Block) Intent() Intent                             { return b.intent }
func (b *Block) HeapIndex() int                             { return b.heapIndex }
func (b *Block) MemoryTypeIndex() int                       { return b.memoryTypeIndex }
func (b *Block) Offset() int                                { return b.offset }
func (b *Block) Size() int                                  { return b.size }
func (b *Block) PropertyFlags() core1_0.MemoryPropertyFlags { return b.flags }
func (b *Block) Memory() gpu.DeviceMemory                   { return b.memory }

// IsHostCoherent reports whether host writes are visible to the device without Flush
func (b *Block) IsHostCoherent() bool {
	return b.flags&core1_0.MemoryPropertyHostCoherent != 0
}

// Map maps the whole block into host memory. A block can only hold one mapping at a time: mapping
// a block that is already mapped fails with ErrAlreadyMapped.
func (b *Block) Map() (unsafe.Pointer, common.VkResult, error) {
	b.classifier.logger.Debug("Block::Map", slog.String("ID", b.id.String()))

	if b.flags&core1_0.MemoryPropertyHostVisible == 0 {
		return nil, core1_0.VKErrorFeatureNotPresent, errors.Newf("memory type %d is not host visible: %s", b.memoryTypeIndex, b.flags)
	}

	b.mapMutex.Lock()
	defer b.mapMutex.Unlock()

	if b.freed {
		return nil, core1_0.VKErrorUnknown, errors.New("attempted to map a freed memory block")
	}

	if b.mapped != nil {
		return nil, core1_0.VKErrorUnknown, errors.Wrapf(ErrAlreadyMapped, "block %s", b.id)
	}

	data, res, err := b.memory.Map(b.offset, b.size)
	if err != nil {
		return nil, res, err
	}

	b.mapped = data
	return data, res, nil
}

// MappedData returns the block's host mapping as a byte slice, or nil if the block is not mapped
func (b *Block) MappedData() []byte {
	b.mapMutex.Lock()
	defer b.mapMutex.Unlock()

	if b.mapped == nil {
		return nil
	}

	return unsafe.Slice((*byte)(b.mapped), b.size)
}

func (b *Block) Unmap() {
	b.classifier.logger.Debug("Block::Unmap", slog.String("ID", b.id.String()))

	b.mapMutex.Lock()
	defer b.mapMutex.Unlock()

	b.unmapLocked()
}

func (b *Block) unmapLocked() {
	if b.mapped == nil {
		return
	}

	b.memory.Unmap()
	b.mapped = nil
}

// Flush makes host writes in the provided range visible to the device. It does nothing for
// host-coherent memory. A size of -1 flushes to the end of the block.
func (b *Block) Flush(offset, size int) (common.VkResult, error) {
	if b.IsHostCoherent() {
		return core1_0.VKSuccess, nil
	}

	offset, size, err := b.checkRange(offset, size)
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	return b.memory.Flush(b.offset+offset, size)
}

// Invalidate makes device writes in the provided range visible to the host. It does nothing for
// host-coherent memory. A size of -1 invalidates to the end of the block.
func (b *Block) Invalidate(offset, size int) (common.VkResult, error) {
	if b.IsHostCoherent() {
		return core1_0.VKSuccess, nil
	}

	offset, size, err := b.checkRange(offset, size)
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	return b.memory.Invalidate(b.offset+offset, size)
}

func (b *Block) checkRange(offset, size int) (int, int, error) {
	if offset < 0 || offset > b.size {
		return 0, 0, errors.Newf("offset %d is outside the block, which is size %d", offset, b.size)
	}

	if size == -1 {
		size = b.size - offset
	}

	if size < 0 || offset+size > b.size {
		return 0, 0, errors.Newf("offset %d places the end of the range %d past the end of the block, which is size %d", offset, offset+size, b.size)
	}

	return offset, size, nil
}

// Free returns the block's memory to the driver, unmapping it first if necessary. Freeing a block
// twice does nothing.
func (b *Block) Free() {
	b.classifier.logger.Debug("Block::Free", slog.String("ID", b.id.String()))

	b.mapMutex.Lock()
	if b.freed {
		b.mapMutex.Unlock()
		return
	}
	b.unmapLocked()
	b.freed = true
	b.mapMutex.Unlock()

	b.classifier.freeBlock(b)
}

func (b *Block) printParameters(json *jwriter.ObjectState) {
	json.Name("ID").String(b.id.String())
	json.Name("Intent").String(b.intent.String())
	json.Name("MemoryTypeIndex").Int(b.memoryTypeIndex)
	json.Name("Size").Int(b.size)

	b.mapMutex.Lock()
	defer b.mapMutex.Unlock()
	json.Name("Mapped").Bool(b.mapped != nil)
}
