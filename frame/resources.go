package frame

import (
	"github.com/vkngwrapper/framecore/gpu"
	"github.com/vkngwrapper/framecore/heap"
)

// Buffer is a device buffer with the memory block bound to it. The block lives exactly as long as
// the buffer.
type Buffer struct {
	buffer gpu.Buffer
	block  *heap.Block
}

func (b *Buffer) Buffer() gpu.Buffer { return b.buffer }
func (b *Buffer) Block() *heap.Block { return b.block }

// Destroy destroys the buffer and frees its block immediately. Buffers that submitted work may
// still read should go through Engine.DeferDestroy instead.
func (b *Buffer) Destroy() {
	b.buffer.Destroy()
	b.block.Free()
}

// Image is a device image with the memory block bound to it
type Image struct {
	image gpu.Image
	block *heap.Block
}

func (i *Image) Image() gpu.Image   { return i.image }
func (i *Image) Block() *heap.Block { return i.block }

// Destroy destroys the image and frees its block immediately
func (i *Image) Destroy() {
	i.image.Destroy()
	i.block.Free()
}
