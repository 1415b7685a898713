// Package frame ties the memory classifier, bindless descriptor table, submission queue, uniform
// allocator, presentation surface and deferred destruction together into the engine a renderer
// records against.
package frame

import (
	"log/slog"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/framecore/bindless"
	"github.com/vkngwrapper/framecore/config"
	"github.com/vkngwrapper/framecore/gpu"
	"github.com/vkngwrapper/framecore/heap"
	"github.com/vkngwrapper/framecore/lifecycle"
	"github.com/vkngwrapper/framecore/present"
	"github.com/vkngwrapper/framecore/submit"
	"github.com/vkngwrapper/framecore/uniform"
)

const (
	vsyncUnchanged int32 = iota - 1
	vsyncOff
	vsyncOn
)

// Engine is the renderer-facing surface of the frame core. Every method is safe for concurrent use
// by recording goroutines; the frame loop itself is driven through the Orchestrator.
type Engine struct {
	logger *slog.Logger
	device gpu.Device
	config *config.Config

	heaps     *heap.Classifier
	table     *bindless.Table
	queue     *submit.Queue
	lifecycle *lifecycle.Manager
	surface   *present.Surface

	uniformBuffer *Buffer
	uniforms      *uniform.Allocator

	orchestrator      *Orchestrator
	orchestratorTaken atomic.Bool
	requestedVSync    atomic.Int32
}

// New creates every component of the engine from cfg, which may be nil to use config.Default. A
// nil surface creates a headless engine whose frames are submitted but never presented.
func New(logger *slog.Logger, device gpu.Device, queue gpu.Queue, surface gpu.Surface, cfg *config.Config) (*Engine, error) {
	if logger == nil {
		panic("attempted to create a frame engine with a nil logger")
	}
	if device == nil {
		panic("attempted to create a frame engine with a nil device")
	}
	if queue == nil {
		panic("attempted to create a frame engine with a nil queue")
	}

	if cfg == nil {
		cfg = config.Default()
	}
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		logger: logger,
		device: device,
		config: cfg,
	}
	e.requestedVSync.Store(vsyncUnchanged)

	err = e.create(queue, surface)
	if err != nil {
		e.teardown()
		return nil, err
	}

	e.orchestrator = &Orchestrator{
		engine:        e,
		regionSerials: make([]uint64, cfg.FramesInFlight),
	}

	logger.Debug("Engine::New",
		slog.Int("FramesInFlight", cfg.FramesInFlight),
		slog.Bool("Headless", e.surface == nil),
	)

	return e, nil
}

func (e *Engine) create(queue gpu.Queue, surface gpu.Surface) error {
	var err error

	e.heaps, err = heap.New(e.logger, e.device, e.config.HeapOptions())
	if err != nil {
		return err
	}

	e.table, err = bindless.New(e.logger, e.device, e.config.DescriptorOptions())
	if err != nil {
		return err
	}

	e.queue, err = submit.New(e.logger, e.device, queue, e.config.SubmissionOptions())
	if err != nil {
		return err
	}

	e.lifecycle = lifecycle.New(e.logger, e.queue)

	err = e.createUniforms()
	if err != nil {
		return err
	}

	if surface == nil {
		return nil
	}

	surfaceOptions, err := e.config.SurfaceOptions()
	if err != nil {
		return err
	}

	e.surface, err = present.New(e.logger, e.device, e.queue, surface, surfaceOptions)
	return err
}

// createUniforms allocates the persistently mapped uniform buffer the frame allocator pushes into
func (e *Engine) createUniforms() error {
	options := e.config.UniformOptions()
	size, err := uniform.RequiredSize(options)
	if err != nil {
		return err
	}

	buffer, err := e.AllocateBuffer(heap.IntentDynamic, size, core1_0.BufferUsageUniformBuffer)
	if err != nil {
		return errors.Wrap(err, "failed to allocate uniform buffer")
	}
	if buffer == nil {
		return errors.Newf("uniform buffer cannot be placed in %s memory", heap.IntentDynamic)
	}
	e.uniformBuffer = buffer

	_, res, err := buffer.block.Map()
	if err != nil {
		return errors.Wrapf(err, "failed to map uniform buffer: %s", res)
	}

	e.uniforms, err = uniform.New(buffer.block.MappedData(), options)
	return err
}

// teardown destroys whatever a failed New managed to create
func (e *Engine) teardown() {
	if e.surface != nil {
		e.surface.Destroy()
	}
	if e.uniformBuffer != nil {
		e.uniformBuffer.Destroy()
	}
	if e.lifecycle != nil {
		e.lifecycle.Flush()
	}
	if e.queue != nil {
		e.queue.Destroy()
	}
	if e.table != nil {
		e.table.Destroy()
	}
	if e.heaps != nil {
		err := e.heaps.Destroy()
		if err != nil {
			e.logger.Error("failed to destroy memory classifier", slog.Any("Error", err))
		}
	}
}

// Orchestrator returns the handle that drives the frame loop. It can only be taken once, and the
// goroutine that takes it owns the surface.
func (e *Engine) Orchestrator() (*Orchestrator, error) {
	if !e.orchestratorTaken.CompareAndSwap(false, true) {
		return nil, errors.New("the frame orchestrator has already been taken")
	}

	return e.orchestrator, nil
}

// AllocateBuffer creates a buffer and binds memory chosen for intent to it. A nil buffer with a nil
// error means the buffer cannot live in that intent's memory type.
func (e *Engine) AllocateBuffer(intent heap.Intent, size int, usage core1_0.BufferUsageFlags) (*Buffer, error) {
	buffer, res, err := e.device.CreateBuffer(size, usage)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create buffer: %s", res)
	}

	block, err := e.heaps.AllocateForBuffer(buffer, intent)
	if block == nil || err != nil {
		buffer.Destroy()
		return nil, err
	}

	return &Buffer{buffer: buffer, block: block}, nil
}

// AllocateImage creates an image and binds memory chosen for intent to it. A nil image with a nil
// error means the image cannot live in that intent's memory type.
func (e *Engine) AllocateImage(intent heap.Intent, o gpu.ImageCreateInfo) (*Image, error) {
	image, res, err := e.device.CreateImage(o)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create image: %s", res)
	}

	block, err := e.heaps.AllocateForImage(image, intent)
	if block == nil || err != nil {
		image.Destroy()
		return nil, err
	}

	return &Image{image: image, block: block}, nil
}

// AcquireDescriptorSlot reserves a bindless table index of the provided class
func (e *Engine) AcquireDescriptorSlot(class bindless.Class) (int, error) {
	return e.table.AcquireSlot(class)
}

// ReleaseDescriptorSlot returns the slot to the table once the next tracked submission has
// completed. Released mid-frame, that is the current frame's own submission.
func (e *Engine) ReleaseDescriptorSlot(class bindless.Class, index int) error {
	if !e.table.IsLive(class, index) {
		return errors.Wrapf(bindless.ErrSlotNotLive, "%s slot %d", class, index)
	}

	e.lifecycle.DeferDestroy(lifecycle.DestroyFunc(func() {
		err := e.table.ReleaseSlot(class, index)
		if err != nil {
			e.logger.Error("failed to release descriptor slot", slog.String("Class", class.String()), slog.Int("Index", index), slog.Any("Error", err))
		}
	}))
	return nil
}

// WriteDescriptor writes resource into a live slot
func (e *Engine) WriteDescriptor(class bindless.Class, index int, resource bindless.Resource) error {
	return e.table.WriteBinding(class, index, resource)
}

// PushUniformData copies data into the current frame's uniform region and returns its offset in
// UniformBuffer. ok is false when the frame is out of uniform space.
func (e *Engine) PushUniformData(data []byte) (offset int, ok bool) {
	return e.uniforms.TryPush(data)
}

// UniformBuffer returns the buffer PushUniformData offsets refer to
func (e *Engine) UniformBuffer() gpu.Buffer {
	return e.uniformBuffer.buffer
}

// UniformBindingRange returns the descriptor range that is safe to bind at any push offset
func (e *Engine) UniformBindingRange() int {
	return e.uniforms.BindingRange()
}

// Submit flushes pending uniform writes and submits the command buffer
func (e *Engine) Submit(commandBuffer gpu.CommandBuffer, waits []submit.Wait, signals []gpu.Semaphore) (submit.Submission, error) {
	err := e.flushUniforms()
	if err != nil {
		return submit.Submission{}, err
	}

	return e.queue.Submit(commandBuffer, waits, signals)
}

func (e *Engine) flushUniforms() error {
	res, err := e.uniformBuffer.block.Flush(e.uniforms.RegionOffset(), e.uniforms.Capacity())
	if err != nil {
		return errors.Wrapf(err, "failed to flush uniform data: %s", res)
	}
	return nil
}

// DeferDestroy destroys the resource once the next tracked submission has completed
func (e *Engine) DeferDestroy(resource lifecycle.Destroyable) {
	e.lifecycle.DeferDestroy(resource)
}

// RequestVSync asks the orchestrator to switch presentation modes at the start of the next frame.
// It is safe to call from any goroutine, such as a config.Watch callback.
func (e *Engine) RequestVSync(vsync bool) {
	if vsync {
		e.requestedVSync.Store(vsyncOn)
	} else {
		e.requestedVSync.Store(vsyncOff)
	}
}

// Headless reports whether the engine was created without a surface
func (e *Engine) Headless() bool {
	return e.surface == nil
}

func (e *Engine) Heaps() *heap.Classifier       { return e.heaps }
func (e *Engine) Table() *bindless.Table        { return e.table }
func (e *Engine) Queue() *submit.Queue          { return e.queue }
func (e *Engine) Lifecycle() *lifecycle.Manager { return e.lifecycle }
func (e *Engine) Uniforms() *uniform.Allocator  { return e.uniforms }

// Destroy waits for the device to finish, destroys every deferred resource and then the engine's own
// components. It returns an error if memory blocks leaked.
func (e *Engine) Destroy() error {
	err := e.queue.WaitIdle()
	if err != nil {
		e.logger.Error("failed to wait for queue idle during shutdown", slog.Any("Error", err))
	}

	destroyed := e.lifecycle.Flush()
	e.logger.Debug("Engine::Destroy", slog.Int("Deferred", destroyed))

	if e.surface != nil {
		e.surface.Destroy()
		e.surface = nil
	}

	e.uniformBuffer.Destroy()
	e.uniformBuffer = nil

	e.table.Destroy()
	e.queue.Destroy()

	return e.heaps.Destroy()
}
