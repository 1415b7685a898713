package frame

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/framecore/bindless"
	"github.com/vkngwrapper/framecore/config"
	"github.com/vkngwrapper/framecore/gpu"
	"github.com/vkngwrapper/framecore/gpu/mocks"
	"github.com/vkngwrapper/framecore/heap"
	"github.com/vkngwrapper/framecore/lifecycle"
	"github.com/vkngwrapper/framecore/present"
	"github.com/vkngwrapper/framecore/submit"
	"go.uber.org/mock/gomock"
)

type fakeFence struct {
	lock     sync.Mutex
	signaled bool
}

func (f *fakeFence) Signal() {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.signaled = true
}

func (f *fakeFence) Status() (common.VkResult, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.signaled {
		return core1_0.VKSuccess, nil
	}
	return core1_0.VKNotReady, nil
}

func (f *fakeFence) Wait(timeout time.Duration) (common.VkResult, error) {
	res, err := f.Status()
	if res == core1_0.VKNotReady {
		return core1_0.VKTimeout, err
	}
	return res, err
}

func (f *fakeFence) Reset() (common.VkResult, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.signaled = false
	return core1_0.VKSuccess, nil
}

func (f *fakeFence) Destroy() {}

type engineRig struct {
	ctrl    *gomock.Controller
	device  *mocks.MockDevice
	hwQueue *mocks.MockQueue

	lock           sync.Mutex
	submitted      []*fakeFence
	submitInfos    [][]gpu.SubmitInfo
	memoryTypeBits uint32
	backing        map[gpu.DeviceMemory][]byte
}

func newEngineRig(t *testing.T) *engineRig {
	ctrl := gomock.NewController(t)
	rig := &engineRig{
		ctrl:           ctrl,
		device:         mocks.NewMockDevice(ctrl),
		hwQueue:        mocks.NewMockQueue(ctrl),
		memoryTypeBits: 0xF,
		backing:        make(map[gpu.DeviceMemory][]byte),
	}

	rig.device.EXPECT().MemoryProperties().Return(&core1_0.PhysicalDeviceMemoryProperties{
		MemoryHeaps: []core1_0.MemoryHeap{
			{Size: 256 * 1024 * 1024, Flags: core1_0.MemoryHeapDeviceLocal},
			{Size: 256 * 1024 * 1024},
		},
		MemoryTypes: []core1_0.MemoryType{
			{PropertyFlags: core1_0.MemoryPropertyDeviceLocal, HeapIndex: 0},
			{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent, HeapIndex: 1},
			{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent | core1_0.MemoryPropertyHostCached, HeapIndex: 1},
			{PropertyFlags: core1_0.MemoryPropertyDeviceLocal | core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent, HeapIndex: 0},
		},
	}).AnyTimes()

	rig.device.EXPECT().DescriptorLimits().Return(gpu.DescriptorLimits{
		Samplers:       1 << 20,
		SampledImages:  1 << 20,
		StorageImages:  1 << 20,
		StorageBuffers: 1 << 20,
	}).AnyTimes()

	rig.device.EXPECT().CreateDescriptorSet(gomock.Any()).DoAndReturn(func(bindings []gpu.DescriptorBinding) (gpu.DescriptorSet, common.VkResult, error) {
		set := mocks.NewMockDescriptorSet(ctrl)
		set.EXPECT().Write(gomock.Any()).Return(nil).AnyTimes()
		set.EXPECT().Destroy().AnyTimes()
		return set, core1_0.VKSuccess, nil
	}).AnyTimes()

	rig.device.EXPECT().CreateFence(false).DoAndReturn(func(signaled bool) (gpu.Fence, common.VkResult, error) {
		return &fakeFence{}, core1_0.VKSuccess, nil
	}).AnyTimes()

	rig.device.EXPECT().CreateBuffer(gomock.Any(), gomock.Any()).DoAndReturn(func(size int, usage core1_0.BufferUsageFlags) (gpu.Buffer, common.VkResult, error) {
		buffer := mocks.NewMockBuffer(ctrl)
		buffer.EXPECT().Size().Return(size).AnyTimes()
		buffer.EXPECT().MemoryRequirements().DoAndReturn(func() core1_0.MemoryRequirements {
			return core1_0.MemoryRequirements{Size: size, Alignment: 256, MemoryTypeBits: rig.memoryTypeBits}
		}).AnyTimes()
		buffer.EXPECT().BindMemory(gomock.Any(), 0).Return(core1_0.VKSuccess, nil).AnyTimes()
		buffer.EXPECT().Destroy().AnyTimes()
		return buffer, core1_0.VKSuccess, nil
	}).AnyTimes()

	rig.device.EXPECT().CreateImage(gomock.Any()).DoAndReturn(func(o gpu.ImageCreateInfo) (gpu.Image, common.VkResult, error) {
		image := mocks.NewMockImage(ctrl)
		image.EXPECT().MemoryRequirements().Return(core1_0.MemoryRequirements{
			Size:           o.Extent.Width * o.Extent.Height * 4,
			Alignment:      1024,
			MemoryTypeBits: 1,
		}).AnyTimes()
		image.EXPECT().BindMemory(gomock.Any(), 0).Return(core1_0.VKSuccess, nil).AnyTimes()
		image.EXPECT().Destroy().AnyTimes()
		return image, core1_0.VKSuccess, nil
	}).AnyTimes()

	rig.device.EXPECT().AllocateMemory(gomock.Any(), gomock.Any()).DoAndReturn(func(memoryTypeIndex, size int) (gpu.DeviceMemory, common.VkResult, error) {
		memory := mocks.NewMockDeviceMemory(ctrl)
		backing := make([]byte, size)

		rig.lock.Lock()
		rig.backing[memory] = backing
		rig.lock.Unlock()

		memory.EXPECT().Map(0, size).Return(unsafe.Pointer(&backing[0]), core1_0.VKSuccess, nil).AnyTimes()
		memory.EXPECT().Unmap().AnyTimes()
		memory.EXPECT().Flush(gomock.Any(), gomock.Any()).Return(core1_0.VKSuccess, nil).AnyTimes()
		memory.EXPECT().Free().AnyTimes()
		return memory, core1_0.VKSuccess, nil
	}).AnyTimes()

	rig.hwQueue.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(func(fence gpu.Fence, infos []gpu.SubmitInfo) (common.VkResult, error) {
		rig.lock.Lock()
		defer rig.lock.Unlock()

		rig.submitted = append(rig.submitted, fence.(*fakeFence))
		rig.submitInfos = append(rig.submitInfos, infos)
		return core1_0.VKSuccess, nil
	}).AnyTimes()

	rig.hwQueue.EXPECT().WaitIdle().DoAndReturn(func() (common.VkResult, error) {
		rig.signalAll()
		return core1_0.VKSuccess, nil
	}).AnyTimes()

	return rig
}

// signal completes the submission with the provided serial
func (r *engineRig) signal(serial uint64) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.submitted[serial-1].Signal()
}

func (r *engineRig) signalAll() {
	r.lock.Lock()
	defer r.lock.Unlock()

	for _, fence := range r.submitted {
		fence.Signal()
	}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.FramesInFlight = 2
	cfg.Descriptors.Samplers = 16
	cfg.Uniform.FrameCapacity = 1024
	cfg.Uniform.Alignment = 256
	cfg.Uniform.Padding = 256
	return cfg
}

func (r *engineRig) newEngine(t *testing.T, surface gpu.Surface, cfg *config.Config) *Engine {
	engine, err := New(slog.New(slog.NewJSONHandler(io.Discard, nil)), r.device, r.hwQueue, surface, cfg)
	require.NoError(t, err)
	return engine
}

func TestEngine_New(t *testing.T) {
	rig := newEngineRig(t)
	engine := rig.newEngine(t, nil, testConfig())

	require.True(t, engine.Headless())
	require.NotNil(t, engine.UniformBuffer())
	require.Equal(t, 256, engine.UniformBindingRange())
	require.Equal(t, 16, engine.Table().Capacity(bindless.ClassSampler))

	// The uniform buffer is the only live block
	require.Equal(t, 1, engine.Heaps().LiveBlocks())

	orchestrator, err := engine.Orchestrator()
	require.NoError(t, err)
	require.NotNil(t, orchestrator)
	require.Nil(t, orchestrator.Surface())

	_, err = engine.Orchestrator()
	require.Error(t, err)

	require.NoError(t, engine.Destroy())
}

func TestEngine_NewInvalidConfig(t *testing.T) {
	rig := newEngineRig(t)
	cfg := testConfig()
	cfg.FramesInFlight = 0

	_, err := New(slog.New(slog.NewJSONHandler(io.Discard, nil)), rig.device, rig.hwQueue, nil, cfg)
	require.True(t, errors.Is(err, config.ErrInvalid))
}

func TestEngine_NewCapacityExceedsLimit(t *testing.T) {
	rig := newEngineRig(t)
	cfg := testConfig()
	cfg.Descriptors.StorageBuffers = 1 << 21

	_, err := New(slog.New(slog.NewJSONHandler(io.Discard, nil)), rig.device, rig.hwQueue, nil, cfg)
	require.True(t, errors.Is(err, bindless.ErrCapacityExceedsLimit))
}

func TestEngine_AllocateBuffer(t *testing.T) {
	rig := newEngineRig(t)
	engine := rig.newEngine(t, nil, testConfig())

	buffer, err := engine.AllocateBuffer(heap.IntentUpload, 4096, core1_0.BufferUsageTransferSrc)
	require.NoError(t, err)
	require.NotNil(t, buffer)
	require.Equal(t, heap.IntentUpload, buffer.Block().Intent())
	require.Equal(t, 4096, buffer.Buffer().Size())
	require.NotZero(t, buffer.Block().PropertyFlags()&core1_0.MemoryPropertyHostVisible)

	// The resource cannot live in any memory type
	rig.memoryTypeBits = 0
	incompatible, err := engine.AllocateBuffer(heap.IntentUpload, 4096, core1_0.BufferUsageTransferSrc)
	require.NoError(t, err)
	require.Nil(t, incompatible)

	engine.DeferDestroy(buffer)
	require.NoError(t, engine.Destroy())
}

func TestEngine_AllocateImage(t *testing.T) {
	rig := newEngineRig(t)
	engine := rig.newEngine(t, nil, testConfig())

	image, err := engine.AllocateImage(heap.IntentDeviceLocal, gpu.ImageCreateInfo{
		Extent:    gpu.Extent{Width: 64, Height: 64},
		Format:    gpu.FormatR8G8B8A8UNorm,
		MipLevels: 1,
		Usage:     core1_0.ImageUsageSampled,
	})
	require.NoError(t, err)
	require.NotNil(t, image)
	require.Equal(t, 0, image.Block().MemoryTypeIndex())

	// Images only accept memory type 0, which readback memory never uses
	readback, err := engine.AllocateImage(heap.IntentReadback, gpu.ImageCreateInfo{Extent: gpu.Extent{Width: 4, Height: 4}})
	require.NoError(t, err)
	require.Nil(t, readback)

	image.Destroy()
	require.NoError(t, engine.Destroy())
}

func TestEngine_DestroyReportsLeaks(t *testing.T) {
	rig := newEngineRig(t)
	engine := rig.newEngine(t, nil, testConfig())

	_, err := engine.AllocateBuffer(heap.IntentDeviceLocal, 4096, core1_0.BufferUsageVertexBuffer)
	require.NoError(t, err)

	require.Error(t, engine.Destroy())
}

func TestEngine_ReleaseDescriptorSlotIsDeferred(t *testing.T) {
	rig := newEngineRig(t)
	engine := rig.newEngine(t, nil, testConfig())
	orchestrator, err := engine.Orchestrator()
	require.NoError(t, err)

	index, err := engine.AcquireDescriptorSlot(bindless.ClassSampler)
	require.NoError(t, err)
	require.Equal(t, 0, index)
	require.NoError(t, engine.WriteDescriptor(bindless.ClassSampler, index, bindless.Resource{
		Sampler:   mocks.NewMockSampler(rig.ctrl),
		ImageView: mocks.NewMockImageView(rig.ctrl),
	}))

	require.NoError(t, orchestrator.BeginFrame())
	require.NoError(t, engine.ReleaseDescriptorSlot(bindless.ClassSampler, index))
	require.NoError(t, orchestrator.Present(mocks.NewMockCommandBuffer(rig.ctrl)))
	require.NoError(t, orchestrator.EndFrame())

	// The frame's submission, which may read the slot, is still running
	require.True(t, engine.Table().IsLive(bindless.ClassSampler, index))
	require.Equal(t, 1, engine.Lifecycle().Pending())

	rig.signal(1)
	require.NoError(t, orchestrator.BeginFrame())
	require.NoError(t, orchestrator.EndFrame())

	require.False(t, engine.Table().IsLive(bindless.ClassSampler, index))
	require.Equal(t, 0, engine.Lifecycle().Pending())

	reused, err := engine.AcquireDescriptorSlot(bindless.ClassSampler)
	require.NoError(t, err)
	require.Equal(t, index, reused)

	err = engine.ReleaseDescriptorSlot(bindless.ClassSampler, 5)
	require.True(t, errors.Is(err, bindless.ErrSlotNotLive))

	require.NoError(t, engine.ReleaseDescriptorSlot(bindless.ClassSampler, reused))
	require.NoError(t, engine.Destroy())
}

func TestEngine_MidFrameReleaseWaitsForFrameSubmission(t *testing.T) {
	rig := newEngineRig(t)
	engine := rig.newEngine(t, nil, testConfig())
	orchestrator, err := engine.Orchestrator()
	require.NoError(t, err)
	commandBuffer := mocks.NewMockCommandBuffer(rig.ctrl)

	index, err := engine.AcquireDescriptorSlot(bindless.ClassSampler)
	require.NoError(t, err)

	// Frame 1 completes
	require.NoError(t, orchestrator.BeginFrame())
	require.NoError(t, orchestrator.Present(commandBuffer))
	require.NoError(t, orchestrator.EndFrame())
	rig.signal(1)

	// Frame 2 releases resources while it is being recorded
	destroyed := false
	require.NoError(t, orchestrator.BeginFrame())
	require.NoError(t, engine.ReleaseDescriptorSlot(bindless.ClassSampler, index))
	engine.DeferDestroy(lifecycle.DestroyFunc(func() { destroyed = true }))
	require.NoError(t, orchestrator.Present(commandBuffer))
	require.Equal(t, uint64(2), engine.Queue().LastSubmitted())
	require.NoError(t, orchestrator.EndFrame())

	require.Equal(t, uint64(1), engine.Queue().LastCompleted())
	require.False(t, destroyed)
	require.True(t, engine.Table().IsLive(bindless.ClassSampler, index))
	require.Equal(t, 2, engine.Lifecycle().Pending())

	// A frame with no submission of its own does not release them either
	require.NoError(t, orchestrator.BeginFrame())
	require.NoError(t, orchestrator.EndFrame())
	require.False(t, destroyed)
	require.True(t, engine.Table().IsLive(bindless.ClassSampler, index))

	rig.signal(2)
	require.NoError(t, orchestrator.BeginFrame())
	require.NoError(t, orchestrator.EndFrame())

	require.True(t, destroyed)
	require.False(t, engine.Table().IsLive(bindless.ClassSampler, index))
	require.Equal(t, 0, engine.Lifecycle().Pending())

	require.NoError(t, engine.Destroy())
}

func TestEngine_PushUniformData(t *testing.T) {
	rig := newEngineRig(t)
	engine := rig.newEngine(t, nil, testConfig())
	orchestrator, err := engine.Orchestrator()
	require.NoError(t, err)

	uniformMemory := rig.backing[engine.uniformBuffer.Block().Memory()]
	require.Len(t, uniformMemory, 2*(1024+256))

	require.NoError(t, orchestrator.BeginFrame())

	// The first frame uses the second region
	offset, ok := engine.PushUniformData([]byte{1, 2, 3, 4})
	require.True(t, ok)
	require.Equal(t, 1280, offset)
	require.Equal(t, []byte{1, 2, 3, 4}, uniformMemory[offset:offset+4])

	offset, ok = engine.PushUniformData(make([]byte, 100))
	require.True(t, ok)
	require.Equal(t, 1536, offset)

	// Two more aligned pushes fill the frame and the next one crosses it
	_, ok = engine.PushUniformData(make([]byte, 256))
	require.True(t, ok)
	_, ok = engine.PushUniformData(make([]byte, 256))
	require.True(t, ok)
	_, ok = engine.PushUniformData([]byte{1})
	require.False(t, ok)

	require.NoError(t, orchestrator.Present(mocks.NewMockCommandBuffer(rig.ctrl)))
	require.NoError(t, orchestrator.EndFrame())

	rig.signalAll()
	require.NoError(t, orchestrator.BeginFrame())
	offset, ok = engine.PushUniformData([]byte{5})
	require.True(t, ok)
	require.Equal(t, 0, offset)
	require.NoError(t, orchestrator.EndFrame())

	require.NoError(t, engine.Destroy())
}

func TestOrchestrator_BeginFrameWaitsForRegion(t *testing.T) {
	rig := newEngineRig(t)
	engine := rig.newEngine(t, nil, testConfig())
	orchestrator, err := engine.Orchestrator()
	require.NoError(t, err)
	commandBuffer := mocks.NewMockCommandBuffer(rig.ctrl)

	for i := 0; i < 2; i++ {
		require.NoError(t, orchestrator.BeginFrame())
		require.NoError(t, orchestrator.Present(commandBuffer))
		require.NoError(t, orchestrator.EndFrame())
	}
	require.Equal(t, uint64(2), orchestrator.Frame())

	// The third frame reuses the first frame's region, and submission 1 has not completed
	err = orchestrator.BeginFrame()
	require.True(t, errors.Is(err, submit.ErrFenceTimeout))

	rig.signal(1)
	require.NoError(t, orchestrator.BeginFrame())
	require.NoError(t, orchestrator.EndFrame())

	// Headless frames submit with no semaphores
	for _, infos := range rig.submitInfos {
		require.Len(t, infos, 1)
		require.Empty(t, infos[0].WaitSemaphores)
		require.Empty(t, infos[0].SignalSemaphores)
	}

	require.NoError(t, engine.Destroy())
}

func TestOrchestrator_FrameOrdering(t *testing.T) {
	rig := newEngineRig(t)
	engine := rig.newEngine(t, nil, testConfig())
	orchestrator, err := engine.Orchestrator()
	require.NoError(t, err)

	require.Error(t, orchestrator.Present(mocks.NewMockCommandBuffer(rig.ctrl)))
	require.Error(t, orchestrator.EndFrame())

	require.NoError(t, orchestrator.BeginFrame())
	require.Error(t, orchestrator.BeginFrame())
	require.NoError(t, orchestrator.EndFrame())

	require.NoError(t, engine.Destroy())
}

func TestEngine_SubmitAndDeferDestroy(t *testing.T) {
	rig := newEngineRig(t)
	engine := rig.newEngine(t, nil, testConfig())
	orchestrator, err := engine.Orchestrator()
	require.NoError(t, err)

	// Deferred before the submission that records it
	destroyed := 0
	engine.DeferDestroy(lifecycle.DestroyFunc(func() { destroyed++ }))

	submission, err := engine.Submit(mocks.NewMockCommandBuffer(rig.ctrl), nil, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), submission.Serial)

	require.NoError(t, orchestrator.BeginFrame())
	require.NoError(t, orchestrator.EndFrame())
	require.Equal(t, 0, destroyed)

	rig.signal(submission.Serial)
	require.NoError(t, orchestrator.BeginFrame())
	require.NoError(t, orchestrator.EndFrame())
	require.Equal(t, 1, destroyed)

	// Destroy flushes whatever is still deferred
	engine.DeferDestroy(lifecycle.DestroyFunc(func() { destroyed++ }))
	require.NoError(t, engine.Destroy())
	require.Equal(t, 2, destroyed)
}

func TestEngine_MinimizedSurface(t *testing.T) {
	rig := newEngineRig(t)

	surface := mocks.NewMockSurface(rig.ctrl)
	surface.EXPECT().Capabilities().Return(gpu.SurfaceCapabilities{
		MinImageCount: 2,
		Formats:       []gpu.SurfaceFormat{{Format: gpu.FormatB8G8R8A8SRGB}},
		PresentModes:  []gpu.PresentMode{gpu.PresentModeFIFO, gpu.PresentModeMailbox},
	}, core1_0.VKSuccess, nil).AnyTimes()

	engine := rig.newEngine(t, surface, testConfig())
	require.False(t, engine.Headless())

	orchestrator, err := engine.Orchestrator()
	require.NoError(t, err)
	require.Equal(t, present.StateMinimized, orchestrator.Surface().State())
	require.True(t, orchestrator.Surface().VSync())

	engine.RequestVSync(false)
	require.True(t, orchestrator.Surface().VSync())

	require.NoError(t, orchestrator.BeginFrame())
	require.False(t, orchestrator.Surface().VSync())

	require.NoError(t, orchestrator.Present(mocks.NewMockCommandBuffer(rig.ctrl)))
	require.NoError(t, orchestrator.EndFrame())
	require.Len(t, rig.submitInfos, 1)

	require.NoError(t, engine.Destroy())
}
