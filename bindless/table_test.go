package bindless

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/framecore/gpu"
	"github.com/vkngwrapper/framecore/gpu/mocks"
	"go.uber.org/mock/gomock"
)

var generousLimits = gpu.DescriptorLimits{
	Samplers:       500000,
	SampledImages:  500000,
	StorageImages:  500000,
	StorageBuffers: 500000,
}

func newTestTable(t *testing.T, ctrl *gomock.Controller, options CreateOptions) (*Table, *mocks.MockDescriptorSet) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	set := mocks.NewMockDescriptorSet(ctrl)
	device := mocks.NewMockDevice(ctrl)
	device.EXPECT().DescriptorLimits().Return(generousLimits)
	device.EXPECT().CreateDescriptorSet(gomock.Any()).Return(set, core1_0.VKSuccess, nil)

	table, err := New(logger, device, options)
	require.NoError(t, err)

	return table, set
}

func TestNew_Bindings(t *testing.T) {
	ctrl := gomock.NewController(t)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	set := mocks.NewMockDescriptorSet(ctrl)
	device := mocks.NewMockDevice(ctrl)
	device.EXPECT().DescriptorLimits().Return(generousLimits)
	device.EXPECT().CreateDescriptorSet([]gpu.DescriptorBinding{
		{Binding: 0, Type: core1_0.DescriptorTypeCombinedImageSampler, Count: 8192},
		{Binding: 1, Type: core1_0.DescriptorTypeStorageImage, Count: 128},
		{Binding: 2, Type: core1_0.DescriptorTypeStorageBuffer, Count: 1024},
		{Binding: 3, Type: core1_0.DescriptorTypeUniformTexelBuffer, Count: 128},
		{Binding: 4, Type: core1_0.DescriptorTypeStorageTexelBuffer, Count: 128},
	}).Return(set, core1_0.VKSuccess, nil)

	table, err := New(logger, device, CreateOptions{StorageBuffers: 1024})
	require.NoError(t, err)
	require.Equal(t, 8192, table.Capacity(ClassSampler))
	require.Equal(t, 1024, table.Capacity(ClassStorageBuffer))
	require.NoError(t, table.Validate())
}

func TestNew_CapacityExceedsLimit(t *testing.T) {
	testCases := map[string]gpu.DescriptorLimits{
		"Samplers":       {Samplers: 4096, SampledImages: 500000, StorageImages: 500000, StorageBuffers: 500000},
		"SampledImages":  {Samplers: 500000, SampledImages: 8200, StorageImages: 500000, StorageBuffers: 500000},
		"StorageImages":  {Samplers: 500000, SampledImages: 500000, StorageImages: 200, StorageBuffers: 500000},
		"StorageBuffers": {Samplers: 500000, SampledImages: 500000, StorageImages: 500000, StorageBuffers: 64},
	}

	for name, limits := range testCases {
		t.Run(name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			device := mocks.NewMockDevice(ctrl)
			device.EXPECT().DescriptorLimits().Return(limits)

			_, err := New(slog.New(slog.NewJSONHandler(io.Discard, nil)), device, CreateOptions{})
			require.True(t, errors.Is(err, ErrCapacityExceedsLimit))
		})
	}
}

func TestTable_ExhaustAndReuse(t *testing.T) {
	ctrl := gomock.NewController(t)
	table, _ := newTestTable(t, ctrl, CreateOptions{})

	for i := 0; i < DefaultSamplerCapacity; i++ {
		index, err := table.AcquireSlot(ClassSampler)
		require.NoError(t, err)
		require.Equal(t, i, index)
	}
	require.Equal(t, DefaultSamplerCapacity, table.Live(ClassSampler))

	_, err := table.AcquireSlot(ClassSampler)
	require.True(t, errors.Is(err, ErrTableExhausted))

	// Other classes are independent
	index, err := table.AcquireSlot(ClassStorageImage)
	require.NoError(t, err)
	require.Equal(t, 0, index)

	require.NoError(t, table.ReleaseSlot(ClassSampler, 4000))

	index, err = table.AcquireSlot(ClassSampler)
	require.NoError(t, err)
	require.Equal(t, 4000, index)
}

func TestTable_ReleaseNotLive(t *testing.T) {
	ctrl := gomock.NewController(t)
	table, _ := newTestTable(t, ctrl, CreateOptions{})

	require.True(t, errors.Is(table.ReleaseSlot(ClassStorageBuffer, 3), ErrSlotNotLive))
	require.True(t, errors.Is(table.ReleaseSlot(ClassStorageBuffer, -1), ErrSlotNotLive))
	require.True(t, errors.Is(table.ReleaseSlot(ClassStorageBuffer, 100000), ErrSlotNotLive))

	index, err := table.AcquireSlot(ClassStorageBuffer)
	require.NoError(t, err)
	require.NoError(t, table.ReleaseSlot(ClassStorageBuffer, index))
	require.True(t, errors.Is(table.ReleaseSlot(ClassStorageBuffer, index), ErrSlotNotLive))
}

func TestTable_ConcurrentAcquireIsUnique(t *testing.T) {
	ctrl := gomock.NewController(t)
	table, _ := newTestTable(t, ctrl, CreateOptions{StorageBuffers: 256})

	const workers = 8
	results := make([][]int, workers)

	var wg sync.WaitGroup
	for worker := 0; worker < workers; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				index, err := table.AcquireSlot(ClassStorageBuffer)
				if err != nil {
					return
				}
				results[worker] = append(results[worker], index)
			}
		}(worker)
	}
	wg.Wait()

	seen := map[int]bool{}
	for _, indices := range results {
		for _, index := range indices {
			require.False(t, seen[index], "slot %d handed out twice", index)
			seen[index] = true
		}
	}
	require.Len(t, seen, 256)
	require.NoError(t, table.Validate())
}

func TestTable_WriteBinding(t *testing.T) {
	ctrl := gomock.NewController(t)
	table, set := newTestTable(t, ctrl, CreateOptions{})

	sampler := mocks.NewMockSampler(ctrl)
	view := mocks.NewMockImageView(ctrl)
	buffer := mocks.NewMockBuffer(ctrl)
	buffer.EXPECT().Size().Return(1024).AnyTimes()

	samplerSlot, err := table.AcquireSlot(ClassSampler)
	require.NoError(t, err)
	bufferSlot, err := table.AcquireSlot(ClassStorageBuffer)
	require.NoError(t, err)

	set.EXPECT().Write([]gpu.DescriptorWrite{{
		Binding:      0,
		ArrayElement: samplerSlot,
		Type:         core1_0.DescriptorTypeCombinedImageSampler,
		Sampler:      sampler,
		ImageView:    view,
		ImageLayout:  core1_0.ImageLayoutShaderReadOnlyOptimal,
	}}).Return(nil)
	require.NoError(t, table.WriteBinding(ClassSampler, samplerSlot, Resource{Sampler: sampler, ImageView: view}))

	set.EXPECT().Write([]gpu.DescriptorWrite{{
		Binding:      2,
		ArrayElement: bufferSlot,
		Type:         core1_0.DescriptorTypeStorageBuffer,
		Buffer:       buffer,
		Offset:       256,
		Range:        768,
	}}).Return(nil)
	require.NoError(t, table.WriteBinding(ClassStorageBuffer, bufferSlot, Resource{Buffer: buffer, Offset: 256}))

	// Out of range
	require.Error(t, table.WriteBinding(ClassStorageBuffer, bufferSlot, Resource{Buffer: buffer, Offset: 512, Range: 1024}))
	// Wrong resource for the class
	require.Error(t, table.WriteBinding(ClassSampler, samplerSlot, Resource{Buffer: buffer}))
	// Slot not acquired
	require.True(t, errors.Is(table.WriteBinding(ClassStorageImage, 0, Resource{ImageView: view}), ErrSlotNotLive))
}

func TestTable_StatsAndDestroy(t *testing.T) {
	ctrl := gomock.NewController(t)
	table, set := newTestTable(t, ctrl, CreateOptions{})

	_, err := table.AcquireSlot(ClassUniformTexelBuffer)
	require.NoError(t, err)

	stats := table.BuildStatsString()
	require.Contains(t, stats, `"ClassUniformTexelBuffer":{"Binding":3,"Capacity":128,"Live":1}`)

	set.EXPECT().Destroy()
	table.Destroy()
}
