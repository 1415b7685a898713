package heap

import (
	"io"
	"log/slog"
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/framecore/gpu"
	"github.com/vkngwrapper/framecore/gpu/mocks"
	"go.uber.org/mock/gomock"
)

func newTestClassifier(t *testing.T, ctrl *gomock.Controller, props *core1_0.PhysicalDeviceMemoryProperties, options CreateOptions) (*Classifier, *mocks.MockDevice) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	device := mocks.NewMockDevice(ctrl)
	device.EXPECT().MemoryProperties().Return(props)

	classifier, err := New(logger, device, options)
	require.NoError(t, err)

	return classifier, device
}

func TestClassifier_Allocate(t *testing.T) {
	ctrl := gomock.NewController(t)
	classifier, device := newTestClassifier(t, ctrl, discreteDevice(), CreateOptions{})

	for _, intent := range Intents() {
		choice := classifier.Selection().Choice(intent)

		memory := mocks.NewMockDeviceMemory(ctrl)
		device.EXPECT().AllocateMemory(choice.MemoryTypeIndex, 1024).Return(memory, core1_0.VKSuccess, nil)

		block, err := classifier.Allocate(core1_0.MemoryRequirements{Size: 1024, Alignment: 256, MemoryTypeBits: 0xF}, intent)
		require.NoError(t, err)
		require.NotNil(t, block)

		required := intentPreferences[intent].required
		if choice.Fallback {
			required = intentPreferences[intentPreferences[intent].fallback].required
		}
		require.Equal(t, required, block.PropertyFlags()&required)
		require.Equal(t, choice.HeapIndex, block.HeapIndex())
		require.Equal(t, 1024, block.Size())
		require.Equal(t, intent, block.Intent())

		memory.EXPECT().Free()
		block.Free()
	}

	require.Equal(t, 0, classifier.LiveBlocks())
	require.NoError(t, classifier.Validate())
	require.NoError(t, classifier.Destroy())
}

func TestClassifier_DeviceLocalOnUnifiedMemory(t *testing.T) {
	ctrl := gomock.NewController(t)
	classifier, device := newTestClassifier(t, ctrl, memoryProperties(dl|hv|hc), CreateOptions{})

	memory := mocks.NewMockDeviceMemory(ctrl)
	device.EXPECT().AllocateMemory(0, 1024).Return(memory, core1_0.VKSuccess, nil)

	block, err := classifier.Allocate(core1_0.MemoryRequirements{Size: 1024, MemoryTypeBits: 1}, IntentDeviceLocal)
	require.NoError(t, err)
	require.NotNil(t, block)
	require.Equal(t, 0, block.HeapIndex())
	require.Equal(t, dl|hv|hc, block.PropertyFlags())

	memory.EXPECT().Free()
	block.Free()
}

func TestClassifier_IncompatibleMemoryTypeBits(t *testing.T) {
	ctrl := gomock.NewController(t)
	classifier, _ := newTestClassifier(t, ctrl, discreteDevice(), CreateOptions{})

	// Device-local is memory type 0, which the resource does not permit
	block, err := classifier.Allocate(core1_0.MemoryRequirements{Size: 1024, MemoryTypeBits: 0b1110}, IntentDeviceLocal)
	require.NoError(t, err)
	require.Nil(t, block)
	require.Equal(t, 0, classifier.LiveBlocks())
}

func TestClassifier_OutOfMemory(t *testing.T) {
	testCases := map[string]struct {
		result   common.VkResult
		sentinel error
		other    error
	}{
		"Device": {result: core1_0.VKErrorOutOfDeviceMemory, sentinel: ErrDeviceMemoryExhausted, other: ErrHostMemoryExhausted},
		"Host":   {result: core1_0.VKErrorOutOfHostMemory, sentinel: ErrHostMemoryExhausted, other: ErrDeviceMemoryExhausted},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			classifier, device := newTestClassifier(t, ctrl, discreteDevice(), CreateOptions{})

			device.EXPECT().AllocateMemory(0, 4096).Return(nil, testCase.result, testCase.result.ToError())

			block, err := classifier.Allocate(core1_0.MemoryRequirements{Size: 4096, MemoryTypeBits: 1}, IntentDeviceLocal)
			require.Nil(t, block)
			require.True(t, errors.Is(err, testCase.sentinel))
			require.False(t, errors.Is(err, testCase.other))

			// Counters were rolled back
			require.Equal(t, 0, classifier.HeapStatistics()[0].BlockBytes)
			require.NoError(t, classifier.Validate())
		})
	}
}

func TestClassifier_HeapSizeLimits(t *testing.T) {
	ctrl := gomock.NewController(t)
	classifier, device := newTestClassifier(t, ctrl, discreteDevice(), CreateOptions{
		HeapSizeLimits: []int{4096, -1},
	})

	memory := mocks.NewMockDeviceMemory(ctrl)
	device.EXPECT().AllocateMemory(0, 3072).Return(memory, core1_0.VKSuccess, nil)

	block, err := classifier.Allocate(core1_0.MemoryRequirements{Size: 3072, MemoryTypeBits: 1}, IntentDeviceLocal)
	require.NoError(t, err)

	_, err = classifier.Allocate(core1_0.MemoryRequirements{Size: 2048, MemoryTypeBits: 1}, IntentDeviceLocal)
	require.True(t, errors.Is(err, ErrDeviceMemoryExhausted))

	stats := classifier.HeapStatistics()
	require.Equal(t, 1, stats[0].BlockCount)
	require.Equal(t, 3072, stats[0].BlockBytes)

	memory.EXPECT().Free()
	block.Free()
	require.Equal(t, 0, classifier.HeapStatistics()[0].BlockBytes)
}

func TestClassifier_BadHeapSizeLimits(t *testing.T) {
	ctrl := gomock.NewController(t)
	device := mocks.NewMockDevice(ctrl)
	device.EXPECT().MemoryProperties().Return(discreteDevice())

	_, err := New(slog.New(slog.NewJSONHandler(io.Discard, nil)), device, CreateOptions{HeapSizeLimits: []int{1}})
	require.Error(t, err)
}

func TestClassifier_AllocateForBuffer(t *testing.T) {
	ctrl := gomock.NewController(t)
	classifier, device := newTestClassifier(t, ctrl, discreteDevice(), CreateOptions{})

	memory := mocks.NewMockDeviceMemory(ctrl)
	buffer := mocks.NewMockBuffer(ctrl)
	buffer.EXPECT().MemoryRequirements().Return(core1_0.MemoryRequirements{Size: 512, MemoryTypeBits: 0xF})
	device.EXPECT().AllocateMemory(1, 512).Return(memory, core1_0.VKSuccess, nil)
	buffer.EXPECT().BindMemory(memory, 0).Return(core1_0.VKSuccess, nil)

	block, err := classifier.AllocateForBuffer(buffer, IntentUpload)
	require.NoError(t, err)
	require.Equal(t, 1, block.MemoryTypeIndex())
	require.Equal(t, 1, classifier.LiveBlocks())

	memory.EXPECT().Free()
	block.Free()
}

func TestClassifier_AllocateForImage_BindFailureFrees(t *testing.T) {
	ctrl := gomock.NewController(t)
	classifier, device := newTestClassifier(t, ctrl, discreteDevice(), CreateOptions{})

	memory := mocks.NewMockDeviceMemory(ctrl)
	image := mocks.NewMockImage(ctrl)
	image.EXPECT().MemoryRequirements().Return(core1_0.MemoryRequirements{Size: 2048, MemoryTypeBits: 0xF})
	device.EXPECT().AllocateMemory(0, 2048).Return(memory, core1_0.VKSuccess, nil)
	image.EXPECT().BindMemory(memory, 0).Return(core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfDeviceMemory.ToError())
	memory.EXPECT().Free()

	block, err := classifier.AllocateForImage(image, IntentDeviceLocal)
	require.Error(t, err)
	require.Nil(t, block)
	require.Equal(t, 0, classifier.LiveBlocks())
}

func TestBlock_Map(t *testing.T) {
	ctrl := gomock.NewController(t)
	classifier, device := newTestClassifier(t, ctrl, discreteDevice(), CreateOptions{})

	memory := mocks.NewMockDeviceMemory(ctrl)
	device.EXPECT().AllocateMemory(1, 64).Return(memory, core1_0.VKSuccess, nil)

	block, err := classifier.Allocate(core1_0.MemoryRequirements{Size: 64, MemoryTypeBits: 0xF}, IntentUpload)
	require.NoError(t, err)

	backing := make([]byte, 64)
	memory.EXPECT().Map(0, 64).Return(unsafe.Pointer(&backing[0]), core1_0.VKSuccess, nil)

	ptr, _, err := block.Map()
	require.NoError(t, err)
	require.Equal(t, unsafe.Pointer(&backing[0]), ptr)

	data := block.MappedData()
	require.Len(t, data, 64)
	data[3] = 7
	require.Equal(t, byte(7), backing[3])

	_, _, err = block.Map()
	require.True(t, errors.Is(err, ErrAlreadyMapped))

	// Host-coherent memory needs no flush
	_, err = block.Flush(0, -1)
	require.NoError(t, err)

	memory.EXPECT().Unmap()
	memory.EXPECT().Free()
	block.Free()

	// Second free is a no-op
	block.Free()
	require.Nil(t, block.MappedData())
}

func TestBlock_MapDeviceLocal(t *testing.T) {
	ctrl := gomock.NewController(t)
	classifier, device := newTestClassifier(t, ctrl, discreteDevice(), CreateOptions{})

	memory := mocks.NewMockDeviceMemory(ctrl)
	device.EXPECT().AllocateMemory(0, 64).Return(memory, core1_0.VKSuccess, nil)

	block, err := classifier.Allocate(core1_0.MemoryRequirements{Size: 64, MemoryTypeBits: 0xF}, IntentDeviceLocal)
	require.NoError(t, err)

	_, _, err = block.Map()
	require.Error(t, err)

	memory.EXPECT().Free()
	block.Free()
}

func TestBlock_FlushNonCoherent(t *testing.T) {
	ctrl := gomock.NewController(t)
	classifier, device := newTestClassifier(t, ctrl, memoryProperties(dl, hv), CreateOptions{})

	memory := mocks.NewMockDeviceMemory(ctrl)
	device.EXPECT().AllocateMemory(1, 256).Return(memory, core1_0.VKSuccess, nil)

	block, err := classifier.Allocate(core1_0.MemoryRequirements{Size: 256, MemoryTypeBits: 0xF}, IntentUpload)
	require.NoError(t, err)
	require.False(t, block.IsHostCoherent())

	memory.EXPECT().Flush(64, 192).Return(core1_0.VKSuccess, nil)
	_, err = block.Flush(64, -1)
	require.NoError(t, err)

	memory.EXPECT().Invalidate(0, 16).Return(core1_0.VKSuccess, nil)
	_, err = block.Invalidate(0, 16)
	require.NoError(t, err)

	_, err = block.Flush(200, 100)
	require.Error(t, err)

	memory.EXPECT().Free()
	block.Free()
}

func TestClassifier_DestroyReportsLeaks(t *testing.T) {
	ctrl := gomock.NewController(t)
	classifier, device := newTestClassifier(t, ctrl, discreteDevice(), CreateOptions{})

	memory := mocks.NewMockDeviceMemory(ctrl)
	device.EXPECT().AllocateMemory(0, 128).Return(memory, core1_0.VKSuccess, nil)

	block, err := classifier.Allocate(core1_0.MemoryRequirements{Size: 128, MemoryTypeBits: 1}, IntentDeviceLocal)
	require.NoError(t, err)

	stats := classifier.BuildStatsString(true)
	require.Contains(t, stats, block.ID().String())
	require.Contains(t, stats, `"IntentDynamic"`)

	require.Error(t, classifier.Destroy())

	memory.EXPECT().Free()
	block.Free()
	require.NoError(t, classifier.Destroy())
}

func TestClassifier_Callbacks(t *testing.T) {
	ctrl := gomock.NewController(t)

	var allocated, freed int
	classifier, device := newTestClassifier(t, ctrl, discreteDevice(), CreateOptions{
		Flags: CreateExternallySynchronized,
		MemoryCallbackOptions: &MemoryCallbackOptions{
			Allocate: func(classifier *Classifier, memoryType int, memory gpu.DeviceMemory, size int, userData interface{}) {
				allocated += size
				require.Equal(t, "user", userData)
			},
			Free: func(classifier *Classifier, memoryType int, memory gpu.DeviceMemory, size int, userData interface{}) {
				freed += size
			},
			UserData: "user",
		},
	})

	memory := mocks.NewMockDeviceMemory(ctrl)
	device.EXPECT().AllocateMemory(0, 128).Return(memory, core1_0.VKSuccess, nil)

	block, err := classifier.Allocate(core1_0.MemoryRequirements{Size: 128, MemoryTypeBits: 1}, IntentDeviceLocal)
	require.NoError(t, err)
	require.Equal(t, 128, allocated)

	memory.EXPECT().Free()
	block.Free()
	require.Equal(t, 128, freed)
}
