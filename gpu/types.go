package gpu

import (
	"fmt"

	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

type Extent struct {
	Width  int
	Height int
}

// IsZero reports whether either dimension is zero, which is how a minimized window presents itself
func (e Extent) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}

// IsUndefined reports whether the extent is UndefinedExtent
func (e Extent) IsUndefined() bool {
	return e.Width < 0 || e.Height < 0
}

func (e Extent) String() string {
	return fmt.Sprintf("%dx%d", e.Width, e.Height)
}

// Format carries VkFormat values.
type Format int32

const (
	FormatUndefined            Format = 0
	FormatR8G8B8A8UNorm        Format = 37
	FormatR8G8B8A8SRGB         Format = 43
	FormatB8G8R8A8UNorm        Format = 44
	FormatB8G8R8A8SRGB         Format = 50
	FormatA2B10G10R10UNormPack Format = 64
	FormatR16G16B16A16SFloat   Format = 97
)

var formatMapping = map[Format]string{
	FormatUndefined:            "UNDEFINED",
	FormatR8G8B8A8UNorm:        "R8G8B8A8_UNORM",
	FormatR8G8B8A8SRGB:         "R8G8B8A8_SRGB",
	FormatB8G8R8A8UNorm:        "B8G8R8A8_UNORM",
	FormatB8G8R8A8SRGB:         "B8G8R8A8_SRGB",
	FormatA2B10G10R10UNormPack: "A2B10G10R10_UNORM_PACK32",
	FormatR16G16B16A16SFloat:   "R16G16B16A16_SFLOAT",
}

func (f Format) String() string {
	name, ok := formatMapping[f]
	if !ok {
		return fmt.Sprintf("Format(%d)", int32(f))
	}
	return name
}

// ParseFormat maps the names used by String back to a Format
func ParseFormat(name string) (Format, bool) {
	for format, formatName := range formatMapping {
		if formatName == name {
			return format, true
		}
	}
	return FormatUndefined, false
}

// ColorSpace carries VkColorSpaceKHR values.
type ColorSpace int32

const (
	ColorSpaceSRGBNonlinear ColorSpace = 0
)

type SurfaceFormat struct {
	Format     Format
	ColorSpace ColorSpace
}

// PresentMode carries VkPresentModeKHR values.
type PresentMode int32

const (
	PresentModeImmediate   PresentMode = 0
	PresentModeMailbox     PresentMode = 1
	PresentModeFIFO        PresentMode = 2
	PresentModeFIFORelaxed PresentMode = 3
)

var presentModeMapping = map[PresentMode]string{
	PresentModeImmediate:   "PresentModeImmediate",
	PresentModeMailbox:     "PresentModeMailbox",
	PresentModeFIFO:        "PresentModeFIFO",
	PresentModeFIFORelaxed: "PresentModeFIFORelaxed",
}

func (m PresentMode) String() string {
	return presentModeMapping[m]
}

type SurfaceCapabilities struct {
	CurrentExtent Extent
	MinExtent     Extent
	MaxExtent     Extent
	MinImageCount int
	// MaxImageCount is 0 when the surface imposes no upper bound
	MaxImageCount int
	Formats       []SurfaceFormat
	PresentModes  []PresentMode
}

type SwapchainCreateInfo struct {
	ImageCount  int
	Format      SurfaceFormat
	Extent      Extent
	PresentMode PresentMode
}

type ImageCreateInfo struct {
	Extent    Extent
	Format    Format
	MipLevels int
	Usage     core1_0.ImageUsageFlags
}

// DescriptorLimits are the per-set update-after-bind limits the device reports. Texel buffers count
// against the sampled and storage image limits respectively.
type DescriptorLimits struct {
	Samplers       int
	SampledImages  int
	StorageImages  int
	StorageBuffers int
}

// DescriptorBinding declares one array binding of the bindless set. Every binding is created
// partially bound and update-after-bind.
type DescriptorBinding struct {
	Binding int
	Type    core1_0.DescriptorType
	Count   int
}

// DescriptorWrite updates one array element. Only the fields relevant to Type are read.
type DescriptorWrite struct {
	Binding      int
	ArrayElement int
	Type         core1_0.DescriptorType

	Sampler     Sampler
	ImageView   ImageView
	ImageLayout core1_0.ImageLayout

	Buffer Buffer
	Offset int
	Range  int

	TexelBufferView BufferView
}

// Presentation results shared by every swapchain implementation, with VkResult values
const (
	ResultSuboptimal  common.VkResult = 1000001003
	ResultOutOfDate   common.VkResult = -1000001004
	ResultSurfaceLost common.VkResult = -1000000000
)

// UndefinedExtent is reported as a surface's current extent when the swapchain decides the size
var UndefinedExtent = Extent{Width: -1, Height: -1}
