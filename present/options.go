package present

import (
	"time"

	"github.com/vkngwrapper/framecore/gpu"
	"golang.org/x/exp/slices"
)

const (
	DefaultFramesInFlight = 3
	DefaultAcquireTimeout = time.Second
)

// DefaultFormats is the surface format preference list used when CreateOptions.PreferredFormats is empty
var DefaultFormats = []gpu.SurfaceFormat{
	{Format: gpu.FormatB8G8R8A8SRGB, ColorSpace: gpu.ColorSpaceSRGBNonlinear},
	{Format: gpu.FormatR8G8B8A8SRGB, ColorSpace: gpu.ColorSpaceSRGBNonlinear},
	{Format: gpu.FormatB8G8R8A8UNorm, ColorSpace: gpu.ColorSpaceSRGBNonlinear},
}

type CreateOptions struct {
	// FramesInFlight is the number of sync slots. It must match the rest of the frame engine.
	FramesInFlight int
	VSync          bool
	// PreferredFormats is searched in order; the surface's first reported format is used when none match
	PreferredFormats []gpu.SurfaceFormat
	// Extent is used when the surface leaves the swapchain size up to the caller
	Extent gpu.Extent
	// AcquireTimeout bounds every image acquire
	AcquireTimeout time.Duration
	// FenceTimeout bounds every wait on prior submissions. Zero uses the queue's ceiling.
	FenceTimeout time.Duration
}

func (o *CreateOptions) setDefaults() {
	if o.FramesInFlight == 0 {
		o.FramesInFlight = DefaultFramesInFlight
	}
	if len(o.PreferredFormats) == 0 {
		o.PreferredFormats = DefaultFormats
	}
	if o.AcquireTimeout == 0 {
		o.AcquireTimeout = DefaultAcquireTimeout
	}
}

func chooseFormat(preferred []gpu.SurfaceFormat, available []gpu.SurfaceFormat) gpu.SurfaceFormat {
	// A lone undefined format means the surface takes anything
	if len(available) == 1 && available[0].Format == gpu.FormatUndefined {
		return preferred[0]
	}

	for _, format := range preferred {
		if slices.Contains(available, format) {
			return format
		}
	}

	return available[0]
}

func choosePresentMode(vsync bool, available []gpu.PresentMode) gpu.PresentMode {
	if !vsync {
		for _, mode := range []gpu.PresentMode{gpu.PresentModeMailbox, gpu.PresentModeImmediate} {
			if slices.Contains(available, mode) {
				return mode
			}
		}
	}

	// FIFO is the only mode every surface must support
	return gpu.PresentModeFIFO
}

func chooseExtent(caps gpu.SurfaceCapabilities, requested gpu.Extent) gpu.Extent {
	extent := caps.CurrentExtent
	if extent.IsUndefined() {
		extent = requested
	}

	extent.Width = clamp(extent.Width, caps.MinExtent.Width, caps.MaxExtent.Width)
	extent.Height = clamp(extent.Height, caps.MinExtent.Height, caps.MaxExtent.Height)
	return extent
}

func chooseImageCount(caps gpu.SurfaceCapabilities) int {
	count := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && count > caps.MaxImageCount {
		count = caps.MaxImageCount
	}
	return count
}

func clamp(value, minimum, maximum int) int {
	if maximum > 0 && value > maximum {
		value = maximum
	}
	if value < minimum {
		value = minimum
	}
	return value
}
