// Package config loads the init-time settings of a frame engine from TOML.
package config

import (
	"bytes"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
	"github.com/vkngwrapper/framecore/bindless"
	"github.com/vkngwrapper/framecore/gpu"
	"github.com/vkngwrapper/framecore/heap"
	"github.com/vkngwrapper/framecore/memutils"
	"github.com/vkngwrapper/framecore/present"
	"github.com/vkngwrapper/framecore/submit"
	"github.com/vkngwrapper/framecore/uniform"
)

// MaxFramesInFlight bounds the number of uniform regions and sync slots
const MaxFramesInFlight = 4

// ErrInvalid marks every error returned by Validate
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	FramesInFlight int `toml:"frames_in_flight"`
	// ExternallySynchronized turns off internal locking in components that support it. Only set it
	// when a single goroutine drives the whole engine.
	ExternallySynchronized bool `toml:"externally_synchronized"`

	Descriptors Descriptors `toml:"descriptors"`
	Uniform     Uniform     `toml:"uniform"`
	Submission  Submission  `toml:"submission"`
	Surface     Surface     `toml:"surface"`
	Memory      Memory      `toml:"memory"`
}

type Descriptors struct {
	Samplers            int `toml:"samplers"`
	StorageImages       int `toml:"storage_images"`
	StorageBuffers      int `toml:"storage_buffers"`
	UniformTexelBuffers int `toml:"uniform_texel_buffers"`
	StorageTexelBuffers int `toml:"storage_texel_buffers"`
}

type Uniform struct {
	FrameCapacity int `toml:"frame_capacity"`
	Alignment     int `toml:"alignment"`
	Padding       int `toml:"padding"`
}

type Submission struct {
	GrowIncrement int      `toml:"grow_increment"`
	MaxFenceWait  Duration `toml:"max_fence_wait"`
}

type Surface struct {
	VSync bool `toml:"vsync"`
	// Formats lists format names such as "B8G8R8A8_SRGB" in order of preference
	Formats        []string `toml:"formats"`
	AcquireTimeout Duration `toml:"acquire_timeout"`
	// Width and Height are used when the surface leaves the swapchain size to the application
	Width  int `toml:"width"`
	Height int `toml:"height"`
}

type Memory struct {
	// HeapSizeLimits has one entry per memory heap; 0 or -1 means no limit
	HeapSizeLimits []int `toml:"heap_size_limits,omitempty"`
}

// Default returns the configuration used when no file is provided
func Default() *Config {
	formats := make([]string, 0, len(present.DefaultFormats))
	for _, format := range present.DefaultFormats {
		formats = append(formats, format.Format.String())
	}

	return &Config{
		FramesInFlight: present.DefaultFramesInFlight,
		Descriptors: Descriptors{
			Samplers:            bindless.DefaultSamplerCapacity,
			StorageImages:       bindless.DefaultStorageImageCapacity,
			StorageBuffers:      bindless.DefaultStorageBufferCapacity,
			UniformTexelBuffers: bindless.DefaultUniformTexelBufferCapacity,
			StorageTexelBuffers: bindless.DefaultStorageTexelBufferCapacity,
		},
		Uniform: Uniform{
			FrameCapacity: uniform.DefaultFrameCapacity,
			Alignment:     uniform.DefaultAlignment,
			Padding:       uniform.DefaultPadding,
		},
		Submission: Submission{
			GrowIncrement: submit.DefaultGrowIncrement,
			MaxFenceWait:  Duration{submit.DefaultMaxFenceWait},
		},
		Surface: Surface{
			VSync:          true,
			Formats:        formats,
			AcquireTimeout: Duration{present.DefaultAcquireTimeout},
		},
	}
}

// Parse decodes TOML over the defaults, so a document only needs the keys it changes. Unknown keys
// are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	err := decoder.Decode(cfg)
	if err != nil {
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			row, col := decodeErr.Position()
			return nil, errors.Mark(errors.Wrapf(err, "line %d column %d", row, col), ErrInvalid)
		}
		return nil, errors.Mark(err, ErrInvalid)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Load reads and parses the TOML file at path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read configuration %s", path)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load configuration %s", path)
	}

	return cfg, nil
}

// Marshal encodes the configuration as TOML
func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}

func invalid(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalid)
}

// Validate checks every setting that can be checked without a device. Device limits are checked
// when the components are created.
func (c *Config) Validate() error {
	if c.FramesInFlight < 1 || c.FramesInFlight > MaxFramesInFlight {
		return invalid("frames_in_flight must be between 1 and %d, but was %d", MaxFramesInFlight, c.FramesInFlight)
	}

	for name, capacity := range map[string]int{
		"descriptors.samplers":              c.Descriptors.Samplers,
		"descriptors.storage_images":        c.Descriptors.StorageImages,
		"descriptors.storage_buffers":       c.Descriptors.StorageBuffers,
		"descriptors.uniform_texel_buffers": c.Descriptors.UniformTexelBuffers,
		"descriptors.storage_texel_buffers": c.Descriptors.StorageTexelBuffers,
		"uniform.frame_capacity":            c.Uniform.FrameCapacity,
		"uniform.padding":                   c.Uniform.Padding,
		"submission.grow_increment":         c.Submission.GrowIncrement,
		"surface.width":                     c.Surface.Width,
		"surface.height":                    c.Surface.Height,
	} {
		if capacity < 0 {
			return invalid("%s must not be negative, but was %d", name, capacity)
		}
	}

	err := memutils.CheckPow2(c.Uniform.Alignment, "uniform.alignment")
	if err != nil {
		return errors.Mark(err, ErrInvalid)
	}

	if c.Submission.MaxFenceWait.Duration < 0 {
		return invalid("submission.max_fence_wait must not be negative, but was %s", c.Submission.MaxFenceWait)
	}
	if c.Surface.AcquireTimeout.Duration < 0 {
		return invalid("surface.acquire_timeout must not be negative, but was %s", c.Surface.AcquireTimeout)
	}

	_, err = c.surfaceFormats()
	if err != nil {
		return err
	}

	for heapIndex, limit := range c.Memory.HeapSizeLimits {
		if limit < -1 {
			return invalid("memory.heap_size_limits[%d] must be -1 or more, but was %d", heapIndex, limit)
		}
	}

	return nil
}

func (c *Config) surfaceFormats() ([]gpu.SurfaceFormat, error) {
	formats := make([]gpu.SurfaceFormat, 0, len(c.Surface.Formats))
	for _, name := range c.Surface.Formats {
		format, ok := gpu.ParseFormat(name)
		if !ok || format == gpu.FormatUndefined {
			return nil, invalid("surface.formats contains unknown format %q", name)
		}
		formats = append(formats, gpu.SurfaceFormat{Format: format, ColorSpace: gpu.ColorSpaceSRGBNonlinear})
	}
	return formats, nil
}

func (c *Config) HeapOptions() heap.CreateOptions {
	options := heap.CreateOptions{
		HeapSizeLimits: c.Memory.HeapSizeLimits,
	}
	if c.ExternallySynchronized {
		options.Flags |= heap.CreateExternallySynchronized
	}
	return options
}

func (c *Config) DescriptorOptions() bindless.CreateOptions {
	return bindless.CreateOptions{
		Samplers:            c.Descriptors.Samplers,
		StorageImages:       c.Descriptors.StorageImages,
		StorageBuffers:      c.Descriptors.StorageBuffers,
		UniformTexelBuffers: c.Descriptors.UniformTexelBuffers,
		StorageTexelBuffers: c.Descriptors.StorageTexelBuffers,
	}
}

func (c *Config) UniformOptions() uniform.CreateOptions {
	return uniform.CreateOptions{
		FrameCapacity: c.Uniform.FrameCapacity,
		Alignment:     c.Uniform.Alignment,
		Padding:       c.Uniform.Padding,
		Frames:        c.FramesInFlight,
	}
}

func (c *Config) SubmissionOptions() submit.CreateOptions {
	return submit.CreateOptions{
		GrowIncrement: c.Submission.GrowIncrement,
		MaxFenceWait:  c.Submission.MaxFenceWait.Duration,
	}
}

func (c *Config) SurfaceOptions() (present.CreateOptions, error) {
	formats, err := c.surfaceFormats()
	if err != nil {
		return present.CreateOptions{}, err
	}

	return present.CreateOptions{
		FramesInFlight:   c.FramesInFlight,
		VSync:            c.Surface.VSync,
		PreferredFormats: formats,
		Extent:           gpu.Extent{Width: c.Surface.Width, Height: c.Surface.Height},
		AcquireTimeout:   c.Surface.AcquireTimeout.Duration,
		FenceTimeout:     c.Submission.MaxFenceWait.Duration,
	}, nil
}
