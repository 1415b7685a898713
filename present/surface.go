// Package present owns the swapchain: the presentable images, the per-frame acquire and
// render-complete semaphores, and recovery from resizes, minimization and stale swapchains.
package present

import (
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/framecore/gpu"
	"github.com/vkngwrapper/framecore/submit"
)

// maxRebuildAttempts bounds back-to-back rebuilds that never reach a successful acquire
const maxRebuildAttempts = 3

// Queue is the slice of *submit.Queue the surface submits and presents through
type Queue interface {
	Submit(commandBuffer gpu.CommandBuffer, waits []submit.Wait, signals []gpu.Semaphore) (submit.Submission, error)
	Present(swapchain gpu.Swapchain, imageIndex int, waits []gpu.Semaphore) (common.VkResult, error)
	WaitForSerial(serial uint64, timeout time.Duration) error
	LastSubmitted() uint64
}

type surfaceImage struct {
	image gpu.Image
	view  gpu.ImageView
	// lastSerial is the submission that last rendered into the image
	lastSerial uint64
}

type syncSlot struct {
	acquire gpu.Semaphore
	render  gpu.Semaphore
}

// Surface is single-threaded: every method must be called from the frame orchestrator.
type Surface struct {
	logger  *slog.Logger
	device  gpu.Device
	queue   Queue
	surface gpu.Surface
	options CreateOptions

	state            State
	vsync            bool
	rebuildRequested bool
	rebuildAttempts  int

	swapchain   gpu.Swapchain
	format      gpu.SurfaceFormat
	presentMode gpu.PresentMode
	extent      gpu.Extent

	images     []surfaceImage
	imageIndex int

	syncSlots []syncSlot
	syncIndex int
}

// New builds the swapchain and acquires the first image. A surface with a zero extent starts
// minimized and builds its swapchain once it has a size.
func New(logger *slog.Logger, device gpu.Device, queue Queue, surface gpu.Surface, options CreateOptions) (*Surface, error) {
	if logger == nil {
		panic("attempted to create a presentation surface with a nil logger")
	}

	options.setDefaults()
	if options.FramesInFlight < 0 {
		return nil, errors.Newf("present.CreateOptions.FramesInFlight must be positive, but was %d", options.FramesInFlight)
	}

	s := &Surface{
		logger:  logger,
		device:  device,
		queue:   queue,
		surface: surface,
		options: options,
		vsync:   options.VSync,
	}

	caps, err := s.capabilities()
	if err != nil {
		return nil, err
	}

	if caps.CurrentExtent.IsZero() {
		s.state = StateMinimized
		logger.Debug("Surface::New minimized")
		return s, nil
	}

	err = s.build(caps)
	if err != nil {
		s.Destroy()
		return nil, err
	}

	err = s.acquire()
	if err != nil {
		s.Destroy()
		return nil, err
	}

	return s, nil
}

func (s *Surface) capabilities() (gpu.SurfaceCapabilities, error) {
	caps, res, err := s.surface.Capabilities()
	if err != nil {
		return caps, s.lost(errors.Wrapf(err, "failed to query surface capabilities: %s", res))
	}

	if len(caps.Formats) == 0 {
		return caps, ErrNoSurfaceFormats
	}

	return caps, nil
}

func (s *Surface) lost(err error) error {
	s.state = StateLost
	return errors.Mark(err, ErrSurfaceLost)
}

// buildFailed releases the views and semaphores a failed build managed to create. Nothing has
// been submitted against them yet.
func (s *Surface) buildFailed(err error) error {
	s.destroyImages()
	s.destroySyncSlots()
	return s.lost(err)
}

// build creates a swapchain for caps, retiring the current one, along with fresh views and a full
// set of sync slots
func (s *Surface) build(caps gpu.SurfaceCapabilities) error {
	s.state = StateRebuilding

	info := gpu.SwapchainCreateInfo{
		ImageCount:  chooseImageCount(caps),
		Format:      chooseFormat(s.options.PreferredFormats, caps.Formats),
		Extent:      chooseExtent(caps, s.options.Extent),
		PresentMode: choosePresentMode(s.vsync, caps.PresentModes),
	}

	swapchain, res, err := s.surface.CreateSwapchain(info, s.swapchain)
	if err != nil {
		return s.lost(errors.Wrapf(err, "failed to create swapchain: %s", res))
	}

	s.destroyImages()
	if s.swapchain != nil {
		s.swapchain.Destroy()
	}
	s.swapchain = swapchain
	s.format = info.Format
	s.presentMode = info.PresentMode
	s.extent = info.Extent

	images, res, err := swapchain.Images()
	if err != nil {
		return s.lost(errors.Wrapf(err, "failed to get swapchain images: %s", res))
	}

	for _, image := range images {
		view, res, err := s.device.CreateImageView(image, info.Format.Format)
		if err != nil {
			return s.buildFailed(errors.Wrapf(err, "failed to create swapchain image view: %s", res))
		}
		s.images = append(s.images, surfaceImage{image: image, view: view})
	}

	s.destroySyncSlots()
	for i := 0; i < s.options.FramesInFlight; i++ {
		acquire, res, err := s.device.CreateSemaphore()
		if err != nil {
			return s.buildFailed(errors.Wrapf(err, "failed to create acquire semaphore: %s", res))
		}
		s.syncSlots = append(s.syncSlots, syncSlot{acquire: acquire})

		render, res, err := s.device.CreateSemaphore()
		if err != nil {
			return s.buildFailed(errors.Wrapf(err, "failed to create render semaphore: %s", res))
		}
		s.syncSlots[i].render = render
	}
	s.syncIndex = 0
	s.rebuildRequested = false

	s.logger.Debug("Surface::build",
		slog.String("Extent", s.extent.String()),
		slog.String("Format", s.format.Format.String()),
		slog.String("PresentMode", s.presentMode.String()),
		slog.Int("Images", len(s.images)),
	)

	return nil
}

// acquire acquires the next image using the current sync slot's acquire semaphore
func (s *Surface) acquire() error {
	slot := s.syncSlots[s.syncIndex]

	imageIndex, res, err := s.swapchain.AcquireNextImage(s.options.AcquireTimeout, slot.acquire)
	switch {
	case res == gpu.ResultOutOfDate:
		return s.rebuild()
	case err != nil:
		return s.lost(errors.Wrapf(err, "failed to acquire swapchain image: %s", res))
	case res == core1_0.VKTimeout || res == core1_0.VKNotReady:
		return s.lost(errors.Newf("swapchain image was not acquired within %s: %s", s.options.AcquireTimeout, res))
	case res == gpu.ResultSuboptimal:
		// The acquire signaled the semaphore, so the image must still be presented before rebuilding
		s.rebuildRequested = true
	}

	s.imageIndex = imageIndex
	s.state = StateAcquired
	s.rebuildAttempts = 0
	return nil
}

// rebuild recreates the swapchain for the surface's current size, or enters StateMinimized if the
// surface has no size
func (s *Surface) rebuild() error {
	s.state = StateRebuilding

	s.rebuildAttempts++
	if s.rebuildAttempts > maxRebuildAttempts {
		return s.lost(errors.Newf("swapchain was still out of date after %d rebuilds", maxRebuildAttempts))
	}

	// Every image of the old swapchain must be finished with before its views are destroyed
	err := s.queue.WaitForSerial(s.queue.LastSubmitted(), s.options.FenceTimeout)
	if err != nil {
		return err
	}

	caps, err := s.capabilities()
	if err != nil {
		return err
	}

	if caps.CurrentExtent.IsZero() {
		s.logger.Debug("Surface::rebuild minimized")
		s.state = StateMinimized
		s.rebuildAttempts = 0
		return nil
	}

	err = s.build(caps)
	if err != nil {
		return err
	}

	return s.acquire()
}

// Present submits commandBuffer, which renders into CurrentImage, and presents the result. After
// Present returns without error the next image has been acquired, unless the surface is minimized.
func (s *Surface) Present(commandBuffer gpu.CommandBuffer) error {
	switch s.state {
	case StateMinimized:
		return s.presentMinimized(commandBuffer)
	case StateLost:
		return errors.Wrap(ErrSurfaceLost, "attempted to present to a lost surface")
	case StateRebuilding:
		return errors.New("attempted to present while the swapchain was being rebuilt")
	case StateRendering, StatePresented:
		return errors.Newf("attempted to present while the surface was in %s", s.state)
	}

	image := &s.images[s.imageIndex]

	// The display engine may still read the image from an earlier frame
	err := s.queue.WaitForSerial(image.lastSerial, s.options.FenceTimeout)
	if err != nil {
		return err
	}

	slot := s.syncSlots[s.syncIndex]
	s.state = StateRendering
	submission, err := s.queue.Submit(
		commandBuffer,
		[]submit.Wait{{Semaphore: slot.acquire, Stage: core1_0.PipelineStageColorAttachmentOutput}},
		[]gpu.Semaphore{slot.render},
	)
	if err != nil {
		// Nothing waited on the acquire semaphore, so the image is still ours
		s.state = StateAcquired
		return err
	}
	image.lastSerial = submission.Serial

	res, err := s.queue.Present(s.swapchain, s.imageIndex, []gpu.Semaphore{slot.render})
	s.state = StatePresented
	s.syncIndex = (s.syncIndex + 1) % len(s.syncSlots)

	stale := res == gpu.ResultSuboptimal || res == gpu.ResultOutOfDate
	if err != nil && !stale {
		return s.lost(errors.Wrapf(err, "failed to present swapchain image: %s", res))
	}

	if stale || s.rebuildRequested {
		s.logger.Debug("Surface::Present rebuilding", slog.String("Result", res.String()), slog.Bool("Requested", s.rebuildRequested))
		return s.rebuild()
	}

	return s.acquire()
}

// presentMinimized keeps the frame loop moving without a swapchain: each frame waits for the
// previous submission so the queue cannot grow without bound, submits, and checks for a size
func (s *Surface) presentMinimized(commandBuffer gpu.CommandBuffer) error {
	err := s.queue.WaitForSerial(s.queue.LastSubmitted(), s.options.FenceTimeout)
	if err != nil {
		return err
	}

	_, err = s.queue.Submit(commandBuffer, nil, nil)
	if err != nil {
		return err
	}

	caps, err := s.capabilities()
	if err != nil {
		return err
	}

	if caps.CurrentExtent.IsZero() {
		return nil
	}

	s.logger.Debug("Surface::Present restored", slog.String("Extent", caps.CurrentExtent.String()))
	return s.rebuild()
}

// SetVSync switches between FIFO presentation and the lowest-latency mode the surface supports.
// A change takes effect at the next Present.
func (s *Surface) SetVSync(vsync bool) {
	if s.vsync == vsync {
		return
	}

	s.vsync = vsync
	s.rebuildRequested = true
}

func (s *Surface) VSync() bool {
	return s.vsync
}

// RequestRebuild forces the swapchain to be rebuilt after the next Present
func (s *Surface) RequestRebuild() {
	s.rebuildRequested = true
}

func (s *Surface) State() State {
	return s.state
}

func (s *Surface) ImageIndex() int {
	return s.imageIndex
}

func (s *Surface) ImageCount() int {
	return len(s.images)
}

func (s *Surface) SyncIndex() int {
	return s.syncIndex
}

func (s *Surface) Extent() gpu.Extent {
	return s.extent
}

func (s *Surface) Format() gpu.SurfaceFormat {
	return s.format
}

func (s *Surface) PresentMode() gpu.PresentMode {
	return s.presentMode
}

// CurrentImage returns the acquired image and its view. Both are nil unless the state is StateAcquired.
func (s *Surface) CurrentImage() (gpu.Image, gpu.ImageView) {
	if s.state != StateAcquired {
		return nil, nil
	}

	image := s.images[s.imageIndex]
	return image.image, image.view
}

func (s *Surface) destroyImages() {
	for _, image := range s.images {
		image.view.Destroy()
	}
	s.images = nil
	s.imageIndex = 0
}

func (s *Surface) destroySyncSlots() {
	for _, slot := range s.syncSlots {
		if slot.acquire != nil {
			slot.acquire.Destroy()
		}
		if slot.render != nil {
			slot.render.Destroy()
		}
	}
	s.syncSlots = nil
}

// Destroy releases the swapchain and everything created for it. Submissions that use the surface
// must have completed.
func (s *Surface) Destroy() {
	s.destroyImages()
	s.destroySyncSlots()

	if s.swapchain != nil {
		s.swapchain.Destroy()
		s.swapchain = nil
	}
	s.state = StateLost
}
