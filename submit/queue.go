// Package submit wraps a single hardware queue. Tracked submissions each borrow a Context (a fence
// plus bookkeeping) from a pool that grows on demand and is reclaimed without blocking once the
// device signals completion.
package submit

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/framecore/gpu"
	"github.com/vkngwrapper/framecore/memutils"
)

const (
	DefaultGrowIncrement = 4
	DefaultMaxFenceWait  = 5 * time.Second
)

// CreateOptions contains optional settings when creating a Queue
type CreateOptions struct {
	// GrowIncrement is the number of contexts added to the pool whenever it runs dry
	GrowIncrement int
	// MaxFenceWait is the ceiling on every fence wait the queue performs
	MaxFenceWait time.Duration
}

// Stats is a point-in-time snapshot of the context pool
type Stats struct {
	Total         int
	Available     int
	Pending       int
	LastSubmitted uint64
	LastCompleted uint64
}

type Queue struct {
	logger *slog.Logger
	device gpu.Device
	queue  gpu.Queue

	growIncrement int
	maxFenceWait  time.Duration

	// submitMutex orders every call into the hardware queue
	submitMutex sync.Mutex

	poolMutex sync.Mutex
	contexts  []*Context
	available []*Context
	pending   []*Context
	bySerial  *swiss.Map[uint64, *Context]

	lastSubmitted atomic.Uint64
	lastCompleted atomic.Uint64
}

func New(logger *slog.Logger, device gpu.Device, queue gpu.Queue, options CreateOptions) (*Queue, error) {
	if logger == nil {
		panic("attempted to create a submission queue with a nil logger")
	}

	if options.GrowIncrement == 0 {
		options.GrowIncrement = DefaultGrowIncrement
	}
	if options.MaxFenceWait == 0 {
		options.MaxFenceWait = DefaultMaxFenceWait
	}
	if options.GrowIncrement < 0 {
		return nil, errors.Newf("submit.CreateOptions.GrowIncrement must be positive, but was %d", options.GrowIncrement)
	}
	if options.MaxFenceWait < 0 {
		return nil, errors.Newf("submit.CreateOptions.MaxFenceWait must be positive, but was %s", options.MaxFenceWait)
	}

	q := &Queue{
		logger:        logger,
		device:        device,
		queue:         queue,
		growIncrement: options.GrowIncrement,
		maxFenceWait:  options.MaxFenceWait,
		bySerial:      swiss.NewMap[uint64, *Context](uint32(options.GrowIncrement)),
	}

	q.poolMutex.Lock()
	defer q.poolMutex.Unlock()

	err := q.growLocked()
	if err != nil {
		q.destroyContextsLocked()
		return nil, err
	}

	return q, nil
}

func (q *Queue) growLocked() error {
	for i := 0; i < q.growIncrement; i++ {
		fence, res, err := q.device.CreateFence(false)
		if err != nil {
			return errors.Mark(errors.Wrapf(err, "failed to create submission fence: %s", res), ErrContextPoolExhausted)
		}

		pooled := &Context{fence: fence}
		q.contexts = append(q.contexts, pooled)
		q.available = append(q.available, pooled)
	}

	q.logger.Debug("Queue::grow", slog.Int("Total", len(q.contexts)))
	return nil
}

// Submit submits a command buffer, waiting on waits before it executes and signaling signals
// when it completes. The submission is tracked by a pooled context until UpdatePendingContexts
// observes it complete.
func (q *Queue) Submit(commandBuffer gpu.CommandBuffer, waits []Wait, signals []gpu.Semaphore) (Submission, error) {
	q.submitMutex.Lock()
	defer q.submitMutex.Unlock()

	pooled, err := q.takeContext()
	if err != nil {
		return Submission{}, err
	}

	info := gpu.SubmitInfo{
		SignalSemaphores: signals,
	}
	if commandBuffer != nil {
		info.CommandBuffers = []gpu.CommandBuffer{commandBuffer}
	}
	for _, wait := range waits {
		info.WaitSemaphores = append(info.WaitSemaphores, wait.Semaphore)
		info.WaitDstStageMask = append(info.WaitDstStageMask, wait.Stage)
	}

	serial := q.lastSubmitted.Load() + 1

	res, err := q.queue.Submit(pooled.fence, []gpu.SubmitInfo{info})
	if err != nil {
		q.returnContext(pooled)
		return Submission{}, errors.Mark(errors.Wrapf(err, "submission %d failed: %s", serial, res), ErrSubmitFailed)
	}

	pooled.commandBuffer = commandBuffer
	pooled.serial = serial

	q.poolMutex.Lock()
	q.pending = append(q.pending, pooled)
	q.bySerial.Put(serial, pooled)
	q.poolMutex.Unlock()

	q.lastSubmitted.Store(serial)

	return Submission{Fence: pooled.fence, Serial: serial}, nil
}

// takeContext pops the oldest available context, growing the pool if there is none
func (q *Queue) takeContext() (*Context, error) {
	q.poolMutex.Lock()
	defer q.poolMutex.Unlock()

	if len(q.available) == 0 {
		err := q.growLocked()
		if err != nil {
			return nil, err
		}
	}

	pooled := q.available[0]
	q.available[0] = nil
	q.available = q.available[1:]
	return pooled, nil
}

func (q *Queue) returnContext(pooled *Context) {
	q.poolMutex.Lock()
	defer q.poolMutex.Unlock()

	pooled.serial = 0
	pooled.commandBuffer = nil
	q.available = append(q.available, pooled)
}

// UpdatePendingContexts reclaims completed submissions, oldest first, and stops at the first one
// whose fence has not signaled. A single hardware queue signals its fences in submission order,
// so nothing after an unsignaled fence can have completed.
//
// Only the frame orchestrator calls this, never concurrently with itself.
func (q *Queue) UpdatePendingContexts() error {
	err := q.reclaim()
	memutils.DebugValidate(q)
	return err
}

func (q *Queue) reclaim() error {
	q.poolMutex.Lock()
	defer q.poolMutex.Unlock()

	reclaimed := 0
	for len(q.pending) > 0 {
		pooled := q.pending[0]

		res, err := pooled.fence.Status()
		if err != nil {
			return errors.Wrapf(err, "failed to read fence status for submission %d: %s", pooled.serial, res)
		}
		if res != core1_0.VKSuccess {
			break
		}

		res, err = pooled.fence.Reset()
		if err != nil {
			return errors.Wrapf(err, "failed to reset fence for submission %d: %s", pooled.serial, res)
		}

		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.bySerial.Delete(pooled.serial)
		q.lastCompleted.Store(pooled.serial)

		pooled.serial = 0
		pooled.commandBuffer = nil
		q.available = append(q.available, pooled)
		reclaimed++
	}

	if reclaimed > 0 {
		q.logger.Debug("Queue::UpdatePendingContexts",
			slog.Int("Reclaimed", reclaimed),
			slog.Uint64("LastCompleted", q.lastCompleted.Load()),
		)
	}

	return nil
}

// WaitForSerial blocks until the submission with the provided serial completes, for at most the
// smaller of timeout and the queue's MaxFenceWait, then reclaims every completed context. A serial
// of 0 is always complete.
func (q *Queue) WaitForSerial(serial uint64, timeout time.Duration) error {
	if serial <= q.lastCompleted.Load() {
		return nil
	}

	if serial > q.lastSubmitted.Load() {
		return errors.Newf("serial %d has not been submitted, last submitted is %d", serial, q.lastSubmitted.Load())
	}

	if timeout <= 0 || timeout > q.maxFenceWait {
		timeout = q.maxFenceWait
	}

	q.poolMutex.Lock()
	pooled, ok := q.bySerial.Get(serial)
	q.poolMutex.Unlock()

	if ok {
		res, err := pooled.fence.Wait(timeout)
		if err != nil {
			return errors.Wrapf(err, "failed to wait for submission %d: %s", serial, res)
		}
		if res == core1_0.VKTimeout {
			return errors.Wrapf(ErrFenceTimeout, "submission %d did not complete within %s", serial, timeout)
		}
	}

	return q.UpdatePendingContexts()
}

// IsComplete reports whether the submission with the provided serial has been observed complete
func (q *Queue) IsComplete(serial uint64) bool {
	return serial <= q.lastCompleted.Load()
}

// LastSubmitted returns the serial of the most recent tracked submission
func (q *Queue) LastSubmitted() uint64 {
	return q.lastSubmitted.Load()
}

// LastCompleted returns the serial of the most recent submission observed complete. Every
// submission with a smaller serial is also complete.
func (q *Queue) LastCompleted() uint64 {
	return q.lastCompleted.Load()
}

// NextSerial returns the serial the next tracked submission will receive. It is read under the
// submit lock, so no submission issued after NextSerial returns can carry a smaller serial.
func (q *Queue) NextSerial() uint64 {
	q.submitMutex.Lock()
	defer q.submitMutex.Unlock()

	return q.lastSubmitted.Load() + 1
}

// SubmitRaw submits without tracking. The caller owns the fence, if any.
func (q *Queue) SubmitRaw(fence gpu.Fence, submits []gpu.SubmitInfo) (common.VkResult, error) {
	q.submitMutex.Lock()
	defer q.submitMutex.Unlock()

	return q.queue.Submit(fence, submits)
}

// Present queues a swapchain image for presentation
func (q *Queue) Present(swapchain gpu.Swapchain, imageIndex int, waits []gpu.Semaphore) (common.VkResult, error) {
	q.submitMutex.Lock()
	defer q.submitMutex.Unlock()

	return q.queue.Present(swapchain, imageIndex, waits)
}

// WaitIdle waits for the hardware queue to drain and reclaims every context
func (q *Queue) WaitIdle() error {
	q.submitMutex.Lock()
	res, err := q.queue.WaitIdle()
	q.submitMutex.Unlock()

	if err != nil {
		return errors.Wrapf(err, "failed to wait for queue idle: %s", res)
	}

	return q.UpdatePendingContexts()
}

func (q *Queue) Stats() Stats {
	q.poolMutex.Lock()
	defer q.poolMutex.Unlock()

	return Stats{
		Total:         len(q.contexts),
		Available:     len(q.available),
		Pending:       len(q.pending),
		LastSubmitted: q.lastSubmitted.Load(),
		LastCompleted: q.lastCompleted.Load(),
	}
}

// Validate checks the pool bookkeeping
func (q *Queue) Validate() error {
	q.poolMutex.Lock()
	defer q.poolMutex.Unlock()

	if len(q.available)+len(q.pending) != len(q.contexts) {
		return errors.Newf("pool has %d contexts but %d available and %d pending", len(q.contexts), len(q.available), len(q.pending))
	}

	if q.bySerial.Count() != len(q.pending) {
		return errors.Newf("serial index holds %d contexts but %d are pending", q.bySerial.Count(), len(q.pending))
	}

	var previous uint64
	for _, pooled := range q.pending {
		if pooled.serial <= previous {
			return errors.Newf("pending serial %d follows serial %d", pooled.serial, previous)
		}
		previous = pooled.serial
	}

	for _, pooled := range q.available {
		if pooled.serial != 0 {
			return errors.Newf("available context still holds serial %d", pooled.serial)
		}
	}

	return nil
}

func (q *Queue) BuildStatsString() string {
	stats := q.Stats()

	writer := jwriter.NewWriter()
	obj := writer.Object()
	obj.Name("Total").Int(stats.Total)
	obj.Name("Available").Int(stats.Available)
	obj.Name("Pending").Int(stats.Pending)
	obj.Name("LastSubmitted").Float64(float64(stats.LastSubmitted))
	obj.Name("LastCompleted").Float64(float64(stats.LastCompleted))
	obj.End()

	return string(writer.Bytes())
}

// Destroy destroys every context fence. The queue must be idle.
func (q *Queue) Destroy() {
	q.poolMutex.Lock()
	defer q.poolMutex.Unlock()

	if len(q.pending) > 0 {
		q.logger.Warn("submission queue destroyed with pending submissions", slog.Int("Pending", len(q.pending)))
	}

	q.destroyContextsLocked()
}

func (q *Queue) destroyContextsLocked() {
	for _, pooled := range q.contexts {
		pooled.fence.Destroy()
	}

	q.contexts = nil
	q.available = nil
	q.pending = nil
	q.bySerial = swiss.NewMap[uint64, *Context](uint32(q.growIncrement))
}
