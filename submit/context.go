package submit

import (
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/framecore/gpu"
)

// Context tracks one submission from the moment it is handed to the queue until its fence is
// observed signaled. Contexts are recycled; the fence is created once and reset on reclaim.
type Context struct {
	fence         gpu.Fence
	commandBuffer gpu.CommandBuffer
	serial        uint64
}

func (c *Context) Fence() gpu.Fence {
	return c.fence
}

// Serial returns the serial of the submission currently using the context, or 0 if it is available
func (c *Context) Serial() uint64 {
	return c.serial
}

// Submission identifies a tracked submission
type Submission struct {
	// Fence is signaled when the submission completes. It belongs to the queue and is reused by a
	// later submission once this one has been reclaimed, so callers must not wait on or reset it
	// after calling UpdatePendingContexts; use Queue.WaitForSerial instead.
	Fence  gpu.Fence
	Serial uint64
}

// Wait is a semaphore a submission waits on before the given pipeline stages execute
type Wait struct {
	Semaphore gpu.Semaphore
	Stage     core1_0.PipelineStageFlags
}
