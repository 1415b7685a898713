package frame

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/framecore/gpu"
	"github.com/vkngwrapper/framecore/present"
)

// Orchestrator drives the frame loop: BeginFrame, any number of recordings and submissions, Present,
// EndFrame. It is not safe for concurrent use and must stay on the goroutine that owns the surface.
type Orchestrator struct {
	engine *Engine

	// regionSerials holds, per uniform region, the last submission issued while it was current
	regionSerials []uint64
	frame         uint64
	inFrame       bool
}

// BeginFrame waits until the GPU has finished with the uniform region the frame is about to reuse,
// then resets it. Pending vsync requests are applied here.
func (o *Orchestrator) BeginFrame() error {
	if o.inFrame {
		return errors.New("BeginFrame was called twice without EndFrame")
	}

	e := o.engine
	next := (e.uniforms.FrameIndex() + 1) % len(o.regionSerials)

	err := e.queue.WaitForSerial(o.regionSerials[next], 0)
	if err != nil {
		return errors.Wrapf(err, "failed waiting for uniform region %d", next)
	}

	e.uniforms.BeginFrame()
	o.inFrame = true

	if requested := e.requestedVSync.Swap(vsyncUnchanged); requested != vsyncUnchanged && e.surface != nil {
		e.surface.SetVSync(requested == vsyncOn)
	}

	return nil
}

// Present flushes the frame's uniform data, submits commandBuffer and presents the acquired image.
// A headless engine only submits.
func (o *Orchestrator) Present(commandBuffer gpu.CommandBuffer) error {
	if !o.inFrame {
		return errors.New("Present was called outside of a frame")
	}

	e := o.engine
	err := e.flushUniforms()
	if err != nil {
		return err
	}

	if e.surface == nil {
		_, err = e.queue.Submit(commandBuffer, nil, nil)
	} else {
		err = e.surface.Present(commandBuffer)
	}

	o.regionSerials[e.uniforms.FrameIndex()] = e.queue.LastSubmitted()
	return err
}

// EndFrame reclaims completed submission contexts and destroys resources they no longer reference
func (o *Orchestrator) EndFrame() error {
	if !o.inFrame {
		return errors.New("EndFrame was called outside of a frame")
	}

	e := o.engine
	o.regionSerials[e.uniforms.FrameIndex()] = e.queue.LastSubmitted()
	o.inFrame = false
	o.frame++

	err := e.queue.UpdatePendingContexts()
	if err != nil {
		return err
	}

	reaped := e.lifecycle.Reap()
	e.logger.Debug("Orchestrator::EndFrame",
		slog.Uint64("Frame", o.frame),
		slog.Uint64("LastCompleted", e.queue.LastCompleted()),
		slog.Int("Reaped", reaped),
	)

	return nil
}

// Frame returns the number of frames ended so far
func (o *Orchestrator) Frame() uint64 {
	return o.frame
}

// Surface returns the presentation surface, or nil for a headless engine
func (o *Orchestrator) Surface() *present.Surface {
	return o.engine.surface
}
