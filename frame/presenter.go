package frame

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"github.com/vkngwrapper/modelviewer/gpu"
	"github.com/vkngwrapper/modelviewer/swapchain"
)

// RecordFunc records draw commands into cmd between the start and end of the render
// pass for the given swapchain image.
type RecordFunc func(cmd core1_0.CommandBuffer, imageIndex int) error

// RebuildFunc is called after the swapchain has been rebuilt, with the new image count
// and render pass.
type RebuildFunc func(imageCount int, renderPass core1_0.RenderPass) error

type syncSet struct {
	imageAvailable []core1_0.Semaphore
	renderFinished []core1_0.Semaphore
	inFlight       []core1_0.Fence
}

// Presenter is the Vulkan implementation of Backend. It owns one synchronization set
// per frame slot and drives a swapchain.Manager.
type Presenter struct {
	ctx       *gpu.Context
	swapchain *swapchain.Manager
	sync      syncSet

	OnRecord  RecordFunc
	OnRebuild RebuildFunc
}

var _ Backend = (*Presenter)(nil)

func NewPresenter(ctx *gpu.Context, manager *swapchain.Manager, record RecordFunc) (*Presenter, error) {
	p := &Presenter{
		ctx:       ctx,
		swapchain: manager,
		OnRecord:  record,
	}

	err := p.createSyncObjects(FramesInFlight(manager.ImageCount()))
	if err != nil {
		p.Destroy()
		return nil, err
	}

	return p, nil
}

func (p *Presenter) createSyncObjects(count int) error {
	device := p.ctx.Device()

	for i := 0; i < count; i++ {
		semaphore, _, err := device.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
		if err != nil {
			return errors.Wrap(err, "create image available semaphore")
		}
		p.sync.imageAvailable = append(p.sync.imageAvailable, semaphore)

		semaphore, _, err = device.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
		if err != nil {
			return errors.Wrap(err, "create render finished semaphore")
		}
		p.sync.renderFinished = append(p.sync.renderFinished, semaphore)

		fence, _, err := device.CreateFence(nil, core1_0.FenceCreateInfo{
			Flags: core1_0.FenceCreateSignaled,
		})
		if err != nil {
			return errors.Wrap(err, "create in flight fence")
		}
		p.sync.inFlight = append(p.sync.inFlight, fence)
	}

	return nil
}

func (p *Presenter) destroySyncObjects() {
	device := p.ctx.Device()

	for _, fence := range p.sync.inFlight {
		device.DestroyFence(fence, nil)
	}

	for _, semaphore := range p.sync.renderFinished {
		device.DestroySemaphore(semaphore, nil)
	}

	for _, semaphore := range p.sync.imageAvailable {
		device.DestroySemaphore(semaphore, nil)
	}

	p.sync = syncSet{}
}

func (p *Presenter) FramesInFlight() int { return len(p.sync.inFlight) }
func (p *Presenter) ImageCount() int { return p.swapchain.ImageCount() }

func (p *Presenter) WaitFrame(slot int) error {
	_, err := p.ctx.Device().WaitForFences(true, common.NoTimeout, p.sync.inFlight[slot])
	return errors.Wrap(err, "wait for in flight fence")
}

func (p *Presenter) Acquire(slot int) (int, Status, error) {
	imageIndex, res, err := p.swapchain.Extension().AcquireNextImage(p.swapchain.Swapchain(), common.NoTimeout, &p.sync.imageAvailable[slot], nil)
	switch {
	case res == khr_swapchain.VKErrorOutOfDate:
		return -1, StatusOutOfDate, nil
	case err != nil:
		return -1, StatusOK, err
	case res == khr_swapchain.VKSuboptimal:
		return imageIndex, StatusSuboptimal, nil
	}

	return imageIndex, StatusOK, nil
}

func (p *Presenter) Record(slot, imageIndex int) error {
	device := p.ctx.Device()
	buffer := p.swapchain.CommandBuffer(imageIndex)
	extent := p.swapchain.Extent()

	_, err := device.ResetCommandBuffer(buffer, 0)
	if err != nil {
		return errors.Wrap(err, "reset command buffer")
	}

	_, err = device.BeginCommandBuffer(buffer, core1_0.CommandBufferBeginInfo{})
	if err != nil {
		return errors.Wrap(err, "begin command buffer")
	}

	err = device.CmdBeginRenderPass(buffer, core1_0.SubpassContentsInline,
		core1_0.RenderPassBeginInfo{
			RenderPass:  p.swapchain.RenderPass(),
			Framebuffer: p.swapchain.Framebuffer(imageIndex),
			RenderArea: core1_0.Rect2D{
				Offset: core1_0.Offset2D{X: 0, Y: 0},
				Extent: extent,
			},
			ClearValues: []core1_0.ClearValue{
				core1_0.ClearValueFloat{0, 0, 0, 1},
				core1_0.ClearValueDepthStencil{Depth: 1.0, Stencil: 0},
			},
		})
	if err != nil {
		return errors.Wrap(err, "begin render pass")
	}

	device.CmdSetViewport(buffer, core1_0.Viewport{
		X:        0,
		Y:        0,
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	})
	device.CmdSetScissor(buffer, core1_0.Rect2D{
		Offset: core1_0.Offset2D{X: 0, Y: 0},
		Extent: extent,
	})

	if p.OnRecord != nil {
		err = p.OnRecord(buffer, imageIndex)
		if err != nil {
			return err
		}
	}

	device.CmdEndRenderPass(buffer)

	_, err = device.EndCommandBuffer(buffer)
	return errors.Wrap(err, "end command buffer")
}

func (p *Presenter) Submit(slot, imageIndex int) error {
	device := p.ctx.Device()

	_, err := device.ResetFences(p.sync.inFlight[slot])
	if err != nil {
		return errors.Wrap(err, "reset in flight fence")
	}

	_, err = device.QueueSubmit(p.ctx.GraphicsQueue(), &p.sync.inFlight[slot],
		core1_0.SubmitInfo{
			WaitSemaphores:   []core1_0.Semaphore{p.sync.imageAvailable[slot]},
			WaitDstStageMask: []core1_0.PipelineStageFlags{core1_0.PipelineStageColorAttachmentOutput},
			CommandBuffers:   []core1_0.CommandBuffer{p.swapchain.CommandBuffer(imageIndex)},
			SignalSemaphores: []core1_0.Semaphore{p.sync.renderFinished[slot]},
		},
	)
	return errors.Wrap(err, "queue submit")
}

func (p *Presenter) Present(slot, imageIndex int) (Status, error) {
	res, err := p.swapchain.Extension().QueuePresent(p.ctx.PresentQueue(), khr_swapchain.PresentInfo{
		WaitSemaphores: []core1_0.Semaphore{p.sync.renderFinished[slot]},
		Swapchains:     []khr_swapchain.Swapchain{p.swapchain.Swapchain()},
		ImageIndices:   []int{imageIndex},
	})
	switch {
	case res == khr_swapchain.VKErrorOutOfDate:
		return StatusOutOfDate, nil
	case res == khr_swapchain.VKSuboptimal:
		return StatusSuboptimal, nil
	case err != nil:
		return StatusOK, err
	}

	return StatusOK, nil
}

// Rebuild rebuilds the swapchain, recreates the synchronization set when the number of
// frame slots changes and then runs the OnRebuild hook.
func (p *Presenter) Rebuild() error {
	err := p.swapchain.Rebuild()
	if err != nil {
		return err
	}

	framesInFlight := FramesInFlight(p.swapchain.ImageCount())
	if framesInFlight != p.FramesInFlight() {
		p.destroySyncObjects()
		err = p.createSyncObjects(framesInFlight)
		if err != nil {
			return err
		}
	}

	if p.OnRebuild != nil {
		return p.OnRebuild(p.swapchain.ImageCount(), p.swapchain.RenderPass())
	}

	return nil
}

// Destroy waits for the device to go idle and releases the synchronization set. The
// swapchain.Manager is not owned and must be destroyed separately.
func (p *Presenter) Destroy() {
	if p == nil || p.ctx == nil {
		return
	}

	_ = p.ctx.WaitIdle()
	p.destroySyncObjects()
}
