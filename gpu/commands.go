package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// BeginSingleUseCommands allocates a primary command buffer from the default pool and
// begins it for one-time submission.
func (c *Context) BeginSingleUseCommands() (core1_0.CommandBuffer, error) {
	buffers, _, err := c.deviceDriver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        c.commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return core1_0.CommandBuffer{}, errors.Wrap(err, "allocate single-use command buffer")
	}

	buffer := buffers[0]
	_, err = c.deviceDriver.BeginCommandBuffer(buffer, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		c.deviceDriver.FreeCommandBuffers(buffer)
		return core1_0.CommandBuffer{}, errors.Wrap(err, "begin single-use command buffer")
	}

	return buffer, nil
}

// EndSingleUseCommands ends buffer, submits it to the graphics queue, waits for the
// queue to drain and frees the buffer.
func (c *Context) EndSingleUseCommands(buffer core1_0.CommandBuffer) error {
	defer c.deviceDriver.FreeCommandBuffers(buffer)

	_, err := c.deviceDriver.EndCommandBuffer(buffer)
	if err != nil {
		return errors.Wrap(err, "end single-use command buffer")
	}

	_, err = c.deviceDriver.QueueSubmit(c.graphicsQueue, nil,
		core1_0.SubmitInfo{
			CommandBuffers: []core1_0.CommandBuffer{buffer},
		},
	)
	if err != nil {
		return errors.Wrap(err, "submit single-use command buffer")
	}

	_, err = c.deviceDriver.QueueWaitIdle(c.graphicsQueue)
	return errors.Wrap(err, "wait for graphics queue")
}

func (c *Context) singleUse(record func(buffer core1_0.CommandBuffer) error) error {
	buffer, err := c.BeginSingleUseCommands()
	if err != nil {
		return err
	}

	err = record(buffer)
	if err != nil {
		c.deviceDriver.FreeCommandBuffers(buffer)
		return err
	}

	return c.EndSingleUseCommands(buffer)
}

// CopyBuffer copies each region from src to dst in one submission.
func (c *Context) CopyBuffer(src, dst core1_0.Buffer, regions ...core1_0.BufferCopy) error {
	return c.singleUse(func(buffer core1_0.CommandBuffer) error {
		return errors.Wrap(c.deviceDriver.CmdCopyBuffer(buffer, src, dst, regions...), "record buffer copy")
	})
}

// CopyBufferToImage copies tightly packed texels from the start of src into the colour
// aspect of image, which must be in the transfer-destination layout.
func (c *Context) CopyBufferToImage(src core1_0.Buffer, image core1_0.Image, width, height int) error {
	return c.singleUse(func(buffer core1_0.CommandBuffer) error {
		err := c.deviceDriver.CmdCopyBufferToImage(buffer, src, image, core1_0.ImageLayoutTransferDstOptimal,
			core1_0.BufferImageCopy{
				BufferOffset:      0,
				BufferRowLength:   0,
				BufferImageHeight: 0,

				ImageSubresource: core1_0.ImageSubresourceLayers{
					AspectMask:     core1_0.ImageAspectColor,
					MipLevel:       0,
					BaseArrayLayer: 0,
					LayerCount:     1,
				},
				ImageOffset: core1_0.Offset3D{X: 0, Y: 0, Z: 0},
				ImageExtent: core1_0.Extent3D{Width: width, Height: height, Depth: 1},
			},
		)
		return errors.Wrap(err, "record buffer to image copy")
	})
}

type transitionMasks struct {
	srcAccess, dstAccess core1_0.AccessFlags
	srcStage, dstStage   core1_0.PipelineStageFlags
}

func layoutTransition(oldLayout, newLayout core1_0.ImageLayout) (transitionMasks, error) {
	switch {
	case oldLayout == core1_0.ImageLayoutUndefined && newLayout == core1_0.ImageLayoutTransferDstOptimal:
		return transitionMasks{
			srcAccess: 0,
			dstAccess: core1_0.AccessTransferWrite,
			srcStage:  core1_0.PipelineStageTopOfPipe,
			dstStage:  core1_0.PipelineStageTransfer,
		}, nil
	case oldLayout == core1_0.ImageLayoutTransferDstOptimal && newLayout == core1_0.ImageLayoutShaderReadOnlyOptimal:
		return transitionMasks{
			srcAccess: core1_0.AccessTransferWrite,
			dstAccess: core1_0.AccessShaderRead,
			srcStage:  core1_0.PipelineStageTransfer,
			dstStage:  core1_0.PipelineStageFragmentShader,
		}, nil
	}

	return transitionMasks{}, errors.Wrapf(ErrUnsupportedTransition, "%s -> %s", oldLayout, newLayout)
}

// TransitionImageLayout moves the colour aspect of image between layouts. Only
// undefined to transfer-destination and transfer-destination to shader-read-only are
// supported.
func (c *Context) TransitionImageLayout(image core1_0.Image, oldLayout, newLayout core1_0.ImageLayout) error {
	masks, err := layoutTransition(oldLayout, newLayout)
	if err != nil {
		return err
	}

	return c.singleUse(func(buffer core1_0.CommandBuffer) error {
		err := c.deviceDriver.CmdPipelineBarrier(buffer, masks.srcStage, masks.dstStage, 0, nil, nil, []core1_0.ImageMemoryBarrier{
			{
				OldLayout:           oldLayout,
				NewLayout:           newLayout,
				SrcQueueFamilyIndex: -1,
				DstQueueFamilyIndex: -1,
				Image:               image,
				SubresourceRange: core1_0.ImageSubresourceRange{
					AspectMask:     core1_0.ImageAspectColor,
					BaseMipLevel:   0,
					LevelCount:     1,
					BaseArrayLayer: 0,
					LayerCount:     1,
				},
				SrcAccessMask: masks.srcAccess,
				DstAccessMask: masks.dstAccess,
			},
		})
		return errors.Wrap(err, "record layout transition")
	})
}
