package render

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/modelviewer/gpu"
)

// frameResources is everything RecordDraws writes for one swapchain image. Only the
// frame that last used the image may touch them, which the frame scheduler
// guarantees by waiting on that frame's fence.
type frameResources struct {
	uniforms  *gpu.Buffer
	objects   *gpu.Buffer
	frameSet  core1_0.DescriptorSet
	objectSet core1_0.DescriptorSet

	vertices *gpu.Buffer
	indices  *gpu.Buffer
}

func (f *frameResources) destroy() {
	f.indices.Destroy()
	f.vertices.Destroy()
	f.objects.Destroy()
	f.uniforms.Destroy()
}

func (r *Renderer) createFramePool(imageCount int) error {
	var err error
	r.framePool, _, err = r.ctx.Device().CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{
		MaxSets: imageCount * 2,
		PoolSizes: []core1_0.DescriptorPoolSize{
			{
				Type:            core1_0.DescriptorTypeUniformBuffer,
				DescriptorCount: imageCount,
			},
			{
				Type:            core1_0.DescriptorTypeStorageBuffer,
				DescriptorCount: imageCount,
			},
		},
	})
	return errors.Wrap(err, "create frame descriptor pool")
}

func (r *Renderer) createFrames(imageCount int) error {
	err := r.createFramePool(imageCount)
	if err != nil {
		return err
	}

	for i := 0; i < imageCount; i++ {
		frame := &frameResources{}
		r.frames = append(r.frames, frame)

		err = r.createFrame(frame)
		if err != nil {
			return errors.Wrapf(err, "create resources for image %d", i)
		}
	}

	return nil
}

func (r *Renderer) createFrame(frame *frameResources) error {
	hostVisible := core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent
	uniformSize := int(unsafe.Sizeof(FrameUniforms{}))
	objectSize := r.opts.MaxObjects * matrixSize

	var err error
	frame.uniforms, err = r.ctx.CreateBuffer(uniformSize, core1_0.BufferUsageUniformBuffer, hostVisible)
	if err != nil {
		return err
	}

	frame.objects, err = r.ctx.CreateBuffer(objectSize, core1_0.BufferUsageStorageBuffer, hostVisible)
	if err != nil {
		return err
	}

	frame.vertices, err = r.ctx.CreateBuffer(r.opts.MaxVertices*vertexStride,
		core1_0.BufferUsageTransferDst|core1_0.BufferUsageTransferSrc|core1_0.BufferUsageVertexBuffer,
		core1_0.MemoryPropertyDeviceLocal)
	if err != nil {
		return err
	}

	frame.indices, err = r.ctx.CreateBuffer(r.opts.MaxIndices*indexStride,
		core1_0.BufferUsageTransferDst|core1_0.BufferUsageTransferSrc|core1_0.BufferUsageIndexBuffer,
		core1_0.MemoryPropertyDeviceLocal)
	if err != nil {
		return err
	}

	device := r.ctx.Device()
	sets, _, err := device.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: r.framePool,
		SetLayouts:     []core1_0.DescriptorSetLayout{r.frameSetLayout, r.objectSetLayout},
	})
	if err != nil {
		return errors.Wrap(err, "allocate frame descriptor sets")
	}
	frame.frameSet, frame.objectSet = sets[0], sets[1]

	err = device.UpdateDescriptorSets([]core1_0.WriteDescriptorSet{
		{
			DstSet:          frame.frameSet,
			DstBinding:      0,
			DstArrayElement: 0,

			DescriptorType: core1_0.DescriptorTypeUniformBuffer,

			BufferInfo: []core1_0.DescriptorBufferInfo{
				{
					Buffer: frame.uniforms.Handle(),
					Offset: 0,
					Range:  uniformSize,
				},
			},
		},
		{
			DstSet:          frame.objectSet,
			DstBinding:      0,
			DstArrayElement: 0,

			DescriptorType: core1_0.DescriptorTypeStorageBuffer,

			BufferInfo: []core1_0.DescriptorBufferInfo{
				{
					Buffer: frame.objects.Handle(),
					Offset: 0,
					Range:  objectSize,
				},
			},
		},
	}, nil)
	return errors.Wrap(err, "update frame descriptor sets")
}

// destroyFrames releases the per-image buffers and the pool their sets came from.
func (r *Renderer) destroyFrames() {
	for _, frame := range r.frames {
		frame.destroy()
	}
	r.frames = nil

	if r.framePool.Initialized() {
		r.ctx.Device().DestroyDescriptorPool(r.framePool, nil)
		r.framePool = core1_0.DescriptorPool{}
	}
}

func (r *Renderer) createStaging() error {
	hostVisible := core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent

	var err error
	r.vertexStaging, err = r.ctx.CreateBuffer(r.opts.MaxVertices*vertexStride, core1_0.BufferUsageTransferSrc, hostVisible)
	if err != nil {
		return errors.Wrap(err, "create vertex staging buffer")
	}

	r.indexStaging, err = r.ctx.CreateBuffer(r.opts.MaxIndices*indexStride, core1_0.BufferUsageTransferSrc, hostVisible)
	return errors.Wrap(err, "create index staging buffer")
}
