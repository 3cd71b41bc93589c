package render

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/core/v3/core1_0"
	"golang.org/x/exp/slog"
)

const (
	frameSetIndex = iota
	objectSetIndex
	textureSetIndex
)

func bytesToBytecode(b []byte) []uint32 {
	byteCode := make([]uint32, len(b)/4)
	for i := 0; i < len(byteCode); i++ {
		byteIndex := i * 4
		byteCode[i] = 0
		byteCode[i] |= uint32(b[byteIndex])
		byteCode[i] |= uint32(b[byteIndex+1]) << 8
		byteCode[i] |= uint32(b[byteIndex+2]) << 16
		byteCode[i] |= uint32(b[byteIndex+3]) << 24
	}

	return byteCode
}

func (r *Renderer) createSetLayout(descriptorType core1_0.DescriptorType, stage core1_0.ShaderStageFlags) (core1_0.DescriptorSetLayout, error) {
	layout, _, err := r.ctx.Device().CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: []core1_0.DescriptorSetLayoutBinding{
			{
				Binding:         0,
				DescriptorType:  descriptorType,
				DescriptorCount: 1,

				StageFlags: stage,
			},
		},
	})
	return layout, err
}

func (r *Renderer) createDescriptorSetLayouts() error {
	var err error
	r.frameSetLayout, err = r.createSetLayout(core1_0.DescriptorTypeUniformBuffer, core1_0.StageVertex)
	if err != nil {
		return errors.Wrap(err, "create frame set layout")
	}

	r.objectSetLayout, err = r.createSetLayout(core1_0.DescriptorTypeStorageBuffer, core1_0.StageVertex)
	if err != nil {
		return errors.Wrap(err, "create object set layout")
	}

	r.textureSetLayout, err = r.createSetLayout(core1_0.DescriptorTypeCombinedImageSampler, core1_0.StageFragment)
	if err != nil {
		return errors.Wrap(err, "create texture set layout")
	}

	r.pipelineLayout, _, err = r.ctx.Device().CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{
		SetLayouts: []core1_0.DescriptorSetLayout{
			r.frameSetLayout,
			r.objectSetLayout,
			r.textureSetLayout,
		},
	})
	return errors.Wrap(err, "create pipeline layout")
}

const spirvMagic = 0x07230203

// readShaderCode reads a compiled shader and checks that it looks like SPIR-V.
func (r *Renderer) readShaderCode(path string) ([]uint32, error) {
	shaderBytes, err := r.opts.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		err = errors.Mark(errors.Wrapf(err, "read shader %s", path), ErrShaderMissing)
		return nil, errors.WithHint(err, "compile the shaders with go generate ./shaders (requires glslc) or pass the shader flags")
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read shader %s", path)
	}
	if len(shaderBytes) == 0 || len(shaderBytes)%4 != 0 {
		return nil, errors.Wrapf(ErrInvalidShader, "%s is %d bytes", path, len(shaderBytes))
	}

	code := bytesToBytecode(shaderBytes)
	if code[0] != spirvMagic {
		return nil, errors.Wrapf(ErrInvalidShader, "%s starts with %#08x", path, code[0])
	}
	return code, nil
}

func (r *Renderer) loadShader(path string) (core1_0.ShaderModule, error) {
	code, err := r.readShaderCode(path)
	if err != nil {
		return core1_0.ShaderModule{}, err
	}

	shader, _, err := r.ctx.Device().CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: code,
	})
	if err != nil {
		return core1_0.ShaderModule{}, errors.Wrapf(err, "create shader module %s", path)
	}
	return shader, nil
}

// createPipeline builds the graphics pipeline against renderPass. Viewport and
// scissor are dynamic, so the pipeline does not depend on the swapchain extent.
func (r *Renderer) createPipeline(renderPass core1_0.RenderPass) error {
	device := r.ctx.Device()

	vertShader, err := r.loadShader(r.opts.VertexShaderPath)
	if err != nil {
		return err
	}
	defer device.DestroyShaderModule(vertShader, nil)

	fragShader, err := r.loadShader(r.opts.FragmentShaderPath)
	if err != nil {
		return err
	}
	defer device.DestroyShaderModule(fragShader, nil)

	vertexInput := &core1_0.PipelineVertexInputStateCreateInfo{
		VertexBindingDescriptions:   vertexBindingDescriptions(),
		VertexAttributeDescriptions: vertexAttributeDescriptions(),
	}

	inputAssembly := &core1_0.PipelineInputAssemblyStateCreateInfo{
		Topology:               core1_0.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: false,
	}

	vertStage := core1_0.PipelineShaderStageCreateInfo{
		Stage:  core1_0.StageVertex,
		Module: vertShader,
		Name:   "main",
	}

	fragStage := core1_0.PipelineShaderStageCreateInfo{
		Stage:  core1_0.StageFragment,
		Module: fragShader,
		Name:   "main",
	}

	// Counts only; the values come from CmdSetViewport and CmdSetScissor.
	viewport := &core1_0.PipelineViewportStateCreateInfo{
		Viewports: []core1_0.Viewport{{}},
		Scissors:  []core1_0.Rect2D{{}},
	}

	dynamic := &core1_0.PipelineDynamicStateCreateInfo{
		DynamicStates: []core1_0.DynamicState{
			core1_0.DynamicStateViewport,
			core1_0.DynamicStateScissor,
		},
	}

	rasterization := &core1_0.PipelineRasterizationStateCreateInfo{
		DepthClampEnable:        false,
		RasterizerDiscardEnable: false,

		PolygonMode: core1_0.PolygonModeFill,
		CullMode:    core1_0.CullModeBack,
		FrontFace:   core1_0.FrontFaceCounterClockwise,

		DepthBiasEnable: false,

		LineWidth: 1.0,
	}

	multisample := &core1_0.PipelineMultisampleStateCreateInfo{
		SampleShadingEnable:  false,
		RasterizationSamples: core1_0.Samples1,
		MinSampleShading:     1.0,
	}

	depthStencil := &core1_0.PipelineDepthStencilStateCreateInfo{
		DepthTestEnable:  true,
		DepthWriteEnable: true,
		DepthCompareOp:   core1_0.CompareOpLess,
	}

	colorBlend := &core1_0.PipelineColorBlendStateCreateInfo{
		LogicOpEnabled: false,
		LogicOp:        core1_0.LogicOpCopy,

		BlendConstants: [4]float32{0, 0, 0, 0},
		Attachments: []core1_0.PipelineColorBlendAttachmentState{
			{
				BlendEnabled:   false,
				ColorWriteMask: core1_0.ColorComponentRed | core1_0.ColorComponentGreen | core1_0.ColorComponentBlue | core1_0.ColorComponentAlpha,
			},
		},
	}

	var cache *core1_0.PipelineCache
	if r.pipelineCache.Initialized() {
		cache = &r.pipelineCache
	}

	start := hrtime.Now()
	pipelines, _, err := device.CreateGraphicsPipelines(cache, nil,
		core1_0.GraphicsPipelineCreateInfo{
			Stages: []core1_0.PipelineShaderStageCreateInfo{
				vertStage,
				fragStage,
			},
			VertexInputState:   vertexInput,
			InputAssemblyState: inputAssembly,
			ViewportState:      viewport,
			RasterizationState: rasterization,
			MultisampleState:   multisample,
			DepthStencilState:  depthStencil,
			ColorBlendState:    colorBlend,
			DynamicState:       dynamic,
			Layout:             r.pipelineLayout,
			RenderPass:         renderPass,
			Subpass:            0,
			BasePipelineIndex:  -1,
		},
	)
	if err != nil {
		return errors.Wrap(err, "create graphics pipeline")
	}
	elapsed := hrtime.Since(start)

	r.pipeline = pipelines[0]
	r.stats.PipelineBuilds++
	r.stats.LastPipelineBuild = elapsed

	r.logger.Debug("graphics pipeline built", slog.Duration("elapsed", elapsed))
	return nil
}

func (r *Renderer) destroyPipeline() {
	if r.pipeline.Initialized() {
		r.ctx.Device().DestroyPipeline(r.pipeline, nil)
		r.pipeline = core1_0.Pipeline{}
	}
}

func (r *Renderer) createSampler() error {
	var err error
	r.sampler, _, err = r.ctx.Device().CreateSampler(nil, core1_0.SamplerCreateInfo{
		MagFilter:    core1_0.FilterLinear,
		MinFilter:    core1_0.FilterLinear,
		AddressModeU: core1_0.SamplerAddressModeRepeat,
		AddressModeV: core1_0.SamplerAddressModeRepeat,
		AddressModeW: core1_0.SamplerAddressModeRepeat,

		AnisotropyEnable: true,
		MaxAnisotropy:    r.ctx.Properties().Limits.MaxSamplerAnisotropy,

		BorderColor: core1_0.BorderColorIntOpaqueBlack,

		MipmapMode: core1_0.SamplerMipmapModeLinear,
		MinLod:     0,
		MaxLod:     0,
	})
	return errors.Wrap(err, "create texture sampler")
}
