package render

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/modelviewer/gpu"
	"github.com/vkngwrapper/modelviewer/model"
	"golang.org/x/exp/slog"
)

// Drawable is anything made of meshes sharing one model transform.
type Drawable interface {
	Meshes() []model.Mesh
	Transform() mgl32.Mat4
}

type Options struct {
	MaxVertices int
	MaxIndices  int
	MaxObjects  int
	// MaxTextures bounds the number of distinct textures, not counting the fallback.
	MaxTextures int

	VertexShaderPath   string
	FragmentShaderPath string
	// PipelineCachePath, when set, is read at startup and written on Destroy.
	PipelineCachePath string

	ReadFile func(path string) ([]byte, error)
	Decoder  model.ImageDecoder
	Logger   *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		MaxVertices:        250000,
		MaxIndices:         1000000,
		MaxObjects:         1000,
		MaxTextures:        64,
		VertexShaderPath:   "shaders/model.vert.spv",
		FragmentShaderPath: "shaders/model.frag.spv",
	}
}

func (o Options) withDefaults() Options {
	defaults := DefaultOptions()
	if o.MaxVertices <= 0 {
		o.MaxVertices = defaults.MaxVertices
	}
	if o.MaxIndices <= 0 {
		o.MaxIndices = defaults.MaxIndices
	}
	if o.MaxObjects <= 0 {
		o.MaxObjects = defaults.MaxObjects
	}
	if o.MaxTextures <= 0 {
		o.MaxTextures = defaults.MaxTextures
	}
	if o.VertexShaderPath == "" {
		o.VertexShaderPath = defaults.VertexShaderPath
	}
	if o.FragmentShaderPath == "" {
		o.FragmentShaderPath = defaults.FragmentShaderPath
	}
	if o.ReadFile == nil {
		o.ReadFile = os.ReadFile
	}
	if o.Decoder == nil {
		o.Decoder = model.FileDecoder{}
	}
	return o
}

type State int

const (
	Uninitialized State = iota
	Ready
	Batching
	Ended
	Destroyed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Ready:
		return "Ready"
	case Batching:
		return "Batching"
	case Ended:
		return "Ended"
	case Destroyed:
		return "Destroyed"
	}
	return "Unknown"
}

type Stats struct {
	TextureLoads    int
	TextureFailures int
	// TextureMisses counts draws whose texture was not in the cache. It should
	// always be zero.
	TextureMisses int
	// DrawCalls is the number of draws recorded by the last RecordDraws.
	DrawCalls int

	PipelineBuilds    int
	LastPipelineBuild time.Duration
}

// Renderer turns a batch of drawables into draw commands each frame. Geometry is
// streamed through host-visible staging buffers into per-image device-local buffers,
// and textures are uploaded once and cached by path.
type Renderer struct {
	ctx    *gpu.Context
	opts   Options
	logger *slog.Logger
	state  State

	frameSetLayout   core1_0.DescriptorSetLayout
	objectSetLayout  core1_0.DescriptorSetLayout
	textureSetLayout core1_0.DescriptorSetLayout
	pipelineLayout   core1_0.PipelineLayout
	pipelineCache    core1_0.PipelineCache
	pipeline         core1_0.Pipeline
	sampler          core1_0.Sampler

	framePool   core1_0.DescriptorPool
	texturePool core1_0.DescriptorPool

	frames        []*frameResources
	vertexStaging *gpu.Buffer
	indexStaging  *gpu.Buffer

	textures    textureCache
	loadTexture func(path string) (*textureEntry, error)

	units []drawUnit
	stats Stats
}

func newRenderer(ctx *gpu.Context, opts Options) *Renderer {
	opts = opts.withDefaults()
	if opts.Logger == nil {
		if ctx != nil {
			opts.Logger = ctx.Logger()
		} else {
			opts.Logger = slog.Default()
		}
	}

	r := &Renderer{
		ctx:      ctx,
		opts:     opts,
		logger:   opts.Logger,
		textures: newTextureCache(),
	}
	r.loadTexture = r.decodeAndUpload
	return r
}

// New builds a renderer for a swapchain with imageCount images whose framebuffers use
// renderPass. On failure everything created so far is destroyed.
func New(ctx *gpu.Context, imageCount int, renderPass core1_0.RenderPass, opts Options) (*Renderer, error) {
	r := newRenderer(ctx, opts)

	initSteps := []func() error{
		r.createDescriptorSetLayouts,
		r.createPipelineCache,
		func() error { return r.createPipeline(renderPass) },
		r.createSampler,
		r.createTexturePool,
		func() error { return r.createFrames(imageCount) },
		r.createStaging,
		r.createFallbackTexture,
	}

	for _, step := range initSteps {
		err := step()
		if err != nil {
			r.Destroy()
			return nil, err
		}
	}

	r.state = Ready
	r.logger.Debug("renderer ready",
		slog.Int("images", imageCount),
		slog.Int("maxVertices", r.opts.MaxVertices),
		slog.Int("maxIndices", r.opts.MaxIndices),
		slog.Int("maxObjects", r.opts.MaxObjects),
	)
	return r, nil
}

// Rebuild rebuilds the pipeline against a new render pass and, when the swapchain
// image count changed, the per-image resources. The device must be idle.
func (r *Renderer) Rebuild(imageCount int, renderPass core1_0.RenderPass) error {
	if r.state == Uninitialized || r.state == Destroyed {
		return errors.Wrapf(ErrBatchState, "rebuild in state %s", r.state)
	}

	r.destroyPipeline()
	err := r.createPipeline(renderPass)
	if err != nil {
		return err
	}

	if imageCount != len(r.frames) {
		r.destroyFrames()
		err = r.createFrames(imageCount)
		if err != nil {
			return err
		}
	}

	return nil
}

func (r *Renderer) State() State { return r.state }
func (r *Renderer) Stats() Stats { return r.stats }
func (r *Renderer) BatchLen() int { return len(r.units) }

// TextureCount is the number of cached texture paths, excluding the fallback.
func (r *Renderer) TextureCount() int { return r.textures.len() }

func (r *Renderer) limits() Limits {
	return Limits{
		MaxVertices: r.opts.MaxVertices,
		MaxIndices:  r.opts.MaxIndices,
		MaxObjects:  r.opts.MaxObjects,
	}
}

// BeginBatch starts a new, empty batch for the frame.
func (r *Renderer) BeginBatch() error {
	if r.state == Uninitialized || r.state == Destroyed {
		return errors.Wrapf(ErrBatchState, "begin batch in state %s", r.state)
	}

	r.units = r.units[:0]
	r.state = Batching
	return nil
}

// Submit adds one draw unit per mesh of drawable. Textures seen for the first time
// are loaded here, on the calling thread.
func (r *Renderer) Submit(drawable Drawable) error {
	if r.state != Batching {
		return errors.Wrapf(ErrBatchState, "submit in state %s", r.state)
	}

	meshes := drawable.Meshes()
	transform := drawable.Transform()

	for i := range meshes {
		texture := meshes[i].PrimaryTexture()
		if texture != fallbackKey {
			r.ensureTexture(texture)
		}

		r.units = append(r.units, drawUnit{
			mesh:      &meshes[i],
			transform: transform,
			texture:   texture,
		})
	}

	return nil
}

func (r *Renderer) EndBatch() error {
	if r.state != Batching {
		return errors.Wrapf(ErrBatchState, "end batch in state %s", r.state)
	}

	r.state = Ended
	return nil
}

// drawRecorder issues the per-unit commands of a frame.
type drawRecorder interface {
	bindTexture(entry *textureEntry)
	drawIndexed(call drawCall, instance int)
}

type vulkanRecorder struct {
	device core1_0.CoreDeviceDriver
	cmd    core1_0.CommandBuffer
	layout core1_0.PipelineLayout
	frame  *frameResources
}

func (v *vulkanRecorder) bindTexture(entry *textureEntry) {
	v.device.CmdBindDescriptorSets(v.cmd, core1_0.PipelineBindPointGraphics, v.layout, textureSetIndex, []core1_0.DescriptorSet{entry.set}, nil)
}

func (v *vulkanRecorder) drawIndexed(call drawCall, instance int) {
	v.device.CmdBindVertexBuffers(v.cmd, 0, []core1_0.Buffer{v.frame.vertices.Handle()}, []int{call.vertexOffset})
	v.device.CmdBindIndexBuffer(v.cmd, v.frame.indices.Handle(), call.indexOffset, core1_0.IndexTypeUInt32)
	v.device.CmdDrawIndexed(v.cmd, call.indexCount, 1, 0, 0, instance)
}

// issueDraws binds each call's texture and draws it, using the call's position as
// the instance index so the vertex shader can find its model matrix.
func (r *Renderer) issueDraws(rec drawRecorder, plan drawPlan) error {
	fallback := r.textures.fallback()

	for i, call := range plan.calls {
		entry, ok := r.textures.lookup(call.texture)
		if !ok || entry == nil {
			r.stats.TextureMisses++
			r.logger.Error("texture missing from cache", slog.String("path", call.texture))
			entry = fallback
		}
		if entry == nil {
			return errors.Newf("no texture for %q and no fallback", call.texture)
		}

		rec.bindTexture(entry)
		rec.drawIndexed(call, i)
	}

	r.stats.DrawCalls = len(plan.calls)
	return nil
}

// RecordDraws writes the frame's uniforms and model matrices for imageIndex, stages
// the batch geometry, records one indexed draw per unit into cmd and copies the
// staged geometry into the image's device-local buffers. cmd must be inside the
// render pass. A batch over capacity records nothing and returns ErrCapacityExceeded.
func (r *Renderer) RecordDraws(cmd core1_0.CommandBuffer, imageIndex int, view, proj mgl32.Mat4) error {
	if r.state != Ended {
		return errors.Wrapf(ErrBatchState, "record draws in state %s", r.state)
	}

	plan, err := planDraws(r.units, r.limits())
	if err != nil {
		return err
	}

	if imageIndex < 0 || imageIndex >= len(r.frames) {
		return errors.Newf("image index %d out of %d", imageIndex, len(r.frames))
	}
	frame := r.frames[imageIndex]

	err = frame.uniforms.Write(0, FrameUniforms{View: view, Proj: FlipY(proj)})
	if err != nil {
		return errors.Wrap(err, "write frame uniforms")
	}

	if len(r.units) > 0 {
		models := make([]mgl32.Mat4, len(r.units))
		for i, unit := range r.units {
			models[i] = unit.transform
		}
		err = frame.objects.Write(0, models)
		if err != nil {
			return errors.Wrap(err, "write model matrices")
		}
	}

	err = r.stageGeometry(plan)
	if err != nil {
		return err
	}

	device := r.ctx.Device()
	device.CmdBindPipeline(cmd, core1_0.PipelineBindPointGraphics, r.pipeline)
	device.CmdBindDescriptorSets(cmd, core1_0.PipelineBindPointGraphics, r.pipelineLayout, frameSetIndex, []core1_0.DescriptorSet{
		frame.frameSet,
		frame.objectSet,
	}, nil)

	err = r.issueDraws(&vulkanRecorder{
		device: device,
		cmd:    cmd,
		layout: r.pipelineLayout,
		frame:  frame,
	}, plan)
	if err != nil {
		return err
	}

	return r.uploadGeometry(frame, plan)
}

func (r *Renderer) stageGeometry(plan drawPlan) error {
	vertices, err := r.vertexStaging.Map(0, plan.vertexBytes)
	if err != nil {
		return errors.Wrap(err, "map vertex staging buffer")
	}
	defer r.vertexStaging.Unmap()

	indices, err := r.indexStaging.Map(0, plan.indexBytes)
	if err != nil {
		return errors.Wrap(err, "map index staging buffer")
	}
	defer r.indexStaging.Unmap()

	stage(plan, r.units, vertices, indices)
	return nil
}

// uploadGeometry copies the staged bytes into the frame's device-local buffers, one
// transfer each. It returns once the copies have completed.
func (r *Renderer) uploadGeometry(frame *frameResources, plan drawPlan) error {
	if plan.vertexBytes > 0 {
		err := r.ctx.CopyBuffer(r.vertexStaging.Handle(), frame.vertices.Handle(), core1_0.BufferCopy{
			SrcOffset: 0,
			DstOffset: 0,
			Size:      plan.vertexBytes,
		})
		if err != nil {
			return errors.Wrap(err, "upload vertices")
		}
	}

	if plan.indexBytes > 0 {
		err := r.ctx.CopyBuffer(r.indexStaging.Handle(), frame.indices.Handle(), core1_0.BufferCopy{
			SrcOffset: 0,
			DstOffset: 0,
			Size:      plan.indexBytes,
		})
		if err != nil {
			return errors.Wrap(err, "upload indices")
		}
	}

	return nil
}

// ReadbackGeometry copies the first vertexBytes and indexBytes of imageIndex's
// device-local geometry buffers back to the host.
func (r *Renderer) ReadbackGeometry(imageIndex, vertexBytes, indexBytes int) ([]byte, []byte, error) {
	if imageIndex < 0 || imageIndex >= len(r.frames) {
		return nil, nil, errors.Newf("image index %d out of %d", imageIndex, len(r.frames))
	}
	frame := r.frames[imageIndex]

	vertices, err := r.readback(frame.vertices, vertexBytes)
	if err != nil {
		return nil, nil, errors.Wrap(err, "read back vertices")
	}

	indices, err := r.readback(frame.indices, indexBytes)
	if err != nil {
		return nil, nil, errors.Wrap(err, "read back indices")
	}

	return vertices, indices, nil
}

func (r *Renderer) readback(src *gpu.Buffer, size int) ([]byte, error) {
	if size < 0 || size > src.Size() {
		return nil, errors.Wrapf(gpu.ErrOutOfRange, "%d bytes from %d byte buffer", size, src.Size())
	}
	if size == 0 {
		return []byte{}, nil
	}

	dst, err := r.ctx.CreateBuffer(size, core1_0.BufferUsageTransferDst, core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
	if err != nil {
		return nil, err
	}
	defer dst.Destroy()

	err = r.ctx.CopyBuffer(src.Handle(), dst.Handle(), core1_0.BufferCopy{Size: size})
	if err != nil {
		return nil, err
	}

	return dst.Read(0, size)
}

// Destroy releases everything the renderer owns in reverse order of creation.
// Calling it again does nothing.
func (r *Renderer) Destroy() {
	if r == nil || r.state == Destroyed {
		return
	}

	if r.ctx != nil {
		_ = r.ctx.WaitIdle()
	}

	r.textures.destroy()
	r.destroyFrames()

	r.indexStaging.Destroy()
	r.indexStaging = nil
	r.vertexStaging.Destroy()
	r.vertexStaging = nil

	if r.texturePool.Initialized() {
		r.ctx.Device().DestroyDescriptorPool(r.texturePool, nil)
		r.texturePool = core1_0.DescriptorPool{}
	}

	if r.sampler.Initialized() {
		r.ctx.Device().DestroySampler(r.sampler, nil)
		r.sampler = core1_0.Sampler{}
	}

	r.destroyPipeline()

	if r.pipelineCache.Initialized() {
		r.savePipelineCache()
		r.ctx.Device().DestroyPipelineCache(r.pipelineCache, nil)
		r.pipelineCache = core1_0.PipelineCache{}
	}

	if r.pipelineLayout.Initialized() {
		r.ctx.Device().DestroyPipelineLayout(r.pipelineLayout, nil)
		r.pipelineLayout = core1_0.PipelineLayout{}
	}

	for _, layout := range []*core1_0.DescriptorSetLayout{&r.textureSetLayout, &r.objectSetLayout, &r.frameSetLayout} {
		if layout.Initialized() {
			r.ctx.Device().DestroyDescriptorSetLayout(*layout, nil)
			*layout = core1_0.DescriptorSetLayout{}
		}
	}

	r.units = nil
	r.state = Destroyed
}
