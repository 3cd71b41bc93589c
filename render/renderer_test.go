package render

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/modelviewer/model"
)

type testDrawable struct {
	meshes    []model.Mesh
	transform mgl32.Mat4
}

func (d *testDrawable) Meshes() []model.Mesh { return d.meshes }
func (d *testDrawable) Transform() mgl32.Mat4 { return d.transform }

func testMesh(vertices, indices int, texture string) model.Mesh {
	mesh := model.Mesh{}
	for i := 0; i < vertices; i++ {
		f := float32(i)
		mesh.Vertices = append(mesh.Vertices, model.Vertex{
			Position: mgl32.Vec3{f, f + 0.5, -f},
			Color:    mgl32.Vec3{1, 1, 1},
			TexCoord: mgl32.Vec2{f / 10, 1 - f/10},
		})
	}
	for i := 0; i < indices; i++ {
		mesh.Indices = append(mesh.Indices, uint32(i%vertices))
	}
	if texture != "" {
		mesh.DiffuseTextures = []string{texture}
	}
	return mesh
}

type testLoader struct {
	loads map[string]int
	fail  map[string]bool
}

func (l *testLoader) load(path string) (*textureEntry, error) {
	l.loads[path]++
	if l.fail[path] {
		return nil, errors.Newf("cannot decode %s", path)
	}
	return &textureEntry{}, nil
}

// newTestRenderer returns a renderer in the Ready state whose textures never touch
// the GPU.
func newTestRenderer(limits Limits) (*Renderer, *testLoader) {
	r := newRenderer(nil, Options{
		MaxVertices: limits.MaxVertices,
		MaxIndices:  limits.MaxIndices,
		MaxObjects:  limits.MaxObjects,
	})

	loader := &testLoader{loads: map[string]int{}, fail: map[string]bool{}}
	r.loadTexture = loader.load
	r.textures.entries[fallbackKey] = &textureEntry{}
	r.state = Ready
	return r, loader
}

type recordedDraw struct {
	entry        *textureEntry
	indexCount   int
	vertexOffset int
	indexOffset  int
	instance     int
}

// testRecorder remembers the last bound texture entry and attributes it to every
// draw that follows, the way a command buffer would.
type testRecorder struct {
	bound *textureEntry
	draws []recordedDraw
}

func (t *testRecorder) bindTexture(entry *textureEntry) {
	t.bound = entry
}

func (t *testRecorder) drawIndexed(call drawCall, instance int) {
	t.draws = append(t.draws, recordedDraw{
		entry:        t.bound,
		indexCount:   call.indexCount,
		vertexOffset: call.vertexOffset,
		indexOffset:  call.indexOffset,
		instance:     instance,
	})
}

func submitBatch(t *testing.T, r *Renderer, drawables ...Drawable) {
	t.Helper()

	if err := r.BeginBatch(); err != nil {
		t.Fatalf("begin batch: %v", err)
	}
	for _, d := range drawables {
		if err := r.Submit(d); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	if err := r.EndBatch(); err != nil {
		t.Fatalf("end batch: %v", err)
	}
}

func TestVertexStride(t *testing.T) {
	if vertexStride != 32 {
		t.Errorf("vertex stride = %d, want 32", vertexStride)
	}
	if matrixSize != 64 {
		t.Errorf("matrix size = %d, want 64", matrixSize)
	}
}

func TestTwoMeshScenario(t *testing.T) {
	r, loader := newTestRenderer(Limits{MaxVertices: 1000, MaxIndices: 1000, MaxObjects: 10})

	drawable := &testDrawable{
		meshes: []model.Mesh{
			testMesh(100, 150, "/textures/crate.png"),
			testMesh(50, 75, "/textures/crate.png"),
		},
		transform: mgl32.Translate3D(1, 2, 3),
	}
	submitBatch(t, r, drawable)

	if r.BatchLen() != 2 {
		t.Errorf("batch has %d units, want 2", r.BatchLen())
	}
	if r.TextureCount() != 1 {
		t.Errorf("texture cache has %d entries, want 1", r.TextureCount())
	}
	if loader.loads["/textures/crate.png"] != 1 {
		t.Errorf("texture loaded %d times, want 1", loader.loads["/textures/crate.png"])
	}

	plan, err := planDraws(r.units, r.limits())
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.vertexBytes != 150*vertexStride {
		t.Errorf("staged %d vertex bytes, want %d", plan.vertexBytes, 150*vertexStride)
	}
	if plan.indexBytes != 225*indexStride {
		t.Errorf("staged %d index bytes, want %d", plan.indexBytes, 225*indexStride)
	}

	rec := &testRecorder{}
	err = r.issueDraws(rec, plan)
	if err != nil {
		t.Fatalf("issue draws: %v", err)
	}

	want := []recordedDraw{
		{indexCount: 150, vertexOffset: 0, indexOffset: 0, instance: 0},
		{indexCount: 75, vertexOffset: 100 * vertexStride, indexOffset: 150 * indexStride, instance: 1},
	}
	if len(rec.draws) != len(want) {
		t.Fatalf("recorded %d draws, want %d", len(rec.draws), len(want))
	}

	entry, _ := r.textures.lookup("/textures/crate.png")
	if entry == nil || entry == r.textures.fallback() {
		t.Fatal("crate texture should have its own cache entry")
	}
	for i, w := range want {
		got := rec.draws[i]
		if got.indexCount != w.indexCount || got.vertexOffset != w.vertexOffset ||
			got.indexOffset != w.indexOffset || got.instance != w.instance {
			t.Errorf("draw %d = %+v, want %+v", i, got, w)
		}
		if got.entry != entry {
			t.Errorf("draw %d used a different texture entry", i)
		}
	}

	if r.Stats().DrawCalls != 2 || r.Stats().TextureMisses != 0 {
		t.Errorf("unexpected stats %+v", r.Stats())
	}
	for i, unit := range r.units {
		if unit.transform != drawable.transform {
			t.Errorf("unit %d transform not taken from drawable", i)
		}
	}
}

func TestDrawsBindTheirOwnTexture(t *testing.T) {
	r, _ := newTestRenderer(Limits{MaxVertices: 100, MaxIndices: 100, MaxObjects: 10})

	submitBatch(t, r, &testDrawable{
		meshes: []model.Mesh{
			testMesh(3, 3, "/a.png"),
			testMesh(3, 3, ""),
			testMesh(3, 3, "/b.png"),
			testMesh(3, 3, "/a.png"),
		},
		transform: mgl32.Ident4(),
	})

	a, _ := r.textures.lookup("/a.png")
	b, _ := r.textures.lookup("/b.png")
	fallback := r.textures.fallback()
	if a == b || a == fallback || b == fallback {
		t.Fatal("each texture should have a distinct cache entry")
	}

	plan, err := planDraws(r.units, r.limits())
	if err != nil {
		t.Fatal(err)
	}
	rec := &testRecorder{}
	if err := r.issueDraws(rec, plan); err != nil {
		t.Fatal(err)
	}

	want := []*textureEntry{a, fallback, b, a}
	if len(rec.draws) != len(want) {
		t.Fatalf("recorded %d draws, want %d", len(rec.draws), len(want))
	}
	for i, entry := range want {
		if rec.draws[i].entry != entry {
			t.Errorf("draw %d bound the wrong texture entry", i)
		}
	}
}

func TestTextureCacheIdentity(t *testing.T) {
	r, loader := newTestRenderer(Limits{MaxVertices: 100, MaxIndices: 100, MaxObjects: 10})

	first := &testDrawable{meshes: []model.Mesh{testMesh(3, 3, "/a.png")}, transform: mgl32.Ident4()}
	second := &testDrawable{meshes: []model.Mesh{testMesh(3, 3, "/a.png")}, transform: mgl32.Ident4()}

	submitBatch(t, r, first)
	entry, _ := r.textures.lookup("/a.png")

	submitBatch(t, r, second)
	again, _ := r.textures.lookup("/a.png")

	if entry == nil || entry != again {
		t.Error("same path must map to the same cache entry")
	}
	if loader.loads["/a.png"] != 1 || r.TextureCount() != 1 {
		t.Errorf("loads = %d, cache size = %d, want 1 and 1", loader.loads["/a.png"], r.TextureCount())
	}

	submitBatch(t, r, &testDrawable{meshes: []model.Mesh{testMesh(3, 3, "/b.png")}, transform: mgl32.Ident4()})
	if r.TextureCount() != 2 {
		t.Errorf("cache size = %d, want 2", r.TextureCount())
	}
	if r.BatchLen() != 1 {
		t.Errorf("BeginBatch should clear the previous batch, have %d units", r.BatchLen())
	}
}

func TestMeshWithoutTextureUsesFallback(t *testing.T) {
	r, loader := newTestRenderer(Limits{MaxVertices: 100, MaxIndices: 100, MaxObjects: 10})

	submitBatch(t, r, &testDrawable{meshes: []model.Mesh{testMesh(3, 3, "")}, transform: mgl32.Ident4()})
	if len(loader.loads) != 0 {
		t.Errorf("untextured mesh triggered loads %v", loader.loads)
	}

	plan, err := planDraws(r.units, r.limits())
	if err != nil {
		t.Fatal(err)
	}
	rec := &testRecorder{}
	if err := r.issueDraws(rec, plan); err != nil {
		t.Fatal(err)
	}
	if rec.draws[0].entry != r.textures.fallback() {
		t.Error("untextured mesh should draw with the fallback texture")
	}
	if r.Stats().TextureMisses != 0 {
		t.Errorf("fallback draw counted as a miss")
	}
}

func TestTextureFailureUsesFallback(t *testing.T) {
	r, loader := newTestRenderer(Limits{MaxVertices: 100, MaxIndices: 100, MaxObjects: 10})
	loader.fail["/broken.png"] = true

	drawable := &testDrawable{meshes: []model.Mesh{testMesh(3, 3, "/broken.png")}, transform: mgl32.Ident4()}
	submitBatch(t, r, drawable)
	submitBatch(t, r, drawable)

	entry, ok := r.textures.lookup("/broken.png")
	if !ok || entry != r.textures.fallback() {
		t.Error("failed texture should be cached as the fallback")
	}
	if loader.loads["/broken.png"] != 1 {
		t.Errorf("failed texture loaded %d times, want 1", loader.loads["/broken.png"])
	}
	if r.Stats().TextureFailures != 1 {
		t.Errorf("texture failures = %d, want 1", r.Stats().TextureFailures)
	}
}

func TestTextureMissFallsBack(t *testing.T) {
	r, _ := newTestRenderer(Limits{MaxVertices: 100, MaxIndices: 100, MaxObjects: 10})

	submitBatch(t, r, &testDrawable{meshes: []model.Mesh{testMesh(3, 3, "/a.png")}, transform: mgl32.Ident4()})
	delete(r.textures.entries, "/a.png")

	plan, err := planDraws(r.units, r.limits())
	if err != nil {
		t.Fatal(err)
	}

	rec := &testRecorder{}
	err = r.issueDraws(rec, plan)
	if err != nil {
		t.Fatalf("issue draws: %v", err)
	}
	if r.Stats().TextureMisses != 1 {
		t.Errorf("texture misses = %d, want 1", r.Stats().TextureMisses)
	}
	if rec.draws[0].entry != r.textures.fallback() {
		t.Error("cache miss should draw with the fallback texture")
	}
}

func TestRecordDrawsCapacityExceeded(t *testing.T) {
	r, _ := newTestRenderer(Limits{MaxVertices: 100, MaxIndices: 100, MaxObjects: 1})

	submitBatch(t, r, &testDrawable{
		meshes:    []model.Mesh{testMesh(3, 3, ""), testMesh(3, 3, "")},
		transform: mgl32.Ident4(),
	})

	err := r.RecordDraws(core1_0.CommandBuffer{}, 0, mgl32.Ident4(), mgl32.Ident4())
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if r.Stats().DrawCalls != 0 {
		t.Error("nothing should be recorded for an oversized batch")
	}
}

func TestBatchState(t *testing.T) {
	drawable := &testDrawable{meshes: []model.Mesh{testMesh(3, 3, "")}, transform: mgl32.Ident4()}
	record := func(r *Renderer) error {
		return r.RecordDraws(core1_0.CommandBuffer{}, 0, mgl32.Ident4(), mgl32.Ident4())
	}

	uninitialized := newRenderer(nil, Options{})
	if err := uninitialized.BeginBatch(); !errors.Is(err, ErrBatchState) {
		t.Errorf("begin before init: got %v", err)
	}

	r, _ := newTestRenderer(Limits{MaxVertices: 100, MaxIndices: 100, MaxObjects: 10})

	if err := r.Submit(drawable); !errors.Is(err, ErrBatchState) {
		t.Errorf("submit before begin: got %v", err)
	}
	if err := r.EndBatch(); !errors.Is(err, ErrBatchState) {
		t.Errorf("end before begin: got %v", err)
	}
	if err := record(r); !errors.Is(err, ErrBatchState) {
		t.Errorf("record before begin: got %v", err)
	}

	if err := r.BeginBatch(); err != nil {
		t.Fatal(err)
	}
	if r.State() != Batching {
		t.Errorf("state = %s, want Batching", r.State())
	}
	if err := record(r); !errors.Is(err, ErrBatchState) {
		t.Errorf("record inside batch: got %v", err)
	}
	if err := r.Submit(drawable); err != nil {
		t.Errorf("submit inside batch: %v", err)
	}
	if err := r.EndBatch(); err != nil {
		t.Fatal(err)
	}
	if r.State() != Ended {
		t.Errorf("state = %s, want Ended", r.State())
	}
	if err := r.Submit(drawable); !errors.Is(err, ErrBatchState) {
		t.Errorf("submit after end: got %v", err)
	}

	r.Destroy()
	if err := r.BeginBatch(); !errors.Is(err, ErrBatchState) {
		t.Errorf("begin after destroy: got %v", err)
	}
	if err := r.Rebuild(2, core1_0.RenderPass{}); !errors.Is(err, ErrBatchState) {
		t.Errorf("rebuild after destroy: got %v", err)
	}
}

func TestDestroyIdempotent(t *testing.T) {
	var nilRenderer *Renderer
	nilRenderer.Destroy()

	zero := &Renderer{}
	zero.Destroy()
	zero.Destroy()
	if zero.State() != Destroyed {
		t.Errorf("state = %s, want Destroyed", zero.State())
	}

	r, loader := newTestRenderer(Limits{MaxVertices: 100, MaxIndices: 100, MaxObjects: 10})
	loader.fail["/broken.png"] = true
	submitBatch(t, r, &testDrawable{meshes: []model.Mesh{testMesh(3, 3, "/broken.png"), testMesh(3, 3, "/ok.png")}, transform: mgl32.Ident4()})

	r.Destroy()
	r.Destroy()
	if r.TextureCount() != 0 || r.BatchLen() != 0 {
		t.Errorf("destroy left %d textures and %d units", r.TextureCount(), r.BatchLen())
	}
}

func TestStateString(t *testing.T) {
	for state, want := range map[State]string{
		Uninitialized: "Uninitialized",
		Ready:         "Ready",
		Batching:      "Batching",
		Ended:         "Ended",
		Destroyed:     "Destroyed",
		State(9):      "Unknown",
	} {
		if state.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", int(state), state.String(), want)
		}
	}
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{MaxObjects: 5}.withDefaults()
	defaults := DefaultOptions()

	if opts.MaxObjects != 5 {
		t.Errorf("explicit MaxObjects overwritten: %d", opts.MaxObjects)
	}
	if opts.MaxVertices != defaults.MaxVertices || opts.MaxIndices != defaults.MaxIndices || opts.MaxTextures != defaults.MaxTextures {
		t.Errorf("defaults not applied: %+v", opts)
	}
	if opts.ReadFile == nil || opts.Decoder == nil {
		t.Error("ReadFile and Decoder must default")
	}
	if opts.VertexShaderPath == "" || opts.FragmentShaderPath == "" {
		t.Error("shader paths must default")
	}
}
