package model

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Vertex is the per-vertex layout consumed by the model shaders: position at
// location 0, colour at location 1 and texture coordinates at location 2.
type Vertex struct {
	Position mgl32.Vec3
	Color    mgl32.Vec3
	TexCoord mgl32.Vec2
}

// Mesh is one drawable piece of a model. DiffuseTextures holds absolute paths.
type Mesh struct {
	Vertices        []Vertex
	Indices         []uint32
	DiffuseTextures []string
}

// PrimaryTexture returns the first diffuse texture path, or "" when the mesh
// has none.
func (m *Mesh) PrimaryTexture() string {
	if len(m.DiffuseTextures) == 0 {
		return ""
	}
	return m.DiffuseTextures[0]
}

type Model struct {
	meshes    []Mesh
	transform mgl32.Mat4
}

func New(meshes ...Mesh) *Model {
	return &Model{
		meshes:    meshes,
		transform: mgl32.Ident4(),
	}
}

func (m *Model) Meshes() []Mesh { return m.meshes }
func (m *Model) Transform() mgl32.Mat4 { return m.transform }

func (m *Model) SetTransform(transform mgl32.Mat4) {
	m.transform = transform
}

func (m *Model) VertexCount() int {
	count := 0
	for i := range m.meshes {
		count += len(m.meshes[i].Vertices)
	}
	return count
}

func (m *Model) TriangleCount() int {
	count := 0
	for i := range m.meshes {
		count += len(m.meshes[i].Indices) / 3
	}
	return count
}

// TexturePaths returns every distinct primary texture path used by the model, in
// first-seen order.
func (m *Model) TexturePaths() []string {
	seen := make(map[string]struct{})
	var paths []string
	for i := range m.meshes {
		path := m.meshes[i].PrimaryTexture()
		if path == "" {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		paths = append(paths, path)
	}
	return paths
}

// Bounds returns the axis-aligned bounding box of every vertex in model space. A
// model without vertices has empty bounds at the origin.
func (m *Model) Bounds() (lo, hi mgl32.Vec3) {
	first := true
	for i := range m.meshes {
		for _, v := range m.meshes[i].Vertices {
			if first {
				lo, hi = v.Position, v.Position
				first = false
				continue
			}
			for axis := 0; axis < 3; axis++ {
				if v.Position[axis] < lo[axis] {
					lo[axis] = v.Position[axis]
				}
				if v.Position[axis] > hi[axis] {
					hi[axis] = v.Position[axis]
				}
			}
		}
	}
	return lo, hi
}
