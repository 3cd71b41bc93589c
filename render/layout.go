package render

import (
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/modelviewer/model"
)

const (
	vertexStride = int(unsafe.Sizeof(model.Vertex{}))
	indexStride  = int(unsafe.Sizeof(uint32(0)))
	matrixSize   = int(unsafe.Sizeof(mgl32.Mat4{}))
)

// FrameUniforms is the per-frame uniform block bound at set 0.
type FrameUniforms struct {
	View mgl32.Mat4
	Proj mgl32.Mat4
}

// FlipY converts a projection built for OpenGL clip space, where Y points up, into
// Vulkan clip space, where Y points down.
func FlipY(proj mgl32.Mat4) mgl32.Mat4 {
	return mgl32.Scale3D(1, -1, 1).Mul4(proj)
}

func vertexBindingDescriptions() []core1_0.VertexInputBindingDescription {
	return []core1_0.VertexInputBindingDescription{
		{
			Binding:   0,
			Stride:    vertexStride,
			InputRate: core1_0.VertexInputRateVertex,
		},
	}
}

func vertexAttributeDescriptions() []core1_0.VertexInputAttributeDescription {
	v := model.Vertex{}
	return []core1_0.VertexInputAttributeDescription{
		{
			Binding:  0,
			Location: 0,
			Format:   core1_0.FormatR32G32B32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.Position)),
		},
		{
			Binding:  0,
			Location: 1,
			Format:   core1_0.FormatR32G32B32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.Color)),
		},
		{
			Binding:  0,
			Location: 2,
			Format:   core1_0.FormatR32G32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.TexCoord)),
		},
	}
}

// vertexBytes views vertices as raw bytes in host order, which is the order the
// device reads them in.
func vertexBytes(vertices []model.Vertex) []byte {
	if len(vertices) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&vertices[0])), len(vertices)*vertexStride)
}

func indexBytes(indices []uint32) []byte {
	if len(indices) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&indices[0])), len(indices)*indexStride)
}

// decodeVertices is the inverse of vertexBytes. data must be a whole number of
// vertices long.
func decodeVertices(data []byte) []model.Vertex {
	vertices := make([]model.Vertex, len(data)/vertexStride)
	copy(vertexBytes(vertices), data)
	return vertices
}

func decodeIndices(data []byte) []uint32 {
	indices := make([]uint32, len(data)/indexStride)
	copy(indexBytes(indices), data)
	return indices
}
