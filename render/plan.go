package render

import (
	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/modelviewer/model"
)

// Limits bounds a single frame's batch.
type Limits struct {
	MaxVertices int
	MaxIndices  int
	MaxObjects  int
}

type drawUnit struct {
	mesh      *model.Mesh
	transform mgl32.Mat4
	texture   string
}

// drawCall describes one indexed draw. Offsets are in bytes from the start of the
// frame's geometry buffers. The call's position in the plan is its instance index.
type drawCall struct {
	indexCount   int
	vertexOffset int
	indexOffset  int
	texture      string
}

type drawPlan struct {
	calls       []drawCall
	vertexBytes int
	indexBytes  int
}

// planDraws lays out units back to back in the geometry buffers and checks the
// batch against limits.
func planDraws(units []drawUnit, limits Limits) (drawPlan, error) {
	if len(units) > limits.MaxObjects {
		return drawPlan{}, errors.Wrapf(ErrCapacityExceeded, "%d objects, limit %d", len(units), limits.MaxObjects)
	}

	plan := drawPlan{calls: make([]drawCall, 0, len(units))}
	vertexCount, indexCount := 0, 0

	for _, unit := range units {
		vertexCount += len(unit.mesh.Vertices)
		indexCount += len(unit.mesh.Indices)

		plan.calls = append(plan.calls, drawCall{
			indexCount:   len(unit.mesh.Indices),
			vertexOffset: plan.vertexBytes,
			indexOffset:  plan.indexBytes,
			texture:      unit.texture,
		})

		plan.vertexBytes += len(unit.mesh.Vertices) * vertexStride
		plan.indexBytes += len(unit.mesh.Indices) * indexStride
	}

	if vertexCount > limits.MaxVertices {
		return drawPlan{}, errors.Wrapf(ErrCapacityExceeded, "%d vertices, limit %d", vertexCount, limits.MaxVertices)
	}
	if indexCount > limits.MaxIndices {
		return drawPlan{}, errors.Wrapf(ErrCapacityExceeded, "%d indices, limit %d", indexCount, limits.MaxIndices)
	}

	return plan, nil
}

// stage packs the geometry of units into vertices and indices at the offsets
// recorded in plan. Both slices must be at least plan.vertexBytes and
// plan.indexBytes long.
func stage(plan drawPlan, units []drawUnit, vertices, indices []byte) {
	for i, call := range plan.calls {
		mesh := units[i].mesh
		copy(vertices[call.vertexOffset:], vertexBytes(mesh.Vertices))
		copy(indices[call.indexOffset:], indexBytes(mesh.Indices))
	}
}
