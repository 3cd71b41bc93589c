package model

import (
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/g3n/engine/loader/obj"
	"github.com/go-gl/mathgl/mgl32"
)

// meshBuilder accumulates the triangles of one material, deduplicating
// vertices that share position and texture coordinate indices.
type meshBuilder struct {
	mesh   Mesh
	unique map[[2]int]uint32
}

func (b *meshBuilder) addVertex(decoder *obj.Decoder, face obj.Face, faceIndex int) {
	vertInd := face.Vertices[faceIndex]
	uvInd := -1
	if faceIndex < len(face.Uvs) {
		uvInd = face.Uvs[faceIndex]
	}

	key := [2]int{vertInd, uvInd}
	index, vertexExists := b.unique[key]

	if !vertexExists {
		vert := Vertex{Position: mgl32.Vec3{
			decoder.Vertices[vertInd*3],
			decoder.Vertices[vertInd*3+1],
			decoder.Vertices[vertInd*3+2],
		}, Color: mgl32.Vec3{1, 1, 1}}

		if uvInd >= 0 && uvInd*2+1 < len(decoder.Uvs) {
			vert.TexCoord = mgl32.Vec2{
				decoder.Uvs[uvInd*2],
				1.0 - decoder.Uvs[uvInd*2+1],
			}
		}

		index = uint32(len(b.mesh.Vertices))
		b.mesh.Vertices = append(b.mesh.Vertices, vert)
		b.unique[key] = index
	}

	b.mesh.Indices = append(b.mesh.Indices, index)
}

// LoadOBJ reads a Wavefront OBJ file and its material library. Faces are
// triangulated as fans and grouped into one mesh per object and material.
// Diffuse texture paths are resolved against the model's directory.
func LoadOBJ(path string) (*Model, error) {
	decoder, err := obj.Decode(path, "")
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}

	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, errors.Wrapf(err, "resolve directory of %s", path)
	}

	return buildModel(decoder, dir)
}

func buildModel(decoder *obj.Decoder, dir string) (*Model, error) {
	var meshes []Mesh

	for _, decodedObj := range decoder.Objects {
		builders := make(map[string]*meshBuilder)
		var order []string

		for _, face := range decodedObj.Faces {
			if len(face.Vertices) < 3 {
				continue
			}

			builder, ok := builders[face.Material]
			if !ok {
				builder = &meshBuilder{unique: make(map[[2]int]uint32)}
				builder.mesh.DiffuseTextures = diffuseTextures(decoder, face.Material, dir)
				builders[face.Material] = builder
				order = append(order, face.Material)
			}

			for _, ind := range face.Vertices {
				if ind < 0 || ind*3+2 >= len(decoder.Vertices) {
					return nil, errors.Newf("object %q references vertex %d of %d", decodedObj.Name, ind, len(decoder.Vertices)/3)
				}
			}

			// We need to triangularize faces
			for i := 2; i < len(face.Vertices); i++ {
				builder.addVertex(decoder, face, 0)
				builder.addVertex(decoder, face, i-1)
				builder.addVertex(decoder, face, i)
			}
		}

		for _, material := range order {
			meshes = append(meshes, builders[material].mesh)
		}
	}

	if len(meshes) == 0 {
		return nil, errors.New("model contains no faces")
	}

	return New(meshes...), nil
}

func diffuseTextures(decoder *obj.Decoder, material, dir string) []string {
	mat, ok := decoder.Materials[material]
	if !ok || mat == nil || mat.MapKd == "" {
		return nil
	}

	path := filepath.FromSlash(mat.MapKd)
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	return []string{path}
}
