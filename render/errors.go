package render

import "github.com/cockroachdb/errors"

var (
	// ErrCapacityExceeded is returned when a batch needs more objects, vertices or
	// indices than the renderer's buffers hold. Nothing is recorded for that frame.
	ErrCapacityExceeded = errors.New("batch exceeds renderer capacity")

	// ErrBatchState is returned when batch operations are called out of order.
	ErrBatchState = errors.New("invalid batch state")

	ErrInvalidTexture = errors.New("invalid texture data")
	ErrStaleCache     = errors.New("pipeline cache does not match device")

	// ErrShaderMissing is returned when a compiled shader file does not exist. The
	// SPIR-V is produced by go generate ./shaders.
	ErrShaderMissing = errors.New("compiled shader not found")
	ErrInvalidShader = errors.New("shader is not SPIR-V")
)
