// Package shaders holds the GLSL sources for the model pipeline. The compiled SPIR-V
// is not checked in: run
//
//	go generate ./shaders
//
// with glslc from the Vulkan SDK on the PATH before starting the viewer. It loads
// shaders/model.vert.spv and shaders/model.frag.spv relative to the working
// directory unless the -vertex-shader and -fragment-shader flags say otherwise.
package shaders

//go:generate glslc model.vert -o model.vert.spv
//go:generate glslc model.frag -o model.frag.spv
