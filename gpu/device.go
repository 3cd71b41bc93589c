package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

var requiredDeviceExtensions = []string{khr_swapchain.ExtensionName}

type QueueFamilyIndices struct {
	GraphicsFamily *int
	PresentFamily  *int
}

func (i *QueueFamilyIndices) IsComplete() bool {
	return i.GraphicsFamily != nil && i.PresentFamily != nil
}

// findQueueFamilies walks the device's queue families in order and stops at the first
// point where both a graphics-capable and a presentation-capable family have been seen.
// The two may be the same family.
func findQueueFamilies(families []core1_0.QueueFlags, presentSupport func(family int) (bool, error)) (QueueFamilyIndices, error) {
	indices := QueueFamilyIndices{}

	for familyIdx, flags := range families {
		if (flags & core1_0.QueueGraphics) != 0 {
			indices.GraphicsFamily = new(int)
			*indices.GraphicsFamily = familyIdx
		}

		supported, err := presentSupport(familyIdx)
		if err != nil {
			return indices, err
		}

		if supported {
			indices.PresentFamily = new(int)
			*indices.PresentFamily = familyIdx
		}

		if indices.IsComplete() {
			break
		}
	}

	return indices, nil
}

type deviceCandidate struct {
	name                string
	discrete            bool
	extensionsSupported bool
	samplerAnisotropy   bool
	surfaceAdequate     bool
	queues              QueueFamilyIndices
}

func (c deviceCandidate) suitable() bool {
	return c.extensionsSupported && c.samplerAnisotropy && c.surfaceAdequate && c.queues.IsComplete()
}

// selectDevice returns the index of the first suitable discrete GPU. When allowIntegrated
// is set and no discrete GPU qualifies, the first suitable device of any type is used.
func selectDevice(candidates []deviceCandidate, allowIntegrated bool) (int, error) {
	fallback := -1
	for i, candidate := range candidates {
		if !candidate.suitable() {
			continue
		}

		if candidate.discrete {
			return i, nil
		}

		if fallback < 0 {
			fallback = i
		}
	}

	if allowIntegrated && fallback >= 0 {
		return fallback, nil
	}

	return -1, errors.Wrapf(ErrNoSuitableDevice, "%d devices considered", len(candidates))
}

func hasExtensions[T any](available map[string]T, required []string) bool {
	for _, name := range required {
		if _, ok := available[name]; !ok {
			return false
		}
	}

	return true
}
