package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// FindMemoryType returns the first memory type index whose bit is set in typeBits and
// whose property flags include every flag in required.
func FindMemoryType(types []core1_0.MemoryPropertyFlags, typeBits uint32, required core1_0.MemoryPropertyFlags) (int, error) {
	for i, flags := range types {
		if i >= 32 {
			break
		}

		typeBit := uint32(1 << i)
		if (typeBits&typeBit) != 0 && (flags&required) == required {
			return i, nil
		}
	}

	return -1, errors.Wrapf(ErrNoSuitableMemoryType, "type bits %#x, properties %s", typeBits, required)
}

func (c *Context) allocate(size int, typeBits uint32, properties core1_0.MemoryPropertyFlags) (core1_0.DeviceMemory, error) {
	memoryTypeIndex, err := FindMemoryType(c.memoryTypes, typeBits, properties)
	if err != nil {
		return core1_0.DeviceMemory{}, err
	}

	memory, _, err := c.deviceDriver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		return core1_0.DeviceMemory{}, errors.Mark(errors.Wrapf(err, "allocate %d bytes from memory type %d", size, memoryTypeIndex), ErrAllocationFailed)
	}

	return memory, nil
}
