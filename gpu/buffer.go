package gpu

import (
	"bytes"
	"encoding/binary"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// Buffer owns one VkBuffer and the device memory bound to it.
type Buffer struct {
	device core1_0.DeviceDriver
	buffer core1_0.Buffer
	memory core1_0.DeviceMemory
	size   int
	mapped bool
}

// CreateBuffer creates a buffer of the given size and usage and binds it to freshly
// allocated memory from the first memory type with the requested properties.
func (c *Context) CreateBuffer(size int, usage core1_0.BufferUsageFlags, properties core1_0.MemoryPropertyFlags) (*Buffer, error) {
	sharingMode, families := c.SharingMode()

	handle, _, err := c.deviceDriver.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:               size,
		Usage:              usage,
		SharingMode:        sharingMode,
		QueueFamilyIndices: families,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "create %d byte buffer", size)
	}

	buffer := &Buffer{device: c.deviceDriver, buffer: handle, size: size}

	memRequirements := c.deviceDriver.GetBufferMemoryRequirements(handle)
	buffer.memory, err = c.allocate(memRequirements.Size, memRequirements.MemoryTypeBits, properties)
	if err != nil {
		buffer.Destroy()
		return nil, err
	}

	_, err = c.deviceDriver.BindBufferMemory(handle, buffer.memory, 0)
	if err != nil {
		buffer.Destroy()
		return nil, errors.Mark(errors.Wrap(err, "bind buffer memory"), ErrAllocationFailed)
	}

	return buffer, nil
}

func (b *Buffer) Handle() core1_0.Buffer { return b.buffer }
func (b *Buffer) Size() int { return b.size }

func (b *Buffer) checkRange(offset, size int) error {
	if offset < 0 || size < 0 || offset+size > b.size {
		return errors.Wrapf(ErrOutOfRange, "offset %d size %d in %d byte buffer", offset, size, b.size)
	}
	return nil
}

// Map maps size bytes starting at offset into host memory. The returned slice is only
// valid until Unmap. Each Map must be paired with exactly one Unmap.
func (b *Buffer) Map(offset, size int) ([]byte, error) {
	err := b.checkRange(offset, size)
	if err != nil {
		return nil, err
	}

	if b.mapped {
		return nil, ErrAlreadyMapped
	}

	if size == 0 {
		b.mapped = true
		return []byte{}, nil
	}

	ptr, _, err := b.device.MapMemory(b.memory, offset, size, 0)
	if err != nil {
		return nil, errors.Wrap(err, "map buffer memory")
	}

	b.mapped = true
	return unsafe.Slice((*byte)(ptr), size), nil
}

func (b *Buffer) Unmap() {
	if !b.mapped {
		return
	}

	if b.memory.Initialized() {
		b.device.UnmapMemory(b.memory)
	}
	b.mapped = false
}

// WriteBytes copies data into the buffer at offset.
func (b *Buffer) WriteBytes(offset int, data []byte) error {
	dst, err := b.Map(offset, len(data))
	if err != nil {
		return err
	}
	defer b.Unmap()

	copy(dst, data)
	return nil
}

// Write encodes data with encoding/binary in the device byte order and copies it into
// the buffer at offset.
func (b *Buffer) Write(offset int, data any) error {
	buf := &bytes.Buffer{}
	err := binary.Write(buf, common.ByteOrder, data)
	if err != nil {
		return errors.Wrap(err, "encode buffer data")
	}

	return b.WriteBytes(offset, buf.Bytes())
}

// Read copies size bytes starting at offset out of host-visible memory.
func (b *Buffer) Read(offset, size int) ([]byte, error) {
	src, err := b.Map(offset, size)
	if err != nil {
		return nil, err
	}
	defer b.Unmap()

	return append([]byte(nil), src...), nil
}

// Destroy destroys the buffer handle and then frees its memory. Calling it again, or on
// a zero Buffer, does nothing.
func (b *Buffer) Destroy() {
	if b == nil {
		return
	}

	b.Unmap()

	if b.buffer.Initialized() {
		b.device.DestroyBuffer(b.buffer, nil)
		b.buffer = core1_0.Buffer{}
	}

	if b.memory.Initialized() {
		b.device.FreeMemory(b.memory, nil)
		b.memory = core1_0.DeviceMemory{}
	}
}
