package gpu

import "github.com/cockroachdb/errors"

var (
	// ErrNoSuitableDevice is returned by NewContext when no physical device offers the
	// extensions, features and queue families the viewer needs.
	ErrNoSuitableDevice = errors.New("no suitable physical device")
	// ErrNoSuitableMemoryType is returned when none of the device's memory types satisfy
	// both the resource's type mask and the requested property flags.
	ErrNoSuitableMemoryType = errors.New("no suitable memory type")
	// ErrAllocationFailed marks device memory allocation and bind failures.
	ErrAllocationFailed = errors.New("device memory allocation failed")

	ErrAlreadyMapped         = errors.New("buffer memory is already mapped")
	ErrOutOfRange            = errors.New("range exceeds buffer size")
	ErrUnsupportedTransition = errors.New("unsupported image layout transition")
	ErrNoSupportedFormat     = errors.New("no supported format")
)
