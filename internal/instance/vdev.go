package instance

import (
	"fmt"
	"strconv"
)

// NICVdevStride is the spacing between network device addresses. Each
// interface claims its base address plus two companion addresses, so
// consecutive interfaces sit three apart.
const NICVdevStride = 3

// NextAddress returns the device address offset positions past base,
// both in hexadecimal. The result carries no leading zeros, matching
// how the gateway echoes addresses back.
func NextAddress(base string, offset int) (string, error) {
	v, err := strconv.ParseUint(base, 16, 16)
	if err != nil {
		return "", fmt.Errorf("invalid device address %q: %w", base, err)
	}
	return fmt.Sprintf("%x", v+uint64(offset)), nil
}

// AddressAllocator hands out device addresses from a hexadecimal base,
// advancing by a fixed stride. It is not safe for concurrent use; each
// workflow builds its own.
type AddressAllocator struct {
	next   uint64
	stride uint64
}

// NewAddressAllocator returns an allocator starting at base. stride is
// the gap between consecutive addresses; network interfaces use
// NICVdevStride, disks use 1.
func NewAddressAllocator(base string, stride int) (*AddressAllocator, error) {
	v, err := strconv.ParseUint(base, 16, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid device address %q: %w", base, err)
	}
	if stride < 1 {
		return nil, fmt.Errorf("invalid address stride %d", stride)
	}
	return &AddressAllocator{next: v, stride: uint64(stride)}, nil
}

// Next returns the next free device address and advances the allocator.
func (a *AddressAllocator) Next() string {
	v := a.next
	a.next += a.stride
	return fmt.Sprintf("%x", v)
}
