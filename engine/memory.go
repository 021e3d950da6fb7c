package engine

import (
	"fmt"

	"github.com/tetratelabs/wazero/api"
	icall "github.com/wippyai/icall-bridge"
	"github.com/wippyai/icall-bridge/abi"
	"github.com/wippyai/icall-bridge/errors"
)

const pageSize = 65536

var (
	_ icall.Memory      = (*Memory)(nil)
	_ icall.MemorySizer = (*Memory)(nil)
	_ icall.Allocator   = (*ScratchAllocator)(nil)
)

// Memory adapts a wazero memory to icall.Memory
type Memory struct {
	mem api.Memory
}

// NewMemory wraps mem
func NewMemory(mem api.Memory) *Memory {
	return &Memory{mem: mem}
}

func (m *Memory) Size() uint32 {
	return m.mem.Size()
}

func (m *Memory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, m.outOfBounds(offset, length)
	}
	return data, nil
}

func (m *Memory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return m.outOfBounds(offset, uint32(len(data)))
	}
	return nil
}

func (m *Memory) ReadU8(offset uint32) (uint8, error) {
	v, ok := m.mem.ReadByte(offset)
	if !ok {
		return 0, m.outOfBounds(offset, 1)
	}
	return v, nil
}

func (m *Memory) ReadU16(offset uint32) (uint16, error) {
	v, ok := m.mem.ReadUint16Le(offset)
	if !ok {
		return 0, m.outOfBounds(offset, 2)
	}
	return v, nil
}

func (m *Memory) ReadU32(offset uint32) (uint32, error) {
	v, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, m.outOfBounds(offset, 4)
	}
	return v, nil
}

func (m *Memory) ReadU64(offset uint32) (uint64, error) {
	v, ok := m.mem.ReadUint64Le(offset)
	if !ok {
		return 0, m.outOfBounds(offset, 8)
	}
	return v, nil
}

func (m *Memory) WriteU8(offset uint32, value uint8) error {
	if !m.mem.WriteByte(offset, value) {
		return m.outOfBounds(offset, 1)
	}
	return nil
}

func (m *Memory) WriteU16(offset uint32, value uint16) error {
	if !m.mem.WriteUint16Le(offset, value) {
		return m.outOfBounds(offset, 2)
	}
	return nil
}

func (m *Memory) WriteU32(offset uint32, value uint32) error {
	if !m.mem.WriteUint32Le(offset, value) {
		return m.outOfBounds(offset, 4)
	}
	return nil
}

func (m *Memory) WriteU64(offset uint32, value uint64) error {
	if !m.mem.WriteUint64Le(offset, value) {
		return m.outOfBounds(offset, 8)
	}
	return nil
}

func (m *Memory) outOfBounds(offset, length uint32) error {
	return errors.OutOfBounds(errors.PhaseInvoke, nil, offset, length, m.mem.Size())
}

// ScratchAllocator hands out memory from a region reserved by growing the
// instance memory. Allocations are released in stack order with Release,
// or all at once with Reset.
type ScratchAllocator struct {
	base  uint64
	limit uint64
	next  uint64
}

// NewScratchAllocator grows mem by pages and reserves the new pages
func NewScratchAllocator(mem api.Memory, pages uint32) (*ScratchAllocator, error) {
	if pages == 0 {
		pages = 1
	}
	prev, ok := mem.Grow(pages)
	if !ok {
		return nil, errors.New(errors.PhaseLoad, errors.KindAllocation).
			Detail("cannot grow memory by %d pages for scratch space", pages).
			Build()
	}
	base := uint64(prev) * pageSize
	return &ScratchAllocator{
		base:  base,
		limit: base + uint64(pages)*pageSize,
		next:  base,
	}, nil
}

// Alloc reserves size bytes aligned to align
func (s *ScratchAllocator) Alloc(size, align uint32) (uint32, error) {
	if align == 0 || align&(align-1) != 0 {
		return 0, errors.InvalidInput(errors.PhaseInvoke, fmt.Sprintf("alignment %d is not a power of two", align))
	}
	start := uint64(abi.AlignTo(uint32(s.next-s.base), align)) + s.base
	end := start + uint64(size)
	if end > s.limit {
		return 0, errors.AllocationFailed(errors.PhaseInvoke, size, align)
	}
	s.next = end
	return uint32(start), nil
}

// Free is a no-op; scratch space is released by Reset
func (s *ScratchAllocator) Free(ptr, size, align uint32) {}

// Reset releases every allocation
func (s *ScratchAllocator) Reset() {
	s.next = s.base
}

// Mark returns the current allocation point for a later Release
func (s *ScratchAllocator) Mark() uint32 {
	return uint32(s.next - s.base)
}

// Release frees everything allocated since mark was taken
func (s *ScratchAllocator) Release(mark uint32) {
	if end := s.base + uint64(mark); end < s.next {
		s.next = end
	}
}

// Base returns the first address of the scratch region
func (s *ScratchAllocator) Base() uint32 {
	return uint32(s.base)
}

// Available returns the number of bytes left
func (s *ScratchAllocator) Available() uint32 {
	return uint32(s.limit - s.next)
}
