package heap

import "encoding/binary"

// Block header layout, little-endian, 16 bytes:
//
//	+0  guard tag (uint32)
//	+4  total size including header (uint32)
//	+8  offset of the physical predecessor's header (uint32, nilOff for the
//	    first block) - the address-order neighbor link used by coalescing
//	+12 flags (uint32, bit0 = used)
//
// Free blocks store the offset of the next free block in the first four
// payload bytes, forming the intrusive free list.
const (
	headerSize = 16

	// guardTag detects header corruption and stray frees.
	guardTag = 0x4B484541

	flagUsed = 1 << 0

	// nilOff terminates both the predecessor chain and the free list.
	nilOff = 0xFFFFFFFF

	// blockAlign is the payload alignment every block guarantees.
	blockAlign = 8

	// minBlock is the smallest legal block: a header plus one aligned slot.
	minBlock = headerSize + blockAlign

	// splitSlack is the surplus beyond one header that justifies splitting a
	// block instead of over-allocating.
	splitSlack = 16
)

type header struct {
	tag   uint32
	size  uint32
	prev  uint32
	flags uint32
}

func (h header) used() bool { return h.flags&flagUsed != 0 }

func (s *Service) readHeader(off uint32) header {
	b := s.arena[off : off+headerSize]
	return header{
		tag:   binary.LittleEndian.Uint32(b[0:4]),
		size:  binary.LittleEndian.Uint32(b[4:8]),
		prev:  binary.LittleEndian.Uint32(b[8:12]),
		flags: binary.LittleEndian.Uint32(b[12:16]),
	}
}

func (s *Service) writeHeader(off uint32, h header) {
	b := s.arena[off : off+headerSize]
	binary.LittleEndian.PutUint32(b[0:4], h.tag)
	binary.LittleEndian.PutUint32(b[4:8], h.size)
	binary.LittleEndian.PutUint32(b[8:12], h.prev)
	binary.LittleEndian.PutUint32(b[12:16], h.flags)
}

func (s *Service) nextFree(off uint32) uint32 {
	return binary.LittleEndian.Uint32(s.arena[off+headerSize : off+headerSize+4])
}

func (s *Service) setNextFree(off, next uint32) {
	binary.LittleEndian.PutUint32(s.arena[off+headerSize:off+headerSize+4], next)
}

// align8 rounds n up to the block alignment.
func align8(n uint32) uint32 {
	return (n + blockAlign - 1) &^ uint32(blockAlign-1)
}
