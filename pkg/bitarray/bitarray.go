// Package bitarray implements a byte-backed bit store with arbitrary-width,
// arbitrary-offset random access. It is the wire-format primitive underneath
// [github.com/fluffynukeit/godot-sub000/pkg/inputbuffer]: little-endian
// within each byte, and little-endian across bytes, matching the original
// Godot networking module bit-for-bit.
package bitarray

import "fmt"

// BitArray is a mutable sequence of bits backed by a byte slice.
type BitArray struct {
	bytes []byte
}

// New creates an empty BitArray.
func New() *BitArray {
	return &BitArray{}
}

// ResizeInBits resizes the backing bytes to ceil(n/8), preserving existing
// bytes in the (possibly truncated or zero-extended) result.
func (b *BitArray) ResizeInBits(n int) {
	size := (n + 7) / 8
	if size < 0 {
		size = 0
	}
	if size == len(b.bytes) {
		return
	}
	nb := make([]byte, size)
	copy(nb, b.bytes)
	b.bytes = nb
}

// SizeInBytes returns the length of the backing byte slice.
func (b *BitArray) SizeInBytes() int {
	return len(b.bytes)
}

// SizeInBits returns the backing byte slice length times 8.
func (b *BitArray) SizeInBits() int {
	return len(b.bytes) * 8
}

// Bytes returns the backing byte slice. Callers must not retain it past the
// next mutating call.
func (b *BitArray) Bytes() []byte {
	return b.bytes
}

// SetBytes replaces the backing byte slice with a copy of buf.
func (b *BitArray) SetBytes(buf []byte) {
	b.bytes = append(b.bytes[:0], buf...)
}

// Zero sets every byte to zero.
func (b *BitArray) Zero() {
	for i := range b.bytes {
		b.bytes[i] = 0
	}
}

// StoreBits writes the low width bits of value starting at bit offset,
// least-significant-bit-first within each byte, spanning byte boundaries as
// needed. It panics if value has any bit set above width (a programmer
// error: the value does not fit in its declared width).
func (b *BitArray) StoreBits(offset int, value uint64, width int) {
	bits := width
	bitOffset := offset
	val := value

	for bits > 0 {
		bitsToWrite := bits
		if m := 8 - bitOffset%8; m < bitsToWrite {
			bitsToWrite = m
		}
		bitsToJump := bitOffset % 8
		bitsToSkip := 8 - (bitsToWrite + bitsToJump)
		byteOffset := bitOffset / 8

		byteClear := byte(0xFF) >> bitsToJump
		byteClear = byteClear << (bitsToJump + bitsToSkip)
		byteClear = ^(byteClear >> bitsToSkip)
		b.bytes[byteOffset] &= byteClear

		b.bytes[byteOffset] |= byte(val&0xFF) << bitsToJump

		bits -= bitsToWrite
		bitOffset += bitsToWrite
		val >>= bitsToWrite
	}

	if val != 0 {
		panic(fmt.Sprintf("bitarray: value does not fit in declared width %d", width))
	}
}

// ReadBits reads width bits starting at bit offset and returns them
// zero-extended into a uint64.
func (b *BitArray) ReadBits(offset, width int) uint64 {
	bits := width
	bitOffset := offset
	var val uint64
	var valBitsToJump int

	for bits > 0 {
		bitsToRead := bits
		if m := 8 - bitOffset%8; m < bitsToRead {
			bitsToRead = m
		}
		bitsToJump := bitOffset % 8
		bitsToSkip := 8 - (bitsToRead + bitsToJump)
		byteOffset := bitOffset / 8

		byteMask := byte(0xFF) >> bitsToJump
		byteMask = byteMask << (bitsToSkip + bitsToJump)
		byteMask = byteMask >> bitsToSkip
		byteVal := uint64((b.bytes[byteOffset] & byteMask) >> bitsToJump)
		val |= byteVal << valBitsToJump

		bits -= bitsToRead
		bitOffset += bitsToRead
		valBitsToJump += bitsToRead
	}

	return val
}
