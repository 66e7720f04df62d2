// Package inputbuffer implements a bit-packed, append-only schema of input
// fields that compiles into a fixed bit layout, backed by a
// [github.com/fluffynukeit/godot-sub000/pkg/bitarray]. It is the
// minimum-sized wire representation for a single physics tick's worth of
// player input, shared by every role of
// [github.com/fluffynukeit/godot-sub000/pkg/netctrl].
package inputbuffer

import (
	"errors"
	"fmt"
	"math"

	"github.com/fluffynukeit/godot-sub000/pkg/bitarray"
)

// FieldKind identifies the type of a declared field.
type FieldKind int

const (
	Bool FieldKind = iota
	Int
	UnitReal
	NormVec2
)

func (k FieldKind) String() string {
	switch k {
	case Bool:
		return "bool"
	case Int:
		return "int"
	case UnitReal:
		return "unit_real"
	case NormVec2:
		return "norm_vec2"
	default:
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
}

// CompressionLevel controls how many bits a field consumes; see the table in
// spec.md §4.2. L0 is the least lossy (most bits), L3 the most lossy.
type CompressionLevel int

const (
	L0 CompressionLevel = iota
	L1
	L2
	L3
)

// widths[kind][level] is the bit width consumed by a field of that kind and
// compression level.
var widths = [4][4]int{
	Bool:     {1, 1, 1, 1},
	Int:      {64, 32, 16, 8},
	UnitReal: {10, 8, 6, 4},
	NormVec2: {12, 11, 10, 9},
}

func bitsFor(kind FieldKind, level CompressionLevel) (int, error) {
	if kind < Bool || kind > NormVec2 {
		return 0, fmt.Errorf("inputbuffer: unsupported field kind %v", kind)
	}
	if level < L0 || level > L3 {
		return 0, fmt.Errorf("inputbuffer: unsupported compression level %v", level)
	}
	return widths[kind][level], nil
}

var (
	// ErrFrozen is returned by AddField once the layout has been frozen by
	// Freeze or by a write (a Set accessor, SetBytes or Zero).
	ErrFrozen = errors.New("inputbuffer: layout already frozen")
	// ErrNotFrozen is returned by a Get accessor called before any write has
	// frozen the layout.
	ErrNotFrozen = errors.New("inputbuffer: layout not yet frozen")
	// ErrFieldIndex is returned when a field index is out of range.
	ErrFieldIndex = errors.New("inputbuffer: field index out of range")
	// ErrFieldKind is returned when an accessor is called against a field of
	// a different kind than it was declared with.
	ErrFieldKind = errors.New("inputbuffer: field accessed with wrong kind")
)

type field struct {
	kind      FieldKind
	level     CompressionLevel
	bitOffset int
	bits      int
}

// Vec2 is a 2D vector used by NormVec2 fields.
type Vec2 struct {
	X, Y float64
}

// InputBuffer holds a declared, then frozen, bit layout backed by a BitArray.
// Zero value is ready to use.
type InputBuffer struct {
	fields []field
	frozen bool
	bits   bitarray.BitArray
}

// New returns an empty, unfrozen InputBuffer.
func New() *InputBuffer {
	return &InputBuffer{}
}

// AddField declares a new field of the given kind and compression level,
// returning its index. It fails once the layout has been frozen.
func (ib *InputBuffer) AddField(kind FieldKind, level CompressionLevel) (int, error) {
	if ib.frozen {
		return -1, ErrFrozen
	}
	bits, err := bitsFor(kind, level)
	if err != nil {
		return -1, err
	}
	idx := len(ib.fields)
	ib.fields = append(ib.fields, field{kind: kind, level: level, bits: bits})
	return idx, nil
}

// Freeze assigns bit offsets in declaration order and sizes the backing
// BitArray. It is idempotent; Set accessors call it automatically. Further
// AddField calls after Freeze fail.
func (ib *InputBuffer) Freeze() {
	if ib.frozen {
		return
	}
	ib.frozen = true

	bits := 0
	for i := range ib.fields {
		ib.fields[i].bitOffset = bits
		bits += ib.fields[i].bits
	}
	ib.bits.ResizeInBits(bits)
}

// Frozen reports whether the layout has been frozen.
func (ib *InputBuffer) Frozen() bool {
	return ib.frozen
}

// NumFields returns the number of declared fields.
func (ib *InputBuffer) NumFields() int {
	return len(ib.fields)
}

// ByteSize returns ceil(total declared bits / 8). The layout must be frozen.
func (ib *InputBuffer) ByteSize() (int, error) {
	if !ib.frozen {
		return 0, ErrNotFrozen
	}
	return ib.bits.SizeInBytes(), nil
}

// Bytes returns the backing byte slice. The layout must be frozen. Callers
// must not retain the slice past the next mutating call.
func (ib *InputBuffer) Bytes() ([]byte, error) {
	if !ib.frozen {
		return nil, ErrNotFrozen
	}
	return ib.bits.Bytes(), nil
}

// SetBytes replaces the backing bytes with a copy of buf, freezing the
// layout first if necessary. len(buf) must equal the declared byte size.
func (ib *InputBuffer) SetBytes(buf []byte) error {
	ib.Freeze()
	if len(buf) != ib.bits.SizeInBytes() {
		return fmt.Errorf("inputbuffer: SetBytes: want %d bytes, got %d", ib.bits.SizeInBytes(), len(buf))
	}
	ib.bits.SetBytes(buf)
	return nil
}

// Zero clears every declared field's bits to zero, freezing the layout if
// necessary.
func (ib *InputBuffer) Zero() {
	ib.Freeze()
	ib.bits.Zero()
}

// Clone returns a new, independently-backed InputBuffer with the same
// declared field layout as ib (frozen, if ib is frozen), but zeroed
// contents. It is used to create read-only scratch views sharing a layout,
// e.g. for comparing two candidate inputs.
func (ib *InputBuffer) Clone() *InputBuffer {
	out := &InputBuffer{
		fields: append([]field(nil), ib.fields...),
		frozen: ib.frozen,
	}
	if ib.frozen {
		out.bits.ResizeInBits(0)
		total := 0
		for _, f := range out.fields {
			total += f.bits
		}
		out.bits.ResizeInBits(total)
	}
	return out
}

func (ib *InputBuffer) field(idx int, kind FieldKind) (*field, error) {
	if idx < 0 || idx >= len(ib.fields) {
		return nil, ErrFieldIndex
	}
	f := &ib.fields[idx]
	if f.kind != kind {
		return nil, ErrFieldKind
	}
	return f, nil
}

// SetBool stores a boolean at idx, freezing the layout if necessary.
func (ib *InputBuffer) SetBool(idx int, v bool) (bool, error) {
	f, err := ib.field(idx, Bool)
	if err != nil {
		return false, err
	}
	ib.Freeze()
	var b uint64
	if v {
		b = 1
	}
	ib.bits.StoreBits(f.bitOffset, b, 1)
	return v, nil
}

// GetBool reads the boolean at idx. The layout must already be frozen.
func (ib *InputBuffer) GetBool(idx int) (bool, error) {
	if !ib.frozen {
		return false, ErrNotFrozen
	}
	f, err := ib.field(idx, Bool)
	if err != nil {
		return false, err
	}
	return ib.bits.ReadBits(f.bitOffset, 1) != 0, nil
}

func clampToWidth(v int64, width int) int64 {
	switch width {
	case 8:
		if v > math.MaxInt8 {
			v = math.MaxInt8
		} else if v < math.MinInt8 {
			v = math.MinInt8
		}
	case 16:
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
	case 32:
		if v > math.MaxInt32 {
			v = math.MaxInt32
		} else if v < math.MinInt32 {
			v = math.MinInt32
		}
	}
	return v
}

func maskWidth(v int64, width int) uint64 {
	if width >= 64 {
		return uint64(v)
	}
	return uint64(v) & ((uint64(1) << width) - 1)
}

func signExtend(raw uint64, width int) int64 {
	if width >= 64 {
		return int64(raw)
	}
	signBit := uint64(1) << (width - 1)
	if raw&signBit != 0 {
		raw |= ^((uint64(1) << width) - 1)
	}
	return int64(raw)
}

// SetInt stores a two's-complement integer at idx, clamped to the signed
// range of the field's declared width, freezing the layout if necessary. It
// returns the stored (possibly clamped) value.
func (ib *InputBuffer) SetInt(idx int, v int64) (int64, error) {
	f, err := ib.field(idx, Int)
	if err != nil {
		return 0, err
	}
	ib.Freeze()
	v = clampToWidth(v, f.bits)
	ib.bits.StoreBits(f.bitOffset, maskWidth(v, f.bits), f.bits)
	return signExtend(maskWidth(v, f.bits), f.bits), nil
}

// GetInt reads the integer at idx. The layout must already be frozen.
func (ib *InputBuffer) GetInt(idx int) (int64, error) {
	if !ib.frozen {
		return 0, ErrNotFrozen
	}
	f, err := ib.field(idx, Int)
	if err != nil {
		return 0, err
	}
	raw := ib.bits.ReadBits(f.bitOffset, f.bits)
	return signExtend(raw, f.bits), nil
}

func quantizeUnit(x float64, width int) uint64 {
	m := float64((uint64(1) << width) - 1)
	q := x * m
	if q > m {
		q = m
	}
	if q < 0 {
		q = 0
	}
	return uint64(q)
}

func dequantizeUnit(q uint64, width int) float64 {
	m := float64((uint64(1) << width) - 1)
	return float64(q) / m
}

// SetUnitReal stores a value conceptually in [0,1], quantised to the field's
// declared width, freezing the layout if necessary. It returns the
// dequantised (possibly lossy) value actually stored.
func (ib *InputBuffer) SetUnitReal(idx int, v float64) (float64, error) {
	f, err := ib.field(idx, UnitReal)
	if err != nil {
		return 0, err
	}
	ib.Freeze()
	q := quantizeUnit(v, f.bits)
	ib.bits.StoreBits(f.bitOffset, q, f.bits)
	return dequantizeUnit(q, f.bits), nil
}

// GetUnitReal reads the value at idx. The layout must already be frozen.
func (ib *InputBuffer) GetUnitReal(idx int) (float64, error) {
	if !ib.frozen {
		return 0, ErrNotFrozen
	}
	f, err := ib.field(idx, UnitReal)
	if err != nil {
		return 0, err
	}
	q := ib.bits.ReadBits(f.bitOffset, f.bits)
	return dequantizeUnit(q, f.bits), nil
}

const vec2Epsilon = 1e-5

// SetNormVec2 stores a 2D direction, quantising its angle and a
// zero/non-zero flag, freezing the layout if necessary. A zero-length vector
// stores the zero flag and an arbitrary angle. It returns the
// (possibly-lossy) vector that a corresponding Get would return.
func (ib *InputBuffer) SetNormVec2(idx int, v Vec2) (Vec2, error) {
	f, err := ib.field(idx, NormVec2)
	if err != nil {
		return Vec2{}, err
	}
	ib.Freeze()

	angleBits := f.bits - 1
	angle := math.Atan2(v.Y, v.X)
	var nonZero uint64
	if v.X*v.X+v.Y*v.Y > vec2Epsilon {
		nonZero = 1
	}

	compressedAngle := quantizeUnit((angle+math.Pi)/(2*math.Pi), angleBits)

	ib.bits.StoreBits(f.bitOffset, nonZero, 1)
	ib.bits.StoreBits(f.bitOffset+1, compressedAngle, angleBits)

	return decodeNormVec2(nonZero, compressedAngle, angleBits), nil
}

// GetNormVec2 reads the vector at idx. The layout must already be frozen.
func (ib *InputBuffer) GetNormVec2(idx int) (Vec2, error) {
	if !ib.frozen {
		return Vec2{}, ErrNotFrozen
	}
	f, err := ib.field(idx, NormVec2)
	if err != nil {
		return Vec2{}, err
	}

	angleBits := f.bits - 1
	nonZero := ib.bits.ReadBits(f.bitOffset, 1)
	compressedAngle := ib.bits.ReadBits(f.bitOffset+1, angleBits)

	return decodeNormVec2(nonZero, compressedAngle, angleBits), nil
}

func decodeNormVec2(nonZero, compressedAngle uint64, angleBits int) Vec2 {
	angle := dequantizeUnit(compressedAngle, angleBits)*2*math.Pi - math.Pi
	x, y := math.Cos(angle), math.Sin(angle)
	if nonZero == 0 {
		return Vec2{}
	}
	return Vec2{X: x, Y: y}
}
