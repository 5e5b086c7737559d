package quantization

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrInvalidEncoding is returned when a binary quantized vector is malformed.
var ErrInvalidEncoding = errors.New("quantization: invalid encoding")

// HeaderSize is the encoded size of the (scale, offset) pair.
const HeaderSize = 8

// Codec is the quantization contract consumed by the storage tiers.
type Codec interface {
	// FromFloat quantizes a float32 vector.
	FromFloat(v []float32) QuantizedVector

	// ToFloat reconstructs an approximate float32 vector.
	ToFloat(q QuantizedVector) []float32

	// CosineApprox computes approximate cosine similarity on quantized data.
	CosineApprox(a, b QuantizedVector) float32
}

// Int8 is the default Codec.
type Int8 struct{}

// FromFloat implements Codec.
func (Int8) FromFloat(v []float32) QuantizedVector { return FromFloat(v) }

// ToFloat implements Codec.
func (Int8) ToFloat(q QuantizedVector) []float32 { return q.ToFloat() }

// CosineApprox implements Codec.
func (Int8) CosineApprox(a, b QuantizedVector) float32 { return a.CosineApprox(b) }

// QuantizedVector is a lossy int8 encoding of a float32 vector.
// Each value is reconstructed as float32(code)*Scale + Offset.
type QuantizedVector struct {
	Scale  float32
	Offset float32
	Codes  []int8
}

// FromFloat quantizes v symmetrically around the midpoint of its value range.
func FromFloat(v []float32) QuantizedVector {
	q := QuantizedVector{Codes: make([]int8, len(v))}
	if len(v) == 0 {
		return q
	}

	lo, hi := v[0], v[0]
	for _, x := range v[1:] {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}

	q.Offset = lo + (hi-lo)/2
	q.Scale = (hi - lo) / 254
	if q.Scale == 0 {
		// Constant vector: every code is zero and Offset is exact.
		return q
	}

	inv := 1 / q.Scale
	for i, x := range v {
		c := math.Round(float64((x - q.Offset) * inv))
		if c > 127 {
			c = 127
		} else if c < -127 {
			c = -127
		}
		q.Codes[i] = int8(c)
	}
	return q
}

// Dim returns the vector dimension.
func (q QuantizedVector) Dim() int {
	return len(q.Codes)
}

// ToFloat reconstructs an approximate float32 vector.
func (q QuantizedVector) ToFloat() []float32 {
	out := make([]float32, len(q.Codes))
	q.ToFloatInto(out)
	return out
}

// ToFloatInto reconstructs into dst, which must have length Dim().
func (q QuantizedVector) ToFloatInto(dst []float32) {
	for i, c := range q.Codes {
		dst[i] = float32(c)*q.Scale + q.Offset
	}
}

// MaxError returns the maximum absolute reconstruction error per dimension.
func (q QuantizedVector) MaxError() float32 {
	return q.Scale / 2
}

// CosineApprox computes cosine similarity between two quantized vectors
// using integer code sums instead of reconstructing either vector.
func (q QuantizedVector) CosineApprox(other QuantizedVector) float32 {
	if len(q.Codes) != len(other.Codes) || len(q.Codes) == 0 {
		return 0
	}

	var sumAB, sumA, sumB, sumAA, sumBB int64
	for i, ca := range q.Codes {
		a := int64(ca)
		b := int64(other.Codes[i])
		sumAB += a * b
		sumA += a
		sumB += b
		sumAA += a * a
		sumBB += b * b
	}

	n := float64(len(q.Codes))
	sa, oa := float64(q.Scale), float64(q.Offset)
	sb, ob := float64(other.Scale), float64(other.Offset)

	dot := sa*sb*float64(sumAB) + sa*ob*float64(sumA) + oa*sb*float64(sumB) + n*oa*ob
	normA := sa*sa*float64(sumAA) + 2*sa*oa*float64(sumA) + n*oa*oa
	normB := sb*sb*float64(sumBB) + 2*sb*ob*float64(sumB) + n*ob*ob
	if normA <= 0 || normB <= 0 {
		return 0
	}
	return float32(dot / math.Sqrt(normA*normB))
}

// CosineApproxFloat computes cosine similarity between q and a float query.
func (q QuantizedVector) CosineApproxFloat(v []float32) float32 {
	if len(q.Codes) != len(v) || len(v) == 0 {
		return 0
	}

	var dotCodes, sumV, sumCodes, sumCC, normV float64
	for i, c := range q.Codes {
		x := float64(v[i])
		cf := float64(c)
		dotCodes += cf * x
		sumV += x
		sumCodes += cf
		sumCC += cf * cf
		normV += x * x
	}

	s, o := float64(q.Scale), float64(q.Offset)
	n := float64(len(v))
	dot := s*dotCodes + o*sumV
	normQ := s*s*sumCC + 2*s*o*sumCodes + n*o*o
	if normQ <= 0 || normV <= 0 {
		return 0
	}
	return float32(dot / math.Sqrt(normQ*normV))
}

// EncodedSize returns the binary size of a quantized vector of dimension dim.
func EncodedSize(dim int) int {
	return HeaderSize + dim
}

// PutBinary writes the binary form into b, which must hold EncodedSize(Dim()) bytes.
// Format (little-endian): [scale:float32][offset:float32][codes:int8*dim]
func (q QuantizedVector) PutBinary(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], math.Float32bits(q.Scale))
	binary.LittleEndian.PutUint32(b[4:8], math.Float32bits(q.Offset))
	for i, c := range q.Codes {
		b[HeaderSize+i] = byte(c)
	}
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (q QuantizedVector) MarshalBinary() ([]byte, error) {
	b := make([]byte, EncodedSize(len(q.Codes)))
	q.PutBinary(b)
	return b, nil
}

// Decode reads a quantized vector of dimension dim from b. The codes are copied.
func Decode(b []byte, dim int) (QuantizedVector, error) {
	if dim < 0 || len(b) < EncodedSize(dim) {
		return QuantizedVector{}, ErrInvalidEncoding
	}
	q := QuantizedVector{
		Scale:  math.Float32frombits(binary.LittleEndian.Uint32(b[0:4])),
		Offset: math.Float32frombits(binary.LittleEndian.Uint32(b[4:8])),
		Codes:  make([]int8, dim),
	}
	for i := range q.Codes {
		q.Codes[i] = int8(b[HeaderSize+i])
	}
	return q, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (q *QuantizedVector) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return ErrInvalidEncoding
	}
	dec, err := Decode(data, len(data)-HeaderSize)
	if err != nil {
		return err
	}
	*q = dec
	return nil
}

// CompressionRatio returns the size ratio float32 → quantized for dimension dim.
func CompressionRatio(dim int) float64 {
	if dim == 0 {
		return 0
	}
	return float64(4*dim) / float64(EncodedSize(dim))
}
