package tensor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// Tensor is a dense, host-resident array of floating point elements.
//
// A Tensor whose Data field is nil is a placeholder: it reserves shape and
// dtype without allocating element storage. Placeholders are used to construct
// large model skeletons cheaply before real data is assigned into them.
type Tensor struct {
	Shape []int64
	DType DType
	Data  []byte
}

// FromFloat32s builds a Tensor of the given dtype from float32 values,
// encoding the elements into the dtype's on-disk representation.
func FromFloat32s(values []float32, dtype DType, shape ...int64) (*Tensor, error) {
	expected := int64(1)
	for _, dim := range shape {
		expected *= dim
	}
	if int64(len(values)) != expected {
		return nil, fmt.Errorf("cannot build tensor of shape %v from %d elements", shape, len(values))
	}

	t := &Tensor{
		Shape: append([]int64{}, shape...),
		DType: dtype,
	}

	switch dtype {
	case Float32:
		buf := new(bytes.Buffer)
		buf.Grow(len(values) * 4)
		for _, v := range values {
			var scratch [4]byte
			binary.LittleEndian.PutUint32(scratch[:], math.Float32bits(v))
			buf.Write(scratch[:])
		}
		t.Data = buf.Bytes()
	case Float16:
		data := make([]byte, len(values)*2)
		for i, v := range values {
			binary.LittleEndian.PutUint16(data[i*2:], float16.Fromfloat32(v).Bits())
		}
		t.Data = data
	case BFloat16:
		t.Data = bfloat16.EncodeFloat32(values)
	default:
		return nil, fmt.Errorf("unsupported dtype \"%s\"", string(dtype))
	}

	return t, nil
}

// Placeholder returns a Tensor with shape and dtype but no element storage.
func Placeholder(dtype DType, shape ...int64) *Tensor {
	return &Tensor{
		Shape: append([]int64{}, shape...),
		DType: dtype,
	}
}

// IsPlaceholder reports whether the tensor has no materialized storage.
func (t *Tensor) IsPlaceholder() bool {
	return t.Data == nil
}

// NumElements returns the total number of elements implied by the shape.
func (t *Tensor) NumElements() int64 {
	n := int64(1)
	for _, dim := range t.Shape {
		n *= dim
	}
	return n
}

// NumBytes returns the size of the materialized data buffer.
func (t *Tensor) NumBytes() int64 {
	return int64(len(t.Data))
}

// Float32s decodes the tensor's elements into float32 values.
func (t *Tensor) Float32s() ([]float32, error) {
	if t.IsPlaceholder() {
		return nil, fmt.Errorf("cannot decode placeholder tensor of shape %v", t.Shape)
	}

	switch t.DType {
	case Float32:
		values := make([]float32, len(t.Data)/4)
		for i := range values {
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.Data[i*4:]))
		}
		return values, nil
	case Float16:
		values := make([]float32, len(t.Data)/2)
		for i := range values {
			values[i] = float16.Frombits(binary.LittleEndian.Uint16(t.Data[i*2:])).Float32()
		}
		return values, nil
	case BFloat16:
		return bfloat16.DecodeFloat32(t.Data), nil
	default:
		return nil, fmt.Errorf("unsupported dtype \"%s\"", string(t.DType))
	}
}

// Cast returns a copy of the tensor converted to the target dtype.
// The conversion round-trips through float32, matching the reduced-precision
// semantics of saving a checkpoint in float16 or bfloat16.
func (t *Tensor) Cast(dtype DType) (*Tensor, error) {
	if t.DType == dtype {
		return t.Clone(), nil
	}

	values, err := t.Float32s()
	if err != nil {
		return nil, err
	}

	return FromFloat32s(values, dtype, t.Shape...)
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	clone := &Tensor{
		Shape: append([]int64{}, t.Shape...),
		DType: t.DType,
	}
	if t.Data != nil {
		clone.Data = append([]byte{}, t.Data...)
	}
	return clone
}

// Equal reports whether two tensors have identical shape, dtype, and data.
func (t *Tensor) Equal(other *Tensor) bool {
	if other == nil {
		return false
	}
	if t.DType != other.DType || len(t.Shape) != len(other.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != other.Shape[i] {
			return false
		}
	}
	return bytes.Equal(t.Data, other.Data)
}

// ShapeEqual reports whether two tensors agree on shape and dtype,
// ignoring whether either has materialized storage.
func (t *Tensor) ShapeEqual(other *Tensor) bool {
	if other == nil || t.DType != other.DType || len(t.Shape) != len(other.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != other.Shape[i] {
			return false
		}
	}
	return true
}

func (t *Tensor) String() string {
	if t.IsPlaceholder() {
		return fmt.Sprintf("Tensor[shape=%v, dtype=%s, placeholder]", t.Shape, string(t.DType))
	}
	return fmt.Sprintf("Tensor[shape=%v, dtype=%s, bytes=%d]", t.Shape, string(t.DType), len(t.Data))
}
