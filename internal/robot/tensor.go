package robot

import (
	"fmt"
	"slices"

	"github.com/emer/etable/etensor"
)

// ColorOrder is the channel ordering of an image's last dimension.
type ColorOrder int

const (
	RGB ColorOrder = iota
	BGR
)

func (c ColorOrder) String() string {
	if c == BGR {
		return "bgr"
	}
	return "rgb"
}

// NewVector returns a float32 vector holding vals.
func NewVector(vals ...float32) *etensor.Float32 {
	t := etensor.NewFloat32([]int{len(vals)}, nil, nil)
	copy(t.Values, vals)
	return t
}

// NewImage returns a zeroed [height, width, 3] image.
func NewImage(height, width int) *etensor.Uint8 {
	return etensor.NewUint8([]int{height, width, 3}, nil, nil)
}

// VectorValues returns a copy of a tensor's values as float32.
func VectorValues(t etensor.Tensor) []float32 {
	out := make([]float32, t.Len())
	for i := range out {
		out[i] = float32(t.FloatVal1D(i))
	}
	return out
}

// DType names the element type of t as used in feature schemas.
func DType(t etensor.Tensor) string {
	switch t.(type) {
	case *etensor.Uint8:
		return "uint8"
	case *etensor.Float32:
		return "float32"
	case *etensor.Float64:
		return "float64"
	case *etensor.Int64:
		return "int64"
	case *etensor.Int32:
		return "int32"
	default:
		return "unknown"
	}
}

// Reshape copies t into a new tensor of the same element type with the
// given shape. The element count must not change.
func Reshape(t etensor.Tensor, shape []int) (etensor.Tensor, error) {
	n := 1
	for _, d := range shape {
		n *= d
	}
	if n != t.Len() {
		return nil, fmt.Errorf("cannot reshape %v (%d elements) to %v", t.Shapes(), t.Len(), shape)
	}
	shape = slices.Clone(shape)

	switch src := t.(type) {
	case *etensor.Uint8:
		dst := etensor.NewUint8(shape, nil, nil)
		copy(dst.Values, src.Values)
		return dst, nil
	case *etensor.Float32:
		dst := etensor.NewFloat32(shape, nil, nil)
		copy(dst.Values, src.Values)
		return dst, nil
	case *etensor.Float64:
		dst := etensor.NewFloat64(shape, nil, nil)
		copy(dst.Values, src.Values)
		return dst, nil
	case *etensor.Int64:
		dst := etensor.NewInt64(shape, nil, nil)
		copy(dst.Values, src.Values)
		return dst, nil
	case *etensor.Int32:
		dst := etensor.NewInt32(shape, nil, nil)
		copy(dst.Values, src.Values)
		return dst, nil
	default:
		return nil, fmt.Errorf("unsupported tensor type %T", t)
	}
}

// Clone returns a copy of t with its own backing storage.
func Clone(t etensor.Tensor) etensor.Tensor {
	out, err := Reshape(t, t.Shapes())
	if err != nil {
		panic("robot: clone of unsupported tensor: " + err.Error())
	}
	return out
}

// Unsqueeze adds a leading dimension of size one.
func Unsqueeze(t etensor.Tensor) (etensor.Tensor, error) {
	return Reshape(t, append([]int{1}, t.Shapes()...))
}

// Squeeze removes a leading dimension of size one.
func Squeeze(t etensor.Tensor) (etensor.Tensor, error) {
	shape := t.Shapes()
	if len(shape) == 0 || shape[0] != 1 {
		return nil, fmt.Errorf("cannot squeeze leading dimension of shape %v", shape)
	}
	return Reshape(t, shape[1:])
}

// ImageToCHW converts a [H, W, C] uint8 image into a [C, H, W] float32
// tensor scaled to [0, 1].
func ImageToCHW(img *etensor.Uint8) (*etensor.Float32, error) {
	shape := img.Shapes()
	if len(shape) != 3 {
		return nil, fmt.Errorf("image must have 3 dimensions, got shape %v", shape)
	}
	h, w, c := shape[0], shape[1], shape[2]
	out := etensor.NewFloat32([]int{c, h, w}, nil, nil)
	for y := range h {
		for x := range w {
			base := (y*w + x) * c
			for ch := range c {
				out.Values[ch*h*w+y*w+x] = float32(img.Values[base+ch]) / 255
			}
		}
	}
	return out, nil
}

// ConvertColor returns img in the requested channel order. The input is
// returned unchanged when no conversion is needed.
func ConvertColor(img *etensor.Uint8, from, to ColorOrder) *etensor.Uint8 {
	if from == to {
		return img
	}
	shape := img.Shapes()
	out := etensor.NewUint8(slices.Clone(shape), nil, nil)
	copy(out.Values, img.Values)
	if len(shape) != 3 || shape[2] < 3 {
		return out
	}
	c := shape[2]
	for i := 0; i+2 < len(out.Values); i += c {
		out.Values[i], out.Values[i+2] = out.Values[i+2], out.Values[i]
	}
	return out
}
