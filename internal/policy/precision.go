package policy

import (
	"github.com/emer/etable/etensor"
	"github.com/x448/float16"

	"github.com/thruflo/botloop/internal/robot"
)

// roundHalf returns a copy of t with every float value rounded through
// IEEE 754 half precision. Integer tensors are returned unchanged.
func roundHalf(t etensor.Tensor) etensor.Tensor {
	switch src := t.(type) {
	case *etensor.Float32:
		dst := robot.Clone(src).(*etensor.Float32)
		for i, v := range dst.Values {
			dst.Values[i] = float16.Fromfloat32(v).Float32()
		}
		return dst
	case *etensor.Float64:
		dst := robot.Clone(src).(*etensor.Float64)
		for i, v := range dst.Values {
			dst.Values[i] = float64(float16.Fromfloat32(float32(v)).Float32())
		}
		return dst
	default:
		return t
	}
}
