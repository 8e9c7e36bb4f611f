package tensor

import (
	"fmt"
)

// DType identifies the element encoding of a Tensor's data buffer.
type DType string

const (
	Float32  DType = "float32"
	Float16  DType = "float16"
	BFloat16 DType = "bfloat16"
)

// ParseDType converts a user-facing precision string (e.g., from the
// checkpointer's configuration) into a DType.
func ParseDType(precision string) (DType, error) {
	switch precision {
	case "float32", "fp32":
		return Float32, nil
	case "float16", "fp16":
		return Float16, nil
	case "bfloat16", "bf16":
		return BFloat16, nil
	default:
		return "", fmt.Errorf("unsupported precision \"%s\" (must be one of float32, float16, or bfloat16)", precision)
	}
}

// Size returns the number of bytes occupied by a single element of this DType.
func (d DType) Size() int {
	switch d {
	case Float32:
		return 4
	case Float16, BFloat16:
		return 2
	default:
		panic(fmt.Sprintf("unknown dtype \"%s\"", string(d)))
	}
}

// SafetensorsName returns the dtype identifier used within a safetensors header.
func (d DType) SafetensorsName() string {
	switch d {
	case Float32:
		return "F32"
	case Float16:
		return "F16"
	case BFloat16:
		return "BF16"
	default:
		panic(fmt.Sprintf("unknown dtype \"%s\"", string(d)))
	}
}

// DTypeFromSafetensorsName is the inverse of SafetensorsName.
func DTypeFromSafetensorsName(name string) (DType, error) {
	switch name {
	case "F32":
		return Float32, nil
	case "F16":
		return Float16, nil
	case "BF16":
		return BFloat16, nil
	default:
		return "", fmt.Errorf("unsupported safetensors dtype \"%s\"", name)
	}
}
