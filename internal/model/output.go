package model

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

type number interface {
	~float32 | ~float64 | ~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64
}

func copyOutput[T number](name, dataType string, shape []int64, data []T) Output {
	return Output{
		Name:     name,
		Shape:    append([]int64(nil), shape...),
		DataType: dataType,
		Data:     append([]T(nil), data...),
	}
}

// convertOutput copies a runtime-owned value into an Output so the value can
// be destroyed right after the call.
func convertOutput(name string, v ort.Value) (Output, error) {
	switch t := v.(type) {
	case *ort.Tensor[float32]:
		return copyOutput(name, "float32", t.GetShape(), t.GetData()), nil
	case *ort.Tensor[float64]:
		return copyOutput(name, "float64", t.GetShape(), t.GetData()), nil
	case *ort.Tensor[int8]:
		return copyOutput(name, "int8", t.GetShape(), t.GetData()), nil
	case *ort.Tensor[uint8]:
		return copyOutput(name, "uint8", t.GetShape(), t.GetData()), nil
	case *ort.Tensor[int16]:
		return copyOutput(name, "int16", t.GetShape(), t.GetData()), nil
	case *ort.Tensor[uint16]:
		return copyOutput(name, "uint16", t.GetShape(), t.GetData()), nil
	case *ort.Tensor[int32]:
		return copyOutput(name, "int32", t.GetShape(), t.GetData()), nil
	case *ort.Tensor[uint32]:
		return copyOutput(name, "uint32", t.GetShape(), t.GetData()), nil
	case *ort.Tensor[int64]:
		return copyOutput(name, "int64", t.GetShape(), t.GetData()), nil
	case *ort.Tensor[uint64]:
		return copyOutput(name, "uint64", t.GetShape(), t.GetData()), nil
	case *ort.CustomDataTensor:
		// float16, bfloat16 and friends arrive as raw bytes
		return copyOutput(name, "raw", t.GetShape(), t.GetData()), nil
	}
	return Output{}, fmt.Errorf("output %q has unsupported type %T", name, v)
}

func toFloat32[T number](in []T) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

// Float32s returns the output values widened or narrowed to float32. Raw
// byte outputs cannot be interpreted and return an error.
func (o Output) Float32s() ([]float32, error) {
	switch d := o.Data.(type) {
	case []float32:
		return d, nil
	case []float64:
		return toFloat32(d), nil
	case []int8:
		return toFloat32(d), nil
	case []uint16:
		return toFloat32(d), nil
	case []int16:
		return toFloat32(d), nil
	case []int32:
		return toFloat32(d), nil
	case []uint32:
		return toFloat32(d), nil
	case []int64:
		return toFloat32(d), nil
	case []uint64:
		return toFloat32(d), nil
	case []uint8:
		if o.DataType == "raw" {
			break
		}
		return toFloat32(d), nil
	}
	return nil, fmt.Errorf("output %q of type %s is not numeric", o.Name, o.DataType)
}

// Len returns the number of elements described by Shape.
func (o Output) Len() int64 {
	n := int64(1)
	for _, d := range o.Shape {
		n *= d
	}
	return n
}
