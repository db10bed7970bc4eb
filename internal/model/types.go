package model

// TensorInfo describes one input or output declared by the model file.
type TensorInfo struct {
	Name     string  `json:"name"`
	Shape    []int64 `json:"shape"`
	DataType string  `json:"data_type"`
}

// Output is one raw result of a forward pass. Data holds a slice of the
// element type named by DataType, e.g. []float32 or []int64.
type Output struct {
	Name     string  `json:"name"`
	Shape    []int64 `json:"shape"`
	DataType string  `json:"data_type"`
	Data     any     `json:"data"`
}

type Metadata struct {
	Producer    string `json:"producer"`
	Description string `json:"description"`
	Version     int64  `json:"version"`
}

type EmbedRequest struct {
	Data  []float32 `json:"data"`
	Shape []int64   `json:"shape"`
}

type EmbedResponse struct {
	Outputs []Output `json:"outputs"`
}
