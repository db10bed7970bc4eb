package tensor

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
)

var (
	ErrNotOnHost = errors.New("tensor is not in host memory")
	ErrBadShape  = errors.New("invalid tensor shape")
)

// Device names where a tensor's data lives: "cpu" or "cuda[:N]".
type Device string

const CPU Device = "cpu"

// ParseDevice accepts "cpu", "cuda" and "cuda:N". "cuda" means "cuda:0".
func ParseDevice(s string) (Device, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "cpu":
		return CPU, nil
	case s == "cuda":
		return "cuda:0", nil
	case strings.HasPrefix(s, "cuda:"):
		n, err := strconv.Atoi(strings.TrimPrefix(s, "cuda:"))
		if err != nil || n < 0 {
			return "", fmt.Errorf("invalid cuda device %q", s)
		}
		return Device(s), nil
	}
	return "", fmt.Errorf("unknown device %q", s)
}

func (d Device) IsCUDA() bool {
	return strings.HasPrefix(string(d), "cuda")
}

// Index returns the ordinal of a cuda device, 0 for cpu.
func (d Device) Index() int {
	_, idx, ok := strings.Cut(string(d), ":")
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(idx)
	return n
}

// Tensor is a dense row-major float32 array.
type Tensor struct {
	Shape  []int64
	Data   []float32
	Device Device
}

// NumElements returns the product of the shape dimensions.
func NumElements(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

func checkShape(shape []int64) error {
	if len(shape) == 0 {
		return fmt.Errorf("%w: empty shape", ErrBadShape)
	}
	for i, d := range shape {
		if d <= 0 {
			return fmt.Errorf("%w: dimension %d is %d", ErrBadShape, i, d)
		}
	}
	return nil
}

// New wraps data in a host tensor of the given shape.
func New(shape []int64, data []float32) (*Tensor, error) {
	t := &Tensor{Shape: append([]int64(nil), shape...), Data: data, Device: CPU}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Rand fills a new host tensor with values uniform on [0, 1) drawn from a
// PCG generator seeded with seed.
func Rand(seed int64, shape ...int64) (*Tensor, error) {
	if err := checkShape(shape); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
	data := make([]float32, NumElements(shape))
	for i := range data {
		data[i] = rng.Float32()
	}
	return &Tensor{Shape: append([]int64(nil), shape...), Data: data, Device: CPU}, nil
}

func (t *Tensor) NumElements() int64 {
	return NumElements(t.Shape)
}

func (t *Tensor) Validate() error {
	if err := checkShape(t.Shape); err != nil {
		return err
	}
	if int64(len(t.Data)) != t.NumElements() {
		return fmt.Errorf("%w: shape %v needs %d values, have %d",
			ErrBadShape, t.Shape, t.NumElements(), len(t.Data))
	}
	return nil
}

// To returns a copy of t placed on dev. The receiver is left untouched.
func (t *Tensor) To(dev Device) (*Tensor, error) {
	if _, err := ParseDevice(string(dev)); err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	return &Tensor{Shape: append([]int64(nil), t.Shape...), Data: data, Device: dev}, nil
}

func (t *Tensor) CPU() (*Tensor, error) {
	return t.To(CPU)
}

// Array returns the host-memory float32 view consumed by the runtime.
func (t *Tensor) Array() ([]float32, error) {
	if t.Device != CPU {
		return nil, fmt.Errorf("%w: on %s", ErrNotOnHost, t.Device)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t.Data, nil
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, device=%s)", t.Shape, t.Device)
}
