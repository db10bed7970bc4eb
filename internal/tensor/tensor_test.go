package tensor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRandDeterministic(t *testing.T) {
	a, err := Rand(100, 10, 3, 256, 128)
	require.NoError(t, err)
	b, err := Rand(100, 10, 3, 256, 128)
	require.NoError(t, err)
	require.Equal(t, a.Data, b.Data)

	c, err := Rand(101, 10, 3, 256, 128)
	require.NoError(t, err)
	require.NotEqual(t, a.Data, c.Data)
}

func TestRandShapeAndRange(t *testing.T) {
	x, err := Rand(100, 10, 3, 256, 128)
	require.NoError(t, err)
	require.Equal(t, []int64{10, 3, 256, 128}, x.Shape)
	require.Len(t, x.Data, 10*3*256*128)
	require.Equal(t, CPU, x.Device)
	for i, v := range x.Data {
		if v < 0 || v >= 1 {
			t.Fatalf("value %d out of range: %v", i, v)
		}
	}
}

func TestRandBadShape(t *testing.T) {
	_, err := Rand(1, 2, 0, 3)
	require.ErrorIs(t, err, ErrBadShape)
	_, err = Rand(1)
	require.ErrorIs(t, err, ErrBadShape)
}

func TestDeviceRoundTrip(t *testing.T) {
	x, err := Rand(100, 2, 3, 4, 5)
	require.NoError(t, err)

	gpu, err := x.To("cuda:0")
	require.NoError(t, err)
	require.Equal(t, Device("cuda:0"), gpu.Device)
	_, err = gpu.Array()
	require.ErrorIs(t, err, ErrNotOnHost)

	host, err := gpu.CPU()
	require.NoError(t, err)
	arr, err := host.Array()
	require.NoError(t, err)
	require.Equal(t, x.Shape, host.Shape)
	require.Equal(t, x.NumElements(), int64(len(arr)))
	require.Equal(t, x.Data, arr)

	// the relocated copy does not alias the source
	arr[0] = 42
	require.NotEqual(t, float32(42), x.Data[0])
}

func TestParseDevice(t *testing.T) {
	for in, want := range map[string]Device{
		"cpu":    CPU,
		" CUDA ": "cuda:0",
		"cuda:3": "cuda:3",
		"cuda:0": "cuda:0",
	} {
		got, err := ParseDevice(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got)
	}
	for _, in := range []string{"", "gpu", "cuda:-1", "cuda:x"} {
		_, err := ParseDevice(in)
		require.Error(t, err, in)
	}
	require.Equal(t, 3, Device("cuda:3").Index())
	require.True(t, Device("cuda:3").IsCUDA())
	require.False(t, CPU.IsCUDA())
}

func TestNewValidates(t *testing.T) {
	_, err := New([]int64{2, 2}, []float32{1, 2, 3})
	require.ErrorIs(t, err, ErrBadShape)
	x, err := New([]int64{2, 2}, []float32{1, 2, 3, 4})
	require.NoError(t, err)
	require.Equal(t, int64(4), x.NumElements())
}
