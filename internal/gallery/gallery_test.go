package gallery

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadWrite(t *testing.T) {
	in := "0001_c1,0.5,1,2\n0002_c3, 0.25, -1, 3e-2\n"
	g, err := Read(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, g.Entries, 2)
	require.Equal(t, Entry{Label: "0002_c3", Vector: []float32{0.25, -1, 0.03}}, g.Entries[1])

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, g.Entries...))
	require.Equal(t, "0001_c1,0.5,1,2\n0002_c3,0.25,-1,0.03\n", buf.String())
}

func TestReadErrors(t *testing.T) {
	for name, in := range map[string]string{
		"no values": "0001\n",
		"not float": "0001,abc\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Read(strings.NewReader(in))
			require.Error(t, err)
		})
	}
}

func TestAppendAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gallery.csv")
	require.NoError(t, Append(path, Entry{Label: "a", Vector: []float32{0, 0}}))
	require.NoError(t, Append(path, Entry{Label: "b", Vector: []float32{3, 4}}))

	g, err := Load(path)
	require.NoError(t, err)
	require.Len(t, g.Entries, 2)
	require.Equal(t, "b", g.Entries[1].Label)

	_, err = Load(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
}

func TestNearest(t *testing.T) {
	g := &Gallery{Entries: []Entry{
		{Label: "far", Vector: []float32{10, 10}},
		{Label: "self", Vector: []float32{1, 1}},
		{Label: "near", Vector: []float32{4, 5}},
		{Label: "mid", Vector: []float32{-5, 1}},
	}}

	got, err := g.Nearest([]float32{1, 1}, 3)
	require.NoError(t, err)
	require.Equal(t, []Match{
		{Label: "self", Distance: 0},
		{Label: "near", Distance: 5},
		{Label: "mid", Distance: 6},
	}, got)

	all, err := g.Nearest([]float32{1, 1}, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)

	_, err = g.Nearest([]float32{1, 1, 1}, 1)
	require.ErrorIs(t, err, ErrDimension)
}
