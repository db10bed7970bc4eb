package gallery

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
)

var ErrDimension = errors.New("vector dimension mismatch")

// Entry is one labelled embedding. On disk it is a CSV row:
// label,v0,v1,...
type Entry struct {
	Label  string
	Vector []float32
}

type Match struct {
	Label    string  `json:"label"`
	Distance float32 `json:"distance"`
}

type Gallery struct {
	Entries []Entry
}

// Load reads a gallery CSV. Rows may differ in length; Nearest rejects
// mismatched entries at query time.
func Load(path string) (*Gallery, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open gallery: %w", err)
	}
	defer f.Close()
	return Read(f)
}

func Read(r io.Reader) (*Gallery, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	g := &Gallery{}
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read gallery: %w", err)
		}
		if len(rec) < 2 {
			return nil, fmt.Errorf("gallery line %d: want a label and at least one value", line)
		}
		vec := make([]float32, 0, len(rec)-1)
		for _, field := range rec[1:] {
			v, err := strconv.ParseFloat(field, 32)
			if err != nil {
				return nil, fmt.Errorf("gallery line %d: %w", line, err)
			}
			vec = append(vec, float32(v))
		}
		g.Entries = append(g.Entries, Entry{Label: rec[0], Vector: vec})
	}
	return g, nil
}

// Append adds entries to the gallery file at path, creating it if needed.
func Append(path string, entries ...Entry) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open gallery: %w", err)
	}
	if err := Write(f, entries...); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func Write(w io.Writer, entries ...Entry) error {
	cw := csv.NewWriter(w)
	for _, e := range entries {
		rec := make([]string, 0, len(e.Vector)+1)
		rec = append(rec, e.Label)
		for _, v := range e.Vector {
			rec = append(rec, strconv.FormatFloat(float64(v), 'g', -1, 32))
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("failed to write gallery entry %q: %w", e.Label, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Distance is the Euclidean distance between a and b.
func Distance(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimension, len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum)), nil
}

// Nearest ranks every entry by distance to query and returns the k closest.
// k <= 0 returns the full ranking.
func (g *Gallery) Nearest(query []float32, k int) ([]Match, error) {
	matches := make([]Match, 0, len(g.Entries))
	for _, e := range g.Entries {
		d, err := Distance(query, e.Vector)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", e.Label, err)
		}
		matches = append(matches, Match{Label: e.Label, Distance: d})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if k > 0 && k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}
