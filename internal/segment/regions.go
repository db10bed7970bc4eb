package segment

import (
	"image"
	"math"
	"sort"
)

type Region struct {
	Label    int
	Area     int
	Bounds   image.Rectangle
	Centroid [2]float64
	// Angle of the axis of least central moment, in radians.
	Angle         float64
	PercentFilled float64
	// height / width of Bounds
	AspectRatio float64
}

// Regions labels the 8-connected foreground (non-zero) components of src and
// returns those with more than minArea pixels, largest first.
func Regions(src *image.Gray, minArea int) []Region {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	labels := make([]int, w*h)
	fg := func(x, y int) bool { return src.GrayAt(b.Min.X+x, b.Min.Y+y).Y != 0 }

	var regions []Region
	next := 0
	stack := make([]int, 0, 64)
	for start := range labels {
		sx, sy := start%w, start/w
		if labels[start] != 0 || !fg(sx, sy) {
			continue
		}
		next++
		labels[start] = next
		stack = append(stack[:0], start)

		var m00, m10, m01, m11, m20, m02 float64
		minX, minY, maxX, maxY := sx, sy, sx, sy
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := p%w, p/w
			fx, fy := float64(x), float64(y)
			m00++
			m10 += fx
			m01 += fy
			m11 += fx * fy
			m20 += fx * fx
			m02 += fy * fy
			minX, minY = min(minX, x), min(minY, y)
			maxX, maxY = max(maxX, x), max(maxY, y)

			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					q := ny*w + nx
					if labels[q] == 0 && fg(nx, ny) {
						labels[q] = next
						stack = append(stack, q)
					}
				}
			}
		}

		area := int(m00)
		if area <= minArea {
			continue
		}
		xBar, yBar := m10/m00, m01/m00
		mu11 := m11/m00 - xBar*yBar
		mu20 := m20/m00 - xBar*xBar
		mu02 := m02/m00 - yBar*yBar
		bw, bh := maxX-minX+1, maxY-minY+1
		regions = append(regions, Region{
			Label:         next,
			Area:          area,
			Bounds:        image.Rect(b.Min.X+minX, b.Min.Y+minY, b.Min.X+maxX+1, b.Min.Y+maxY+1),
			Centroid:      [2]float64{float64(b.Min.X) + xBar, float64(b.Min.Y) + yBar},
			Angle:         0.5 * math.Atan2(2*mu11, mu20-mu02),
			PercentFilled: m00 / float64(bw*bh),
			AspectRatio:   float64(bh) / float64(bw),
		})
	}

	sort.SliceStable(regions, func(i, j int) bool { return regions[i].Area > regions[j].Area })
	return regions
}
