package segment

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
)

// 1-4-6-4-1 binomial approximation of a 5x5 Gaussian.
var gaussian5 = [5]int{1, 4, 6, 4, 1}

// Gray converts img to 8-bit grayscale with its origin at (0, 0).
func Gray(img image.Image) *image.Gray {
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}

// Blur applies a separable 5x5 Gaussian, clamping at the borders.
func Blur(src *image.Gray) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	tmp := make([]int, w*h)
	at := func(x, y int) int {
		x = min(max(x, 0), w-1)
		y = min(max(y, 0), h-1)
		return int(src.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := 0
			for k, wt := range gaussian5 {
				sum += wt * at(x+k-2, y)
			}
			tmp[y*w+x] = sum
		}
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := 0
			for k, wt := range gaussian5 {
				yy := min(max(y+k-2, 0), h-1)
				sum += wt * tmp[yy*w+x]
			}
			dst.SetGray(x, y, color.Gray{Y: uint8((sum + 128) / 256)})
		}
	}
	return dst
}

// Threshold blurs the grayscale image and marks pixels at or below t as
// foreground (255), everything brighter as background (0).
func Threshold(img image.Image, t uint8) *image.Gray {
	src := Blur(Gray(img))
	dst := image.NewGray(src.Bounds())
	for i, v := range src.Pix {
		if v <= t {
			dst.Pix[i] = 255
		}
	}
	return dst
}

type reducer func(a, b uint8) uint8

func morph(src *image.Gray, kernelSize, connectivity int, init uint8, pick reducer) (*image.Gray, error) {
	if connectivity != 4 && connectivity != 8 {
		return nil, fmt.Errorf("connectivity must be 4 or 8, got %d", connectivity)
	}
	if kernelSize < 1 {
		return nil, fmt.Errorf("kernel size must be positive, got %d", kernelSize)
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	m := kernelSize / 2
	// pixels within m of the border stay 0
	dst := image.NewGray(image.Rect(0, 0, w, h))
	px := func(x, y int) uint8 { return src.GrayAt(b.Min.X+x, b.Min.Y+y).Y }

	for y := m; y < h-m; y++ {
		for x := m; x < w-m; x++ {
			v := init
			if connectivity == 8 {
				for dy := -m; dy <= m; dy++ {
					for dx := -m; dx <= m; dx++ {
						v = pick(v, px(x+dx, y+dy))
					}
				}
			} else {
				for d := -m; d <= m; d++ {
					v = pick(v, px(x, y+d))
					v = pick(v, px(x+d, y))
				}
			}
			dst.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return dst, nil
}

// Erode replaces each pixel by the minimum over its neighbourhood: the full
// square for 8-connectivity, the cross for 4-connectivity.
func Erode(src *image.Gray, kernelSize, connectivity int) (*image.Gray, error) {
	return morph(src, kernelSize, connectivity, 255, func(a, b uint8) uint8 { return min(a, b) })
}

// Dilate is the maximum counterpart of Erode.
func Dilate(src *image.Gray, kernelSize, connectivity int) (*image.Gray, error) {
	return morph(src, kernelSize, connectivity, 0, func(a, b uint8) uint8 { return max(a, b) })
}
