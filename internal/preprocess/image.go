package preprocess

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/nfnt/resize"

	"github.com/Brownie44l1/onnx-smoke/internal/segment"
	"github.com/Brownie44l1/onnx-smoke/internal/tensor"
)

const channels = 3

// Options control foreground cropping before resize.
type Options struct {
	CropForeground bool
	// gray level at or below which a pixel is foreground
	Threshold uint8
	// regions with this many pixels or fewer are ignored
	MinRegion int
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// CropForeground thresholds img, closes small gaps with a dilation followed
// by an erosion, and crops to the largest remaining region. img is returned
// unchanged when no region is large enough.
func CropForeground(img image.Image, opts Options) (image.Image, error) {
	fg := segment.Threshold(img, opts.Threshold)
	fg, err := segment.Dilate(fg, 5, 8)
	if err != nil {
		return nil, err
	}
	fg, err = segment.Erode(fg, 5, 8)
	if err != nil {
		return nil, err
	}
	regions := segment.Regions(fg, opts.MinRegion)
	if len(regions) == 0 {
		return img, nil
	}
	si, ok := img.(subImager)
	if !ok {
		return img, nil
	}
	return si.SubImage(regions[0].Bounds.Add(img.Bounds().Min)), nil
}

// Decode reads a JPEG or PNG image.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("invalid image format (supported: JPEG, PNG): %w", err)
	}
	return img, nil
}

// CHW resizes img to width x height and returns its RGB planes scaled to
// [0, 1], channel-major.
func CHW(img image.Image, width, height int) []float32 {
	resized := resize.Resize(uint(width), uint(height), img, resize.Lanczos3)
	bounds := resized.Bounds()
	plane := width * height
	data := make([]float32, channels*plane)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			i := y*width + x
			data[i] = float32(r) / 65535.0
			data[plane+i] = float32(g) / 65535.0
			data[2*plane+i] = float32(b) / 65535.0
		}
	}
	return data
}

// Batch stacks images into an NCHW host tensor of the given shape.
func Batch(imgs []image.Image, shape []int64) (*tensor.Tensor, error) {
	if len(shape) != 4 || shape[1] != channels {
		return nil, fmt.Errorf("image batch needs shape (N, 3, H, W), got %v", shape)
	}
	if int64(len(imgs)) != shape[0] {
		return nil, fmt.Errorf("batch of %d needs %d images, got %d", shape[0], shape[0], len(imgs))
	}
	height, width := int(shape[2]), int(shape[3])
	data := make([]float32, 0, tensor.NumElements(shape))
	for _, img := range imgs {
		data = append(data, CHW(img, width, height)...)
	}
	return tensor.New(shape, data)
}

// LoadBatch reads image files from disk, optionally crops each to its
// foreground, and stacks them with Batch.
func LoadBatch(paths []string, shape []int64, opts Options) (*tensor.Tensor, error) {
	imgs := make([]image.Image, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("failed to open image: %w", err)
		}
		img, err := Decode(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		if opts.CropForeground {
			if img, err = CropForeground(img, opts); err != nil {
				return nil, fmt.Errorf("%s: %w", p, err)
			}
		}
		imgs = append(imgs, img)
	}
	return Batch(imgs, shape)
}
