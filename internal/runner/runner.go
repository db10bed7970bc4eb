package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/Brownie44l1/onnx-smoke/internal/config"
	"github.com/Brownie44l1/onnx-smoke/internal/gallery"
	"github.com/Brownie44l1/onnx-smoke/internal/model"
	"github.com/Brownie44l1/onnx-smoke/internal/preprocess"
	"github.com/Brownie44l1/onnx-smoke/internal/tensor"
)

// Session is the part of *model.Session the runner needs.
type Session interface {
	Run(ctx context.Context, data []float32, shape []int64) ([]model.Output, error)
	Close()
}

type Opener func(model.SessionConfig) (Session, error)

func OpenModel(cfg model.SessionConfig) (Session, error) {
	s, err := model.NewSession(cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

type Result struct {
	InputShape []int64        `json:"input_shape"`
	Outputs    []model.Output `json:"outputs"`
	Elapsed    time.Duration  `json:"elapsed"`
	// Matches[i] ranks gallery entries for batch item i.
	Matches [][]gallery.Match `json:"matches,omitempty"`
}

type Runner struct {
	cfg  *config.Config
	open Opener
}

func New(cfg *config.Config, open Opener) *Runner {
	if open == nil {
		open = OpenModel
	}
	return &Runner{cfg: cfg, open: open}
}

// Input builds the batch: seeded uniform noise, or the configured crops.
func (r *Runner) Input() (*tensor.Tensor, error) {
	if len(r.cfg.ImagePaths) > 0 {
		return preprocess.LoadBatch(r.cfg.ImagePaths, r.cfg.Shape, preprocess.Options{
			CropForeground: r.cfg.CropForeground,
			Threshold:      r.cfg.Threshold,
			MinRegion:      r.cfg.MinRegion,
		})
	}
	return tensor.Rand(r.cfg.Seed, r.cfg.Shape...)
}

// Run performs one forward pass. Any failure is returned as is.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	dev, err := tensor.ParseDevice(r.cfg.Device)
	if err != nil {
		return nil, err
	}

	x, err := r.Input()
	if err != nil {
		return nil, fmt.Errorf("failed to build input: %w", err)
	}
	log.Info("input created",
		zap.Int64("seed", r.cfg.Seed),
		zap.Int64s("shape", x.Shape),
		zap.Int("images", len(r.cfg.ImagePaths)))

	x, err = x.To(dev)
	if err != nil {
		return nil, err
	}
	x, err = x.CPU()
	if err != nil {
		return nil, err
	}
	data, err := x.Array()
	if err != nil {
		return nil, err
	}
	log.Debug("input moved to host", zap.String("via", string(dev)), zap.Int("values", len(data)))

	session, err := r.open(model.SessionConfig{
		ModelPath:         r.cfg.ModelPath,
		SharedLibraryPath: r.cfg.SharedLibraryPath,
		InputName:         r.cfg.InputName,
		Device:            dev,
	})
	if err != nil {
		return nil, err
	}
	defer session.Close()

	start := time.Now()
	outputs, err := session.Run(ctx, data, x.Shape)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	log.Info("forward pass done",
		zap.Int("outputs", len(outputs)),
		zap.Duration("elapsed", elapsed))
	res := &Result{InputShape: x.Shape, Outputs: outputs, Elapsed: elapsed}

	if r.cfg.GalleryPath != "" {
		if res.Matches, err = r.match(res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Embeddings splits the first output into one vector per batch item.
func Embeddings(res *Result) ([][]float32, error) {
	if len(res.Outputs) == 0 {
		return nil, fmt.Errorf("model produced no outputs")
	}
	if len(res.InputShape) == 0 || res.InputShape[0] <= 0 {
		return nil, fmt.Errorf("input shape %v has no batch dimension", res.InputShape)
	}
	out := res.Outputs[0]
	values, err := out.Float32s()
	if err != nil {
		return nil, err
	}
	n := int(res.InputShape[0])
	if len(out.Shape) == 0 || out.Shape[0] != res.InputShape[0] || len(values)%n != 0 {
		return nil, fmt.Errorf("output %q shape %v does not split into %d embeddings", out.Name, out.Shape, n)
	}
	dim := len(values) / n
	vecs := make([][]float32, n)
	for i := range vecs {
		vecs[i] = values[i*dim : (i+1)*dim]
	}
	return vecs, nil
}

func (r *Runner) match(res *Result) ([][]gallery.Match, error) {
	g, err := gallery.Load(r.cfg.GalleryPath)
	if err != nil {
		return nil, err
	}
	vecs, err := Embeddings(res)
	if err != nil {
		return nil, err
	}
	matches := make([][]gallery.Match, len(vecs))
	for i, v := range vecs {
		if matches[i], err = g.Nearest(v, r.cfg.TopK); err != nil {
			return nil, fmt.Errorf("batch item %d: %w", i, err)
		}
	}
	log.Info("gallery matched",
		zap.String("gallery", r.cfg.GalleryPath),
		zap.Int("entries", len(g.Entries)),
		zap.Int("queries", len(vecs)))
	return matches, nil
}

// Enroll appends one labelled entry per batch item of res to the gallery
// file at path.
func Enroll(path string, res *Result, label string) error {
	if path == "" {
		return fmt.Errorf("gallery path is required to enroll")
	}
	vecs, err := Embeddings(res)
	if err != nil {
		return err
	}
	entries := make([]gallery.Entry, 0, len(vecs))
	for _, v := range vecs {
		entries = append(entries, gallery.Entry{Label: label, Vector: v})
	}
	if err := gallery.Append(path, entries...); err != nil {
		return err
	}
	log.Info("gallery enrolled", zap.String("label", label), zap.Int("entries", len(entries)))
	return nil
}
