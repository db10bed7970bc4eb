package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/Brownie44l1/onnx-smoke/internal/tensor"
)

const (
	DefaultSeed       = 100
	DefaultInputName  = "input"
	DefaultDevice     = "cuda:0"
	DefaultLogLevel   = "info"
	DefaultListenAddr = ":8080"
	DefaultTopK       = 3
	DefaultThreshold  = 100
	DefaultMinRegion  = 500
)

// DefaultShape is 10 crops of 3 channels at 256x128.
var DefaultShape = []int64{10, 3, 256, 128}

type Config struct {
	ModelPath         string   `toml:"model_path"`
	SharedLibraryPath string   `toml:"shared_library_path"`
	InputName         string   `toml:"input_name"`
	Device            string   `toml:"device"`
	Seed              int64    `toml:"seed"`
	Shape             []int64  `toml:"shape"`
	ImagePaths        []string `toml:"image_paths"`
	LogLevel          string   `toml:"log_level"`
	ListenAddr        string   `toml:"listen_addr"`

	// CSV of labelled embeddings; matching is skipped when empty.
	GalleryPath string `toml:"gallery_path"`
	TopK        int    `toml:"top_k"`

	CropForeground bool  `toml:"crop_foreground"`
	Threshold      uint8 `toml:"threshold"`
	MinRegion      int   `toml:"min_region"`
}

func Default() *Config {
	return &Config{
		InputName:  DefaultInputName,
		Device:     DefaultDevice,
		Seed:       DefaultSeed,
		Shape:      append([]int64(nil), DefaultShape...),
		LogLevel:   DefaultLogLevel,
		ListenAddr: DefaultListenAddr,
		TopK:       DefaultTopK,
		Threshold:  DefaultThreshold,
		MinRegion:  DefaultMinRegion,
	}
}

// Load returns the defaults overlaid with the TOML file at path (if any) and
// then with environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown keys in config %s: %v", path, undecoded)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ONNX_MODEL_PATH"); v != "" {
		c.ModelPath = v
	}
	if v := os.Getenv("ONNXRUNTIME_LIB"); v != "" {
		c.SharedLibraryPath = v
	}
	if v := os.Getenv("SMOKE_DEVICE"); v != "" {
		c.Device = v
	}
}

// Validate checks the config and normalizes the device name.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ModelPath) == "" {
		return fmt.Errorf("model path is required")
	}
	if c.InputName == "" {
		return fmt.Errorf("input name is empty")
	}
	dev, err := tensor.ParseDevice(c.Device)
	if err != nil {
		return err
	}
	c.Device = string(dev)
	if len(c.Shape) != 4 {
		return fmt.Errorf("shape must have 4 dimensions (N, C, H, W), got %v", c.Shape)
	}
	for _, d := range c.Shape {
		if d <= 0 {
			return fmt.Errorf("shape dimensions must be positive, got %v", c.Shape)
		}
	}
	if c.TopK < 0 {
		return fmt.Errorf("top_k must not be negative, got %d", c.TopK)
	}
	if c.MinRegion < 0 {
		return fmt.Errorf("min_region must not be negative, got %d", c.MinRegion)
	}
	if len(c.ImagePaths) > 0 && int64(len(c.ImagePaths)) != c.Shape[0] {
		return fmt.Errorf("got %d images for a batch of %d", len(c.ImagePaths), c.Shape[0])
	}
	return nil
}
