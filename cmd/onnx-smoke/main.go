package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Brownie44l1/onnx-smoke/internal/config"
	"github.com/Brownie44l1/onnx-smoke/internal/handlers"
	"github.com/Brownie44l1/onnx-smoke/internal/model"
	"github.com/Brownie44l1/onnx-smoke/internal/runner"
	"github.com/Brownie44l1/onnx-smoke/internal/tensor"
)

const ExitCodeFailed = 1

// options holds flag values; empty/zero means "keep the config value".
type options struct {
	configPath string
	modelPath  string
	libPath    string
	device     string
	seed       int64
	images     []string
	jsonOut    bool
	listenAddr string
	logLevel   string
	gallery    string
	topK       int
	crop       bool
	label      string
}

func main() {
	var opts options

	rootCmd := &cobra.Command{
		Use:          "onnx-smoke",
		Short:        "Run one forward pass of an ONNX model on a seeded random batch",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, &opts)
			if err != nil {
				return err
			}
			return runOnce(cmd.Context(), cfg, opts.jsonOut)
		},
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "TOML configuration file")
	flags.StringVarP(&opts.modelPath, "model", "m", "", "path to the .onnx model")
	flags.StringVar(&opts.libPath, "lib", "", "path to the onnxruntime shared library")
	flags.StringVarP(&opts.device, "device", "d", "", "device the input passes through (cpu, cuda, cuda:N)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.Flags().Int64Var(&opts.seed, "seed", config.DefaultSeed, "random seed for the input batch")
	rootCmd.Flags().StringSliceVar(&opts.images, "images", nil, "image crops to use instead of random input")
	rootCmd.Flags().BoolVar(&opts.jsonOut, "json", false, "print the raw outputs as JSON")
	rootCmd.Flags().StringVarP(&opts.gallery, "gallery", "g", "", "CSV gallery to match embeddings against")
	rootCmd.Flags().IntVarP(&opts.topK, "top-k", "k", 0, "number of gallery matches per item")
	flags.BoolVar(&opts.crop, "crop", false, "crop image inputs to their largest foreground region")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the model over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, &opts)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	serveCmd.Flags().StringVar(&opts.listenAddr, "listen", "", "listen address")
	rootCmd.AddCommand(serveCmd)

	enrollCmd := &cobra.Command{
		Use:   "enroll",
		Short: "Append the embeddings of image crops to a gallery",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, &opts)
			if err != nil {
				return err
			}
			return enroll(cmd.Context(), cfg, opts.label)
		},
	}
	enrollCmd.Flags().StringSliceVar(&opts.images, "images", nil, "image crops to embed")
	enrollCmd.Flags().StringVarP(&opts.gallery, "gallery", "g", "", "CSV gallery to append to")
	enrollCmd.Flags().StringVarP(&opts.label, "label", "l", "", "label stored with every crop")
	enrollCmd.MarkFlagRequired("images")
	enrollCmd.MarkFlagRequired("label")
	rootCmd.AddCommand(enrollCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error("onnx-smoke failed", zap.Error(err))
		os.Exit(ExitCodeFailed)
	}
}

func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.modelPath != "" {
		cfg.ModelPath = opts.modelPath
	}
	if opts.libPath != "" {
		cfg.SharedLibraryPath = opts.libPath
	}
	if opts.device != "" {
		cfg.Device = opts.device
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.listenAddr != "" {
		cfg.ListenAddr = opts.listenAddr
	}
	if f := cmd.Flags().Lookup("seed"); f != nil && f.Changed {
		cfg.Seed = opts.seed
	}
	if opts.gallery != "" {
		cfg.GalleryPath = opts.gallery
	}
	if opts.topK > 0 {
		cfg.TopK = opts.topK
	}
	if opts.crop {
		cfg.CropForeground = true
	}
	if len(opts.images) > 0 {
		if len(cfg.Shape) != 4 {
			return nil, fmt.Errorf("shape must have 4 dimensions (N, C, H, W), got %v", cfg.Shape)
		}
		cfg.ImagePaths = opts.images
		cfg.Shape[0] = int64(len(opts.images))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := initLogger(cfg.LogLevel); err != nil {
		return nil, err
	}
	return cfg, nil
}

func initLogger(level string) error {
	lg, props, err := log.InitLogger(&log.Config{Level: level})
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	log.ReplaceGlobals(lg, props)
	return nil
}

func runOnce(ctx context.Context, cfg *config.Config, jsonOut bool) error {
	res, err := runner.New(cfg, nil).Run(ctx)
	if err != nil {
		return err
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		return enc.Encode(res)
	}
	for _, o := range res.Outputs {
		values, err := o.Float32s()
		if err != nil {
			fmt.Printf("%s %v %s\n", o.Name, o.Shape, o.DataType)
			continue
		}
		if len(values) > 5 {
			values = values[:5]
		}
		fmt.Printf("%s %v %s %v...\n", o.Name, o.Shape, o.DataType, values)
	}
	for i, matches := range res.Matches {
		for rank, m := range matches {
			fmt.Printf("item %d #%d %s %.4f\n", i, rank+1, m.Label, m.Distance)
		}
	}
	return nil
}

func enroll(ctx context.Context, cfg *config.Config, label string) error {
	path := cfg.GalleryPath
	if path == "" {
		return fmt.Errorf("--gallery is required to enroll")
	}
	// embed only; matching against the gallery being written is pointless
	cfg.GalleryPath = ""
	res, err := runner.New(cfg, nil).Run(ctx)
	if err != nil {
		return err
	}
	return runner.Enroll(path, res, label)
}

func serve(ctx context.Context, cfg *config.Config) error {
	dev, err := tensor.ParseDevice(cfg.Device)
	if err != nil {
		return err
	}
	session, err := model.NewSession(model.SessionConfig{
		ModelPath:         cfg.ModelPath,
		SharedLibraryPath: cfg.SharedLibraryPath,
		InputName:         cfg.InputName,
		Device:            dev,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	if meta, err := session.Metadata(); err == nil {
		log.Info("model metadata",
			zap.String("producer", meta.Producer),
			zap.String("description", meta.Description),
			zap.Int64("version", meta.Version))
	}

	mux := http.NewServeMux()
	handlers.NewHandler(session, cfg.Shape[2], cfg.Shape[3]).Register(mux)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handlers.CORS(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("server shutdown failed", zap.Error(err))
		}
	}()

	log.Info("server starting",
		zap.String("addr", cfg.ListenAddr),
		zap.Strings("endpoints", []string{"GET /health", "POST /embed", "POST /embed/image"}))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
