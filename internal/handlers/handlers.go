package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/Brownie44l1/onnx-smoke/internal/model"
	"github.com/Brownie44l1/onnx-smoke/internal/preprocess"
	"github.com/Brownie44l1/onnx-smoke/internal/tensor"
)

type Embedder interface {
	Run(ctx context.Context, data []float32, shape []int64) ([]model.Output, error)
}

type Handler struct {
	embedder Embedder
	// height and width of a single crop
	height, width int64
}

func NewHandler(embedder Embedder, height, width int64) *Handler {
	return &Handler{
		embedder: embedder,
		height:   height,
		width:    width,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/embed", h.Embed)
	mux.HandleFunc("/embed/image", h.EmbedImage)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("failed to write response", zap.Error(err))
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy"})
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request, data []float32, shape []int64) {
	outputs, err := h.embedder.Run(r.Context(), data, shape)
	if err != nil {
		log.Error("inference failed", zap.Int64s("shape", shape), zap.Error(err))
		http.Error(w, "Inference failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, model.EmbedResponse{Outputs: outputs})
}

func (h *Handler) Embed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var req model.EmbedRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	x, err := tensor.New(req.Shape, req.Data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.run(w, r, x.Data, x.Shape)
}

func (h *Handler) EmbedImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// 10MB max
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "No image file provided. Use 'image' as the form field name", http.StatusBadRequest)
		return
	}
	defer file.Close()

	img, err := preprocess.Decode(file)
	if err != nil {
		http.Error(w, "Invalid image format. Supported: JPEG, PNG", http.StatusBadRequest)
		return
	}
	log.Debug("received image",
		zap.String("file", header.Filename),
		zap.Int64("size", header.Size),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()))

	x, err := preprocess.Batch([]image.Image{img}, []int64{1, 3, h.height, h.width})
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to preprocess image: %v", err), http.StatusInternalServerError)
		return
	}

	h.run(w, r, x.Data, x.Shape)
}

// CORS wraps next with permissive cross-origin headers.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
