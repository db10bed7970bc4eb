package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/onnx-smoke/internal/model"
)

type fakeEmbedder struct {
	shape []int64
	err   error
}

func (f *fakeEmbedder) Run(_ context.Context, data []float32, shape []int64) ([]model.Output, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.shape = shape
	return []model.Output{{Name: "output", Shape: []int64{shape[0], 2}, DataType: "float32", Data: []float32{0.1, 0.2}}}, nil
}

func newServer(e Embedder) http.Handler {
	mux := http.NewServeMux()
	NewHandler(e, 256, 128).Register(mux)
	return CORS(mux)
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newServer(&fakeEmbedder{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "healthy")
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestEmbed(t *testing.T) {
	fake := &fakeEmbedder{}
	body := `{"data": [0.1, 0.2, 0.3, 0.4, 0.5, 0.6], "shape": [1, 3, 2, 1]}`
	rec := httptest.NewRecorder()
	newServer(fake).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/embed", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []int64{1, 3, 2, 1}, fake.shape)

	var resp model.EmbedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Outputs, 1)
	require.Equal(t, "output", resp.Outputs[0].Name)
}

func TestEmbedRejects(t *testing.T) {
	cases := []struct {
		name   string
		method string
		body   string
		code   int
	}{
		{"method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"json", http.MethodPost, "{", http.StatusBadRequest},
		{"shape", http.MethodPost, `{"data": [1, 2, 3], "shape": [1, 2]}`, http.StatusBadRequest},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(c.method, "/embed", strings.NewReader(c.body))
			newServer(&fakeEmbedder{}).ServeHTTP(rec, req)
			require.Equal(t, c.code, rec.Code)
		})
	}
}

func TestEmbedInferenceError(t *testing.T) {
	rec := httptest.NewRecorder()
	body := `{"data": [1, 2], "shape": [1, 2]}`
	newServer(&fakeEmbedder{err: errors.New("boom")}).ServeHTTP(rec,
		httptest.NewRequest(http.MethodPost, "/embed", strings.NewReader(body)))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestEmbedImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 128))
	img.Set(3, 3, color.RGBA{R: 255, A: 255})
	var pngBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, img))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "0002_c1s1_000451_03.png")
	require.NoError(t, err)
	_, err = part.Write(pngBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	fake := &fakeEmbedder{}
	req := httptest.NewRequest(http.MethodPost, "/embed/image", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	newServer(fake).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []int64{1, 3, 256, 128}, fake.shape)
}

func TestEmbedImageMissingField(t *testing.T) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("other", "x"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/embed/image", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	newServer(&fakeEmbedder{}).ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
