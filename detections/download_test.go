package detections

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureModelExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, os.WriteFile(path, []byte("weights"), 0o644))

	downloaded, err := EnsureModel(context.Background(), path, "http://invalid.invalid/model.onnx", nil)
	require.NoError(t, err)
	assert.False(t, downloaded)
}

func TestEnsureModelMissingWithoutURL(t *testing.T) {
	_, err := EnsureModel(context.Background(), filepath.Join(t.TempDir(), "model.onnx"), "", nil)
	assert.Error(t, err)
}

func TestEnsureModelDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/yolov5s.onnx" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("weights"))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "models", "yolov5s.onnx")

	downloaded, err := EnsureModel(context.Background(), path, srv.URL+"/yolov5s.onnx", srv.Client())
	require.NoError(t, err)
	assert.True(t, downloaded)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "weights", string(data))

	_, err = EnsureModel(context.Background(), filepath.Join(t.TempDir(), "x.onnx"), srv.URL+"/missing", srv.Client())
	assert.Error(t, err)
}
