// Package inference resolves model references to prediction backends.
package inference

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/contractml/internal/model"
)

// Backend kinds.
const (
	KindONNX       = "onnx"
	KindTensorFlow = "tensorflow"
	KindPyTorch    = "pytorch"
)

// Backend runs predictions for one loaded model.
type Backend interface {
	// Predict runs the model over one input row in schema field order.
	Predict(ctx context.Context, inputs []float32) (*model.Prediction, error)
	// Kind returns the backend kind, e.g. "onnx".
	Kind() string
}

// Factory loads the model at path as a backend of the given kind.
type Factory func(ctx context.Context, path, kind string) (Backend, error)

// DetectKind infers the backend kind from the file extension or, for
// directories, from marker files. Anything else is treated as onnx.
func DetectKind(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".onnx":
		return KindONNX
	case ".h5", ".pb":
		return KindTensorFlow
	case ".pt", ".pth":
		return KindPyTorch
	}

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		switch {
		case exists(filepath.Join(path, "saved_model.pb")), exists(filepath.Join(path, "variables")):
			return KindTensorFlow
		case exists(filepath.Join(path, "model.pt")), exists(filepath.Join(path, "model.pth")):
			return KindPyTorch
		}
	}

	zap.L().Warn("inference: unknown model type, defaulting to onnx", zap.String("path", path))
	return KindONNX
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
