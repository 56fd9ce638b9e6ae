package detections

import (
	"log/slog"

	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/xerrors"

	"github.com/Tutortoise/leaf-detection-service/lgr"
)

// InitRuntime loads the ONNX Runtime shared library. It must run once
// before any model is opened.
func InitRuntime(libPath string) error {
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return xerrors.Errorf("initialize onnx runtime from %s: %w", libPath, err)
	}

	lgr.Logger.Info("onnx runtime initialized",
		slog.String("library", libPath),
		slog.Any("cpu_features", CPUFeatures()),
	)
	return nil
}

func DestroyRuntime() {
	if err := ort.DestroyEnvironment(); err != nil {
		lgr.Logger.Warn("failed to destroy onnx runtime", lgr.Err(err))
	}
}
