package detections

import (
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/xerrors"
)

// ModelInfo describes the tensors of a YOLO detection export.
type ModelInfo struct {
	InputName   string
	OutputName  string
	InputWidth  int
	InputHeight int
	// NumClasses is 0 when the output channel dimension is dynamic.
	NumClasses int
	Anchors    int
}

// InspectModel reads input and output tensor shapes from the model file.
// Dynamic dims fall back to DefaultInputSize and the anchor count a
// stride 8/16/32 head produces for that size.
func InspectModel(modelPath string) (ModelInfo, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return ModelInfo{}, xerrors.Errorf("read model io info: %w", err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return ModelInfo{}, xerrors.Errorf("expected 1 input and 1 output, got %d and %d", len(inputs), len(outputs))
	}
	return modelInfoFromShapes(inputs[0].Name, inputs[0].Dimensions, outputs[0].Name, outputs[0].Dimensions)
}

func modelInfoFromShapes(inputName string, inputDims []int64, outputName string, outputDims []int64) (ModelInfo, error) {
	if len(inputDims) != 4 {
		return ModelInfo{}, xerrors.Errorf("expected NCHW input, got shape %v", inputDims)
	}
	if len(outputDims) != 3 {
		return ModelInfo{}, xerrors.Errorf("expected [1, 4+classes, anchors] output, got shape %v", outputDims)
	}

	info := ModelInfo{
		InputName:   inputName,
		OutputName:  outputName,
		InputHeight: dimOr(inputDims[2], DefaultInputSize),
		InputWidth:  dimOr(inputDims[3], DefaultInputSize),
	}

	if c := outputDims[1]; c > 0 {
		if c <= boxChannels {
			return ModelInfo{}, xerrors.Errorf("output has %d channels, need more than %d", c, boxChannels)
		}
		info.NumClasses = int(c) - boxChannels
	}

	info.Anchors = dimOr(outputDims[2], anchorsFor(info.InputWidth, info.InputHeight))
	return info, nil
}

func dimOr(d int64, def int) int {
	if d <= 0 {
		return def
	}
	return int(d)
}

func anchorsFor(width, height int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		n += (width / stride) * (height / stride)
	}
	return n
}

type ModelSession struct {
	Session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Output  *ort.Tensor[float32]
}

// NewModelSession creates a session with its own input and output tensors.
// threads bounds the intra-op parallelism of this session.
func NewModelSession(modelPath string, info ModelInfo, threads int) (*ModelSession, error) {
	if info.NumClasses <= 0 {
		return nil, xerrors.New("model class count is unknown")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, xerrors.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	if err := options.SetIntraOpNumThreads(max(1, threads)); err != nil {
		return nil, xerrors.Errorf("error setting intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(1); err != nil {
		return nil, xerrors.Errorf("error setting inter-op threads: %w", err)
	}

	inputShape := ort.NewShape(1, 3, int64(info.InputHeight), int64(info.InputWidth))
	outputShape := ort.NewShape(1, int64(boxChannels+info.NumClasses), int64(info.Anchors))

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, xerrors.Errorf("error creating input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, xerrors.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{info.InputName},
		[]string{info.OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, xerrors.Errorf("error creating session: %w", err)
	}

	return &ModelSession{
		Session: session,
		Input:   inputTensor,
		Output:  outputTensor,
	}, nil
}

func (m *ModelSession) Run() error {
	return m.Session.Run()
}

func (m *ModelSession) InputData() []float32 {
	return m.Input.GetData()
}

func (m *ModelSession) OutputData() []float32 {
	return m.Output.GetData()
}

func (m *ModelSession) Destroy() {
	if m.Session != nil {
		m.Session.Destroy()
	}
	if m.Input != nil {
		m.Input.Destroy()
	}
	if m.Output != nil {
		m.Output.Destroy()
	}
}

// sessionThreads splits the CPUs between pooled sessions.
func sessionThreads(poolSize int) int {
	return max(1, runtime.NumCPU()/max(1, poolSize))
}
