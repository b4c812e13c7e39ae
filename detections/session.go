package detections

import (
	"fmt"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// modelInfo is the validated, fully resolved tensor geometry of a
// loaded model. Dynamic dimensions have already been substituted.
type modelInfo struct {
	inputName  string
	outputName string
	inputDims  []int64
	outputDims []int64
}

func (m *modelInfo) inputHeight() int { return int(m.inputDims[2]) }
func (m *modelInfo) inputWidth() int  { return int(m.inputDims[3]) }

// validateFaceModel checks that the model looks like an SSD face
// detector: a single NCHW input and a single DetectionOutput-shaped
// output (rank 4, 7 values per proposal).
func validateFaceModel(inputs, outputs []ort.InputOutputInfo) (*modelInfo, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("face detection model should have only one input, has %d", len(inputs))
	}
	if len(outputs) != 1 {
		return nil, fmt.Errorf("face detection model should have only one output, has %d", len(outputs))
	}

	in := inputs[0]
	if len(in.Dimensions) != 4 {
		return nil, fmt.Errorf("face detection model input should be rank 4 (NCHW), was rank %d", len(in.Dimensions))
	}

	out := outputs[0]
	if len(out.Dimensions) != 4 {
		return nil, fmt.Errorf("face detection model output should be rank 4, was rank %d", len(out.Dimensions))
	}
	if last := out.Dimensions[3]; last > 0 && last != ProposalSize {
		return nil, fmt.Errorf("face detection model output should have %d as its last dimension, has %d", ProposalSize, last)
	}

	return &modelInfo{
		inputName:  in.Name,
		outputName: out.Name,
		inputDims: []int64{
			1,
			resolveDim(in.Dimensions[1], 3),
			resolveDim(in.Dimensions[2], DefaultInputHeight),
			resolveDim(in.Dimensions[3], DefaultInputWidth),
		},
		outputDims: []int64{
			1,
			1,
			resolveDim(out.Dimensions[2], DefaultProposalCount),
			ProposalSize,
		},
	}, nil
}

// validateLandmarkModel checks that the model emits 70 values (35
// normalized x,y pairs) per batch element and resolves its batch
// dimension to maxBatch.
func validateLandmarkModel(inputs, outputs []ort.InputOutputInfo, maxBatch int) (*modelInfo, error) {
	if maxBatch < 1 {
		return nil, fmt.Errorf("landmark batch size should be at least 1, was %d", maxBatch)
	}
	if len(inputs) != 1 {
		return nil, fmt.Errorf("landmark model should have only one input, has %d", len(inputs))
	}
	if len(outputs) != 1 {
		return nil, fmt.Errorf("landmark model should have only one output, has %d", len(outputs))
	}

	in := inputs[0]
	if len(in.Dimensions) != 4 {
		return nil, fmt.Errorf("landmark model input should be rank 4 (NCHW), was rank %d", len(in.Dimensions))
	}

	out := outputs[0]
	perFace := int64(1)
	dynamic := false
	for _, d := range out.Dimensions[1:] {
		if d <= 0 {
			dynamic = true
			break
		}
		perFace *= d
	}
	if !dynamic && perFace != LandmarkCount {
		return nil, fmt.Errorf("landmark model output should have out-size %d per face, has %d", LandmarkCount, perFace)
	}

	return &modelInfo{
		inputName:  in.Name,
		outputName: out.Name,
		inputDims: []int64{
			int64(maxBatch),
			resolveDim(in.Dimensions[1], 3),
			resolveDim(in.Dimensions[2], DefaultLandmarkInputSize),
			resolveDim(in.Dimensions[3], DefaultLandmarkInputSize),
		},
		outputDims: []int64{int64(maxBatch), LandmarkCount},
	}, nil
}

func resolveDim(d, fallback int64) int64 {
	if d <= 0 {
		return fallback
	}
	return d
}

// session owns one loaded model and its pre-allocated input and
// output tensors.
type session struct {
	sess   *ort.AdvancedSession
	input  *ort.Tensor[float32]
	output *ort.Tensor[float32]
	info   *modelInfo
}

func newSession(modelPath string, info *modelInfo) (*session, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer options.Destroy()

	if err := options.SetIntraOpNumThreads(runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("set intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("set inter-op threads: %w", err)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(info.inputDims...))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(info.outputDims...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	sess, err := ort.NewAdvancedSession(
		modelPath,
		[]string{info.inputName},
		[]string{info.outputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &session{sess: sess, input: inputTensor, output: outputTensor, info: info}, nil
}

func (s *session) destroy() {
	if s == nil {
		return
	}
	if s.sess != nil {
		s.sess.Destroy()
	}
	if s.input != nil {
		s.input.Destroy()
	}
	if s.output != nil {
		s.output.Destroy()
	}
}
