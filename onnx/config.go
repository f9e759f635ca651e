// Package onnx - Runs ONNX detection graphs with the OpenCV DNN module.
package onnx

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// NetConfig configures an OpenCV DNN session.
type NetConfig struct {
	// ModelPath is the ONNX graph to load.
	ModelPath string
	// Device is one of cpu, cuda or openvino.
	Device string
	// Outputs overrides the unconnected output layers read from the graph.
	Outputs []string
}

// Targets maps a device name to an OpenCV DNN backend and target.
//
// Arguments:
//   - device: cpu, cuda or openvino. Empty means cpu.
//
// Returns:
//   - gocv.NetBackendType: The compute backend.
//   - gocv.NetTargetType: The target device.
//   - error: If OpenCV DNN has no backend for the device.
func Targets(device string) (gocv.NetBackendType, gocv.NetTargetType, error) {
	switch device {
	case "", "cpu":
		return gocv.NetBackendOpenCV, gocv.NetTargetCPU, nil
	case "cuda":
		return gocv.NetBackendCUDA, gocv.NetTargetCUDA, nil
	case "openvino":
		return gocv.NetBackendOpenVINO, gocv.NetTargetCPU, nil
	default:
		return gocv.NetBackendDefault, gocv.NetTargetCPU, errors.Errorf("opencv runtime does not support device %q", device)
	}
}
