// Package inference - Runs detection models on pooled runtime sessions.
package inference

import "github.com/pkg/errors"

// Runtime is the library that executes the network graph.
type Runtime string

const (
	// RuntimeONNX runs the graph with the onnxruntime library.
	RuntimeONNX Runtime = "onnxruntime"
	// RuntimeOpenCV runs the graph with the OpenCV DNN module.
	RuntimeOpenCV Runtime = "opencv"
)

// Runtimes is a list of all supported runtimes.
var Runtimes = []Runtime{RuntimeONNX, RuntimeOpenCV}

// ParseRuntime returns the runtime named by s.
func ParseRuntime(s string) (Runtime, error) {
	for _, r := range Runtimes {
		if string(r) == s {
			return r, nil
		}
	}
	return "", errors.Errorf("unknown runtime %q", s)
}
