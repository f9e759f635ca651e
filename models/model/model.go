// Package model - Definitions shared by every detector family.
package model

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/models/postprocess"
)

// Family identifies how a detector's outputs are laid out.
type Family string

const (
	// FamilyFasterRCNN is a two-stage region-proposal detector. Class 0 is background.
	FamilyFasterRCNN Family = "fasterrcnn"
	// FamilyYOLOv8 is the anchor-free single-stage head, output [1, 4+C, A].
	FamilyYOLOv8 Family = "yolov8"
	// FamilyYOLOv5 is the anchor-based single-stage head, output [1, A, 5+C].
	FamilyYOLOv5 Family = "yolov5"
	// FamilyDFINE is the DETR style head, rows of x1,y1,x2,y2,score,class.
	FamilyDFINE Family = "dfine"
)

// Families lists every supported family.
var Families = []Family{FamilyFasterRCNN, FamilyYOLOv8, FamilyYOLOv5, FamilyDFINE}

// ParseFamily returns the family named by s.
func ParseFamily(s string) (Family, error) {
	for _, f := range Families {
		if string(f) == s {
			return f, nil
		}
	}
	return "", errors.Errorf("unknown model family %q", s)
}

// TwoStage reports whether the family reserves class 0 for background.
func (f Family) TwoStage() bool {
	return f == FamilyFasterRCNN
}

// Input is a batch-of-one NCHW float32 tensor.
type Input struct {
	Shape []int64
	Data  []float32
}

// Output is one named network output copied out of the runtime.
//
// Exactly one of Float and Int is populated, matching the tensor's element type.
type Output struct {
	Name  string
	Shape []int64
	Float []float32
	Int   []int64
}

// Len returns the number of elements held by the output.
func (o Output) Len() int {
	if o.Int != nil {
		return len(o.Int)
	}
	return len(o.Float)
}

// At returns element i as a float32 regardless of the element type.
func (o Output) At(i int) float32 {
	if o.Int != nil {
		return float32(o.Int[i])
	}
	return o.Float[i]
}

// Dim returns dimension i of the shape, or 0 when the shape is shorter.
func (o Output) Dim(i int) int64 {
	if i < 0 || i >= len(o.Shape) {
		return 0
	}
	return o.Shape[i]
}

// Config is what every family needs to decode its outputs.
type Config struct {
	Family Family
	// Model input canvas.
	Width, Height int
	// MinScore drops raw results before NMS and class lookup.
	MinScore float32
	NMS      postprocess.NMSConfig
	// NumClasses is the class count the head produces, background included
	// for two-stage families.
	NumClasses int
}

// Model decodes raw network outputs for one detector family.
type Model interface {
	// Family returns the output layout the model decodes.
	Family() Family
	// Config returns the configuration the model was built with.
	Config() Config
	// ResizeMode returns how input images are fitted to the canvas.
	ResizeMode() images.ResizeMode
	// HeadClasses derives the class count from the output tensor shapes. It
	// returns false when the head has a dynamic or class-free layout.
	HeadClasses(shapes [][]int64) (int, bool)
	// PostProcess converts outputs into results in original image pixels.
	PostProcess(outputs []Output, tf images.Transform) ([]postprocess.Result, error)
}
