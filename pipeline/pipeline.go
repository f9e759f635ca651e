// Package pipeline - Runs one upload through decode, detect, filter,
// annotate, encode and save.
package pipeline

import (
	"context"
	"time"

	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-detect/common"
	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/models/postprocess"
	"github.com/nvr-ai/go-detect/storage"
)

// Detector finds objects in a BGR image without modifying it.
type Detector interface {
	Detect(ctx context.Context, img gocv.Mat) ([]common.Detection, error)
}

// Saver persists encoded images.
type Saver interface {
	Save(ctx context.Context, data []byte) (storage.SavedImage, error)
}

// Recorder receives stage timings.
type Recorder interface {
	RecordOperation(name string, duration time.Duration)
}

// Stage names reported to the Recorder.
const (
	StageDecode   = "decode"
	StageDetect   = "detect"
	StageFilter   = "filter"
	StageAnnotate = "annotate"
	StageEncode   = "encode"
	StageSave     = "save"
	StageTotal    = "total"
)

// Config wires a Pipeline.
type Config struct {
	Detector Detector
	// Saver may be nil, in which case nothing is persisted.
	Saver    Saver
	Recorder Recorder
	Decode   images.DecodeOptions
	Style    images.AnnotateStyle
	// JPEGQuality for annotated images. Zero means images.DefaultJPEGQuality.
	JPEGQuality int
}

// Options are the per-request switches.
type Options struct {
	// Threshold drops detections with a lower confidence.
	Threshold float32
	// ReturnImage keeps the annotated JPEG in the result.
	ReturnImage bool
	// SaveImage writes the annotated JPEG through the Saver.
	SaveImage bool
}

// Timings are per-stage durations in milliseconds.
type Timings struct {
	Decode   float64 `json:"decode_ms"`
	Detect   float64 `json:"detect_ms"`
	Filter   float64 `json:"filter_ms"`
	Annotate float64 `json:"annotate_ms,omitempty"`
	Encode   float64 `json:"encode_ms,omitempty"`
	Save     float64 `json:"save_ms,omitempty"`
	Total    float64 `json:"total_ms"`
}

// Result is the outcome of processing one upload.
type Result struct {
	Image  images.Image
	Digest string
	// Detections above the threshold, in detector order. Never nil.
	Detections []common.Detection
	// Annotated is the JPEG, set only when ReturnImage was requested.
	Annotated []byte
	// Saved is set only when the image was persisted.
	Saved    *storage.SavedImage
	Timings  Timings
	Duration time.Duration
}

// Pipeline is safe for concurrent use when its Detector and Saver are.
type Pipeline struct {
	config Config
}

// New returns a pipeline. Style defaults to images.DefaultAnnotateStyle.
func New(config Config) *Pipeline {
	if config.Style == (images.AnnotateStyle{}) {
		config.Style = images.DefaultAnnotateStyle()
	}
	if config.JPEGQuality == 0 {
		config.JPEGQuality = images.DefaultJPEGQuality
	}
	return &Pipeline{config: config}
}

// CanSave reports whether a Saver is configured.
func (p *Pipeline) CanSave() bool {
	return p.config.Saver != nil
}

// Process runs data through every stage.
//
// Arguments:
//   - ctx: Bounds inference and saving.
//   - data: The uploaded image bytes.
//   - opts: Threshold and output switches.
//
// Returns:
//   - *Result: Detections, and the annotated image when requested.
//   - error: InvalidImageError, InferenceError or EncodingError.
func (p *Pipeline) Process(ctx context.Context, data []byte, opts Options) (*Result, error) {
	start := time.Now()
	res := &Result{Digest: images.Digest(data)}

	stage := time.Now()
	img, info, err := images.Decode(data, p.config.Decode)
	res.Timings.Decode = p.record(StageDecode, stage)
	res.Image = info
	if err != nil {
		return nil, err
	}
	defer img.Close()

	stage = time.Now()
	dets, err := p.config.Detector.Detect(ctx, img)
	res.Timings.Detect = p.record(StageDetect, stage)
	if err != nil {
		if common.IsInvalidImage(err) || common.IsInference(err) {
			return nil, err
		}
		return nil, common.NewInferenceError(StageDetect, err)
	}

	stage = time.Now()
	res.Detections = postprocess.FilterByConfidence(dets, opts.Threshold)
	res.Timings.Filter = p.record(StageFilter, stage)

	save := opts.SaveImage && p.config.Saver != nil
	if opts.ReturnImage || save {
		encoded, err := p.render(img, res)
		if err != nil {
			return nil, err
		}

		if save {
			stage = time.Now()
			saved, err := p.config.Saver.Save(ctx, encoded)
			res.Timings.Save = p.record(StageSave, stage)
			if err != nil {
				if common.IsEncoding(err) {
					return nil, err
				}
				return nil, common.NewEncodingError(StageSave, err)
			}
			res.Saved = &saved
		}
		if opts.ReturnImage {
			res.Annotated = encoded
		}
	}

	res.Duration = time.Since(start)
	res.Timings.Total = p.record(StageTotal, start)
	return res, nil
}

func (p *Pipeline) render(img gocv.Mat, res *Result) ([]byte, error) {
	stage := time.Now()
	style := p.config.Style.Scaled(img.Cols(), img.Rows())
	annotated := images.Annotate(img, res.Detections, style)
	defer annotated.Close()
	res.Timings.Annotate = p.record(StageAnnotate, stage)

	stage = time.Now()
	encoded, err := images.EncodeJPEG(annotated, p.config.JPEGQuality)
	res.Timings.Encode = p.record(StageEncode, stage)
	return encoded, err
}

// record reports the stage and returns its duration in milliseconds.
func (p *Pipeline) record(name string, start time.Time) float64 {
	d := time.Since(start)
	if p.config.Recorder != nil {
		p.config.Recorder.RecordOperation(name, d)
	}
	return float64(d) / float64(time.Millisecond)
}
