package inference

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-detect/common"
	"github.com/nvr-ai/go-detect/models/model"
	"github.com/nvr-ai/go-detect/models/postprocess"
)

// Recorder receives stage timings.
type Recorder interface {
	RecordOperation(name string, duration time.Duration)
}

// Stage names reported to the Recorder.
const (
	StagePreprocess  = "preprocess"
	StageWait        = "session_wait"
	StageInference   = "inference"
	StagePostprocess = "postprocess"
)

// Info describes a loaded engine.
type Info struct {
	Family    model.Family `json:"family"`
	Runtime   Runtime      `json:"runtime"`
	Device    string       `json:"device"`
	ModelPath string       `json:"model_path"`
	Width     int          `json:"width"`
	Height    int          `json:"height"`
	PoolSize  int          `json:"pool_size"`
	Classes   []string     `json:"classes"`
}

// Engine runs a detection model on pooled sessions. It is safe for
// concurrent use.
type Engine struct {
	model      model.Model
	classes    model.ClassSet
	pool       *SessionPool
	preprocess Preprocessor
	recorder   Recorder
	info       Info
}

// EngineBuilder assembles an Engine.
type EngineBuilder struct {
	engine Engine
	err    error
}

// NewEngineBuilder creates a new engine builder.
//
// Returns:
//   - *EngineBuilder: The engine builder. PrepareInput is the default preprocessor.
func NewEngineBuilder() *EngineBuilder {
	return &EngineBuilder{engine: Engine{preprocess: PrepareInput}}
}

// WithModel sets the family decoder.
func (b *EngineBuilder) WithModel(m model.Model) *EngineBuilder {
	if b.HasError() {
		return b
	}
	if m == nil {
		b.err = errors.New("model is nil")
		return b
	}
	b.engine.model = m
	return b
}

// WithClasses sets the class index to name mapping.
func (b *EngineBuilder) WithClasses(classes model.ClassSet) *EngineBuilder {
	b.engine.classes = classes
	return b
}

// WithPool sets the session pool. The engine takes ownership of it.
func (b *EngineBuilder) WithPool(pool *SessionPool) *EngineBuilder {
	if b.HasError() {
		return b
	}
	if pool == nil {
		b.err = errors.New("session pool is nil")
		return b
	}
	b.engine.pool = pool
	return b
}

// WithPreprocessor replaces PrepareInput.
func (b *EngineBuilder) WithPreprocessor(fn Preprocessor) *EngineBuilder {
	if fn != nil {
		b.engine.preprocess = fn
	}
	return b
}

// WithRecorder sets where stage timings are reported.
func (b *EngineBuilder) WithRecorder(r Recorder) *EngineBuilder {
	b.engine.recorder = r
	return b
}

// WithInfo sets the descriptive fields reported by Info.
func (b *EngineBuilder) WithInfo(info Info) *EngineBuilder {
	b.engine.info = info
	return b
}

// HasError checks if the engine builder has errors.
func (b *EngineBuilder) HasError() bool {
	return b.err != nil
}

// Build builds the engine.
//
// Returns:
//   - *Engine: The engine.
//   - error: The first builder error, or a missing model or pool.
func (b *EngineBuilder) Build() (*Engine, error) {
	if b.HasError() {
		return nil, b.err
	}
	if b.engine.model == nil {
		return nil, errors.New("model not configured")
	}
	if b.engine.pool == nil {
		return nil, errors.New("session pool not configured")
	}

	e := b.engine
	cfg := e.model.Config()
	e.info.Family = cfg.Family
	e.info.Width = cfg.Width
	e.info.Height = cfg.Height
	e.info.PoolSize = e.pool.Size()
	e.info.Classes = e.classes.Names()
	return &e, nil
}

// Detect runs the model on img and returns labelled detections in img
// pixel coordinates.
//
// Arguments:
//   - ctx: Bounds the wait for a free session.
//   - img: A BGR image. It is never modified.
//
// Returns:
//   - []common.Detection: The detections in decoder order. Never nil on success.
//   - error: An InvalidImageError for an empty image, otherwise an
//     InferenceError, including for panics raised by the runtime.
func (e *Engine) Detect(ctx context.Context, img gocv.Mat) (dets []common.Detection, err error) {
	if img.Empty() {
		return nil, common.NewInvalidImageError("empty image", nil)
	}

	defer func() {
		if r := recover(); r != nil {
			dets = nil
			err = common.NewInferenceErrorf("run", "panic: %v", r)
		}
	}()

	cfg := e.model.Config()

	start := time.Now()
	input, tf, err := e.preprocess(img, cfg.Width, cfg.Height, e.model.ResizeMode())
	e.record(StagePreprocess, start)
	if err != nil {
		return nil, common.NewInferenceError(StagePreprocess, err)
	}

	outputs, err := e.run(ctx, input)
	if err != nil {
		return nil, err
	}

	start = time.Now()
	results, err := e.model.PostProcess(outputs, tf)
	e.record(StagePostprocess, start)
	if err != nil {
		if common.IsInference(err) {
			return nil, err
		}
		return nil, common.NewInferenceError(StagePostprocess, err)
	}

	return e.label(results), nil
}

func (e *Engine) run(ctx context.Context, input model.Input) ([]model.Output, error) {
	start := time.Now()
	session, err := e.pool.Acquire(ctx)
	e.record(StageWait, start)
	if err != nil {
		return nil, common.NewInferenceError("acquire session", err)
	}
	defer e.pool.Release(session)

	start = time.Now()
	outputs, err := session.Run(input)
	e.record(StageInference, start)
	if err != nil {
		return nil, common.NewInferenceError(StageInference, err)
	}
	return outputs, nil
}

func (e *Engine) label(results []postprocess.Result) []common.Detection {
	dets := make([]common.Detection, 0, len(results))
	for _, r := range results {
		dets = append(dets, common.Detection{
			Label:      e.classes.Name(r.Class),
			ClassID:    r.Class,
			Confidence: r.Score,
			X1:         r.Box.X1,
			Y1:         r.Box.Y1,
			X2:         r.Box.X2,
			Y2:         r.Box.Y2,
		})
	}
	return dets
}

func (e *Engine) record(stage string, start time.Time) {
	if e.recorder != nil {
		e.recorder.RecordOperation(stage, time.Since(start))
	}
}

// Warmup runs n inferences on a blank image so the first request does not
// pay for lazy runtime initialization.
func (e *Engine) Warmup(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}

	cfg := e.model.Config()
	blank := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), cfg.Height, cfg.Width, gocv.MatTypeCV8UC3)
	defer blank.Close()

	for i := 0; i < n; i++ {
		if _, err := e.Detect(ctx, blank); err != nil {
			return errors.Wrapf(err, "warmup run %d", i+1)
		}
	}
	return nil
}

// Info returns a description of the loaded model.
func (e *Engine) Info() Info {
	info := e.info
	info.Classes = append([]string(nil), e.info.Classes...)
	return info
}

// Classes returns the class mapping used for labels.
func (e *Engine) Classes() model.ClassSet {
	return e.classes
}

// Metrics returns session pool usage.
func (e *Engine) Metrics() PoolMetrics {
	return e.pool.Metrics()
}

// CollectMetrics reports pool usage to the runtime profiler.
func (e *Engine) CollectMetrics() map[string]float64 {
	return e.pool.CollectMetrics()
}

// Close releases every session.
func (e *Engine) Close() error {
	return e.pool.Close()
}
