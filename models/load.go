package models

import (
	"bufio"
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/common"
	"github.com/nvr-ai/go-detect/inference"
	"github.com/nvr-ai/go-detect/inference/providers"
	"github.com/nvr-ai/go-detect/logger"
	"github.com/nvr-ai/go-detect/models/model"
	"github.com/nvr-ai/go-detect/models/postprocess"
	"github.com/nvr-ai/go-detect/models/yolo"
	"github.com/nvr-ai/go-detect/onnx"
)

// DefaultNumClasses is the class count used when neither the checkpoint,
// the configuration nor the network head names one.
const DefaultNumClasses = 2

// Metadata keys read from the ONNX custom metadata map.
const (
	MetadataNames      = "names"
	MetadataNumClasses = "num_classes"
)

// LoadConfig describes the checkpoint and how to run it.
type LoadConfig struct {
	// Path is the ONNX checkpoint.
	Path    string
	Family  model.Family
	Runtime inference.Runtime
	// Device is cpu, cuda, coreml or openvino.
	Device string
	// LibPath is the ONNX Runtime shared library. Empty selects the platform default.
	LibPath string

	Width, Height int
	// PoolSize is the number of concurrent sessions.
	PoolSize       int
	AcquireTimeout time.Duration

	// NumClasses is the fallback class count, background included for
	// two-stage families. Zero means unknown.
	NumClasses int
	// ClassNames is an inline class list, or a single preset name such as "coco".
	ClassNames []string
	// LabelsPath is a file with one class name per line.
	LabelsPath string

	MinScore float32
	NMSIoU   float32
	// Logits marks YOLO heads exported without the final sigmoid.
	Logits bool

	// Warmup is the number of dummy inferences run after loading.
	Warmup   int
	Recorder inference.Recorder
}

// Load opens a checkpoint and returns a ready engine.
//
// Order of operations:
//  1. The checkpoint must exist and be non-empty.
//  2. With onnxruntime, the graph signature and custom metadata are read.
//     Metadata class names and counts take precedence over configuration.
//  3. The family decoder is created and the head's class count is checked
//     against the resolved count.
//  4. PoolSize sessions are created and the engine is warmed up.
//
// Arguments:
//   - ctx: Bounds the warmup.
//   - cfg: The checkpoint and runtime configuration.
//   - log: Receives lifecycle lines.
//
// Returns:
//   - *inference.Engine: The loaded engine. The caller must Close it.
//   - error: A ModelLoadError for every failure.
func Load(ctx context.Context, cfg LoadConfig, log *logger.Logger) (*inference.Engine, error) {
	if err := checkFile(cfg.Path); err != nil {
		return nil, common.NewModelLoadError(cfg.Path, err)
	}

	configured, err := configuredNames(cfg)
	if err != nil {
		return nil, common.NewModelLoadError(cfg.Path, err)
	}

	var info providers.ModelInfo
	if cfg.Runtime == inference.RuntimeONNX {
		if err := providers.InitEnvironment(cfg.LibPath); err != nil {
			return nil, common.NewModelLoadError(cfg.Path, err)
		}
		info, err = providers.ReadModelInfo(cfg.Path)
		if err != nil {
			return nil, common.NewModelLoadError(cfg.Path, err)
		}
	}

	classes, count, err := resolveClasses(cfg.Family, cfg.NumClasses, configured, info.Metadata)
	if err != nil {
		return nil, common.NewModelLoadError(cfg.Path, err)
	}

	m, err := newDecoder(cfg, count)
	if err != nil {
		return nil, common.NewModelLoadError(cfg.Path, err)
	}

	head, ok := m.HeadClasses(info.OutputShapes())
	if count, err = reconcileClasses(classes, count, head, ok); err != nil {
		return nil, common.NewModelLoadError(cfg.Path, err)
	}
	if m, err = newDecoder(cfg, count); err != nil {
		return nil, common.NewModelLoadError(cfg.Path, err)
	}

	factory, preprocess, err := sessionFactory(cfg, info)
	if err != nil {
		return nil, common.NewModelLoadError(cfg.Path, err)
	}

	pool, err := inference.NewSessionPool(cfg.PoolSize, cfg.AcquireTimeout, factory)
	if err != nil {
		return nil, common.NewModelLoadError(cfg.Path, err)
	}

	engine, err := inference.NewEngineBuilder().
		WithModel(m).
		WithClasses(classes).
		WithPool(pool).
		WithPreprocessor(preprocess).
		WithRecorder(cfg.Recorder).
		WithInfo(inference.Info{
			Runtime:   cfg.Runtime,
			Device:    deviceOrDefault(cfg.Device),
			ModelPath: cfg.Path,
		}).
		Build()
	if err != nil {
		pool.Close()
		return nil, common.NewModelLoadError(cfg.Path, err)
	}

	if err := engine.Warmup(ctx, cfg.Warmup); err != nil {
		engine.Close()
		return nil, common.NewModelLoadError(cfg.Path, err)
	}

	log.Info("✅ Model loaded: %s (family=%s runtime=%s device=%s classes=%d sessions=%d)",
		cfg.Path, cfg.Family, cfg.Runtime, deviceOrDefault(cfg.Device), count, pool.Size())
	return engine, nil
}

// reconcileClasses checks the resolved class count against the network head.
//
// Arguments:
//   - classes: The resolved class names. May be empty.
//   - count: The resolved class count. Zero means unknown.
//   - head: The class count read from the output shapes.
//   - fixed: Whether the head has a fixed class dimension.
//
// Returns:
//   - int: The count to decode with. An unknown count adopts the head, or
//     DefaultNumClasses when the head is dynamic.
//   - error: If the head disagrees with count, or the names do not number count.
func reconcileClasses(classes model.ClassSet, count, head int, fixed bool) (int, error) {
	switch {
	case fixed && count == 0:
		count = head
	case fixed && head != count:
		return 0, errors.Errorf("network head produces %d classes, expected %d", head, count)
	case count == 0:
		count = DefaultNumClasses
	}
	if classes.Len() > 0 && classes.Len() != count {
		return 0, errors.Errorf("%d class names for %d classes", classes.Len(), count)
	}
	return count, nil
}

func newDecoder(cfg LoadConfig, count int) (model.Model, error) {
	nms := postprocess.DefaultNMSConfig()
	if cfg.NMSIoU > 0 {
		nms.IoUThreshold = cfg.NMSIoU
	}

	m, err := NewModel(model.Config{
		Family:     cfg.Family,
		Width:      cfg.Width,
		Height:     cfg.Height,
		MinScore:   cfg.MinScore,
		NMS:        nms,
		NumClasses: count,
	})
	if err != nil {
		return nil, err
	}
	if y, ok := m.(*yolo.YOLO); ok {
		y.Logits = cfg.Logits
	}
	return m, nil
}

func sessionFactory(cfg LoadConfig, info providers.ModelInfo) (inference.SessionFactory, inference.Preprocessor, error) {
	switch cfg.Runtime {
	case inference.RuntimeONNX:
		backend, err := providers.ParseBackend(deviceOrDefault(cfg.Device))
		if err != nil {
			return nil, nil, err
		}
		provider, err := providers.NewProvider(backend, nil)
		if err != nil {
			return nil, nil, err
		}
		args := providers.NewSessionArgs{
			ModelPath:    cfg.Path,
			Inputs:       info.InputNames(),
			Outputs:      info.OutputNames(),
			Optimization: providers.DefaultOptimizationConfig(cfg.PoolSize),
		}
		return func(int) (inference.Session, error) {
			s, err := providers.NewSession(provider, args)
			if err != nil {
				return nil, err
			}
			return s, nil
		}, inference.PrepareInput, nil

	case inference.RuntimeOpenCV:
		netConfig := onnx.NetConfig{ModelPath: cfg.Path, Device: deviceOrDefault(cfg.Device)}
		return func(int) (inference.Session, error) {
			s, err := onnx.NewNetSession(netConfig)
			if err != nil {
				return nil, err
			}
			return s, nil
		}, onnx.PrepareBlob, nil

	default:
		return nil, nil, errors.Errorf("unsupported runtime %q", cfg.Runtime)
	}
}

func deviceOrDefault(device string) string {
	if device == "" {
		return "cpu"
	}
	return device
}

func checkFile(path string) error {
	if path == "" {
		return errors.New("no model path configured")
	}
	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrap(err, "model file not found")
	}
	if info.IsDir() {
		return errors.Errorf("%s is a directory", path)
	}
	if info.Size() == 0 {
		return errors.New("model file is empty")
	}
	return nil
}

// configuredNames returns the class list from configuration: a preset, an
// inline list or a labels file, in that order.
func configuredNames(cfg LoadConfig) ([]string, error) {
	if len(cfg.ClassNames) == 1 {
		if preset, ok := Presets[strings.ToLower(cfg.ClassNames[0])]; ok {
			return append([]string(nil), preset...), nil
		}
	}
	if len(cfg.ClassNames) > 0 {
		return cfg.ClassNames, nil
	}
	if cfg.LabelsPath != "" {
		return ReadLabels(cfg.LabelsPath)
	}
	return nil, nil
}

// ReadLabels reads one class name per line. Blank lines are skipped.
func ReadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open labels")
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if name := strings.TrimSpace(scanner.Text()); name != "" {
			names = append(names, name)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read labels")
	}
	if len(names) == 0 {
		return nil, errors.Errorf("labels file %s is empty", path)
	}
	return names, nil
}

// resolveClasses merges checkpoint metadata with configuration. Metadata
// wins. The returned count is zero when nothing names it.
func resolveClasses(family model.Family, count int, names []string, meta map[string]string) (model.ClassSet, int, error) {
	if raw, ok := meta[MetadataNames]; ok {
		parsed, err := model.ParseNames(raw)
		if err != nil {
			return model.ClassSet{}, 0, errors.Wrap(err, "checkpoint class names")
		}
		names = parsed
		count = 0
	}
	if raw, ok := meta[MetadataNumClasses]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n <= 0 {
			return model.ClassSet{}, 0, errors.Errorf("checkpoint num_classes %q is not a positive integer", raw)
		}
		count = n
	}
	if count < 0 {
		return model.ClassSet{}, 0, errors.Errorf("class count %d is negative", count)
	}

	if len(names) == 0 {
		return model.ClassSet{}, count, nil
	}

	set := model.NewClassSet(names)
	if family.TwoStage() && (count == 0 || len(names) == count-1) {
		set = set.WithBackground()
	}
	if count == 0 {
		count = set.Len()
	}
	if set.Len() != count {
		return model.ClassSet{}, 0, errors.Errorf("%d class names for %d classes", set.Len(), count)
	}
	return set, count, nil
}
