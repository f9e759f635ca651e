// Command detect-batch runs detection over a directory of images and writes
// annotated copies plus a JSON summary.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/config"
	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/inference"
	"github.com/nvr-ai/go-detect/logger"
	"github.com/nvr-ai/go-detect/models"
	"github.com/nvr-ai/go-detect/models/model"
	"github.com/nvr-ai/go-detect/pipeline"
	"github.com/nvr-ai/go-detect/profiler"
	"github.com/nvr-ai/go-detect/server"
	"github.com/nvr-ai/go-detect/util"
)

// Entry is the summary line of one input file.
type Entry struct {
	File   string                    `json:"file"`
	Output string                    `json:"output,omitempty"`
	Result *server.DetectionResponse `json:"result,omitempty"`
	Error  string                    `json:"error,omitempty"`
}

// Summary is written to summary.json in the output directory.
type Summary struct {
	Model     inference.Info `json:"model"`
	Threshold float32        `json:"threshold"`
	Files     int            `json:"files"`
	Failed    int            `json:"failed"`
	Entries   []Entry        `json:"entries"`
	Profile   profiler.Stats `json:"profile"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	var (
		inputDir  string
		outputDir string
		conf      float64
		family    string
		workers   int
	)
	flag.StringVar(&inputDir, "input", "", "Directory of images to process")
	flag.StringVar(&outputDir, "output", "batch_outputs", "Directory for annotated images and summary.json")
	flag.StringVar(&cfg.ModelPath, "model", cfg.ModelPath, "Path to the ONNX checkpoint")
	flag.StringVar(&family, "family", string(cfg.ModelFamily), "Model family ("+strings.Join(familyNames(), ", ")+")")
	flag.StringVar(&cfg.Device, "device", cfg.Device, "Execution device")
	flag.Float64Var(&conf, "conf", float64(cfg.DefaultConf), "Confidence threshold")
	flag.IntVar(&workers, "workers", cfg.PoolSize, "Images processed concurrently")
	flag.Parse()

	if inputDir == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -input <dir> [-output <dir>] [-model <path>]\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg.ModelFamily, err = model.ParseFamily(family)
	if err == nil {
		if os.Getenv("INPUT_WIDTH") == "" && os.Getenv("INPUT_HEIGHT") == "" {
			cfg.InputWidth, cfg.InputHeight = config.DefaultInputSize(cfg.ModelFamily)
		}
		cfg.DefaultConf = float32(conf)
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	if workers < 1 {
		workers = 1
	}
	if cfg.PoolSize < workers {
		cfg.PoolSize = workers
	}

	log, err := logger.New(cfg.LogDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	summary, err := run(cfg, log, inputDir, outputDir, workers)
	if err != nil {
		log.Error("❌ %v", err)
		log.Close()
		os.Exit(1)
	}
	log.Info("✅ Processed %d files (%d failed), summary in %s", summary.Files, summary.Failed, outputDir)
	if summary.Failed > 0 {
		log.Close()
		os.Exit(1)
	}
}

func familyNames() []string {
	names := make([]string, len(model.Families))
	for i, f := range model.Families {
		names[i] = string(f)
	}
	return names
}

func run(cfg *config.Config, log *logger.Logger, inputDir, outputDir string, workers int) (*Summary, error) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	files, err := util.LoadDirectoryImageFiles(inputDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no images in %s", inputDir)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create output directory")
	}

	prof := profiler.NewRuntimeProfiler(profiler.ProfilingOptions{})

	loadCfg := cfg.ModelConfig()
	loadCfg.Recorder = prof
	engine, err := models.Load(ctx, loadCfg, log)
	if err != nil {
		return nil, err
	}
	defer engine.Close()

	p := pipeline.New(pipeline.Config{
		Detector:    engine,
		Recorder:    prof,
		Decode:      images.DecodeOptions{MaxPixels: cfg.MaxImagePixels},
		JPEGQuality: cfg.JPEGQuality,
	})

	summary := &Summary{
		Model:     engine.Info(),
		Threshold: cfg.DefaultConf,
		Files:     len(files),
		Entries:   make([]Entry, len(files)),
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				summary.Entries[i] = process(ctx, p, files[i], outputDir, cfg.DefaultConf)
				if e := summary.Entries[i]; e.Error != "" {
					log.Warning("%s: %s", e.File, e.Error)
				} else {
					log.Info("%s: %d detections", e.File, e.Result.Count)
				}
			}
		}()
	}

feed:
	for i := range files {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "interrupted")
	}

	for _, e := range summary.Entries {
		if e.Error != "" {
			summary.Failed++
		}
	}
	summary.Profile = prof.Snapshot()

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encode summary")
	}
	if err := os.WriteFile(filepath.Join(outputDir, "summary.json"), data, 0o644); err != nil {
		return nil, errors.Wrap(err, "write summary")
	}
	return summary, nil
}

// process detects one file and writes its annotated copy next to the summary.
func process(ctx context.Context, p *pipeline.Pipeline, file util.ImageFile, outputDir string, threshold float32) Entry {
	entry := Entry{File: file.Name}

	res, err := p.Process(ctx, file.Data, pipeline.Options{Threshold: threshold, ReturnImage: true})
	if err != nil {
		entry.Error = err.Error()
		return entry
	}

	name := outputName(file.Name)
	if err := os.WriteFile(filepath.Join(outputDir, name), res.Annotated, 0o644); err != nil {
		entry.Error = errors.Wrap(err, "write annotated image").Error()
		return entry
	}

	resp := server.NewDetectionResponse(res, threshold)
	entry.Output = name
	entry.Result = &resp
	return entry
}

// outputName keeps the source extension in the stem so a.jpg and a.png do
// not write the same file: a.png becomes a_png_pred.jpg.
func outputName(name string) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if ext != "" {
		stem += "_" + strings.TrimPrefix(ext, ".")
	}
	return stem + "_pred.jpg"
}
