// Package config - Service configuration read from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/inference"
	"github.com/nvr-ai/go-detect/inference/providers"
	"github.com/nvr-ai/go-detect/models"
	"github.com/nvr-ai/go-detect/models/model"
)

// Config holds every setting of the detection service.
type Config struct {
	Port int

	ModelPath   string
	ModelFamily model.Family
	Runtime     inference.Runtime
	Device      string
	ORTLibPath  string
	InputWidth  int
	InputHeight int
	// NumClasses is the fallback class count. Checkpoint metadata wins.
	NumClasses int
	ClassNames []string
	LabelsPath string
	Logits     bool

	DefaultConf float32
	MinScore    float32
	NMSIoU      float32

	PoolSize       int
	AcquireTimeout time.Duration
	Warmup         int

	OutputDir      string
	SaveImages     bool
	JPEGQuality    int
	MaxUploadMB    int
	MaxImagePixels int
	HistoryDB      string
	LogDir         string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Load reads an optional .env file and then the environment.
//
// Returns:
//   - *Config: The configuration with defaults applied.
//   - error: If a value is malformed or out of range.
func Load() (*Config, error) {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	family := model.Family(getEnv("MODEL_FAMILY", string(model.FamilyFasterRCNN)))
	width, height := DefaultInputSize(family)

	cfg := &Config{
		Port:            getEnvAsInt("PORT", 8000),
		ModelPath:       getEnv("MODEL_PATH", "models/model.onnx"),
		ModelFamily:     family,
		Runtime:         inference.Runtime(getEnv("MODEL_RUNTIME", string(inference.RuntimeONNX))),
		Device:          getEnv("DEVICE", "cpu"),
		ORTLibPath:      getEnv("ORT_LIB_PATH", ""),
		InputWidth:      getEnvAsInt("INPUT_WIDTH", width),
		InputHeight:     getEnvAsInt("INPUT_HEIGHT", height),
		NumClasses:      getEnvAsInt("NUM_CLASSES", 0),
		ClassNames:      getEnvAsList("CLASS_NAMES"),
		LabelsPath:      getEnv("LABELS_PATH", ""),
		Logits:          getEnvAsBool("YOLO_LOGITS", false),
		DefaultConf:     getEnvAsFloat("DEFAULT_CONF", 0.25),
		MinScore:        getEnvAsFloat("MIN_SCORE", 0.05),
		NMSIoU:          getEnvAsFloat("NMS_IOU", 0.45),
		PoolSize:        getEnvAsInt("POOL_SIZE", 1),
		AcquireTimeout:  getEnvAsDuration("ACQUIRE_TIMEOUT", inference.DefaultAcquireTimeout),
		Warmup:          getEnvAsInt("WARMUP", 1),
		OutputDir:       getEnv("OUTPUT_DIR", "outputs"),
		SaveImages:      getEnvAsBool("SAVE_IMAGES", true),
		JPEGQuality:     getEnvAsInt("JPEG_QUALITY", 90),
		MaxUploadMB:     getEnvAsInt("MAX_UPLOAD_MB", 20),
		MaxImagePixels:  getEnvAsInt("MAX_IMAGE_PIXELS", 50_000_000),
		HistoryDB:       getEnv("HISTORY_DB", ""),
		LogDir:          getEnv("LOG_DIR", ""),
		ReadTimeout:     getEnvAsDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:    getEnvAsDuration("WRITE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultInputSize returns the input canvas each family is usually
// exported with.
func DefaultInputSize(family model.Family) (int, int) {
	if family == model.FamilyFasterRCNN {
		return 800, 800
	}
	return 640, 640
}

// Validate checks ranges and names.
func (c *Config) Validate() error {
	if _, err := model.ParseFamily(string(c.ModelFamily)); err != nil {
		return errors.Wrap(err, "MODEL_FAMILY")
	}
	if _, err := inference.ParseRuntime(string(c.Runtime)); err != nil {
		return errors.Wrap(err, "MODEL_RUNTIME")
	}
	if _, err := providers.ParseBackend(c.Device); err != nil {
		return errors.Wrap(err, "DEVICE")
	}

	checks := []struct {
		ok  bool
		msg string
	}{
		{c.Port > 0 && c.Port < 65536, "PORT must be in 1..65535"},
		{c.ModelPath != "", "MODEL_PATH is required"},
		{c.InputWidth > 0 && c.InputHeight > 0, "INPUT_WIDTH and INPUT_HEIGHT must be positive"},
		{c.NumClasses >= 0, "NUM_CLASSES must not be negative"},
		{inUnit(c.DefaultConf), "DEFAULT_CONF must be in [0, 1]"},
		{inUnit(c.MinScore), "MIN_SCORE must be in [0, 1]"},
		{c.NMSIoU > 0 && c.NMSIoU <= 1, "NMS_IOU must be in (0, 1]"},
		{c.PoolSize > 0, "POOL_SIZE must be positive"},
		{c.Warmup >= 0, "WARMUP must not be negative"},
		{c.JPEGQuality >= 1 && c.JPEGQuality <= 100, "JPEG_QUALITY must be in 1..100"},
		{c.MaxUploadMB > 0, "MAX_UPLOAD_MB must be positive"},
		{c.MaxImagePixels >= 0, "MAX_IMAGE_PIXELS must not be negative"},
		{c.OutputDir != "" || !c.SaveImages, "OUTPUT_DIR is required when SAVE_IMAGES is set"},
	}
	for _, check := range checks {
		if !check.ok {
			return errors.New(check.msg)
		}
	}
	return nil
}

// MaxUploadBytes returns the request body limit.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// ModelConfig returns the checkpoint loading configuration.
func (c *Config) ModelConfig() models.LoadConfig {
	return models.LoadConfig{
		Path:           c.ModelPath,
		Family:         c.ModelFamily,
		Runtime:        c.Runtime,
		Device:         c.Device,
		LibPath:        c.ORTLibPath,
		Width:          c.InputWidth,
		Height:         c.InputHeight,
		PoolSize:       c.PoolSize,
		AcquireTimeout: c.AcquireTimeout,
		NumClasses:     c.NumClasses,
		ClassNames:     c.ClassNames,
		LabelsPath:     c.LabelsPath,
		MinScore:       c.MinScore,
		NMSIoU:         c.NMSIoU,
		Logits:         c.Logits,
		Warmup:         c.Warmup,
	}
}

func inUnit(v float32) bool {
	return v >= 0 && v <= 1
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 32); err == nil {
			return float32(f)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("30s") or a plain number of seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
