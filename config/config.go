package config

import (
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/xerrors"

	"github.com/Tutortoise/leaf-detection-service/lgr"
)

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string

	ModelPath      string
	LabelsPath     string
	OnnxLibPath    string
	PoolSize       int
	ConfThreshold  float32
	IouThreshold   float32
	MaxDetections  int
	MaxImagePixels int

	UploadDir      string
	KeepUploads    bool
	MaxUploadBytes int64

	Debug        bool
	LogJSON      bool
	DetectionLog string
}

// Load reads the process environment. In dev (RUN_TIME_ENV empty or "dev")
// a .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	env := os.Getenv("RUN_TIME_ENV")
	if env == "" || env == "dev" {
		if err := godotenv.Load(); err != nil {
			if !os.IsNotExist(err) {
				return nil, xerrors.Errorf("load .env file: %w", err)
			}
			lgr.Logger.Debug("no .env file found", slog.String("env", env))
		}
	}

	p := &parser{}
	cfg := &Config{
		Addr:         getEnv("ADDR", ":8080"),
		ReadTimeout:  p.duration("READ_TIMEOUT", 60*time.Second),
		WriteTimeout: p.duration("WRITE_TIMEOUT", 60*time.Second),
		CORSOrigins:  splitList(getEnv("CORS_ORIGINS", "*")),

		ModelPath:      getEnv("MODEL_PATH", "best.onnx"),
		LabelsPath:     os.Getenv("LABELS_PATH"),
		OnnxLibPath:    getEnv("ONNXRUNTIME_LIB", defaultLibPath()),
		PoolSize:       p.int("POOL_SIZE", 4),
		ConfThreshold:  p.float32("CONF_THRESHOLD", 0.25),
		IouThreshold:   p.float32("IOU_THRESHOLD", 0.7),
		MaxDetections:  p.int("MAX_DETECTIONS", 300),
		MaxImagePixels: p.int("MAX_IMAGE_PIXELS", 50_000_000),

		UploadDir:      getEnv("UPLOAD_DIR", "static/uploads"),
		KeepUploads:    p.bool("KEEP_UPLOADS", false),
		MaxUploadBytes: int64(p.int("MAX_UPLOAD_MB", 16)) << 20,

		Debug:        p.bool("DEBUG", false),
		LogJSON:      getEnv("LOG_FORMAT", "text") == "json",
		DetectionLog: getEnvAllowEmpty("DETECTION_LOG", "detections.log"),
	}
	if p.err != nil {
		return nil, p.err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.PoolSize <= 0:
		return xerrors.Errorf("POOL_SIZE must be positive, got %d", c.PoolSize)
	case c.MaxUploadBytes <= 0:
		return xerrors.New("MAX_UPLOAD_MB must be positive")
	case c.ConfThreshold <= 0 || c.ConfThreshold > 1:
		return xerrors.Errorf("CONF_THRESHOLD must be within (0,1], got %v", c.ConfThreshold)
	case c.IouThreshold <= 0 || c.IouThreshold > 1:
		return xerrors.Errorf("IOU_THRESHOLD must be within (0,1], got %v", c.IouThreshold)
	case c.MaxDetections <= 0:
		return xerrors.Errorf("MAX_DETECTIONS must be positive, got %d", c.MaxDetections)
	case c.MaxImagePixels <= 0:
		return xerrors.Errorf("MAX_IMAGE_PIXELS must be positive, got %d", c.MaxImagePixels)
	}
	return nil
}

func defaultLibPath() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvAllowEmpty distinguishes an unset variable from one set to "".
func getEnvAllowEmpty(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parser keeps the first conversion error so Load can report it once.
type parser struct {
	err error
}

func (p *parser) fail(key, val string, err error) {
	if p.err == nil {
		p.err = xerrors.Errorf("invalid %s=%q: %w", key, val, err)
	}
}

func (p *parser) int(key string, def int) int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		p.fail(key, val, err)
		return def
	}
	return n
}

func (p *parser) float32(key string, def float32) float32 {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	f, err := strconv.ParseFloat(val, 32)
	if err != nil {
		p.fail(key, val, err)
		return def
	}
	return float32(f)
}

func (p *parser) bool(key string, def bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		p.fail(key, val, err)
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		p.fail(key, val, err)
		return def
	}
	return d
}
