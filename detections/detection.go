package detections

import (
	"context"
	"image"
	"log/slog"
	"os"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/xerrors"

	"github.com/Tutortoise/leaf-detection-service/lgr"
	"github.com/Tutortoise/leaf-detection-service/models"
)

type Options struct {
	ModelPath     string
	LabelsPath    string
	PoolSize      int
	ConfThreshold float32
	IouThreshold  float32
	MaxDetections int

	// MaxImagePixels bounds width*height of an upload before it is decoded.
	MaxImagePixels int
}

func (o *Options) setDefaults() {
	if o.PoolSize <= 0 {
		o.PoolSize = DefaultPoolSize
	}
	if o.ConfThreshold <= 0 {
		o.ConfThreshold = DefaultConfThreshold
	}
	if o.IouThreshold <= 0 {
		o.IouThreshold = DefaultIouThreshold
	}
	if o.MaxDetections <= 0 {
		o.MaxDetections = DefaultMaxDetections
	}
	if o.MaxImagePixels <= 0 {
		o.MaxImagePixels = DefaultMaxImagePixels
	}
}

// inferenceSession is one model instance with its bound tensors.
type inferenceSession interface {
	Session
	Run() error
	InputData() []float32
	OutputData() []float32
}

// Detector runs a YOLO detection model over image files. It is safe for
// concurrent use; each call borrows a session from the pool.
type Detector struct {
	opts  Options
	info  ModelInfo
	names Names
	pool  *SessionPool[inferenceSession]
}

// NewDetector opens the model and fills the session pool. InitRuntime must
// have been called.
func NewDetector(opts Options) (*Detector, error) {
	opts.setDefaults()

	info, err := InspectModel(opts.ModelPath)
	if err != nil {
		return nil, err
	}

	var names Names
	if opts.LabelsPath != "" {
		names, err = LoadNamesFile(opts.LabelsPath)
	} else {
		names, err = ReadModelNames(opts.ModelPath)
	}
	if err != nil {
		return nil, err
	}

	if info.NumClasses == 0 {
		info.NumClasses = len(names)
	} else if info.NumClasses != len(names) {
		return nil, xerrors.Errorf("model outputs %d classes but the name table has %d", info.NumClasses, len(names))
	}

	threads := sessionThreads(opts.PoolSize)
	pool, err := NewSessionPool(opts.PoolSize, func() (inferenceSession, error) {
		session, err := NewModelSession(opts.ModelPath, info, threads)
		if err != nil {
			return nil, err
		}
		return session, nil
	})
	if err != nil {
		return nil, err
	}

	lgr.Logger.Info("model loaded",
		slog.String("path", opts.ModelPath),
		slog.Int("classes", len(names)),
		slog.Int("input_width", info.InputWidth),
		slog.Int("input_height", info.InputHeight),
		slog.Int("pool_size", opts.PoolSize),
		slog.Int("threads_per_session", threads),
	)

	return &Detector{
		opts:  opts,
		info:  info,
		names: names,
		pool:  pool,
	}, nil
}

func (d *Detector) Names() Names {
	return d.names
}

func (d *Detector) Metrics() PoolMetrics {
	return d.pool.GetMetrics()
}

func (d *Detector) Close() {
	d.pool.Destroy()
}

// Predict runs the model on the image stored at imagePath. The returned
// sequence holds one result per image.
func (d *Detector) Predict(ctx context.Context, imagePath string, timings *models.ProcessingTimings) ([]models.Result, error) {
	if timings == nil {
		timings = &models.ProcessingTimings{}
	}

	decodeStart := time.Now()
	if err := checkImageSize(imagePath, d.opts.MaxImagePixels); err != nil {
		return nil, &ProcessingError{Message: "decode image", Cause: err}
	}
	img, err := imaging.Open(imagePath, imaging.AutoOrientation(true))
	timings.ImageDecode = time.Since(decodeStart)
	if err != nil {
		return nil, &ProcessingError{Message: "decode image", Cause: err}
	}

	prepStart := time.Now()
	input, lb := letterbox(img, d.info.InputWidth, d.info.InputHeight)
	timings.Preprocess = time.Since(prepStart)

	queueStart := time.Now()
	session, err := d.pool.Acquire(ctx)
	timings.Queue = time.Since(queueStart)
	if err != nil {
		return nil, &ProcessingError{Message: "acquire model session", Cause: err}
	}

	fillStart := time.Now()
	fillTensor(input, session.InputData())
	timings.Preprocess += time.Since(fillStart)

	inferStart := time.Now()
	if err := session.Run(); err != nil {
		d.pool.Discard(session)
		return nil, &ProcessingError{Message: "model inference", Cause: err}
	}
	timings.Inference = time.Since(inferStart)

	postStart := time.Now()
	boxes, err := decodeOutput(session.OutputData(), d.info.NumClasses, d.info.Anchors, lb, d.opts.ConfThreshold)
	d.pool.Release(session)
	if err != nil {
		return nil, &ProcessingError{Message: "process predictions", Cause: err}
	}
	boxes = nonMaxSuppression(boxes, d.opts.IouThreshold, d.opts.MaxDetections)
	timings.Postprocess = time.Since(postStart)

	return []models.Result{{
		Boxes:  boxes,
		Width:  lb.SrcWidth,
		Height: lb.SrcHeight,
	}}, nil
}

// checkImageSize reads only the image header and rejects images whose
// decoded size would exceed maxPixels.
func checkImageSize(path string, maxPixels int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return err
	}
	if cfg.Width*cfg.Height > maxPixels {
		return xerrors.Errorf("%dx%d exceeds %d pixels: %w", cfg.Width, cfg.Height, maxPixels, ErrImageTooLarge)
	}
	return nil
}
