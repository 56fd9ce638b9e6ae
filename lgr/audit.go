package lgr

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/natefinch/lumberjack"
	"golang.org/x/xerrors"

	"github.com/Tutortoise/leaf-detection-service/models"
)

// DetectionLog appends one JSON line per processed upload. A nil
// *DetectionLog discards everything.
type DetectionLog struct {
	mu sync.Mutex
	w  io.WriteCloser
}

type detectionEntry struct {
	Time       string             `json:"time"`
	RequestID  string             `json:"request_id"`
	Filename   string             `json:"filename"`
	Detections []models.Detection `json:"detections"`
}

// NewDetectionLog opens a rotating log at path. An empty path disables it.
func NewDetectionLog(path string) *DetectionLog {
	if path == "" {
		return nil
	}

	return &DetectionLog{
		w: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // MB
			MaxBackups: 5,
			MaxAge:     7,    // days
			Compress:   true, // compress old logs
		},
	}
}

func (l *DetectionLog) Record(requestID, filename string, detections []models.Detection) error {
	if l == nil {
		return nil
	}

	data, err := json.Marshal(detectionEntry{
		Time:       time.Now().Format(time.RFC3339),
		RequestID:  requestID,
		Filename:   filename,
		Detections: detections,
	})
	if err != nil {
		return xerrors.Errorf("marshal detection entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.w.Write(append(data, '\n')); err != nil {
		return xerrors.Errorf("write detection entry: %w", err)
	}
	return nil
}

func (l *DetectionLog) Close() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Close()
}
