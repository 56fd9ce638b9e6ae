package main

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Tutortoise/leaf-detection-service/detections"
	"github.com/Tutortoise/leaf-detection-service/lgr"
	"github.com/Tutortoise/leaf-detection-service/models"
	"github.com/Tutortoise/leaf-detection-service/storage"
)

// Predictor is the loaded detection model.
type Predictor interface {
	Predict(ctx context.Context, imagePath string, timings *models.ProcessingTimings) ([]models.Result, error)
	Names() detections.Names
	Metrics() detections.PoolMetrics
}

type AppState struct {
	Detector       Predictor
	Store          *storage.Store
	Audit          *lgr.DetectionLog
	Tracer         trace.Tracer
	Templates      *template.Template
	MaxUploadBytes int64
}

func newRouter(state *AppState, corsOrigins []string) http.Handler {
	r := mux.NewRouter()
	r.Use(logRequests, recoverJSON)

	r.HandleFunc("/", state.handleIndex).Methods("GET")
	r.HandleFunc("/predict", handlePredict(state)).Methods("POST")
	if state.Store.Keeps() {
		r.HandleFunc("/static/uploads/{name}", state.handleUpload).Methods("GET")
	}
	state.addMonitoringRoutes(r)

	return handlers.CORS(
		handlers.AllowedOrigins(corsOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(r)
}

func handlePredict(state *AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTotal := time.Now()
		requestID := uuid.NewString()
		timings := &models.ProcessingTimings{RequestID: requestID}

		ctx, span := state.Tracer.Start(r.Context(), "predict",
			trace.WithAttributes(attribute.String("request.id", requestID)))
		defer span.End()

		if r.ContentLength > state.MaxUploadBytes {
			sendErrorResponse(w, MsgFileTooLarge, http.StatusRequestEntityTooLarge)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, state.MaxUploadBytes)

		part, status, msg := nextFilePart(r)
		if msg != "" {
			span.SetAttributes(attribute.String("rejected", msg))
			sendErrorResponse(w, msg, status)
			return
		}
		defer part.Close()

		upload, err := saveUpload(ctx, state, part.FileName(), part, timings)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				span.SetAttributes(attribute.String("rejected", MsgFileTooLarge))
				sendErrorResponse(w, MsgFileTooLarge, http.StatusRequestEntityTooLarge)
				return
			}
			failSpan(span, err)
			lgr.Logger.Error("failed to save upload",
				slog.String("request_id", requestID), lgr.Err(err))
			sendErrorResponse(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer func() {
			if err := state.Store.Discard(upload); err != nil {
				lgr.Logger.Warn("failed to remove upload",
					slog.String("request_id", requestID), lgr.Err(err))
			}
		}()
		span.SetAttributes(attribute.String("upload.id", upload.ID))

		dets, err := runInference(ctx, state, upload, timings)
		if err != nil {
			failSpan(span, err)
			lgr.Logger.Error("inference failed",
				slog.String("request_id", requestID),
				slog.String("upload_id", upload.ID), lgr.Err(err))
			sendErrorResponse(w, err.Error(), http.StatusInternalServerError)
			return
		}

		finishPredict(w, state, upload, dets, timings, startTotal)
	}
}

func runInference(ctx context.Context, state *AppState, upload *storage.StoredUpload, timings *models.ProcessingTimings) ([]models.Detection, error) {
	ctx, span := state.Tracer.Start(ctx, "inference")
	defer span.End()

	results, err := state.Detector.Predict(ctx, upload.Path, timings)
	if err != nil {
		failSpan(span, err)
		return nil, err
	}

	for _, res := range results {
		span.SetAttributes(
			attribute.Int("image.width", res.Width),
			attribute.Int("image.height", res.Height),
		)
	}

	dets, err := toDetections(results, state.Detector.Names())
	if err != nil {
		failSpan(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("detections.count", len(dets)))
	return dets, nil
}

func finishPredict(w http.ResponseWriter, state *AppState, upload *storage.StoredUpload, dets []models.Detection, timings *models.ProcessingTimings, startTotal time.Time) {
	if err := state.Audit.Record(timings.RequestID, upload.OriginalName, dets); err != nil {
		lgr.Logger.Warn("failed to record detections",
			slog.String("request_id", timings.RequestID), lgr.Err(err))
	}

	timings.Total = time.Since(startTotal)
	logTimings(timings, len(dets))

	sendJSON(w, models.PredictResponse{Detections: dets}, http.StatusOK)
}

// nextFilePart streams the body up to the first "file" part that carries a
// filename parameter and validates it. Parts without one are form fields.
// On rejection it returns the status and client message to answer with.
func nextFilePart(r *http.Request) (*multipart.Part, int, string) {
	mr, err := r.MultipartReader()
	if err != nil {
		// A body that is not multipart carries no file part.
		return nil, http.StatusBadRequest, MsgNoFile
	}

	for {
		part, err := mr.NextPart()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, http.StatusRequestEntityTooLarge, MsgFileTooLarge
			}
			return nil, http.StatusBadRequest, MsgNoFile
		}
		if part.FormName() != "file" {
			continue
		}

		_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		if err != nil {
			continue
		}
		filename, ok := params["filename"]
		if !ok {
			continue
		}
		if filename == "" {
			return nil, http.StatusBadRequest, MsgNoFileSelected
		}
		if !storage.ValidExtension(part.FileName()) {
			return nil, http.StatusBadRequest, MsgInvalidFormat
		}
		return part, 0, ""
	}
}

func saveUpload(ctx context.Context, state *AppState, filename string, src io.Reader, timings *models.ProcessingTimings) (*storage.StoredUpload, error) {
	_, span := state.Tracer.Start(ctx, "save_upload")
	defer span.End()

	saveStart := time.Now()
	defer func() { timings.Save = time.Since(saveStart) }()

	upload, err := state.Store.Save(filename, src)
	if err != nil {
		failSpan(span, err)
		return nil, err
	}
	return upload, nil
}

// toDetections flattens model results into labeled detections. Every class
// index must resolve through names.
func toDetections(results []models.Result, names detections.Names) ([]models.Detection, error) {
	dets := make([]models.Detection, 0)
	for _, result := range results {
		for _, box := range result.Boxes {
			label, err := names.Label(box.ClassID)
			if err != nil {
				return nil, err
			}
			dets = append(dets, models.Detection{
				DiseaseType: label,
				Coordinates: [4]float64{
					float64(box.XYXY[0]),
					float64(box.XYXY[1]),
					float64(box.XYXY[2]),
					float64(box.XYXY[3]),
				},
			})
		}
	}
	return dets, nil
}

func (s *AppState) handleIndex(w http.ResponseWriter, _ *http.Request) {
	data := struct {
		MaxUploadMB int64
		Labels      []string
	}{
		MaxUploadMB: s.MaxUploadBytes >> 20,
		Labels:      s.Detector.Names(),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.Templates.ExecuteTemplate(w, "index.html", data); err != nil {
		lgr.Logger.Error("failed to render landing page", lgr.Err(err))
	}
}

// handleUpload serves one retained upload. Directories are never listed.
func (s *AppState) handleUpload(w http.ResponseWriter, r *http.Request) {
	path := filepath.Join(s.Store.Dir(), filepath.Base(mux.Vars(r)["name"]))

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, path)
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
}

func (s *AppState) handleHealth(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	metrics := s.Detector.Metrics()
	response := map[string]interface{}{
		"pool_size":        metrics.PoolSize,
		"sessions_in_use":  metrics.InUse,
		"total_acquired":   metrics.TotalAcquired,
		"total_released":   metrics.TotalReleased,
		"acquire_failures": metrics.AcquireFailures,
		"wait_time_ms":     metrics.WaitTime.Milliseconds(),
		"recent_errors":    metrics.RecentErrors,
	}

	sendJSON(w, response, http.StatusOK)
}

func logTimings(t *models.ProcessingTimings, count int) {
	lgr.Logger.Debug("processed upload",
		slog.String("request_id", t.RequestID),
		slog.Int("detections", count),
		slog.Duration("save", t.Save),
		slog.Duration("queue", t.Queue),
		slog.Duration("decode", t.ImageDecode),
		slog.Duration("preprocess", t.Preprocess),
		slog.Duration("inference", t.Inference),
		slog.Duration("postprocess", t.Postprocess),
		slog.Duration("total", t.Total),
	)
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func sendJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		lgr.Logger.Warn("failed to write response", lgr.Err(err))
	}
}

func sendErrorResponse(w http.ResponseWriter, message string, status int) {
	sendJSON(w, models.ErrorResponse{Error: message}, status)
}
