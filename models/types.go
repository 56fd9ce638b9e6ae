package models

import "time"

// Detection is one labeled region returned to the client.
type Detection struct {
	DiseaseType string     `json:"disease_type"`
	Coordinates [4]float64 `json:"coordinates"`
}

type PredictResponse struct {
	Detections []Detection `json:"detections"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// Box is a single model-native detection in source image pixels.
type Box struct {
	XYXY       [4]float32
	ClassID    int
	Confidence float32
}

// Result holds the boxes the model found in one image.
type Result struct {
	Boxes  []Box
	Width  int
	Height int
}

type ProcessingTimings struct {
	RequestID   string
	Save        time.Duration
	Queue       time.Duration
	ImageDecode time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Total       time.Duration
}
